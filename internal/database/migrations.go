package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRecomputeQuestionVotes = "2026-10-01_recompute_question_votes"
	migrationClampAnswerVotes       = "2026-10-01_clamp_answer_votes"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRecomputeQuestionVotes, apply: recomputeQuestionVotes},
		{name: migrationClampAnswerVotes, apply: clampAnswerVotes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		}); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// recomputeQuestionVotes rewrites every question's tally from the vote ledger.
func recomputeQuestionVotes(db *gorm.DB) error {
	ledgerSum := db.Model(&models.QuestionVote{}).
		Select("COALESCE(SUM(question_votes.value), 0)").
		Where("question_votes.question_id = questions.id")
	return db.Model(&models.Question{}).
		Where("1 = 1").
		UpdateColumn("votes", ledgerSum).Error
}

func clampAnswerVotes(db *gorm.DB) error {
	return db.Model(&models.Answer{}).
		Where("votes < 0").
		UpdateColumn("votes", 0).Error
}
