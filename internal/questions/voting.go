package questions

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReputationDelta is the author's reputation change for a voter moving from
// oldValue to newValue. An upvote is worth 10 and a downvote costs 2.
func ReputationDelta(oldValue, newValue int) int {
	return voteWeight(newValue) - voteWeight(oldValue)
}

func voteWeight(value int) int {
	switch value {
	case 1:
		return 10
	case -1:
		return -2
	default:
		return 0
	}
}

// Vote records userID's vote on a question. Repeating the current vote
// withdraws it. The question tally is recomputed from the ledger in the same
// transaction; the author's reputation is adjusted afterwards.
func (s *Service) Vote(ctx context.Context, id string, value int, userID string) (models.QuestionView, error) {
	if value < -1 || value > 1 {
		return models.QuestionView{}, apperr.Validation(messageInvalidVote)
	}
	question, err := s.loadQuestion(ctx, id, opVote)
	if err != nil {
		return models.QuestionView{}, err
	}
	if question.AuthorID == userID {
		return models.QuestionView{}, apperr.Forbidden(messageSelfVote)
	}

	var oldValue, newValue int
	var tally int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.QuestionVote
		lookupErr := tx.Where("user_id = ? AND question_id = ?", userID, id).Take(&existing).Error
		switch {
		case lookupErr == nil:
			oldValue = existing.Value
			if value == existing.Value || value == 0 {
				if err := tx.Delete(&existing).Error; err != nil {
					return apperr.Wrap(opVote, "ledger_delete_failed", err)
				}
				newValue = 0
			} else {
				err := tx.Model(&existing).
					Updates(map[string]interface{}{"value": value, "updated_at": s.clock().UTC()}).Error
				if err != nil {
					return apperr.Wrap(opVote, "ledger_update_failed", err)
				}
				newValue = value
			}
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			if value != 0 {
				now := s.clock().UTC()
				vote := models.QuestionVote{
					UserID:     userID,
					QuestionID: id,
					Value:      value,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := tx.Create(&vote).Error; err != nil {
					return apperr.Wrap(opVote, "ledger_insert_failed", err)
				}
			}
			newValue = value
		default:
			return apperr.Wrap(opVote, "ledger_select_failed", lookupErr)
		}

		err := tx.Model(&models.QuestionVote{}).
			Select("COALESCE(SUM(value), 0)").
			Where("question_id = ?", id).
			Scan(&tally).Error
		if err != nil {
			return apperr.Wrap(opVote, "tally_select_failed", err)
		}
		if err := tx.Model(&models.Question{}).Where("id = ?", id).UpdateColumn("votes", tally).Error; err != nil {
			return apperr.Wrap(opVote, "tally_update_failed", err)
		}
		return nil
	})
	if err != nil {
		s.logError(opVote, "transaction_failed", err,
			zap.String("question_id", id),
			zap.String("user_id", userID))
		return models.QuestionView{}, err
	}

	if delta := ReputationDelta(oldValue, newValue); delta != 0 {
		if err := s.reputation.IncrementReputation(ctx, question.AuthorID, delta); err != nil {
			s.flushCache(ctx, opVote)
			return models.QuestionView{}, err
		}
	}
	s.flushCache(ctx, opVote)

	question.Votes = int(tally)
	view := models.NewQuestionView(question)
	if newValue != 0 {
		recorded := newValue
		view.UserVote = &recorded
	}
	return view, nil
}
