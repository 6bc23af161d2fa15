package answers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/events"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	UpvoteReputation   = 10
	DownvoteReputation = -2
	AcceptedReputation = 15

	opServiceNew     = "answers.service.new"
	opCreate         = "answers.create"
	opFindByQuestion = "answers.find_by_question"
	opFindOne        = "answers.find_one"
	opUpdate         = "answers.update"
	opRemove         = "answers.remove"
	opVote           = "answers.vote"
	opMarkAsAccepted = "answers.mark_as_accepted"

	messageAnswerNotFound   = "Answer not found"
	messageQuestionNotFound = "Question not found"
	messageNotAuthorEdit    = "You can only update your own answers"
	messageNotAuthorDelete  = "You can only delete your own answers"
	messageSelfVote         = "You cannot vote on your own answer"
	messageNotQuestionOwner = "Only the question author can accept an answer"
	messageInvalidVote      = "Vote value must be -1, 0 or 1"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingCache      = errors.New("cache store is required")
	errMissingReputation = errors.New("reputation updater is required")
)

// ReputationUpdater applies reputation deltas to a user.
type ReputationUpdater interface {
	IncrementReputation(ctx context.Context, userID string, delta int) error
}

// ServiceConfig describes the dependencies of the answer service.
type ServiceConfig struct {
	Database *gorm.DB
	// Cache holds rendered question payloads, which embed answers.
	Cache      cache.Store
	Reputation ReputationUpdater
	Events     events.Publisher
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service implements answers, their vote counter and acceptance.
type Service struct {
	db         *gorm.DB
	cache      cache.Store
	reputation ReputationUpdater
	events     events.Publisher
	clock      func() time.Time
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Wrap(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Cache == nil {
		return nil, apperr.Wrap(opServiceNew, "missing_cache", errMissingCache)
	}
	if cfg.Reputation == nil {
		return nil, apperr.Wrap(opServiceNew, "missing_reputation", errMissingReputation)
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NopPublisher()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		cache:      cfg.Cache,
		reputation: cfg.Reputation,
		events:     publisher,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Create posts an answer to questionID and notifies listeners.
func (s *Service) Create(ctx context.Context, questionID string, content string, authorID string) (models.AnswerView, error) {
	var question models.Question
	err := s.db.WithContext(ctx).Where("id = ?", questionID).Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AnswerView{}, apperr.NotFound(messageQuestionNotFound)
	}
	if err != nil {
		s.logError(opCreate, "question_select_failed", err, zap.String("question_id", questionID))
		return models.AnswerView{}, apperr.Wrap(opCreate, "question_select_failed", err)
	}

	now := s.clock().UTC()
	answer := models.Answer{
		Content:    strings.TrimSpace(content),
		AuthorID:   authorID,
		QuestionID: questionID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&answer).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("question_id", questionID))
		return models.AnswerView{}, apperr.Wrap(opCreate, "insert_failed", err)
	}
	s.flushCache(ctx, opCreate)

	stored, err := s.loadAnswer(ctx, answer.ID, opCreate)
	if err != nil {
		return models.AnswerView{}, err
	}

	author := events.Author{ID: authorID}
	if stored.Author != nil {
		author.Username = stored.Author.Username
	}
	s.events.Publish(events.AnswerCreated{
		AnswerID:         stored.ID,
		QuestionID:       questionID,
		QuestionAuthorID: question.AuthorID,
		Content:          stored.Content,
		Votes:            stored.Votes,
		IsAccepted:       stored.IsAccepted,
		Author:           author,
		CreatedAt:        stored.CreatedAt,
	})
	return models.NewAnswerView(stored), nil
}

// FindByQuestion lists the answers of a question, best voted first.
func (s *Service) FindByQuestion(ctx context.Context, questionID string) ([]models.AnswerView, error) {
	var answers []models.Answer
	err := s.db.WithContext(ctx).
		Preload("Author").
		Where("question_id = ?", questionID).
		Order("votes DESC").
		Order("created_at DESC").
		Find(&answers).Error
	if err != nil {
		s.logError(opFindByQuestion, "select_failed", err, zap.String("question_id", questionID))
		return nil, apperr.Wrap(opFindByQuestion, "select_failed", err)
	}
	views := make([]models.AnswerView, 0, len(answers))
	for _, answer := range answers {
		views = append(views, models.NewAnswerView(answer))
	}
	return views, nil
}

func (s *Service) FindOne(ctx context.Context, id string) (models.AnswerView, error) {
	answer, err := s.loadAnswer(ctx, id, opFindOne)
	if err != nil {
		return models.AnswerView{}, err
	}
	return models.NewAnswerView(answer), nil
}

// Update replaces the content of an answer owned by userID.
func (s *Service) Update(ctx context.Context, id string, content string, userID string) (models.AnswerView, error) {
	answer, err := s.loadAnswer(ctx, id, opUpdate)
	if err != nil {
		return models.AnswerView{}, err
	}
	if answer.AuthorID != userID {
		return models.AnswerView{}, apperr.Forbidden(messageNotAuthorEdit)
	}
	err = s.db.WithContext(ctx).
		Model(&models.Answer{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":    strings.TrimSpace(content),
			"updated_at": s.clock().UTC(),
		}).Error
	if err != nil {
		s.logError(opUpdate, "update_failed", err, zap.String("answer_id", id))
		return models.AnswerView{}, apperr.Wrap(opUpdate, "update_failed", err)
	}
	s.flushCache(ctx, opUpdate)
	return s.FindOne(ctx, id)
}

// Remove deletes an answer owned by userID.
func (s *Service) Remove(ctx context.Context, id string, userID string) error {
	answer, err := s.loadAnswer(ctx, id, opRemove)
	if err != nil {
		return err
	}
	if answer.AuthorID != userID {
		return apperr.Forbidden(messageNotAuthorDelete)
	}
	if err := s.db.WithContext(ctx).Delete(&models.Answer{}, "id = ?", id).Error; err != nil {
		s.logError(opRemove, "delete_failed", err, zap.String("answer_id", id))
		return apperr.Wrap(opRemove, "delete_failed", err)
	}
	s.flushCache(ctx, opRemove)
	return nil
}

// Vote adds value to the answer's running counter, never below zero. There is
// no per-user ledger for answers, so repeated votes by one user accumulate.
func (s *Service) Vote(ctx context.Context, id string, value int, userID string) (models.AnswerView, error) {
	if value < -1 || value > 1 {
		return models.AnswerView{}, apperr.Validation(messageInvalidVote)
	}
	answer, err := s.loadAnswer(ctx, id, opVote)
	if err != nil {
		return models.AnswerView{}, err
	}
	if answer.AuthorID == userID {
		return models.AnswerView{}, apperr.Forbidden(messageSelfVote)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if value != 0 {
			err := tx.Model(&models.Answer{}).
				Where("id = ?", id).
				UpdateColumn("votes", gorm.Expr("CASE WHEN votes + ? < 0 THEN 0 ELSE votes + ? END", value, value)).Error
			if err != nil {
				return err
			}
		}
		return tx.Model(&models.Answer{}).Select("votes").Where("id = ?", id).Scan(&answer.Votes).Error
	})
	if err != nil {
		s.logError(opVote, "update_failed", err, zap.String("answer_id", id), zap.String("user_id", userID))
		return models.AnswerView{}, apperr.Wrap(opVote, "update_failed", err)
	}

	var delta int
	switch value {
	case 1:
		delta = UpvoteReputation
	case -1:
		delta = DownvoteReputation
	}
	if delta != 0 {
		if err := s.reputation.IncrementReputation(ctx, answer.AuthorID, delta); err != nil {
			s.flushCache(ctx, opVote)
			return models.AnswerView{}, err
		}
	}
	s.flushCache(ctx, opVote)

	s.events.Publish(events.AnswerVoted{
		AnswerID:   answer.ID,
		QuestionID: answer.QuestionID,
		Votes:      answer.Votes,
	})
	return models.NewAnswerView(answer), nil
}

// MarkAsAccepted makes id the single accepted answer of its question. Only the
// question author may accept. The +15 reputation is granted on every call, even
// when id was already the accepted answer.
func (s *Service) MarkAsAccepted(ctx context.Context, id string, userID string) (models.AnswerView, error) {
	var answer models.Answer
	err := s.db.WithContext(ctx).
		Preload("Author").
		Preload("Question").
		Preload("Question.Author").
		Where("id = ?", id).
		Take(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AnswerView{}, apperr.NotFound(messageAnswerNotFound)
	}
	if err != nil {
		s.logError(opMarkAsAccepted, "select_failed", err, zap.String("answer_id", id))
		return models.AnswerView{}, apperr.Wrap(opMarkAsAccepted, "select_failed", err)
	}
	if answer.Question == nil || answer.Question.Author == nil {
		return models.AnswerView{}, apperr.NotFound(messageQuestionNotFound)
	}
	if answer.Question.Author.ID != userID {
		return models.AnswerView{}, apperr.Forbidden(messageNotQuestionOwner)
	}
	now := s.clock().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Answer{}).
			Where("question_id = ? AND is_accepted = ?", answer.QuestionID, true).
			Updates(map[string]interface{}{"is_accepted": false, "updated_at": now}).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.Answer{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"is_accepted": true, "updated_at": now}).Error
	})
	if err != nil {
		s.logError(opMarkAsAccepted, "update_failed", err, zap.String("answer_id", id))
		return models.AnswerView{}, apperr.Wrap(opMarkAsAccepted, "update_failed", err)
	}
	answer.IsAccepted = true
	answer.UpdatedAt = now

	if err := s.reputation.IncrementReputation(ctx, answer.AuthorID, AcceptedReputation); err != nil {
		s.flushCache(ctx, opMarkAsAccepted)
		return models.AnswerView{}, err
	}
	s.flushCache(ctx, opMarkAsAccepted)

	s.events.Publish(events.AnswerAccepted{
		AnswerID:   answer.ID,
		QuestionID: answer.QuestionID,
		AuthorID:   answer.AuthorID,
	})
	return models.NewAnswerView(answer), nil
}

func (s *Service) loadAnswer(ctx context.Context, id string, operation string) (models.Answer, error) {
	var answer models.Answer
	err := s.db.WithContext(ctx).Preload("Author").Where("id = ?", id).Take(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Answer{}, apperr.NotFound(messageAnswerNotFound)
	}
	if err != nil {
		s.logError(operation, "select_failed", err, zap.String("answer_id", id))
		return models.Answer{}, apperr.Wrap(operation, "select_failed", err)
	}
	return answer, nil
}

func (s *Service) flushCache(ctx context.Context, operation string) {
	if err := s.cache.Clear(ctx); err != nil {
		s.logError(operation, "cache_clear_failed", err)
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("answers service error", attrs...)
}
