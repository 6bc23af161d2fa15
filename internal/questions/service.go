package questions

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
	MaxTags         = 5
	DefaultCacheTTL = 60 * time.Second

	opServiceNew = "questions.service.new"
	opCreate     = "questions.create"
	opFindAll    = "questions.find_all"
	opFindByUser = "questions.find_by_user"
	opFindOne    = "questions.find_one"
	opUpdate     = "questions.update"
	opRemove     = "questions.remove"
	opVote       = "questions.vote"

	messageQuestionNotFound = "Question not found"
	messageNotAuthorEdit    = "You can only edit your own questions"
	messageNotAuthorDelete  = "You can only delete your own questions"
	messageSelfVote         = "You cannot vote on your own question"
	messageTooManyTags      = "A question can have at most 5 tags"
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

// ServiceConfig describes the dependencies of the question service.
type ServiceConfig struct {
	Database   *gorm.DB
	Cache      cache.Store
	CacheTTL   time.Duration
	Reputation ReputationUpdater
	Events     events.Publisher
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service implements questions, their vote ledger and the cached listings.
type Service struct {
	db         *gorm.DB
	cache      *cache.Generational
	cacheTTL   time.Duration
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
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	store, ok := cfg.Cache.(*cache.Generational)
	if !ok {
		store = cache.NewGenerational(cfg.Cache)
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
		cache:      store,
		cacheTTL:   ttl,
		reputation: cfg.Reputation,
		events:     publisher,
		clock:      clock,
		logger:     logger,
	}, nil
}

// CreateInput is a validated new question.
type CreateInput struct {
	Title   string
	Content string
	Tags    []string
}

// UpdateInput holds optional changes; nil fields are left untouched.
type UpdateInput struct {
	Title   *string
	Content *string
	Tags    *[]string
}

// Create stores a question for authorID and announces it.
func (s *Service) Create(ctx context.Context, input CreateInput, authorID string) (models.QuestionView, error) {
	tags, err := normalizeTags(input.Tags)
	if err != nil {
		return models.QuestionView{}, err
	}
	now := s.clock().UTC()
	question := models.Question{
		Title:     strings.TrimSpace(input.Title),
		Content:   strings.TrimSpace(input.Content),
		Tags:      tags,
		AuthorID:  authorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&question).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("author_id", authorID))
		return models.QuestionView{}, apperr.Wrap(opCreate, "insert_failed", err)
	}

	stored, err := s.loadQuestion(ctx, question.ID, opCreate)
	if err != nil {
		return models.QuestionView{}, err
	}
	s.flushCache(ctx, opCreate)

	author := events.Author{ID: authorID}
	if stored.Author != nil {
		author.Username = stored.Author.Username
	}
	s.events.Publish(events.QuestionCreated{
		QuestionID: stored.ID,
		Title:      stored.Title,
		Author:     author,
		CreatedAt:  stored.CreatedAt,
	})

	view := models.NewQuestionView(stored)
	return view, nil
}

// FindOne returns the question with its answers and counts a view. The view
// counter moves in storage on every call, cached or not.
func (s *Service) FindOne(ctx context.Context, id string, userID string) (models.QuestionView, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Question{}).
		Where("id = ?", id).
		UpdateColumn("views", gorm.Expr("views + ?", 1))
	if result.Error != nil {
		s.logError(opFindOne, "views_update_failed", result.Error, zap.String("question_id", id))
		return models.QuestionView{}, apperr.Wrap(opFindOne, "views_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.QuestionView{}, apperr.NotFound(messageQuestionNotFound)
	}

	key := detailCacheKey(id, userID)
	generation := s.cache.Generation()
	var cached models.QuestionView
	if s.readCache(ctx, key, &cached, opFindOne) {
		var views int
		err := s.db.WithContext(ctx).
			Model(&models.Question{}).
			Select("views").
			Where("id = ?", id).
			Scan(&views).Error
		if err != nil {
			s.logError(opFindOne, "views_select_failed", err, zap.String("question_id", id))
			return models.QuestionView{}, apperr.Wrap(opFindOne, "views_select_failed", err)
		}
		cached.Views = views
		return cached, nil
	}

	var question models.Question
	err := s.db.WithContext(ctx).
		Preload("Author").
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("answers.votes DESC").Order("answers.created_at DESC")
		}).
		Preload("Answers.Author").
		Where("id = ?", id).
		Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.QuestionView{}, apperr.NotFound(messageQuestionNotFound)
	}
	if err != nil {
		s.logError(opFindOne, "select_failed", err, zap.String("question_id", id))
		return models.QuestionView{}, apperr.Wrap(opFindOne, "select_failed", err)
	}

	view := models.NewQuestionView(question)
	if userID != "" {
		votes, err := s.userVotes(ctx, userID, []string{id})
		if err != nil {
			s.logError(opFindOne, "user_vote_select_failed", err, zap.String("question_id", id))
			return models.QuestionView{}, apperr.Wrap(opFindOne, "user_vote_select_failed", err)
		}
		view.UserVote = voteValue(votes, id)
	}

	s.writeCache(ctx, key, view, generation, opFindOne)
	return view, nil
}

// Update edits a question owned by userID.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput, userID string) (models.QuestionView, error) {
	question, err := s.loadQuestion(ctx, id, opUpdate)
	if err != nil {
		return models.QuestionView{}, err
	}
	if question.AuthorID != userID {
		return models.QuestionView{}, apperr.Forbidden(messageNotAuthorEdit)
	}

	updates := map[string]interface{}{}
	if input.Title != nil {
		updates["title"] = strings.TrimSpace(*input.Title)
	}
	if input.Content != nil {
		updates["content"] = strings.TrimSpace(*input.Content)
	}
	if input.Tags != nil {
		tags, err := normalizeTags(*input.Tags)
		if err != nil {
			return models.QuestionView{}, err
		}
		question.Tags = tags
	}
	if len(updates) == 0 && input.Tags == nil {
		return models.NewQuestionView(question), nil
	}
	updates["updated_at"] = s.clock().UTC()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Question{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if input.Tags != nil {
			// Select routes the slice through the json serializer.
			return tx.Model(&models.Question{ID: id}).Select("tags").Updates(&models.Question{Tags: question.Tags}).Error
		}
		return nil
	})
	if err != nil {
		s.logError(opUpdate, "update_failed", err, zap.String("question_id", id))
		return models.QuestionView{}, apperr.Wrap(opUpdate, "update_failed", err)
	}
	s.flushCache(ctx, opUpdate)

	stored, err := s.loadQuestion(ctx, id, opUpdate)
	if err != nil {
		return models.QuestionView{}, err
	}
	return models.NewQuestionView(stored), nil
}

// Remove deletes a question owned by userID with its answers and votes.
func (s *Service) Remove(ctx context.Context, id string, userID string) error {
	question, err := s.loadQuestion(ctx, id, opRemove)
	if err != nil {
		return err
	}
	if question.AuthorID != userID {
		return apperr.Forbidden(messageNotAuthorDelete)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("question_id = ?", id).Delete(&models.QuestionVote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("question_id = ?", id).Delete(&models.Answer{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Question{}, "id = ?", id).Error
	})
	if err != nil {
		s.logError(opRemove, "delete_failed", err, zap.String("question_id", id))
		return apperr.Wrap(opRemove, "delete_failed", err)
	}
	s.flushCache(ctx, opRemove)
	return nil
}

func (s *Service) loadQuestion(ctx context.Context, id string, operation string) (models.Question, error) {
	var question models.Question
	err := s.db.WithContext(ctx).Preload("Author").Where("id = ?", id).Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Question{}, apperr.NotFound(messageQuestionNotFound)
	}
	if err != nil {
		s.logError(operation, "select_failed", err, zap.String("question_id", id))
		return models.Question{}, apperr.Wrap(operation, "select_failed", err)
	}
	return question, nil
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
	s.logger.Error("questions service error", attrs...)
}

// normalizeTags trims, drops blanks and duplicates while keeping order.
func normalizeTags(tags []string) ([]string, error) {
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	if len(normalized) > MaxTags {
		return nil, apperr.Validation(messageTooManyTags)
	}
	return normalized, nil
}
