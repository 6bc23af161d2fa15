package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingHasher   = errors.New("password hasher is required")
)

const (
	opServiceNew           = "users.service.new"
	opCreate               = "users.create"
	opAuthenticate         = "users.authenticate"
	opFind                 = "users.find"
	opUpdate               = "users.update"
	opRemove               = "users.remove"
	opIncrementReputation  = "users.increment_reputation"
	messageUserNotFound    = "User not found"
	messageEmailTaken      = "Email already exists"
	messageUsernameTaken   = "Username already taken"
	messageBadCredentials  = "Invalid email or password"
	messageNotProfileOwner = "You can only modify your own profile"
)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// ServiceConfig describes the dependencies of the user service.
type ServiceConfig struct {
	Database *gorm.DB
	Hasher   PasswordHasher
	// Cache is flushed when a profile change may appear in cached question payloads.
	Cache  cache.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service owns user accounts and reputation.
type Service struct {
	db     *gorm.DB
	hasher PasswordHasher
	cache  cache.Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and builds the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Wrap(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Hasher == nil {
		return nil, apperr.Wrap(opServiceNew, "missing_hasher", errMissingHasher)
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
		db:     cfg.Database,
		hasher: cfg.Hasher,
		cache:  cfg.Cache,
		clock:  clock,
		logger: logger,
	}, nil
}

// CreateInput is a validated registration request.
type CreateInput struct {
	Email    string
	Username string
	Password string
}

// UpdateInput holds optional profile changes; nil fields are left untouched.
type UpdateInput struct {
	Username *string
	Bio      *string
	Avatar   *string
}

// Create registers a new account.
func (s *Service) Create(ctx context.Context, input CreateInput) (models.User, error) {
	email := normalizeEmail(input.Email)
	username := strings.TrimSpace(input.Username)

	var existing models.User
	err := s.db.WithContext(ctx).
		Where("email = ? OR username = ?", email, username).
		Take(&existing).Error
	if err == nil {
		if existing.Email == email {
			return models.User{}, apperr.Conflict(messageEmailTaken)
		}
		return models.User{}, apperr.Conflict(messageUsernameTaken)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opCreate, "lookup_failed", err)
		return models.User{}, apperr.Wrap(opCreate, "lookup_failed", err)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		s.logError(opCreate, "hash_failed", err)
		return models.User{}, apperr.Wrap(opCreate, "hash_failed", err)
	}

	now := s.clock().UTC()
	user := models.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("username", username))
		return models.User{}, apperr.Wrap(opCreate, "insert_failed", err)
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// Authenticate checks credentials and returns the matching account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if apperr.Is(err, apperr.KindNotFound) {
		return models.User{}, apperr.Unauthorized(messageBadCredentials)
	}
	if err != nil {
		return models.User{}, err
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		s.logger.Debug("credential mismatch", zap.String("operation", opAuthenticate), zap.String("user_id", user.ID))
		return models.User{}, apperr.Unauthorized(messageBadCredentials)
	}
	return user, nil
}

// FindAll lists every account, oldest first.
func (s *Service) FindAll(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&users).Error; err != nil {
		s.logError(opFind, "list_failed", err)
		return nil, apperr.Wrap(opFind, "list_failed", err)
	}
	return users, nil
}

func (s *Service) FindOne(ctx context.Context, id string) (models.User, error) {
	return s.findBy(ctx, "id = ?", strings.TrimSpace(id))
}

func (s *Service) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return s.findBy(ctx, "email = ?", normalizeEmail(email))
}

func (s *Service) FindByUsername(ctx context.Context, username string) (models.User, error) {
	return s.findBy(ctx, "username = ?", strings.TrimSpace(username))
}

func (s *Service) findBy(ctx context.Context, condition string, value string) (models.User, error) {
	if value == "" {
		return models.User{}, apperr.NotFound(messageUserNotFound)
	}
	var user models.User
	err := s.db.WithContext(ctx).Where(condition, value).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, apperr.NotFound(messageUserNotFound)
	}
	if err != nil {
		s.logError(opFind, "select_failed", err)
		return models.User{}, apperr.Wrap(opFind, "select_failed", err)
	}
	return user, nil
}

// Update changes the requester's own profile.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput, requesterID string) (models.User, error) {
	user, err := s.FindOne(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	if user.ID != requesterID {
		return models.User{}, apperr.Forbidden(messageNotProfileOwner)
	}

	updates := map[string]interface{}{}
	if input.Username != nil {
		username := strings.TrimSpace(*input.Username)
		if username != "" && username != user.Username {
			var count int64
			if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
				s.logError(opUpdate, "lookup_failed", err, zap.String("user_id", id))
				return models.User{}, apperr.Wrap(opUpdate, "lookup_failed", err)
			}
			if count > 0 {
				return models.User{}, apperr.Conflict(messageUsernameTaken)
			}
			updates["username"] = username
		}
	}
	if input.Bio != nil {
		updates["bio"] = *input.Bio
	}
	if input.Avatar != nil {
		updates["avatar"] = *input.Avatar
	}
	if len(updates) == 0 {
		return user, nil
	}
	updates["updated_at"] = s.clock().UTC()

	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		s.logError(opUpdate, "update_failed", err, zap.String("user_id", id))
		return models.User{}, apperr.Wrap(opUpdate, "update_failed", err)
	}
	s.flushCache(ctx, opUpdate)
	return s.FindOne(ctx, id)
}

// Remove deletes the requester's own account together with everything it owns.
func (s *Service) Remove(ctx context.Context, id string, requesterID string) error {
	user, err := s.FindOne(ctx, id)
	if err != nil {
		return err
	}
	if user.ID != requesterID {
		return apperr.Forbidden(messageNotProfileOwner)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var votedQuestionIDs []string
		if err := tx.Model(&models.QuestionVote{}).Where("user_id = ?", user.ID).Pluck("question_id", &votedQuestionIDs).Error; err != nil {
			return err
		}
		ownedQuestions := tx.Model(&models.Question{}).Select("id").Where("author_id = ?", user.ID)
		if err := tx.Where("user_id = ? OR question_id IN (?)", user.ID, ownedQuestions).Delete(&models.QuestionVote{}).Error; err != nil {
			return err
		}
		// Tallies on surviving questions must keep matching the ledger.
		if len(votedQuestionIDs) > 0 {
			ledgerSum := tx.Model(&models.QuestionVote{}).
				Select("COALESCE(SUM(question_votes.value), 0)").
				Where("question_votes.question_id = questions.id")
			err := tx.Model(&models.Question{}).
				Where("id IN ?", votedQuestionIDs).
				UpdateColumn("votes", ledgerSum).Error
			if err != nil {
				return err
			}
		}
		if err := tx.Where("author_id = ? OR question_id IN (?)", user.ID, ownedQuestions).Delete(&models.Answer{}).Error; err != nil {
			return err
		}
		if err := tx.Where("author_id = ?", user.ID).Delete(&models.Question{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, "id = ?", user.ID).Error
	})
	if err != nil {
		s.logError(opRemove, "delete_failed", err, zap.String("user_id", id))
		return apperr.Wrap(opRemove, "delete_failed", err)
	}
	s.flushCache(ctx, opRemove)
	s.logger.Info("user removed", zap.String("user_id", id))
	return nil
}

// IncrementReputation adds delta to the user's reputation in one statement.
func (s *Service) IncrementReputation(ctx context.Context, userID string, delta int) error {
	if delta == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("reputation", gorm.Expr("reputation + ?", delta)).Error
	if err != nil {
		s.logError(opIncrementReputation, "update_failed", err,
			zap.String("user_id", userID),
			zap.Int("delta", delta))
		return apperr.Wrap(opIncrementReputation, "update_failed", err)
	}
	return nil
}

func (s *Service) flushCache(ctx context.Context, operation string) {
	if s.cache == nil {
		return
	}
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
	s.logger.Error("users service error", attrs...)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
