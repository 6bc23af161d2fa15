package questions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sort selects the ordering of a question listing.
type Sort string

const (
	SortNewest           Sort = "newest"
	SortPopular          Sort = "popular"
	SortUnanswered       Sort = "unanswered"
	SortRecentlyAnswered Sort = "recentlyAnswered"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ParseSort maps a query value onto a Sort, defaulting to newest.
func ParseSort(value string) (Sort, bool) {
	switch Sort(strings.TrimSpace(value)) {
	case "", SortNewest:
		return SortNewest, true
	case SortPopular:
		return SortPopular, true
	case SortUnanswered:
		return SortUnanswered, true
	case SortRecentlyAnswered:
		return SortRecentlyAnswered, true
	default:
		return SortNewest, false
	}
}

// ListQuery parameterizes FindAll.
type ListQuery struct {
	Page   int
	Limit  int
	Search string
	Sort   Sort
}

// UserListQuery parameterizes FindByUser.
type UserListQuery struct {
	Page           int
	Limit          int
	IncludeAnswers bool
}

// Page is one offset-paginated slice of questions.
type Page struct {
	Items      []models.QuestionView `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	Limit      int                   `json:"limit"`
	TotalPages int                   `json:"totalPages"`
}

func listCacheKey(query ListQuery, userID string) string {
	return fmt.Sprintf("questions_list_p%d_l%d_s%s_%s_u%s", query.Page, query.Limit, query.Search, query.Sort, userID)
}

func userListCacheKey(userID string, query UserListQuery) string {
	return fmt.Sprintf("questions_user_%s_p%d_l%d_ia%t", userID, query.Page, query.Limit, query.IncludeAnswers)
}

func detailCacheKey(id, userID string) string {
	return fmt.Sprintf("question_%s_u%s", id, userID)
}

const latestAnswerSubquery = "(SELECT MAX(answers.created_at) FROM answers WHERE answers.question_id = questions.id)"

// FindAll lists questions. Identical parameters within the cache TTL are
// served from the cache without touching storage.
func (s *Service) FindAll(ctx context.Context, query ListQuery, userID string) (Page, error) {
	query = normalizeListQuery(query)
	key := listCacheKey(query, userID)

	generation := s.cache.Generation()
	var cached Page
	if s.readCache(ctx, key, &cached, opFindAll) {
		return cached, nil
	}

	base := s.db.WithContext(ctx).Model(&models.Question{})
	if query.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(query.Search)) + "%"
		base = base.Where(
			`LOWER(questions.title) LIKE ? ESCAPE '\' OR LOWER(questions.content) LIKE ? ESCAPE '\'`,
			pattern, pattern,
		)
	}
	if query.Sort == SortUnanswered {
		base = base.Where("NOT EXISTS (SELECT 1 FROM answers WHERE answers.question_id = questions.id)")
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		s.logError(opFindAll, "count_failed", err)
		return Page{}, apperr.Wrap(opFindAll, "count_failed", err)
	}

	ordered := base.Preload("Author")
	switch query.Sort {
	case SortPopular:
		ordered = ordered.Order("questions.views DESC").Order("questions.created_at DESC")
	case SortRecentlyAnswered:
		ordered = ordered.
			Order(latestAnswerSubquery + " DESC NULLS LAST").
			Order("questions.created_at DESC")
	default:
		ordered = ordered.Order("questions.created_at DESC")
	}

	var questions []models.Question
	err := ordered.
		Offset((query.Page - 1) * query.Limit).
		Limit(query.Limit).
		Find(&questions).Error
	if err != nil {
		s.logError(opFindAll, "select_failed", err)
		return Page{}, apperr.Wrap(opFindAll, "select_failed", err)
	}

	items, err := s.decorate(ctx, questions, userID, opFindAll)
	if err != nil {
		return Page{}, err
	}
	page := newPage(items, total, query.Page, query.Limit)
	s.writeCache(ctx, key, page, generation, opFindAll)
	return page, nil
}

// FindByUser lists the questions authored by userID, newest first.
func (s *Service) FindByUser(ctx context.Context, userID string, query UserListQuery) (Page, error) {
	query.Page, query.Limit = normalizePaging(query.Page, query.Limit)
	key := userListCacheKey(userID, query)

	generation := s.cache.Generation()
	var cached Page
	if s.readCache(ctx, key, &cached, opFindByUser) {
		return cached, nil
	}

	base := s.db.WithContext(ctx).
		Model(&models.Question{}).
		Where("questions.author_id = ?", userID).
		Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		s.logError(opFindByUser, "count_failed", err, zap.String("user_id", userID))
		return Page{}, apperr.Wrap(opFindByUser, "count_failed", err)
	}

	listing := base.Preload("Author")
	if query.IncludeAnswers {
		listing = listing.
			Preload("Answers", func(db *gorm.DB) *gorm.DB {
				return db.Order("answers.votes DESC").Order("answers.created_at DESC")
			}).
			Preload("Answers.Author")
	}

	var questions []models.Question
	err := listing.
		Order("questions.created_at DESC").
		Offset((query.Page - 1) * query.Limit).
		Limit(query.Limit).
		Find(&questions).Error
	if err != nil {
		s.logError(opFindByUser, "select_failed", err, zap.String("user_id", userID))
		return Page{}, apperr.Wrap(opFindByUser, "select_failed", err)
	}

	var items []models.QuestionView
	if query.IncludeAnswers {
		items = make([]models.QuestionView, 0, len(questions))
		for _, question := range questions {
			items = append(items, models.NewQuestionView(question))
		}
	} else {
		items, err = s.decorate(ctx, questions, "", opFindByUser)
		if err != nil {
			return Page{}, err
		}
	}

	page := newPage(items, total, query.Page, query.Limit)
	s.writeCache(ctx, key, page, generation, opFindByUser)
	return page, nil
}

// decorate attaches answer counts and the caller's votes with one query each.
func (s *Service) decorate(ctx context.Context, questions []models.Question, userID string, operation string) ([]models.QuestionView, error) {
	items := make([]models.QuestionView, 0, len(questions))
	if len(questions) == 0 {
		return items, nil
	}
	ids := make([]string, 0, len(questions))
	for _, question := range questions {
		ids = append(ids, question.ID)
	}

	counts, err := s.answerCounts(ctx, ids)
	if err != nil {
		s.logError(operation, "answer_count_failed", err)
		return nil, apperr.Wrap(operation, "answer_count_failed", err)
	}
	var votes map[string]int
	if userID != "" {
		votes, err = s.userVotes(ctx, userID, ids)
		if err != nil {
			s.logError(operation, "user_vote_select_failed", err, zap.String("user_id", userID))
			return nil, apperr.Wrap(operation, "user_vote_select_failed", err)
		}
	}

	for _, question := range questions {
		view := models.NewQuestionView(question)
		view.AnswerCount = counts[question.ID]
		if userID != "" {
			view.UserVote = voteValue(votes, question.ID)
		}
		items = append(items, view)
	}
	return items, nil
}

type answerCountRow struct {
	QuestionID string
	Total      int64
}

func (s *Service) answerCounts(ctx context.Context, questionIDs []string) (map[string]int64, error) {
	var rows []answerCountRow
	err := s.db.WithContext(ctx).
		Model(&models.Answer{}).
		Select("question_id, COUNT(*) AS total").
		Where("question_id IN ?", questionIDs).
		Group("question_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.QuestionID] = row.Total
	}
	return counts, nil
}

func (s *Service) userVotes(ctx context.Context, userID string, questionIDs []string) (map[string]int, error) {
	var votes []models.QuestionVote
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND question_id IN ?", userID, questionIDs).
		Find(&votes).Error
	if err != nil {
		return nil, err
	}
	values := make(map[string]int, len(votes))
	for _, vote := range votes {
		values[vote.QuestionID] = vote.Value
	}
	return values, nil
}

func voteValue(votes map[string]int, questionID string) *int {
	value, ok := votes[questionID]
	if !ok || value == 0 {
		return nil
	}
	return &value
}

func (s *Service) readCache(ctx context.Context, key string, target interface{}, operation string) bool {
	payload, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logError(operation, "cache_get_failed", err, zap.String("key", key))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, target); err != nil {
		s.logError(operation, "cache_decode_failed", err, zap.String("key", key))
		return false
	}
	return true
}

// writeCache stores value unless the cache was flushed after generation was
// read, so a slow read never re-caches data a concurrent write replaced.
func (s *Service) writeCache(ctx context.Context, key string, value interface{}, generation uint64, operation string) {
	payload, err := json.Marshal(value)
	if err != nil {
		s.logError(operation, "cache_encode_failed", err, zap.String("key", key))
		return
	}
	written, err := s.cache.SetIfGeneration(ctx, generation, key, payload, s.cacheTTL)
	if err != nil {
		s.logError(operation, "cache_set_failed", err, zap.String("key", key))
		return
	}
	if !written {
		s.logger.Debug("stale payload not cached",
			zap.String("operation", operation),
			zap.String("key", key))
	}
}

// flushCache drops every cached listing and detail payload.
func (s *Service) flushCache(ctx context.Context, operation string) {
	if err := s.cache.Clear(ctx); err != nil {
		s.logError(operation, "cache_clear_failed", err)
	}
}

func newPage(items []models.QuestionView, total int64, page, limit int) Page {
	return Page{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	}
}

func normalizeListQuery(query ListQuery) ListQuery {
	query.Page, query.Limit = normalizePaging(query.Page, query.Limit)
	query.Search = strings.TrimSpace(query.Search)
	if sort, ok := ParseSort(string(query.Sort)); ok {
		query.Sort = sort
	} else {
		query.Sort = SortNewest
	}
	return query
}

func normalizePaging(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
