package questions

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/events"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/models"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/testutil"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	service *Service
	db      *gorm.DB
	store   *cache.MemoryStore
	bus     *events.Bus
	clock   *testutil.Clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.OpenDatabase(t)
	clock := testutil.NewClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	store := cache.NewMemoryStore(clock.Now)
	bus := events.NewBus(16, nil)
	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Hasher:   auth.NewPasswordHasher(4),
		Clock:    clock.Now,
	})
	require.NoError(t, err)
	service, err := NewService(ServiceConfig{
		Database:   db,
		Cache:      store,
		Reputation: userService,
		Events:     bus,
		Clock:      clock.Now,
	})
	require.NoError(t, err)
	return fixture{service: service, db: db, store: store, bus: bus, clock: clock}
}

func (f fixture) createQuestion(t *testing.T, authorID, title string) models.QuestionView {
	t.Helper()
	f.clock.Advance(time.Minute)
	view, err := f.service.Create(context.Background(), CreateInput{
		Title:   title,
		Content: "A sufficiently long body for the question under test.",
		Tags:    []string{"go", "gorm"},
	}, authorID)
	require.NoError(t, err)
	return view
}

func (f fixture) reputation(t *testing.T, userID string) int {
	t.Helper()
	var user models.User
	require.NoError(t, f.db.Take(&user, "id = ?", userID).Error)
	return user.Reputation
}

func (f fixture) storedVotes(t *testing.T, questionID string) (int, int64) {
	t.Helper()
	var question models.Question
	require.NoError(t, f.db.Take(&question, "id = ?", questionID).Error)
	var sum int64
	require.NoError(t, f.db.Model(&models.QuestionVote{}).
		Select("COALESCE(SUM(value), 0)").
		Where("question_id = ?", questionID).
		Scan(&sum).Error)
	return question.Votes, sum
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	db := testutil.OpenDatabase(t)
	_, err := NewService(ServiceConfig{Cache: cache.NewMemoryStore(nil)})
	require.Error(t, err)
	_, err = NewService(ServiceConfig{Database: db})
	require.Error(t, err)
	_, err = NewService(ServiceConfig{Database: db, Cache: cache.NewMemoryStore(nil)})
	require.Error(t, err)
}

func TestReputationDeltaTable(t *testing.T) {
	testCases := []struct {
		oldValue, newValue, expected int
	}{
		{0, 1, 10},
		{0, -1, -2},
		{1, 0, -10},
		{-1, 0, 2},
		{1, -1, -12},
		{-1, 1, 12},
		{0, 0, 0},
		{1, 1, 0},
		{-1, -1, 0},
	}
	for _, testCase := range testCases {
		if got := ReputationDelta(testCase.oldValue, testCase.newValue); got != testCase.expected {
			t.Fatalf("ReputationDelta(%d, %d) = %d, want %d", testCase.oldValue, testCase.newValue, got, testCase.expected)
		}
	}
}

func TestVoteToggleRestoresBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	voter := testutil.CreateUser(t, f.db, "voter")
	question := f.createQuestion(t, author.ID, "How do I toggle a vote?")

	view, err := f.service.Vote(ctx, question.ID, 1, voter.ID)
	require.NoError(t, err)
	require.Equal(t, 1, view.Votes)
	require.NotNil(t, view.UserVote)
	require.Equal(t, 1, *view.UserVote)
	require.Equal(t, 10, f.reputation(t, author.ID))

	view, err = f.service.Vote(ctx, question.ID, 1, voter.ID)
	require.NoError(t, err)
	require.Equal(t, 0, view.Votes)
	require.Nil(t, view.UserVote)
	require.Equal(t, 0, f.reputation(t, author.ID))

	var ledgerRows int64
	require.NoError(t, f.db.Model(&models.QuestionVote{}).Count(&ledgerRows).Error)
	require.Zero(t, ledgerRows)
}

func TestVoteSwitchAndWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	voter := testutil.CreateUser(t, f.db, "voter")
	question := f.createQuestion(t, author.ID, "Switching vote direction")

	steps := []struct {
		value          int
		expectedVotes  int
		expectedRepSum int
	}{
		{value: -1, expectedVotes: -1, expectedRepSum: -2},
		{value: 1, expectedVotes: 1, expectedRepSum: 10},
		{value: -1, expectedVotes: -1, expectedRepSum: -2},
		{value: 0, expectedVotes: 0, expectedRepSum: 0},
		{value: 0, expectedVotes: 0, expectedRepSum: 0},
	}
	for index, step := range steps {
		view, err := f.service.Vote(ctx, question.ID, step.value, voter.ID)
		require.NoError(t, err, "step %d", index)
		require.Equal(t, step.expectedVotes, view.Votes, "step %d", index)
		require.Equal(t, step.expectedRepSum, f.reputation(t, author.ID), "step %d", index)
	}
}

func TestVoteTallyAlwaysMatchesLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	voters := []models.User{
		testutil.CreateUser(t, f.db, "v1"),
		testutil.CreateUser(t, f.db, "v2"),
		testutil.CreateUser(t, f.db, "v3"),
	}
	question := f.createQuestion(t, author.ID, "Ledger tally question")

	sequence := []struct {
		voter int
		value int
	}{
		{0, 1}, {1, 1}, {2, -1}, {0, -1}, {1, 1}, {2, 0}, {2, 1}, {0, -1}, {1, -1}, {0, 1},
	}
	for index, step := range sequence {
		_, err := f.service.Vote(ctx, question.ID, step.value, voters[step.voter].ID)
		require.NoError(t, err, "step %d", index)
		stored, sum := f.storedVotes(t, question.ID)
		require.Equal(t, int(sum), stored, "tally diverged from ledger at step %d", index)
	}

	var perUser []struct {
		UserID string
		Total  int64
	}
	require.NoError(t, f.db.Model(&models.QuestionVote{}).
		Select("user_id, COUNT(*) AS total").
		Group("user_id").
		Scan(&perUser).Error)
	for _, row := range perUser {
		require.Equal(t, int64(1), row.Total, "user %s holds more than one vote row", row.UserID)
	}
}

func TestVoteRejectsSelfVoteWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	question := f.createQuestion(t, author.ID, "Can I vote for myself?")

	_, err := f.service.Vote(ctx, question.ID, 1, author.ID)
	require.True(t, apperr.Is(err, apperr.KindForbidden), "expected forbidden, got %v", err)

	votes, sum := f.storedVotes(t, question.ID)
	require.Zero(t, votes)
	require.Zero(t, sum)
	require.Zero(t, f.reputation(t, author.ID))
}

func TestVoteValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	voter := testutil.CreateUser(t, f.db, "voter")

	_, err := f.service.Vote(ctx, "missing", 1, voter.ID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.service.Vote(ctx, "missing", 2, voter.ID)
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestFindAllServesRepeatCallsFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	f.createQuestion(t, author.ID, "First cached question")
	f.createQuestion(t, author.ID, "Second cached question")

	counter := testutil.CountQueries(t, f.db)
	query := ListQuery{Page: 1, Limit: 10, Sort: SortNewest}

	first, err := f.service.FindAll(ctx, query, author.ID)
	require.NoError(t, err)
	require.Positive(t, counter.Count())

	counter.Reset()
	second, err := f.service.FindAll(ctx, query, author.ID)
	require.NoError(t, err)
	require.Zero(t, counter.Count(), "cache hit must not query storage")

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, string(firstJSON), string(secondJSON))

	_, err = f.service.FindAll(ctx, query, "")
	require.NoError(t, err)
	require.Positive(t, counter.Count(), "a different caller is a different cache key")
}

func TestFindAllSkipsCachingPageLoadedDuringFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	f.createQuestion(t, author.ID, "Question read during a flush")

	var flushed atomic.Bool
	flushDuringRead := func(*gorm.DB) {
		if flushed.CompareAndSwap(false, true) {
			require.NoError(t, f.service.cache.Clear(ctx))
		}
	}
	require.NoError(t, f.db.Callback().Query().After("gorm:query").Register("test:flush_during_read", flushDuringRead))

	query := ListQuery{Page: 1, Limit: 10, Sort: SortNewest}
	page, err := f.service.FindAll(ctx, query, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.True(t, flushed.Load())
	require.Zero(t, f.store.Len(), "a page read across a flush must not be cached")

	counter := testutil.CountQueries(t, f.db)
	_, err = f.service.FindAll(ctx, query, "")
	require.NoError(t, err)
	require.Positive(t, counter.Count())
	require.Equal(t, 1, f.store.Len())
}

func TestFindAllCacheExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	f.createQuestion(t, author.ID, "Expiring cached question")

	_, err := f.service.FindAll(ctx, ListQuery{}, "")
	require.NoError(t, err)

	counter := testutil.CountQueries(t, f.db)
	f.clock.Advance(DefaultCacheTTL)
	_, err = f.service.FindAll(ctx, ListQuery{}, "")
	require.NoError(t, err)
	require.Positive(t, counter.Count())
}

func TestQuestionWritesInvalidateCachedListing(t *testing.T) {
	writes := map[string]func(f fixture, question models.QuestionView, author, voter models.User) error{
		"create": func(f fixture, _ models.QuestionView, author, _ models.User) error {
			_, err := f.service.Create(context.Background(), CreateInput{
				Title:   "Another question title",
				Content: "Another sufficiently long question body.",
			}, author.ID)
			return err
		},
		"update": func(f fixture, question models.QuestionView, author, _ models.User) error {
			title := "An edited question title"
			_, err := f.service.Update(context.Background(), question.ID, UpdateInput{Title: &title}, author.ID)
			return err
		},
		"remove": func(f fixture, question models.QuestionView, author, _ models.User) error {
			return f.service.Remove(context.Background(), question.ID, author.ID)
		},
		"vote": func(f fixture, question models.QuestionView, _, voter models.User) error {
			_, err := f.service.Vote(context.Background(), question.ID, 1, voter.ID)
			return err
		},
	}

	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			author := testutil.CreateUser(t, f.db, "author")
			voter := testutil.CreateUser(t, f.db, "voter")
			question := f.createQuestion(t, author.ID, "Question before the write")

			before, err := f.service.FindAll(ctx, ListQuery{}, "")
			require.NoError(t, err)
			require.NotZero(t, f.store.Len())

			require.NoError(t, write(f, question, author, voter))
			require.Zero(t, f.store.Len(), "write must flush the whole cache")

			counter := testutil.CountQueries(t, f.db)
			after, err := f.service.FindAll(ctx, ListQuery{}, "")
			require.NoError(t, err)
			require.Positive(t, counter.Count(), "listing after a write must miss the cache")
			require.NotEqual(t, before, after)
		})
	}
}

func TestFindAllSortOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	answerer := testutil.CreateUser(t, f.db, "answerer")

	oldest := f.createQuestion(t, author.ID, "Oldest question in the list")
	middle := f.createQuestion(t, author.ID, "Middle question in the list")
	newest := f.createQuestion(t, author.ID, "Newest question in the list")

	require.NoError(t, f.db.Model(&models.Question{}).Where("id = ?", middle.ID).UpdateColumn("views", 50).Error)
	require.NoError(t, f.db.Model(&models.Question{}).Where("id = ?", oldest.ID).UpdateColumn("views", 5).Error)

	answerAt := func(questionID string, at time.Time) {
		answer := models.Answer{
			Content:    "An answer long enough to satisfy validation rules.",
			AuthorID:   answerer.ID,
			QuestionID: questionID,
			CreatedAt:  at,
			UpdatedAt:  at,
		}
		require.NoError(t, f.db.Create(&answer).Error)
	}
	base := f.clock.Now()
	answerAt(oldest.ID, base.Add(time.Hour))
	answerAt(middle.ID, base.Add(30*time.Minute))
	answerAt(middle.ID, base.Add(10*time.Minute))

	ids := func(page Page) []string {
		result := make([]string, 0, len(page.Items))
		for _, item := range page.Items {
			result = append(result, item.ID)
		}
		return result
	}

	testCases := []struct {
		sort     Sort
		expected []string
	}{
		{SortNewest, []string{newest.ID, middle.ID, oldest.ID}},
		{SortPopular, []string{middle.ID, oldest.ID, newest.ID}},
		{SortUnanswered, []string{newest.ID}},
		{SortRecentlyAnswered, []string{oldest.ID, middle.ID, newest.ID}},
	}
	for _, testCase := range testCases {
		page, err := f.service.FindAll(ctx, ListQuery{Sort: testCase.sort}, "")
		require.NoError(t, err, "sort %s", testCase.sort)
		require.Equal(t, testCase.expected, ids(page), "sort %s", testCase.sort)
		require.Equal(t, int64(len(testCase.expected)), page.Total, "sort %s", testCase.sort)
	}

	page, err := f.service.FindAll(ctx, ListQuery{Sort: SortNewest}, "")
	require.NoError(t, err)
	counts := map[string]int64{}
	for _, item := range page.Items {
		counts[item.ID] = item.AnswerCount
	}
	require.Equal(t, map[string]int64{newest.ID: 0, middle.ID: 2, oldest.ID: 1}, counts)
}

func TestFindAllPaginatesAndSearches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	for _, title := range []string{"Goroutine leaks explained", "Channels and GOROUTINE pools", "Postgres indexes", "100% coverage_tricks"} {
		f.createQuestion(t, author.ID, title)
	}

	page, err := f.service.FindAll(ctx, ListQuery{Page: 2, Limit: 3}, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, int64(4), page.Total)
	require.Equal(t, 2, page.TotalPages)

	page, err = f.service.FindAll(ctx, ListQuery{Search: "goroutine"}, "")
	require.NoError(t, err)
	require.Equal(t, int64(2), page.Total)

	page, err = f.service.FindAll(ctx, ListQuery{Search: "0% c"}, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)

	page, err = f.service.FindAll(ctx, ListQuery{Search: "_"}, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total, "underscore must match literally")
}

func TestFindAllReportsCallerVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	voter := testutil.CreateUser(t, f.db, "voter")
	up := f.createQuestion(t, author.ID, "Question the voter likes")
	down := f.createQuestion(t, author.ID, "Question the voter dislikes")
	f.createQuestion(t, author.ID, "Question the voter ignores")

	_, err := f.service.Vote(ctx, up.ID, 1, voter.ID)
	require.NoError(t, err)
	_, err = f.service.Vote(ctx, down.ID, -1, voter.ID)
	require.NoError(t, err)

	page, err := f.service.FindAll(ctx, ListQuery{}, voter.ID)
	require.NoError(t, err)
	for _, item := range page.Items {
		switch item.ID {
		case up.ID:
			require.NotNil(t, item.UserVote)
			require.Equal(t, 1, *item.UserVote)
		case down.ID:
			require.NotNil(t, item.UserVote)
			require.Equal(t, -1, *item.UserVote)
		default:
			require.Nil(t, item.UserVote)
		}
	}

	anonymous, err := f.service.FindAll(ctx, ListQuery{}, "")
	require.NoError(t, err)
	for _, item := range anonymous.Items {
		require.Nil(t, item.UserVote)
	}
}

func TestFindOneCountsViewsEvenWhenCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	question := f.createQuestion(t, author.ID, "How are views counted?")

	first, err := f.service.FindOne(ctx, question.ID, "")
	require.NoError(t, err)
	require.Equal(t, 1, first.Views)
	require.NotZero(t, f.store.Len())

	second, err := f.service.FindOne(ctx, question.ID, "")
	require.NoError(t, err)
	require.Equal(t, 2, second.Views, "cached payload must carry the fresh view count")

	var stored models.Question
	require.NoError(t, f.db.Take(&stored, "id = ?", question.ID).Error)
	require.Equal(t, 2, stored.Views)

	_, err = f.service.FindOne(ctx, "missing", "")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestFindOneOrdersAnswersByVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	answerer := testutil.CreateUser(t, f.db, "answerer")
	question := f.createQuestion(t, author.ID, "Which answer comes first?")

	base := f.clock.Now()
	fixtures := []models.Answer{
		{Content: "low votes, newest", Votes: 1, CreatedAt: base.Add(3 * time.Minute)},
		{Content: "high votes", Votes: 5, CreatedAt: base.Add(time.Minute)},
		{Content: "low votes, oldest", Votes: 1, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, answer := range fixtures {
		answer.AuthorID = answerer.ID
		answer.QuestionID = question.ID
		answer.UpdatedAt = answer.CreatedAt
		require.NoError(t, f.db.Create(&answer).Error)
	}

	view, err := f.service.FindOne(ctx, question.ID, "")
	require.NoError(t, err)
	require.Len(t, view.Answers, 3)
	require.Equal(t, "high votes", view.Answers[0].Content)
	require.Equal(t, "low votes, newest", view.Answers[1].Content)
	require.Equal(t, "low votes, oldest", view.Answers[2].Content)
	require.Equal(t, int64(3), view.AnswerCount)
	require.NotNil(t, view.Answers[0].Author)
	require.Equal(t, "answerer", view.Answers[0].Author.Username)
}

func TestCreatePublishesQuestionCreated(t *testing.T) {
	f := newFixture(t)
	author := testutil.CreateUser(t, f.db, "author")
	question := f.createQuestion(t, author.ID, "Does creation announce itself?")

	require.Equal(t, []string{"go", "gorm"}, question.Tags)
	select {
	case event := <-f.bus.Events():
		created, ok := event.(events.QuestionCreated)
		require.True(t, ok, "unexpected event %T", event)
		require.Equal(t, question.ID, created.QuestionID)
		require.Equal(t, "author", created.Author.Username)
	default:
		t.Fatalf("expected a question.created event")
	}
}

func TestCreateRejectsTooManyTags(t *testing.T) {
	f := newFixture(t)
	author := testutil.CreateUser(t, f.db, "author")
	_, err := f.service.Create(context.Background(), CreateInput{
		Title:   "Too many tags here",
		Content: "A sufficiently long body for the question under test.",
		Tags:    []string{"a", "b", "c", "d", "e", "f"},
	}, author.ID)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	view, err := f.service.Create(context.Background(), CreateInput{
		Title:   "Duplicate tags collapse",
		Content: "A sufficiently long body for the question under test.",
		Tags:    []string{" go ", "go", "", "sql"},
	}, author.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"go", "sql"}, view.Tags)
}

func TestUpdateAndRemoveRequireAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	stranger := testutil.CreateUser(t, f.db, "stranger")
	question := f.createQuestion(t, author.ID, "Who may edit this question?")

	title := "Hijacked question title"
	_, err := f.service.Update(ctx, question.ID, UpdateInput{Title: &title}, stranger.ID)
	require.True(t, apperr.Is(err, apperr.KindForbidden))
	require.True(t, apperr.Is(f.service.Remove(ctx, question.ID, stranger.ID), apperr.KindForbidden))

	tags := []string{"edited"}
	updated, err := f.service.Update(ctx, question.ID, UpdateInput{Title: &title, Tags: &tags}, author.ID)
	require.NoError(t, err)
	require.Equal(t, title, updated.Title)
	require.Equal(t, []string{"edited"}, updated.Tags)

	answer := models.Answer{Content: "answer", AuthorID: stranger.ID, QuestionID: question.ID}
	require.NoError(t, f.db.Create(&answer).Error)
	_, err = f.service.Vote(ctx, question.ID, 1, stranger.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.Remove(ctx, question.ID, author.ID))
	var remaining int64
	require.NoError(t, f.db.Model(&models.Answer{}).Where("question_id = ?", question.ID).Count(&remaining).Error)
	require.Zero(t, remaining)
	require.NoError(t, f.db.Model(&models.QuestionVote{}).Where("question_id = ?", question.ID).Count(&remaining).Error)
	require.Zero(t, remaining)
	_, err = f.service.FindOne(ctx, question.ID, "")
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestFindByUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db, "author")
	other := testutil.CreateUser(t, f.db, "other")
	mine := f.createQuestion(t, author.ID, "My first question here")
	f.createQuestion(t, author.ID, "My second question here")
	f.createQuestion(t, other.ID, "Somebody else's question")

	answer := models.Answer{Content: "answer", AuthorID: other.ID, QuestionID: mine.ID}
	require.NoError(t, f.db.Create(&answer).Error)

	page, err := f.service.FindByUser(ctx, author.ID, UserListQuery{})
	require.NoError(t, err)
	require.Equal(t, int64(2), page.Total)
	require.Equal(t, "My second question here", page.Items[0].Title)
	require.Equal(t, int64(1), page.Items[1].AnswerCount)
	require.Nil(t, page.Items[1].Answers)

	withAnswers, err := f.service.FindByUser(ctx, author.ID, UserListQuery{IncludeAnswers: true})
	require.NoError(t, err)
	require.Len(t, withAnswers.Items[1].Answers, 1)
	require.Equal(t, int64(1), withAnswers.Items[1].AnswerCount)
}
