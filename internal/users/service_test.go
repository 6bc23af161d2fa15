package users

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/models"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/testutil"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *cache.MemoryStore) {
	t.Helper()
	db := testutil.OpenDatabase(t)
	store := cache.NewMemoryStore(nil)
	service, err := NewService(ServiceConfig{
		Database: db,
		Hasher:   auth.NewPasswordHasher(4),
		Cache:    store,
		Clock: func() time.Time {
			return time.Unix(1_700_000_000, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db, store
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected missing database to fail")
	}
	db := testutil.OpenDatabase(t)
	if _, err := NewService(ServiceConfig{Database: db}); err == nil {
		t.Fatalf("expected missing hasher to fail")
	}
}

func TestCreateRejectsDuplicates(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, CreateInput{Email: " Ada@Example.com ", Username: "ada", Password: "Passw0rdX"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", created.Email)
	}
	if created.PasswordHash == "Passw0rdX" || created.PasswordHash == "" {
		t.Fatalf("password must be stored hashed")
	}

	_, err = service.Create(ctx, CreateInput{Email: "ada@example.com", Username: "other", Password: "Passw0rdX"})
	if !apperr.Is(err, apperr.KindConflict) || apperr.MessageOf(err, "") != "Email already exists" {
		t.Fatalf("expected email conflict, got %v", err)
	}
	_, err = service.Create(ctx, CreateInput{Email: "new@example.com", Username: "ada", Password: "Passw0rdX"})
	if !apperr.Is(err, apperr.KindConflict) || apperr.MessageOf(err, "") != "Username already taken" {
		t.Fatalf("expected username conflict, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := service.Create(ctx, CreateInput{Email: "grace@example.com", Username: "grace", Password: "Passw0rdX"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	user, err := service.Authenticate(ctx, "GRACE@example.com", "Passw0rdX")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if user.Username != "grace" {
		t.Fatalf("unexpected user %q", user.Username)
	}

	if _, err := service.Authenticate(ctx, "grace@example.com", "wrong"); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized for wrong password, got %v", err)
	}
	if _, err := service.Authenticate(ctx, "nobody@example.com", "Passw0rdX"); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized for unknown email, got %v", err)
	}
}

func TestFindLookups(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, "linus")

	byID, err := service.FindOne(ctx, user.ID)
	if err != nil || byID.Username != "linus" {
		t.Fatalf("find by id failed: %v", err)
	}
	if _, err := service.FindByUsername(ctx, "linus"); err != nil {
		t.Fatalf("find by username failed: %v", err)
	}
	if _, err := service.FindOne(ctx, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	all, err := service.FindAll(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one user, got %d (%v)", len(all), err)
	}
}

func TestUpdateIsOwnerOnly(t *testing.T) {
	service, db, store := newTestService(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, "owner")
	other := testutil.CreateUser(t, db, "other")

	bio := "Writes Go."
	if _, err := service.Update(ctx, owner.ID, UpdateInput{Bio: &bio}, other.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	taken := "other"
	if _, err := service.Update(ctx, owner.ID, UpdateInput{Username: &taken}, owner.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected username conflict, got %v", err)
	}

	_ = store.Set(ctx, "question_x_u", []byte("cached"), time.Minute)
	renamed := "owner_renamed"
	updated, err := service.Update(ctx, owner.ID, UpdateInput{Username: &renamed, Bio: &bio}, owner.ID)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Username != renamed || updated.Bio == nil || *updated.Bio != bio {
		t.Fatalf("unexpected updated user %#v", updated)
	}
	if store.Len() != 0 {
		t.Fatalf("expected profile change to flush cached payloads")
	}
}

func TestRemoveCascadesOwnedContent(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, db, "author")
	other := testutil.CreateUser(t, db, "bystander")

	question := models.Question{Title: "Cascade question title", Content: "content", AuthorID: author.ID}
	if err := db.Create(&question).Error; err != nil {
		t.Fatalf("create question: %v", err)
	}
	otherQuestion := models.Question{Title: "Bystander question", Content: "content", AuthorID: other.ID}
	if err := db.Create(&otherQuestion).Error; err != nil {
		t.Fatalf("create question: %v", err)
	}
	fixtures := []interface{}{
		&models.Answer{Content: "answer on own question", AuthorID: other.ID, QuestionID: question.ID},
		&models.Answer{Content: "answer elsewhere", AuthorID: author.ID, QuestionID: otherQuestion.ID},
		&models.QuestionVote{UserID: other.ID, QuestionID: question.ID, Value: 1},
		&models.QuestionVote{UserID: author.ID, QuestionID: otherQuestion.ID, Value: -1},
	}
	for _, fixture := range fixtures {
		if err := db.Create(fixture).Error; err != nil {
			t.Fatalf("create fixture: %v", err)
		}
	}

	if err := service.Remove(ctx, author.ID, other.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := service.Remove(ctx, author.ID, author.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	assertCount := func(model interface{}, expected int64) {
		t.Helper()
		var count int64
		if err := db.Model(model).Count(&count).Error; err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != expected {
			t.Fatalf("expected %d rows in %T, got %d", expected, model, count)
		}
	}
	assertCount(&models.User{}, 1)
	assertCount(&models.Question{}, 1)
	assertCount(&models.Answer{}, 0)
	assertCount(&models.QuestionVote{}, 0)
}

func TestRemoveRecomputesTalliesOfSurvivingQuestions(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, db, "asker")
	leaving := testutil.CreateUser(t, db, "leaving")
	staying := testutil.CreateUser(t, db, "staying")

	question := models.Question{Title: "Surviving question", Content: "content", AuthorID: author.ID, Votes: 2}
	if err := db.Create(&question).Error; err != nil {
		t.Fatalf("create question: %v", err)
	}
	votes := []models.QuestionVote{
		{UserID: leaving.ID, QuestionID: question.ID, Value: 1},
		{UserID: staying.ID, QuestionID: question.ID, Value: 1},
	}
	for index := range votes {
		if err := db.Create(&votes[index]).Error; err != nil {
			t.Fatalf("create vote: %v", err)
		}
	}

	if err := service.Remove(ctx, leaving.ID, leaving.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	var stored models.Question
	if err := db.Take(&stored, "id = ?", question.ID).Error; err != nil {
		t.Fatalf("reload question: %v", err)
	}
	var sum int64
	if err := db.Model(&models.QuestionVote{}).Select("COALESCE(SUM(value), 0)").Where("question_id = ?", question.ID).Scan(&sum).Error; err != nil {
		t.Fatalf("sum ledger: %v", err)
	}
	if stored.Votes != 1 || sum != 1 {
		t.Fatalf("expected tally 1 matching the ledger, got votes=%d sum=%d", stored.Votes, sum)
	}
}

func TestIncrementReputation(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, "rep")

	for _, delta := range []int{10, -2, 15, 0} {
		if err := service.IncrementReputation(ctx, user.ID, delta); err != nil {
			t.Fatalf("increment %d failed: %v", delta, err)
		}
	}
	reloaded, err := service.FindOne(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Reputation != 23 {
		t.Fatalf("expected reputation 23, got %d", reloaded.Reputation)
	}
}
