// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/models"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDatabase returns an isolated in-memory SQLite database with the schema migrated.
func OpenDatabase(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

// QueryCounter counts read statements (query and row callbacks) issued through a gorm handle.
type QueryCounter struct {
	count atomic.Int64
}

// CountQueries registers an after-query callback on db.
func CountQueries(t testing.TB, db *gorm.DB) *QueryCounter {
	t.Helper()
	counter := &QueryCounter{}
	name := "testutil:count_queries:" + uuid.NewString()
	count := func(*gorm.DB) {
		counter.count.Add(1)
	}
	if err := db.Callback().Query().After("gorm:query").Register(name, count); err != nil {
		t.Fatalf("failed to register query counter: %v", err)
	}
	if err := db.Callback().Row().After("gorm:row").Register(name, count); err != nil {
		t.Fatalf("failed to register row counter: %v", err)
	}
	return counter
}

func (c *QueryCounter) Count() int64 {
	return c.count.Load()
}

func (c *QueryCounter) Reset() {
	c.count.Store(0)
}

// Clock is a manually advanced clock.
type Clock struct {
	now atomic.Int64
}

// NewClock starts a clock at start.
func NewClock(start time.Time) *Clock {
	clock := &Clock{}
	clock.now.Store(start.UnixNano())
	return clock
}

func (c *Clock) Now() time.Time {
	return time.Unix(0, c.now.Load()).UTC()
}

func (c *Clock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

// CreateUser stores a user with a placeholder password hash.
func CreateUser(t testing.TB, db *gorm.DB, username string) models.User {
	t.Helper()
	user := models.User{
		Email:        username + "@example.com",
		Username:     username,
		PasswordHash: "not-a-real-hash",
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	return user
}
