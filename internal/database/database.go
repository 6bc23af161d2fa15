package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/models"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	errMissingDatabasePath = errors.New("database path is required")
	errMissingDatabaseURL  = errors.New("database url is required")
)

// Options selects and parameterizes the storage backend.
type Options struct {
	Driver string
	// Path is the SQLite file (or DSN such as file::memory:).
	Path string
	// URL is the PostgreSQL connection string.
	URL string
}

// Open connects to the configured backend, migrates the schema and applies
// pending data migrations.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := dialectorFor(options)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logging.NewGormLogger(logger, 0),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driverName(options) == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", driverName(options)))
	return db, nil
}

// Migrate creates or updates the schema and runs named data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	schema := append(models.All(), &migrationRecord{})
	if err := db.AutoMigrate(schema...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func dialectorFor(options Options) (gorm.Dialector, error) {
	switch driverName(options) {
	case DriverSQLite:
		if strings.TrimSpace(options.Path) == "" {
			return nil, errMissingDatabasePath
		}
		return sqlite.Open(options.Path), nil
	case DriverPostgres:
		if strings.TrimSpace(options.URL) == "" {
			return nil, errMissingDatabaseURL
		}
		return postgres.Open(options.URL), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
}

func driverName(options Options) string {
	driver := strings.ToLower(strings.TrimSpace(options.Driver))
	if driver == "" {
		return DriverSQLite
	}
	return driver
}
