// Package testutil backs the repository integration tests with a real
// Postgres (pgvector required). Every test runs inside a transaction that is
// rolled back on cleanup, so tests can share one migrated database.
package testutil

import (
	"context"
	"os"
	"sync"
	"testing"

	"gorm.io/gorm"

	dbpkg "github.com/yungbote/docretrieval-backend/internal/data/db"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

const dsnEnv = "TEST_POSTGRES_DSN"

var (
	dbOnce sync.Once
	shared *gorm.DB
	dbErr  error
)

// Logger is silent unless TEST_LOG_MODE names a logger mode.
func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	mode := os.Getenv("TEST_LOG_MODE")
	if mode == "" {
		return logger.Nop()
	}
	log, err := logger.New(mode)
	if err != nil {
		tb.Fatalf("logger: %v", err)
	}
	return log
}

// DB opens TEST_POSTGRES_DSN through the production connection path and
// migrates once per process. Tests skip when the variable is unset.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		tb.Skip("set " + dsnEnv + " to run repo integration tests")
	}
	dbOnce.Do(func() {
		pg, err := dbpkg.NewPostgresService(logger.Nop(), dbpkg.PostgresConfig{DSN: dsn, MaxOpenConns: 4})
		if err != nil {
			dbErr = err
			return
		}
		shared = pg.DB()
		dbErr = dbpkg.Migrate(shared)
	})
	if dbErr != nil {
		tb.Fatalf("test db: %v", dbErr)
	}
	return shared
}

// Tx opens a transaction that is rolled back when the test ends.
func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() { tx.Rollback() })
	return tx
}

// Dbc is DB + Tx packaged as the context repos take.
func Dbc(tb testing.TB) (dbctx.Context, *gorm.DB) {
	tb.Helper()
	db := DB(tb)
	return dbctx.Context{Ctx: context.Background(), Tx: Tx(tb, db)}, db
}
