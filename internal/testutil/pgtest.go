// Package testutil provides test helpers for the Postgres-backed store
// tests. Tests that need a real database are gated on TEST_DATABASE_URL
// and skip when it is unset, so the default test run stays hermetic.
package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// PG returns a migrated database handle, or skips the test when
// TEST_DATABASE_URL is not set. All marketplace tables are truncated so
// each test starts clean.
func PG(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(); err != nil {
		t.Fatalf("ping test database: %v", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		t.Fatalf("goose dialect: %v", err)
	}
	if err := goose.Up(db, migrationsDir()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	_, err = db.Exec(`TRUNCATE listings, commission_payments, escrow_transactions, api_keys, webhook_subscriptions`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}
