// Package storagetest opens migrated in-memory SQLite databases for tests.
package storagetest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// NewDB returns a fresh, migrated in-memory database closed at test cleanup.
// Each call gets its own isolated database.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = storage.Migrate(context.Background(), db, storage.DriverSQLite)
	require.NoError(t, err)
	return db
}

// Repositories bundles every repository over one database.
type Repositories = storage.Repositories

// NewRepositories returns repositories backed by a fresh database.
func NewRepositories(t testing.TB) *Repositories {
	return storage.NewRepositories(NewDB(t))
}
