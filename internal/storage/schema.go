package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every embedded migration for driver that has not been
// recorded in schema_migrations yet. It returns the versions it applied.
func Migrate(ctx context.Context, db *sql.DB, driver string) ([]string, error) {
	if err := ensureSchemaMigrationsTable(ctx, db, driver); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	migrations, err := listMigrations(driver)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}

	var ran []string
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		body, err := fs.ReadFile(migrationFiles, "migrations/"+m.file)
		if err != nil {
			return ran, fmt.Errorf("read migration %s: %w", m.file, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return ran, fmt.Errorf("run migration %s: %w", m.file, err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`,
			m.version, time.Now().UTC(),
		); err != nil {
			return ran, fmt.Errorf("record migration %s: %w", m.version, err)
		}
		ran = append(ran, m.version)
	}
	return ran, nil
}

type migration struct {
	version string
	file    string
}

// listMigrations picks the _sqlite.sql variant for sqlite and the plain .sql
// file for postgres.
func listMigrations(driver string) ([]migration, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}

	sqliteFiles := make(map[string]string)
	regularFiles := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		if strings.HasSuffix(name, "_sqlite.sql") {
			sqliteFiles[strings.TrimSuffix(name, "_sqlite.sql")] = name
		} else {
			regularFiles[strings.TrimSuffix(name, ".sql")] = name
		}
	}

	var out []migration
	for version, file := range regularFiles {
		if driver == DriverSQLite {
			if sqliteFile, ok := sqliteFiles[version]; ok {
				file = sqliteFile
			}
		}
		out = append(out, migration{version: version, file: file})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func ensureSchemaMigrationsTable(ctx context.Context, db *sql.DB, driver string) error {
	var query string
	switch driver {
	case DriverSQLite, "":
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TIMESTAMP NOT NULL
			);
		`
	default:
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL
			);
		`
	}
	_, err := db.ExecContext(ctx, query)
	return err
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
