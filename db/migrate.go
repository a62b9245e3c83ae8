// Package db owns the effect schema and applies it to MySQL or SQLite.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationTable = "schema_migrations"

// Migration is one embedded schema file and whether it has been applied.
type Migration struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// ApplyMigrations runs every embedded migration not yet recorded in
// schema_migrations and returns the names it applied.
//
// MySQL commits DDL implicitly, so files are not wrapped in a transaction. A file that
// fails halfway is re-run from the top next time; "already exists" errors are skipped
// for that reason.
func ApplyMigrations(ctx context.Context, sqlDB *sql.DB) ([]string, error) {
	if sqlDB == nil {
		return nil, errors.New("sql db is required")
	}
	if err := ensureMigrationTable(ctx, sqlDB); err != nil {
		return nil, err
	}

	names, err := migrationNames()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range names {
		done, err := isApplied(ctx, sqlDB, name)
		if err != nil {
			return applied, fmt.Errorf("check migration %s: %w", name, err)
		}
		if done {
			continue
		}

		content, err := fs.ReadFile(migrationFS, "migrations/"+name)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", name, err)
		}
		for _, stmt := range SplitStatements(string(content)) {
			if _, err := sqlDB.ExecContext(ctx, stmt); err != nil && !IsAlreadyExistsError(err) {
				return applied, fmt.Errorf("exec migration %s: %w", name, err)
			}
		}

		if _, err := sqlDB.ExecContext(ctx,
			"INSERT INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
			name, time.Now().UTC().UnixMilli(),
		); err != nil {
			return applied, fmt.Errorf("record migration %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// Status lists embedded migrations with their applied state.
func Status(ctx context.Context, sqlDB *sql.DB) ([]Migration, error) {
	if sqlDB == nil {
		return nil, errors.New("sql db is required")
	}
	if err := ensureMigrationTable(ctx, sqlDB); err != nil {
		return nil, err
	}
	names, err := migrationNames()
	if err != nil {
		return nil, err
	}

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		m := Migration{Name: name}
		var appliedAt int64
		err := sqlDB.QueryRowContext(ctx,
			"SELECT applied_at FROM "+migrationTable+" WHERE name = ?", name,
		).Scan(&appliedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		default:
			m.Applied = true
			m.AppliedAt = time.UnixMilli(appliedAt).UTC()
		}
		out = append(out, m)
	}
	return out, nil
}

// SplitStatements drops "--" comment lines and splits the rest on ';'.
func SplitStatements(content string) []string {
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var stmts []string
	for _, part := range strings.Split(b.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// IsAlreadyExistsError reports whether err means the DDL was applied before.
func IsAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate column name") ||
		strings.Contains(msg, "duplicate key name")
}

func ensureMigrationTable(ctx context.Context, sqlDB *sql.DB) error {
	_, err := sqlDB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
    name VARCHAR(255) NOT NULL PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func isApplied(ctx context.Context, sqlDB *sql.DB, name string) (bool, error) {
	var found int
	err := sqlDB.QueryRowContext(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = ?", name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
