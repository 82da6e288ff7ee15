package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mindsprite/mindsprite/internal/core"
	"github.com/mindsprite/mindsprite/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migration is one NNN_name.sql file
type migration struct {
	version int
	name    string
	content string
}

// Migrate runs all pending migrations. It is safe to call on every startup.
func (db *DB) Migrate() error {
	return db.MigrateContext(context.Background())
}

// MigrateContext runs pending embedded migrations in version order, each in
// its own transaction. Failures wrap core.ErrMigrationFailed.
func (db *DB) MigrateContext(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrMigrationFailed, err)
	}
	return db.migrate(ctx, sub)
}

func (db *DB) migrate(ctx context.Context, fsys fs.FS) error {
	_, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %v", core.ErrMigrationFailed, err)
	}

	pending, err := loadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrMigrationFailed, err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("%w: read applied migrations: %v", core.ErrMigrationFailed, err)
	}

	for _, m := range pending {
		if applied[m.version] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %s: %v", core.ErrMigrationFailed, m.name, err)
		}

		err := db.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.content); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO _migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.version, m.name, toMillis(time.Now().UTC()))
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %s: %v", core.ErrMigrationFailed, m.name, err)
		}

		logging.WithField("migration", m.name).Debug("applied migration")
	}
	return nil
}

// AppliedMigrations lists applied migration names in version order
func (db *DB) AppliedMigrations(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT name FROM _migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (db *DB) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// loadMigrations reads every .sql file at the root of fsys. Names must start
// with a numeric version and versions must be unique.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	seen := make(map[int]string)
	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		version, err := parseVersion(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, entry.Name(), version)
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		out = append(out, migration{version: version, name: entry.Name(), content: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func parseVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s: want NNN_name.sql", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("migration %s: bad version %q", name, prefix)
	}
	return v, nil
}
