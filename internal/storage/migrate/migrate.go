// Package migrate applies the embedded Postgres schema.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"donor-dialer/pkg/logger"
	"donor-dialer/pkg/utils"
)

//go:embed sql/*.sql
var files embed.FS

// Migration is one numbered schema file.
type Migration struct {
	Version string
	SQL     string
}

// Migrations returns the embedded files ordered by version.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(files, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, n := range names {
		b, err := files.ReadFile(n)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", n, err)
		}
		version := strings.TrimSuffix(strings.TrimPrefix(n, "sql/"), ".sql")
		out = append(out, Migration{Version: version, SQL: string(b)})
	}
	return out, nil
}

const ensureTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version    TEXT PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL
)
`

// Up applies every migration not yet recorded in schema_migrations, each in
// its own transaction. It returns the versions applied by this call.
func Up(ctx context.Context, db *sql.DB) ([]string, error) {
	log := logger.From(ctx)

	if _, err := db.ExecContext(ctx, ensureTable); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	all, err := Migrations()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range all {
		err := utils.WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
			).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return nil
			}
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, m.Version, time.Now().UTC(),
			); err != nil {
				return err
			}
			applied = append(applied, m.Version)
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", m.Version, err)
		}
	}
	log.Info("migrations applied", "count", len(applied))
	return applied, nil
}
