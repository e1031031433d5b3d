package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateLockKey serializes Migrate across instances starting together.
const migrateLockKey int64 = 0x696e7476776d6967

// Migrate applies embedded schema migrations in lexical order inside one
// transaction holding an advisory lock. Applied versions are recorded in
// schema_migrations so reruns are no-ops.
func Migrate(ctx context.Context, pool PgxPool) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=postgres.migrate begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrateLockKey); err != nil {
		return fmt.Errorf("op=postgres.migrate lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("op=postgres.migrate: %w", err)
	}
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("op=postgres.migrate: %w", err)
	}
	var applied []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(e.Name(), ".sql")
		var done bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&done); err != nil {
			return fmt.Errorf("op=postgres.migrate version=%s: %w", version, err)
		}
		if done {
			continue
		}
		body, err := migrationsFS.ReadFile(path.Join("migrations", e.Name()))
		if err != nil {
			return fmt.Errorf("op=postgres.migrate version=%s: %w", version, err)
		}
		if _, err := tx.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("op=postgres.migrate version=%s: %w", version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			return fmt.Errorf("op=postgres.migrate version=%s: %w", version, err)
		}
		applied = append(applied, version)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=postgres.migrate commit: %w", err)
	}
	for _, v := range applied {
		slog.Info("migration applied", slog.String("version", v))
	}
	return nil
}
