package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"tiktokads/pkg/config"
	"tiktokads/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to PostgreSQL and checks the connection
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Migrate applies the embedded migrations in file name order. Every
// migration is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB, log logger.Logger) error {
	names, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	slices.Sort(names)

	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		log.DebugWithFields("Applied migration", map[string]interface{}{"migration": name})
	}
	return nil
}

// NewFromConfig opens the database, applies migrations and returns the ad
// store. The caller closes the store.
func NewFromConfig(ctx context.Context, cfg config.PostgresConfig, log logger.Logger) (*AdStore, error) {
	db, err := Open(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db, log); err != nil {
		db.Close()
		return nil, err
	}
	return NewAdStore(db, log), nil
}
