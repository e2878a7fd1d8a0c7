// migrate applies migrations/NNN_*.sql in order, recording each file's checksum in
// schema_migrations. An applied file whose checksum changed stops the run.
//
// Usage: go run ./cmd/migrate
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"invoice-recon/internal/db"
	"invoice-recon/internal/logging"
)

const (
	migrationsDir = "migrations"
	advisoryLock  = 7462839
)

func main() {
	_ = godotenv.Load()
	log := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV"))

	if err := run(context.Background(), os.Getenv("DATABASE_URL"), log); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("all migrations processed")
}

func run(ctx context.Context, url string, log zerolog.Logger) error {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := db.NewPool(connCtx, url)
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for lock: %w", err)
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLock).Scan(&locked); err != nil {
		return fmt.Errorf("query advisory lock: %w", err)
	}
	if !locked {
		return errors.New("another migrator is currently running")
	}
	defer func() {
		if _, err := conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", advisoryLock); err != nil {
			log.Warn().Err(err).Msg("failed to release advisory lock")
		}
	}()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := discover(migrationsDir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := apply(ctx, pool, f, log); err != nil {
			return err
		}
	}
	return nil
}

type migration struct {
	version  string
	filename string
	sql      []byte
	checksum string
}

// discover lists NNN_description.sql files in lexical order. Versions must be unique.
func discover(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	seen := map[string]string{}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("invalid migration filename %s, want NNN_description.sql", e.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %s (%s, %s)", version, prev, e.Name())
		}
		seen[version] = e.Name()

		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(body)
		out = append(out, migration{version: version, filename: e.Name(), sql: body, checksum: hex.EncodeToString(sum[:])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].filename < out[j].filename })
	return out, nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, m migration, log zerolog.Logger) error {
	var existing string
	err := pool.QueryRow(ctx, "SELECT checksum FROM schema_migrations WHERE version = $1", m.version).Scan(&existing)
	switch {
	case err == nil && existing == m.checksum:
		log.Debug().Str("file", m.filename).Msg("already applied")
		return nil
	case err == nil:
		return fmt.Errorf("checksum mismatch for %s: recorded %s, file %s", m.filename, existing, m.checksum)
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("query schema_migrations for %s: %w", m.filename, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", m.filename, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, string(m.sql)); err != nil {
		return fmt.Errorf("execute %s: %w", m.filename, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)",
		m.version, m.filename, m.checksum); err != nil {
		return fmt.Errorf("record %s: %w", m.filename, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", m.filename, err)
	}
	log.Info().Str("file", m.filename).Msg("applied")
	return nil
}
