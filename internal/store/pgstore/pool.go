// Package pgstore is the PostgreSQL implementation of store.Store.
//
// Queries go through a pgxpool.Pool. pgvector types are registered on every
// new connection so keyword embeddings can be written and compared.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
)

var _ store.Store = (*Store)(nil)

// Options tunes the pool.
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Retries is how many times a serialization or deadlock failure is retried.
	Retries int
}

func (o Options) withDefaults() Options {
	if o.MaxConns <= 0 {
		o.MaxConns = 10
	}
	if o.MaxConnLifetime <= 0 {
		o.MaxConnLifetime = time.Hour
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	return o
}

type Store struct {
	pool    *pgxpool.Pool
	log     *logger.Logger
	retries int
}

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string, opts Options, log *logger.Logger) (*Store, error) {
	opts = opts.withDefaults()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Misconfigured, "postgres", "parse_dsn", err)
	}
	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	cfg.MaxConnLifetime = opts.MaxConnLifetime

	// The vector extension only exists after migrations ran, so a failed
	// registration on the first connections is not fatal.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			log.Debug("pgvector types not registered", logger.String("error", err.Error()))
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, dbErr("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, dbErr("ping", err)
	}
	return &Store{pool: pool, log: log, retries: opts.Retries}, nil
}

// Pool exposes the underlying pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return dbErr("ping", err)
	}
	return nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies the unapplied .sql files of fsys in name order and records
// each one in schema_migrations. Connections opened before the vector
// extension existed are reset afterwards so they pick up the vector type.
func (s *Store) Migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return dbErr("migrate", fmt.Errorf("create schema_migrations: %w", err))
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return dbErr("migrate", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return apperr.Wrap(apperr.Misconfigured, "postgres", "migrate", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	ran := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || applied[name] {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return apperr.Wrap(apperr.Misconfigured, "postgres", "migrate", err)
		}
		s.log.Info("running migration", logger.String("file", name))
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return dbErr("migrate", fmt.Errorf("%s: %w", name, err))
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name); err != nil {
			return dbErr("migrate", fmt.Errorf("record %s: %w", name, err))
		}
		ran++
	}
	if ran > 0 {
		s.pool.Reset()
	}
	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindOf(err), "postgres", op, err)
	}
	return apperr.Wrap(apperr.Database, "postgres", op, err)
}
