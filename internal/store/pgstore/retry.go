package pgstore

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const retryBaseDelay = 20 * time.Millisecond

func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01": // deadlock_detected
		return true
	}
	return false
}

// withRetry runs fn again on serialization and deadlock failures with
// jittered exponential backoff.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == s.retries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(delay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}

// inTx runs fn inside a transaction, retried as a whole.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	err := s.withRetry(ctx, func() error {
		return pgx.BeginFunc(ctx, s.pool, fn)
	})
	return dbErr(op, err)
}
