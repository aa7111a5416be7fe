package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/ubatuba/eventtracker/internal/errs"
	"github.com/ubatuba/eventtracker/internal/metrics"
)

// Session is a single pooled connection checked out for a sequence of
// operations. It must be released exactly once; Release is idempotent.
type Session struct {
	pool *Pool
	conn *sqlx.Conn

	releaseOnce sync.Once
	releaseErr  error
}

// Acquire checks out an independent session backed by the shared pool.
// It waits at most the configured acquire timeout for a free connection.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if p.isClosed() {
		metrics.SessionAcquireFailures.Inc()
		return nil, errs.Connection("acquire", "pool is closed", nil)
	}

	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := p.db.Connx(ctx)
	metrics.SessionAcquireDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SessionAcquireFailures.Inc()
		log.Debug().Err(err).Str("path", p.location).Msg("Failed to acquire database session")
		return nil, errs.Connection("acquire", "", err)
	}

	metrics.SessionsAcquired.Inc()
	metrics.SessionsInUse.Inc()

	return &Session{pool: p, conn: conn}, nil
}

// WithSession acquires a session, runs fn and releases the session on every
// exit path, including panics. The error from fn takes precedence over a
// release error.
func (p *Pool) WithSession(ctx context.Context, fn func(*Session) error) (err error) {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := s.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(s)
}

// Release returns the connection to the pool
func (s *Session) Release() error {
	s.releaseOnce.Do(func() {
		metrics.SessionsInUse.Dec()
		if err := s.conn.Close(); err != nil && err != sql.ErrConnDone {
			s.releaseErr = fmt.Errorf("failed to release session: %w", err)
		}
	})
	return s.releaseErr
}

// Get scans a single row into dest
func (s *Session) Get(ctx context.Context, dest any, query string, args ...any) error {
	return s.conn.GetContext(ctx, dest, query, args...)
}

// Select scans all rows into dest, which must be a pointer to a slice
func (s *Session) Select(ctx context.Context, dest any, query string, args ...any) error {
	return s.conn.SelectContext(ctx, dest, query, args...)
}

// Exec runs a statement outside a transaction. Prefer Write for mutations.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

// Write runs fn in a transaction while holding the pool's writer lock
func (s *Session) Write(ctx context.Context, fn func(*sqlx.Tx) error) error {
	s.pool.writeMu.Lock()
	defer s.pool.writeMu.Unlock()

	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
