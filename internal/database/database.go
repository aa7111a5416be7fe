package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/ubatuba/eventtracker/internal/errs"
)

const driverName = "sqlite"

func init() {
	sqlx.BindDriver(driverName, sqlx.QUESTION)
}

// Options configures the connection pool
type Options struct {
	// Location is the SQLite database file path
	Location string

	// MaxOpenConns caps physical connections. SQLite with WAL mode supports
	// concurrent reads but serializes writes.
	MaxOpenConns int
	MaxIdleConns int

	// ConnMaxIdleTime closes idle connections after this long (0 keeps them).
	ConnMaxIdleTime time.Duration

	// BusyTimeout is how long SQLite waits on a locked database before failing.
	BusyTimeout time.Duration

	// AcquireTimeout bounds how long Acquire waits for a free connection.
	// Zero means wait until the caller's context is done.
	AcquireTimeout time.Duration
}

// DefaultOptions returns the pool settings used when nothing else is configured
func DefaultOptions(location string) Options {
	return Options{
		Location:       location,
		MaxOpenConns:   10,
		MaxIdleConns:   5,
		BusyTimeout:    5 * time.Second,
		AcquireTimeout: 5 * time.Second,
	}
}

// Pool owns the SQLite connection pool and hands out scoped sessions.
// It is safe for concurrent use; a Session is not.
type Pool struct {
	db             *sqlx.DB
	location       string
	acquireTimeout time.Duration

	// writeMu enforces single-writer discipline across sessions
	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// Open validates the location and creates the connection pool
func Open(ctx context.Context, opts Options) (*Pool, error) {
	location := strings.TrimSpace(opts.Location)
	if location == "" {
		return nil, errs.Configuration("open", "database location is empty", nil)
	}
	if err := checkLocation(location); err != nil {
		return nil, errs.Configuration("open", fmt.Sprintf("database location %q is invalid", location), err)
	}
	if err := checkWritable(location); err != nil {
		return nil, errs.Configuration("open", fmt.Sprintf("database location %q is not writable", location), err)
	}

	db, err := sqlx.Open(driverName, dsn(location, opts.BusyTimeout))
	if err != nil {
		return nil, errs.Configuration("open", "failed to open database", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errs.Connection("open", "failed to ping database", err)
	}

	log.Debug().
		Str("path", location).
		Int("max_open_conns", opts.MaxOpenConns).
		Dur("acquire_timeout", opts.AcquireTimeout).
		Msg("Database connection established")

	return &Pool{
		db:             db,
		location:       location,
		acquireTimeout: opts.AcquireTimeout,
	}, nil
}

// dsn builds a modernc.org/sqlite DSN. _txlock=immediate makes every
// transaction take the write lock up front, so concurrent writers queue on
// busy_timeout instead of failing on lock upgrade.
func dsn(location string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return location + "?" + q.Encode()
}

// checkLocation rejects locations the driver would not map to the same file.
// The DSN query starts at the first '?', and URI or in-memory names bypass
// the writability check.
func checkLocation(location string) error {
	if strings.ContainsAny(location, "?#") {
		return errors.New("path must not contain '?' or '#'")
	}
	if strings.HasPrefix(strings.ToLower(location), "file:") || strings.HasPrefix(location, ":memory:") {
		return errors.New("location must be a filesystem path")
	}
	return nil
}

func checkWritable(location string) error {
	dir := filepath.Dir(location)
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.OpenFile(location, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Location returns the database file path
func (p *Pool) Location() string {
	return p.location
}

// Ping verifies the engine is reachable
func (p *Pool) Ping(ctx context.Context) error {
	if p.isClosed() {
		return errs.Connection("ping", "pool is closed", nil)
	}
	if err := p.db.PingContext(ctx); err != nil {
		return errs.Connection("ping", "", err)
	}
	return nil
}

// Stats returns the underlying pool statistics
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Collector returns a prometheus collector for the pool statistics
func (p *Pool) Collector(name string) prometheus.Collector {
	return collectors.NewDBStatsCollector(p.db.DB, name)
}

// Transaction acquires a session and runs fn in a write transaction
func (p *Pool) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return p.WithSession(ctx, func(s *Session) error {
		return s.Write(ctx, fn)
	})
}

// Close releases all physical connections. Subsequent acquisitions fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	log.Debug().Str("path", p.location).Msg("Database connection closed")
	return nil
}

func (p *Pool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
