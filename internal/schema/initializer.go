package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/ubatuba/eventtracker/internal/database"
	"github.com/ubatuba/eventtracker/internal/errs"
	"github.com/ubatuba/eventtracker/internal/metrics"
)

const ledgerTable = "schema_entities"

const createLedgerSQL = `
	CREATE TABLE IF NOT EXISTS schema_entities (
		name TEXT PRIMARY KEY,
		columns INTEGER NOT NULL,
		applied_at TIMESTAMP
	)
`

// State is the lifecycle of an Initializer
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Applied is a ledger row for an ensured entity schema
type Applied struct {
	Name      string    `db:"name"`
	Columns   int       `db:"columns"`
	AppliedAt time.Time `db:"applied_at"`
}

// Initializer ensures declared entity schemas exist. It never drops or
// alters existing structures and never retries on its own.
type Initializer struct {
	runMu sync.Mutex

	mu    sync.RWMutex
	state State
	err   error
}

// NewInitializer returns an Initializer in the Uninitialized state
func NewInitializer() *Initializer {
	return &Initializer{}
}

// State returns the current lifecycle state
func (i *Initializer) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Err returns the error that moved the initializer to Failed, if any
func (i *Initializer) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.err
}

func (i *Initializer) setState(state State, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = state
	i.err = err
}

// Ensure creates every schema that does not exist yet and verifies the ones
// that do. Calls are serialized; repeating a successful call is a no-op.
func (i *Initializer) Ensure(ctx context.Context, pool *database.Pool, schemas ...EntitySchema) error {
	i.runMu.Lock()
	defer i.runMu.Unlock()

	i.setState(Initializing, nil)

	if err := ensure(ctx, pool, schemas); err != nil {
		i.setState(Failed, err)
		metrics.SchemaEnsure.WithLabelValues("failed").Inc()
		return err
	}

	i.setState(Ready, nil)
	metrics.SchemaEnsure.WithLabelValues("ok").Inc()
	return nil
}

// Ensure runs a one-shot initializer
func Ensure(ctx context.Context, pool *database.Pool, schemas ...EntitySchema) error {
	return NewInitializer().Ensure(ctx, pool, schemas...)
}

func ensure(ctx context.Context, pool *database.Pool, schemas []EntitySchema) error {
	names := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return errs.Schema("ensure "+s.Name, "invalid schema", err)
		}
		key := strings.ToLower(s.Name)
		if names[key] || key == ledgerTable {
			return errs.Schema("ensure "+s.Name, "table name declared twice or reserved", nil)
		}
		names[key] = true
	}

	log.Debug().Int("schemas", len(schemas)).Msg("Ensuring database schema")

	err := pool.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, createLedgerSQL); err != nil {
			return errs.Schema("ensure", "failed to create schema ledger", err)
		}
		for _, s := range schemas {
			if err := ensureOne(ctx, tx, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		log.Debug().Msg("Database schema ready")
		return nil
	}
	if errors.Is(err, errs.ErrSchema) {
		return err
	}
	return errs.Schema("ensure", "storage unreachable", err)
}

func ensureOne(ctx context.Context, tx *sqlx.Tx, s EntitySchema) error {
	op := "ensure " + s.Name

	var objType string
	err := tx.GetContext(ctx, &objType, "SELECT type FROM sqlite_master WHERE name = ? COLLATE NOCASE", s.Name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		log.Info().Str("table", s.Name).Msg("Creating table")
		if _, err := tx.ExecContext(ctx, s.createTableSQL()); err != nil {
			return errs.Schema(op, "failed to create table", err)
		}
	case err != nil:
		return errs.Schema(op, "failed to inspect schema", err)
	case objType != "table":
		return errs.Schema(op, fmt.Sprintf("conflicting %s with the same name exists", objType), nil)
	default:
		if err := verifyColumns(ctx, tx, s); err != nil {
			return err
		}
	}

	for _, idx := range s.Indexes {
		if err := ensureIndex(ctx, tx, s, idx); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_entities (name, columns, applied_at) VALUES (?, ?, ?)",
		s.Name, len(s.Columns), time.Now().UTC(),
	); err != nil {
		return errs.Schema(op, "failed to record schema", err)
	}

	return nil
}

// verifyColumns requires every declared column to exist with the declared
// type. Extra columns on the existing table are tolerated.
func verifyColumns(ctx context.Context, tx *sqlx.Tx, s EntitySchema) error {
	var existing []struct {
		Name string `db:"name"`
		Type string `db:"type"`
	}
	if err := tx.SelectContext(ctx, &existing, "SELECT name, type FROM pragma_table_info(?)", s.Name); err != nil {
		return errs.Schema("ensure "+s.Name, "failed to read table columns", err)
	}

	types := make(map[string]string, len(existing))
	for _, c := range existing {
		types[strings.ToLower(c.Name)] = c.Type
	}

	for _, c := range s.Columns {
		have, ok := types[strings.ToLower(c.Name)]
		if !ok {
			return errs.Schema("ensure "+s.Name, fmt.Sprintf("existing table is missing column %s", c.Name), nil)
		}
		if !strings.EqualFold(have, string(c.Type)) {
			return errs.Schema("ensure "+s.Name,
				fmt.Sprintf("column %s has type %s, want %s", c.Name, have, c.Type), nil)
		}
	}
	return nil
}

// ensureIndex creates a declared index, or verifies that an existing object
// with the same name is an index on the same table, columns and uniqueness.
func ensureIndex(ctx context.Context, tx *sqlx.Tx, s EntitySchema, idx Index) error {
	op := "ensure " + s.Name

	var existing struct {
		Type  string `db:"type"`
		Table string `db:"tbl_name"`
	}
	err := tx.GetContext(ctx, &existing, "SELECT type, tbl_name FROM sqlite_master WHERE name = ? COLLATE NOCASE", idx.Name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, s.createIndexSQL(idx)); err != nil {
			return errs.Schema(op, "failed to create index "+idx.Name, err)
		}
		return nil
	case err != nil:
		return errs.Schema(op, "failed to inspect index "+idx.Name, err)
	case existing.Type != "index":
		return errs.Schema(op, fmt.Sprintf("conflicting %s named %s exists", existing.Type, idx.Name), nil)
	case !strings.EqualFold(existing.Table, s.Name):
		return errs.Schema(op, fmt.Sprintf("conflicting index %s exists on table %s", idx.Name, existing.Table), nil)
	}

	var flags struct {
		Unique  bool `db:"unique"`
		Partial bool `db:"partial"`
	}
	if err := tx.GetContext(ctx, &flags,
		`SELECT "unique", partial FROM pragma_index_list(?) WHERE name = ? COLLATE NOCASE`, s.Name, idx.Name,
	); err != nil {
		return errs.Schema(op, "failed to read index "+idx.Name, err)
	}

	var columns []sql.NullString
	if err := tx.SelectContext(ctx, &columns,
		"SELECT name FROM pragma_index_info(?) ORDER BY seqno", idx.Name,
	); err != nil {
		return errs.Schema(op, "failed to read index "+idx.Name, err)
	}

	if flags.Unique != idx.Unique || flags.Partial || !sameColumns(columns, idx.Columns) {
		return errs.Schema(op, fmt.Sprintf("conflicting index %s exists with a different shape", idx.Name), nil)
	}
	return nil
}

// sameColumns compares index columns in order. Expression columns have no
// name and never match.
func sameColumns(have []sql.NullString, want []string) bool {
	if len(have) != len(want) {
		return false
	}
	for i := range have {
		if !have[i].Valid || !strings.EqualFold(have[i].String, want[i]) {
			return false
		}
	}
	return true
}

// Exists reports whether a table with the given name exists
func Exists(ctx context.Context, pool *database.Pool, name string) (bool, error) {
	var count int
	err := pool.WithSession(ctx, func(s *database.Session) error {
		return s.Get(ctx, &count,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE", name)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return count > 0, nil
}

// ListApplied returns the ledger of ensured schemas, oldest first
func ListApplied(ctx context.Context, pool *database.Pool) ([]Applied, error) {
	ok, err := Exists(ctx, pool, ledgerTable)
	if err != nil || !ok {
		return nil, err
	}

	var applied []Applied
	err = pool.WithSession(ctx, func(s *database.Session) error {
		return s.Select(ctx, &applied, "SELECT name, columns, applied_at FROM schema_entities ORDER BY applied_at, name")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list applied schemas: %w", err)
	}
	return applied, nil
}
