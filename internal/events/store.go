package events

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/ubatuba/eventtracker/internal/database"
	"github.com/ubatuba/eventtracker/internal/metrics"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ErrNotFound is returned when no event has the requested id
var ErrNotFound = errors.New("event not found")

const eventColumns = `id, title, description, location, date, image, category, payload, created_at`

// ListOptions filters and pages List
type ListOptions struct {
	Category string
	Limit    int
	Offset   int
}

// Store reads and writes events through scoped sessions
type Store struct {
	pool *database.Pool
	now  func() time.Time
}

// NewStore creates an event store on the given pool
func NewStore(pool *database.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Create validates and stores a new event
func (s *Store) Create(ctx context.Context, in NewEvent) (*Event, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	payload := in.Payload
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		payload = json.RawMessage(`{}`)
	}

	e := &Event{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
		Date:        in.Date.UTC(),
		Image:       in.Image,
		Category:    in.Category,
		Payload:     payload,
		CreatedAt:   s.now().UTC(),
	}

	err := s.pool.WithSession(ctx, func(sess *database.Session) error {
		return sess.Write(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO events (`+eventColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, e.ID, e.Title, e.Description, e.Location, e.Date, e.Image, e.Category, []byte(e.Payload), e.CreatedAt)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	metrics.EventsCreated.Inc()
	log.Debug().Str("event_id", e.ID).Str("title", e.Title).Msg("Event created")
	return e, nil
}

// Get returns the event with the given id
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	e := &Event{}
	err := s.pool.WithSession(ctx, func(sess *database.Session) error {
		return sess.Get(ctx, e, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// List returns events ordered by date, optionally filtered by category
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(opts.Offset, 0)

	query := `SELECT ` + eventColumns + ` FROM events`
	var args []any
	if opts.Category != "" {
		query += ` WHERE category = ?`
		args = append(args, opts.Category)
	}
	query += ` ORDER BY date ASC, created_at ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	events := []*Event{}
	err := s.pool.WithSession(ctx, func(sess *database.Session) error {
		return sess.Select(ctx, &events, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// Count returns the number of stored events
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.pool.WithSession(ctx, func(sess *database.Session) error {
		return sess.Get(ctx, &count, `SELECT COUNT(*) FROM events`)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// Delete removes the event with the given id
func (s *Store) Delete(ctx context.Context, id string) error {
	var affected int64
	err := s.pool.WithSession(ctx, func(sess *database.Session) error {
		return sess.Write(ctx, func(tx *sqlx.Tx) error {
			res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	metrics.EventsDeleted.Inc()
	log.Debug().Str("event_id", id).Msg("Event deleted")
	return nil
}
