package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ubatuba/eventtracker/internal/schema"
)

// MaxTitleLength caps the event title in characters
const MaxTitleLength = 200

// Event is a tracked event. It is immutable once stored.
type Event struct {
	ID          string          `db:"id" json:"id"`
	Title       string          `db:"title" json:"title"`
	Description string          `db:"description" json:"description"`
	Location    string          `db:"location" json:"location"`
	Date        time.Time       `db:"date" json:"date"`
	Image       string          `db:"image" json:"image"`
	Category    *string         `db:"category" json:"category"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// NewEvent holds the caller-supplied fields of an event to store
type NewEvent struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Location    string          `json:"location"`
	Date        time.Time       `json:"date"`
	Image       string          `json:"image"`
	Category    *string         `json:"category"`
	Payload     json.RawMessage `json:"payload"`
}

// ValidationError reports an invalid NewEvent field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validate trims text fields in place and checks required values
func (n *NewEvent) Validate() error {
	n.Title = strings.TrimSpace(n.Title)
	n.Description = strings.TrimSpace(n.Description)
	n.Location = strings.TrimSpace(n.Location)
	n.Image = strings.TrimSpace(n.Image)

	if n.Title == "" {
		return &ValidationError{Field: "title", Message: "is required"}
	}
	if len([]rune(n.Title)) > MaxTitleLength {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("must be at most %d characters", MaxTitleLength)}
	}
	if n.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "is required"}
	}
	if n.Category != nil {
		c := strings.TrimSpace(*n.Category)
		if c == "" {
			n.Category = nil
		} else {
			n.Category = &c
		}
	}
	if len(n.Payload) > 0 && !json.Valid(n.Payload) {
		return &ValidationError{Field: "payload", Message: "must be valid JSON"}
	}
	return nil
}

// Schema is the storage shape of Event
var Schema = schema.EntitySchema{
	Name: "events",
	Columns: []schema.Column{
		{Name: "id", Type: schema.Text, PrimaryKey: true, NotNull: true},
		{Name: "title", Type: schema.Text, NotNull: true},
		{Name: "description", Type: schema.Text, NotNull: true},
		{Name: "location", Type: schema.Text, NotNull: true},
		{Name: "date", Type: schema.Timestamp, NotNull: true},
		{Name: "image", Type: schema.Text, NotNull: true},
		{Name: "category", Type: schema.Text},
		{Name: "payload", Type: schema.Blob, NotNull: true},
		{Name: "created_at", Type: schema.Timestamp, NotNull: true},
	},
	Indexes: []schema.Index{
		{Name: "idx_events_date", Columns: []string{"date"}},
		{Name: "idx_events_category", Columns: []string{"category"}},
	},
}
