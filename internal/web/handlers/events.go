package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ubatuba/eventtracker/internal/errs"
	"github.com/ubatuba/eventtracker/internal/events"
	"github.com/ubatuba/eventtracker/internal/web/sse"
)

// maxEventBodyBytes leaves room for images sent inline as base64 data URLs
const maxEventBodyBytes = 10 << 20

// dateLayouts are accepted for the event date. The web form submits
// datetime-local values without seconds or zone, which are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

type createEventRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Location    string          `json:"location"`
	Date        string          `json:"date"`
	Image       string          `json:"image"`
	Category    *string         `json:"category"`
	Payload     json.RawMessage `json:"payload"`
}

func parseEventDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ListEvents returns stored events
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := events.ListOptions{Category: strings.TrimSpace(q.Get("category"))}

	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			h.jsonError(w, "Invalid "+name, http.StatusBadRequest)
			return
		}
		*dst = v
	}

	list, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.storeError(w, err, "Failed to list events")
		return
	}
	h.jsonResponse(w, http.StatusOK, list)
}

// CreateEvent stores a new event
func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.jsonError(w, fmt.Sprintf("Request body too large (limit %d MB)", maxEventBodyBytes>>20), http.StatusRequestEntityTooLarge)
			return
		}
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	in := events.NewEvent{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Image:       req.Image,
		Category:    req.Category,
		Payload:     req.Payload,
	}
	if strings.TrimSpace(req.Date) != "" {
		date, ok := parseEventDate(req.Date)
		if !ok {
			h.jsonError(w, "invalid date: unrecognized format", http.StatusBadRequest)
			return
		}
		in.Date = date
	}

	created, err := h.store.Create(r.Context(), in)
	if err != nil {
		h.storeError(w, err, "Failed to create event")
		return
	}

	log.Info().Str("event_id", created.ID).Str("title", created.Title).Msg("Event created")
	h.broadcast(sse.Message{Type: sse.MessageEventCreated, Data: created})
	h.jsonResponse(w, http.StatusCreated, created)
}

// GetEvent returns a single event
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, err, "Failed to get event")
		return
	}
	h.jsonResponse(w, http.StatusOK, e)
}

// DeleteEvent removes an event
func (h *Handlers) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.storeError(w, err, "Failed to delete event")
		return
	}

	log.Info().Str("event_id", id).Msg("Event deleted")
	h.broadcast(sse.Message{Type: sse.MessageEventDeleted, Data: map[string]string{"id": id}})
	w.WriteHeader(http.StatusNoContent)
}

// storeError maps store errors onto HTTP statuses
func (h *Handlers) storeError(w http.ResponseWriter, err error, message string) {
	var verr *events.ValidationError
	switch {
	case errors.As(err, &verr):
		h.jsonError(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, events.ErrNotFound):
		h.jsonError(w, "Event not found", http.StatusNotFound)
	case errors.Is(err, errs.ErrConnection):
		log.Warn().Err(err).Msg(message)
		h.jsonError(w, "Storage unavailable", http.StatusServiceUnavailable)
	default:
		log.Error().Err(err).Msg(message)
		h.jsonError(w, message, http.StatusInternalServerError)
	}
}
