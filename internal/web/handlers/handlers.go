package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ubatuba/eventtracker/internal/database"
	"github.com/ubatuba/eventtracker/internal/events"
	"github.com/ubatuba/eventtracker/internal/schema"
	"github.com/ubatuba/eventtracker/internal/web/sse"
)

// VersionInfo holds application version information
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	pool        *database.Pool
	store       *events.Store
	initializer *schema.Initializer
	broker      *sse.Broker

	versionInfo VersionInfo
	versionMu   sync.RWMutex
}

// New creates a new Handlers instance. broker may be nil.
func New(pool *database.Pool, store *events.Store, initializer *schema.Initializer, broker *sse.Broker) *Handlers {
	return &Handlers{
		pool:        pool,
		store:       store,
		initializer: initializer,
		broker:      broker,
	}
}

// SetVersionInfo sets the application version information
func (h *Handlers) SetVersionInfo(version, commit, date string) {
	h.versionMu.Lock()
	defer h.versionMu.Unlock()
	h.versionInfo = VersionInfo{Version: version, Commit: commit, Date: date}
}

// GetVersionInfo returns the application version information
func (h *Handlers) GetVersionInfo() VersionInfo {
	h.versionMu.RLock()
	defer h.versionMu.RUnlock()
	return h.versionInfo
}

func (h *Handlers) broadcast(msg sse.Message) {
	if h.broker != nil {
		h.broker.Broadcast(msg)
	}
}

func (h *Handlers) jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handlers) jsonError(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}
