package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ubatuba/eventtracker/internal/database"
	"github.com/ubatuba/eventtracker/internal/events"
	"github.com/ubatuba/eventtracker/internal/schema"
	"github.com/ubatuba/eventtracker/internal/web/handlers"
	"github.com/ubatuba/eventtracker/internal/web/middleware"
	"github.com/ubatuba/eventtracker/internal/web/sse"
)

// Server represents the web server
type Server struct {
	port      int
	bind      string
	router    *chi.Mux
	sseBroker *sse.Broker
	handlers  *handlers.Handlers
}

// NewServer creates a new web server over the event store
func NewServer(pool *database.Pool, initializer *schema.Initializer, port int, bind string) *Server {
	broker := sse.NewBroker(30 * time.Second)
	s := &Server{
		port:      port,
		bind:      bind,
		router:    chi.NewRouter(),
		sseBroker: broker,
		handlers:  handlers.New(pool, events.NewStore(pool), initializer, broker),
	}
	s.setupRoutes()
	return s
}

// SetVersionInfo forwards build information to the handlers
func (s *Server) SetVersionInfo(version, commit, date string) {
	s.handlers.SetVersionInfo(version, commit, date)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// SSEBroker returns the SSE broker for broadcasting store changes
func (s *Server) SSEBroker() *sse.Broker {
	return s.sseBroker
}

func (s *Server) setupRoutes() {
	r := s.router
	h := s.handlers

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// SSE endpoint - no timeout (long-lived connections)
	r.Get("/api/stream", s.sseBroker.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))

		r.Get("/healthz", h.Health)
		r.Get("/version", h.Version)
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/api/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Post("/", h.CreateEvent)
			r.Get("/{id}", h.GetEvent)
			r.Delete("/{id}", h.DeleteEvent)
		})
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	var addr string
	if s.bind != "" {
		addr = fmt.Sprintf("%s:%d", s.bind, s.port)
	} else {
		addr = fmt.Sprintf(":%d", s.port)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
		// ReadTimeout is for reading request body
		ReadTimeout: 15 * time.Second,
		// WriteTimeout disabled (0) to allow SSE long-lived connections
		// Chi middleware timeout (60s) protects regular requests
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		// Stop SSE broker first to close all client connections gracefully
		s.sseBroker.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		s.sseBroker.Stop()
		return err
	}
}
