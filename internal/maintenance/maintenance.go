package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Store is the subset of the pool the scheduler maintains
type Store interface {
	Optimize(ctx context.Context) error
	Checkpoint(ctx context.Context) error
	Vacuum(ctx context.Context) error
}

// Config controls scheduled maintenance
type Config struct {
	Enabled  bool
	Schedule string
	Vacuum   bool
	Timeout  time.Duration
}

// Scheduler runs database maintenance on a cron schedule
type Scheduler struct {
	store  Store
	config Config

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a maintenance scheduler
func New(store Store, cfg Config) *Scheduler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Scheduler{
		store:  store,
		config: cfg,
	}
}

// Start registers the schedule and starts the cron runner. It is a no-op
// when maintenance is disabled.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || !s.config.Enabled {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.config.Schedule, s.scheduledRun); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.config.Schedule, err)
	}
	s.cron = c

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.running = true

	log.Info().
		Str("schedule", s.config.Schedule).
		Bool("vacuum", s.config.Vacuum).
		Msg("Maintenance scheduler started")
	return nil
}

// Stop cancels any running job and waits for the cron runner to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	ctx := s.cron.Stop()
	s.running = false
	s.mu.Unlock()

	// jobs take s.mu, so wait outside the lock
	<-ctx.Done()

	log.Info().Msg("Maintenance scheduler stopped")
}

// Running reports whether the scheduler is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) scheduledRun() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, s.config.Timeout)
	defer cancel()

	if err := s.RunNow(ctx); err != nil {
		log.Error().Err(err).Msg("Scheduled database maintenance failed")
	}
}

// RunNow performs optimize and checkpoint, plus vacuum when configured
func (s *Scheduler) RunNow(ctx context.Context) error {
	start := time.Now()

	if err := s.store.Optimize(ctx); err != nil {
		return err
	}
	if err := s.store.Checkpoint(ctx); err != nil {
		return err
	}
	if s.config.Vacuum {
		if err := s.store.Vacuum(ctx); err != nil {
			return err
		}
	}

	log.Debug().Dur("duration", time.Since(start)).Bool("vacuum", s.config.Vacuum).Msg("Database maintenance complete")
	return nil
}
