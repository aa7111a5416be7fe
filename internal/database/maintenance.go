package database

import (
	"context"
	"fmt"
)

// Optimize runs SQLite's PRAGMA optimize to refresh planner stats.
func (p *Pool) Optimize(ctx context.Context) error {
	return p.maintain(ctx, "PRAGMA optimize", "optimize")
}

// Checkpoint folds the WAL back into the main database file and truncates it.
func (p *Pool) Checkpoint(ctx context.Context) error {
	return p.maintain(ctx, "PRAGMA wal_checkpoint(TRUNCATE)", "checkpoint")
}

// Vacuum rebuilds the database file to reclaim unused space.
func (p *Pool) Vacuum(ctx context.Context) error {
	return p.maintain(ctx, "VACUUM", "vacuum")
}

func (p *Pool) maintain(ctx context.Context, stmt, name string) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return p.WithSession(ctx, func(s *Session) error {
		p.writeMu.Lock()
		defer p.writeMu.Unlock()

		if _, err := s.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to %s database: %w", name, err)
		}
		return nil
	})
}
