package sync

import (
	"context"
	"sync"
	"time"

	"github.com/klpod221/kerminal/lib/vault/store"
)

// Scheduler runs a bidirectional pass at a fixed interval for every
// database with auto-sync enabled, on top of an Engine's on-demand Run.
type Scheduler struct {
	engine *Engine

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewScheduler constructs a Scheduler bound to engine.
func NewScheduler(engine *Engine) *Scheduler {
	return &Scheduler{engine: engine, cancels: make(map[string]context.CancelFunc)}
}

// Enable starts a periodic bidirectional pass for cfg at cfg.SyncIntervalSecs,
// matching enable_auto_sync. Calling Enable again for the same database
// restarts the loop with the latest config.
func (s *Scheduler) Enable(cfg store.ExternalDatabaseConfig) {
	s.Disable(cfg.ID)

	interval := time.Duration(cfg.SyncIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[cfg.ID] = cancel
	s.mu.Unlock()

	go s.loop(ctx, cfg, interval)
}

// Disable stops the periodic pass for a database, matching disable_auto_sync.
func (s *Scheduler) Disable(databaseID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[databaseID]
	delete(s.cancels, databaseID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// DisableAll stops every running schedule, used on process shutdown.
func (s *Scheduler) DisableAll() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, c := range s.cancels {
		cancels = append(cancels, c)
	}
	s.cancels = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (s *Scheduler) loop(ctx context.Context, cfg store.ExternalDatabaseConfig, interval time.Duration) {
	ticker := s.engine.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			runCtx, cancel := context.WithTimeout(ctx, interval)
			_, err := s.engine.Run(runCtx, cfg, store.SyncDirectionBidirectional)
			cancel()
			if err != nil {
				s.engine.log.WithError(err).WithField("database_id", cfg.ID).Warn("scheduled sync pass failed")
			}
		}
	}
}
