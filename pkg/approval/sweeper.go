package approval

import (
	"log/slog"
	"time"
)

// Sweeper periodically runs Store.Cleanup. An interval of 0 disables it.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper builds a sweeper; call Start to run it.
func NewSweeper(store *Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. No-op when the interval is 0.
func (s *Sweeper) Start() {
	if s.interval <= 0 {
		close(s.done)
		return
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := s.store.Cleanup(); removed > 0 {
					s.logger.Debug("approval sweep removed records",
						slog.Int("removed", removed))
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit. Safe to call once.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}
