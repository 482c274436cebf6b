package backup

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs periodic backups via a background goroutine.
type Scheduler struct {
	runner   *Runner
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler creates and starts a periodic backup scheduler.
// If interval is 0, no goroutine is started and only on-demand runs happen.
func NewScheduler(runner *Runner, interval time.Duration) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if interval > 0 {
		go s.run()
	} else {
		close(s.done)
	}

	return s
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-ticker.C:
			if _, _, err := s.runner.RunOnce(context.Background()); err != nil {
				slog.Error("scheduled backup failed", "error", err)
			}
		case <-s.stop:
			return
		}
	}
}

// Shutdown stops the periodic scheduler and waits for it to finish.
func (s *Scheduler) Shutdown() {
	close(s.stop)
	<-s.done
}
