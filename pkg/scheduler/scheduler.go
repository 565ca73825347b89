// Package scheduler runs the node's long-lived loops under one supervisor:
// the HTTP control surface and the daily skills check-in sweep. A failing
// task cancels its siblings so the process exits instead of limping.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/famlabs/agentnode/pkg/interop"
	"github.com/famlabs/agentnode/pkg/memory"
)

const shutdownGrace = 2 * time.Second

// Supervisor owns a set of named background tasks and runs them until the
// context is cancelled or one of them fails.
type Supervisor struct {
	log   *slog.Logger
	tasks []task
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

// NewSupervisor builds an empty supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	return &Supervisor{log: logger}
}

// Add registers a task. run must return promptly once ctx is cancelled, and
// should return nil for a clean shutdown.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, task{name: name, run: run})
}

// AddServer registers an HTTP server as a task. Cancellation drains the
// server with a bounded grace period.
func (s *Supervisor) AddServer(name string, srv *http.Server) {
	s.Add(name, func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	})
}

// Run executes every registered task and blocks until all have returned.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			s.log.Info("task started", "task", t.name)
			err := t.run(ctx)
			if err != nil {
				s.log.Error("task failed", "task", t.name, "error", err)
			} else {
				s.log.Info("task stopped", "task", t.name)
			}
			return err
		})
	}
	return g.Wait()
}

// CheckinLoop periodically sweeps configured peers with the daily skills
// check-in. The outbox is the scheduling state, so waking much more often
// than the send window is harmless.
type CheckinLoop struct {
	bridge   *interop.Bridge
	episodic *memory.EpisodicStore
	log      *slog.Logger
	tick     time.Duration
	window   time.Duration
}

// NewCheckinLoop builds a loop. Zero tick defaults to one hour; zero window
// defaults to 24 hours.
func NewCheckinLoop(bridge *interop.Bridge, episodic *memory.EpisodicStore, logger *slog.Logger, tick, window time.Duration) *CheckinLoop {
	if tick <= 0 {
		tick = time.Hour
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &CheckinLoop{bridge: bridge, episodic: episodic, log: logger, tick: tick, window: window}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (l *CheckinLoop) Run(ctx context.Context) error {
	l.sweep(ctx)
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.sweep(ctx)
		}
	}
}

func (l *CheckinLoop) sweep(ctx context.Context) {
	for _, result := range l.bridge.SendDailySkillsCheckins(ctx, l.window) {
		if result.OK {
			if _, err := l.episodic.Record(ctx, "daily_checkin_sent",
				map[string]any{"target": result.Target}, "", "allow"); err != nil {
				l.log.Error("record check-in event", "target", result.Target, "error", err)
			}
			continue
		}
		l.log.Warn("daily check-in failed", "target", result.Target, "error", result.Error)
		if _, err := l.episodic.Record(ctx, "daily_checkin_failed",
			map[string]any{"target": result.Target, "error": result.Error}, "", "deny"); err != nil {
			l.log.Error("record check-in event", "target", result.Target, "error", err)
		}
	}
}
