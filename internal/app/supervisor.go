package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	restartDelay    = 2 * time.Second
	maxRestartDelay = 30 * time.Second
)

// Group is one independently supervised failure domain. Start builds the
// group's components from scratch and blocks until they stop; a restart
// therefore reconstructs every actor in the group with fresh state.
type Group struct {
	Name  string
	Start func(ctx context.Context) error
}

// Supervisor runs its groups concurrently and restarts any group that fails,
// with exponential backoff. A failure in one group never restarts another:
// the market-data side and the trading side are separate failure domains, so
// a feed hiccup cannot interrupt an open trade, and a trading fault replays
// startup reconciliation without tearing down the books.
type Supervisor struct {
	groups []Group
	logger *slog.Logger
}

// NewSupervisor creates a Supervisor over the given groups.
func NewSupervisor(groups []Group, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		groups: groups,
		logger: logger.With(slog.String("component", "supervisor")),
	}
}

// Run blocks until ctx is cancelled. Group failures are contained and
// restarted; only cancellation ends supervision.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, grp := range s.groups {
		grp := grp
		g.Go(func() error {
			return s.runGroup(ctx, grp)
		})
	}

	return g.Wait()
}

func (s *Supervisor) runGroup(ctx context.Context, grp Group) error {
	delay := restartDelay

	for {
		s.logger.Info("starting group", slog.String("group", grp.Name))
		started := time.Now()

		err := grp.Start(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A group that ran for a while gets a fresh backoff window.
		if time.Since(started) > time.Minute {
			delay = restartDelay
		}

		s.logger.Error("group failed, restarting",
			slog.String("group", grp.Name),
			slog.String("error", errString(err)),
			slog.Duration("backoff", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxRestartDelay {
			delay = maxRestartDelay
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "stopped without error"
	}
	return err.Error()
}
