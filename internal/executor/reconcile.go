package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jlindqvist/scalpd/internal/domain"
)

// Reconcile compares persisted position state against the exchange's live
// positions and resolves every mismatch before trading begins. The exchange
// is authoritative for existence; local state is authoritative for how the
// position should be managed. Unknown exposure is always closed.
func (e *Executor) Reconcile(ctx context.Context) error {
	saved := e.store.LoadTrade()

	live, err := e.trading.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}

	switch {
	case saved == nil && len(live) == 0:
		e.logger.Info("reconciliation clean, no positions")
		return nil

	case saved != nil && len(live) == 0:
		// The position closed while we were offline (TP/SL fired or was
		// closed out-of-band). Nothing to manage anymore.
		e.logger.Warn("persisted position no longer on exchange, clearing",
			slog.String("inst_id", saved.InstID),
		)
		if err := e.store.ClearTrade(); err != nil {
			return fmt.Errorf("clear stale position: %w", err)
		}
		e.notify(ctx, "reconcile_mismatch", "Stale position cleared",
			fmt.Sprintf("%s was persisted but no longer exists on the exchange", saved.InstID))
		return nil

	case saved == nil:
		return e.closeOrphans(ctx, live)

	default:
		return e.resumeOrClose(ctx, saved, live)
	}
}

// closeOrphans closes every exchange position we have no record of opening.
func (e *Executor) closeOrphans(ctx context.Context, live []domain.ExchangePosition) error {
	for _, p := range live {
		e.logger.Warn("orphaned exchange position, closing",
			slog.String("inst_id", p.InstID),
			slog.String("pos_side", p.PosSide),
			slog.Float64("size", p.Size),
		)
		if err := e.trading.ClosePosition(ctx, p.InstID, p.MarginMode, p.PosSide); err != nil {
			return fmt.Errorf("close orphan %s: %w", p.InstID, err)
		}
		e.notify(ctx, "reconcile_mismatch", "Orphan position closed",
			fmt.Sprintf("%s %s %.4f had no persisted state", p.InstID, p.PosSide, p.Size))
	}
	return nil
}

// resumeOrClose resumes management of the persisted position when the
// exchange confirms it, and closes anything else the exchange reports.
func (e *Executor) resumeOrClose(ctx context.Context, saved *domain.Position, live []domain.ExchangePosition) error {
	matched := false
	for _, p := range live {
		if p.InstID == saved.InstID && p.PosSide == saved.Side {
			matched = true
			continue
		}
		e.logger.Warn("unexpected exchange position, closing",
			slog.String("inst_id", p.InstID),
			slog.String("pos_side", p.PosSide),
		)
		if err := e.trading.ClosePosition(ctx, p.InstID, p.MarginMode, p.PosSide); err != nil {
			return fmt.Errorf("close unexpected %s: %w", p.InstID, err)
		}
		e.notify(ctx, "reconcile_mismatch", "Unexpected position closed",
			fmt.Sprintf("%s %s %.4f did not match the persisted position", p.InstID, p.PosSide, p.Size))
	}

	if !matched {
		e.logger.Warn("persisted position not among live positions, clearing",
			slog.String("inst_id", saved.InstID),
		)
		if err := e.store.ClearTrade(); err != nil {
			return fmt.Errorf("clear stale position: %w", err)
		}
		return nil
	}

	e.pos = saved
	e.epoch++

	elapsed := e.now().Sub(saved.OpenedAt)
	remaining := e.params.MaxHoldTime - elapsed
	e.armHoldTimerFor(remaining)

	e.logger.Info("resumed position management",
		slog.String("inst_id", saved.InstID),
		slog.String("direction", string(saved.Direction)),
		slog.Float64("size", saved.Size),
		slog.Duration("held", elapsed),
		slog.Duration("hold_remaining", remaining),
	)
	return nil
}
