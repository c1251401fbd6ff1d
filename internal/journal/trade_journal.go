package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jlindqvist/scalpd/internal/domain"
)

// TradeJournal implements domain.TradeJournal using PostgreSQL.
type TradeJournal struct {
	pool *pgxpool.Pool
}

// NewTradeJournal creates a journal backed by the given connection pool.
func NewTradeJournal(pool *pgxpool.Pool) *TradeJournal {
	return &TradeJournal{pool: pool}
}

const tradeSelectCols = `id, inst_id, direction, size, entry_price, exit_price,
	pnl, signal_score, close_reason, opened_at, closed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		if err := rows.Scan(
			&t.ID, &t.InstID, &t.Direction, &t.Size,
			&t.EntryPrice, &t.ExitPrice, &t.PnL, &t.SignalScore,
			&t.CloseReason, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert writes one closed trade. Re-inserting the same id is a no-op so a
// retried close never duplicates a row.
func (j *TradeJournal) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, inst_id, direction, size, entry_price, exit_price,
			pnl, signal_score, close_reason, opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err := j.pool.Exec(ctx, query,
		rec.ID, rec.InstID, string(rec.Direction), rec.Size,
		rec.EntryPrice, rec.ExitPrice, rec.PnL, rec.SignalScore,
		string(rec.CloseReason), rec.OpenedAt, rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("journal: insert trade %s: %w", rec.ID, err)
	}
	return nil
}

// ListBefore returns trades closed strictly before cutoff, oldest first.
// Pass limit <= 0 for no limit.
func (j *TradeJournal) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE closed_at < $1 ORDER BY closed_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("journal: scan trades: %w", err)
	}
	return trades, nil
}

// DeleteBefore deletes trades closed before cutoff and returns the number
// removed.
func (j *TradeJournal) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := j.pool.Exec(ctx, `DELETE FROM trades WHERE closed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TradeJournal = (*TradeJournal)(nil)
