package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/paper"
)

// Trade statuses persisted on the trades table.
const (
	TradeStatusOpen   = "OPEN"
	TradeStatusClosed = "CLOSED"
)

const insertTradeQuery = `
	INSERT INTO trades (id, timestamp, symbol, side, entry, stop, target, status, position_size, leverage, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
`

const closeTradeQuery = `
	UPDATE trades
	SET status = $2, close_price = $3, close_reason = $4, pnl = $5, updated_at = NOW()
	WHERE id = $1
`

const recentTradesQuery = `
	SELECT id, timestamp, symbol, side, entry, stop, target, status, position_size, leverage,
	       COALESCE(close_price, 0), COALESCE(close_reason, ''), COALESCE(pnl, 0)
	FROM trades
	ORDER BY timestamp DESC
	LIMIT $1
`

// TradeRow is one persisted trade record.
type TradeRow struct {
	ID          string
	Timestamp   time.Time
	Symbol      string
	Side        string
	Entry       float64
	Stop        float64
	Target      float64
	Status      string
	SizeUSD     float64
	Leverage    float64
	ClosePrice  float64
	CloseReason string
	PnL         float64
}

// TradeRepo persists paper-ledger entries. It satisfies paper.TradeStore.
type TradeRepo struct {
	log zerolog.Logger
	q   Querier
}

func NewTradeRepo(log zerolog.Logger, q Querier) *TradeRepo {
	return &TradeRepo{log: log.With().Str("component", "trade_repo").Logger(), q: q}
}

// InsertTrade writes a newly opened position.
func (r *TradeRepo) InsertTrade(ctx context.Context, tr paper.Trade) error {
	side := "SELL"
	if tr.Long {
		side = "BUY"
	}
	_, err := r.q.Exec(ctx, insertTradeQuery,
		tr.ID, tr.OpenedAt, tr.Symbol, side, tr.Entry, tr.Stop, tr.Target,
		TradeStatusOpen, tr.SizeUSD, tr.Leverage)
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", tr.ID, err)
	}
	return nil
}

// CloseTrade records the exit on an existing row.
func (r *TradeRepo) CloseTrade(ctx context.Context, tr paper.Trade) error {
	_, err := r.q.Exec(ctx, closeTradeQuery,
		tr.ID, TradeStatusClosed, tr.ClosePrice, tr.CloseReason, tr.PnLUSD)
	if err != nil {
		return fmt.Errorf("failed to close trade %s: %w", tr.ID, err)
	}
	return nil
}

// RecentTrades returns the latest n trades, newest first.
func (r *TradeRepo) RecentTrades(ctx context.Context, n int) ([]TradeRow, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := r.q.Query(ctx, recentTradesQuery, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var t TradeRow
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.Symbol, &t.Side, &t.Entry, &t.Stop, &t.Target,
			&t.Status, &t.SizeUSD, &t.Leverage, &t.ClosePrice, &t.CloseReason, &t.PnL); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
