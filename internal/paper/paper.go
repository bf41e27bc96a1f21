// Package paper mirrors emitted trade intents into an in-process ledger.
// The ledger is the source of truth for the portfolio slice: every open and
// close rebuilds PortfolioState and publishes it.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/marketstate"
	"github.com/marketvigil/vigil/internal/state"
)

// Close reasons recorded on the trade row.
const (
	CloseTarget = "TARGET_HIT"
	CloseStop   = "STOP_HIT"
	CloseManual = "MANUAL"
)

// Trade is one ledger entry, open or closed.
type Trade struct {
	ID          string
	Symbol      string
	Long        bool
	SizeUSD     float64
	Leverage    float64
	Entry       float64
	Stop        float64
	Target      float64
	EntryState  marketstate.State
	Confidence  float64
	Entropy     float64
	OpenedAt    time.Time
	MarkPrice   float64
	ClosedAt    time.Time
	ClosePrice  float64
	CloseReason string
	PnLUSD      float64
	Open        bool
}

// TradeStore persists ledger entries. Persistence is best-effort: a store
// failure is logged and the in-memory ledger stays authoritative.
type TradeStore interface {
	InsertTrade(ctx context.Context, tr Trade) error
	CloseTrade(ctx context.Context, tr Trade) error
}

// Ledger holds open paper positions and a bounded closed-trade history.
type Ledger struct {
	log       zerolog.Logger
	sys       *state.SystemState
	store     TradeStore
	budgetUSD float64
	now       func() time.Time

	mu     sync.Mutex
	open   map[string]*Trade // keyed by symbol, one position per instrument
	closed []Trade
}

const closedHistoryCap = 200

func NewLedger(log zerolog.Logger, sys *state.SystemState, store TradeStore, budgetUSD float64) *Ledger {
	return &Ledger{
		log:       log.With().Str("component", "paper_ledger").Logger(),
		sys:       sys,
		store:     store,
		budgetUSD: budgetUSD,
		now:       time.Now,
		open:      make(map[string]*Trade),
	}
}

// Open records a new paper position. A second intent on a symbol with an
// open position is rejected; the validator chain is expected to have
// deduplicated upstream, so this is a consistency backstop.
func (l *Ledger) Open(ctx context.Context, pos state.PositionSnapshot) error {
	if err := pos.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	if _, exists := l.open[pos.Symbol]; exists {
		l.mu.Unlock()
		return fmt.Errorf("position already open for %s", pos.Symbol)
	}
	tr := &Trade{
		ID:         uuid.NewString(),
		Symbol:     pos.Symbol,
		Long:       pos.Long,
		SizeUSD:    pos.SizeUSD,
		Leverage:   pos.Leverage,
		Entry:      pos.EntryPrice,
		Stop:       pos.StopPrice,
		Target:     pos.TargetPrice,
		EntryState: pos.EntryState,
		Confidence: pos.Confidence,
		Entropy:    pos.Entropy,
		OpenedAt:   pos.OpenedAt,
		Open:       true,
	}
	if tr.OpenedAt.IsZero() {
		tr.OpenedAt = l.now()
	}
	l.open[pos.Symbol] = tr
	l.mu.Unlock()

	l.publishPortfolio()
	l.log.Info().
		Str("symbol", tr.Symbol).
		Bool("long", tr.Long).
		Float64("size_usd", tr.SizeUSD).
		Float64("entry", tr.Entry).
		Msg("Paper position opened")

	if l.store != nil {
		if err := l.store.InsertTrade(ctx, *tr); err != nil {
			l.log.Warn().Err(err).Str("trade_id", tr.ID).Msg("Failed to persist paper trade open")
		}
	}
	return nil
}

// Mark feeds the latest price for a symbol. Crossing the stop or target
// closes the position; otherwise unrealized PnL is refreshed. Returns the
// closed trade when an exit fired.
func (l *Ledger) Mark(ctx context.Context, symbol string, price float64) (Trade, bool) {
	if price <= 0 {
		return Trade{}, false
	}
	l.mu.Lock()
	tr, ok := l.open[symbol]
	if !ok {
		l.mu.Unlock()
		return Trade{}, false
	}

	if reason, hit := tr.exitReason(price); hit {
		closed := l.closeLocked(tr, price, reason)
		l.mu.Unlock()
		l.afterClose(ctx, closed)
		return closed, true
	}
	tr.MarkPrice = price
	l.mu.Unlock()
	l.publishPortfolio()
	return Trade{}, false
}

// CloseAll force-closes every open position at the given mark prices.
// Symbols without a price close at entry (flat PnL).
func (l *Ledger) CloseAll(ctx context.Context, prices map[string]float64) []Trade {
	l.mu.Lock()
	var out []Trade
	for sym, tr := range l.open {
		price, ok := prices[sym]
		if !ok || price <= 0 {
			price = tr.Entry
		}
		out = append(out, l.closeLocked(tr, price, CloseManual))
	}
	l.mu.Unlock()
	for _, tr := range out {
		l.afterClose(ctx, tr)
	}
	return out
}

// exitReason reports whether price crosses this trade's stop or target.
func (t *Trade) exitReason(price float64) (string, bool) {
	if t.Long {
		if t.Target > 0 && price >= t.Target {
			return CloseTarget, true
		}
		if t.Stop > 0 && price <= t.Stop {
			return CloseStop, true
		}
		return "", false
	}
	if t.Target > 0 && price <= t.Target {
		return CloseTarget, true
	}
	if t.Stop > 0 && price >= t.Stop {
		return CloseStop, true
	}
	return "", false
}

func (l *Ledger) closeLocked(tr *Trade, price float64, reason string) Trade {
	tr.Open = false
	tr.ClosedAt = l.now()
	tr.ClosePrice = price
	tr.CloseReason = reason
	tr.PnLUSD = pnlUSD(tr, price)
	delete(l.open, tr.Symbol)

	l.closed = append(l.closed, *tr)
	if len(l.closed) > closedHistoryCap {
		l.closed = l.closed[len(l.closed)-closedHistoryCap:]
	}
	return *tr
}

func (l *Ledger) afterClose(ctx context.Context, tr Trade) {
	l.publishPortfolio()
	l.log.Info().
		Str("symbol", tr.Symbol).
		Str("reason", tr.CloseReason).
		Float64("pnl_usd", tr.PnLUSD).
		Msg("Paper position closed")
	if l.store != nil {
		if err := l.store.CloseTrade(ctx, tr); err != nil {
			l.log.Warn().Err(err).Str("trade_id", tr.ID).Msg("Failed to persist paper trade close")
		}
	}
}

func pnlUSD(tr *Trade, price float64) float64 {
	if tr.Entry <= 0 {
		return 0
	}
	move := (price - tr.Entry) / tr.Entry
	if !tr.Long {
		move = -move
	}
	return tr.SizeUSD * move
}

// publishPortfolio rebuilds the PortfolioState slice from open positions.
func (l *Ledger) publishPortfolio() {
	l.mu.Lock()
	book := state.PortfolioState{
		RiskBudgetUSD: l.budgetUSD,
		UpdatedAt:     l.now(),
	}
	for _, tr := range l.open {
		unrealized := 0.0
		if tr.MarkPrice > 0 {
			unrealized = pnlUSD(tr, tr.MarkPrice)
		}
		book.Positions = append(book.Positions, state.PositionSnapshot{
			Symbol:       tr.Symbol,
			Long:         tr.Long,
			SizeUSD:      tr.SizeUSD,
			EntryPrice:   tr.Entry,
			StopPrice:    tr.Stop,
			TargetPrice:  tr.Target,
			Leverage:     tr.Leverage,
			EntryState:   tr.EntryState,
			Confidence:   tr.Confidence,
			Entropy:      tr.Entropy,
			UnrealizedPL: unrealized,
			OpenedAt:     tr.OpenedAt,
		})
		book.UsedRiskUSD += tr.SizeUSD
	}
	l.mu.Unlock()
	book.Aggregate()
	l.sys.SetPortfolio(book)
}

// OpenPositions returns a copy of the open book.
func (l *Ledger) OpenPositions() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Trade, 0, len(l.open))
	for _, tr := range l.open {
		out = append(out, *tr)
	}
	return out
}

// ClosedTrades returns up to n most recent closed trades, newest last.
func (l *Ledger) ClosedTrades(n int) []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.closed) {
		n = len(l.closed)
	}
	out := make([]Trade, n)
	copy(out, l.closed[len(l.closed)-n:])
	return out
}

// Summary is the daily report feed.
type Summary struct {
	Since       time.Time
	Closed      int
	Wins        int
	Losses      int
	NetPnLUSD   float64
	OpenCount   int
	OpenSizeUSD float64
}

// Summarize aggregates closed trades since the cutoff plus the open book.
func (l *Ledger) Summarize(since time.Time) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Summary{Since: since, OpenCount: len(l.open)}
	for _, tr := range l.open {
		s.OpenSizeUSD += tr.SizeUSD
	}
	for _, tr := range l.closed {
		if tr.ClosedAt.Before(since) {
			continue
		}
		s.Closed++
		s.NetPnLUSD += tr.PnLUSD
		if tr.PnLUSD >= 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	return s
}
