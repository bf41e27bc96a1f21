// Package brains holds the analysis layer. Each brain owns exactly one
// SystemState slice and is its only writer; a brain that fails or times out
// leaves its prior slice intact and the cycle continues without it.
package brains

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/exchange"
)

// Per-pass deadlines. The correlation pass walks every symbol pair and gets
// a wider budget than a single brain.
const (
	DefaultBrainTimeout       = 5 * time.Second
	DefaultCorrelationTimeout = 30 * time.Second
)

// MarketData is the per-cycle candle bundle: symbol -> timeframe -> series.
// Missing entries mean the fetch failed; brains skip them.
type MarketData map[string]map[string]exchange.Series

// Series returns the series for (symbol, timeframe), nil when absent.
func (m MarketData) Series(symbol, timeframe string) exchange.Series {
	tfs, ok := m[symbol]
	if !ok {
		return nil
	}
	return tfs[timeframe]
}

// RunBounded executes one brain pass under a deadline with panic recovery.
// Timeouts and panics come back as plain errors so the caller can count them
// as health signals without unwinding the cycle.
func RunBounded(ctx context.Context, log zerolog.Logger, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultBrainTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s panicked: %v", name, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Str("brain", name).Msg("Brain pass failed, prior state retained")
		}
		return err
	case <-ctx.Done():
		log.Error().Str("brain", name).Dur("timeout", timeout).Msg("Brain pass timed out, prior state retained")
		return fmt.Errorf("%s: %w", name, ctx.Err())
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
