package brains

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/state"
)

// MarketSymbol is the synthetic equal-weight index every instrument is
// correlated against. The portfolio layer reads Correlation(sym, MarketSymbol)
// as the instrument's market beta proxy.
const MarketSymbol = "MARKET"

const (
	corrTimeframe  = "15m"
	corrMinReturns = 20
)

// CorrelationAnalyzer computes the pairwise return-correlation matrix over
// the basket plus the synthetic market index. Best-effort: a failed pass
// keeps the previous matrix.
type CorrelationAnalyzer struct {
	log zerolog.Logger
	sys *state.SystemState
}

func NewCorrelationAnalyzer(log zerolog.Logger, sys *state.SystemState) *CorrelationAnalyzer {
	return &CorrelationAnalyzer{
		log: log.With().Str("component", "correlation").Logger(),
		sys: sys,
	}
}

// Analyze rebuilds the correlation matrix from 15m close-to-close returns.
// Symbols are truncated to the shortest common return window so every pair
// compares the same bars.
func (c *CorrelationAnalyzer) Analyze(ctx context.Context, data MarketData) error {
	returns := make(map[string][]float64)
	shortest := math.MaxInt
	for symbol := range data {
		if err := ctx.Err(); err != nil {
			return err
		}
		series := data.Series(symbol, corrTimeframe)
		r := pctReturns(series.Closes())
		if len(r) < corrMinReturns {
			continue
		}
		returns[symbol] = r
		if len(r) < shortest {
			shortest = len(r)
		}
	}
	if len(returns) == 0 {
		return fmt.Errorf("no symbol had %d usable %s returns", corrMinReturns, corrTimeframe)
	}

	symbols := make([]string, 0, len(returns))
	for sym, r := range returns {
		returns[sym] = r[len(r)-shortest:]
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	// Equal-weight market index over the aligned windows.
	market := make([]float64, shortest)
	for _, sym := range symbols {
		for i, v := range returns[sym] {
			market[i] += v / float64(len(symbols))
		}
	}
	returns[MarketSymbol] = market
	symbols = append(symbols, MarketSymbol)

	matrix := make(map[string]map[string]float64, len(symbols))
	for _, a := range symbols {
		matrix[a] = make(map[string]float64, len(symbols))
		for _, b := range symbols {
			if a == b {
				matrix[a][b] = 1
				continue
			}
			matrix[a][b] = pearson(returns[a], returns[b])
		}
	}

	c.sys.SetCorrelations(matrix)
	c.log.Debug().Int("symbols", len(symbols)-1).Int("window", shortest).Msg("Correlation matrix updated")
	return nil
}

func pctReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}

// pearson returns the correlation coefficient of two equal-length samples,
// zero when either side has no variance.
func pearson(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}
	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
