package api

import (
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "Vigil API",
		"version": "1.0.0",
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleHealthz is the liveness probe. It reports unhealthy only when the
// engine heartbeat has gone stale or the machine sits in FATAL.
func (s *Server) handleHealthz(c *gin.Context) {
	health := s.sys.Health()
	current := s.machine.Current().String()

	status := "ok"
	code := http.StatusOK
	hb := s.sys.LastHeartbeat()
	if current == "FATAL" {
		status = "fatal"
		code = http.StatusServiceUnavailable
	} else if !hb.IsZero() && time.Since(hb) > 5*time.Minute {
		status = "stale"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":             status,
		"fsm_state":          current,
		"last_heartbeat":     hb,
		"consecutive_errors": health.ConsecutiveErrors,
	})
}

// handleGetStatus returns comprehensive system status.
func (s *Server) handleGetStatus(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	health := s.sys.Health()
	perf := s.sys.Perf()

	c.JSON(http.StatusOK, gin.H{
		"status":    s.machine.Current().String(),
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).Seconds(),
		"version":   "1.0.0",
		"health": gin.H{
			"is_running":         health.IsRunning,
			"safe_mode":          health.SafeMode,
			"trading_paused":     health.TradingPaused,
			"last_heartbeat":     health.LastHeartbeat,
			"consecutive_errors": health.ConsecutiveErrors,
		},
		"performance": gin.H{
			"cycles_total":       perf.CyclesTotal,
			"signals_emitted":    perf.SignalsEmitted,
			"signals_blocked":    perf.SignalsBlocked,
			"fetch_failures":     perf.FetchFailures,
			"last_cycle_latency": perf.LastCycleLatency.String(),
		},
		"system": gin.H{
			"goroutines": runtime.NumGoroutine(),
			"memory": gin.H{
				"alloc_mb": toMB(memStats.Alloc),
				"sys_mb":   toMB(memStats.Sys),
				"num_gc":   memStats.NumGC,
			},
			"go_version": runtime.Version(),
		},
	})
}

func (s *Server) handleGetFSM(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":     s.machine.Current().String(),
		"can_trade": s.sys.CanTrade(),
	})
}

func (s *Server) handleGetTransitions(c *gin.Context) {
	transitions := s.machine.Transitions()

	out := make([]gin.H, 0, len(transitions))
	for _, t := range transitions {
		out = append(out, gin.H{
			"from":        t.From.String(),
			"to":          t.To.String(),
			"reason":      t.Reason,
			"owner":       t.Owner,
			"incident_id": t.IncidentID.String(),
			"timestamp":   t.Timestamp,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"count":       len(out),
		"transitions": out,
	})
}

func (s *Server) handleGetRegime(c *gin.Context) {
	r := s.sys.Regime()
	c.JSON(http.StatusOK, gin.H{
		"trend":      r.Trend.String(),
		"volatility": r.Volatility.String(),
		"sentiment":  r.Sentiment.String(),
		"confidence": r.Confidence,
		"degraded":   r.Degraded(),
	})
}

func (s *Server) handleGetExposure(c *gin.Context) {
	e := s.sys.Exposure()
	c.JSON(http.StatusOK, gin.H{
		"total_exposure_usd": e.TotalExposureUSD,
		"long_exposure_usd":  e.LongExposureUSD,
		"short_exposure_usd": e.ShortExposureUSD,
		"risk_budget_usd":    e.RiskBudgetUSD,
		"used_risk_usd":      e.UsedRiskUSD,
		"used_ratio":         e.UsedRatio(),
		"updated_at":         e.UpdatedAt,
	})
}

func (s *Server) handleGetCognitive(c *gin.Context) {
	cog := s.sys.Cognitive()
	c.JSON(http.StatusOK, gin.H{
		"confidence":  cog.Confidence,
		"entropy":     cog.Entropy,
		"drift_level": cog.DriftLevel,
		"updated_at":  cog.UpdatedAt,
	})
}

func (s *Server) handleGetOpportunities(c *gin.Context) {
	opps := s.sys.Opportunities()

	out := make([]gin.H, 0, len(opps))
	for _, o := range opps {
		out = append(out, gin.H{
			"symbol":     o.Symbol,
			"score":      o.Score,
			"direction":  o.Direction.String(),
			"note":       o.Note,
			"updated_at": o.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i]["score"].(float64), out[j]["score"].(float64)
		if si != sj {
			return si > sj
		}
		return out[i]["symbol"].(string) < out[j]["symbol"].(string)
	})

	c.JSON(http.StatusOK, gin.H{
		"count":         len(out),
		"opportunities": out,
	})
}

func (s *Server) handleGetGate(c *gin.Context) {
	result := s.guardian.CanTradeSync()
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetPositions(c *gin.Context) {
	positions := s.ledger.OpenPositions()

	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, gin.H{
			"id":          p.ID,
			"symbol":      p.Symbol,
			"side":        sideLabel(p.Long),
			"size_usd":    p.SizeUSD,
			"leverage":    p.Leverage,
			"entry":       p.Entry,
			"stop":        p.Stop,
			"target":      p.Target,
			"entry_state": p.EntryState.String(),
			"confidence":  p.Confidence,
			"entropy":     p.Entropy,
			"opened_at":   p.OpenedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     len(out),
		"positions": out,
	})
}

func (s *Server) handleGetTrades(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	days := queryInt(c, "days", 7)

	summary := s.ledger.Summarize(time.Now().AddDate(0, 0, -days))
	closed := s.ledger.ClosedTrades(limit)

	out := make([]gin.H, 0, len(closed))
	for _, tr := range closed {
		out = append(out, gin.H{
			"id":           tr.ID,
			"symbol":       tr.Symbol,
			"side":         sideLabel(tr.Long),
			"size_usd":     tr.SizeUSD,
			"entry":        tr.Entry,
			"close_price":  tr.ClosePrice,
			"close_reason": tr.CloseReason,
			"pnl_usd":      tr.PnLUSD,
			"opened_at":    tr.OpenedAt,
			"closed_at":    tr.ClosedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"summary": gin.H{
			"since":         summary.Since,
			"closed":        summary.Closed,
			"wins":          summary.Wins,
			"losses":        summary.Losses,
			"net_pnl_usd":   summary.NetPnLUSD,
			"open_count":    summary.OpenCount,
			"open_size_usd": summary.OpenSizeUSD,
		},
		"trades": out,
	})
}

func (s *Server) handleGetRecentSignals(c *gin.Context) {
	limit := queryInt(c, "limit", 10)
	signals := s.sys.RecentSignals(limit)

	out := make([]gin.H, 0, len(signals))
	for _, sig := range signals {
		out = append(out, gin.H{
			"timestamp":  sig.Timestamp,
			"symbol":     sig.Symbol,
			"state":      sig.State.String(),
			"decision":   sig.Decision,
			"score":      sig.Score,
			"confidence": sig.Confidence,
			"entropy":    sig.Entropy,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(out),
		"signals": out,
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func sideLabel(long bool) string {
	if long {
		return "LONG"
	}
	return "SHORT"
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
