// The engine binary runs the full analysis loop: market data in, validated
// signals out, with the FSM, watchdog and reaper supervising from outside
// the cycle scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/marketvigil/vigil/internal/api"
	"github.com/marketvigil/vigil/internal/brains"
	"github.com/marketvigil/vigil/internal/bus"
	"github.com/marketvigil/vigil/internal/config"
	"github.com/marketvigil/vigil/internal/db"
	"github.com/marketvigil/vigil/internal/decision"
	"github.com/marketvigil/vigil/internal/drift"
	"github.com/marketvigil/vigil/internal/exchange"
	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/generator"
	"github.com/marketvigil/vigil/internal/guardian"
	"github.com/marketvigil/vigil/internal/market"
	"github.com/marketvigil/vigil/internal/metrics"
	"github.com/marketvigil/vigil/internal/paper"
	"github.com/marketvigil/vigil/internal/risk"
	"github.com/marketvigil/vigil/internal/state"
	"github.com/marketvigil/vigil/internal/telegram"
	"github.com/marketvigil/vigil/internal/trace"
	"github.com/marketvigil/vigil/internal/watchdog"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return watchdog.ExitConfigError
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := log.Logger

	logger.Info().
		Str("environment", cfg.App.Environment).
		Strs("symbols", cfg.Trading.Symbols).
		Msg("Vigil engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys := state.New(logger)

	// Optional persistence. Without a database the engine runs purely in
	// memory: no checkpoints, no trade history, no decision trace.
	var (
		pg          *db.DB
		checkpoints generator.CheckpointStore
		tradeStore  paper.TradeStore
		traceStore  decision.TraceStore
	)
	if cfg.Database.Enabled() {
		pg, err = db.New(ctx, cfg.Database.GetDSN())
		if err != nil {
			logger.Error().Err(err).Msg("Database unavailable, running without persistence")
		} else {
			defer pg.Close()
			if err := db.EnsureSchema(ctx, pg.Pool()); err != nil {
				logger.Error().Err(err).Msg("Schema bootstrap failed")
				return watchdog.ExitConfigError
			}
			repo := db.NewSnapshotRepo(logger, pg.Pool())
			checkpoints = repo
			tradeStore = db.NewTradeRepo(logger, pg.Pool())
			traceStore = trace.NewStore(logger, pg.Pool())

			if cp, ok, err := repo.Latest(ctx); err != nil {
				logger.Warn().Err(err).Msg("Checkpoint load failed, starting cold")
			} else if ok {
				sys = state.Restore(logger, cp)
				logger.Info().Time("checkpoint", cp.Timestamp).Msg("SystemState restored")
			}
		}
	}

	machine := fsm.New(logger, fsm.DefaultConfig(), sys)
	// The event loop is the only consumer of the FSM queue; without it,
	// watchdog and guardian events would pile up and never apply.
	go machine.Run(ctx)
	breakers := risk.NewBreakerManager()
	fetcher := exchange.NewClient(logger, breakers)

	var cache generator.CandleCache
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = market.NewCandleCache(rdb, cfg.Redis.TTL())
	}

	var publisher *bus.Publisher
	if cfg.NATS.Enabled() {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.App.Name))
		if err != nil {
			logger.Warn().Err(err).Msg("NATS unavailable, bus publishing disabled")
		} else {
			defer nc.Close()
			publisher = bus.NewPublisher(logger, nc, sys, machine, cfg.App.Name, cfg.NATS.HeartbeatInterval())
			publisher.Start()
			defer publisher.Stop()
		}
	}

	registry := guardian.NewModuleRegistry(logger)
	guard := guardian.New(logger, registry, machine, sys)

	riskCore := risk.NewCore(logger, risk.DefaultLimits())
	meta := decision.NewMetaBrain(logger, sys)
	core := decision.NewCore(logger, sys)
	portfolio := decision.NewPortfolioBrain(logger, sys)
	sizer := decision.NewPositionSizer(logger, cfg.Risk.MinRiskPct)
	ledger := paper.NewLedger(logger, sys, tradeStore, cfg.Risk.RiskBudgetUSD)

	var (
		emitter decision.Emitter
		sender  *telegram.Sender
	)
	if cfg.Telegram.Enabled() {
		tg, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Error().Err(err).Msg("Telegram unavailable, signals will be logged only")
		} else {
			sender = telegram.NewSender(logger, tg, cfg.Telegram.ChatID, breakers)
			emitter = sender
			if cfg.Telegram.EnableBot {
				bot := telegram.NewBot(logger, tg, telegram.Deps{
					Sys:         sys,
					Machine:     machine,
					Guardian:    guard,
					Core:        core,
					Sizer:       sizer,
					Ledger:      ledger,
					BalanceUSD:  cfg.Trading.InitialCapital,
					BaseRiskPct: cfg.Risk.BaseRiskPct,
				}, cfg.Telegram.AllowedChatID)
				go bot.Run(ctx)
			}
		}
	}

	var transitionSinks []fsm.Notifier
	if publisher != nil {
		transitionSinks = append(transitionSinks, publisher)
	}
	if sender != nil {
		transitionSinks = append(transitionSinks, sender)
	}
	if len(transitionSinks) > 0 {
		machine.SetNotifier(fanoutNotifier(transitionSinks))
	}

	gate := decision.NewGatekeeper(logger, decision.Config{
		BalanceUSD:        cfg.Trading.InitialCapital,
		InitialBalanceUSD: cfg.Trading.InitialCapital,
		BaseRiskPct:       cfg.Risk.BaseRiskPct,
	}, sys, guard, riskCore, meta, core, portfolio, sizer, traceStore, emitter, ledger)

	exposureBrain := brains.NewRiskExposureBrain(logger, sys, cfg.Risk.RiskBudgetUSD)

	registry.Attach(guardian.ModuleGatekeeper, gate)
	registry.Attach(guardian.ModuleDecisionCore, core)
	registry.Attach(guardian.ModuleStateMachine, machine)
	registry.Attach(guardian.ModuleRiskExposureBrain, exposureBrain)

	// Watchdog and reaper live outside the cycle scheduler on purpose: a
	// wedged loop cannot silence them.
	dog := watchdog.NewThreadWatchdog(logger, watchdog.DefaultConfig(), machine, os.Exit)
	go dog.Run(ctx)
	reaper := watchdog.NewFatalReaper(logger, machine, os.Exit, 0)
	go reaper.Run(ctx)

	srv := api.NewServer(api.Config{
		Host:     cfg.API.Host,
		Port:     cfg.API.Port,
		Sys:      sys,
		Machine:  machine,
		Guardian: guard,
		Ledger:   ledger,
	})
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("API server failed")
		}
	}()

	go metrics.NewUpdater(logger, sys, machine, 10*time.Second).Run(ctx)
	if cfg.Monitoring.EnableMetrics {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info().Str("addr", addr).Msg("Prometheus endpoint up")
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error().Err(err).Msg("Prometheus endpoint failed")
			}
		}()
	}

	var signalLog generator.SignalAppender
	if cfg.Trading.SignalLogPath != "" {
		signalLog = db.NewSignalLog(logger, cfg.Trading.SignalLogPath)
	}
	var notifier generator.Notifier
	if sender != nil {
		notifier = sender
	}

	gen := generator.New(logger, generator.Config{
		Symbols:         cfg.Trading.Symbols,
		AnchorTimeframe: cfg.Trading.AnchorTimeframe,
		KlineLimit:      cfg.Trading.KlineLimit,
		CycleInterval:   cfg.Trading.CycleInterval(),
		SnapshotEvery:   cfg.Trading.SnapshotEvery(),
	}, generator.Deps{
		Fetcher:     fetcher,
		Cache:       cache,
		Sys:         sys,
		Machine:     machine,
		Regime:      brains.NewMarketRegimeBrain(logger, sys),
		Exposure:    exposureBrain,
		Cognitive:   brains.NewCognitiveBrain(logger, sys),
		Opportunity: brains.NewOpportunityBrain(logger, sys),
		Correlation: brains.NewCorrelationAnalyzer(logger, sys),
		Core:        core,
		Gatekeeper:  gate,
		Ledger:      ledger,
		Reports:     ledger,
		Drift:       drift.New(logger, 0, 0),
		Watchdog:    dog,
		Checkpoints: checkpoints,
		SignalLog:   signalLog,
		Notifier:    notifier,
	})

	gen.Run(ctx)

	// Past this point the context is cancelled: shut down in dependency
	// order and refuse further FSM transitions.
	logger.Info().Msg("Shutdown signal received")
	machine.MarkShutdownStarted()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API shutdown incomplete")
	}
	if checkpoints != nil {
		if err := checkpoints.Save(shutdownCtx, sys.CreateCheckpoint()); err != nil {
			logger.Warn().Err(err).Msg("Final checkpoint failed")
		}
	}

	logger.Info().Int64("cycles", gen.Cycles()).Msg("Vigil engine stopped")
	return watchdog.ExitGraceful
}

// fanoutNotifier delivers FSM transition notices to every configured sink.
type fanoutNotifier []fsm.Notifier

func (f fanoutNotifier) NotifyTransition(t fsm.Transition) {
	for _, n := range f {
		n.NotifyTransition(t)
	}
}
