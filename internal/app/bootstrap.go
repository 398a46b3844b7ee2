// Package app wires the engine together and runs its loops.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/broker"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/calendar"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/engine"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/infra"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/marketdata"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/notify"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/storage"
)

// Bootstrap orchestrates startup: config, logger, store, broker client,
// market data, and the three engine loops.
type Bootstrap struct {
	Config *infra.Config
	Store  *storage.OrderStore
	Broker broker.Client
	Feed   *marketdata.Feed

	Orchestrator *engine.Orchestrator
	Ratchet      *engine.Ratchet
	Reconciler   *engine.Reconciler
	Reentry      *engine.Reentry

	Calendar calendar.TradingCalendar
}

// NewBootstrap creates an empty bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize builds every component. The candidate source is supplied by
// the caller because the verdict engine lives outside this process
// boundary.
func (b *Bootstrap) Initialize(configPath string, source engine.CandidateSource, symbols []string) error {
	slog.Info("bootstrapping trade agent")

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg))

	store, err := storage.NewOrderStore(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("order store: %w", err)
	}
	b.Store = store
	slog.Info("order store initialized", "path", cfg.Storage.DBPath)

	// One rate limiter and one breaker front every broker call.
	limiter := infra.NewRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond)
	breaker := infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("broker"))

	var inner broker.Client
	if cfg.Trading.Mode == "live" {
		inner = broker.NewREST(cfg)
	} else {
		inner = broker.NewPaper(decimal.NewFromFloat(cfg.Portfolio.CapitalPerTrade).Mul(decimal.NewFromInt(int64(cfg.Portfolio.MaxPositions))))
	}
	b.Broker = broker.NewRetrying(inner, limiter, breaker, cfg.RetryPolicy())
	slog.Info("broker client ready", "mode", cfg.Trading.Mode)

	b.Calendar = calendar.NewHolidayCalendar(calendar.NewWeekdayCalendar(), cfg.Calendar.Holidays)

	b.Feed = marketdata.NewFeed(cfg.Broker.FeedWSURL, symbols)

	emitter := notify.Multi{notify.LogEmitter{}}

	guard := engine.NewGuard(store, b.Broker, emitter)
	b.Ratchet = engine.NewRatchet(store, b.Broker, b.Feed, emitter)
	b.Orchestrator = engine.NewOrchestrator(
		store, b.Broker, guard, b.Calendar, b.Feed, source, emitter,
		cfg.Portfolio.MaxPositions,
		decimal.NewFromFloat(cfg.Portfolio.CapitalPerTrade),
	)
	b.Reconciler = engine.NewReconciler(store, b.Broker, emitter, cfg.Loops.ReconcileMissBudget)
	b.Reentry = engine.NewReentry(store, b.Broker, guard, b.Ratchet, emitter)

	return nil
}

// Start restores state and launches the feed and the loops.
func (b *Bootstrap) Start(ctx context.Context) error {
	if err := b.Ratchet.Restore(ctx); err != nil {
		return err
	}

	if b.Config.Broker.FeedWSURL != "" {
		b.Feed.Start(ctx)
	}

	sched := NewScheduler(b.Config, b.Calendar, b.Orchestrator, b.Ratchet, b.Reconciler)
	sched.Run(ctx)
	return nil
}

// Close releases resources.
func (b *Bootstrap) Close() {
	if b.Feed != nil {
		b.Feed.Stop()
	}
	if b.Store != nil {
		b.Store.Close()
	}
}
