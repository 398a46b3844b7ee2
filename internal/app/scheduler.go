package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/calendar"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/engine"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/infra"
)

// Scheduler runs the three independent loops: placement cycle, sell
// ratchet monitor, and reconciliation. No loop blocks another; the order
// store's versioned updates serialize writes to the same row.
type Scheduler struct {
	cfg          *infra.Config
	cal          calendar.TradingCalendar
	orchestrator *engine.Orchestrator
	ratchet      *engine.Ratchet
	reconciler   *engine.Reconciler
}

func NewScheduler(cfg *infra.Config, cal calendar.TradingCalendar, o *engine.Orchestrator, r *engine.Ratchet, rec *engine.Reconciler) *Scheduler {
	return &Scheduler{cfg: cfg, cal: cal, orchestrator: o, ratchet: r, reconciler: rec}
}

// Run blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	loops := []struct {
		name       string
		interval   time.Duration
		marketOnly bool
		fn         func(context.Context) error
	}{
		{"placement", time.Duration(s.cfg.Loops.PlacementIntervalSec) * time.Second, false, s.orchestrator.RunCycle},
		{"ratchet", time.Duration(s.cfg.Loops.RatchetIntervalSec) * time.Second, true, s.ratchet.RunPass},
		{"reconcile", time.Duration(s.cfg.Loops.ReconcileIntervalSec) * time.Second, true, s.reconciler.RunPass},
	}

	for _, loop := range loops {
		wg.Add(1)
		go func(name string, interval time.Duration, marketOnly bool, fn func(context.Context) error) {
			defer wg.Done()
			s.runLoop(ctx, name, interval, marketOnly, fn)
		}(loop.name, loop.interval, loop.marketOnly, loop.fn)
	}

	wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, marketOnly bool, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("loop started", slog.String("loop", name), slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			slog.Info("loop stopped", slog.String("loop", name))
			return
		case <-ticker.C:
			if marketOnly && !s.cal.WithinSession(time.Now()) {
				continue
			}
			if err := fn(ctx); err != nil {
				// Cycle-level errors mean the store was unreachable; the
				// next tick retries from scratch.
				slog.Error("loop iteration failed",
					slog.String("loop", name), slog.Any("error", err))
			}
		}
	}
}
