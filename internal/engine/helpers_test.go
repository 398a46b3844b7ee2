package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/broker"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/calendar"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/infra"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/marketdata"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/notify"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/storage"
)

// harness bundles the fakes every engine test needs.
type harness struct {
	store    *storage.OrderStore
	paper    *broker.Paper
	client   broker.Client
	md       *marketdata.Static
	recorder *notify.Recorder
	cal      calendar.TradingCalendar
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "orders.db")
	store, err := storage.NewOrderStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	paper := broker.NewPaper(decimal.NewFromInt(1_000_000))
	client := broker.NewRetrying(
		paper,
		infra.NewRateLimiter(1000, 10000),
		infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
			Name:             "test",
			FailureThreshold: 1000,
			SuccessThreshold: 1,
			Timeout:          time.Millisecond,
		}),
		infra.RetryPolicy{Attempts: 3, Delay: time.Millisecond},
	)

	return &harness{
		store:    store,
		paper:    paper,
		client:   client,
		md:       marketdata.NewStatic(),
		recorder: &notify.Recorder{},
		cal:      calendar.NewWeekdayCalendar(),
	}
}

func (h *harness) newGuard() *Guard {
	return NewGuard(h.store, h.client, h.recorder)
}

func (h *harness) newOrchestrator(source CandidateSource, maxOpen int, perTrade decimal.Decimal) *Orchestrator {
	return NewOrchestrator(h.store, h.client, h.newGuard(), h.cal, h.md, source, h.recorder, maxOpen, perTrade)
}

func (h *harness) newRatchet() *Ratchet {
	return NewRatchet(h.store, h.client, h.md, h.recorder)
}

func staticCandidates(cands ...Candidate) CandidateSource {
	return CandidateFunc(func(ctx context.Context) ([]Candidate, error) {
		return cands, nil
	})
}

func noCandidates() CandidateSource {
	return staticCandidates()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
