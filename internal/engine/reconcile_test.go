package engine

import (
	"context"
	"testing"
	"time"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/broker"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/domain"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/notify"
)

func (h *harness) newReconciler(missBudget int) *Reconciler {
	return NewReconciler(h.store, h.client, h.recorder, missBudget)
}

func TestReconciler_PromotesExecutedOrder(t *testing.T) {
	h := newHarness(t)
	r := h.newReconciler(3)
	ctx := context.Background()

	order := domain.NewOrder("RELIANCE", domain.SideBuy, 10, dec("2500"))
	order.BrokerOrderID = "b-1"
	if err := h.store.Insert(ctx, order); err != nil {
		t.Fatal(err)
	}
	h.paper.Inject(broker.OrderSnapshot{
		BrokerOrderID:  "b-1",
		Symbol:         "RELIANCE",
		Side:           domain.SideBuy,
		Quantity:       10,
		Price:          dec("2500"),
		State:          broker.StateExecuted,
		FilledQuantity: 10,
		AvgFillPrice:   dec("2498.50"),
		PlacedAt:       time.Now(),
	})

	if err := r.RunPass(ctx); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	got, err := h.store.Get(ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusOngoing {
		t.Fatalf("status = %s, want ONGOING", got.Status)
	}
	if !got.ExecutionPrice.Equal(dec("2498.50")) || got.ExecutionQuantity != 10 {
		t.Errorf("execution = %d @ %s", got.ExecutionQuantity, got.ExecutionPrice)
	}
	if !h.recorder.Has(notify.EventOrderFilled, "RELIANCE") {
		t.Error("filled event not emitted")
	}
}

func TestReconciler_MapsRejectionToFailed(t *testing.T) {
	h := newHarness(t)
	r := h.newReconciler(3)
	ctx := context.Background()

	order := domain.NewOrder("TCS", domain.SideBuy, 5, dec("4000"))
	order.BrokerOrderID = "b-2"
	if err := h.store.Insert(ctx, order); err != nil {
		t.Fatal(err)
	}
	h.paper.Inject(broker.OrderSnapshot{
		BrokerOrderID: "b-2",
		Symbol:        "TCS",
		Side:          domain.SideBuy,
		Quantity:      5,
		Price:         dec("4000"),
		State:         broker.StateRejected,
		Reason:        "price outside circuit limit",
		PlacedAt:      time.Now(),
	})

	if err := r.RunPass(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := h.store.Get(ctx, order.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.Reason != "broker rejected: price outside circuit limit" {
		t.Errorf("reason = %q", got.Reason)
	}
	if got.FirstFailedAt.IsZero() {
		t.Error("first failure time not anchored for retry expiry")
	}
}

func TestReconciler_MissBudgetBeforeOutOfBandCancel(t *testing.T) {
	h := newHarness(t)
	r := h.newReconciler(3)
	ctx := context.Background()

	// An order the broker response never mentions, as after a manual
	// cancellation at the broker terminal.
	order := domain.NewOrder("WIPRO", domain.SideBuy, 20, dec("500"))
	order.BrokerOrderID = "ghost"
	if err := h.store.Insert(ctx, order); err != nil {
		t.Fatal(err)
	}

	// Two misses stay inside the budget: a transient gap in the broker
	// response must not cancel a live order.
	for pass := 1; pass <= 2; pass++ {
		if err := r.RunPass(ctx); err != nil {
			t.Fatal(err)
		}
		got, _ := h.store.Get(ctx, order.ID)
		if got.Status != domain.StatusPending {
			t.Fatalf("pass %d: status = %s, want still PENDING", pass, got.Status)
		}
	}

	// Third consecutive miss exhausts the budget.
	if err := r.RunPass(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := h.store.Get(ctx, order.ID)
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	if got.Reason != "not found at broker, treated as manual cancellation" {
		t.Errorf("reason = %q", got.Reason)
	}
	if !h.recorder.Has(notify.EventOrderCancelled, "WIPRO") {
		t.Error("cancellation event not emitted")
	}
}

func TestReconciler_ReappearanceResetsMissCount(t *testing.T) {
	h := newHarness(t)
	r := h.newReconciler(3)
	ctx := context.Background()

	order := domain.NewOrder("SBIN", domain.SideBuy, 100, dec("820"))
	order.BrokerOrderID = "b-3"
	if err := h.store.Insert(ctx, order); err != nil {
		t.Fatal(err)
	}

	// Two misses, then the order shows up again.
	for i := 0; i < 2; i++ {
		if err := r.RunPass(ctx); err != nil {
			t.Fatal(err)
		}
	}
	h.paper.Inject(broker.OrderSnapshot{
		BrokerOrderID: "b-3", Symbol: "SBIN", Side: domain.SideBuy,
		Quantity: 100, Price: dec("820"), State: broker.StateOpen, PlacedAt: time.Now(),
	})
	if err := r.RunPass(ctx); err != nil {
		t.Fatal(err)
	}

	// Vanishes again: the count starts over, two more misses are tolerated.
	h.paper.Drop("b-3")
	for i := 0; i < 2; i++ {
		if err := r.RunPass(ctx); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := h.store.Get(ctx, order.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("status = %s, want PENDING after miss count reset", got.Status)
	}
}

func TestReconciler_LeavesSellFillsToRatchet(t *testing.T) {
	h := newHarness(t)
	r := h.newReconciler(3)
	ratchet := h.newRatchet()
	ctx := context.Background()

	h.paper.SetHolding("INFY", 40, dec("1500"))
	h.md.SetIndicator("INFY", dec("1600"))
	if err := ratchet.RunPass(ctx); err != nil {
		t.Fatal(err)
	}
	sells, _ := h.store.ListByStatus(ctx, domain.SideSell, domain.StatusPending)
	if len(sells) != 1 {
		t.Fatal("no sell order to fill")
	}
	if err := h.paper.Fill(sells[0].BrokerOrderID, dec("1600")); err != nil {
		t.Fatal(err)
	}
	h.paper.SetHolding("INFY", 0, dec("1500"))

	// Reconciliation sees the executed sell but does not promote it; the
	// ratchet owns the exit, its P&L and the tracking removal.
	if err := r.RunPass(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := h.store.Get(ctx, sells[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("after reconciliation: status = %s, want still PENDING", got.Status)
	}

	if err := ratchet.RunPass(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = h.store.Get(ctx, sells[0].ID)
	if got.Status != domain.StatusClosed {
		t.Fatalf("after ratchet pass: status = %s, want CLOSED", got.Status)
	}
	if !got.RealizedPnL.Equal(dec("4000")) {
		t.Errorf("realized pnl = %s, want 4000", got.RealizedPnL)
	}

	// No duplicate sell was placed along the way.
	open, err := h.store.ListByStatus(ctx, domain.SideSell, domain.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Errorf("got %d pending sells after exit, want 0", len(open))
	}
}

func TestReconciler_LinksOrderWithoutBrokerID(t *testing.T) {
	h := newHarness(t)
	r := h.newReconciler(3)
	ctx := context.Background()

	// Submission crashed before the broker id was persisted.
	order := domain.NewOrder("INFY", domain.SideBuy, 40, dec("1500"))
	if err := h.store.Insert(ctx, order); err != nil {
		t.Fatal(err)
	}
	h.paper.Inject(broker.OrderSnapshot{
		BrokerOrderID: "b-4", Symbol: "INFY", Side: domain.SideBuy,
		Quantity: 40, Price: dec("1500"), State: broker.StateOpen, PlacedAt: time.Now(),
	})

	if err := r.RunPass(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := h.store.Get(ctx, order.ID)
	if got.BrokerOrderID != "b-4" {
		t.Errorf("broker order id = %q, want linked b-4", got.BrokerOrderID)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("status = %s, want PENDING", got.Status)
	}

	// Linked, not duplicated: no second local record for the symbol.
	all, err := h.store.ListByStatus(ctx, domain.SideBuy, domain.ActiveStatuses...)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("got %d active orders, want 1", len(all))
	}
}

func TestReconciler_IngestsManuallyPlacedOrder(t *testing.T) {
	h := newHarness(t)
	r := h.newReconciler(3)
	ctx := context.Background()

	h.paper.Inject(broker.OrderSnapshot{
		BrokerOrderID: "manual-7", Symbol: "HDFC", Side: domain.SideBuy,
		Quantity: 15, Price: dec("1600"), State: broker.StateOpen, PlacedAt: time.Now(),
	})

	if err := r.RunPass(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := h.store.GetByBrokerOrderID(ctx, "manual-7")
	if err != nil {
		t.Fatalf("manual order not ingested: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("status = %s, want PENDING", got.Status)
	}
	if got.Reason != "manually placed at broker" {
		t.Errorf("reason = %q", got.Reason)
	}

	// Second pass must not ingest it twice.
	if err := r.RunPass(ctx); err != nil {
		t.Fatal(err)
	}
	all, err := h.store.ListByStatus(ctx, domain.SideBuy, domain.ActiveStatuses...)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("got %d active orders, want 1", len(all))
	}
}
