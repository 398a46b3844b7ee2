package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/domain"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/notify"
)

func (h *harness) newReentry(r *Ratchet) *Reentry {
	return NewReentry(h.store, h.client, h.newGuard(), r, h.recorder)
}

func TestReentry_AveragesPositionAndSyncsSell(t *testing.T) {
	h := newHarness(t)
	ratchet := h.newRatchet()
	re := h.newReentry(ratchet)
	ctx := context.Background()

	// Existing position: 40 shares at 2500 with its executed buy record,
	// protected by a sell order.
	h.paper.SetHolding("INFY", 40, dec("2500"))
	entry := domain.NewOrder("INFY", domain.SideBuy, 40, dec("2500"))
	entry.MarkExecuted(dec("2500"), 40, time.Now())
	if err := h.store.Insert(ctx, entry); err != nil {
		t.Fatal(err)
	}
	h.md.SetIndicator("INFY", dec("2600"))
	if err := ratchet.RunPass(ctx); err != nil {
		t.Fatal(err)
	}

	// The averaging order fills instantly at 2400 for 20 shares.
	h.paper.FillOnPlace(dec("2400"))
	if err := re.Execute(ctx, ReentrySignal{Symbol: "INFY", Quantity: 20, Price: dec("2400")}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// (2500*40 + 2400*20) / 60 = 2466.67, rounded to 2 places.
	var found bool
	for _, ev := range h.recorder.Events {
		if ev.Type == notify.EventReentry && ev.Symbol == "INFY" {
			found = true
			if !strings.Contains(ev.Reason, "2466.67") {
				t.Errorf("averaging audit = %q, want new average 2466.67", ev.Reason)
			}
		}
	}
	if !found {
		t.Fatal("reentry event not emitted")
	}

	// The sell order follows the new total quantity at the unchanged
	// frozen price.
	sells, err := h.store.ListByStatus(ctx, domain.SideSell, domain.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(sells) != 1 {
		t.Fatalf("got %d pending sells, want 1", len(sells))
	}
	if sells[0].Quantity != 60 {
		t.Errorf("sell quantity = %d, want 60", sells[0].Quantity)
	}
	if !sells[0].LimitPrice.Equal(dec("2600")) {
		t.Errorf("sell price = %s, want unchanged frozen 2600", sells[0].LimitPrice)
	}

	// The averaging buy joins the entry record as a second ONGOING buy.
	buys, err := h.store.ListByStatus(ctx, domain.SideBuy, domain.StatusOngoing)
	if err != nil {
		t.Fatal(err)
	}
	if len(buys) != 2 {
		t.Fatalf("got %d ongoing buys, want 2", len(buys))
	}
	for _, buy := range buys {
		if buy.ID == entry.ID {
			continue
		}
		if !buy.ExecutionPrice.Equal(dec("2400")) || buy.ExecutionQuantity != 20 {
			t.Errorf("execution = %d @ %s", buy.ExecutionQuantity, buy.ExecutionPrice)
		}
	}
}

func TestReentry_SkipsWhenActiveBuyExists(t *testing.T) {
	h := newHarness(t)
	ratchet := h.newRatchet()
	re := h.newReentry(ratchet)
	ctx := context.Background()

	h.paper.SetHolding("INFY", 40, dec("2500"))

	existing := domain.NewOrder("INFY", domain.SideBuy, 20, dec("2400"))
	if err := h.store.Insert(ctx, existing); err != nil {
		t.Fatal(err)
	}

	if err := re.Execute(ctx, ReentrySignal{Symbol: "INFY", Quantity: 20, Price: dec("2400")}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := h.paper.Calls("place_order"); got != 0 {
		t.Errorf("place_order called %d times, want 0 with an active buy", got)
	}
}

func TestReentry_RequiresExistingHolding(t *testing.T) {
	h := newHarness(t)
	ratchet := h.newRatchet()
	re := h.newReentry(ratchet)
	ctx := context.Background()

	err := re.Execute(ctx, ReentrySignal{Symbol: "INFY", Quantity: 20, Price: dec("2400")})
	if err == nil {
		t.Fatal("Execute succeeded without a holding, want error")
	}
	if got := h.paper.Calls("place_order"); got != 0 {
		t.Errorf("place_order called %d times, want 0", got)
	}
}

func TestReentry_RejectionRecordsFailed(t *testing.T) {
	h := newHarness(t)
	ratchet := h.newRatchet()
	re := h.newReentry(ratchet)
	ctx := context.Background()

	h.paper.SetHolding("INFY", 40, dec("2500"))
	h.paper.RejectNext("margin shortfall")

	if err := re.Execute(ctx, ReentrySignal{Symbol: "INFY", Quantity: 20, Price: dec("2400")}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	failed, err := h.store.ListByStatus(ctx, domain.SideBuy, domain.StatusFailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 {
		t.Fatalf("got %d failed orders, want 1", len(failed))
	}
	if failed[0].Reason != "broker rejected: margin shortfall" {
		t.Errorf("reason = %q", failed[0].Reason)
	}
}
