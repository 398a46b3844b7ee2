package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/domain"
)

func newTestStore(t *testing.T) *OrderStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "orders.db")
	store, err := NewOrderStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOrderStore_InsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	o := domain.NewOrder("RELIANCE", domain.SideBuy, 10, decimal.NewFromFloat(2512.40))
	o.BrokerOrderID = "b-123"
	if err := store.Insert(ctx, o); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Symbol != "RELIANCE" || got.Side != domain.SideBuy || got.Quantity != 10 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if !got.LimitPrice.Equal(decimal.NewFromFloat(2512.40)) {
		t.Errorf("LimitPrice = %s, want 2512.40", got.LimitPrice)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("Status = %s, want PENDING", got.Status)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}

	byBroker, err := store.GetByBrokerOrderID(ctx, "b-123")
	if err != nil {
		t.Fatalf("GetByBrokerOrderID failed: %v", err)
	}
	if byBroker.ID != o.ID {
		t.Errorf("broker lookup returned %s, want %s", byBroker.ID, o.ID)
	}
}

func TestOrderStore_UpdateBumpsVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	o := domain.NewOrder("TCS", domain.SideBuy, 5, decimal.NewFromInt(4000))
	if err := store.Insert(ctx, o); err != nil {
		t.Fatal(err)
	}

	o.MarkFailed("insufficient_balance", time.Now())
	if err := store.Update(ctx, o); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if o.Version != 2 {
		t.Errorf("in-memory Version = %d, want 2", o.Version)
	}

	got, err := store.Get(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusFailed || got.Reason != "insufficient_balance" {
		t.Errorf("persisted order = %s/%q", got.Status, got.Reason)
	}
	if got.FirstFailedAt.IsZero() {
		t.Error("FirstFailedAt not persisted")
	}
}

func TestOrderStore_UpdateDetectsConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	o := domain.NewOrder("INFY", domain.SideSell, 40, decimal.NewFromInt(1500))
	if err := store.Insert(ctx, o); err != nil {
		t.Fatal(err)
	}

	// Two loops load the same row.
	copy1, _ := store.Get(ctx, o.ID)
	copy2, _ := store.Get(ctx, o.ID)

	copy1.Reason = "writer one"
	if err := store.Update(ctx, copy1); err != nil {
		t.Fatalf("first writer failed: %v", err)
	}

	copy2.Reason = "writer two"
	err := store.Update(ctx, copy2)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	// Missing rows are reported distinctly.
	ghost := domain.NewOrder("GHOST", domain.SideBuy, 1, decimal.Zero)
	if err := store.Update(ctx, ghost); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOrderStore_FindActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A CLOSED historical order must never block.
	closed := domain.NewOrder("WIPRO", domain.SideBuy, 10, decimal.NewFromInt(500))
	closed.Status = domain.StatusClosed
	if err := store.Insert(ctx, closed); err != nil {
		t.Fatal(err)
	}

	if _, err := store.FindActive(ctx, "WIPRO", domain.SideBuy); !errors.Is(err, ErrNotFound) {
		t.Fatalf("closed order reported active: %v", err)
	}

	active := domain.NewOrder("WIPRO", domain.SideBuy, 12, decimal.NewFromInt(510))
	active.MarkFailed("rejected", time.Now())
	if err := store.Insert(ctx, active); err != nil {
		t.Fatal(err)
	}

	got, err := store.FindActive(ctx, "WIPRO", domain.SideBuy)
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if got.ID != active.ID {
		t.Errorf("FindActive returned %s, want %s", got.ID, active.ID)
	}

	// Side is an independent axis.
	if _, err := store.FindActive(ctx, "WIPRO", domain.SideSell); !errors.Is(err, ErrNotFound) {
		t.Errorf("sell lookup matched a buy order: %v", err)
	}
}

func TestOrderStore_ListByStatusAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, sym := range []string{"A", "B", "C"} {
		o := domain.NewOrder(sym, domain.SideBuy, int64(i+1), decimal.NewFromInt(100))
		if i == 2 {
			o.Status = domain.StatusCancelled
		} else {
			o.MarkFailed("rejected", time.Now())
		}
		if err := store.Insert(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	failed, err := store.ListByStatus(ctx, domain.SideBuy, domain.StatusFailed)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(failed) != 2 {
		t.Errorf("got %d FAILED orders, want 2", len(failed))
	}

	n, err := store.CountActive(ctx, domain.SideBuy)
	if err != nil {
		t.Fatalf("CountActive failed: %v", err)
	}
	if n != 2 {
		t.Errorf("CountActive = %d, want 2", n)
	}
}
