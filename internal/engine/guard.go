// Package engine implements the order lifecycle: duplicate-guarded
// placement, retry under a trading-calendar expiry bound, the sell-side
// price ratchet, and reconciliation against the broker's observed state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/broker"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/domain"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/infra"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/notify"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/storage"
)

// Outcome is the guard's answer for an intended placement.
type Outcome int

const (
	// OutcomeProceed means no conflicting order exists; place it.
	OutcomeProceed Outcome = iota
	// OutcomeSkip means an equivalent or executed order already exists.
	OutcomeSkip
	// OutcomeReplaced means a stale order was cancelled to make room; the
	// caller should place the replacement.
	OutcomeReplaced
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProceed:
		return "PROCEED"
	case OutcomeSkip:
		return "SKIP"
	case OutcomeReplaced:
		return "REPLACED"
	default:
		return "UNKNOWN"
	}
}

// CheckInput describes the intended order.
type CheckInput struct {
	Symbol     string
	Side       domain.Side
	Quantity   int64
	LimitPrice decimal.Decimal

	// ExcludeOrderID skips one local order in the duplicate search. Retry
	// passes the order being retried so it does not block itself.
	ExcludeOrderID string

	// Reentry marks an averaging placement. Holdings and an executed buy
	// record are expected there and do not block; only an open
	// (PENDING/FAILED) buy order does.
	Reentry bool
}

// Guard is the layered duplicate-prevention check run before every new
// submission and every retry. Broker live state first (the wrapper retries
// transient failures), local database as fallback; if neither answers, the
// placement is aborted — never place blind.
type Guard struct {
	store   *storage.OrderStore
	client  broker.Client
	emitter notify.Emitter
	now     func() time.Time
}

func NewGuard(store *storage.OrderStore, client broker.Client, emitter notify.Emitter) *Guard {
	return &Guard{store: store, client: client, emitter: emitter, now: time.Now}
}

// Check answers whether the intended order may be placed.
func (g *Guard) Check(ctx context.Context, in CheckInput) (Outcome, error) {
	liveOrders, liveHoldings, liveErr := g.liveState(ctx)
	if liveErr != nil {
		slog.Warn("guard: live broker state unavailable, falling back to database",
			slog.String("symbol", in.Symbol),
			slog.Any("error", liveErr))
	}

	existing, err := g.store.FindActive(ctx, in.Symbol, in.Side)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		existing = nil
	case err != nil:
		// Store unreachable. With no live state either we would be blind;
		// and even with live state the store is the source of truth.
		return OutcomeSkip, fmt.Errorf("guard: order store unavailable: %w", err)
	}

	if liveErr == nil {
		// An executed position means averaging is a distinct, explicit
		// operation — never an implicit side effect of placement.
		if !in.Reentry && in.Side == domain.SideBuy {
			for _, h := range liveHoldings {
				if h.Symbol == in.Symbol && h.Quantity > 0 {
					slog.Info("guard: holdings exist, skipping",
						slog.String("symbol", in.Symbol))
					return OutcomeSkip, nil
				}
			}
		}

		// A broker-side open order the store does not know about (manual
		// placement) blocks too; reconciliation will ingest it.
		for _, snap := range liveOrders {
			if snap.Symbol != in.Symbol || snap.Side != in.Side || snap.State != broker.StateOpen {
				continue
			}
			if existing == nil || existing.BrokerOrderID != snap.BrokerOrderID {
				tracked, err := g.store.GetByBrokerOrderID(ctx, snap.BrokerOrderID)
				if err == nil && tracked.ID == in.ExcludeOrderID {
					continue
				}
				if err == nil && !tracked.IsActive() {
					continue
				}
				slog.Info("guard: untracked broker order exists, skipping",
					slog.String("symbol", in.Symbol),
					slog.String("broker_order_id", snap.BrokerOrderID))
				return OutcomeSkip, nil
			}
		}
	}

	if existing == nil || existing.ID == in.ExcludeOrderID {
		return OutcomeProceed, nil
	}

	// Position already executed: skip unconditionally, except for re-entry,
	// which exists to add to an executed position. A re-entry still yields
	// to an open order for the symbol so averaging never doubles up.
	if existing.Status == domain.StatusOngoing {
		if !in.Reentry {
			return OutcomeSkip, nil
		}
		open, err := g.store.ListByStatus(ctx, in.Side, domain.StatusPending, domain.StatusFailed)
		if err != nil {
			return OutcomeSkip, fmt.Errorf("guard: order store unavailable: %w", err)
		}
		for _, o := range open {
			if o.Symbol == in.Symbol && o.ID != in.ExcludeOrderID {
				return OutcomeSkip, nil
			}
		}
		return OutcomeProceed, nil
	}

	// PENDING/FAILED with identical parameters is a true duplicate.
	if existing.SameParams(in.Quantity, in.LimitPrice) {
		infra.MtxDuplicatesSkipped.Inc()
		slog.Info("guard: duplicate with unchanged parameters, skipping",
			slog.String("symbol", in.Symbol),
			slog.String("order_id", existing.ID))
		return OutcomeSkip, nil
	}

	// Parameters changed: cancel the stale order and let the caller place
	// the replacement.
	if err := g.supersede(ctx, existing); err != nil {
		return OutcomeSkip, err
	}
	return OutcomeReplaced, nil
}

func (g *Guard) liveState(ctx context.Context) ([]broker.OrderSnapshot, []domain.Holding, error) {
	orders, err := g.client.OpenOrders(ctx)
	if err != nil {
		return nil, nil, err
	}
	holdings, err := g.client.Holdings(ctx)
	if err != nil {
		return nil, nil, err
	}
	return orders, holdings, nil
}

func (g *Guard) supersede(ctx context.Context, existing *domain.Order) error {
	if existing.BrokerOrderID != "" && existing.Status == domain.StatusPending {
		if err := g.client.CancelOrder(ctx, existing.BrokerOrderID); err != nil && !errors.Is(err, broker.ErrNotFound) {
			return fmt.Errorf("guard: cancel stale order %s: %w", existing.ID, err)
		}
	}

	existing.MarkCancelled("superseded by parameter update")
	if err := g.store.Update(ctx, existing); err != nil {
		return fmt.Errorf("guard: persist supersede of %s: %w", existing.ID, err)
	}

	g.emitter.Emit(notify.Event{
		Type:     notify.EventOrderCancelled,
		Symbol:   existing.Symbol,
		OrderID:  existing.ID,
		Reason:   existing.Reason,
		Price:    existing.LimitPrice,
		Quantity: existing.Quantity,
		At:       g.now(),
	})
	return nil
}
