package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/broker"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/domain"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/infra"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/notify"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/storage"
)

// Reconciler synchronizes the order store with the broker's observed
// state: promotes PENDING orders per broker status, ingests or links
// manually-placed orders, and treats orders that keep vanishing from the
// broker response as out-of-band cancellations.
type Reconciler struct {
	store   *storage.OrderStore
	client  broker.Client
	emitter notify.Emitter
	now     func() time.Time

	// missBudget is how many consecutive passes an active order may be
	// absent from the broker response before it counts as cancelled;
	// transient gaps below the budget are tolerated.
	missBudget int
	misses     map[string]int
}

func NewReconciler(store *storage.OrderStore, client broker.Client, emitter notify.Emitter, missBudget int) *Reconciler {
	if missBudget < 1 {
		missBudget = 3
	}
	return &Reconciler{
		store:      store,
		client:     client,
		emitter:    emitter,
		now:        time.Now,
		missBudget: missBudget,
		misses:     make(map[string]int),
	}
}

// RunPass performs one reconciliation pass. Broker state is fetched once,
// not per symbol, to bound API calls.
func (r *Reconciler) RunPass(ctx context.Context) error {
	snaps, err := r.client.OpenOrders(ctx)
	if err != nil {
		infra.MtxReconcilePasses.WithLabelValues("error").Inc()
		slog.Warn("reconcile: broker orders unavailable, skipping pass", slog.Any("error", err))
		return nil
	}

	byBrokerID := make(map[string]broker.OrderSnapshot, len(snaps))
	for _, s := range snaps {
		byBrokerID[s.BrokerOrderID] = s
	}

	pending, err := r.store.ListByStatus(ctx, "", domain.StatusPending)
	if err != nil {
		infra.MtxReconcilePasses.WithLabelValues("error").Inc()
		return fmt.Errorf("reconcile: fetch pending orders: %w", err)
	}

	linked := make(map[string]bool)
	for _, order := range pending {
		if err := r.reconcileOrder(ctx, order, byBrokerID, snaps, linked); err != nil {
			slog.Error("reconcile: order failed",
				slog.String("order_id", order.ID), slog.Any("error", err))
		}
	}

	r.ingestUntracked(ctx, snaps, linked)
	r.checkHoldings(ctx)

	infra.MtxReconcilePasses.WithLabelValues("ok").Inc()
	return nil
}

// checkHoldings flags positions held at the broker that no local record
// explains. They are reported, not acted on; ownership of holdings stays
// with the broker.
func (r *Reconciler) checkHoldings(ctx context.Context) {
	holdings, err := r.client.Holdings(ctx)
	if err != nil {
		slog.Warn("reconcile: holdings unavailable, skipping drift check", slog.Any("error", err))
		return
	}

	for _, h := range holdings {
		if h.Quantity <= 0 {
			continue
		}
		_, err := r.store.FindActive(ctx, h.Symbol, domain.SideBuy)
		if errors.Is(err, storage.ErrNotFound) {
			slog.Warn("reconcile: holding with no tracked buy order",
				slog.String("symbol", h.Symbol),
				slog.Int64("quantity", h.Quantity))
		}
	}
}

func (r *Reconciler) reconcileOrder(ctx context.Context, order *domain.Order, byBrokerID map[string]broker.OrderSnapshot, snaps []broker.OrderSnapshot, linked map[string]bool) error {
	if order.BrokerOrderID == "" {
		// A submission that never got an id back. If a matching manual or
		// half-acknowledged broker order exists, link it instead of
		// creating a duplicate.
		for _, snap := range snaps {
			if snap.Symbol == order.Symbol && snap.Side == order.Side && snap.Quantity == order.Quantity && !linked[snap.BrokerOrderID] {
				order.BrokerOrderID = snap.BrokerOrderID
				linked[snap.BrokerOrderID] = true
				slog.Info("reconcile: linked broker order to local record",
					slog.String("order_id", order.ID),
					slog.String("broker_order_id", snap.BrokerOrderID))
				break
			}
		}
		if order.BrokerOrderID == "" {
			// Left PENDING for a later pass rather than guessed at.
			return nil
		}
	}

	snap, found := byBrokerID[order.BrokerOrderID]
	if !found {
		r.misses[order.ID]++
		if r.misses[order.ID] < r.missBudget {
			return nil
		}
		delete(r.misses, order.ID)

		// Consistently absent: cancelled out of band (manual cancellation
		// at the broker terminal).
		order.MarkCancelled("not found at broker, treated as manual cancellation")
		if err := r.store.Update(ctx, order); err != nil {
			return err
		}
		r.emitter.Emit(notify.Event{
			Type: notify.EventOrderCancelled, Symbol: order.Symbol,
			OrderID: order.ID, Reason: order.Reason,
			Price: order.LimitPrice, Quantity: order.Quantity, At: r.now(),
		})
		return nil
	}
	delete(r.misses, order.ID)
	linked[order.BrokerOrderID] = true

	// A filled protective sell is left PENDING here; the ratchet pass owns
	// the CLOSED transition, realized P&L and tracking removal.
	if order.Side == domain.SideSell && snap.State == broker.StateExecuted {
		return nil
	}

	order.LastStatusCheck = r.now()
	switch snap.State {
	case broker.StateExecuted:
		order.MarkExecuted(snap.AvgFillPrice, snap.FilledQuantity, r.now())
		r.emitter.Emit(notify.Event{
			Type: notify.EventOrderFilled, Symbol: order.Symbol,
			OrderID: order.ID, Price: snap.AvgFillPrice, Quantity: snap.FilledQuantity, At: r.now(),
		})
	case broker.StateRejected:
		order.MarkFailed(rejectionText(snap.Reason), r.now())
		infra.MtxOrdersFailed.WithLabelValues("rejected").Inc()
		r.emitter.Emit(notify.Event{
			Type: notify.EventOrderRejected, Symbol: order.Symbol,
			OrderID: order.ID, Reason: order.Reason,
			Price: order.LimitPrice, Quantity: order.Quantity, At: r.now(),
		})
	case broker.StateCancelled:
		order.MarkCancelled("cancelled at broker")
		r.emitter.Emit(notify.Event{
			Type: notify.EventOrderCancelled, Symbol: order.Symbol,
			OrderID: order.ID, Reason: order.Reason,
			Price: order.LimitPrice, Quantity: order.Quantity, At: r.now(),
		})
	default:
		// Anything else stays PENDING.
	}

	return r.store.Update(ctx, order)
}

// ingestUntracked creates local records for broker orders the store has
// never seen (manual placement at the broker terminal).
func (r *Reconciler) ingestUntracked(ctx context.Context, snaps []broker.OrderSnapshot, linked map[string]bool) {
	for _, snap := range snaps {
		if linked[snap.BrokerOrderID] {
			continue
		}
		if _, err := r.store.GetByBrokerOrderID(ctx, snap.BrokerOrderID); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("reconcile: broker id lookup failed",
				slog.String("broker_order_id", snap.BrokerOrderID), slog.Any("error", err))
			continue
		}

		order := domain.NewOrder(snap.Symbol, snap.Side, snap.Quantity, snap.Price)
		order.BrokerOrderID = snap.BrokerOrderID
		order.Reason = "manually placed at broker"
		switch snap.State {
		case broker.StateExecuted:
			order.MarkExecuted(snap.AvgFillPrice, snap.FilledQuantity, r.now())
		case broker.StateRejected:
			order.MarkFailed(rejectionText(snap.Reason), r.now())
		case broker.StateCancelled:
			order.MarkCancelled("cancelled at broker")
		}

		if err := r.store.Insert(ctx, order); err != nil {
			slog.Error("reconcile: ingest manual order",
				slog.String("broker_order_id", snap.BrokerOrderID), slog.Any("error", err))
			continue
		}
		slog.Info("reconcile: ingested manually placed order",
			slog.String("symbol", snap.Symbol),
			slog.String("broker_order_id", snap.BrokerOrderID))
	}
}
