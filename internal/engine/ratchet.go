package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/broker"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/domain"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/infra"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/marketdata"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/notify"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/storage"
)

// Ratchet places and maintains the protective sell order for every held
// symbol. The target price is frozen at first placement and only ever
// moves down (toward a faster exit); quantity follows holdings as
// re-entries occur. Price and quantity are independent axes.
type Ratchet struct {
	store   *storage.OrderStore
	client  broker.Client
	md      marketdata.Provider
	emitter notify.Emitter
	now     func() time.Time

	mu       sync.Mutex
	tracking map[string]*domain.SellTracking
}

func NewRatchet(store *storage.OrderStore, client broker.Client, md marketdata.Provider, emitter notify.Emitter) *Ratchet {
	return &Ratchet{
		store:    store,
		client:   client,
		md:       md,
		emitter:  emitter,
		now:      time.Now,
		tracking: make(map[string]*domain.SellTracking),
	}
}

// Restore rebuilds the in-memory tracking view from open sell orders.
// Called once at startup; the database, not this map, is authoritative.
func (r *Ratchet) Restore(ctx context.Context) error {
	sells, err := r.store.ListByStatus(ctx, domain.SideSell, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("ratchet restore: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range sells {
		t := domain.NewSellTracking(o.Symbol, o.ID, o.FrozenTargetPrice, o.Quantity)
		if o.LowestReference.IsPositive() {
			t.LowestReference = o.LowestReference
		}
		r.tracking[o.Symbol] = t
	}
	slog.Info("ratchet: tracking restored", slog.Int("symbols", len(sells)))
	return nil
}

// RunPass is one monitoring pass over holdings and open sell orders.
func (r *Ratchet) RunPass(ctx context.Context) error {
	holdings, err := r.client.Holdings(ctx)
	if err != nil {
		slog.Warn("ratchet: holdings unavailable, skipping pass", slog.Any("error", err))
		return nil
	}

	sells, err := r.store.ListByStatus(ctx, domain.SideSell, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("ratchet: fetch sell orders: %w", err)
	}
	bySymbol := make(map[string]*domain.Order, len(sells))
	for _, o := range sells {
		bySymbol[o.Symbol] = o
	}

	heldQty := make(map[string]int64, len(holdings))
	avgEntry := make(map[string]decimal.Decimal, len(holdings))
	for _, h := range holdings {
		heldQty[h.Symbol] = h.Quantity
		avgEntry[h.Symbol] = h.AvgEntryPrice
	}

	// Fill detection first: an executed sell closes the position whether
	// or not the symbol still shows in holdings.
	for symbol, order := range bySymbol {
		if r.checkFilled(ctx, order, avgEntry[symbol]) {
			delete(bySymbol, symbol)
		}
	}

	for symbol, qty := range heldQty {
		if qty <= 0 {
			continue
		}
		if err := r.maintainSymbol(ctx, symbol, qty, bySymbol[symbol]); err != nil {
			// Per-symbol isolation: log and move on.
			slog.Error("ratchet: symbol pass failed",
				slog.String("symbol", symbol), slog.Any("error", err))
		}
	}
	return nil
}

// maintainSymbol places the initial sell order or applies the two
// replacement axes to an existing one.
func (r *Ratchet) maintainSymbol(ctx context.Context, symbol string, heldQty int64, order *domain.Order) error {
	if order == nil {
		return r.placeInitial(ctx, symbol, heldQty)
	}

	tracked := r.trackingFor(order)

	// Quantity axis: holdings grew past the tracked quantity (re-entry).
	// Replace at the new total quantity, frozen price unchanged.
	if tracked.NeedsQuantitySync(heldQty) {
		if err := r.syncQuantity(ctx, order, tracked, heldQty); err != nil {
			return err
		}
	}

	// Price axis: replace only when the live target improved below the
	// frozen price. An unfavorable move is ignored.
	liveTarget, err := r.md.TargetIndicator(symbol)
	if err != nil {
		if errors.Is(err, marketdata.ErrNoData) {
			return nil
		}
		return err
	}
	if tracked.Improve(liveTarget) {
		return r.improvePrice(ctx, order, tracked)
	}

	// Persist an improved LowestReference even when the frozen price held.
	if !order.LowestReference.Equal(tracked.LowestReference) {
		order.LowestReference = tracked.LowestReference
		if err := r.store.Update(ctx, order); err != nil {
			return err
		}
	}
	return nil
}

func (r *Ratchet) placeInitial(ctx context.Context, symbol string, qty int64) error {
	target, err := r.md.TargetIndicator(symbol)
	if err != nil {
		if errors.Is(err, marketdata.ErrNoData) {
			return nil
		}
		return err
	}

	// Ratchet continuity: if tracking survives from a failed replacement,
	// the frozen price still wins over a worse live target.
	r.mu.Lock()
	if t, ok := r.tracking[symbol]; ok && t.FrozenTargetPrice.LessThan(target) {
		target = t.FrozenTargetPrice
	}
	r.mu.Unlock()

	// A FAILED sell left by an earlier replacement attempt is superseded,
	// not duplicated.
	if prev, err := r.store.FindActive(ctx, symbol, domain.SideSell); err == nil && prev.Status == domain.StatusFailed {
		prev.MarkCancelled("superseded by parameter update")
		if uerr := r.store.Update(ctx, prev); uerr != nil {
			return uerr
		}
	}

	order := domain.NewOrder(symbol, domain.SideSell, qty, target)
	order.FrozenTargetPrice = target
	order.LowestReference = target

	brokerID, err := r.client.PlaceOrder(ctx, broker.OrderRequest{
		Symbol: symbol, Side: domain.SideSell, Quantity: qty, LimitPrice: target,
	})
	if err != nil {
		order.MarkFailed(failureReason(err), r.now())
		if ierr := r.store.Insert(ctx, order); ierr != nil {
			return ierr
		}
		infra.MtxOrdersFailed.WithLabelValues("sell_placement").Inc()
		return nil
	}

	order.BrokerOrderID = brokerID
	if err := r.store.Insert(ctx, order); err != nil {
		return err
	}

	r.mu.Lock()
	r.tracking[symbol] = domain.NewSellTracking(symbol, order.ID, target, qty)
	r.mu.Unlock()

	infra.MtxOrdersPlaced.WithLabelValues(string(domain.SideSell)).Inc()
	r.emitter.Emit(notify.Event{
		Type: notify.EventOrderPlaced, Symbol: symbol,
		OrderID: order.ID, Price: target, Quantity: qty, At: r.now(),
	})
	return nil
}

// syncQuantity replaces the sell order at the unchanged frozen price and
// the new total quantity via broker modify.
func (r *Ratchet) syncQuantity(ctx context.Context, order *domain.Order, tracked *domain.SellTracking, newQty int64) error {
	if order.BrokerOrderID != "" {
		if err := r.client.ModifyOrder(ctx, order.BrokerOrderID, newQty, tracked.FrozenTargetPrice); err != nil {
			return fmt.Errorf("modify sell quantity: %w", err)
		}
	}

	order.Quantity = newQty
	if err := r.store.Update(ctx, order); err != nil {
		return err
	}
	tracked.TrackedQuantity = newQty

	infra.MtxRatchetUpdates.WithLabelValues("quantity").Inc()
	r.emitter.Emit(notify.Event{
		Type: notify.EventRatchetMoved, Symbol: order.Symbol,
		OrderID: order.ID, Reason: "quantity sync",
		Price: tracked.FrozenTargetPrice, Quantity: newQty, At: r.now(),
	})
	return nil
}

// improvePrice cancels the sell order and replaces it at the new, lower
// frozen target.
func (r *Ratchet) improvePrice(ctx context.Context, order *domain.Order, tracked *domain.SellTracking) error {
	if order.BrokerOrderID != "" {
		if err := r.client.CancelOrder(ctx, order.BrokerOrderID); err != nil && !errors.Is(err, broker.ErrNotFound) {
			return fmt.Errorf("cancel for price improvement: %w", err)
		}
	}
	order.MarkCancelled("superseded by parameter update")
	if err := r.store.Update(ctx, order); err != nil {
		return err
	}

	replacement := domain.NewOrder(order.Symbol, domain.SideSell, tracked.TrackedQuantity, tracked.FrozenTargetPrice)
	replacement.FrozenTargetPrice = tracked.FrozenTargetPrice
	replacement.LowestReference = tracked.LowestReference

	brokerID, err := r.client.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:     order.Symbol,
		Side:       domain.SideSell,
		Quantity:   tracked.TrackedQuantity,
		LimitPrice: tracked.FrozenTargetPrice,
	})
	if err != nil {
		replacement.MarkFailed(failureReason(err), r.now())
		if ierr := r.store.Insert(ctx, replacement); ierr != nil {
			return ierr
		}
		infra.MtxOrdersFailed.WithLabelValues("sell_replacement").Inc()
		return nil
	}
	replacement.BrokerOrderID = brokerID
	if err := r.store.Insert(ctx, replacement); err != nil {
		return err
	}

	tracked.OrderID = replacement.ID

	infra.MtxRatchetUpdates.WithLabelValues("price").Inc()
	r.emitter.Emit(notify.Event{
		Type: notify.EventRatchetMoved, Symbol: order.Symbol,
		OrderID: replacement.ID, Reason: "target improved",
		Price: tracked.FrozenTargetPrice, Quantity: tracked.TrackedQuantity, At: r.now(),
	})
	return nil
}

// checkFilled closes the order if the broker reports the sell executed.
// Realized P&L is exit versus average entry.
func (r *Ratchet) checkFilled(ctx context.Context, order *domain.Order, entryAvg decimal.Decimal) bool {
	if order.BrokerOrderID == "" {
		return false
	}
	snap, err := r.client.OrderStatus(ctx, order.BrokerOrderID)
	if err != nil {
		return false
	}
	if snap.State != broker.StateExecuted {
		return false
	}

	pnl := snap.AvgFillPrice.Sub(entryAvg).Mul(decimal.NewFromInt(snap.FilledQuantity)).Round(2)
	order.MarkClosed(snap.AvgFillPrice, snap.FilledQuantity, pnl, r.now())
	if err := r.store.Update(ctx, order); err != nil {
		slog.Error("ratchet: persist fill", slog.String("order_id", order.ID), slog.Any("error", err))
		return false
	}

	r.mu.Lock()
	delete(r.tracking, order.Symbol)
	r.mu.Unlock()

	r.closeBuys(ctx, order.Symbol, pnl)

	r.emitter.Emit(notify.Event{
		Type: notify.EventOrderFilled, Symbol: order.Symbol,
		OrderID: order.ID, Reason: "pnl " + pnl.String(),
		Price: snap.AvgFillPrice, Quantity: snap.FilledQuantity, At: r.now(),
	})
	return true
}

// closeBuys retires the executed buy records of a fully exited position.
// Re-entries can leave more than one; all of them stop blocking the symbol
// and counting against the portfolio limit.
func (r *Ratchet) closeBuys(ctx context.Context, symbol string, pnl decimal.Decimal) {
	buys, err := r.store.ListByStatus(ctx, domain.SideBuy, domain.StatusOngoing)
	if err != nil {
		slog.Error("ratchet: fetch buys for exit",
			slog.String("symbol", symbol), slog.Any("error", err))
		return
	}
	for _, buy := range buys {
		if buy.Symbol != symbol {
			continue
		}
		buy.MarkExited(pnl)
		if err := r.store.Update(ctx, buy); err != nil {
			slog.Error("ratchet: close buy after exit",
				slog.String("order_id", buy.ID), slog.Any("error", err))
		}
	}
}

// SyncQuantity is the explicit quantity-sync entry point the re-entry flow
// invokes after a fill grows the position.
func (r *Ratchet) SyncQuantity(ctx context.Context, symbol string, totalQty int64) error {
	order, err := r.store.FindActive(ctx, symbol, domain.SideSell)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil // next monitoring pass will place the sell order
		}
		return err
	}
	if order.Status != domain.StatusPending {
		return nil
	}

	tracked := r.trackingFor(order)
	if !tracked.NeedsQuantitySync(totalQty) {
		return nil
	}
	return r.syncQuantity(ctx, order, tracked, totalQty)
}

// trackingFor returns the tracking entry for an order, recreating it from
// the persisted ratchet columns when the in-memory view is cold.
func (r *Ratchet) trackingFor(order *domain.Order) *domain.SellTracking {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tracking[order.Symbol]; ok {
		return t
	}
	t := domain.NewSellTracking(order.Symbol, order.ID, order.FrozenTargetPrice, order.Quantity)
	if order.LowestReference.IsPositive() {
		t.LowestReference = order.LowestReference
	}
	r.tracking[order.Symbol] = t
	return t
}
