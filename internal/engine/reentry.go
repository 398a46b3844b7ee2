package engine

import (
	"context"
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

// ReentrySignal is an external position-health trigger: the evaluator
// decided the position should be averaged down/up by the given quantity.
type ReentrySignal struct {
	Symbol   string
	Quantity int64
	Price    decimal.Decimal
}

// Reentry executes averaging orders. Distinct from new-entry placement:
// duplicate prevention blocks only on an open (PENDING/FAILED) buy order.
// Holdings and the executed buy record are expected here, the operation
// adds to them.
type Reentry struct {
	store   *storage.OrderStore
	client  broker.Client
	guard   *Guard
	ratchet *Ratchet
	emitter notify.Emitter
	now     func() time.Time
}

func NewReentry(store *storage.OrderStore, client broker.Client, guard *Guard, ratchet *Ratchet, emitter notify.Emitter) *Reentry {
	return &Reentry{
		store:   store,
		client:  client,
		guard:   guard,
		ratchet: ratchet,
		emitter: emitter,
		now:     time.Now,
	}
}

// Execute places a re-entry order and, on fill, updates the position
// average and syncs the sell order quantity at the unchanged frozen price.
func (s *Reentry) Execute(ctx context.Context, sig ReentrySignal) error {
	outcome, err := s.guard.Check(ctx, CheckInput{
		Symbol:     sig.Symbol,
		Side:       domain.SideBuy,
		Quantity:   sig.Quantity,
		LimitPrice: sig.Price,
		Reentry:    true,
	})
	if err != nil {
		return err
	}
	if outcome == OutcomeSkip {
		slog.Info("reentry: open buy order exists, skipping", slog.String("symbol", sig.Symbol))
		return nil
	}

	holdings, err := s.client.Holdings(ctx)
	if err != nil {
		return fmt.Errorf("reentry: holdings unavailable: %w", err)
	}
	var current *domain.Holding
	for i := range holdings {
		if holdings[i].Symbol == sig.Symbol {
			current = &holdings[i]
			break
		}
	}
	if current == nil {
		return fmt.Errorf("reentry: no holding for %s", sig.Symbol)
	}

	order := domain.NewOrder(sig.Symbol, domain.SideBuy, sig.Quantity, sig.Price)

	brokerID, err := s.client.PlaceOrder(ctx, broker.OrderRequest{
		Symbol: sig.Symbol, Side: domain.SideBuy, Quantity: sig.Quantity, LimitPrice: sig.Price,
	})
	if err != nil {
		order.MarkFailed(failureReason(err), s.now())
		if ierr := s.store.Insert(ctx, order); ierr != nil {
			return ierr
		}
		infra.MtxOrdersFailed.WithLabelValues("reentry").Inc()
		return nil
	}
	order.BrokerOrderID = brokerID
	if err := s.store.Insert(ctx, order); err != nil {
		return fmt.Errorf("reentry: persist order: %w", err)
	}
	infra.MtxOrdersPlaced.WithLabelValues(string(domain.SideBuy)).Inc()

	// Synchronous snapshot, same as any placement.
	snap, err := s.client.OrderStatus(ctx, brokerID)
	if err != nil {
		slog.Warn("reentry: snapshot unavailable, reconciliation will pick it up",
			slog.String("order_id", order.ID), slog.Any("error", err))
		return nil
	}

	order.LastStatusCheck = s.now()
	switch snap.State {
	case broker.StateRejected:
		order.MarkFailed(rejectionText(snap.Reason), s.now())
		if err := s.store.Update(ctx, order); err != nil {
			return err
		}
		infra.MtxOrdersFailed.WithLabelValues("rejected").Inc()
		return nil
	case broker.StateExecuted:
		order.MarkExecuted(snap.AvgFillPrice, snap.FilledQuantity, s.now())
		if err := s.store.Update(ctx, order); err != nil {
			return err
		}
		return s.applyFill(ctx, order, current, snap)
	default:
		return s.store.Update(ctx, order)
	}
}

// applyFill records the averaging audit trail and syncs the sell order.
func (s *Reentry) applyFill(ctx context.Context, order *domain.Order, held *domain.Holding, snap *broker.OrderSnapshot) error {
	newAvg := domain.WeightedAverage(held.AvgEntryPrice, held.Quantity, snap.AvgFillPrice, snap.FilledQuantity)
	newQty := held.Quantity + snap.FilledQuantity

	slog.Info("reentry: position averaged",
		slog.String("symbol", order.Symbol),
		slog.String("old_avg", held.AvgEntryPrice.String()),
		slog.Int64("old_qty", held.Quantity),
		slog.String("new_avg", newAvg.String()),
		slog.Int64("new_qty", newQty))

	s.emitter.Emit(notify.Event{
		Type: notify.EventReentry, Symbol: order.Symbol,
		OrderID: order.ID,
		Reason:  fmt.Sprintf("avg %s -> %s", held.AvgEntryPrice, newAvg),
		Price:   snap.AvgFillPrice, Quantity: snap.FilledQuantity, At: s.now(),
	})

	if err := s.ratchet.SyncQuantity(ctx, order.Symbol, newQty); err != nil {
		return fmt.Errorf("reentry: sell quantity sync: %w", err)
	}
	return nil
}
