package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/broker"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/calendar"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/domain"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/infra"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/marketdata"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/notify"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/storage"
)

// Candidate is one ranked buy recommendation from the verdict engine.
type Candidate struct {
	Symbol      string
	TargetPrice decimal.Decimal
	Quantity    int64
	Capital     decimal.Decimal // capital allotted to this entry
}

// CandidateSource supplies buy candidates once per placement cycle. It is
// never polled mid-cycle.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]Candidate, error)
}

// Orchestrator drives one placement cycle: retry previously failed orders
// first, then place new entries.
type Orchestrator struct {
	store     *storage.OrderStore
	client    broker.Client
	guard     *Guard
	cal       calendar.TradingCalendar
	md        marketdata.Provider
	source    CandidateSource
	emitter   notify.Emitter
	maxOpen   int
	perTrade  decimal.Decimal
	now       func() time.Time
}

func NewOrchestrator(
	store *storage.OrderStore,
	client broker.Client,
	guard *Guard,
	cal calendar.TradingCalendar,
	md marketdata.Provider,
	source CandidateSource,
	emitter notify.Emitter,
	maxOpen int,
	perTrade decimal.Decimal,
) *Orchestrator {
	return &Orchestrator{
		store:    store,
		client:   client,
		guard:    guard,
		cal:      cal,
		md:       md,
		source:   source,
		emitter:  emitter,
		maxOpen:  maxOpen,
		perTrade: perTrade,
		now:      time.Now,
	}
}

// RunCycle executes both phases. Only a fully unreachable order store
// aborts the cycle; per-symbol failures are isolated and logged.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	if err := o.retryFailed(ctx); err != nil {
		return err
	}
	return o.placeNew(ctx)
}

// retryFailed is phase 1: fetch FAILED orders, cancel the expired ones as a
// side effect of the fetch, retry the rest with recomputed parameters.
func (o *Orchestrator) retryFailed(ctx context.Context) error {
	failed, err := o.store.ListByStatus(ctx, "", domain.StatusFailed)
	if err != nil {
		return fmt.Errorf("placement cycle: fetch failed orders: %w", err)
	}

	now := o.now()
	for _, order := range failed {
		// Expiry is evaluated lazily here, not by a background timer. Past
		// the next trading-day close the order is deterministically
		// cancelled, never left FAILED.
		if now.After(o.cal.NextTradingClose(order.FirstFailedAt)) {
			order.MarkCancelled("expired")
			if err := o.store.Update(ctx, order); err != nil {
				slog.Error("placement cycle: persist expiry",
					slog.String("order_id", order.ID), slog.Any("error", err))
				continue
			}
			infra.MtxOrdersExpired.Inc()
			o.emitter.Emit(notify.Event{
				Type: notify.EventOrderExpired, Symbol: order.Symbol,
				OrderID: order.ID, Reason: "expired",
				Price: order.LimitPrice, Quantity: order.Quantity, At: now,
			})
			continue
		}

		// Failed sells are re-placed by the ratchet pass while holdings
		// exist; only the expiry bound applies to them here.
		if order.Side != domain.SideBuy {
			continue
		}

		o.retryOne(ctx, order)
	}
	return nil
}

func (o *Orchestrator) retryOne(ctx context.Context, order *domain.Order) {
	// Capital and price may have moved since the original failure; the
	// stale quantity is never reused.
	price, err := o.md.LastPrice(order.Symbol)
	if err != nil {
		slog.Warn("retry: no current price, keeping order for next cycle",
			slog.String("symbol", order.Symbol))
		return
	}
	qty := affordableQuantity(o.perTrade, price)
	if qty <= 0 {
		slog.Warn("retry: current price exceeds per-trade capital",
			slog.String("symbol", order.Symbol), slog.String("price", price.String()))
		return
	}

	outcome, err := o.guard.Check(ctx, CheckInput{
		Symbol:         order.Symbol,
		Side:           domain.SideBuy,
		Quantity:       qty,
		LimitPrice:     price,
		ExcludeOrderID: order.ID,
	})
	if err != nil {
		slog.Error("retry: guard check failed", slog.String("symbol", order.Symbol), slog.Any("error", err))
		return
	}
	if outcome == OutcomeSkip {
		return
	}

	order.MarkRetryAttempt(o.now())
	infra.MtxOrdersRetried.Inc()

	brokerID, err := o.client.PlaceOrder(ctx, broker.OrderRequest{
		Symbol: order.Symbol, Side: domain.SideBuy, Quantity: qty, LimitPrice: price,
	})
	if err != nil {
		order.MarkFailed(failureReason(err), o.now())
		if uerr := o.store.Update(ctx, order); uerr != nil {
			slog.Error("retry: persist failure", slog.String("order_id", order.ID), slog.Any("error", uerr))
		}
		infra.MtxOrdersFailed.WithLabelValues("retry").Inc()
		return
	}

	order.Status = domain.StatusPending
	order.BrokerOrderID = brokerID
	order.Quantity = qty
	order.LimitPrice = price
	order.Reason = ""
	if err := o.store.Update(ctx, order); err != nil {
		slog.Error("retry: persist placement", slog.String("order_id", order.ID), slog.Any("error", err))
		return
	}

	o.emitter.Emit(notify.Event{
		Type: notify.EventOrderRetried, Symbol: order.Symbol,
		OrderID: order.ID, Price: price, Quantity: qty, At: o.now(),
	})

	o.snapshotCheck(ctx, order)
}

// placeNew is phase 2: new entries from the verdict source.
func (o *Orchestrator) placeNew(ctx context.Context) error {
	candidates, err := o.source.Candidates(ctx)
	if err != nil {
		slog.Warn("placement cycle: candidate source unavailable", slog.Any("error", err))
		return nil
	}

	for _, cand := range candidates {
		if err := o.placeOne(ctx, cand); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// One symbol's failure never aborts the rest of the cycle.
			slog.Error("placement cycle: candidate failed",
				slog.String("symbol", cand.Symbol), slog.Any("error", err))
		}
	}
	return nil
}

func (o *Orchestrator) placeOne(ctx context.Context, cand Candidate) error {
	open, err := o.store.CountActive(ctx, domain.SideBuy)
	if err != nil {
		return fmt.Errorf("count active positions: %w", err)
	}
	if open >= o.maxOpen {
		slog.Info("placement: portfolio limit reached, skipping",
			slog.String("symbol", cand.Symbol), slog.Int("open", open))
		return nil
	}

	outcome, err := o.guard.Check(ctx, CheckInput{
		Symbol:     cand.Symbol,
		Side:       domain.SideBuy,
		Quantity:   cand.Quantity,
		LimitPrice: cand.TargetPrice,
	})
	if err != nil {
		return err
	}
	if outcome == OutcomeSkip {
		return nil
	}

	// Live balance check with the same retry+fallback discipline as the
	// guard (the wrapper owns the retries).
	required := cand.TargetPrice.Mul(decimal.NewFromInt(cand.Quantity))
	balance, err := o.client.AvailableBalance(ctx)
	if err == nil && balance.LessThan(required) {
		// Recorded as FAILED, not dropped: this makes the candidate
		// eligible for phase-1 retry on a later cycle.
		order := domain.NewOrder(cand.Symbol, domain.SideBuy, cand.Quantity, cand.TargetPrice)
		order.MarkFailed("insufficient_balance", o.now())
		if err := o.store.Insert(ctx, order); err != nil {
			return fmt.Errorf("record insufficient balance: %w", err)
		}
		infra.MtxOrdersFailed.WithLabelValues("insufficient_balance").Inc()
		o.emitter.Emit(notify.Event{
			Type: notify.EventOrderRejected, Symbol: cand.Symbol,
			OrderID: order.ID, Reason: "insufficient_balance",
			Price: cand.TargetPrice, Quantity: cand.Quantity, At: o.now(),
		})
		return nil
	}
	if err != nil {
		slog.Warn("placement: balance check unavailable, aborting symbol",
			slog.String("symbol", cand.Symbol), slog.Any("error", err))
		return nil
	}

	order := domain.NewOrder(cand.Symbol, domain.SideBuy, cand.Quantity, cand.TargetPrice)

	brokerID, err := o.client.PlaceOrder(ctx, broker.OrderRequest{
		Symbol: cand.Symbol, Side: domain.SideBuy, Quantity: cand.Quantity, LimitPrice: cand.TargetPrice,
	})
	if err != nil {
		order.MarkFailed(failureReason(err), o.now())
		if ierr := o.store.Insert(ctx, order); ierr != nil {
			return fmt.Errorf("record placement failure: %w", ierr)
		}
		infra.MtxOrdersFailed.WithLabelValues("placement").Inc()
		o.emitter.Emit(notify.Event{
			Type: notify.EventOrderRejected, Symbol: cand.Symbol,
			OrderID: order.ID, Reason: order.Reason,
			Price: cand.TargetPrice, Quantity: cand.Quantity, At: o.now(),
		})
		return nil
	}

	order.BrokerOrderID = brokerID
	if err := o.store.Insert(ctx, order); err != nil {
		return fmt.Errorf("persist placed order: %w", err)
	}
	infra.MtxOrdersPlaced.WithLabelValues(string(domain.SideBuy)).Inc()
	o.emitter.Emit(notify.Event{
		Type: notify.EventOrderPlaced, Symbol: cand.Symbol,
		OrderID: order.ID, Price: cand.TargetPrice, Quantity: cand.Quantity, At: o.now(),
	})

	o.snapshotCheck(ctx, order)
	return nil
}

// snapshotCheck is the synchronous post-submit status query: one broker
// call that catches instant rejection (bad symbol, circuit limit) so it is
// never mistaken for silent success. A transient failure here leaves the
// order PENDING for the next reconciliation pass.
func (o *Orchestrator) snapshotCheck(ctx context.Context, order *domain.Order) {
	snap, err := o.client.OrderStatus(ctx, order.BrokerOrderID)
	if err != nil {
		slog.Warn("snapshot check unavailable, reconciliation will re-evaluate",
			slog.String("order_id", order.ID), slog.Any("error", err))
		return
	}

	order.LastStatusCheck = o.now()
	switch snap.State {
	case broker.StateRejected:
		order.MarkFailed(rejectionText(snap.Reason), o.now())
		infra.MtxOrdersFailed.WithLabelValues("rejected").Inc()
		o.emitter.Emit(notify.Event{
			Type: notify.EventOrderRejected, Symbol: order.Symbol,
			OrderID: order.ID, Reason: order.Reason,
			Price: order.LimitPrice, Quantity: order.Quantity, At: o.now(),
		})
	case broker.StateExecuted:
		order.MarkExecuted(snap.AvgFillPrice, snap.FilledQuantity, o.now())
	case broker.StateCancelled:
		order.MarkCancelled("cancelled at broker")
	default:
		// Genuinely pending; nothing to change.
	}

	if err := o.store.Update(ctx, order); err != nil {
		slog.Error("snapshot check: persist", slog.String("order_id", order.ID), slog.Any("error", err))
	}
}

// affordableQuantity is the whole number of shares the per-trade capital
// buys at the current price.
func affordableQuantity(capital, price decimal.Decimal) int64 {
	if !price.IsPositive() {
		return 0
	}
	return capital.Div(price).IntPart()
}

func failureReason(err error) string {
	var rej *broker.RejectionError
	if errors.As(err, &rej) {
		return rejectionText(rej.Reason)
	}
	return err.Error()
}

func rejectionText(reason string) string {
	if reason == "" {
		return "broker rejected"
	}
	return "broker rejected: " + reason
}
