package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/domain"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/infra"
)

// Retrying wraps a Client with the shared rate limiter, a circuit breaker
// and a bounded retry schedule. One instance fronts every loop so broker
// throttling is respected globally, not per symbol.
type Retrying struct {
	inner   Client
	limiter *infra.RateLimiter
	breaker *infra.CircuitBreaker
	policy  infra.RetryPolicy
}

// NewRetrying builds the wrapper. All three collaborators are required.
func NewRetrying(inner Client, limiter *infra.RateLimiter, breaker *infra.CircuitBreaker, policy infra.RetryPolicy) *Retrying {
	return &Retrying{inner: inner, limiter: limiter, breaker: breaker, policy: policy}
}

// do runs one broker operation under the retry budget. Exhausting the
// budget surfaces as ErrUnavailable, never as an indefinite hang.
func (r *Retrying) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if !r.breaker.Allow() {
		return fmt.Errorf("%w: circuit open for %s", ErrUnavailable, op)
	}

	var lastErr error
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.policy.DelayFor(attempt - 1)):
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			r.breaker.RecordSuccess()
			return nil
		}

		// Business rejections are not transient; retrying them here would
		// double-count the broker's answer.
		if isPermanent(lastErr) {
			r.breaker.RecordSuccess()
			return lastErr
		}

		infra.MtxBrokerCallFailures.WithLabelValues(op).Inc()
		slog.Warn("broker call failed",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Any("error", lastErr))
	}

	r.breaker.RecordFailure()
	return fmt.Errorf("%w: %s failed after %d attempts: %v", ErrUnavailable, op, r.policy.Attempts, lastErr)
}

// isPermanent classifies errors the broker answered definitively.
func isPermanent(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var rej *RejectionError
	return errors.As(err, &rej)
}

// RejectionError is an explicit broker-side business rejection (bad symbol,
// circuit limit, insufficient margin). It is recorded on the order, not
// retried at the transport layer.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "broker rejected: " + e.Reason
}

func (r *Retrying) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	var id string
	err := r.do(ctx, "place_order", func(ctx context.Context) error {
		var err error
		id, err = r.inner.PlaceOrder(ctx, req)
		return err
	})
	return id, err
}

func (r *Retrying) OrderStatus(ctx context.Context, brokerOrderID string) (*OrderSnapshot, error) {
	var snap *OrderSnapshot
	err := r.do(ctx, "order_status", func(ctx context.Context) error {
		var err error
		snap, err = r.inner.OrderStatus(ctx, brokerOrderID)
		return err
	})
	return snap, err
}

func (r *Retrying) OpenOrders(ctx context.Context) ([]OrderSnapshot, error) {
	var orders []OrderSnapshot
	err := r.do(ctx, "open_orders", func(ctx context.Context) error {
		var err error
		orders, err = r.inner.OpenOrders(ctx)
		return err
	})
	return orders, err
}

func (r *Retrying) Holdings(ctx context.Context) ([]domain.Holding, error) {
	var holdings []domain.Holding
	err := r.do(ctx, "holdings", func(ctx context.Context) error {
		var err error
		holdings, err = r.inner.Holdings(ctx)
		return err
	})
	return holdings, err
}

func (r *Retrying) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return r.do(ctx, "cancel_order", func(ctx context.Context) error {
		return r.inner.CancelOrder(ctx, brokerOrderID)
	})
}

func (r *Retrying) ModifyOrder(ctx context.Context, brokerOrderID string, qty int64, price decimal.Decimal) error {
	return r.do(ctx, "modify_order", func(ctx context.Context) error {
		return r.inner.ModifyOrder(ctx, brokerOrderID, qty, price)
	})
}

func (r *Retrying) AvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := r.do(ctx, "available_balance", func(ctx context.Context) error {
		var err error
		bal, err = r.inner.AvailableBalance(ctx)
		return err
	})
	return bal, err
}
