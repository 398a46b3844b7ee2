// Package broker defines the client surface the lifecycle engine needs from
// a brokerage and the wrappers that make calls survivable: bounded retry,
// rate limiting and circuit breaking. Every call is treated as potentially
// failing transiently; the broker is assumed idempotent on duplicate
// submissions.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/domain"
)

var (
	// ErrUnavailable marks a transient infrastructure failure after the
	// retry budget is exhausted.
	ErrUnavailable = errors.New("broker unavailable")
	// ErrNotFound is returned when the broker does not know the order id.
	ErrNotFound = errors.New("order not found at broker")
)

// Broker-side order states as reported by the status endpoints.
const (
	StateOpen      = "OPEN"
	StateExecuted  = "EXECUTED"
	StateRejected  = "REJECTED"
	StateCancelled = "CANCELLED"
)

// OrderRequest is a new order submission.
type OrderRequest struct {
	Symbol     string
	Side       domain.Side
	Quantity   int64
	LimitPrice decimal.Decimal // zero means market order
}

// OrderSnapshot is the broker's view of one order.
type OrderSnapshot struct {
	BrokerOrderID  string
	Symbol         string
	Side           domain.Side
	Quantity       int64
	Price          decimal.Decimal
	State          string // OPEN, EXECUTED, REJECTED, CANCELLED
	Reason         string
	FilledQuantity int64
	AvgFillPrice   decimal.Decimal
	PlacedAt       time.Time
}

// Client is the minimal brokerage surface the engine operates on.
type Client interface {
	// PlaceOrder submits a new order and returns the broker-assigned id.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)

	// OrderStatus returns the broker's view of a single order.
	OrderStatus(ctx context.Context, brokerOrderID string) (*OrderSnapshot, error)

	// OpenOrders returns every order the broker still tracks for the account.
	OpenOrders(ctx context.Context) ([]OrderSnapshot, error)

	// Holdings returns current positions.
	Holdings(ctx context.Context) ([]domain.Holding, error)

	// CancelOrder cancels an order by broker id.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// ModifyOrder updates quantity and/or limit price of an open order.
	ModifyOrder(ctx context.Context, brokerOrderID string, qty int64, price decimal.Decimal) error

	// AvailableBalance returns the free cash available for new orders.
	AvailableBalance(ctx context.Context) (decimal.Decimal, error)
}
