package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order. It is an explicit field on the order,
// never encoded into the status.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status is the lifecycle state of an order.
type Status string

const (
	// StatusPending means the order was submitted and is awaiting broker
	// confirmation or market open (AMO).
	StatusPending Status = "PENDING"
	// StatusOngoing means the broker confirmed execution and the position is open.
	StatusOngoing Status = "ONGOING"
	// StatusClosed means the position was fully exited.
	StatusClosed Status = "CLOSED"
	// StatusFailed means placement failed or the broker rejected the order.
	// Failed orders stay retriable until their expiry bound.
	StatusFailed Status = "FAILED"
	// StatusCancelled means the order expired, was cancelled manually, or was
	// replaced by a parameter update. Terminal for this record only.
	StatusCancelled Status = "CANCELLED"
)

// ActiveStatuses are the statuses that block a new order for the same
// symbol/side. CLOSED and CANCELLED are historical and never block.
var ActiveStatuses = []Status{StatusPending, StatusOngoing, StatusFailed}

// IsTerminal reports whether the status ends the lifecycle of this record.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// CanTransition reports whether the state machine permits moving to the
// given status.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusOngoing || to == StatusFailed || to == StatusCancelled
	case StatusOngoing:
		return to == StatusClosed || to == StatusFailed || to == StatusCancelled
	case StatusFailed:
		return to == StatusPending || to == StatusCancelled
	default:
		return false
	}
}

// Order is the central entity of the lifecycle engine. One row per order;
// the database is authoritative, no in-process cache is.
type Order struct {
	ID            string
	BrokerOrderID string // empty until the broker acknowledges
	Symbol        string
	Side          Side
	Quantity      int64
	LimitPrice    decimal.Decimal // zero for market orders
	Status        Status

	// Reason narrates the latest failure, rejection, cancellation or fill.
	// The status disambiguates which of those it is.
	Reason string

	FirstFailedAt    time.Time
	LastRetryAttempt time.Time
	RetryCount       int
	LastStatusCheck  time.Time

	ExecutionPrice    decimal.Decimal
	ExecutionQuantity int64
	ExecutionTime     time.Time

	// Ratchet columns, populated on SELL orders only.
	FrozenTargetPrice decimal.Decimal
	LowestReference   decimal.Decimal
	RealizedPnL       decimal.Decimal

	// Version is the optimistic-lock counter; every store update checks it.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder creates a PENDING order with a fresh internal id.
func NewOrder(symbol string, side Side, qty int64, limitPrice decimal.Decimal) *Order {
	now := time.Now()
	return &Order{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		LimitPrice: limitPrice,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsActive reports whether the order blocks a new order for its symbol/side.
func (o *Order) IsActive() bool {
	return o.Status == StatusPending || o.Status == StatusOngoing || o.Status == StatusFailed
}

// MarkFailed records a failure. FirstFailedAt is set only on the first
// failure so the expiry bound stays anchored to the original instant
// regardless of retry cadence.
func (o *Order) MarkFailed(reason string, at time.Time) {
	o.Status = StatusFailed
	o.Reason = reason
	if o.FirstFailedAt.IsZero() {
		o.FirstFailedAt = at
	}
}

// MarkRetryAttempt records one retry attempt without touching FirstFailedAt.
func (o *Order) MarkRetryAttempt(at time.Time) {
	o.RetryCount++
	o.LastRetryAttempt = at
}

// MarkExecuted records the fill facts and moves the order to ONGOING.
func (o *Order) MarkExecuted(price decimal.Decimal, qty int64, at time.Time) {
	o.Status = StatusOngoing
	o.ExecutionPrice = price
	o.ExecutionQuantity = qty
	o.ExecutionTime = at
}

// MarkCancelled terminates this record. It does not block future orders
// for the same symbol.
func (o *Order) MarkCancelled(reason string) {
	o.Status = StatusCancelled
	o.Reason = reason
}

// MarkExited retires an executed buy record once the position is sold.
// Entry execution facts are preserved; the realized P&L is copied from the
// exit order.
func (o *Order) MarkExited(pnl decimal.Decimal) {
	o.Status = StatusClosed
	o.Reason = "position exited"
	o.RealizedPnL = pnl
}

// MarkClosed records a full exit with the realized P&L.
func (o *Order) MarkClosed(exitPrice decimal.Decimal, qty int64, pnl decimal.Decimal, at time.Time) {
	o.Status = StatusClosed
	o.ExecutionPrice = exitPrice
	o.ExecutionQuantity = qty
	o.ExecutionTime = at
	o.RealizedPnL = pnl
}

// SameParams reports whether quantity and limit price match the intended
// replacement. Used by the duplicate guard to decide skip vs supersede.
func (o *Order) SameParams(qty int64, limitPrice decimal.Decimal) bool {
	return o.Quantity == qty && o.LimitPrice.Equal(limitPrice)
}
