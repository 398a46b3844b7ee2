// Package notify carries structured lifecycle events out of the engine.
// Delivery (Telegram, email, dashboards) is someone else's problem; the
// engine only emits.
package notify

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// EventType enumerates the lifecycle moments the engine reports.
type EventType string

const (
	EventOrderPlaced    EventType = "order_placed"
	EventOrderRejected  EventType = "order_rejected"
	EventOrderCancelled EventType = "order_cancelled"
	EventOrderRetried   EventType = "order_retried"
	EventOrderExpired   EventType = "order_expired"
	EventOrderFilled    EventType = "order_filled"
	EventReentry        EventType = "reentry"
	EventRatchetMoved   EventType = "ratchet_moved"
)

// Event is one structured lifecycle notification.
type Event struct {
	Type     EventType
	Symbol   string
	OrderID  string
	Reason   string
	Price    decimal.Decimal
	Quantity int64
	At       time.Time
}

// Emitter delivers events. Implementations must not block the engine.
type Emitter interface {
	Emit(ev Event)
}

// LogEmitter writes events to the structured log. It is the default sink
// and always sits first in a Multi chain so events are never silent.
type LogEmitter struct{}

func (LogEmitter) Emit(ev Event) {
	slog.Info("lifecycle event",
		slog.String("type", string(ev.Type)),
		slog.String("symbol", ev.Symbol),
		slog.String("order_id", ev.OrderID),
		slog.String("reason", ev.Reason),
		slog.String("price", ev.Price.String()),
		slog.Int64("quantity", ev.Quantity))
}

// Multi fans an event out to several emitters.
type Multi []Emitter

func (m Multi) Emit(ev Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}

// Recorder captures events for tests.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.Events = append(r.Events, ev)
}

// Has reports whether a recorded event of the given type exists for the symbol.
func (r *Recorder) Has(t EventType, symbol string) bool {
	for _, ev := range r.Events {
		if ev.Type == t && ev.Symbol == symbol {
			return true
		}
	}
	return false
}
