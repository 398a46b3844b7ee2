package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/domain"
)

// Paper simulates the brokerage in memory. It backs `trading.mode: paper`
// and the engine tests. Failure injection lets tests exercise the retry and
// fallback paths deterministically.
type Paper struct {
	mu       sync.Mutex
	orders   map[string]*OrderSnapshot
	holdings map[string]*domain.Holding
	balance  decimal.Decimal

	// failNext[op] > 0 makes the next calls to op fail transiently.
	failNext map[string]int
	// rejectNext holds a reason; the next PlaceOrder is rejected with it.
	rejectNext string
	// fillOnPlace, when set, executes the next placed order instantly at
	// this price.
	fillOnPlace *decimal.Decimal

	calls map[string]int
}

// NewPaper creates a paper broker with the given starting cash balance.
func NewPaper(balance decimal.Decimal) *Paper {
	return &Paper{
		orders:   make(map[string]*OrderSnapshot),
		holdings: make(map[string]*domain.Holding),
		balance:  balance,
		failNext: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next n calls of the named operation fail transiently.
func (p *Paper) FailNext(op string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[op] = n
}

// RejectNext makes the next PlaceOrder come back as a broker rejection.
func (p *Paper) RejectNext(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectNext = reason
}

// FillOnPlace makes the next PlaceOrder execute instantly at the given price.
func (p *Paper) FillOnPlace(price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fillOnPlace = &price
}

// Calls returns how many times the named operation was invoked.
func (p *Paper) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// SetHolding seeds or replaces a position.
func (p *Paper) SetHolding(symbol string, qty int64, avgPrice decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdings[symbol] = &domain.Holding{Symbol: symbol, Quantity: qty, AvgEntryPrice: avgPrice}
}

// SetBalance replaces the available cash.
func (p *Paper) SetBalance(balance decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = balance
}

// Fill marks an open order executed at the given price.
func (p *Paper) Fill(brokerOrderID string, price decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, ok := p.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("fill: unknown order %s", brokerOrderID)
	}
	snap.State = StateExecuted
	snap.FilledQuantity = snap.Quantity
	snap.AvgFillPrice = price
	return nil
}

// Drop removes an order from the broker's book entirely, simulating an
// out-of-band cancellation that leaves no trace.
func (p *Paper) Drop(brokerOrderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.orders, brokerOrderID)
}

// Inject adds a broker-side order the engine never placed, simulating
// manual placement by the user.
func (p *Paper) Inject(snap OrderSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[snap.BrokerOrderID] = &snap
}

func (p *Paper) fail(op string) error {
	p.calls[op]++
	if p.failNext[op] > 0 {
		p.failNext[op]--
		return fmt.Errorf("paper: simulated %s outage", op)
	}
	return nil
}

func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail("place_order"); err != nil {
		return "", err
	}

	id := uuid.NewString()
	state := StateOpen
	reason := ""
	var filledQty int64
	var avgFill decimal.Decimal
	if p.rejectNext != "" {
		state = StateRejected
		reason = p.rejectNext
		p.rejectNext = ""
	} else if p.fillOnPlace != nil {
		state = StateExecuted
		filledQty = req.Quantity
		avgFill = *p.fillOnPlace
		p.fillOnPlace = nil
	}

	p.orders[id] = &OrderSnapshot{
		BrokerOrderID:  id,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Quantity:       req.Quantity,
		Price:          req.LimitPrice,
		State:          state,
		Reason:         reason,
		FilledQuantity: filledQty,
		AvgFillPrice:   avgFill,
		PlacedAt:       time.Now(),
	}

	slog.Debug("paper broker: order placed",
		slog.String("id", id),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)))
	return id, nil
}

func (p *Paper) OrderStatus(ctx context.Context, brokerOrderID string) (*OrderSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail("order_status"); err != nil {
		return nil, err
	}

	snap, ok := p.orders[brokerOrderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

func (p *Paper) OpenOrders(ctx context.Context) ([]OrderSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail("open_orders"); err != nil {
		return nil, err
	}

	out := make([]OrderSnapshot, 0, len(p.orders))
	for _, snap := range p.orders {
		out = append(out, *snap)
	}
	return out, nil
}

func (p *Paper) Holdings(ctx context.Context) ([]domain.Holding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail("holdings"); err != nil {
		return nil, err
	}

	out := make([]domain.Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		out = append(out, *h)
	}
	return out, nil
}

func (p *Paper) CancelOrder(ctx context.Context, brokerOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail("cancel_order"); err != nil {
		return err
	}

	snap, ok := p.orders[brokerOrderID]
	if !ok {
		return ErrNotFound
	}
	if snap.State == StateExecuted {
		return &RejectionError{Reason: "cannot cancel executed order"}
	}
	snap.State = StateCancelled
	return nil
}

func (p *Paper) ModifyOrder(ctx context.Context, brokerOrderID string, qty int64, price decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail("modify_order"); err != nil {
		return err
	}

	snap, ok := p.orders[brokerOrderID]
	if !ok {
		return ErrNotFound
	}
	if snap.State != StateOpen {
		return &RejectionError{Reason: "cannot modify non-open order"}
	}
	if qty > 0 {
		snap.Quantity = qty
	}
	if price.IsPositive() {
		snap.Price = price
	}
	return nil
}

func (p *Paper) AvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail("available_balance"); err != nil {
		return decimal.Zero, err
	}
	return p.balance, nil
}
