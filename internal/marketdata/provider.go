// Package marketdata supplies the prices and indicator values the engine
// consumes: the current price for quantity recomputation and the
// target-driving indicator (a trailing moving average) for the sell ratchet.
package marketdata

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrNoData means the provider has not observed the symbol yet.
var ErrNoData = errors.New("no market data for symbol")

// Provider is the read surface the engine depends on.
type Provider interface {
	// LastPrice returns the most recent traded price.
	LastPrice(symbol string) (decimal.Decimal, error)

	// TargetIndicator returns the indicator value driving the sell target.
	TargetIndicator(symbol string) (decimal.Decimal, error)
}

// Static is a map-backed provider for tests and paper mode.
type Static struct {
	mu         sync.RWMutex
	prices     map[string]decimal.Decimal
	indicators map[string]decimal.Decimal
}

func NewStatic() *Static {
	return &Static{
		prices:     make(map[string]decimal.Decimal),
		indicators: make(map[string]decimal.Decimal),
	}
}

func (s *Static) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func (s *Static) SetIndicator(symbol string, value decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicators[symbol] = value
}

func (s *Static) LastPrice(symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, ErrNoData
	}
	return p, nil
}

func (s *Static) TargetIndicator(symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.indicators[symbol]
	if !ok {
		return decimal.Zero, ErrNoData
	}
	return v, nil
}
