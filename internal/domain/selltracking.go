package domain

import (
	"github.com/shopspring/decimal"
)

// SellTracking is the per-symbol view the ratchet engine maintains for an
// open sell order. The frozen target is set once at first placement and may
// only ever move down; it is never recalculated from scratch.
type SellTracking struct {
	Symbol            string
	OrderID           string
	FrozenTargetPrice decimal.Decimal
	TrackedQuantity   int64
	LowestReference   decimal.Decimal
}

// NewSellTracking starts tracking at the first computed target.
func NewSellTracking(symbol, orderID string, target decimal.Decimal, qty int64) *SellTracking {
	return &SellTracking{
		Symbol:            symbol,
		OrderID:           orderID,
		FrozenTargetPrice: target,
		TrackedQuantity:   qty,
		LowestReference:   target,
	}
}

// Improve lowers the frozen target if the live target moved favorably.
// Returns true when the ratchet moved; an unfavorable (higher) target is
// ignored and leaves the frozen price untouched.
func (t *SellTracking) Improve(liveTarget decimal.Decimal) bool {
	if liveTarget.LessThan(t.LowestReference) {
		t.LowestReference = liveTarget
	}
	if liveTarget.LessThan(t.FrozenTargetPrice) {
		t.FrozenTargetPrice = liveTarget
		return true
	}
	return false
}

// NeedsQuantitySync reports whether holdings grew past the tracked quantity
// (a re-entry happened). Price and quantity are independent axes: a sync
// replaces the order at the new quantity but the unchanged frozen price.
func (t *SellTracking) NeedsQuantitySync(holdingQty int64) bool {
	return holdingQty > t.TrackedQuantity
}
