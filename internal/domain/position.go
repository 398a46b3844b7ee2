package domain

import "github.com/shopspring/decimal"

// Holding is a broker-owned position snapshot. The engine only reads it;
// quantity and average price mutate on the broker side as fills happen.
type Holding struct {
	Symbol        string
	Quantity      int64
	AvgEntryPrice decimal.Decimal
}

// WeightedAverage recomputes the average entry price after a re-entry fill:
// (oldAvg*oldQty + fillPrice*fillQty) / (oldQty + fillQty), rounded to the
// currency precision (2 dp).
func WeightedAverage(oldAvg decimal.Decimal, oldQty int64, fillPrice decimal.Decimal, fillQty int64) decimal.Decimal {
	totalQty := oldQty + fillQty
	if totalQty == 0 {
		return decimal.Zero
	}
	oldValue := oldAvg.Mul(decimal.NewFromInt(oldQty))
	fillValue := fillPrice.Mul(decimal.NewFromInt(fillQty))
	return oldValue.Add(fillValue).Div(decimal.NewFromInt(totalQty)).Round(2)
}
