package core

import "github.com/shopspring/decimal"

// MovingAverage computes the weighted average cost after receiving qty units
// at unitCost into a row holding onHand units valued at oldAvg:
//
//	new_avg = (oldAvg × onHand + unitCost × qty) / (onHand + qty)
//
// Negative on-hand stock carries no value and is weighted as zero. When the
// denominator is zero the incoming unit cost is used directly.
func MovingAverage(oldAvg, onHand, unitCost, qty decimal.Decimal) decimal.Decimal {
	if onHand.IsNegative() {
		onHand = decimal.Zero
	}
	denom := onHand.Add(qty)
	if denom.IsZero() {
		return unitCost
	}
	return oldAvg.Mul(onHand).Add(unitCost.Mul(qty)).DivRound(denom, 6)
}
