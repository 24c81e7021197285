package domain

import "github.com/shopspring/decimal"

// Position valuation is side-dependent. A short sells borrowed asset at the
// open and buys it back at the close, so fees cut the open proceeds and
// inflate the close cost. A long is the mirror image. No rounding is applied
// here; presentation rounding belongs to the callers.

// OpenValue returns the fee-adjusted monetary value of entering a position.
func OpenValue(amount, rate, fee float64, short bool) float64 {
	feeAdj := 1 + fee
	if short {
		feeAdj = 1 - fee
	}
	return decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(rate)).
		Mul(decimal.NewFromFloat(feeAdj)).
		InexactFloat64()
}

// CloseValue returns the fee-adjusted monetary value of exiting a position.
// The settled quantity is the position amount plus the interest owed on the
// borrowed part, since that is what must ultimately be returned.
func CloseValue(amount, interest, rate, fee float64, short bool) float64 {
	feeAdj := 1 - fee
	if short {
		feeAdj = 1 + fee
	}
	return decimal.NewFromFloat(amount).
		Add(decimal.NewFromFloat(interest)).
		Mul(decimal.NewFromFloat(rate)).
		Mul(decimal.NewFromFloat(feeAdj)).
		InexactFloat64()
}

// Profit returns the absolute profit between the two fee-adjusted values.
// A short profits when the close leg costs less than the open proceeds.
func Profit(openValue, closeValue float64, short bool) float64 {
	if short {
		return openValue - closeValue
	}
	return closeValue - openValue
}

// ProfitRatio returns the relative profit: a short measures its open
// proceeds against the close cost, a long its close proceeds against the
// open cost. A zero reference leg yields 0.0 so unopened or degenerate
// positions never divide by zero.
func ProfitRatio(openValue, closeValue float64, short bool) float64 {
	if short {
		if closeValue == 0 {
			return 0
		}
		return openValue/closeValue - 1
	}
	if openValue == 0 {
		return 0
	}
	return closeValue/openValue - 1
}
