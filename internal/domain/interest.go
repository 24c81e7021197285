package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccrualMode selects how an exchange bills interest on borrowed funds.
type AccrualMode string

const (
	// AccrueWholePeriods bills every started billing period in full.
	AccrueWholePeriods AccrualMode = "whole_periods"
	// AccrueProratedHourly bills every started hour at the periodic rate
	// scaled down to one hour.
	AccrueProratedHourly AccrualMode = "prorated_hourly"
	// AccrueOpeningPlusRollover bills one full period when the borrow is
	// opened, then a prorated charge for time held beyond that period.
	AccrueOpeningPlusRollover AccrualMode = "opening_plus_rollover"
)

// BorrowTerms captures the lending conditions an exchange applies to a
// borrowed quantity: the periodic rate, the billing period and the billing
// scheme. Trades snapshot these at opening so later valuation queries do
// not depend on live rate lookups.
type BorrowTerms struct {
	Rate   float64       // Interest rate per Period
	Period time.Duration // Exchange billing period, e.g. 24h or 4h
	Mode   AccrualMode   // Billing scheme
}

// Accrue computes interest on a borrowed quantity held for elapsed time,
// billing every started period in full: periods = ceil(elapsed / period),
// never less than 1 for a non-zero elapsed. Zero elapsed owes nothing.
func Accrue(borrowed, rate float64, elapsed, period time.Duration) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("%w: billing period must be positive, got %s", ErrInvalidEconomicInput, period)
	}
	if elapsed < 0 {
		return 0, fmt.Errorf("%w: negative elapsed duration %s", ErrInvalidEconomicInput, elapsed)
	}
	if elapsed == 0 || borrowed == 0 {
		return 0, nil
	}
	periods := int64(elapsed / period)
	if elapsed%period != 0 {
		periods++
	}
	return decimal.NewFromFloat(borrowed).
		Mul(decimal.NewFromFloat(rate)).
		Mul(decimal.NewFromInt(periods)).
		InexactFloat64(), nil
}

// Interest returns the cost of holding a borrowed quantity for elapsed time
// under these terms.
func (t BorrowTerms) Interest(borrowed float64, elapsed time.Duration) (float64, error) {
	if t.Period <= 0 {
		return 0, fmt.Errorf("%w: billing period must be positive, got %s", ErrInvalidEconomicInput, t.Period)
	}
	if elapsed < 0 {
		return 0, fmt.Errorf("%w: negative elapsed duration %s", ErrInvalidEconomicInput, elapsed)
	}
	if elapsed == 0 || borrowed == 0 {
		return 0, nil
	}

	switch t.Mode {
	case AccrueProratedHourly:
		billed, err := Accrue(borrowed, t.Rate, elapsed, time.Hour)
		if err != nil {
			return 0, err
		}
		return billed / t.Period.Hours(), nil
	case AccrueOpeningPlusRollover:
		rollover := 0.0
		if elapsed > t.Period {
			rollover = float64(elapsed-t.Period) / float64(t.Period)
		}
		return decimal.NewFromFloat(borrowed).
			Mul(decimal.NewFromFloat(t.Rate)).
			Mul(decimal.NewFromFloat(1 + rollover)).
			InexactFloat64(), nil
	default:
		return Accrue(borrowed, t.Rate, elapsed, t.Period)
	}
}
