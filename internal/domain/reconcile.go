package domain

import (
	"fmt"
	"time"
)

// RateSource resolves the borrow terms an exchange applies to a pair.
// Lookups happen once per trade, at the opening fill, and the result is
// snapshotted onto the trade.
type RateSource interface {
	BorrowTerms(exchange, pair string) (BorrowTerms, error)
}

// FillKind classifies what a reconciled order snapshot did to a trade.
type FillKind string

const (
	FillIgnored   FillKind = "ignored"   // Order not closed yet, nothing to book
	FillDuplicate FillKind = "duplicate" // Same fill state redelivered, nothing new
	FillOpened    FillKind = "opened"    // Entry fill booked, economics now real
	FillRefreshed FillKind = "refreshed" // Entry economics re-derived from a newer snapshot
	FillClosed    FillKind = "closed"    // Exit fill booked, trade settled
)

// FillEvent reports the outcome of one reconciliation call.
type FillEvent struct {
	Kind  FillKind
	Order *OrderRecord
	Trade *Trade

	message string
}

// Message returns the canonical fulfillment log line, rendered at
// reconciliation time while the trade was still open. Ignored and duplicate
// outcomes produce no message.
func (e *FillEvent) Message() string { return e.message }

func fulfillmentMessage(t *Trade, o *OrderRecord) string {
	return fmt.Sprintf("%s_%s has been fulfilled for %s.", o.Type, o.Side, t)
}

// Reconciler applies order-fill snapshots to trades. It performs no I/O
// itself: borrow terms come from the RateSource and the caller persists and
// logs the outcome.
type Reconciler struct {
	rates RateSource
	now   func() time.Time
}

// NewReconciler builds a reconciler around the given rate source. The now
// function may be nil, in which case the wall clock in UTC is used.
func NewReconciler(rates RateSource, now func() time.Time) (*Reconciler, error) {
	if rates == nil {
		return nil, fmt.Errorf("rate source is required")
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{rates: rates, now: now}, nil
}

// Apply reconciles one order snapshot into the trade. Either the trade is
// mutated and an event describing the outcome is returned, or an error is
// returned and the trade is left untouched.
func (r *Reconciler) Apply(t *Trade, o *OrderRecord) (*FillEvent, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil trade", ErrInvalidEconomicInput)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if t.PendingOrderID != "" && t.PendingOrderID != o.ID {
		return nil, fmt.Errorf("%w: trade %d is waiting on order %s, got %s",
			ErrMismatchedOrderIdentity, t.ID, t.PendingOrderID, o.ID)
	}
	if o.Status != OrderStatusClosed {
		// An order still open, or canceled before filling, carries no fill
		// worth booking.
		return &FillEvent{Kind: FillIgnored, Order: o, Trade: t}, nil
	}

	prev := t.FindOrder(o.ID)
	if prev != nil && prev.sameFill(o) {
		return &FillEvent{Kind: FillDuplicate, Order: o, Trade: t}, nil
	}
	if !t.IsOpen && prev == nil {
		return nil, fmt.Errorf("%w: trade %d cannot accept new order %s",
			ErrTradeAlreadyClosed, t.ID, o.ID)
	}

	if t.Side == PositionUnknown || o.Side == t.entrySide() {
		return r.applyEntry(t, o, prev)
	}
	return r.applyExit(t, o, prev)
}

// applyEntry books an opening fill: the order side fixes the position
// direction, the filled quantity scaled by leverage becomes the position
// amount, and the borrow terms are snapshotted. The open date recorded at
// construction is kept, interest accrues from the moment the position was
// committed to.
func (r *Reconciler) applyEntry(t *Trade, o *OrderRecord, prev *OrderRecord) (*FillEvent, error) {
	rate := o.FillPrice()
	if rate <= 0 {
		return nil, fmt.Errorf("%w: order %s has no usable fill price", ErrUnrecognizedFillSource, o.ID)
	}
	filled := o.FilledAmount()
	if filled <= 0 {
		return nil, fmt.Errorf("%w: order %s reports no filled amount", ErrUnrecognizedFillSource, o.ID)
	}
	leverage := t.Leverage
	if o.Leverage > 0 {
		leverage = o.Leverage
	}
	if leverage < 1.0 {
		return nil, fmt.Errorf("%w: leverage must be at least 1.0, got %v", ErrInvalidEconomicInput, leverage)
	}

	side := PositionLong
	if o.Side == Sell {
		side = PositionShort
	}

	terms := t.borrowTerms()
	if t.Side == PositionUnknown {
		looked, err := r.rates.BorrowTerms(t.Exchange, t.Pair)
		if err != nil {
			return nil, fmt.Errorf("borrow terms lookup for %s %s: %w", t.Exchange, t.Pair, err)
		}
		if looked.Rate > 0 && looked.Period <= 0 {
			return nil, fmt.Errorf("%w: borrow terms for %s %s need a billing period",
				ErrInvalidEconomicInput, t.Exchange, t.Pair)
		}
		terms = looked
	}

	kind := FillOpened
	if t.Side != PositionUnknown {
		kind = FillRefreshed
	}

	t.Side = side
	t.OpenRate = rate
	t.Leverage = leverage
	t.Amount = filled * leverage
	t.Borrowed = borrowedAmount(side, t.Amount, leverage)
	t.InterestRate = terms.Rate
	t.InterestPeriod = terms.Period
	t.InterestMode = terms.Mode
	t.PendingOrderID = ""
	t.bookFill(o, prev)

	if !t.CloseDate.IsZero() {
		// A late entry correction on a settled trade: keep the stored
		// results consistent with the refreshed entry economics.
		t.CloseProfit = t.CalcProfit(t.CloseDate)
		t.CloseProfitRatio = t.CalcProfitRatio(t.CloseDate)
	}

	ev := &FillEvent{Kind: kind, Order: o, Trade: t}
	if t.IsOpen {
		ev.message = fulfillmentMessage(t, o)
	}
	return ev, nil
}

// applyExit books a closing fill at the order's fill price. The close date
// is written at most once; a changed redelivery re-settles the economics at
// the original close date.
func (r *Reconciler) applyExit(t *Trade, o *OrderRecord, prev *OrderRecord) (*FillEvent, error) {
	rate := o.FillPrice()
	if rate <= 0 {
		return nil, fmt.Errorf("%w: order %s has no usable fill price", ErrUnrecognizedFillSource, o.ID)
	}
	now := r.now()
	end := now
	if !t.CloseDate.IsZero() {
		end = t.CloseDate
	}
	elapsed := end.Sub(t.OpenDate)
	if elapsed < 0 {
		return nil, fmt.Errorf("%w: close time %s precedes open date %s",
			ErrInvalidEconomicInput, end.Format(time.RFC3339), t.OpenDate.Format(time.RFC3339))
	}
	// Reject broken borrow terms before touching the trade.
	if t.Borrowed > 0 && t.InterestRate > 0 {
		if _, err := t.borrowTerms().Interest(t.Borrowed, elapsed); err != nil {
			return nil, err
		}
	}

	ev := &FillEvent{Kind: FillClosed, Order: o, Trade: t}
	if t.IsOpen {
		// Rendered before settling so the line shows when the position was
		// open since, not the closed marker.
		ev.message = fulfillmentMessage(t, o)
	}

	t.CloseRate = rate
	t.IsOpen = false
	if t.CloseDate.IsZero() {
		t.CloseDate = now
	}
	t.CloseProfit = t.CalcProfit(now)
	t.CloseProfitRatio = t.CalcProfitRatio(now)
	if t.CloseReason == "" {
		t.CloseReason = CloseReasonExitFill
	}
	t.PendingOrderID = ""
	t.bookFill(o, prev)

	return ev, nil
}
