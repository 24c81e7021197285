package domain

import (
	"fmt"
	"time"
)

// Trade is the authoritative record of a single leveraged position: its
// identity, its economics, its lifecycle timestamps and the orders that
// built it. A trade starts as recorded intent (side unknown) and becomes
// economically real once the first entry fill is reconciled.
type Trade struct {
	ID          int64        // Database id, 0 until persisted
	Pair        string       // Trading pair (e.g., "ETH/BTC")
	Exchange    string       // Exchange the position lives on (e.g., "binance")
	StakeAmount float64      // Owner's committed capital in quote currency
	Amount      float64      // Position size in base asset, leveraged once opened
	OpenRate    float64      // Entry price, provisional until the entry fill lands
	CloseRate   float64      // Exit price, 0 while open
	Leverage    float64      // Position size multiplier, at least 1.0
	Side        PositionSide // Direction, unknown until the first fill
	Borrowed    float64      // Base quantity owed to the lender

	InterestRate   float64       // Periodic borrow rate, snapshotted at opening
	InterestPeriod time.Duration // Billing period, snapshotted at opening
	InterestMode   AccrualMode   // Billing scheme, snapshotted at opening

	FeeOpen  float64 // Entry fee fraction in [0,1)
	FeeClose float64 // Exit fee fraction in [0,1)

	OpenDate  time.Time // When the position intent was recorded; interest accrues from here
	CloseDate time.Time // Zero while open, written at most once
	IsOpen    bool

	CloseProfit      float64     // Realized absolute profit, set on close
	CloseProfitRatio float64     // Realized relative profit, set on close
	CloseReason      CloseReason // Why the position was closed

	PendingOrderID string         // Exchange id of the order awaiting fill, empty when none
	Orders         []*OrderRecord // Append-only order history
}

// TradeParams carries the owner-supplied intent fields for a new trade.
// Side may be left unknown, in which case the first reconciled fill
// determines the direction and the leveraged economics.
type TradeParams struct {
	Pair        string
	Exchange    string
	StakeAmount float64
	Amount      float64 // Base amount before leverage
	OpenRate    float64 // Provisional entry price
	Leverage    float64 // Defaults to 1.0
	Side        PositionSide
	FeeOpen     float64
	FeeClose    float64
	OpenDate    time.Time   // Defaults to time.Now().UTC()
	Terms       BorrowTerms // Borrow terms, used when Side is already known
}

// NewTrade validates the intent fields and builds the in-memory record.
// When the side is already known (replayed or imported positions) the
// leveraged amount and the borrowed quantity are derived immediately;
// otherwise both wait for the first entry fill.
func NewTrade(p TradeParams) (*Trade, error) {
	if p.Pair == "" {
		return nil, fmt.Errorf("%w: pair is required", ErrInvalidEconomicInput)
	}
	if p.Exchange == "" {
		return nil, fmt.Errorf("%w: exchange is required", ErrInvalidEconomicInput)
	}
	if p.StakeAmount <= 0 {
		return nil, fmt.Errorf("%w: stake amount must be positive, got %v", ErrInvalidEconomicInput, p.StakeAmount)
	}
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %v", ErrInvalidEconomicInput, p.Amount)
	}
	if p.OpenRate <= 0 {
		return nil, fmt.Errorf("%w: open rate must be positive, got %v", ErrInvalidEconomicInput, p.OpenRate)
	}
	lev := p.Leverage
	if lev == 0 {
		lev = 1.0
	}
	if lev < 1.0 {
		return nil, fmt.Errorf("%w: leverage must be at least 1.0, got %v", ErrInvalidEconomicInput, lev)
	}
	if p.FeeOpen < 0 || p.FeeOpen >= 1 {
		return nil, fmt.Errorf("%w: open fee must be in [0,1), got %v", ErrInvalidEconomicInput, p.FeeOpen)
	}
	if p.FeeClose < 0 || p.FeeClose >= 1 {
		return nil, fmt.Errorf("%w: close fee must be in [0,1), got %v", ErrInvalidEconomicInput, p.FeeClose)
	}
	if p.Side != PositionUnknown && p.Side != PositionLong && p.Side != PositionShort {
		return nil, fmt.Errorf("%w: unknown position side %q", ErrInvalidEconomicInput, string(p.Side))
	}
	openDate := p.OpenDate
	if openDate.IsZero() {
		openDate = time.Now().UTC()
	}

	t := &Trade{
		Pair:        p.Pair,
		Exchange:    p.Exchange,
		StakeAmount: p.StakeAmount,
		Amount:      p.Amount,
		OpenRate:    p.OpenRate,
		Leverage:    lev,
		Side:        p.Side,
		FeeOpen:     p.FeeOpen,
		FeeClose:    p.FeeClose,
		OpenDate:    openDate,
		IsOpen:      true,
	}
	if p.Side != PositionUnknown {
		if p.Terms.Rate > 0 && p.Terms.Period <= 0 {
			return nil, fmt.Errorf("%w: borrow terms need a billing period", ErrInvalidEconomicInput)
		}
		t.Amount = p.Amount * lev
		t.Borrowed = borrowedAmount(p.Side, t.Amount, lev)
		t.InterestRate = p.Terms.Rate
		t.InterestPeriod = p.Terms.Period
		t.InterestMode = p.Terms.Mode
	}
	return t, nil
}

// borrowedAmount derives the quantity owed to the lender. A short sells
// asset that never belonged to the owner, so the whole leveraged amount is
// borrowed. A long owns its stake and borrows only the financed portion
// beyond it.
func borrowedAmount(side PositionSide, amount, leverage float64) float64 {
	if side == PositionShort {
		return amount
	}
	if leverage <= 1.0 {
		return 0
	}
	return amount * (leverage - 1) / leverage
}

// State derives the lifecycle state from the stored fields.
func (t *Trade) State() TradeState {
	if !t.IsOpen {
		return StateClosed
	}
	if t.Side == PositionUnknown {
		return StatePendingOpen
	}
	return StateOpen
}

// Opened reports whether the trade's economics are real rather than
// provisional intent, i.e. an entry fill has been reconciled or the trade
// was constructed with a known side.
func (t *Trade) Opened() bool {
	return t.Side != PositionUnknown && t.OpenRate > 0
}

// IsShort reports whether the position profits from a falling price.
func (t *Trade) IsShort() bool {
	return t.Side == PositionShort
}

// entrySide is the order side that opens the position.
func (t *Trade) entrySide() OrderSide {
	if t.Side == PositionShort {
		return Sell
	}
	return Buy
}

// ExitSide is the order side that closes the position.
func (t *Trade) ExitSide() OrderSide {
	return t.entrySide().Opposite()
}

func (t *Trade) borrowTerms() BorrowTerms {
	return BorrowTerms{Rate: t.InterestRate, Period: t.InterestPeriod, Mode: t.InterestMode}
}

// interestOwed computes the interest accrued on the borrowed quantity since
// the open date. Closed trades accrue up to their close date regardless of
// asOf, so settled results stay stable when re-queried.
func (t *Trade) interestOwed(asOf time.Time) float64 {
	if !t.Opened() || t.Borrowed == 0 || t.InterestRate == 0 {
		return 0
	}
	end := asOf
	if !t.CloseDate.IsZero() {
		end = t.CloseDate
	}
	elapsed := end.Sub(t.OpenDate)
	if elapsed < 0 {
		elapsed = 0
	}
	owed, err := t.borrowTerms().Interest(t.Borrowed, elapsed)
	if err != nil {
		return 0
	}
	return owed
}

// CalcOpenTradeValue returns the fee-adjusted value of the entry leg, 0.0
// when no entry fill has been reconciled yet.
func (t *Trade) CalcOpenTradeValue() float64 {
	if !t.Opened() {
		return 0
	}
	return OpenValue(t.Amount, t.OpenRate, t.FeeOpen, t.IsShort())
}

// CalcCloseTradeValue returns the fee-adjusted value of the exit leg at the
// stored close rate, 0.0 when the trade is unopened or no close rate is
// known yet.
func (t *Trade) CalcCloseTradeValue(asOf time.Time) float64 {
	return t.CalcCloseTradeValueAt(t.CloseRate, asOf)
}

// CalcCloseTradeValueAt is CalcCloseTradeValue against a hypothetical exit
// rate, used for unrealized valuation at a live ticker price.
func (t *Trade) CalcCloseTradeValueAt(rate float64, asOf time.Time) float64 {
	if !t.Opened() || rate <= 0 {
		return 0
	}
	return CloseValue(t.Amount, t.interestOwed(asOf), rate, t.FeeClose, t.IsShort())
}

// CalcProfit returns the absolute profit at the stored close rate, 0.0
// while no close rate is known.
func (t *Trade) CalcProfit(asOf time.Time) float64 {
	return t.CalcProfitAt(t.CloseRate, asOf)
}

// CalcProfitAt is CalcProfit against a hypothetical exit rate.
func (t *Trade) CalcProfitAt(rate float64, asOf time.Time) float64 {
	if !t.Opened() || rate <= 0 {
		return 0
	}
	return Profit(t.CalcOpenTradeValue(), t.CalcCloseTradeValueAt(rate, asOf), t.IsShort())
}

// CalcProfitRatio returns the relative profit at the stored close rate, 0.0
// while no close rate is known.
func (t *Trade) CalcProfitRatio(asOf time.Time) float64 {
	return t.CalcProfitRatioAt(t.CloseRate, asOf)
}

// CalcProfitRatioAt is CalcProfitRatio against a hypothetical exit rate.
func (t *Trade) CalcProfitRatioAt(rate float64, asOf time.Time) float64 {
	if !t.Opened() || rate <= 0 {
		return 0
	}
	return ProfitRatio(t.CalcOpenTradeValue(), t.CalcCloseTradeValueAt(rate, asOf), t.IsShort())
}

// Close settles the trade at the given rate, bypassing order reconciliation
// (manual or risk-management exit). The close date is written at most once:
// re-closing recomputes the economics at the original close date but never
// moves the timestamp.
func (t *Trade) Close(rate float64, now time.Time) error {
	if rate <= 0 {
		return fmt.Errorf("%w: close rate must be positive, got %v", ErrInvalidEconomicInput, rate)
	}
	if !t.Opened() {
		return fmt.Errorf("%w: trade %d has no reconciled entry to close against", ErrInvalidEconomicInput, t.ID)
	}
	t.CloseRate = rate
	t.IsOpen = false
	if t.CloseDate.IsZero() {
		t.CloseDate = now
	}
	t.CloseProfit = t.CalcProfit(now)
	t.CloseProfitRatio = t.CalcProfitRatio(now)
	if t.CloseReason == "" {
		t.CloseReason = CloseReasonManual
	}
	t.PendingOrderID = ""
	return nil
}

// Update applies an exchange order snapshot to the trade through the given
// reconciler.
func (t *Trade) Update(o *OrderRecord, r *Reconciler) (*FillEvent, error) {
	return r.Apply(t, o)
}

// FindOrder returns the tracked order with the given exchange id, nil when
// the trade has never seen it.
func (t *Trade) FindOrder(id string) *OrderRecord {
	for _, o := range t.Orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// bookFill stores the order snapshot on the trade: new orders are appended
// to the history, known orders are merged in place.
func (t *Trade) bookFill(o *OrderRecord, prev *OrderRecord) {
	if prev == nil {
		cp := *o
		t.Orders = append(t.Orders, &cp)
		return
	}
	prev.merge(o)
}

// Clone returns a deep copy, detaching the order history so repository
// snapshots cannot be mutated through shared pointers.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Orders != nil {
		cp.Orders = make([]*OrderRecord, len(t.Orders))
		for i, o := range t.Orders {
			oc := *o
			cp.Orders[i] = &oc
		}
	}
	return &cp
}

// String renders the trade in its canonical log form.
func (t *Trade) String() string {
	openSince := "closed"
	if t.IsOpen {
		openSince = t.OpenDate.UTC().Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("Trade(id=%d, pair=%s, amount=%.8f, open_rate=%.8f, open_since=%s)",
		t.ID, t.Pair, t.Amount, t.OpenRate, openSince)
}
