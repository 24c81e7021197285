package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var orderJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// OrderRecord is the normalized snapshot of one exchange order and its fill
// progress. Exchange adapters and replay inputs translate their native
// payloads into this shape via ParseOrder before reconciliation.
type OrderRecord struct {
	ID        string      // Exchange order id
	Side      OrderSide   // BUY or SELL
	Type      OrderType   // LIMIT or MARKET
	Status    OrderStatus // open, closed, canceled or expired
	Price     float64     // Requested price
	Average   float64     // Average fill price, 0 when the exchange reported none
	Amount    float64     // Requested base amount
	Filled    float64     // Base amount actually filled
	Remaining float64     // Base amount still unfilled
	Leverage  float64     // Leverage carried on the order, 0 when not reported
	Timestamp time.Time   // Exchange timestamp of the last order update
}

// Validate checks the fields required before an order may be reconciled
// against a trade.
func (o *OrderRecord) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrUnrecognizedFillSource)
	}
	if o.ID == "" {
		return fmt.Errorf("%w: missing order id", ErrUnrecognizedFillSource)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: order %s has unknown side %q", ErrUnrecognizedFillSource, o.ID, string(o.Side))
	}
	if o.Type != Limit && o.Type != Market {
		return fmt.Errorf("%w: order %s has unknown type %q", ErrUnrecognizedFillSource, o.ID, string(o.Type))
	}
	switch o.Status {
	case OrderStatusOpen, OrderStatusClosed, OrderStatusCanceled, OrderStatusExpired:
	default:
		return fmt.Errorf("%w: order %s has unknown status %q", ErrUnrecognizedFillSource, o.ID, string(o.Status))
	}
	if o.Price <= 0 && o.Average <= 0 {
		return fmt.Errorf("%w: order %s has neither price nor average fill price", ErrUnrecognizedFillSource, o.ID)
	}
	return nil
}

// FillPrice returns the effective execution price: the average fill price
// when the exchange reported one, the requested price otherwise.
func (o *OrderRecord) FillPrice() float64 {
	if o.Average > 0 {
		return o.Average
	}
	return o.Price
}

// FilledAmount returns the executed base amount, falling back to the
// requested amount when the exchange did not report a fill quantity.
func (o *OrderRecord) FilledAmount() float64 {
	if o.Filled > 0 {
		return o.Filled
	}
	return o.Amount
}

// UpdateFrom merges a newer snapshot of the same exchange order into the
// record. Snapshots for a different order id are never applied.
func (o *OrderRecord) UpdateFrom(other *OrderRecord) error {
	if other == nil {
		return fmt.Errorf("%w: nil order", ErrUnrecognizedFillSource)
	}
	if o.ID != other.ID {
		return fmt.Errorf("%w: tracking %s, got %s", ErrMismatchedOrderIdentity, o.ID, other.ID)
	}
	o.merge(other)
	return nil
}

func (o *OrderRecord) merge(other *OrderRecord) {
	o.Side = other.Side
	o.Type = other.Type
	o.Status = other.Status
	o.Price = other.Price
	o.Average = other.Average
	o.Amount = other.Amount
	o.Filled = other.Filled
	o.Remaining = other.Remaining
	if other.Leverage > 0 {
		o.Leverage = other.Leverage
	}
	if !other.Timestamp.IsZero() {
		o.Timestamp = other.Timestamp
	}
}

// sameFill reports whether two snapshots of an order describe the same fill
// state, meaning a redelivery carries no new information.
func (o *OrderRecord) sameFill(other *OrderRecord) bool {
	return o.Status == other.Status &&
		o.Filled == other.Filled &&
		o.Average == other.Average &&
		o.Price == other.Price
}

// ParseOrder normalizes a raw exchange order payload into an OrderRecord.
// Exchanges disagree on casing and on whether numbers arrive as JSON
// numbers or strings, so both forms are accepted. Missing or unrecognized
// required fields fail rather than producing a partial record.
func ParseOrder(raw map[string]interface{}) (*OrderRecord, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty order payload", ErrUnrecognizedFillSource)
	}

	id, ok := asString(raw["id"])
	if !ok {
		id, ok = asString(raw["order_id"])
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing order id", ErrUnrecognizedFillSource)
	}
	side, ok := asString(raw["side"])
	if !ok {
		return nil, fmt.Errorf("%w: order %s is missing a side", ErrUnrecognizedFillSource, id)
	}
	typ, ok := asString(raw["type"])
	if !ok {
		return nil, fmt.Errorf("%w: order %s is missing a type", ErrUnrecognizedFillSource, id)
	}
	status, ok := asString(raw["status"])
	if !ok {
		return nil, fmt.Errorf("%w: order %s is missing a status", ErrUnrecognizedFillSource, id)
	}

	o := &OrderRecord{
		ID:     id,
		Side:   OrderSide(strings.ToUpper(side)),
		Type:   OrderType(strings.ToUpper(typ)),
		Status: OrderStatus(strings.ToLower(status)),
	}
	o.Price, _ = asFloat(raw["price"])
	o.Average, _ = asFloat(raw["average"])
	o.Amount, _ = asFloat(raw["amount"])
	o.Filled, _ = asFloat(raw["filled"])
	o.Remaining, _ = asFloat(raw["remaining"])
	o.Leverage, _ = asFloat(raw["leverage"])
	o.Timestamp = asTime(raw)

	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// ParseOrderJSON decodes a JSON order payload and normalizes it via
// ParseOrder.
func ParseOrderJSON(data []byte) (*OrderRecord, error) {
	var raw map[string]interface{}
	if err := orderJSON.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedFillSource, err)
	}
	return ParseOrder(raw)
}

func asString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, s != ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	}
	return "", false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// asTime reads the order timestamp, preferring the millisecond epoch field
// and falling back to an ISO 8601 datetime string.
func asTime(raw map[string]interface{}) time.Time {
	if ms, ok := asFloat(raw["timestamp"]); ok && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC()
	}
	if s, ok := asString(raw["datetime"]); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
