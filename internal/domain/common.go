package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that unwinds this one.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents the execution type of an order.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// OrderStatus represents the lifecycle status an exchange reports for an order.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusExpired  OrderStatus = "expired"
)

// PositionSide indicates the direction of a leveraged position. The side
// stays unknown until the first entry fill is reconciled.
type PositionSide string

const (
	PositionUnknown PositionSide = ""
	PositionLong    PositionSide = "long"
	PositionShort   PositionSide = "short"
)

// TradeState is the lifecycle state derived from a trade's stored fields.
type TradeState string

const (
	StatePendingOpen TradeState = "pending_open"
	StateOpen        TradeState = "open"
	StateClosed      TradeState = "closed"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonExitFill    CloseReason = "EXIT_FILL"
	CloseReasonManual      CloseReason = "MANUAL"
	CloseReasonStopLoss    CloseReason = "SL"
	CloseReasonLiquidation CloseReason = "Liquidation"
	CloseReasonUnknown     CloseReason = "Unknown"
)
