package domain

import "errors"

// Errors returned by trade bookkeeping and order-fill reconciliation.
var (
	// ErrMismatchedOrderIdentity indicates a fill was offered to a trade that
	// is waiting on a different order id.
	ErrMismatchedOrderIdentity = errors.New("order id does not match the trade's pending order")

	// ErrInvalidEconomicInput indicates a rate, fee, leverage or duration
	// that would corrupt the trade's arithmetic.
	ErrInvalidEconomicInput = errors.New("invalid economic input")

	// ErrUnrecognizedFillSource indicates an order payload missing required
	// fields or carrying values that cannot be understood.
	ErrUnrecognizedFillSource = errors.New("unrecognized fill source")

	// ErrTradeAlreadyClosed indicates an operation that is only valid on an
	// open trade was attempted on a closed one.
	ErrTradeAlreadyClosed = errors.New("trade is already closed")
)
