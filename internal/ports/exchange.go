package ports

import (
	"context"
	"time"

	"cryptoMarginBot/internal/domain"
)

// ExchangeClient defines the interface for interacting with a cryptocurrency exchange.
// This abstraction allows decoupling the accounting engine from specific exchange
// implementations. All order operations speak domain.OrderRecord so the reconciler
// can consume exchange responses directly.
type ExchangeClient interface {
	// SetServerTime synchronizes the client's time with the server's time.
	SetServerTime(ctx context.Context) error

	// GetTickerPrice retrieves the last ticker price for a given symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// SetLeverage sets the leverage for a specific symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// GetOrder fetches the current state of an order by its exchange ID.
	GetOrder(ctx context.Context, symbol string, orderID string) (*domain.OrderRecord, error)

	// PlaceLimitOrder places a limit order (GTC).
	// Returns the essential order details upon successful placement.
	PlaceLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, price string) (*domain.OrderRecord, error)

	// PlaceMarketOrder places a market order.
	// Returns the essential order details upon successful execution.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*domain.OrderRecord, error)

	// CancelOrder cancels an existing open order by its exchange ID.
	// Returns the final state of the cancelled order.
	CancelOrder(ctx context.Context, symbol string, orderID string) (*domain.OrderRecord, error)

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)
}
