package ports

import (
	"context"

	"cryptoMarginBot/internal/domain"
)

// PairPerformance summarises the realised outcome of closed trades on one pair.
type PairPerformance struct {
	Pair        string  `json:"pair"`         // Trading pair, e.g. "ETH/BTC"
	TradeCount  int     `json:"trade_count"`  // Number of closed trades on the pair
	TotalProfit float64 `json:"total_profit"` // Sum of realised profit in stake currency
	MeanRatio   float64 `json:"mean_ratio"`   // Mean realised profit ratio across those trades
}

// TradeRepository defines the interface for storing and retrieving leveraged trades.
// A trade is persisted together with its full order history so the engine can be
// rebuilt from storage after a restart.
type TradeRepository interface {
	// Create saves a new trade and returns its assigned ID.
	Create(ctx context.Context, trade *domain.Trade) (int64, error)
	// Update persists the current state of an existing trade, including its orders.
	Update(ctx context.Context, trade *domain.Trade) error
	// FindByID retrieves a trade by its unique ID.
	// Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Trade, error)
	// FindOpenByPair retrieves the currently open trade for a given pair, if any.
	// Returns nil, nil if no open trade is found.
	FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error)
	// FindOpen retrieves all open trades, ordered by open date ascending.
	FindOpen(ctx context.Context) ([]*domain.Trade, error)
	// FindAll retrieves all trades, ordered by open date descending.
	FindAll(ctx context.Context) ([]*domain.Trade, error)
	// GetTotalProfit calculates the sum of realised profit for all closed trades.
	GetTotalProfit(ctx context.Context) (float64, error)
	// GetTotalOpenStake sums the stake currently committed to open trades.
	GetTotalOpenStake(ctx context.Context) (float64, error)
	// PerformanceByPair aggregates closed trades per pair, best performer first.
	PerformanceByPair(ctx context.Context) ([]PairPerformance, error)
}
