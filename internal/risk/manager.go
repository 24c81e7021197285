// Package risk enforces the pre-trade limits and tracks the realized daily
// result. The app service consults it before opening a position and reports
// every close back to it.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLimitExceeded marks rejections caused by a configured risk limit, so
// callers can tell them apart from infrastructure failures.
var ErrLimitExceeded = errors.New("risk limit exceeded")

// RiskConfig holds configuration for risk management. A zero value disables
// the corresponding check.
type RiskConfig struct {
	MaxOpenTrades int     // Maximum number of concurrently open trades
	MinStake      float64 // Smallest allowed stake per trade, in quote currency
	MaxStake      float64 // Largest allowed stake per trade, in quote currency
	MaxLeverage   float64 // Leverage cap across all trades
	MaxDailyLoss  float64 // Realized loss (positive number) that stops new entries for the day
}

// RiskManager implements risk management functionality.
type RiskManager struct {
	config RiskConfig

	mu    sync.Mutex
	stats RiskStats
	now   func() time.Time
}

// RiskStats holds the realized results of the current UTC day.
type RiskStats struct {
	Day         time.Time `json:"day"`          // UTC day the counters belong to
	DailyPnL    float64   `json:"daily_pnl"`    // Sum of realized profit closed today
	ClosedToday int       `json:"closed_today"` // Number of trades closed today
}

// NewRiskManager creates a new risk manager instance.
func NewRiskManager(config RiskConfig) *RiskManager {
	return &RiskManager{
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ValidateOpen validates whether a new position with the given stake and
// leverage may be opened while openTrades positions are already open.
func (r *RiskManager) ValidateOpen(ctx context.Context, stake, leverage float64, openTrades int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollover()

	if r.config.MaxOpenTrades > 0 && openTrades >= r.config.MaxOpenTrades {
		return fmt.Errorf("%w: %d trades already open, maximum is %d",
			ErrLimitExceeded, openTrades, r.config.MaxOpenTrades)
	}
	if r.config.MinStake > 0 && stake < r.config.MinStake {
		return fmt.Errorf("%w: stake %v below minimum %v", ErrLimitExceeded, stake, r.config.MinStake)
	}
	if r.config.MaxStake > 0 && stake > r.config.MaxStake {
		return fmt.Errorf("%w: stake %v above maximum %v", ErrLimitExceeded, stake, r.config.MaxStake)
	}
	if r.config.MaxLeverage > 0 && leverage > r.config.MaxLeverage {
		return fmt.Errorf("%w: leverage %v exceeds maximum allowed %v",
			ErrLimitExceeded, leverage, r.config.MaxLeverage)
	}
	if r.config.MaxDailyLoss > 0 && r.stats.DailyPnL <= -r.config.MaxDailyLoss {
		return fmt.Errorf("%w: realized loss %v today reached the daily stop %v",
			ErrLimitExceeded, -r.stats.DailyPnL, r.config.MaxDailyLoss)
	}
	return nil
}

// RecordClose books the realized profit of a closed trade into the daily
// statistics.
func (r *RiskManager) RecordClose(ctx context.Context, profit float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollover()

	r.stats.DailyPnL += profit
	r.stats.ClosedToday++
}

// ResetDailyStats clears the daily counters immediately instead of waiting
// for the UTC day to roll over.
func (r *RiskManager) ResetDailyStats(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats = RiskStats{Day: currentDay(r.now())}
}

// GetStats returns a copy of the current risk statistics.
func (r *RiskManager) GetStats() RiskStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollover()

	return r.stats
}

// rollover clears the counters when the UTC day has changed since they were
// written. Callers must hold the mutex.
func (r *RiskManager) rollover() {
	day := currentDay(r.now())
	if !r.stats.Day.Equal(day) {
		r.stats = RiskStats{Day: day}
	}
}

func currentDay(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}
