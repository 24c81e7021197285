// Package memory provides an in-memory TradeRepository used by tests and
// offline fill replays. Trades are stored and returned as deep copies, so a
// caller can only change stored state by going through Update.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cryptoMarginBot/internal/domain"
	"cryptoMarginBot/internal/ports"
)

// Repository implements ports.TradeRepository backed by a map.
type Repository struct {
	mu     sync.RWMutex
	nextID int64
	trades map[int64]*domain.Trade
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{trades: make(map[int64]*domain.Trade)}
}

// Create saves a new trade and returns its assigned ID. A trade that already
// carries an ID keeps it; reusing a stored ID is rejected.
func (r *Repository) Create(ctx context.Context, trade *domain.Trade) (int64, error) {
	if trade == nil {
		return 0, fmt.Errorf("%w: trade is required", ports.ErrInvalidRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := trade.ID
	if id == 0 {
		r.nextID++
		id = r.nextID
	} else if _, exists := r.trades[id]; exists {
		return 0, fmt.Errorf("%w: trade %d", ports.ErrDuplicateEntry, id)
	} else if id > r.nextID {
		r.nextID = id
	}

	stored := trade.Clone()
	stored.ID = id
	r.trades[id] = stored
	return id, nil
}

// Update replaces the stored state of an existing trade.
func (r *Repository) Update(ctx context.Context, trade *domain.Trade) error {
	if trade == nil {
		return fmt.Errorf("%w: trade is required", ports.ErrInvalidRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.trades[trade.ID]; !exists {
		return fmt.Errorf("%w: trade %d", ports.ErrNotFound, trade.ID)
	}
	r.trades[trade.ID] = trade.Clone()
	return nil
}

// FindByID retrieves a trade by ID. Returns nil, nil if not found.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.trades[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

// FindOpenByPair retrieves the open trade for a pair, oldest first when more
// than one is open. Returns nil, nil if none is.
func (r *Repository) FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *domain.Trade
	for _, t := range r.trades {
		if !t.IsOpen || t.Pair != pair {
			continue
		}
		if found == nil || earlier(t, found) {
			found = t
		}
	}
	if found == nil {
		return nil, nil
	}
	return found.Clone(), nil
}

// FindOpen retrieves all open trades ordered by open date ascending.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Trade
	for _, t := range r.trades {
		if t.IsOpen {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return earlier(out[i], out[j]) })
	return out, nil
}

// FindAll retrieves all trades ordered by open date descending.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Trade, 0, len(r.trades))
	for _, t := range r.trades {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return earlier(out[j], out[i]) })
	return out, nil
}

// GetTotalProfit sums the realised profit of all closed trades.
func (r *Repository) GetTotalProfit(ctx context.Context) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0.0
	for _, t := range r.trades {
		if !t.IsOpen {
			total += t.CloseProfit
		}
	}
	return total, nil
}

// GetTotalOpenStake sums the stake committed to open trades.
func (r *Repository) GetTotalOpenStake(ctx context.Context) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0.0
	for _, t := range r.trades {
		if t.IsOpen {
			total += t.StakeAmount
		}
	}
	return total, nil
}

// PerformanceByPair aggregates closed trades per pair, best total first.
func (r *Repository) PerformanceByPair(ctx context.Context) ([]ports.PairPerformance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byPair := make(map[string]*ports.PairPerformance)
	for _, t := range r.trades {
		if t.IsOpen {
			continue
		}
		p, ok := byPair[t.Pair]
		if !ok {
			p = &ports.PairPerformance{Pair: t.Pair}
			byPair[t.Pair] = p
		}
		p.TradeCount++
		p.TotalProfit += t.CloseProfit
		p.MeanRatio += t.CloseProfitRatio
	}

	out := make([]ports.PairPerformance, 0, len(byPair))
	for _, p := range byPair {
		p.MeanRatio /= float64(p.TradeCount)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalProfit != out[j].TotalProfit {
			return out[i].TotalProfit > out[j].TotalProfit
		}
		return out[i].Pair < out[j].Pair
	})
	return out, nil
}

// earlier orders trades by open date, falling back to ID for equal dates.
func earlier(a, b *domain.Trade) bool {
	if !a.OpenDate.Equal(b.OpenDate) {
		return a.OpenDate.Before(b.OpenDate)
	}
	return a.ID < b.ID
}
