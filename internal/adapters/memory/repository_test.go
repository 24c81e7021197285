package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMarginBot/internal/domain"
	"cryptoMarginBot/internal/ports"
)

func openTrade(pair string, openDate time.Time) *domain.Trade {
	return &domain.Trade{
		Pair:        pair,
		Exchange:    "binance",
		StakeAmount: 0.001,
		Amount:      90.99181073,
		OpenRate:    0.00001099,
		Leverage:    1.0,
		Side:        domain.PositionShort,
		Borrowed:    90.99181073,
		FeeOpen:     0.0025,
		FeeClose:    0.0025,
		OpenDate:    openDate,
		IsOpen:      true,
	}
}

func closedTrade(pair string, openDate time.Time, profit, ratio float64) *domain.Trade {
	t := openTrade(pair, openDate)
	t.IsOpen = false
	t.CloseRate = 0.00001044
	t.CloseDate = openDate.Add(5 * time.Hour)
	t.CloseProfit = profit
	t.CloseProfitRatio = ratio
	t.CloseReason = domain.CloseReasonExitFill
	return t
}

func TestCreateAndFindByID(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	id, err := repo.Create(ctx, openTrade("ETH/BTC", time.Now().UTC()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "ETH/BTC", got.Pair)

	missing, err := repo.FindByID(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateValidation(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	_, err := repo.Create(ctx, nil)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	seeded := openTrade("ETH/BTC", time.Now().UTC())
	seeded.ID = 7
	_, err = repo.Create(ctx, seeded)
	require.NoError(t, err)

	_, err = repo.Create(ctx, seeded)
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

	// IDs keep counting past an explicitly seeded one.
	next, err := repo.Create(ctx, openTrade("ETC/BTC", time.Now().UTC()))
	require.NoError(t, err)
	assert.Equal(t, int64(8), next)
}

func TestUpdateRoundTrip(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	trade := openTrade("ETH/BTC", now)
	id, err := repo.Create(ctx, trade)
	require.NoError(t, err)
	trade.ID = id

	trade.IsOpen = false
	trade.CloseRate = 0.00001044
	trade.CloseDate = now.Add(10 * time.Minute)
	trade.CloseProfit = 0.00006214471967407108
	require.NoError(t, repo.Update(ctx, trade))

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsOpen)
	assert.Equal(t, 0.00001044, got.CloseRate)

	stray := openTrade("ETC/BTC", now)
	stray.ID = 99
	assert.ErrorIs(t, repo.Update(ctx, stray), ports.ErrNotFound)
	assert.ErrorIs(t, repo.Update(ctx, nil), ports.ErrInvalidRequest)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	trade := openTrade("ETH/BTC", time.Now().UTC())
	trade.Orders = []*domain.OrderRecord{{
		ID:     "1234",
		Side:   domain.Sell,
		Type:   domain.Limit,
		Status: domain.OrderStatusClosed,
		Price:  0.00001099,
	}}
	id, err := repo.Create(ctx, trade)
	require.NoError(t, err)

	// Mutating the trade handed in must not leak into the store.
	trade.OpenRate = 99
	trade.Orders[0].Price = 99

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.00001099, got.OpenRate)
	require.Len(t, got.Orders, 1)
	assert.Equal(t, 0.00001099, got.Orders[0].Price)

	// Mutating a returned snapshot must not leak either.
	got.Orders[0].Price = 7
	again, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.00001099, again.Orders[0].Price)
}

func TestFindOpenByPair(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.Create(ctx, closedTrade("ETH/BTC", now.Add(-48*time.Hour), 0.1, 0.05))
	require.NoError(t, err)
	_, err = repo.Create(ctx, openTrade("ETH/BTC", now.Add(-2*time.Hour)))
	require.NoError(t, err)
	_, err = repo.Create(ctx, openTrade("ETH/BTC", now.Add(-1*time.Hour)))
	require.NoError(t, err)

	got, err := repo.FindOpenByPair(ctx, "ETH/BTC")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, now.Add(-2*time.Hour), got.OpenDate, "oldest open trade wins")

	none, err := repo.FindOpenByPair(ctx, "ETC/BTC")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestFindOpenAndFindAllOrdering(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.Create(ctx, openTrade("ETH/BTC", now.Add(-1*time.Hour)))
	require.NoError(t, err)
	_, err = repo.Create(ctx, openTrade("ETC/BTC", now.Add(-3*time.Hour)))
	require.NoError(t, err)
	_, err = repo.Create(ctx, closedTrade("ADA/BTC", now.Add(-2*time.Hour), 0.1, 0.05))
	require.NoError(t, err)

	open, err := repo.FindOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "ETC/BTC", open[0].Pair)
	assert.Equal(t, "ETH/BTC", open[1].Pair)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ETH/BTC", all[0].Pair)
	assert.Equal(t, "ADA/BTC", all[1].Pair)
	assert.Equal(t, "ETC/BTC", all[2].Pair)
}

func TestProfitAggregation(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.Create(ctx, closedTrade("ETH/BTC", now.Add(-10*time.Hour), 0.4, 0.2))
	require.NoError(t, err)
	_, err = repo.Create(ctx, closedTrade("ETH/BTC", now.Add(-8*time.Hour), -0.1, -0.05))
	require.NoError(t, err)
	_, err = repo.Create(ctx, closedTrade("ETC/BTC", now.Add(-6*time.Hour), 0.5, 0.25))
	require.NoError(t, err)
	_, err = repo.Create(ctx, openTrade("ADA/BTC", now))
	require.NoError(t, err)

	total, err := repo.GetTotalProfit(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, total, 1e-12, "open trades must not count")

	stake, err := repo.GetTotalOpenStake(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, stake, 1e-12, "only the open trade's stake counts")

	perf, err := repo.PerformanceByPair(ctx)
	require.NoError(t, err)
	require.Len(t, perf, 2)
	assert.Equal(t, "ETC/BTC", perf[0].Pair)
	assert.Equal(t, 1, perf[0].TradeCount)
	assert.InDelta(t, 0.5, perf[0].TotalProfit, 1e-12)
	assert.Equal(t, "ETH/BTC", perf[1].Pair)
	assert.Equal(t, 2, perf[1].TradeCount)
	assert.InDelta(t, 0.3, perf[1].TotalProfit, 1e-12)
	assert.InDelta(t, 0.075, perf[1].MeanRatio, 1e-12)
}
