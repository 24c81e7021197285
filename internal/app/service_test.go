package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMarginBot/config"
	"cryptoMarginBot/internal/domain"
	"cryptoMarginBot/internal/ports"
	"cryptoMarginBot/internal/risk"
)

var testNow = time.Date(2022, 9, 1, 12, 0, 0, 0, time.UTC)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex // the poll and monitor loops log concurrently
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	// No-op for tests
}

// stubRates hands out interest-free borrow terms so profit numbers in the
// assertions stay round.
type stubRates struct{}

func (stubRates) BorrowTerms(exchange, pair string) (domain.BorrowTerms, error) {
	return domain.BorrowTerms{}, nil
}

type placedOrder struct {
	kind     string // "limit" or "market"
	symbol   string
	side     domain.OrderSide
	quantity string
	price    string
}

type mockExchange struct {
	serverTimeErr error
	tickerPrice   float64
	tickerErr     error
	leverageErr   error
	leverageCalls []int

	orders      map[string]*domain.OrderRecord // GetOrder responses by order id
	placed      map[string]*domain.OrderRecord // placement responses by key, e.g. "market_SELL"
	orderErrors map[string]error               // errors by key, e.g. "get_700", "cancel_700"

	placements []placedOrder
	canceled   []string
}

func (m *mockExchange) SetServerTime(ctx context.Context) error {
	return m.serverTimeErr
}

func (m *mockExchange) GetServerTime(ctx context.Context) (time.Time, error) {
	return testNow, m.serverTimeErr
}

func (m *mockExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	return m.tickerPrice, m.tickerErr
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.leverageCalls = append(m.leverageCalls, leverage)
	return m.leverageErr
}

func (m *mockExchange) GetOrder(ctx context.Context, symbol string, orderID string) (*domain.OrderRecord, error) {
	if err := m.orderErrors["get_"+orderID]; err != nil {
		return nil, err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockExchange) PlaceLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, price string) (*domain.OrderRecord, error) {
	key := "limit_" + string(side)
	m.placements = append(m.placements, placedOrder{kind: "limit", symbol: symbol, side: side, quantity: quantity, price: price})
	return m.placed[key], m.orderErrors[key]
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*domain.OrderRecord, error) {
	key := "market_" + string(side)
	m.placements = append(m.placements, placedOrder{kind: "market", symbol: symbol, side: side, quantity: quantity})
	return m.placed[key], m.orderErrors[key]
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID string) (*domain.OrderRecord, error) {
	key := "cancel_" + orderID
	if err := m.orderErrors[key]; err != nil {
		return nil, err
	}
	m.canceled = append(m.canceled, orderID)
	return m.placed[key], nil
}

func (m *mockExchange) Ping(ctx context.Context) error {
	return nil
}

// mockRepo stores clones, like the real repositories rebuild rows, so stale
// persisted state is observable in tests.
type mockRepo struct {
	mu             sync.Mutex
	trades         map[int64]*domain.Trade
	nextID         int64
	createErr      error
	findErr        error
	updateFailures int // fail this many Update calls before succeeding
	updateCount    int

	totalProfit float64
	totalStake  float64
	performance []ports.PairPerformance
}

func newMockRepo() *mockRepo {
	return &mockRepo{trades: make(map[int64]*domain.Trade)}
}

func (m *mockRepo) Create(ctx context.Context, t *domain.Trade) (int64, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := t.Clone()
	cp.ID = m.nextID
	m.trades[cp.ID] = cp
	return cp.ID, nil
}

func (m *mockRepo) Update(ctx context.Context, t *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCount++
	if m.updateFailures > 0 {
		m.updateFailures--
		return assert.AnError
	}
	m.trades[t.ID] = t.Clone()
	return nil
}

func (m *mockRepo) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trades[id].Clone(), nil
}

func (m *mockRepo) FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.IsOpen && t.Pair == pair {
			return t.Clone(), nil
		}
	}
	return nil, nil
}

func (m *mockRepo) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if t.IsOpen {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (m *mockRepo) FindAll(ctx context.Context) ([]*domain.Trade, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Trade, 0, len(m.trades))
	for _, t := range m.trades {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (m *mockRepo) GetTotalProfit(ctx context.Context) (float64, error) {
	return m.totalProfit, m.findErr
}

func (m *mockRepo) GetTotalOpenStake(ctx context.Context) (float64, error) {
	return m.totalStake, m.findErr
}

func (m *mockRepo) PerformanceByPair(ctx context.Context) ([]ports.PairPerformance, error) {
	return m.performance, m.findErr
}

type mockNotifier struct {
	msgs []string
	err  error
}

func (m *mockNotifier) Notify(ctx context.Context, message string) error {
	m.msgs = append(m.msgs, message)
	return m.err
}

func testConfig() *config.Config {
	return &config.Config{
		Exchange:        "binance",
		PollInterval:    10 * time.Millisecond,
		MonitorInterval: 10 * time.Millisecond,
		FeeOpen:         0.001,
		FeeClose:        0.001,
	}
}

func newTestService(t *testing.T, exchange *mockExchange, repo *mockRepo, notifier ports.Notifier, riskCfg risk.RiskConfig) (*TradingService, *mockLogger) {
	t.Helper()
	logger := &mockLogger{}
	rec, err := domain.NewReconciler(stubRates{}, func() time.Time { return testNow })
	require.NoError(t, err)
	svc, err := NewTradingService(testConfig(), logger, exchange, repo, rec, risk.NewRiskManager(riskCfg), notifier)
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow }
	return svc, logger
}

// seedTrade stores a trade and loads it into the working set, the way Start
// resumes open trades after a restart.
func seedTrade(t *testing.T, svc *TradingService, repo *mockRepo, params domain.TradeParams, pendingOrderID string) int64 {
	t.Helper()
	trade, err := domain.NewTrade(params)
	require.NoError(t, err)
	trade.PendingOrderID = pendingOrderID
	id, err := repo.Create(context.Background(), trade)
	require.NoError(t, err)
	require.NoError(t, svc.loadOpenTrades(context.Background()))
	return id
}

func TestNewTradingService(t *testing.T) {
	logger := &mockLogger{}
	exchange := &mockExchange{}
	repo := newMockRepo()
	rec, err := domain.NewReconciler(stubRates{}, nil)
	require.NoError(t, err)
	riskMgr := risk.NewRiskManager(risk.RiskConfig{})

	tests := []struct {
		name    string
		cfg     *config.Config
		wantErr bool
	}{
		{name: "valid configuration", cfg: testConfig(), wantErr: false},
		{name: "nil config", cfg: nil, wantErr: true},
		{
			name: "missing exchange name",
			cfg: &config.Config{
				PollInterval:    time.Second,
				MonitorInterval: time.Second,
			},
			wantErr: true,
		},
		{
			name: "zero poll interval",
			cfg: &config.Config{
				Exchange:        "binance",
				MonitorInterval: time.Second,
			},
			wantErr: true,
		},
		{
			name: "fee out of range",
			cfg: &config.Config{
				Exchange:        "binance",
				PollInterval:    time.Second,
				MonitorInterval: time.Second,
				FeeOpen:         1.5,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewTradingService(tt.cfg, logger, exchange, repo, rec, riskMgr, nil)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}

	t.Run("missing repository", func(t *testing.T) {
		svc, err := NewTradingService(testConfig(), logger, exchange, nil, rec, riskMgr, nil)
		assert.Error(t, err)
		assert.Nil(t, svc)
	})
}

func TestOpenPositionLimitEntry(t *testing.T) {
	exchange := &mockExchange{
		placed: map[string]*domain.OrderRecord{
			"limit_SELL": {
				ID:        "501",
				Side:      domain.Sell,
				Type:      domain.Limit,
				Status:    domain.OrderStatusOpen,
				Price:     2000.0,
				Amount:    0.00005,
				Remaining: 0.00005,
				Timestamp: testNow,
			},
		},
	}
	repo := newMockRepo()
	notifier := &mockNotifier{}
	svc, _ := newTestService(t, exchange, repo, notifier, risk.RiskConfig{})

	trade, err := svc.OpenPosition(context.Background(), OpenParams{
		Pair:     "ETH/USDT",
		Side:     domain.PositionShort,
		Stake:    0.1,
		Price:    2000.0,
		Leverage: 3,
	})
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.Equal(t, int64(1), trade.ID)
	assert.Equal(t, "501", trade.PendingOrderID)
	assert.Equal(t, domain.StatePendingOpen, trade.State())
	assert.Equal(t, domain.PositionUnknown, trade.Side)

	require.Len(t, exchange.placements, 1)
	assert.Equal(t, placedOrder{
		kind:     "limit",
		symbol:   "ETHUSDT",
		side:     domain.Sell,
		quantity: "0.00005",
		price:    "2000",
	}, exchange.placements[0])
	assert.Equal(t, []int{3}, exchange.leverageCalls)

	stored, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "501", stored.PendingOrderID)

	// Nothing filled yet, so nothing to announce.
	assert.Empty(t, notifier.msgs)
}

func TestOpenPositionMarketEntry(t *testing.T) {
	exchange := &mockExchange{
		tickerPrice: 2000.0,
		placed: map[string]*domain.OrderRecord{
			"market_BUY": {
				ID:        "502",
				Side:      domain.Buy,
				Type:      domain.Market,
				Status:    domain.OrderStatusClosed,
				Average:   2000.0,
				Amount:    0.0005,
				Filled:    0.0005,
				Timestamp: testNow,
			},
		},
	}
	repo := newMockRepo()
	notifier := &mockNotifier{}
	svc, logger := newTestService(t, exchange, repo, notifier, risk.RiskConfig{})

	trade, err := svc.OpenPosition(context.Background(), OpenParams{
		Pair:  "ETH/USDT",
		Side:  domain.PositionLong,
		Stake: 1.0,
	})
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.True(t, trade.Opened())
	assert.Equal(t, domain.PositionLong, trade.Side)
	assert.Equal(t, 2000.0, trade.OpenRate)
	assert.InDelta(t, 0.0005, trade.Amount, 1e-12)
	assert.Empty(t, trade.PendingOrderID)
	assert.Equal(t, domain.StateOpen, trade.State())

	stored, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Opened(), "the booked entry must be persisted, not only in memory")

	wantMsg := "MARKET_BUY has been fulfilled for Trade(id=1, pair=ETH/USDT, amount=0.00050000, open_rate=2000.00000000, open_since=2022-09-01 12:00:00)."
	assert.Contains(t, logger.infoMsgs, wantMsg)
	assert.Contains(t, notifier.msgs, wantMsg)
}

func TestOpenPositionRejections(t *testing.T) {
	tests := []struct {
		name    string
		params  OpenParams
		wantErr error
	}{
		{
			name:    "missing pair",
			params:  OpenParams{Side: domain.PositionLong, Stake: 1.0},
			wantErr: ports.ErrInvalidRequest,
		},
		{
			name:    "unknown side",
			params:  OpenParams{Pair: "ETH/USDT", Stake: 1.0},
			wantErr: ports.ErrInvalidRequest,
		},
		{
			name:    "zero stake",
			params:  OpenParams{Pair: "ETH/USDT", Side: domain.PositionLong},
			wantErr: ports.ErrInvalidRequest,
		},
		{
			name:    "fractional leverage",
			params:  OpenParams{Pair: "ETH/USDT", Side: domain.PositionLong, Stake: 1.0, Leverage: 0.5},
			wantErr: ports.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, &mockExchange{}, newMockRepo(), nil, risk.RiskConfig{})
			trade, err := svc.OpenPosition(context.Background(), tt.params)
			assert.Nil(t, trade)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("risk limit reached", func(t *testing.T) {
		exchange := &mockExchange{}
		repo := newMockRepo()
		svc, _ := newTestService(t, exchange, repo, nil, risk.RiskConfig{MaxOpenTrades: 1})
		seedTrade(t, svc, repo, domain.TradeParams{
			Pair: "BTC/USDT", Exchange: "binance", StakeAmount: 1.0, Amount: 0.0001, OpenRate: 20000.0, OpenDate: testNow,
		}, "900")

		trade, err := svc.OpenPosition(context.Background(), OpenParams{Pair: "ETH/USDT", Side: domain.PositionLong, Stake: 1.0, Price: 2000.0})
		assert.Nil(t, trade)
		assert.ErrorIs(t, err, risk.ErrLimitExceeded)
		assert.Empty(t, exchange.placements, "no order may reach the exchange after a risk rejection")
	})

	t.Run("pair already open", func(t *testing.T) {
		exchange := &mockExchange{}
		repo := newMockRepo()
		svc, _ := newTestService(t, exchange, repo, nil, risk.RiskConfig{})
		seedTrade(t, svc, repo, domain.TradeParams{
			Pair: "ETH/USDT", Exchange: "binance", StakeAmount: 1.0, Amount: 0.0005, OpenRate: 2000.0, OpenDate: testNow,
		}, "901")

		trade, err := svc.OpenPosition(context.Background(), OpenParams{Pair: "ETH/USDT", Side: domain.PositionLong, Stake: 1.0, Price: 2000.0})
		assert.Nil(t, trade)
		assert.ErrorIs(t, err, ports.ErrDuplicateEntry)
		assert.Empty(t, exchange.placements)
	})
}

func TestPollBooksEntryFill(t *testing.T) {
	exchange := &mockExchange{
		orders: map[string]*domain.OrderRecord{
			"700": {
				ID:        "700",
				Side:      domain.Sell,
				Type:      domain.Limit,
				Status:    domain.OrderStatusClosed,
				Price:     0.01,
				Amount:    0.1,
				Filled:    0.1,
				Timestamp: testNow,
			},
		},
	}
	repo := newMockRepo()
	notifier := &mockNotifier{}
	svc, logger := newTestService(t, exchange, repo, notifier, risk.RiskConfig{})
	id := seedTrade(t, svc, repo, domain.TradeParams{
		Pair: "ETH/BTC", Exchange: "binance", StakeAmount: 0.001, Amount: 0.1, OpenRate: 0.01, Leverage: 3, OpenDate: testNow,
	}, "700")

	svc.pollPendingOrders(context.Background())

	working := svc.open[id]
	require.NotNil(t, working)
	assert.True(t, working.Opened())
	assert.Equal(t, domain.PositionShort, working.Side)
	assert.InDelta(t, 0.3, working.Amount, 1e-12)
	assert.Empty(t, working.PendingOrderID)

	stored, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, stored.Opened())

	wantMsg := "LIMIT_SELL has been fulfilled for Trade(id=1, pair=ETH/BTC, amount=0.30000000, open_rate=0.01000000, open_since=2022-09-01 12:00:00)."
	assert.Contains(t, logger.infoMsgs, wantMsg)
	assert.Contains(t, notifier.msgs, wantMsg)
}

func TestPollSettlesExitFill(t *testing.T) {
	exchange := &mockExchange{
		orders: map[string]*domain.OrderRecord{
			"701": {
				ID:        "701",
				Side:      domain.Buy,
				Type:      domain.Limit,
				Status:    domain.OrderStatusClosed,
				Price:     0.008,
				Amount:    0.1,
				Filled:    0.1,
				Timestamp: testNow,
			},
		},
	}
	repo := newMockRepo()
	notifier := &mockNotifier{}
	svc, _ := newTestService(t, exchange, repo, notifier, risk.RiskConfig{})
	id := seedTrade(t, svc, repo, domain.TradeParams{
		Pair: "ETH/BTC", Exchange: "binance", StakeAmount: 0.001, Amount: 0.1,
		OpenRate: 0.01, Leverage: 3, Side: domain.PositionShort, OpenDate: testNow,
	}, "701")

	svc.pollPendingOrders(context.Background())

	assert.NotContains(t, svc.open, id, "a settled trade leaves the working set")

	stored, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.IsOpen)
	assert.Equal(t, 0.008, stored.CloseRate)
	assert.Equal(t, domain.CloseReasonExitFill, stored.CloseReason)
	assert.Greater(t, stored.CloseProfit, 0.0, "a short closed below entry realizes a gain")

	stats := svc.risk.GetStats()
	assert.Equal(t, 1, stats.ClosedToday)
	assert.InDelta(t, stored.CloseProfit, stats.DailyPnL, 1e-12)

	require.NotEmpty(t, notifier.msgs)
	assert.Contains(t, notifier.msgs[0], "LIMIT_BUY has been fulfilled")
}

func TestPollRetriesFailedPersist(t *testing.T) {
	exchange := &mockExchange{
		orders: map[string]*domain.OrderRecord{
			"700": {
				ID:     "700",
				Side:   domain.Buy,
				Type:   domain.Limit,
				Status: domain.OrderStatusClosed,
				Price:  0.01,
				Amount: 0.1,
				Filled: 0.1,
			},
		},
	}
	repo := newMockRepo()
	repo.updateFailures = 1
	svc, _ := newTestService(t, exchange, repo, nil, risk.RiskConfig{})
	id := seedTrade(t, svc, repo, domain.TradeParams{
		Pair: "ETH/BTC", Exchange: "binance", StakeAmount: 0.001, Amount: 0.1, OpenRate: 0.01, OpenDate: testNow,
	}, "700")

	svc.pollPendingOrders(context.Background())

	// The fill is booked in memory but the save failed.
	assert.True(t, svc.open[id].Opened())
	assert.True(t, svc.dirty[id])
	stored, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, stored.Opened(), "storage must still hold the pre-fill state")

	svc.pollPendingOrders(context.Background())

	assert.False(t, svc.dirty[id])
	stored, err = repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, stored.Opened(), "the retry must bring storage up to date")
}

func TestPollClearsDeadPendingOrder(t *testing.T) {
	exchange := &mockExchange{
		orders: map[string]*domain.OrderRecord{
			"700": {
				ID:     "700",
				Side:   domain.Sell,
				Type:   domain.Limit,
				Status: domain.OrderStatusCanceled,
				Price:  0.01,
				Amount: 0.1,
			},
		},
	}
	repo := newMockRepo()
	svc, logger := newTestService(t, exchange, repo, nil, risk.RiskConfig{})
	id := seedTrade(t, svc, repo, domain.TradeParams{
		Pair: "ETH/BTC", Exchange: "binance", StakeAmount: 0.001, Amount: 0.1, OpenRate: 0.01, OpenDate: testNow,
	}, "700")

	svc.pollPendingOrders(context.Background())

	working := svc.open[id]
	require.NotNil(t, working)
	assert.Empty(t, working.PendingOrderID)
	assert.Equal(t, domain.StatePendingOpen, working.State())
	assert.Contains(t, logger.warnMsgs, "Pending order ended without filling")

	stored, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, stored.PendingOrderID)
}

func TestCloseTradeSettlesAtExitFill(t *testing.T) {
	exchange := &mockExchange{
		placed: map[string]*domain.OrderRecord{
			"market_SELL": {
				ID:        "800",
				Side:      domain.Sell,
				Type:      domain.Market,
				Status:    domain.OrderStatusClosed,
				Average:   2100.0,
				Amount:    0.0005,
				Filled:    0.0005,
				Timestamp: testNow,
			},
		},
	}
	repo := newMockRepo()
	notifier := &mockNotifier{}
	svc, _ := newTestService(t, exchange, repo, notifier, risk.RiskConfig{})
	id := seedTrade(t, svc, repo, domain.TradeParams{
		Pair: "ETH/USDT", Exchange: "binance", StakeAmount: 1.0, Amount: 0.0005,
		OpenRate: 2000.0, Side: domain.PositionLong, OpenDate: testNow,
		FeeOpen: 0.001, FeeClose: 0.001,
	}, "")

	got, err := svc.CloseTrade(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.False(t, got.IsOpen)
	assert.Equal(t, domain.CloseReasonManual, got.CloseReason)
	assert.Equal(t, 2100.0, got.CloseRate)
	// open leg: 0.0005 * 2000 * 1.001, close leg: 0.0005 * 2100 * 0.999
	assert.InDelta(t, 0.04795, got.CloseProfit, 1e-9)

	require.Len(t, exchange.placements, 1)
	assert.Equal(t, placedOrder{kind: "market", symbol: "ETHUSDT", side: domain.Sell, quantity: "0.0005"}, exchange.placements[0])

	assert.NotContains(t, svc.open, id)
	stored, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, stored.IsOpen)
	assert.Equal(t, domain.CloseReasonManual, stored.CloseReason)

	assert.Equal(t, 1, svc.risk.GetStats().ClosedToday)
	require.NotEmpty(t, notifier.msgs)
	assert.Contains(t, notifier.msgs[0], "MARKET_SELL has been fulfilled")
}

func TestCloseTradeAbandonsUnfilledEntry(t *testing.T) {
	exchange := &mockExchange{}
	repo := newMockRepo()
	svc, _ := newTestService(t, exchange, repo, nil, risk.RiskConfig{})
	id := seedTrade(t, svc, repo, domain.TradeParams{
		Pair: "ETH/BTC", Exchange: "binance", StakeAmount: 0.001, Amount: 0.1, OpenRate: 0.01, OpenDate: testNow,
	}, "700")

	got, err := svc.CloseTrade(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, []string{"700"}, exchange.canceled)
	assert.False(t, got.IsOpen)
	assert.Equal(t, domain.PositionUnknown, got.Side)
	assert.Equal(t, domain.CloseReasonManual, got.CloseReason)
	assert.Equal(t, testNow, got.CloseDate)
	assert.Empty(t, exchange.placements, "nothing was filled, so nothing needs exiting")

	assert.NotContains(t, svc.open, id)
	stored, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, stored.IsOpen)
}

func TestCloseTradeErrors(t *testing.T) {
	t.Run("unknown trade", func(t *testing.T) {
		svc, _ := newTestService(t, &mockExchange{}, newMockRepo(), nil, risk.RiskConfig{})
		got, err := svc.CloseTrade(context.Background(), 42)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, ports.ErrNotFound)
	})

	t.Run("already closed", func(t *testing.T) {
		repo := newMockRepo()
		svc, _ := newTestService(t, &mockExchange{}, repo, nil, risk.RiskConfig{})
		trade, err := domain.NewTrade(domain.TradeParams{
			Pair: "ETH/USDT", Exchange: "binance", StakeAmount: 1.0, Amount: 0.0005,
			OpenRate: 2000.0, Side: domain.PositionLong, OpenDate: testNow,
		})
		require.NoError(t, err)
		require.NoError(t, trade.Close(2100.0, testNow))
		_, err = repo.Create(context.Background(), trade)
		require.NoError(t, err)

		got, err := svc.CloseTrade(context.Background(), 1)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, domain.ErrTradeAlreadyClosed)
	})

	t.Run("exit order fails", func(t *testing.T) {
		exchange := &mockExchange{
			orderErrors: map[string]error{"market_SELL": ports.ErrOrderPlacementFailed},
		}
		repo := newMockRepo()
		svc, _ := newTestService(t, exchange, repo, nil, risk.RiskConfig{})
		id := seedTrade(t, svc, repo, domain.TradeParams{
			Pair: "ETH/USDT", Exchange: "binance", StakeAmount: 1.0, Amount: 0.0005,
			OpenRate: 2000.0, Side: domain.PositionLong, OpenDate: testNow,
		}, "")

		got, err := svc.CloseTrade(context.Background(), id)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, ports.ErrOrderPlacementFailed)

		// The position must survive a failed exit attempt.
		require.Contains(t, svc.open, id)
		assert.True(t, svc.open[id].IsOpen)
	})
}

func TestMonitorOpenTrades(t *testing.T) {
	exchange := &mockExchange{tickerPrice: 2100.0}
	repo := newMockRepo()
	svc, logger := newTestService(t, exchange, repo, nil, risk.RiskConfig{})
	seedTrade(t, svc, repo, domain.TradeParams{
		Pair: "ETH/USDT", Exchange: "binance", StakeAmount: 1.0, Amount: 0.0005,
		OpenRate: 2000.0, Side: domain.PositionLong, OpenDate: testNow,
	}, "")

	svc.monitorOpenTrades(context.Background())

	assert.Contains(t, logger.debugMsgs, "Unrealized position value")
	assert.Contains(t, logger.infoMsgs, "Unrealized PnL")
}

func TestGetStats(t *testing.T) {
	repo := newMockRepo()
	repo.totalProfit = 1.5
	repo.totalStake = 0.25
	repo.performance = []ports.PairPerformance{{Pair: "ETH/USDT", TradeCount: 4, TotalProfit: 1.5}}
	svc, _ := newTestService(t, &mockExchange{}, repo, nil, risk.RiskConfig{})
	seedTrade(t, svc, repo, domain.TradeParams{
		Pair: "ETH/USDT", Exchange: "binance", StakeAmount: 0.25, Amount: 0.0001, OpenRate: 2000.0, OpenDate: testNow,
	}, "903")

	stats, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.OpenTrades)
	assert.Equal(t, 1.5, stats.TotalProfit)
	assert.Equal(t, 0.25, stats.TotalOpenStake)
	require.Len(t, stats.Performance, 1)
	assert.Equal(t, "ETH/USDT", stats.Performance[0].Pair)
}

func TestTradingService_Start(t *testing.T) {
	tests := []struct {
		name           string
		serverTimeErr  error
		findErr        error
		expectedError  bool
		expectedErrMsg string
	}{
		{
			name:          "successful start and shutdown",
			expectedError: false,
		},
		{
			name:           "server time sync failure",
			serverTimeErr:  assert.AnError,
			expectedError:  true,
			expectedErrMsg: "failed to set server time",
		},
		{
			name:           "loading open trades failure",
			findErr:        assert.AnError,
			expectedError:  true,
			expectedErrMsg: "failed to load open trades",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchange := &mockExchange{
				serverTimeErr: tt.serverTimeErr,
				orders: map[string]*domain.OrderRecord{
					"700": {
						ID:     "700",
						Side:   domain.Buy,
						Type:   domain.Limit,
						Status: domain.OrderStatusClosed,
						Price:  0.01,
						Amount: 0.1,
						Filled: 0.1,
					},
				},
			}
			repo := newMockRepo()
			repo.findErr = tt.findErr
			svc, logger := newTestService(t, exchange, repo, nil, risk.RiskConfig{})

			if !tt.expectedError {
				trade, err := domain.NewTrade(domain.TradeParams{
					Pair: "ETH/BTC", Exchange: "binance", StakeAmount: 0.001, Amount: 0.1, OpenRate: 0.01, OpenDate: testNow,
				})
				require.NoError(t, err)
				trade.PendingOrderID = "700"
				_, err = repo.Create(context.Background(), trade)
				require.NoError(t, err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errCh := make(chan error)
			go func() {
				errCh <- svc.Start(ctx)
			}()

			// Leave the loops a few poll cycles before shutting down.
			time.Sleep(100 * time.Millisecond)
			cancel()
			err := <-errCh

			if tt.expectedError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedErrMsg)
				return
			}
			assert.NoError(t, err)
			assert.Contains(t, logger.infoMsgs, "Open trades loaded")
			assert.Contains(t, logger.infoMsgs, "Trading Service stopped.")

			// The poll loop must have booked the waiting fill on its own.
			stored, err := repo.FindByID(context.Background(), 1)
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.True(t, stored.Opened())
		})
	}
}
