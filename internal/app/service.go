package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"cryptoMarginBot/config"
	"cryptoMarginBot/internal/domain"
	"cryptoMarginBot/internal/ports"
	"cryptoMarginBot/internal/risk"
)

// TradingService orchestrates the accounting engine: it opens positions,
// polls the exchange for fills, feeds them through the reconciler, persists
// every booked change and reports the results.
type TradingService struct {
	cfg        *config.Config
	logger     ports.Logger
	exchange   ports.ExchangeClient
	repo       ports.TradeRepository
	reconciler *domain.Reconciler
	risk       *risk.RiskManager
	notifier   ports.Notifier // optional, nil disables notifications

	now func() time.Time

	// mu guards the working set of open trades and the lock table. The
	// per-trade mutexes serialize reconcile-and-persist per trade; they are
	// never acquired while mu is held.
	mu    sync.Mutex
	open  map[int64]*domain.Trade
	locks map[int64]*sync.Mutex
	dirty map[int64]bool // trades whose last state change has not reached storage yet
}

// NewTradingService creates a new application service instance.
func NewTradingService(
	cfg *config.Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	repo ports.TradeRepository,
	reconciler *domain.Reconciler,
	riskMgr *risk.RiskManager,
	notifier ports.Notifier,
) (*TradingService, error) {

	// Validate dependencies; the notifier alone is optional.
	if cfg == nil || logger == nil || exchange == nil || repo == nil || reconciler == nil || riskMgr == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}

	// Validate config values needed by the service
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("configuration Exchange must be set")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("configuration PollInterval must be positive")
	}
	if cfg.MonitorInterval <= 0 {
		return nil, fmt.Errorf("configuration MonitorInterval must be positive")
	}
	if cfg.FeeOpen < 0 || cfg.FeeOpen >= 1 || cfg.FeeClose < 0 || cfg.FeeClose >= 1 {
		return nil, fmt.Errorf("configuration fees must be in [0,1)")
	}

	return &TradingService{
		cfg:        cfg,
		logger:     logger,
		exchange:   exchange,
		repo:       repo,
		reconciler: reconciler,
		risk:       riskMgr,
		notifier:   notifier,
		now:        func() time.Time { return time.Now().UTC() },
		open:       make(map[int64]*domain.Trade),
		locks:      make(map[int64]*sync.Mutex),
		dirty:      make(map[int64]bool),
	}, nil
}

// Start runs the service until the context is canceled or a shutdown signal
// arrives. It synchronizes exchange time, loads the open trades from storage
// and then drives the poll and monitor loops.
func (s *TradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Trading Service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// 1. Set server time (important for signed API calls)
	if err := s.exchange.SetServerTime(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to synchronize server time")
		return fmt.Errorf("failed to set server time: %w", err)
	}
	s.logger.Info(ctx, "Server time synchronized")

	// 2. Load the open trades so reconciliation resumes where it stopped
	if err := s.loadOpenTrades(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to load open trades")
		return fmt.Errorf("failed to load open trades: %w", err)
	}

	// 3. Run the loops until shutdown
	var wg sync.WaitGroup
	wg.Add(2)
	go s.pollLoop(ctx, &wg)
	go s.monitorLoop(ctx, &wg)
	wg.Wait()

	s.logger.Info(ctx, "Trading Service stopped.")
	return nil
}

// loadOpenTrades fills the working set from storage.
func (s *TradingService) loadOpenTrades(ctx context.Context) error {
	trades, err := s.repo.FindOpen(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, t := range trades {
		s.open[t.ID] = t
	}
	count := len(s.open)
	s.mu.Unlock()
	setOpenTrades(count)

	s.logger.Info(ctx, "Open trades loaded", map[string]interface{}{"count": count})
	return nil
}

// pollLoop drives pending-order synchronization.
func (s *TradingService) pollLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollPendingOrders(ctx)
		}
	}
}

// monitorLoop drives the unrealized PnL monitor.
func (s *TradingService) monitorLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.monitorOpenTrades(ctx)
		}
	}
}

// pollPendingOrders synchronizes every trade that is waiting on an order or
// whose last change never reached storage.
func (s *TradingService) pollPendingOrders(ctx context.Context) {
	start := time.Now()
	defer func() { observePollDuration(time.Since(start)) }()

	s.mu.Lock()
	ids := make([]int64, 0, len(s.open))
	for id, t := range s.open {
		if t.PendingOrderID != "" || s.dirty[id] {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		s.syncTrade(ctx, id)
	}
}

// syncTrade re-persists lagging state and reconciles the pending order of a
// single trade. Holds the trade lock for the whole cycle.
func (s *TradingService) syncTrade(ctx context.Context, tradeID int64) {
	lock := s.tradeLock(tradeID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	t := s.open[tradeID]
	isDirty := s.dirty[tradeID]
	s.mu.Unlock()
	if t == nil {
		return
	}

	// Catch up a save that failed in an earlier cycle before pulling new
	// state from the exchange.
	if isDirty {
		if err := s.persistTrade(ctx, t); err != nil {
			s.logger.Error(ctx, err, "Persist retry failed, keeping trade dirty", map[string]interface{}{"tradeID": tradeID})
			return
		}
	}
	if !t.IsOpen || t.PendingOrderID == "" {
		return
	}

	order, err := s.exchange.GetOrder(ctx, exchangeSymbol(t.Pair), t.PendingOrderID)
	if err != nil {
		recordReconcileError(t.Pair)
		s.logger.Error(ctx, err, "Failed to fetch pending order", map[string]interface{}{
			"tradeID": t.ID, "pair": t.Pair, "orderID": t.PendingOrderID,
		})
		return
	}

	s.applyOrder(ctx, t, order)
}

// applyOrder feeds one order snapshot through the reconciler and handles the
// outcome: metrics, fulfillment log line, notification, persistence.
func (s *TradingService) applyOrder(ctx context.Context, t *domain.Trade, order *domain.OrderRecord) {
	ev, err := t.Update(order, s.reconciler)
	if err != nil {
		recordReconcileError(t.Pair)
		s.logger.Error(ctx, err, "Failed to reconcile order fill", map[string]interface{}{
			"tradeID": t.ID, "pair": t.Pair, "orderID": order.ID,
		})
		s.notify(ctx, fmt.Sprintf("Reconcile error on trade %d (%s): %v", t.ID, t.Pair, err))
		return
	}
	recordFill(string(ev.Kind))

	switch ev.Kind {
	case domain.FillIgnored:
		if order.Status == domain.OrderStatusCanceled || order.Status == domain.OrderStatusExpired {
			// The awaited order died on the exchange; stop waiting for it.
			t.PendingOrderID = ""
			s.logger.Warn(ctx, "Pending order ended without filling", map[string]interface{}{
				"tradeID": t.ID, "orderID": order.ID, "status": order.Status,
			})
			if err := s.persistTrade(ctx, t); err != nil {
				s.logger.Error(ctx, err, "Failed to persist cleared pending order", map[string]interface{}{"tradeID": t.ID})
			}
		}
	case domain.FillDuplicate:
		s.logger.Debug(ctx, "Duplicate fill delivery ignored", map[string]interface{}{
			"tradeID": t.ID, "orderID": order.ID,
		})
	case domain.FillOpened, domain.FillRefreshed:
		if ev.Kind == domain.FillOpened {
			recordTradeOpened(t.Pair)
		}
		s.logger.Info(ctx, ev.Message())
		s.notify(ctx, ev.Message())
		if err := s.persistTrade(ctx, t); err != nil {
			s.logger.Error(ctx, err, "Failed to persist opening fill", map[string]interface{}{"tradeID": t.ID})
		}
	case domain.FillClosed:
		s.settleClose(ctx, t, ev.Message())
	}
}

// settleClose books the metrics, risk stats and notifications of a close and
// persists the final state.
func (s *TradingService) settleClose(ctx context.Context, t *domain.Trade, message string) {
	recordTradeClosed(string(t.CloseReason), t.CloseProfit)
	s.risk.RecordClose(ctx, t.CloseProfit)
	setUnrealizedProfit(t.Pair, 0)

	if message != "" {
		s.logger.Info(ctx, message)
		s.notify(ctx, message)
	}
	s.logger.Info(ctx, "Position closed", map[string]interface{}{
		"tradeID": t.ID,
		"pair":    t.Pair,
		"reason":  t.CloseReason,
		"profit":  t.CloseProfit,
		"ratio":   t.CloseProfitRatio,
	})

	if err := s.persistTrade(ctx, t); err != nil {
		s.logger.Error(ctx, err, "Failed to persist closed trade", map[string]interface{}{"tradeID": t.ID})
	}
}

// monitorOpenTrades marks every opened position to market at the current
// ticker price and exports the unrealized result.
func (s *TradingService) monitorOpenTrades(ctx context.Context) {
	s.mu.Lock()
	snapshots := make([]*domain.Trade, 0, len(s.open))
	for _, t := range s.open {
		if t.IsOpen && t.Opened() {
			snapshots = append(snapshots, t.Clone())
		}
	}
	s.mu.Unlock()
	if len(snapshots) == 0 {
		return
	}

	now := s.now()
	prices := make(map[string]float64)
	total := 0.0
	counted := 0
	for _, t := range snapshots {
		price, ok := prices[t.Pair]
		if !ok {
			var err error
			price, err = s.exchange.GetTickerPrice(ctx, exchangeSymbol(t.Pair))
			if err != nil {
				s.logger.Warn(ctx, "Ticker price unavailable, skipping pair", map[string]interface{}{
					"pair": t.Pair, "error": err.Error(),
				})
				prices[t.Pair] = 0
				continue
			}
			prices[t.Pair] = price
		}
		if price <= 0 {
			continue
		}

		profit := t.CalcProfitAt(price, now)
		ratio := t.CalcProfitRatioAt(price, now)
		setUnrealizedProfit(t.Pair, profit)
		total += profit
		counted++
		s.logger.Debug(ctx, "Unrealized position value", map[string]interface{}{
			"tradeID": t.ID,
			"pair":    t.Pair,
			"rate":    price,
			"profit":  profit,
			"ratio":   ratio,
		})
	}

	if counted > 0 {
		s.logger.Info(ctx, "Unrealized PnL", map[string]interface{}{"trades": counted, "total": total})
	}
}

// OpenParams carries the request to open a new position.
type OpenParams struct {
	Pair     string
	Side     domain.PositionSide // long or short
	Stake    float64             // quote currency committed by the owner
	Price    float64             // limit price; 0 places a market order
	Leverage float64             // defaults to 1.0
}

// OpenPosition places the entry order for a new position and records the
// trade. A limit entry leaves the trade pending until the fill is polled; a
// market entry is reconciled immediately from the placement response.
func (s *TradingService) OpenPosition(ctx context.Context, p OpenParams) (*domain.Trade, error) {
	op := "OpenPosition"

	if p.Pair == "" {
		return nil, fmt.Errorf("%w: pair is required", ports.ErrInvalidRequest)
	}
	if p.Side != domain.PositionLong && p.Side != domain.PositionShort {
		return nil, fmt.Errorf("%w: side must be long or short", ports.ErrInvalidRequest)
	}
	if p.Stake <= 0 {
		return nil, fmt.Errorf("%w: stake must be positive", ports.ErrInvalidRequest)
	}
	leverage := p.Leverage
	if leverage == 0 {
		leverage = 1.0
	}
	if leverage < 1.0 {
		return nil, fmt.Errorf("%w: leverage must be at least 1.0", ports.ErrInvalidRequest)
	}

	s.mu.Lock()
	openCount := len(s.open)
	s.mu.Unlock()
	if err := s.risk.ValidateOpen(ctx, p.Stake, leverage, openCount); err != nil {
		s.logger.Warn(ctx, op+": rejected by risk limits", map[string]interface{}{"pair": p.Pair, "error": err.Error()})
		return nil, err
	}

	existing, err := s.repo.FindOpenByPair(ctx, p.Pair)
	if err != nil {
		return nil, fmt.Errorf("checking open trades for %s: %w", p.Pair, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: trade %d is already open for %s", ports.ErrDuplicateEntry, existing.ID, p.Pair)
	}

	symbol := exchangeSymbol(p.Pair)

	// Price the entry: an explicit price places a limit order, otherwise the
	// current ticker prices a market order.
	price := p.Price
	if price <= 0 {
		price, err = s.exchange.GetTickerPrice(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("ticker price for %s: %w", p.Pair, err)
		}
	}
	quantity := p.Stake / price

	if leverage > 1.0 {
		// Best effort: the books carry their own leverage either way.
		if err := s.exchange.SetLeverage(ctx, symbol, int(leverage)); err != nil {
			s.logger.Warn(ctx, op+": failed to set leverage on exchange, continuing", map[string]interface{}{
				"symbol": symbol, "leverage": leverage, "error": err.Error(),
			})
		}
	}

	entrySide := domain.Buy
	if p.Side == domain.PositionShort {
		entrySide = domain.Sell
	}

	trade, err := domain.NewTrade(domain.TradeParams{
		Pair:        p.Pair,
		Exchange:    s.cfg.Exchange,
		StakeAmount: p.Stake,
		Amount:      quantity,
		OpenRate:    price,
		Leverage:    leverage,
		FeeOpen:     s.cfg.FeeOpen,
		FeeClose:    s.cfg.FeeClose,
		OpenDate:    s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, op+": placing entry order", map[string]interface{}{
		"pair": p.Pair, "side": entrySide, "quantity": quantity, "price": price, "leverage": leverage,
	})

	var order *domain.OrderRecord
	if p.Price > 0 {
		order, err = s.exchange.PlaceLimitOrder(ctx, symbol, entrySide, formatAmount(quantity), formatAmount(price))
	} else {
		order, err = s.exchange.PlaceMarketOrder(ctx, symbol, entrySide, formatAmount(quantity))
	}
	if err != nil {
		s.logger.Error(ctx, err, op+": entry order failed", map[string]interface{}{"pair": p.Pair})
		return nil, fmt.Errorf("entry order failed: %w", err)
	}

	trade.PendingOrderID = order.ID

	id, err := s.repo.Create(ctx, trade)
	if err != nil {
		s.logger.Error(ctx, err, op+": failed to save new trade", map[string]interface{}{"pair": p.Pair})
		if order.Status == domain.OrderStatusClosed {
			s.emergencyExit(ctx, symbol, entrySide, formatAmount(quantity))
		} else {
			_ = s.cancelOrderWarn(ctx, symbol, order.ID)
		}
		return nil, fmt.Errorf("failed to save trade after placing order: %w", err)
	}
	trade.ID = id

	s.mu.Lock()
	s.open[id] = trade
	count := len(s.open)
	s.mu.Unlock()
	setOpenTrades(count)

	// A market entry usually comes back filled; book it right away so the
	// stored row is economically real before the first poll cycle.
	if order.Status == domain.OrderStatusClosed {
		ev, uerr := trade.Update(order, s.reconciler)
		if uerr != nil {
			recordReconcileError(trade.Pair)
			s.logger.Error(ctx, uerr, op+": failed to reconcile entry fill", map[string]interface{}{"tradeID": id, "orderID": order.ID})
			s.emergencyExit(ctx, symbol, entrySide, formatAmount(quantity))
			return nil, fmt.Errorf("entry fill could not be booked: %w (emergency exit attempted)", uerr)
		}
		recordFill(string(ev.Kind))
		if ev.Kind == domain.FillOpened {
			recordTradeOpened(trade.Pair)
			s.logger.Info(ctx, ev.Message())
			s.notify(ctx, ev.Message())
		}
		if perr := s.persistTrade(ctx, trade); perr != nil {
			s.logger.Error(ctx, perr, op+": failed to persist entry fill", map[string]interface{}{"tradeID": id})
		}
	}

	s.logger.Info(ctx, op+": trade recorded", map[string]interface{}{
		"tradeID": id, "pair": p.Pair, "state": trade.State(),
	})

	return trade.Clone(), nil
}

// CloseTrade closes a position on request: the outstanding order is canceled
// first, then the position is exited with a market order and the books are
// settled from its fill.
func (s *TradingService) CloseTrade(ctx context.Context, tradeID int64) (*domain.Trade, error) {
	op := "CloseTrade"
	lock := s.tradeLock(tradeID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	t := s.open[tradeID]
	s.mu.Unlock()
	if t == nil {
		stored, err := s.repo.FindByID(ctx, tradeID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, fmt.Errorf("%w: trade %d", ports.ErrNotFound, tradeID)
		}
		return nil, fmt.Errorf("%w: trade %d", domain.ErrTradeAlreadyClosed, tradeID)
	}

	symbol := exchangeSymbol(t.Pair)

	// Cancel the awaited order so no fill lands halfway through the close.
	if t.PendingOrderID != "" {
		_, err := s.exchange.CancelOrder(ctx, symbol, t.PendingOrderID)
		switch {
		case err == nil:
			t.PendingOrderID = ""
		case errors.Is(err, ports.ErrOrderNotFound):
			// Possibly filled in the meantime; reconcile it before settling.
			s.logger.Warn(ctx, op+": pending order gone, syncing it", map[string]interface{}{"tradeID": t.ID, "orderID": t.PendingOrderID})
			order, gerr := s.exchange.GetOrder(ctx, symbol, t.PendingOrderID)
			if gerr != nil {
				return nil, fmt.Errorf("pending order %s vanished and could not be fetched: %w", t.PendingOrderID, gerr)
			}
			s.applyOrder(ctx, t, order)
			if !t.IsOpen {
				return t.Clone(), nil
			}
			t.PendingOrderID = ""
		default:
			return nil, fmt.Errorf("cancel pending order: %w", err)
		}
	}

	// An entry that never filled has nothing on the venue to exit.
	if !t.Opened() {
		t.IsOpen = false
		if t.CloseDate.IsZero() {
			t.CloseDate = s.now()
		}
		t.CloseReason = domain.CloseReasonManual
		s.logger.Info(ctx, op+": pending position abandoned", map[string]interface{}{"tradeID": t.ID, "pair": t.Pair})
		if err := s.persistTrade(ctx, t); err != nil {
			s.logger.Error(ctx, err, op+": failed to persist abandoned trade", map[string]interface{}{"tradeID": t.ID})
		}
		return t.Clone(), nil
	}

	quantity := t.Amount / t.Leverage
	exitSide := t.ExitSide()
	s.logger.Info(ctx, op+": placing exit market order", map[string]interface{}{
		"tradeID": t.ID, "pair": t.Pair, "side": exitSide, "quantity": quantity,
	})
	order, err := s.exchange.PlaceMarketOrder(ctx, symbol, exitSide, formatAmount(quantity))
	if err != nil {
		// The position stays open; the caller may retry.
		s.logger.Error(ctx, err, op+": exit order failed", map[string]interface{}{"tradeID": t.ID})
		return nil, fmt.Errorf("exit order for trade %d failed: %w", t.ID, err)
	}

	// Pre-mark the reason so the reconciler keeps it on the closing fill.
	t.CloseReason = domain.CloseReasonManual

	switch {
	case order.Status == domain.OrderStatusClosed && order.FillPrice() > 0:
		ev, uerr := t.Update(order, s.reconciler)
		if uerr != nil {
			return nil, fmt.Errorf("booking exit fill for trade %d: %w", t.ID, uerr)
		}
		recordFill(string(ev.Kind))
		s.settleClose(ctx, t, ev.Message())
	case order.Status == domain.OrderStatusClosed:
		// Filled but the response carries no usable price; settle at the
		// ticker instead.
		price, perr := s.exchange.GetTickerPrice(ctx, symbol)
		if perr != nil {
			return nil, fmt.Errorf("exit filled but no settle price for trade %d: %w", t.ID, perr)
		}
		if cerr := t.Close(price, s.now()); cerr != nil {
			return nil, cerr
		}
		s.settleClose(ctx, t, "")
	default:
		// The market order is still working; the poll loop settles it.
		t.PendingOrderID = order.ID
		if err := s.persistTrade(ctx, t); err != nil {
			s.logger.Error(ctx, err, op+": failed to persist exit order reference", map[string]interface{}{"tradeID": t.ID})
		}
	}

	return t.Clone(), nil
}

// ListTrades returns every recorded trade, newest first.
func (s *TradingService) ListTrades(ctx context.Context) ([]*domain.Trade, error) {
	return s.repo.FindAll(ctx)
}

// GetTrade returns one trade by id, nil when unknown.
func (s *TradingService) GetTrade(ctx context.Context, id int64) (*domain.Trade, error) {
	return s.repo.FindByID(ctx, id)
}

// Stats summarizes the ledger for the admin API.
type Stats struct {
	OpenTrades     int                     `json:"open_trades"`
	TotalProfit    float64                 `json:"total_profit"`
	TotalOpenStake float64                 `json:"total_open_stake"`
	Performance    []ports.PairPerformance `json:"performance"`
	Risk           risk.RiskStats          `json:"risk"`
}

// GetStats aggregates realized results and the current risk counters.
func (s *TradingService) GetStats(ctx context.Context) (*Stats, error) {
	profit, err := s.repo.GetTotalProfit(ctx)
	if err != nil {
		return nil, err
	}
	stake, err := s.repo.GetTotalOpenStake(ctx)
	if err != nil {
		return nil, err
	}
	perf, err := s.repo.PerformanceByPair(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	openCount := len(s.open)
	s.mu.Unlock()

	return &Stats{
		OpenTrades:     openCount,
		TotalProfit:    profit,
		TotalOpenStake: stake,
		Performance:    perf,
		Risk:           s.risk.GetStats(),
	}, nil
}

// Health reports whether the exchange connection works.
func (s *TradingService) Health(ctx context.Context) error {
	return s.exchange.Ping(ctx)
}

// --- Private helpers ---

// tradeLock returns the mutex serializing writes to one trade. Lock entries
// are kept for the life of the process so concurrent callers always share
// the same mutex.
func (s *TradingService) tradeLock(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// persistTrade updates storage and keeps the working set consistent: a
// failed save marks the trade dirty for the next poll cycle, a successful
// save of a closed trade retires it from the working set.
func (s *TradingService) persistTrade(ctx context.Context, t *domain.Trade) error {
	if err := s.repo.Update(ctx, t); err != nil {
		s.mu.Lock()
		s.dirty[t.ID] = true
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	delete(s.dirty, t.ID)
	if !t.IsOpen {
		delete(s.open, t.ID)
	}
	count := len(s.open)
	s.mu.Unlock()
	setOpenTrades(count)
	return nil
}

// notify delivers a message when a notifier is wired; failures are logged
// and counted, never propagated.
func (s *TradingService) notify(ctx context.Context, msg string) {
	if s.notifier == nil || msg == "" {
		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		recordNotifyFailure()
		s.logger.Warn(ctx, "Notification failed", map[string]interface{}{"error": err.Error()})
	}
}

// emergencyExit flattens venue exposure after bookkeeping failed, so an
// unrecorded position never keeps running on the exchange.
func (s *TradingService) emergencyExit(ctx context.Context, symbol string, entrySide domain.OrderSide, quantity string) {
	op := "emergencyExit"
	closeSide := entrySide.Opposite()
	s.logger.Warn(ctx, op+": placing emergency exit order", map[string]interface{}{"symbol": symbol, "side": closeSide, "quantity": quantity})
	if _, err := s.exchange.PlaceMarketOrder(ctx, symbol, closeSide, quantity); err != nil {
		s.logger.Error(ctx, err, op+": FAILED TO PLACE EMERGENCY EXIT ORDER", map[string]interface{}{"symbol": symbol})
		return
	}
	s.logger.Info(ctx, op+": emergency exit order placed")
}

// cancelOrderWarn attempts to cancel an order and logs a warning on failure.
func (s *TradingService) cancelOrderWarn(ctx context.Context, symbol, orderID string) error {
	op := "cancelOrderWarn"
	_, err := s.exchange.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		// An already filled or canceled order is fine here.
		if errors.Is(err, ports.ErrOrderNotFound) {
			s.logger.Warn(ctx, op+": order not found, likely already filled or canceled", map[string]interface{}{"orderID": orderID})
			return nil
		}
		s.logger.Error(ctx, err, op+": failed to cancel order", map[string]interface{}{"orderID": orderID})
		return err
	}
	s.logger.Info(ctx, op+": order canceled", map[string]interface{}{"orderID": orderID})
	return nil
}

// exchangeSymbol converts a slash pair ("ETH/BTC") into the exchange's
// symbol form ("ETHBTC").
func exchangeSymbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "/", ""))
}

// formatAmount renders a quantity or price with the shortest exact
// representation the API accepts.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
