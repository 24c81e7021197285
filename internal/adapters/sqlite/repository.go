package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptoMarginBot/internal/domain"
	"cryptoMarginBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.TradeRepository interface using SQLite.
// Trades and their order history live in separate tables and are written
// together inside a transaction.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/margin_bot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close() // Close the connection if ping fails
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1) // SQLite handles concurrency internally, but Go driver benefits from limiting connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		exchange TEXT NOT NULL,
		stake_amount REAL NOT NULL,
		amount REAL NOT NULL,
		open_rate REAL NOT NULL,
		close_rate REAL DEFAULT NULL,
		leverage REAL NOT NULL,
		side TEXT NOT NULL DEFAULT '',
		borrowed REAL NOT NULL DEFAULT 0,
		interest_rate REAL NOT NULL DEFAULT 0,
		interest_period_ns INTEGER NOT NULL DEFAULT 0,
		interest_mode TEXT NOT NULL DEFAULT '',
		fee_open REAL NOT NULL DEFAULT 0,
		fee_close REAL NOT NULL DEFAULT 0,
		open_date TIMESTAMP NOT NULL,
		close_date TIMESTAMP DEFAULT NULL,
		is_open INTEGER NOT NULL DEFAULT 1,
		close_profit REAL DEFAULT NULL,
		close_profit_ratio REAL DEFAULT NULL,
		close_reason TEXT NULL,
		pending_order_id TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id INTEGER NOT NULL REFERENCES trades(id),
		order_id TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		average REAL NOT NULL DEFAULT 0,
		amount REAL NOT NULL DEFAULT 0,
		filled REAL NOT NULL DEFAULT 0,
		remaining REAL NOT NULL DEFAULT 0,
		leverage REAL NOT NULL DEFAULT 0,
		order_timestamp TIMESTAMP DEFAULT NULL,
		UNIQUE (trade_id, order_id)
	);
	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_trades_pair_open ON trades (pair, is_open);
	CREATE INDEX IF NOT EXISTS idx_orders_trade ON orders (trade_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// tradeColumns is the canonical SELECT list matched by scanTrade.
const tradeColumns = `id, pair, exchange, stake_amount, amount, open_rate, COALESCE(close_rate, 0),
       leverage, side, borrowed, interest_rate, interest_period_ns, interest_mode,
       fee_open, fee_close, open_date, close_date, is_open,
       COALESCE(close_profit, 0), COALESCE(close_profit_ratio, 0), close_reason, pending_order_id`

// Create saves a new trade together with any order history it already
// carries, and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (pair, exchange, stake_amount, amount, open_rate, close_rate, leverage, side,
	                    borrowed, interest_rate, interest_period_ns, interest_mode, fee_open, fee_close,
	                    open_date, close_date, is_open, close_profit, close_profit_ratio, close_reason, pending_order_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for trade on %s: %w", trade.Pair, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, query,
		trade.Pair, trade.Exchange, trade.StakeAmount, trade.Amount, trade.OpenRate, trade.CloseRate,
		trade.Leverage, string(trade.Side), trade.Borrowed, trade.InterestRate, int64(trade.InterestPeriod),
		string(trade.InterestMode), trade.FeeOpen, trade.FeeClose, trade.OpenDate, nullTime(trade.CloseDate),
		trade.IsOpen, trade.CloseProfit, trade.CloseProfitRatio,
		nullString(string(trade.CloseReason)), nullString(trade.PendingOrderID))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for pair %s: %w", trade.Pair, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade on %s: %w", trade.Pair, err)
	}
	for _, o := range trade.Orders {
		if err := upsertOrder(ctx, tx, id, o); err != nil {
			return 0, fmt.Errorf("failed to insert order %s for trade on %s: %w", o.ID, trade.Pair, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit trade for pair %s: %w", trade.Pair, err)
	}

	trade.ID = id // Update the domain object with the ID
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "pair": trade.Pair})
	return id, nil
}

// Update persists the full state of an existing trade and upserts its order
// history, all in one transaction.
func (r *Repository) Update(ctx context.Context, trade *domain.Trade) error {
	const query = `
	UPDATE trades
	SET pair = ?, exchange = ?, stake_amount = ?, amount = ?, open_rate = ?, close_rate = ?,
	    leverage = ?, side = ?, borrowed = ?, interest_rate = ?, interest_period_ns = ?,
	    interest_mode = ?, fee_open = ?, fee_close = ?, open_date = ?, close_date = ?,
	    is_open = ?, close_profit = ?, close_profit_ratio = ?, close_reason = ?, pending_order_id = ?
	WHERE id = ?`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for trade ID %d: %w", trade.ID, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, query,
		trade.Pair, trade.Exchange, trade.StakeAmount, trade.Amount, trade.OpenRate, trade.CloseRate,
		trade.Leverage, string(trade.Side), trade.Borrowed, trade.InterestRate, int64(trade.InterestPeriod),
		string(trade.InterestMode), trade.FeeOpen, trade.FeeClose, trade.OpenDate, nullTime(trade.CloseDate),
		trade.IsOpen, trade.CloseProfit, trade.CloseProfitRatio,
		nullString(string(trade.CloseReason)), nullString(trade.PendingOrderID),
		trade.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w", trade.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade ID %d: %w", trade.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", trade.ID, ports.ErrNotFound)
	}
	for _, o := range trade.Orders {
		if err := upsertOrder(ctx, tx, trade.ID, o); err != nil {
			return fmt.Errorf("failed to upsert order %s for trade ID %d: %w", o.ID, trade.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update for trade ID %d: %w", trade.ID, err)
	}

	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{
		"tradeID": trade.ID, "pair": trade.Pair, "state": trade.State(),
	})
	return nil
}

// FindByID retrieves a trade with its order history by its unique ID.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Trade not found by ID", map[string]interface{}{"tradeID": id})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query trade by ID %d: %w", id, err)
	}
	if err := r.attachOrders(ctx, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// FindOpenByPair retrieves the currently open trade for a given pair, oldest
// first when more than one is open.
func (r *Repository) FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE pair = ? AND is_open = 1 ORDER BY open_date ASC LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, pair)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "No open trade found for pair", map[string]interface{}{"pair": pair})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query open trade for pair %s: %w", pair, err)
	}
	if err := r.attachOrders(ctx, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// FindOpen retrieves all open trades, ordered by open date ascending.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE is_open = 1 ORDER BY open_date ASC`
	return r.queryTrades(ctx, query)
}

// FindAll retrieves all trades, ordered by open date descending.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades ORDER BY open_date DESC`
	return r.queryTrades(ctx, query)
}

// GetTotalProfit calculates the sum of realised profit for all closed trades.
func (r *Repository) GetTotalProfit(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(close_profit), 0) FROM trades WHERE is_open = 0`
	var totalProfit float64
	err := r.db.QueryRowContext(ctx, query).Scan(&totalProfit)
	if err != nil {
		return 0, fmt.Errorf("failed to calculate total profit: %w", err)
	}
	return totalProfit, nil
}

// GetTotalOpenStake sums the stake committed to open trades.
func (r *Repository) GetTotalOpenStake(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(stake_amount), 0) FROM trades WHERE is_open = 1`
	var totalStake float64
	err := r.db.QueryRowContext(ctx, query).Scan(&totalStake)
	if err != nil {
		return 0, fmt.Errorf("failed to calculate total open stake: %w", err)
	}
	return totalStake, nil
}

// PerformanceByPair aggregates closed trades per pair, best total first.
func (r *Repository) PerformanceByPair(ctx context.Context) ([]ports.PairPerformance, error) {
	const query = `
	SELECT pair, COUNT(*) AS trade_count,
	       COALESCE(SUM(close_profit), 0) AS total_profit,
	       COALESCE(AVG(close_profit_ratio), 0) AS mean_ratio
	FROM trades
	WHERE is_open = 0
	GROUP BY pair
	ORDER BY total_profit DESC, pair ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pair performance: %w", err)
	}
	defer rows.Close()

	perf := make([]ports.PairPerformance, 0)
	for rows.Next() {
		var p ports.PairPerformance
		if err := rows.Scan(&p.Pair, &p.TradeCount, &p.TotalProfit, &p.MeanRatio); err != nil {
			return nil, fmt.Errorf("failed to scan pair performance row: %w", err)
		}
		perf = append(perf, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pair performance rows: %w", err)
	}
	return perf, nil
}

// queryTrades runs a multi-row trade query and attaches each trade's orders.
func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	// The result set is exhausted here, so the single connection is free
	// again for the per-trade order queries.
	for _, trade := range trades {
		if err := r.attachOrders(ctx, trade); err != nil {
			return nil, err
		}
	}
	return trades, nil
}

// attachOrders loads the order history for a trade, oldest first.
func (r *Repository) attachOrders(ctx context.Context, trade *domain.Trade) error {
	const query = `
	SELECT order_id, side, type, status, price, average, amount, filled, remaining, leverage, order_timestamp
	FROM orders WHERE trade_id = ? ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, trade.ID)
	if err != nil {
		return fmt.Errorf("failed to query orders for trade ID %d: %w", trade.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		o := &domain.OrderRecord{}
		var side, typ, status string
		var ts sql.NullTime
		if err := rows.Scan(&o.ID, &side, &typ, &status, &o.Price, &o.Average,
			&o.Amount, &o.Filled, &o.Remaining, &o.Leverage, &ts); err != nil {
			return fmt.Errorf("failed to scan order for trade ID %d: %w", trade.ID, err)
		}
		o.Side = domain.OrderSide(side)
		o.Type = domain.OrderType(typ)
		o.Status = domain.OrderStatus(status)
		if ts.Valid {
			o.Timestamp = ts.Time
		}
		trade.Orders = append(trade.Orders, o)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating order rows for trade ID %d: %w", trade.ID, err)
	}
	return nil
}

// upsertOrder writes one order snapshot, replacing the stored fill state when
// the exchange order id is already tracked for the trade.
func upsertOrder(ctx context.Context, tx *sql.Tx, tradeID int64, o *domain.OrderRecord) error {
	const query = `
	INSERT INTO orders (trade_id, order_id, side, type, status, price, average, amount, filled, remaining, leverage, order_timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (trade_id, order_id) DO UPDATE SET
		side = excluded.side, type = excluded.type, status = excluded.status,
		price = excluded.price, average = excluded.average, amount = excluded.amount,
		filled = excluded.filled, remaining = excluded.remaining,
		leverage = excluded.leverage, order_timestamp = excluded.order_timestamp`

	_, err := tx.ExecContext(ctx, query,
		tradeID, o.ID, string(o.Side), string(o.Type), string(o.Status),
		o.Price, o.Average, o.Amount, o.Filled, o.Remaining, o.Leverage, nullTime(o.Timestamp))
	return err
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row matching tradeColumns into a domain.Trade.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var (
		side, mode  string
		periodNS    int64
		closeDate   sql.NullTime
		closeReason sql.NullString
		pendingID   sql.NullString
	)
	err := s.Scan(
		&t.ID, &t.Pair, &t.Exchange, &t.StakeAmount, &t.Amount, &t.OpenRate, &t.CloseRate,
		&t.Leverage, &side, &t.Borrowed, &t.InterestRate, &periodNS, &mode,
		&t.FeeOpen, &t.FeeClose, &t.OpenDate, &closeDate, &t.IsOpen,
		&t.CloseProfit, &t.CloseProfitRatio, &closeReason, &pendingID)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Side = domain.PositionSide(side)
	t.InterestPeriod = time.Duration(periodNS)
	t.InterestMode = domain.AccrualMode(mode)
	if closeDate.Valid {
		t.CloseDate = closeDate.Time
	}
	if closeReason.Valid {
		t.CloseReason = domain.CloseReason(closeReason.String)
	}
	if pendingID.Valid {
		t.PendingOrderID = pendingID.String
	}
	return t, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
