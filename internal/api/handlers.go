// Package api exposes the trading service over HTTP for operators: trade
// listing and inspection, manual entry and exit, aggregate statistics and
// health. It is an admin surface, not a public one, and carries no auth of
// its own.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"cryptoMarginBot/internal/app"
	"cryptoMarginBot/internal/domain"
	"cryptoMarginBot/internal/ports"
	"cryptoMarginBot/internal/risk"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TradeService is the slice of the trading service the HTTP layer depends on.
type TradeService interface {
	ListTrades(ctx context.Context) ([]*domain.Trade, error)
	GetTrade(ctx context.Context, id int64) (*domain.Trade, error)
	OpenPosition(ctx context.Context, p app.OpenParams) (*domain.Trade, error)
	CloseTrade(ctx context.Context, id int64) (*domain.Trade, error)
	GetStats(ctx context.Context) (*app.Stats, error)
	Health(ctx context.Context) error
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Handlers carries the dependencies shared by all endpoints.
type Handlers struct {
	service TradeService
	logger  ports.Logger
}

// NewHandlers creates the endpoint set around the given service.
func NewHandlers(service TradeService, logger ports.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// orderView is the wire shape of one exchange order attached to a trade.
type orderView struct {
	ID        string    `json:"order_id"`
	Side      string    `json:"side"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Price     float64   `json:"price"`
	Average   float64   `json:"average,omitempty"`
	Amount    float64   `json:"amount"`
	Filled    float64   `json:"filled"`
	Remaining float64   `json:"remaining"`
	Timestamp time.Time `json:"timestamp"`
}

// tradeView is the wire shape of a trade. Dates are RFC 3339 in UTC and the
// close date is omitted while the position is open.
type tradeView struct {
	ID               int64       `json:"trade_id"`
	Pair             string      `json:"pair"`
	Exchange         string      `json:"exchange"`
	State            string      `json:"state"`
	IsOpen           bool        `json:"is_open"`
	Side             string      `json:"side,omitempty"`
	IsShort          bool        `json:"is_short"`
	Leverage         float64     `json:"leverage"`
	StakeAmount      float64     `json:"stake_amount"`
	Amount           float64     `json:"amount"`
	Borrowed         float64     `json:"borrowed,omitempty"`
	OpenRate         float64     `json:"open_rate"`
	CloseRate        float64     `json:"close_rate,omitempty"`
	OpenDate         time.Time   `json:"open_date"`
	CloseDate        *time.Time  `json:"close_date,omitempty"`
	CloseProfit      float64     `json:"close_profit,omitempty"`
	CloseProfitRatio float64     `json:"close_profit_ratio,omitempty"`
	CloseReason      string      `json:"close_reason,omitempty"`
	PendingOrderID   string      `json:"pending_order_id,omitempty"`
	Orders           []orderView `json:"orders"`
}

func toTradeView(t *domain.Trade) tradeView {
	v := tradeView{
		ID:               t.ID,
		Pair:             t.Pair,
		Exchange:         t.Exchange,
		State:            string(t.State()),
		IsOpen:           t.IsOpen,
		Side:             string(t.Side),
		IsShort:          t.IsShort(),
		Leverage:         t.Leverage,
		StakeAmount:      t.StakeAmount,
		Amount:           t.Amount,
		Borrowed:         t.Borrowed,
		OpenRate:         t.OpenRate,
		CloseRate:        t.CloseRate,
		OpenDate:         t.OpenDate,
		CloseProfit:      t.CloseProfit,
		CloseProfitRatio: t.CloseProfitRatio,
		CloseReason:      string(t.CloseReason),
		PendingOrderID:   t.PendingOrderID,
		Orders:           make([]orderView, 0, len(t.Orders)),
	}
	if !t.CloseDate.IsZero() {
		d := t.CloseDate
		v.CloseDate = &d
	}
	for _, o := range t.Orders {
		v.Orders = append(v.Orders, orderView{
			ID:        o.ID,
			Side:      string(o.Side),
			Type:      string(o.Type),
			Status:    string(o.Status),
			Price:     o.Price,
			Average:   o.Average,
			Amount:    o.Amount,
			Filled:    o.Filled,
			Remaining: o.Remaining,
			Timestamp: o.Timestamp,
		})
	}
	return v
}

// openRequest is the body of POST /api/v1/trades.
type openRequest struct {
	Pair     string  `json:"pair"`
	Side     string  `json:"side"`
	Stake    float64 `json:"stake_amount"`
	Price    float64 `json:"price"`
	Leverage float64 `json:"leverage"`
}

// Health reports whether the exchange connection is alive.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !h.ready(w) {
		return
	}

	if err := h.service.Health(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "details": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ListTrades returns all trades, newest first. The optional "open" filter
// selects by position state and "limit" caps the result count; unparseable
// values are ignored.
func (h *Handlers) ListTrades(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !h.ready(w) {
		return
	}

	trades, err := h.service.ListTrades(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list trades", err)
		return
	}

	if v := r.URL.Query().Get("open"); v != "" {
		if wantOpen, err := strconv.ParseBool(v); err == nil {
			filtered := make([]*domain.Trade, 0, len(trades))
			for _, t := range trades {
				if t.IsOpen == wantOpen {
					filtered = append(filtered, t)
				}
			}
			trades = filtered
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 && limit < len(trades) {
			trades = trades[:limit]
		}
	}

	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, toTradeView(t))
	}
	json.NewEncoder(w).Encode(views)
}

// GetTrade returns one trade by id.
func (h *Handlers) GetTrade(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !h.ready(w) {
		return
	}

	id, err := parseTradeID(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "Invalid trade id", err)
		return
	}

	trade, err := h.service.GetTrade(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to fetch trade", err)
		return
	}
	if trade == nil {
		h.writeError(w, r, http.StatusNotFound, fmt.Sprintf("Trade %d not found", id), nil)
		return
	}
	json.NewEncoder(w).Encode(toTradeView(trade))
}

// OpenTrade opens a position from an operator request. An explicit price
// places a limit entry, otherwise the position enters at market.
func (h *Handlers) OpenTrade(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !h.ready(w) {
		return
	}

	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "Invalid side", err)
		return
	}

	trade, err := h.service.OpenPosition(r.Context(), app.OpenParams{
		Pair:     strings.ToUpper(strings.TrimSpace(req.Pair)),
		Side:     side,
		Stake:    req.Stake,
		Price:    req.Price,
		Leverage: req.Leverage,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to open trade", err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toTradeView(trade))
}

// CloseTrade exits the position at market, or abandons it when the entry
// never filled.
func (h *Handlers) CloseTrade(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !h.ready(w) {
		return
	}

	id, err := parseTradeID(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "Invalid trade id", err)
		return
	}

	trade, err := h.service.CloseTrade(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to close trade", err)
		return
	}
	json.NewEncoder(w).Encode(toTradeView(trade))
}

// GetStats returns realized totals, per-pair performance and risk counters.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !h.ready(w) {
		return
	}

	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to compute stats", err)
		return
	}
	if stats.Performance == nil {
		stats.Performance = []ports.PairPerformance{}
	}
	json.NewEncoder(w).Encode(stats)
}

// ready guards endpoints against a partially wired server.
func (h *Handlers) ready(w http.ResponseWriter) bool {
	if h.service != nil {
		return true
	}
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(ErrorResponse{Error: "Service not initialized"})
	return false
}

func parseTradeID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func parseSide(s string) (domain.PositionSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long":
		return domain.PositionLong, nil
	case "short":
		return domain.PositionShort, nil
	case "":
		return domain.PositionUnknown, fmt.Errorf("side is required")
	default:
		return domain.PositionUnknown, fmt.Errorf("unknown side %q, want long or short", s)
	}
}

// writeError sends an error body with an explicit status.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	if status >= http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(r.Context(), err, "API request failed", map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": status,
		})
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeServiceError derives the HTTP status from the error chain.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.writeError(w, r, statusForError(err), msg, err)
}

// statusForError maps service and domain sentinels onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ports.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidEconomicInput):
		return http.StatusBadRequest
	case errors.Is(err, ports.ErrDuplicateEntry), errors.Is(err, domain.ErrTradeAlreadyClosed):
		return http.StatusConflict
	case errors.Is(err, risk.ErrLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ports.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ports.ErrExchangeUnavailable), errors.Is(err, ports.ErrConnectionFailed), errors.Is(err, ports.ErrTimeout):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
