package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/alanyoungcy/mockexchange/internal/service"
)

// TradeService defines what the trade handler needs from the service layer.
type TradeService interface {
	PlaceOrder(ctx context.Context, req service.OrderRequest) (service.Receipt, error)
	RecentTrades(ctx context.Context, asset string, limit int) ([]domain.Trade, error)
	Balance(ctx context.Context) (domain.Balance, error)
}

// TradeHandler serves simulated trading endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

// ListTrades returns recent trades, newest first.
// GET /api/trades?asset=bitcoin&limit=50
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	asset := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("asset")))
	trades, err := h.trades.RecentTrades(r.Context(), asset, queryInt(r, "limit", 50))
	if err != nil {
		fail(w, r, h.logger, "failed to list trades", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// PlaceTrade records a simulated market order.
// POST /api/trades {"asset":"bitcoin","side":"buy","price":64000,"amount":0.01}
func (h *TradeHandler) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	var req service.OrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Asset = strings.ToLower(strings.TrimSpace(req.Asset))

	rec, err := h.trades.PlaceOrder(r.Context(), req)
	if err != nil {
		fail(w, r, h.logger, "failed to place trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GetBalance returns the demo wallet balance.
// GET /api/balance
func (h *TradeHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.trades.Balance(r.Context())
	if err != nil {
		fail(w, r, h.logger, "failed to load balance", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}
