package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Markets(ctx context.Context) ([]domain.MarketSummary, error)
	PriceRaw(ctx context.Context, coin string) ([]byte, error)
	Candles(ctx context.Context, coin string, days int) ([]domain.Candle, error)
}

// MarketHandler serves market data endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// ListMarkets returns the top markets with favorites marked.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.Markets(r.Context())
	if err != nil {
		fail(w, r, h.logger, "failed to list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.MarketSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

// GetPrice proxies the upstream simple price payload unchanged.
// GET /api/price?coin=bitcoin
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	raw, err := h.markets.PriceRaw(r.Context(), r.URL.Query().Get("coin"))
	if err != nil {
		fail(w, r, h.logger, "failed to fetch price", err)
		return
	}
	writeRawJSON(w, http.StatusOK, raw)
}

// GetCandles returns OHLC bars.
// GET /api/candles?coin=bitcoin&days=90
func (h *MarketHandler) GetCandles(w http.ResponseWriter, r *http.Request) {
	candles, err := h.markets.Candles(r.Context(), r.URL.Query().Get("coin"), queryInt(r, "days", 0))
	if err != nil {
		fail(w, r, h.logger, "failed to load candles", err)
		return
	}
	if candles == nil {
		candles = []domain.Candle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"candles": candles})
}
