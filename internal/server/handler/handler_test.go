package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/alanyoungcy/mockexchange/internal/live"
	"github.com/alanyoungcy/mockexchange/internal/market"
	"github.com/alanyoungcy/mockexchange/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", domain.ErrInvalidInput), http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInsufficientBalance, http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrUpstreamFetch, http.StatusBadGateway},
		{domain.ErrDecode, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestHealthCheck(t *testing.T) {
	ok := Check{Name: "redis", Ping: func(context.Context) error { return nil }}
	down := Check{Name: "postgres", Ping: func(context.Context) error { return errors.New("refused") }}

	rec := httptest.NewRecorder()
	NewHealthHandler(testLogger(), ok).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(testLogger(), ok, down).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "down", body.Dependencies["postgres"])
	assert.Equal(t, "up", body.Dependencies["redis"])
}

type stubStats struct{}

func (stubStats) Stats() live.Stats { return live.Stats{State: "live", AssetID: "bitcoin", Version: 7} }

func TestStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStatusHandler("full", time.Now(), stubStats{}).GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Mode string     `json:"mode"`
		Book live.Stats `json:"book"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "full", body.Mode)
	assert.Equal(t, uint64(7), body.Book.Version)
}

type stubViewer struct{ v domain.BookView }

func (s stubViewer) View() domain.BookView { return s.v }

type stubBookCache struct{ views map[string]domain.BookView }

func (c stubBookCache) SetView(context.Context, domain.BookView) error { return nil }

func (c stubBookCache) GetView(_ context.Context, id string) (domain.BookView, error) {
	v, ok := c.views[id]
	if !ok {
		return domain.BookView{}, domain.ErrNotFound
	}
	return v, nil
}

func TestGetBook(t *testing.T) {
	sel := market.NewSelection(market.DefaultAsset, nil)
	liveView := domain.BookView{Snapshot: domain.OrderBookSnapshot{AssetID: "bitcoin", Version: 2}, AnimatingIndex: -1}
	cached := domain.BookView{Snapshot: domain.OrderBookSnapshot{AssetID: "ethereum", Version: 9}, AnimatingIndex: -1}
	h := NewBookHandler(stubViewer{liveView}, stubBookCache{map[string]domain.BookView{"ethereum": cached}}, sel, testLogger())

	rec := httptest.NewRecorder()
	h.GetBook(rec, httptest.NewRequest(http.MethodGet, "/api/book", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.BookView
	decode(t, rec, &got)
	assert.Equal(t, uint64(2), got.Snapshot.Version)

	rec = httptest.NewRecorder()
	h.GetBook(rec, httptest.NewRequest(http.MethodGet, "/api/book?asset=ethereum", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &got)
	assert.Equal(t, uint64(9), got.Snapshot.Version)

	rec = httptest.NewRecorder()
	h.GetBook(rec, httptest.NewRequest(http.MethodGet, "/api/book?asset=solana", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type stubMarkets struct {
	raw     []byte
	err     error
	candles []domain.Candle
}

func (s stubMarkets) Markets(context.Context) ([]domain.MarketSummary, error) {
	return []domain.MarketSummary{{ID: "bitcoin", Favorite: true}}, s.err
}

func (s stubMarkets) PriceRaw(context.Context, string) ([]byte, error) { return s.raw, s.err }

func (s stubMarkets) Candles(context.Context, string, int) ([]domain.Candle, error) {
	return s.candles, s.err
}

func TestMarketHandler(t *testing.T) {
	h := NewMarketHandler(stubMarkets{raw: []byte(`{"bitcoin":{"usd":1}}`)}, testLogger())

	rec := httptest.NewRecorder()
	h.GetPrice(rec, httptest.NewRequest(http.MethodGet, "/api/price?coin=bitcoin", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bitcoin":{"usd":1}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.GetCandles(rec, httptest.NewRequest(http.MethodGet, "/api/candles", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"candles":[]}`, rec.Body.String())

	h = NewMarketHandler(stubMarkets{err: fmt.Errorf("coingecko: %w", domain.ErrUpstreamFetch)}, testLogger())
	rec = httptest.NewRecorder()
	h.ListMarkets(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSelectionHandler(t *testing.T) {
	sel := market.NewSelection(market.DefaultAsset, nil)
	h := NewSelectionHandler(sel, testLogger())

	rec := httptest.NewRecorder()
	h.PutSelection(rec, httptest.NewRequest(http.MethodPut, "/api/selection", strings.NewReader(`{"id":"ethereum","symbol":"ETH","name":"Ethereum"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ethereum", sel.Selected().ID)

	rec = httptest.NewRecorder()
	h.PutSelection(rec, httptest.NewRequest(http.MethodPut, "/api/selection", strings.NewReader(`{"id":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.PutSelection(rec, httptest.NewRequest(http.MethodPut, "/api/selection", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/favorites/{id}", h.ToggleFavorite)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/favorites/solana", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sel.IsFavorite("solana"))
}

type stubTrades struct {
	placed service.OrderRequest
	err    error
}

func (s *stubTrades) PlaceOrder(_ context.Context, req service.OrderRequest) (service.Receipt, error) {
	s.placed = req
	if s.err != nil {
		return service.Receipt{}, s.err
	}
	return service.Receipt{Trade: domain.Trade{Asset: req.Asset, Total: 10}}, nil
}

func (s *stubTrades) RecentTrades(context.Context, string, int) ([]domain.Trade, error) {
	return []domain.Trade{}, nil
}

func (s *stubTrades) Balance(context.Context) (domain.Balance, error) {
	return domain.Balance{Wallet: "demo", USDT: 12453.82}, nil
}

func TestTradeHandler(t *testing.T) {
	st := &stubTrades{}
	h := NewTradeHandler(st, testLogger())

	rec := httptest.NewRecorder()
	h.PlaceTrade(rec, httptest.NewRequest(http.MethodPost, "/api/trades",
		strings.NewReader(`{"asset":" BitCoin ","side":"buy","price":10,"amount":1}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "bitcoin", st.placed.Asset)

	st.err = fmt.Errorf("trade_service: %w", domain.ErrInsufficientBalance)
	rec = httptest.NewRecorder()
	h.PlaceTrade(rec, httptest.NewRequest(http.MethodPost, "/api/trades",
		strings.NewReader(`{"asset":"bitcoin","side":"buy","price":10,"amount":1}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.GetBalance(rec, httptest.NewRequest(http.MethodGet, "/api/balance", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var bal domain.Balance
	decode(t, rec, &bal)
	assert.Equal(t, 12453.82, bal.USDT)

	rec = httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))
	assert.JSONEq(t, `{"trades":[]}`, rec.Body.String())
}

type stubBlobs struct{ prefix string }

func (s *stubBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	s.prefix = prefix
	return nil, nil
}

func (s *stubBlobs) Exists(context.Context, string) (bool, error) { return false, nil }

func TestListArchives(t *testing.T) {
	blobs := &stubBlobs{}
	h := NewArchiveHandler(blobs, testLogger())

	rec := httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives?day=2026/10/14", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trades/2026/10/14/", blobs.prefix)

	rec = httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives?day=../secrets", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
