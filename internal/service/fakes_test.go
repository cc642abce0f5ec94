package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/alanyoungcy/mockexchange/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memPriceCache struct {
	mu   sync.Mutex
	raw  map[string][]byte
	ts   map[string]time.Time
	sets int
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{raw: map[string][]byte{}, ts: map[string]time.Time{}}
}

func (c *memPriceCache) SetRaw(_ context.Context, id string, raw []byte, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw[id] = raw
	c.ts[id] = ts
	c.sets++
	return nil
}

func (c *memPriceCache) GetRaw(_ context.Context, id string) ([]byte, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.raw[id]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	return raw, c.ts[id], nil
}

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	raw   []byte
	err   error
	gate  chan struct{}
}

func (f *countingFetcher) SimplePriceRaw(_ context.Context, _ ...string) ([]byte, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.raw, f.err
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type memBookCache struct {
	views map[string]domain.BookView
}

func (c *memBookCache) SetView(_ context.Context, v domain.BookView) error {
	if c.views == nil {
		c.views = map[string]domain.BookView{}
	}
	c.views[v.Snapshot.AssetID] = v
	return nil
}

func (c *memBookCache) GetView(_ context.Context, id string) (domain.BookView, error) {
	v, ok := c.views[id]
	if !ok {
		return domain.BookView{}, domain.ErrNotFound
	}
	return v, nil
}

type published struct {
	channel string
	payload []byte
}

type memBus struct {
	mu        sync.Mutex
	published []published
	streamed  []published
}

func (b *memBus) Publish(_ context.Context, ch string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{ch, payload})
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, published{stream, payload})
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memTrades struct {
	rows      []domain.Trade
	insertErr error
}

func (m *memTrades) Insert(_ context.Context, t domain.Trade) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.rows = append(m.rows, t)
	return nil
}

func (m *memTrades) ListRecent(_ context.Context, asset string, limit int) ([]domain.Trade, error) {
	var out []domain.Trade
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if asset == "" || m.rows[i].Asset == asset {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}

func (m *memTrades) ListBefore(context.Context, time.Time, int) ([]domain.Trade, error) {
	return nil, nil
}

func (m *memTrades) DeleteByIDs(context.Context, []uuid.UUID) (int64, error) {
	return 0, nil
}

// memBalances mirrors the apply_trade procedure.
type memBalances struct {
	usdt    map[string]float64
	applied []domain.TradeSide
}

func (m *memBalances) Get(_ context.Context, wallet string) (domain.Balance, error) {
	v, ok := m.usdt[wallet]
	if !ok {
		return domain.Balance{}, domain.ErrNotFound
	}
	return domain.Balance{Wallet: wallet, USDT: v}, nil
}

func (m *memBalances) Set(_ context.Context, wallet string, usdt float64) error {
	m.usdt[wallet] = usdt
	return nil
}

func (m *memBalances) ApplyTrade(_ context.Context, wallet string, side domain.TradeSide, total float64) (domain.Balance, error) {
	v := m.usdt[wallet]
	if side == domain.TradeBuy {
		if v < total {
			return domain.Balance{}, domain.ErrInsufficientBalance
		}
		v -= total
	} else {
		v += total
	}
	m.usdt[wallet] = v
	m.applied = append(m.applied, side)
	return domain.Balance{Wallet: wallet, USDT: v}, nil
}

type captureNotifier struct {
	events []string
}

func (n *captureNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}

type fakeMarkets struct {
	calls   int
	markets []domain.MarketSummary
	ohlc    []byte
	days    int
}

func (f *fakeMarkets) Markets(context.Context, int) ([]domain.MarketSummary, error) {
	f.calls++
	return f.markets, nil
}

func (f *fakeMarkets) OHLCRaw(_ context.Context, _ string, days int) ([]byte, error) {
	f.days = days
	return f.ohlc, nil
}

type memMarketCache struct {
	markets []domain.MarketSummary
}

func (c *memMarketCache) SetMarkets(_ context.Context, m []domain.MarketSummary, _ time.Duration) error {
	c.markets = m
	return nil
}

func (c *memMarketCache) GetMarkets(context.Context) ([]domain.MarketSummary, error) {
	if c.markets == nil {
		return nil, domain.ErrNotFound
	}
	return c.markets, nil
}

// inlineDecoder runs the worker handler synchronously.
type inlineDecoder struct{}

func (inlineDecoder) Call(_ context.Context, msg worker.Message) (worker.Message, error) {
	return worker.Handle(msg, 12), nil
}
