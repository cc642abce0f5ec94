package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mockexchange/internal/book"
	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/alanyoungcy/mockexchange/internal/worker"
)

const priceTick = time.Minute

const (
	btcPayload = `{"bitcoin":{"usd":64231.5}}`
	ethPayload = `{"ethereum":{"usd":3120.25}}`
)

// --- fakes ---

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}
func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}
func (f *fakeTicker) fire() { f.ch <- time.Time{} }

type fakeTimer struct{ fakeTicker }

func (f *fakeTimer) Stop() bool { f.fakeTicker.Stop(); return true }

type fakeClock struct {
	mu         sync.Mutex
	ticker     *fakeTicker
	timer      *fakeTimer
	byInterval map[time.Duration]*fakeTicker
}

func (c *fakeClock) Now() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	if c.byInterval == nil {
		c.byInterval = map[time.Duration]*fakeTicker{}
	}
	c.byInterval[d] = t
	// Price tickers are looked up by interval; ticker tracks the
	// mutation ticker.
	if d == priceTick {
		return t
	}
	c.ticker = t
	return t
}

func (c *fakeClock) tickerFor(d time.Duration) *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byInterval[d]
}

func (c *fakeClock) NewTimer(time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = &fakeTimer{fakeTicker{ch: make(chan time.Time, 1)}}
	return c.timer
}

func (c *fakeClock) currentTicker() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticker
}

func (c *fakeClock) currentTimer() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer
}

type fakePrices struct {
	mu       sync.Mutex
	payloads map[string]string
	err      error
	calls    int
	// hang makes every fetch wait for its context.
	hang bool
}

func (f *fakePrices) FetchPriceRaw(ctx context.Context, assetID string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	hang := f.hang
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.payloads[assetID]), nil
}

func (f *fakePrices) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeWorker struct {
	submitted chan worker.Message
	responses chan worker.Message
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{
		submitted: make(chan worker.Message, 8),
		responses: make(chan worker.Message, 8),
	}
}

func (f *fakeWorker) Submit(_ context.Context, msg worker.Message) error {
	f.submitted <- msg
	return nil
}

func (f *fakeWorker) Responses() <-chan worker.Message { return f.responses }

type capturePublisher struct{ views chan domain.BookView }

func (p *capturePublisher) PublishBook(_ context.Context, v domain.BookView) error {
	p.views <- v
	return nil
}

type event struct{ name, message string }

type captureNotifier struct{ events chan event }

func (n *captureNotifier) Notify(_ context.Context, name, _, message string) error {
	n.events <- event{name, message}
	return nil
}

// --- harness ---

type harness struct {
	ctl    *Controller
	clock  *fakeClock
	prices *fakePrices
	pub    *capturePublisher
	notes  *captureNotifier
	errc   chan error
	cancel context.CancelFunc
}

func start(t *testing.T, w BookWorker) *harness {
	t.Helper()
	return startCfg(t, w, Config{InitialAsset: "bitcoin"})
}

func newFakePrices() *fakePrices {
	return &fakePrices{payloads: map[string]string{
		"bitcoin":  btcPayload,
		"ethereum": ethPayload,
	}}
}

func startCfg(t *testing.T, w BookWorker, cfg Config) *harness {
	t.Helper()
	return startPrices(t, w, cfg, newFakePrices())
}

func startPrices(t *testing.T, w BookWorker, cfg Config, prices *fakePrices) *harness {
	t.Helper()
	h := &harness{
		clock:  &fakeClock{},
		prices: prices,
		pub:   &capturePublisher{views: make(chan domain.BookView, 64)},
		notes: &captureNotifier{events: make(chan event, 8)},
		errc:  make(chan error, 1),
	}
	h.ctl = New(cfg, h.prices, w,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(h.clock),
		WithRand(book.NewLCG(7)),
		WithPublisher(h.pub),
		WithNotifier(h.notes),
	)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errc <- h.ctl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		h.ctl.Close()
	})
	return h
}

func startWithWorker(t *testing.T) *harness {
	t.Helper()
	w := worker.New(worker.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	return start(t, w)
}

func (h *harness) nextView(t *testing.T) domain.BookView {
	t.Helper()
	select {
	case v := <-h.pub.views:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no view published")
		return domain.BookView{}
	}
}

func (h *harness) nextEvent(t *testing.T) event {
	t.Helper()
	select {
	case e := <-h.notes.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
		return event{}
	}
}

func (h *harness) waitTicker(t *testing.T) *fakeTicker {
	t.Helper()
	require.Eventually(t, func() bool { return h.clock.currentTicker() != nil }, 2*time.Second, 5*time.Millisecond)
	return h.clock.currentTicker()
}

// --- tests ---

func TestController_GeneratesInitialBook(t *testing.T) {
	h := startWithWorker(t)

	v := h.nextView(t)
	want, err := book.GenerateSnapshot("bitcoin", 64231.5, book.DefaultRows)
	require.NoError(t, err)

	assert.Equal(t, "bitcoin", v.Snapshot.AssetID)
	assert.Equal(t, 64231.5, v.Snapshot.ReferencePrice)
	assert.Equal(t, want.Asks, v.Snapshot.Asks)
	assert.Equal(t, want.Bids, v.Snapshot.Bids)
	assert.Equal(t, uint64(1), v.Snapshot.Version)
	assert.Equal(t, domain.NoAnimation, v.AnimatingIndex)
	assert.Equal(t, v, h.ctl.View())
	assert.Equal(t, StateLive, h.ctl.State())
}

func TestController_MicroMutationChangesOneRow(t *testing.T) {
	h := startWithWorker(t)
	before := h.nextView(t)
	ticker := h.waitTicker(t)

	ticker.fire()
	after := h.nextView(t)

	assert.Equal(t, before.Snapshot.Version+1, after.Snapshot.Version)
	require.NotEqual(t, domain.NoAnimation, after.AnimatingIndex)

	changed := 0
	for _, side := range []domain.Side{domain.SideAsk, domain.SideBid} {
		old, cur := before.Snapshot.Ladder(side), after.Snapshot.Ladder(side)
		require.Len(t, cur, len(old))
		for i := range cur {
			// Price and total are never touched by a tick.
			assert.Equal(t, old[i].Price, cur[i].Price)
			assert.Equal(t, old[i].Total, cur[i].Total)
			if old[i] == cur[i] {
				continue
			}
			changed++
			assert.Equal(t, after.AnimatingSide, side)
			assert.Equal(t, after.AnimatingIndex, i)
			assert.GreaterOrEqual(t, cur[i].Amount, 0.01)
			assert.Less(t, cur[i].FillPercent, 100.0)
		}
	}
	assert.Equal(t, 1, changed)
	old := before.Snapshot.Ladder(after.AnimatingSide)[after.AnimatingIndex]
	cur := after.Snapshot.Ladder(after.AnimatingSide)[after.AnimatingIndex]
	assert.True(t, old.Amount != cur.Amount || old.FillPercent != cur.FillPercent)
	assert.True(t, after.Animating(after.AnimatingSide, after.AnimatingIndex))

	// The previously published snapshot was not modified in place.
	again, err := book.GenerateSnapshot("bitcoin", 64231.5, book.DefaultRows)
	require.NoError(t, err)
	assert.Equal(t, again.Asks, before.Snapshot.Asks)
	assert.Equal(t, again.Bids, before.Snapshot.Bids)

	// Animation clears after its timer without a version bump.
	timer := h.clock.currentTimer()
	require.NotNil(t, timer)
	timer.fire()
	cleared := h.nextView(t)
	assert.Equal(t, domain.NoAnimation, cleared.AnimatingIndex)
	assert.Equal(t, after.Snapshot.Version, cleared.Snapshot.Version)
	assert.Equal(t, after.Snapshot.Asks, cleared.Snapshot.Asks)
}

func TestController_StaleResponseDropped(t *testing.T) {
	w := newFakeWorker()
	h := start(t, w)

	first := <-w.submitted
	assert.Equal(t, worker.TypeGenerateOrderBook, first.Type)

	h.ctl.SelectAsset("ethereum")
	switched := h.nextView(t)
	assert.Equal(t, "ethereum", switched.Snapshot.AssetID)
	assert.True(t, switched.Snapshot.Empty())
	second := <-w.submitted

	// The bitcoin answer arrives after the switch and must be ignored.
	w.responses <- worker.Handle(first, book.DefaultRows)
	w.responses <- worker.Handle(second, book.DefaultRows)

	v := h.nextView(t)
	assert.Equal(t, "ethereum", v.Snapshot.AssetID)
	assert.Equal(t, 3120.25, v.Snapshot.ReferencePrice)
	assert.Equal(t, int64(1), h.ctl.Stats().StaleDropped)
	assert.Equal(t, "ethereum", h.ctl.Stats().AssetID)
}

func TestController_OlderRequestForSameAssetDropped(t *testing.T) {
	w := newFakeWorker()
	h := start(t, w)

	first := <-w.submitted
	w.responses <- worker.Handle(first, book.DefaultRows)
	h.nextView(t)

	h.ctl.Refresh("trade_insert")
	second := <-w.submitted
	w.responses <- worker.Handle(second, book.DefaultRows)
	v := h.nextView(t)
	assert.Equal(t, uint64(2), v.Snapshot.Version)

	// Replaying the first answer is stale now.
	w.responses <- worker.Handle(first, book.DefaultRows)
	require.Eventually(t, func() bool { return h.ctl.Stats().StaleDropped == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), h.ctl.View().Snapshot.Version)
}

func TestController_FetchFailureKeepsSnapshot(t *testing.T) {
	h := startWithWorker(t)
	good := h.nextView(t)

	h.prices.setErr(errors.New("connection refused"))
	h.ctl.Refresh("price_tick")

	e := h.nextEvent(t)
	assert.Equal(t, EventFetchFailed, e.name)
	assert.Contains(t, e.message, "connection refused")
	assert.Equal(t, good, h.ctl.View())
	require.Eventually(t, func() bool { return h.ctl.State() == StateLive }, 2*time.Second, 5*time.Millisecond)
}

func TestController_DecodeFailureNotifies(t *testing.T) {
	h := startWithWorker(t)
	h.nextView(t)

	h.prices.mu.Lock()
	h.prices.payloads["ethereum"] = `{"ethereum":{}}`
	h.prices.mu.Unlock()

	h.ctl.SelectAsset("ethereum")
	empty := h.nextView(t)
	assert.True(t, empty.Snapshot.Empty())

	e := h.nextEvent(t)
	assert.Equal(t, EventDecodeFailed, e.name)
	assert.Contains(t, e.message, "no price found for ethereum")
	require.Eventually(t, func() bool { return h.ctl.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)
}

func TestController_TeardownStopsEverything(t *testing.T) {
	h := startWithWorker(t)
	h.nextView(t)
	ticker := h.waitTicker(t)

	h.ctl.Close()
	select {
	case err := <-h.errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, ticker.isStopped())
	assert.Equal(t, StateIdle, h.ctl.State())

	// Nothing is published after teardown.
	h.ctl.Refresh("late")
	select {
	case v := <-h.pub.views:
		t.Fatalf("view published after close: %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestController_ContextCancelReturnsError(t *testing.T) {
	h := startWithWorker(t)
	h.nextView(t)
	h.cancel()
	select {
	case err := <-h.errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestCorrelationID(t *testing.T) {
	asset, seq, ok := parseCorrelationID(correlationID("usd-coin", 42))
	assert.True(t, ok)
	assert.Equal(t, "usd-coin", asset)
	assert.Equal(t, uint64(42), seq)

	for _, id := range []string{"plain", "bitcoin#", "bitcoin#x", "bitcoin#0", "0b5e3c1a-7d2f-4c1e-9a8b-2f6d1e3c4b5a"} {
		_, _, ok = parseCorrelationID(id)
		assert.False(t, ok, id)
	}
}

func TestController_PriceTickRegenerates(t *testing.T) {
	w := worker.New(worker.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	h := startCfg(t, w, Config{InitialAsset: "bitcoin", PriceRefreshInterval: priceTick})

	first := h.nextView(t)
	require.Equal(t, uint64(1), first.Snapshot.Version)

	var pt *fakeTicker
	require.Eventually(t, func() bool {
		pt = h.clock.tickerFor(priceTick)
		return pt != nil
	}, 2*time.Second, 5*time.Millisecond)
	pt.fire()

	second := h.nextView(t)
	assert.Equal(t, uint64(2), second.Snapshot.Version)
	assert.Equal(t, first.Snapshot.Asks, second.Snapshot.Asks)
	assert.Equal(t, int64(2), h.ctl.Stats().Generations)

	h.cancel()
	<-h.errc
	assert.True(t, pt.isStopped())
}

func TestController_FetchTimeoutIsReported(t *testing.T) {
	// The report races the expired fetch context, so repeat to catch a
	// dropped one.
	for i := 0; i < 20; i++ {
		prices := newFakePrices()
		prices.hang = true
		h := startPrices(t, newFakeWorker(), Config{
			InitialAsset: "bitcoin",
			FetchTimeout: time.Millisecond,
		}, prices)

		e := h.nextEvent(t)
		assert.Equal(t, EventFetchFailed, e.name)
		assert.Contains(t, e.message, context.DeadlineExceeded.Error())
		require.Eventually(t, func() bool { return h.ctl.State() == StateIdle }, 2*time.Second, time.Millisecond)
		assert.Equal(t, int64(1), h.ctl.Stats().Failures)

		h.cancel()
		<-h.errc
	}
}

func TestController_PriceTickRunsAfterTimeout(t *testing.T) {
	w := newFakeWorker()
	prices := newFakePrices()
	prices.hang = true
	h := startPrices(t, w, Config{
		InitialAsset:         "bitcoin",
		FetchTimeout:         time.Millisecond,
		PriceRefreshInterval: priceTick,
	}, prices)
	assert.Equal(t, EventFetchFailed, h.nextEvent(t).name)

	h.prices.mu.Lock()
	h.prices.hang = false
	h.prices.mu.Unlock()
	var pt *fakeTicker
	require.Eventually(t, func() bool {
		pt = h.clock.tickerFor(priceTick)
		return pt != nil && h.ctl.State() == StateIdle
	}, 2*time.Second, time.Millisecond)
	pt.fire()

	msg := <-w.submitted
	w.responses <- worker.Handle(msg, book.DefaultRows)
	v := h.nextView(t)
	assert.Equal(t, "bitcoin", v.Snapshot.AssetID)
	assert.Equal(t, StateLive, h.ctl.State())
}

func TestController_IgnoresForeignResponses(t *testing.T) {
	w := newFakeWorker()
	h := start(t, w)
	first := <-w.submitted
	w.responses <- worker.Handle(first, book.DefaultRows)
	h.nextView(t)

	h.ctl.Refresh("trade")
	second := <-w.submitted

	// Leftovers of an abandoned candles Call and an id we never issued.
	candles := worker.Handle(worker.NewProcessCandles("0b5e3c1a-7d2f-4c1e-9a8b-2f6d1e3c4b5a", "bitcoin",
		[]byte(`[[1700000000000,1,2,0.5,1.5]]`)), book.DefaultRows)
	require.Equal(t, worker.TypeCandlesReady, candles.Type)
	w.responses <- candles
	plain := worker.Handle(first, book.DefaultRows)
	plain.ID = "bitcoin"
	w.responses <- plain
	w.responses <- worker.Handle(second, book.DefaultRows)

	v := h.nextView(t)
	assert.Equal(t, uint64(2), v.Snapshot.Version)
	assert.Zero(t, h.ctl.Stats().Failures)
	assert.Zero(t, h.ctl.Stats().StaleDropped)
	assert.Equal(t, StateLive, h.ctl.State())
	select {
	case e := <-h.notes.events:
		t.Fatalf("unexpected notification: %+v", e)
	default:
	}
}

func TestController_OlderErrorKeepsSnapshotting(t *testing.T) {
	w := newFakeWorker()
	h := start(t, w)
	first := <-w.submitted
	w.responses <- worker.Handle(first, book.DefaultRows)
	h.nextView(t)

	h.ctl.Refresh("trade")
	second := <-w.submitted
	h.ctl.Refresh("trade")
	third := <-w.submitted

	w.responses <- worker.Handle(worker.Message{Type: "BOGUS", ID: second.ID}, book.DefaultRows)
	assert.Equal(t, EventDecodeFailed, h.nextEvent(t).name)
	assert.Equal(t, StateSnapshotting, h.ctl.State())

	w.responses <- worker.Handle(third, book.DefaultRows)
	v := h.nextView(t)
	assert.Equal(t, uint64(2), v.Snapshot.Version)
	assert.Equal(t, StateLive, h.ctl.State())
}
