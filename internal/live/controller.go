// Package live keeps one asset's synthetic order book fresh. A single Run
// goroutine owns all state: it fetches the reference price, hands the raw
// payload to the book worker, applies the worker's answer if it is still for
// the selected asset, and nudges one row per tick between regenerations.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/mockexchange/internal/book"
	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/alanyoungcy/mockexchange/internal/worker"
)

// Notification event names.
const (
	EventFetchFailed  = "fetch_failed"
	EventDecodeFailed = "decode_failed"
)

// State is the controller's lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateSnapshotting
	StateLive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSnapshotting:
		return "snapshotting"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// PriceSource returns the raw simple price payload for an asset.
type PriceSource interface {
	FetchPriceRaw(ctx context.Context, assetID string) ([]byte, error)
}

// BookWorker is the message-passing side of *worker.Worker.
type BookWorker interface {
	Submit(ctx context.Context, msg worker.Message) error
	Responses() <-chan worker.Message
}

// Publisher receives every new view.
type Publisher interface {
	PublishBook(ctx context.Context, view domain.BookView) error
}

// Notifier surfaces transient failures to the user.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds controller timings.
type Config struct {
	InitialAsset      string
	MutationInterval  time.Duration
	AnimationDuration time.Duration
	FetchTimeout      time.Duration
	// PriceRefreshInterval regenerates the book from a fresh price on a
	// fixed period. Zero disables it; regeneration then only follows
	// selection changes and Refresh calls.
	PriceRefreshInterval time.Duration
}

// Stats is a point-in-time summary for status endpoints.
type Stats struct {
	State        string `json:"state"`
	AssetID      string `json:"assetId"`
	Version      uint64 `json:"version"`
	Generations  int64  `json:"generations"`
	Mutations    int64  `json:"mutations"`
	StaleDropped int64  `json:"staleDropped"`
	Failures     int64  `json:"failures"`
}

type fetchResult struct {
	assetID string
	seq     uint64
	err     error
}

// Controller drives the live book. Create with New, then call Run.
type Controller struct {
	cfg       Config
	prices    PriceSource
	worker    BookWorker
	publisher Publisher
	notifier  Notifier
	clock     Clock
	rnd       book.Source
	logger    *slog.Logger

	selectCh  chan string
	refreshCh chan string
	fetchCh   chan fetchResult
	done      chan struct{}
	closeOnce sync.Once

	// Owned by Run.
	asset       string
	seq         uint64
	appliedSeq  uint64
	snap        domain.OrderBookSnapshot
	cancelFetch context.CancelFunc
	fetches     sync.WaitGroup
	ticker      Ticker
	priceTicker Ticker
	animTimer   Timer
	animSide    domain.Side
	animIndex   int

	view         atomic.Pointer[domain.BookView]
	state        atomic.Int32
	selected     atomic.Value // string
	generations  atomic.Int64
	mutations    atomic.Int64
	staleDropped atomic.Int64
	failures     atomic.Int64
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

// WithRand replaces the random source used for micro-mutations.
func WithRand(src book.Source) Option { return func(ctl *Controller) { ctl.rnd = src } }

// WithNotifier sets where failures are reported.
func WithNotifier(n Notifier) Option { return func(ctl *Controller) { ctl.notifier = n } }

// WithPublisher sets where new views are pushed.
func WithPublisher(p Publisher) Option { return func(ctl *Controller) { ctl.publisher = p } }

// New creates a controller for cfg.InitialAsset.
func New(cfg Config, prices PriceSource, w BookWorker, logger *slog.Logger, opts ...Option) *Controller {
	if cfg.MutationInterval <= 0 {
		cfg.MutationInterval = 1200 * time.Millisecond
	}
	if cfg.AnimationDuration <= 0 {
		cfg.AnimationDuration = 400 * time.Millisecond
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	c := &Controller{
		cfg:       cfg,
		prices:    prices,
		worker:    w,
		clock:     SystemClock{},
		rnd:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:    logger.With(slog.String("component", "live_controller")),
		selectCh:  make(chan string, 4),
		refreshCh: make(chan string, 1),
		fetchCh:   make(chan fetchResult, 4),
		done:      make(chan struct{}),
		asset:     cfg.InitialAsset,
		animIndex: domain.NoAnimation,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.selected.Store(cfg.InitialAsset)
	c.view.Store(&domain.BookView{
		Snapshot:       domain.OrderBookSnapshot{AssetID: cfg.InitialAsset},
		AnimatingIndex: domain.NoAnimation,
	})
	return c
}

// View returns the latest published view. The slices inside are never
// modified after publication.
func (c *Controller) View() domain.BookView {
	return *c.view.Load()
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Stats returns counters for status reporting.
func (c *Controller) Stats() Stats {
	v := c.View()
	asset, _ := c.selected.Load().(string)
	return Stats{
		State:        c.State().String(),
		AssetID:      asset,
		Version:      v.Snapshot.Version,
		Generations:  c.generations.Load(),
		Mutations:    c.mutations.Load(),
		StaleDropped: c.staleDropped.Load(),
		Failures:     c.failures.Load(),
	}
}

// SelectAsset switches the controller to assetID.
func (c *Controller) SelectAsset(assetID string) {
	select {
	case c.selectCh <- assetID:
	case <-c.done:
	}
}

// Refresh asks for a regeneration. Requests that arrive while one is
// already queued are merged.
func (c *Controller) Refresh(reason string) {
	select {
	case c.refreshCh <- reason:
	default:
	}
}

// Close stops Run. It is safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Run processes events until ctx is cancelled or Close is called. No view
// is published after Run returns.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("live controller started", slog.String("asset", c.asset))
	defer c.logger.Info("live controller stopped")
	defer c.teardown()

	if c.asset != "" {
		c.startFetch(ctx, "initial")
	}
	if c.cfg.PriceRefreshInterval > 0 {
		c.priceTicker = c.clock.NewTicker(c.cfg.PriceRefreshInterval)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil

		case id := <-c.selectCh:
			c.switchAsset(ctx, id)

		case reason := <-c.refreshCh:
			if c.asset != "" {
				c.startFetch(ctx, reason)
			}

		case res := <-c.fetchCh:
			c.onFetch(ctx, res)

		case msg := <-c.worker.Responses():
			c.onResponse(ctx, msg)

		case <-c.tickC():
			c.mutate(ctx)

		case <-c.priceTickC():
			// A slow fetch is not restarted by the next tick.
			if c.asset != "" && c.State() != StateSnapshotting {
				c.startFetch(ctx, "price_tick")
			}

		case <-c.animC():
			c.clearAnimation(ctx)
		}
	}
}

func (c *Controller) tickC() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C()
}

func (c *Controller) priceTickC() <-chan time.Time {
	if c.priceTicker == nil {
		return nil
	}
	return c.priceTicker.C()
}

func (c *Controller) animC() <-chan time.Time {
	if c.animTimer == nil {
		return nil
	}
	return c.animTimer.C()
}

func (c *Controller) switchAsset(ctx context.Context, id string) {
	if id == "" || id == c.asset {
		return
	}
	c.logger.Info("asset switched", slog.String("from", c.asset), slog.String("to", id))
	c.asset = id
	c.selected.Store(id)
	c.appliedSeq = 0
	c.stopTicker()
	c.stopAnimation()
	c.snap = domain.OrderBookSnapshot{AssetID: id, Version: c.snap.Version}
	c.setState(StateIdle)
	c.publish(ctx)
	c.startFetch(ctx, "asset_switch")
}

// startFetch cancels any in-flight fetch and starts a new one for the
// selected asset. A successful fetch is forwarded straight to the worker.
func (c *Controller) startFetch(ctx context.Context, reason string) {
	if c.cancelFetch != nil {
		c.cancelFetch()
	}
	c.seq++
	asset, seq := c.asset, c.seq
	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	c.cancelFetch = cancel
	c.setState(StateSnapshotting)

	c.logger.Debug("regenerating book",
		slog.String("asset", asset),
		slog.Uint64("seq", seq),
		slog.String("reason", reason),
	)

	c.fetches.Add(1)
	go func() {
		defer c.fetches.Done()
		defer cancel()
		raw, err := c.prices.FetchPriceRaw(fctx, asset)
		if err == nil {
			err = c.worker.Submit(fctx, worker.NewGenerateOrderBook(correlationID(asset, seq), asset, raw))
		}
		if err == nil {
			return
		}
		// fctx may already be done when the fetch timed out, so only Run's
		// lifetime may abort the report.
		select {
		case c.fetchCh <- fetchResult{assetID: asset, seq: seq, err: err}:
		case <-ctx.Done():
		case <-c.done:
		}
	}()
}

// onFetch only sees failures; successes arrive as worker responses.
func (c *Controller) onFetch(ctx context.Context, res fetchResult) {
	if res.assetID != c.asset || res.seq != c.seq {
		return
	}
	if errors.Is(res.err, context.Canceled) {
		return
	}
	c.fail(ctx, EventFetchFailed, res.assetID, res.seq, res.err)
}

func (c *Controller) onResponse(ctx context.Context, msg worker.Message) {
	idAsset, seq, ok := parseCorrelationID(msg.ID)
	if !ok || (msg.Type != worker.TypeOrderBookReady && msg.Type != worker.TypeError) {
		// Not an answer to one of our requests, e.g. an abandoned Call on a
		// shared worker.
		c.logger.Debug("ignoring foreign response",
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		)
		return
	}

	if msg.Type == worker.TypeError {
		if idAsset != c.asset || seq < c.appliedSeq {
			c.dropStale(idAsset, seq)
			return
		}
		c.fail(ctx, EventDecodeFailed, idAsset, seq, errors.New(worker.ErrorText(msg)))
		return
	}

	ready, err := worker.DecodeOrderBookReady(msg)
	if err != nil {
		c.fail(ctx, EventDecodeFailed, c.asset, seq, err)
		return
	}
	if ready.AssetID != c.asset || seq < c.appliedSeq {
		c.dropStale(ready.AssetID, seq)
		return
	}

	c.appliedSeq = seq
	c.stopAnimation()
	c.snap = domain.OrderBookSnapshot{
		AssetID:        ready.AssetID,
		ReferencePrice: ready.Price,
		Asks:           ready.Asks,
		Bids:           ready.Bids,
		Version:        c.snap.Version + 1,
		GeneratedAt:    c.clock.Now(),
	}
	c.generations.Add(1)
	c.setState(StateLive)
	if c.ticker == nil && !c.snap.Empty() {
		c.ticker = c.clock.NewTicker(c.cfg.MutationInterval)
	}
	c.publish(ctx)
}

func (c *Controller) dropStale(assetID string, seq uint64) {
	c.staleDropped.Add(1)
	c.logger.Debug("dropping response",
		slog.String("asset", assetID),
		slog.Uint64("seq", seq),
		slog.String("selected", c.asset),
		slog.String("error", domain.ErrStaleResponse.Error()),
	)
}

// fail keeps the last good snapshot and tells the user. The state only
// leaves Snapshotting when seq is the latest request.
func (c *Controller) fail(ctx context.Context, event, assetID string, seq uint64, err error) {
	c.failures.Add(1)
	c.logger.Warn("book refresh failed",
		slog.String("event", event),
		slog.String("asset", assetID),
		slog.String("error", err.Error()),
	)
	if seq == c.seq {
		if c.snap.Empty() {
			c.setState(StateIdle)
		} else {
			c.setState(StateLive)
		}
	}
	if c.notifier == nil {
		return
	}
	title := "Order book refresh failed"
	if nerr := c.notifier.Notify(ctx, event, title, fmt.Sprintf("%s: %v", assetID, err)); nerr != nil {
		c.logger.Warn("notify failed", slog.String("error", nerr.Error()))
	}
}

// mutate replaces amount and fill of one row with fresh draws. Price and
// total are left as generated.
func (c *Controller) mutate(ctx context.Context) {
	if c.snap.Empty() {
		return
	}
	side := domain.SideAsk
	if c.rnd.Float64() >= 0.5 {
		side = domain.SideBid
	}
	if len(c.snap.Ladder(side)) == 0 {
		side = other(side)
	}
	ladder := c.snap.Ladder(side)
	idx := int(c.rnd.Float64() * float64(len(ladder)))
	if idx >= len(ladder) {
		idx = len(ladder) - 1
	}

	next := make([]domain.PriceLevel, len(ladder))
	copy(next, ladder)
	next[idx].Amount = book.DrawAmount(c.rnd)
	next[idx].FillPercent = book.DrawFill(c.rnd)

	snap := c.snap
	if side == domain.SideAsk {
		snap.Asks = next
	} else {
		snap.Bids = next
	}
	snap.Version++
	c.snap = snap
	c.mutations.Add(1)

	c.stopAnimation()
	c.animSide, c.animIndex = side, idx
	c.animTimer = c.clock.NewTimer(c.cfg.AnimationDuration)
	c.publish(ctx)
}

func (c *Controller) clearAnimation(ctx context.Context) {
	c.animTimer = nil
	if c.animIndex == domain.NoAnimation {
		return
	}
	c.animSide, c.animIndex = "", domain.NoAnimation
	c.publish(ctx)
}

func (c *Controller) stopAnimation() {
	if c.animTimer != nil {
		c.animTimer.Stop()
		c.animTimer = nil
	}
	c.animSide, c.animIndex = "", domain.NoAnimation
}

func (c *Controller) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Controller) publish(ctx context.Context) {
	view := &domain.BookView{
		Snapshot:       c.snap,
		AnimatingSide:  c.animSide,
		AnimatingIndex: c.animIndex,
	}
	c.view.Store(view)
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishBook(ctx, *view); err != nil {
		c.logger.Warn("publish book failed", slog.String("error", err.Error()))
	}
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Controller) teardown() {
	if c.cancelFetch != nil {
		c.cancelFetch()
	}
	c.stopTicker()
	if c.priceTicker != nil {
		c.priceTicker.Stop()
		c.priceTicker = nil
	}
	c.stopAnimation()
	c.fetches.Wait()
	c.setState(StateIdle)
}

func other(s domain.Side) domain.Side {
	if s == domain.SideAsk {
		return domain.SideBid
	}
	return domain.SideAsk
}

func correlationID(assetID string, seq uint64) string {
	return assetID + "#" + strconv.FormatUint(seq, 10)
}

// parseCorrelationID splits asset#seq. ok is false for ids the controller
// did not issue.
func parseCorrelationID(id string) (asset string, seq uint64, ok bool) {
	i := strings.LastIndexByte(id, '#')
	if i < 0 {
		return id, 0, false
	}
	seq, err := strconv.ParseUint(id[i+1:], 10, 64)
	if err != nil || seq == 0 {
		return id, 0, false
	}
	return id[:i], seq, true
}
