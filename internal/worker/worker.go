package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/mockexchange/internal/book"
)

// ErrClosed is returned by Submit and Call after Close.
var ErrClosed = errors.New("worker: closed")

// Config controls the pool.
type Config struct {
	Goroutines int
	QueueSize  int
	Rows       int
	// ReplyTimeout bounds how long a response waits for a slow consumer
	// before it is dropped.
	ReplyTimeout time.Duration
}

// Worker is the background book computation unit. Requests go in through
// Submit or Call; responses to Submit come back on Responses, responses to
// Call go to the caller that made them.
type Worker struct {
	cfg       Config
	requests  chan Message
	responses chan Message
	logger    *slog.Logger

	mu sync.Mutex
	// waiters holds a nil channel for a Call whose caller gave up, so the
	// late reply is dropped instead of reaching Responses.
	waiters map[string]chan Message
	closed  bool

	wg        sync.WaitGroup
	stop      chan struct{}
	closeOnce sync.Once
}

// New creates a Worker. Zero config fields fall back to one goroutine, a
// queue of 16 and book.DefaultRows rows per side.
func New(cfg Config, logger *slog.Logger) *Worker {
	if cfg.Goroutines <= 0 {
		cfg.Goroutines = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Rows <= 0 {
		cfg.Rows = book.DefaultRows
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 5 * time.Second
	}
	return &Worker{
		cfg:       cfg,
		requests:  make(chan Message, cfg.QueueSize),
		responses: make(chan Message, cfg.QueueSize),
		logger:    logger.With(slog.String("component", "book_worker")),
		waiters:   make(map[string]chan Message),
		stop:      make(chan struct{}),
	}
}

// Start launches the pool goroutines. They exit when ctx is cancelled or
// Close is called.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("book worker started",
		slog.Int("goroutines", w.cfg.Goroutines),
		slog.Int("rows", w.cfg.Rows),
	)
	for i := 0; i < w.cfg.Goroutines; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			w.drain()
			return
		case req := <-w.requests:
			w.reply(Handle(req, w.cfg.Rows))
		}
	}
}

// drain answers requests already queued when Close was called.
func (w *Worker) drain() {
	for {
		select {
		case req := <-w.requests:
			w.reply(Handle(req, w.cfg.Rows))
		default:
			return
		}
	}
}

func (w *Worker) reply(resp Message) {
	if resp.Type == TypeError {
		w.logger.Warn("request failed",
			slog.String("id", resp.ID),
			slog.String("error", ErrorText(resp)),
		)
	}

	w.mu.Lock()
	waiter, ok := w.waiters[resp.ID]
	if ok {
		delete(w.waiters, resp.ID)
	}
	w.mu.Unlock()
	if ok && waiter == nil {
		w.logger.Debug("dropping reply to abandoned call",
			slog.String("id", resp.ID),
			slog.String("type", resp.Type),
		)
		return
	}
	if ok {
		// Waiter channels have capacity 1 and receive exactly one reply.
		waiter <- resp
		return
	}

	timer := time.NewTimer(w.cfg.ReplyTimeout)
	defer timer.Stop()
	select {
	case w.responses <- resp:
	case <-timer.C:
		w.logger.Warn("response dropped, consumer not reading",
			slog.String("id", resp.ID),
			slog.String("type", resp.Type),
		)
	}
}

// Submit enqueues msg. The response arrives on Responses with the same ID.
// A missing ID is filled with a fresh uuid.
func (w *Worker) Submit(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return w.enqueue(ctx, msg)
}

// Call enqueues msg and waits for its response.
func (w *Worker) Call(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	ch := make(chan Message, 1)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return Message{}, ErrClosed
	}
	w.waiters[msg.ID] = ch
	w.mu.Unlock()

	if err := w.enqueue(ctx, msg); err != nil {
		w.forget(msg.ID)
		return Message{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		w.abandon(msg.ID)
		return Message{}, fmt.Errorf("worker: wait for %s: %w", msg.Type, ctx.Err())
	}
}

// abandon keeps the id reserved until its reply arrives. A reply already
// buffered for the caller is discarded with the channel.
func (w *Worker) abandon(id string) {
	w.mu.Lock()
	if _, ok := w.waiters[id]; ok {
		w.waiters[id] = nil
	}
	w.mu.Unlock()
}

func (w *Worker) forget(id string) {
	w.mu.Lock()
	delete(w.waiters, id)
	w.mu.Unlock()
}

func (w *Worker) enqueue(ctx context.Context, msg Message) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case w.requests <- msg:
		return nil
	case <-w.stop:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("worker: submit %s: %w", msg.Type, ctx.Err())
	}
}

// Responses delivers replies to Submit.
func (w *Worker) Responses() <-chan Message {
	return w.responses
}

// Close answers what is already queued, stops the pool and waits for it.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.stop)
		w.wg.Wait()
		w.logger.Info("book worker stopped")
	})
}
