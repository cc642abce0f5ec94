package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_SubmitResponds(t *testing.T) {
	w := New(Config{Goroutines: 2}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Close()

	require.NoError(t, w.Submit(ctx, NewGenerateOrderBook("a", "bitcoin", []byte(btcPayload))))

	select {
	case resp := <-w.Responses():
		assert.Equal(t, "a", resp.ID)
		assert.Equal(t, TypeOrderBookReady, resp.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}
}

func TestWorker_SubmitAssignsID(t *testing.T) {
	w := New(Config{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Close()

	require.NoError(t, w.Submit(ctx, Message{Type: "NOPE"}))
	select {
	case resp := <-w.Responses():
		assert.NotEmpty(t, resp.ID)
		assert.Equal(t, TypeError, resp.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}
}

func TestWorker_Call(t *testing.T) {
	w := New(Config{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Close()

	resp, err := w.Call(ctx, NewProcessCandles("", "bitcoin", []byte(`[[1000,1,1,1,1]]`)))
	require.NoError(t, err)
	out, err := DecodeCandlesReady(resp)
	require.NoError(t, err)
	assert.Len(t, out.Candles, 1)

	// Call replies never leak onto the shared response channel.
	select {
	case resp := <-w.Responses():
		t.Fatalf("unexpected response %+v", resp)
	default:
	}
}

func TestWorker_ClosedRejects(t *testing.T) {
	w := New(Config{}, testLogger())
	w.Start(context.Background())
	w.Close()
	w.Close()

	err := w.Submit(context.Background(), Message{Type: TypeGenerateOrderBook})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = w.Call(context.Background(), Message{Type: TypeGenerateOrderBook})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWorker_CallContextCancelled(t *testing.T) {
	// Not started, so nothing answers.
	w := New(Config{QueueSize: 1}, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.Call(ctx, NewGenerateOrderBook("", "bitcoin", []byte(btcPayload)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorker_AbandonedCallReplyIsDropped(t *testing.T) {
	w := New(Config{QueueSize: 1}, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// The request is queued but nothing answers before the deadline.
	_, err := w.Call(ctx, NewProcessCandles("", "bitcoin", []byte(`[[1000,1,1,1,1]]`)))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	w.Start(runCtx)
	defer w.Close()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.waiters) == 0
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case resp := <-w.Responses():
		t.Fatalf("abandoned reply leaked: %+v", resp)
	case <-time.After(100 * time.Millisecond):
	}
}
