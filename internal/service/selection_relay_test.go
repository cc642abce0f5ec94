package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/alanyoungcy/mockexchange/internal/market"
)

// pipeBus delivers published payloads to the single subscriber.
type pipeBus struct {
	memBus
	ch chan []byte
}

func (b *pipeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	_ = b.memBus.Publish(ctx, channel, payload)
	select {
	case b.ch <- payload:
	default:
	}
	return nil
}

func (b *pipeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func TestSelectionRelayRoundTrip(t *testing.T) {
	bus := &pipeBus{ch: make(chan []byte, 4)}
	relay := NewSelectionRelay(bus, testLogger())
	sel := market.NewSelection(market.DefaultAsset, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Publish(ctx, sel)

	got := make(chan domain.Asset, 1)
	go relay.Follow(ctx, func(a domain.Asset) {
		select {
		case got <- a:
		default:
		}
	})

	// Publish subscribes asynchronously, so keep changing the selection
	// until one change makes it across.
	ids := []string{"ethereum", "solana"}
	i := 0
	require.Eventually(t, func() bool {
		_ = sel.Select(domain.Asset{ID: ids[i%2]})
		i++
		select {
		case a := <-got:
			assert.Contains(t, ids, a.ID)
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.NotEmpty(t, bus.published)
	assert.Equal(t, domain.ChannelSelect, bus.published[0].channel)
}
