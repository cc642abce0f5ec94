package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// SelectionFeed is the subscription side of market.Selection.
type SelectionFeed interface {
	Subscribe(ctx context.Context) <-chan domain.Asset
}

// SelectionRelay carries asset selections between processes over the bus so
// a server-mode API can drive a simulator-mode controller.
type SelectionRelay struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewSelectionRelay creates a SelectionRelay.
func NewSelectionRelay(bus domain.SignalBus, logger *slog.Logger) *SelectionRelay {
	return &SelectionRelay{bus: bus, logger: logger.With(slog.String("component", "selection_relay"))}
}

// Publish forwards every selection change to domain.ChannelSelect until ctx
// is done.
func (r *SelectionRelay) Publish(ctx context.Context, feed SelectionFeed) error {
	for a := range feed.Subscribe(ctx) {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("selection_relay: marshal: %w", err)
		}
		if err := r.bus.Publish(ctx, domain.ChannelSelect, data); err != nil {
			r.logger.WarnContext(ctx, "publish selection failed",
				slog.String("asset", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return ctx.Err()
}

// Follow calls apply for each selection received from the bus until ctx is
// done or the subscription ends.
func (r *SelectionRelay) Follow(ctx context.Context, apply func(domain.Asset)) error {
	ch, err := r.bus.Subscribe(ctx, domain.ChannelSelect)
	if err != nil {
		return fmt.Errorf("selection_relay: subscribe: %w", err)
	}
	for data := range ch {
		var a domain.Asset
		if err := json.Unmarshal(data, &a); err != nil || a.ID == "" {
			r.logger.WarnContext(ctx, "ignoring malformed selection", slog.Int("bytes", len(data)))
			continue
		}
		apply(a)
	}
	return ctx.Err()
}
