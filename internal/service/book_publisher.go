package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// BookMessage is the bus payload carrying a view to websocket clients.
type BookMessage struct {
	Type string          `json:"type"`
	View domain.BookView `json:"view"`
}

// BookPublisher stores each view in the book cache and broadcasts it on the
// asset's book channel. Either dependency may be nil.
type BookPublisher struct {
	cache  domain.BookCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewBookPublisher creates a BookPublisher.
func NewBookPublisher(cache domain.BookCache, bus domain.SignalBus, logger *slog.Logger) *BookPublisher {
	return &BookPublisher{cache: cache, bus: bus, logger: logger.With(slog.String("component", "book_publisher"))}
}

// PublishBook writes the view through to Redis.
func (p *BookPublisher) PublishBook(ctx context.Context, view domain.BookView) error {
	assetID := view.Snapshot.AssetID
	if p.cache != nil {
		if err := p.cache.SetView(ctx, view); err != nil {
			return fmt.Errorf("book_publisher: cache %s: %w", assetID, err)
		}
	}
	if p.bus == nil {
		return nil
	}
	data, err := json.Marshal(BookMessage{Type: "book", View: view})
	if err != nil {
		return fmt.Errorf("book_publisher: marshal %s: %w", assetID, err)
	}
	if err := p.bus.Publish(ctx, domain.BookChannel(assetID), data); err != nil {
		return fmt.Errorf("book_publisher: publish %s: %w", assetID, err)
	}
	return nil
}
