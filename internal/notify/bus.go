package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// Publisher is the part of domain.SignalBus the bus sender needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Toast is what websocket clients receive on the notify channel.
type Toast struct {
	Type    string    `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// BusSender publishes notifications to domain.ChannelNotify, where the
// websocket hub picks them up.
type BusSender struct {
	bus Publisher
	now func() time.Time
}

// NewBusSender creates a BusSender.
func NewBusSender(bus Publisher) *BusSender {
	return &BusSender{bus: bus, now: func() time.Time { return time.Now().UTC() }}
}

// Send publishes a Toast.
func (b *BusSender) Send(ctx context.Context, title, message string) error {
	data, err := json.Marshal(Toast{Type: "notification", Title: title, Message: message, At: b.now()})
	if err != nil {
		return fmt.Errorf("bus: marshal toast: %w", err)
	}
	if err := b.bus.Publish(ctx, domain.ChannelNotify, data); err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (b *BusSender) Name() string {
	return "bus"
}
