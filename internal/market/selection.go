// Package market holds the user's asset selection and favorites. Selection is
// the single owner of that state; other components learn about changes by
// subscribing.
package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// DefaultAsset is selected when nothing else has been chosen.
var DefaultAsset = domain.Asset{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"}

// DefaultFavorites seeds the favorites set.
var DefaultFavorites = []string{"bitcoin", "ethereum"}

// Selection tracks the selected asset and the favorites set.
type Selection struct {
	mu        sync.RWMutex
	selected  domain.Asset
	favorites map[string]bool
	subs      map[int]chan domain.Asset
	nextSub   int
}

// NewSelection creates a Selection. A zero initial asset falls back to
// DefaultAsset and a nil favorites slice to DefaultFavorites.
func NewSelection(initial domain.Asset, favorites []string) *Selection {
	if initial.ID == "" {
		initial = DefaultAsset
	}
	if favorites == nil {
		favorites = DefaultFavorites
	}
	fav := make(map[string]bool, len(favorites))
	for _, id := range favorites {
		if id = strings.TrimSpace(id); id != "" {
			fav[id] = true
		}
	}
	return &Selection{
		selected:  initial,
		favorites: fav,
		subs:      make(map[int]chan domain.Asset),
	}
}

// Selected returns the current asset.
func (s *Selection) Selected() domain.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Select makes a the current asset and notifies subscribers if it changed.
func (s *Selection) Select(a domain.Asset) error {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		return fmt.Errorf("market: select: empty asset id: %w", domain.ErrInvalidInput)
	}
	if a.Symbol == "" {
		a.Symbol = strings.ToUpper(a.ID)
	}
	if a.Name == "" {
		a.Name = a.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected.ID == a.ID {
		s.selected = a
		return nil
	}
	s.selected = a
	for _, ch := range s.subs {
		sendLatest(ch, a)
	}
	return nil
}

// sendLatest replaces any undelivered value so slow subscribers only ever
// see the newest selection.
func sendLatest(ch chan domain.Asset, a domain.Asset) {
	select {
	case ch <- a:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- a:
	default:
	}
}

// Subscribe returns a channel that receives the asset on every change. The
// channel is closed when ctx is done.
func (s *Selection) Subscribe(ctx context.Context) <-chan domain.Asset {
	ch := make(chan domain.Asset, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// IsFavorite reports whether id is in the favorites set.
func (s *Selection) IsFavorite(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.favorites[id]
}

// ToggleFavorite flips id's membership and returns the new state.
func (s *Selection) ToggleFavorite(id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("market: toggle favorite: empty asset id: %w", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.favorites[id] {
		delete(s.favorites, id)
		return false, nil
	}
	s.favorites[id] = true
	return true, nil
}

// Favorites returns the favorite ids in sorted order.
func (s *Selection) Favorites() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.favorites))
	for id := range s.favorites {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// MarkFavorites returns a copy of markets with Favorite set from the
// current favorites set.
func (s *Selection) MarkFavorites(markets []domain.MarketSummary) []domain.MarketSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MarketSummary, len(markets))
	for i, m := range markets {
		m.Favorite = s.favorites[m.ID]
		out[i] = m
	}
	return out
}
