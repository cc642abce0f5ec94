package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/redis/go-redis/v9"
)

// BookCache implements domain.BookCache so server replicas can serve the
// book a simulator replica is generating.
//
// Key schema:
//
//	book:{assetID}      - hash with "view" (JSON BookView) and "version"
//	book:{assetID}:bbo  - hash with "bid", "ask" and "spread"
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(assetID string) string    { return "book:" + assetID }
func bookBBOKey(assetID string) string { return "book:" + assetID + ":bbo" }

// SetView stores view as the latest for its asset.
func (bc *BookCache) SetView(ctx context.Context, view domain.BookView) error {
	assetID := view.Snapshot.AssetID
	if assetID == "" {
		return fmt.Errorf("redis: set book: empty asset id: %w", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", assetID, err)
	}

	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, bookKey(assetID), map[string]interface{}{
		"view":    data,
		"version": strconv.FormatUint(view.Snapshot.Version, 10),
	})
	bbo := bboFields(view.Snapshot)
	if len(bbo) > 0 {
		pipe.HSet(ctx, bookBBOKey(assetID), bbo)
	} else {
		pipe.Del(ctx, bookBBOKey(assetID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", assetID, err)
	}
	return nil
}

func bboFields(s domain.OrderBookSnapshot) map[string]interface{} {
	if len(s.Asks) == 0 || len(s.Bids) == 0 {
		return nil
	}
	return map[string]interface{}{
		"bid":    strconv.FormatFloat(s.Bids[0].Price, 'f', -1, 64),
		"ask":    strconv.FormatFloat(s.Asks[0].Price, 'f', -1, 64),
		"spread": strconv.FormatFloat(s.Spread(), 'f', -1, 64),
	}
}

// GetView returns the latest view for assetID, or domain.ErrNotFound.
func (bc *BookCache) GetView(ctx context.Context, assetID string) (domain.BookView, error) {
	data, err := bc.rdb.HGet(ctx, bookKey(assetID), "view").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BookView{}, domain.ErrNotFound
		}
		return domain.BookView{}, fmt.Errorf("redis: get book %s: %w", assetID, err)
	}
	var view domain.BookView
	if err := json.Unmarshal(data, &view); err != nil {
		return domain.BookView{}, fmt.Errorf("redis: unmarshal book %s: %w", assetID, err)
	}
	return view, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
