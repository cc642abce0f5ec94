package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

type memBlob struct {
	objects   map[string][]byte
	multipart int
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart++
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memTrades struct {
	rows    []domain.Trade
	deleted int
	listErr error
}

func (m *memTrades) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Trade
	for _, t := range m.rows {
		if t.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTrades) DeleteByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.rows[:0]
	for _, t := range m.rows {
		if !drop[t.ID] {
			kept = append(kept, t)
		}
	}
	n := len(m.rows) - len(kept)
	m.rows = kept
	m.deleted += n
	return int64(n), nil
}

func tradesAt(n int, at time.Time) []domain.Trade {
	out := make([]domain.Trade, n)
	for i := range out {
		out[i] = domain.Trade{
			ID: uuid.New(), Asset: "bitcoin", Side: domain.TradeBuy,
			Price: 64000, Amount: 0.01, Total: 640, CreatedAt: at,
		}
	}
	return out
}

func newTestArchiver(cfg ArchiverConfig, blob *memBlob, trades *memTrades) *TradeArchiver {
	a := NewArchiver(cfg, blob, blob, trades, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tick := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return a
}

func TestArchiveTrades_DeletesInBatches(t *testing.T) {
	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	trades := &memTrades{rows: append(tradesAt(5, cutoff.Add(-time.Hour)), tradesAt(2, cutoff.Add(time.Hour))...)}
	blob := &memBlob{objects: map[string][]byte{}}

	n, err := newTestArchiver(ArchiverConfig{BatchSize: 2, DeleteAfterUpload: true}, blob, trades).
		ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, 5, trades.deleted)
	assert.Len(t, trades.rows, 2)
	assert.Len(t, blob.objects, 3)

	lines := 0
	for path, data := range blob.objects {
		assert.True(t, strings.HasPrefix(path, "trades/2024/05/01/"), path)
		assert.True(t, strings.HasSuffix(path, ".jsonl"), path)
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			var tr domain.Trade
			require.NoError(t, json.Unmarshal(sc.Bytes(), &tr))
			assert.Equal(t, "bitcoin", tr.Asset)
			lines++
		}
	}
	assert.Equal(t, 5, lines)
}

func TestArchiveTrades_KeepRowsTakesOneBatch(t *testing.T) {
	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	trades := &memTrades{rows: tradesAt(5, cutoff.Add(-time.Hour))}
	blob := &memBlob{objects: map[string][]byte{}}

	n, err := newTestArchiver(ArchiverConfig{BatchSize: 3}, blob, trades).ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Len(t, trades.rows, 5)
	assert.Len(t, blob.objects, 1)
}

func TestArchiveTrades_Nothing(t *testing.T) {
	blob := &memBlob{objects: map[string][]byte{}}
	n, err := newTestArchiver(ArchiverConfig{}, blob, &memTrades{}).ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.objects)
}

func TestArchiveTrades_Multipart(t *testing.T) {
	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	trades := &memTrades{rows: tradesAt(3, cutoff.Add(-time.Minute))}
	blob := &memBlob{objects: map[string][]byte{}}

	_, err := newTestArchiver(ArchiverConfig{MultipartThreshold: 10}, blob, trades).ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, blob.multipart)
}

func TestArchiveTrades_QueryError(t *testing.T) {
	boom := errors.New("boom")
	blob := &memBlob{objects: map[string][]byte{}}
	_, err := newTestArchiver(ArchiverConfig{}, blob, &memTrades{listErr: boom}).ArchiveTrades(context.Background(), time.Now())
	assert.ErrorIs(t, err, boom)
}

func TestArchivePath(t *testing.T) {
	before := time.Date(2024, 1, 9, 23, 0, 0, 0, time.UTC)
	now := time.Unix(0, 1700000000000000000)
	assert.Equal(t, "trades/2024/01/09/1700000000000000000.jsonl", archivePath(before, now))
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, isNotFound(errors.New("x")))
	assert.False(t, isNotFound(fs.ErrNotExist))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}
