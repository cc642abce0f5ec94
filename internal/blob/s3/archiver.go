package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

const (
	defaultArchiveBatch = 5000
	jsonlContentType    = "application/x-ndjson"
)

// TradeArchiveStore is the slice of domain.TradeStore the archiver needs.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// ArchiverConfig controls batching and retention.
type ArchiverConfig struct {
	BatchSize int
	// DeleteAfterUpload removes rows once their batch is stored.
	DeleteAfterUpload bool
	// MultipartThreshold switches to multipart uploads above this size.
	MultipartThreshold int64
}

// TradeArchiver implements domain.Archiver. Trades older than the cutoff are
// written in batches as JSONL to trades/YYYY/MM/DD/<unix-nanos>.jsonl, keyed
// by the cutoff date.
type TradeArchiver struct {
	cfg    ArchiverConfig
	writer domain.BlobWriter
	reader domain.BlobReader
	trades TradeArchiveStore
	now    func() time.Time
	logger *slog.Logger
}

// NewArchiver creates a TradeArchiver. reader may be nil.
func NewArchiver(cfg ArchiverConfig, writer domain.BlobWriter, reader domain.BlobReader, trades TradeArchiveStore, logger *slog.Logger) *TradeArchiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultArchiveBatch
	}
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = 4 * minPartSize
	}
	return &TradeArchiver{
		cfg:    cfg,
		writer: writer,
		reader: reader,
		trades: trades,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades uploads every trade before the cutoff and returns how many
// were archived. Without DeleteAfterUpload the rows stay, so only the first
// batch is taken to avoid uploading the same rows again.
func (a *TradeArchiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		trades, err := a.trades.ListBefore(ctx, before, a.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive trades query: %w", err)
		}
		if len(trades) == 0 {
			return total, nil
		}

		path, err := a.upload(ctx, before, trades)
		if err != nil {
			return total, err
		}
		total += int64(len(trades))
		a.logger.Info("trades archived",
			slog.String("path", path),
			slog.Int("count", len(trades)),
			slog.Time("before", before),
		)

		if !a.cfg.DeleteAfterUpload {
			return total, nil
		}
		ids := make([]uuid.UUID, len(trades))
		for i, t := range trades {
			ids[i] = t.ID
		}
		if _, err := a.trades.DeleteByIDs(ctx, ids); err != nil {
			return total, fmt.Errorf("s3blob: archive trades delete: %w", err)
		}
		if len(trades) < a.cfg.BatchSize {
			return total, nil
		}
	}
}

func (a *TradeArchiver) upload(ctx context.Context, before time.Time, trades []domain.Trade) (string, error) {
	buf, err := marshalJSONL(trades)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath(before, a.now())
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive trades probe: %w", err)
		}
		if exists {
			path = archivePath(before, a.now().Add(time.Nanosecond))
		}
	}

	if int64(len(buf)) > a.cfg.MultipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return path, nil
}

// archivePath is trades/YYYY/MM/DD/<unix-nanos>.jsonl.
func archivePath(before, now time.Time) string {
	return fmt.Sprintf("%s%s/%d.jsonl", domain.TradeArchivePrefix, before.UTC().Format("2006/01/02"), now.UnixNano())
}

// marshalJSONL encodes one compact JSON record per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*TradeArchiver)(nil)
