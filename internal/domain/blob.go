package domain

import (
	"context"
	"io"
	"time"
)

// TradeArchivePrefix is the object key prefix of archived trades. Keys below
// it are YYYY/MM/DD/<unix-nanos>.jsonl.
const TradeArchivePrefix = "trades/"

// BlobInfo describes one archived object as listed by /api/archives.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter stores archive files. Small files go up with Put, large ones
// with PutMultipart.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader lists archive files and probes for key collisions.
type BlobReader interface {
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves trades older than before out of Postgres and returns how
// many it moved.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
}
