package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlob struct {
	n      int64
	err    error
	before []time.Time
}

func (f *fakeBlob) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	f.before = append(f.before, before)
	return f.n, f.err
}

type notification struct{ event, title, message string }

type recordNotifier struct{ got []notification }

func (r *recordNotifier) Notify(_ context.Context, event, title, message string) error {
	r.got = append(r.got, notification{event, title, message})
	return nil
}

func newTestArchiver(blob *fakeBlob, n Notifier) *Archiver {
	a := NewArchiver(ArchiverConfig{
		Retention: 30 * 24 * time.Hour,
		Interval:  time.Hour,
		Event:     "archive_done",
	}, blob, n, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestArchiver_RunUsesRetentionCutoff(t *testing.T) {
	blob := &fakeBlob{n: 42}
	n := &recordNotifier{}
	a := newTestArchiver(blob, n)

	got, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 42, got)
	require.Len(t, blob.before, 1)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), blob.before[0])

	require.Len(t, n.got, 1)
	assert.Equal(t, "archive_done", n.got[0].event)
	assert.Contains(t, n.got[0].message, "archived 42 trades older than 2026-03-01")
}

func TestArchiver_RunWithNothingToMoveIsQuiet(t *testing.T) {
	n := &recordNotifier{}
	a := newTestArchiver(&fakeBlob{}, n)

	got, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, got)
	assert.Empty(t, n.got)
}

func TestArchiver_RunWrapsBlobError(t *testing.T) {
	boom := errors.New("s3 down")
	n := &recordNotifier{}
	a := newTestArchiver(&fakeBlob{err: boom}, n)

	_, err := a.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Empty(t, n.got)
}

func TestArchiver_NilNotifier(t *testing.T) {
	a := newTestArchiver(&fakeBlob{n: 1}, nil)
	_, err := a.Run(context.Background())
	assert.NoError(t, err)
}

func TestArchiver_RunLoopStopsOnCancel(t *testing.T) {
	a := newTestArchiver(&fakeBlob{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.RunLoop(ctx), context.Canceled)

	a.cfg.Cron = "0 3 * * *"
	assert.ErrorIs(t, a.RunLoop(ctx), context.Canceled)
}

func TestArchiver_RunLoopRejectsBadSchedule(t *testing.T) {
	a := newTestArchiver(&fakeBlob{}, nil)
	a.cfg.Cron = "not a cron"
	assert.Error(t, a.RunLoop(context.Background()))

	a.cfg.Cron = ""
	a.cfg.Interval = 0
	assert.Error(t, a.RunLoop(context.Background()))
}

func TestParseCronField(t *testing.T) {
	tests := []struct {
		field   string
		min     int
		max     int
		want    []int
		wantErr bool
	}{
		{field: "5", min: 0, max: 59, want: []int{5}},
		{field: "1,15", min: 1, max: 31, want: []int{1, 15}},
		{field: "*/15", min: 0, max: 59, want: []int{0, 15, 30, 45}},
		{field: "9-12", min: 0, max: 23, want: []int{9, 10, 11, 12}},
		{field: "0-10/5", min: 0, max: 59, want: []int{0, 5, 10}},
		{field: "60", min: 0, max: 59, wantErr: true},
		{field: "5-2", min: 0, max: 59, wantErr: true},
		{field: "*/0", min: 0, max: 59, wantErr: true},
		{field: "x", min: 0, max: 59, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got, err := parseCronField(tt.field, tt.min, tt.max)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.values)
		})
	}

	wild, err := parseCronField("*", 0, 59)
	require.NoError(t, err)
	assert.True(t, wild.wildcard)
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2026, 3, 31, 12, 0, 30, 0, time.UTC)

	next, err := nextCronTime("0 3 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC), next)

	next, err = nextCronTime("*/20 * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 31, 12, 20, 0, 0, time.UTC), next)

	_, err = nextCronTime("0 3 * *", after)
	assert.Error(t, err)
}
