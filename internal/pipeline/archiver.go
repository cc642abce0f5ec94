// Package pipeline holds the background jobs that move data between the
// stores: today the scheduled trade archive.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// Notifier reports finished archive runs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ArchiverConfig controls when and how far back the archiver runs.
type ArchiverConfig struct {
	// Retention is how long trades stay in Postgres.
	Retention time.Duration
	// Interval is the period between runs when Cron is empty.
	Interval time.Duration
	// Cron is a 5-field schedule evaluated in UTC.
	Cron string
	// Event is the notification event name for a completed run.
	Event string
}

// Archiver moves trades older than the retention window to cold storage.
type Archiver struct {
	cfg      ArchiverConfig
	blob     domain.Archiver
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// NewArchiver creates a new Archiver. notifier may be nil.
func NewArchiver(cfg ArchiverConfig, blob domain.Archiver, notifier Notifier, logger *slog.Logger) *Archiver {
	return &Archiver{
		cfg:      cfg,
		blob:     blob,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive run and returns the number of trades moved.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-a.cfg.Retention)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.cfg.Retention),
	)

	n, err := a.blob.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archiving trades before %v: %w", cutoff, err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("trades_archived", n))

	if n > 0 && a.notifier != nil {
		msg := fmt.Sprintf("archived %d trades older than %s", n, cutoff.Format(time.DateOnly))
		if err := a.notifier.Notify(ctx, a.cfg.Event, "Trade archive", msg); err != nil {
			a.logger.WarnContext(ctx, "archive notification failed", slog.String("error", err.Error()))
		}
	}
	return n, nil
}

// RunLoop runs the archiver on its schedule until ctx is cancelled. A
// failed run is logged and the next one is still scheduled.
func (a *Archiver) RunLoop(ctx context.Context) error {
	if a.cfg.Cron != "" {
		return a.RunCron(ctx, a.cfg.Cron)
	}
	if a.cfg.Interval <= 0 {
		return fmt.Errorf("archiver: interval must be > 0")
	}
	a.logger.InfoContext(ctx, "archiver loop started", slog.Duration("interval", a.cfg.Interval))

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver loop stopped")
			return ctx.Err()
		case <-ticker.C:
			a.runLogged(ctx)
		}
	}
}

// RunCron runs the archiver on a cron schedule until the context is cancelled.
// It supports cron expressions in the standard 5-field format:
// "minute hour day-of-month month day-of-week"
//
// Example: "0 3 * * *" runs at 3:00 AM every day.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	if _, err := parseCron(cronExpr); err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, a.now())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
		}

		wait := next.Sub(a.now())
		a.logger.Debug("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			a.runLogged(ctx)
		}
	}
}

func (a *Archiver) runLogged(ctx context.Context) {
	if _, err := a.Run(ctx); err != nil && ctx.Err() == nil {
		a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
	}
}

// cronField represents a parsed cron field that can match against a value.
type cronField struct {
	wildcard bool
	values   []int
}

// matches returns true if the given value matches this cron field.
func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses a single cron field. It accepts "*", "*/step",
// single values, "lo-hi" ranges and comma-separated lists of those. Values
// outside [min, max] are rejected.
func parseCronField(field string, min, max int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	var values []int
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		lo, hi, step := min, max, 1

		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid cron step %q", part)
			}
			step = n
			part = base
		}

		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid cron range %q: %w", part, err)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("invalid cron range %q: %w", part, err)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			lo, hi = v, v
		}

		if lo < min || hi > max || lo > hi {
			return cronField{}, fmt.Errorf("cron field %q out of range %d-%d", part, min, max)
		}
		for v := lo; v <= hi; v += step {
			values = append(values, v)
		}
	}
	return cronField{values: values}, nil
}

// parsedCron holds five parsed cron fields.
type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// matchesTime returns true if the given time matches all five cron fields.
func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// parseCron parses a 5-field cron expression into a parsedCron struct.
func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	minute, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing minute field: %w", err)
	}
	hour, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing hour field: %w", err)
	}
	dayOfMonth, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing day-of-month field: %w", err)
	}
	month, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing month field: %w", err)
	}
	dayOfWeek, err := parseCronField(fields[4], 0, 6)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing day-of-week field: %w", err)
	}

	return parsedCron{
		minute:     minute,
		hour:       hour,
		dayOfMonth: dayOfMonth,
		month:      month,
		dayOfWeek:  dayOfWeek,
	}, nil
}

// nextCronTime calculates the next time after 'after' that matches the given
// cron expression. It searches minute-by-minute up to one year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	// Start from the next minute boundary.
	candidate := after.Truncate(time.Minute).Add(time.Minute)

	// Search up to one year ahead to avoid infinite loops.
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
