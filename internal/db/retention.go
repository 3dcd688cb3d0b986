package db

import (
	"context"
	"time"

	"github.com/banshee-data/gridctl/internal/monitoring"
	"github.com/banshee-data/gridctl/internal/timeutil"
)

// RetentionWorker periodically deletes cycles older than Keep.
type RetentionWorker struct {
	DB       *DB
	Keep     time.Duration
	Interval time.Duration
	Clock    timeutil.Clock
}

// NewRetentionWorker returns a worker that keeps keep worth of history and
// prunes every 10 minutes.
func NewRetentionWorker(db *DB, keep time.Duration) *RetentionWorker {
	return &RetentionWorker{
		DB:       db,
		Keep:     keep,
		Interval: 10 * time.Minute,
		Clock:    timeutil.RealClock{},
	}
}

// Run prunes once immediately and then every Interval until ctx is done.
func (w *RetentionWorker) Run(ctx context.Context) error {
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			monitoring.Logf("[db] retention run failed: %v", err)
		}
		timer := w.Clock.NewTimer(w.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}
	}
}

// RunOnce deletes everything recorded before now minus Keep. A non-positive
// Keep disables pruning.
func (w *RetentionWorker) RunOnce(ctx context.Context) (int64, error) {
	if w.Keep <= 0 {
		return 0, nil
	}
	deleted, err := w.DB.Prune(ctx, w.Clock.Now().Add(-w.Keep))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		monitoring.Logf("[db] pruned %d cycles older than %v", deleted, w.Keep)
	}
	return deleted, nil
}
