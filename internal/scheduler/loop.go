// Package scheduler drives the periodic change-detection loop and
// dispatches user-triggered quality runs.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/driftwatch/driftwatch/internal/detect"
	"github.com/driftwatch/driftwatch/internal/logger"
	"github.com/driftwatch/driftwatch/internal/model"
	"github.com/driftwatch/driftwatch/internal/store"
)

// ChangeLoop wakes on a fixed tick and runs change detection for every
// active dataset whose interval has elapsed. Each dataset runs in its own
// transaction; a failure marks that dataset and never stops the loop.
type ChangeLoop struct {
	Store    *store.Store
	Detector *detect.Detector

	// receives the diffs of committed runs; nil disables publishing
	Events detect.Publisher

	Tick            time.Duration
	DefaultInterval time.Duration

	Now func() time.Time
	Log *slog.Logger

	// optional run observers
	OnRun func(stats model.RunStats, err error)
}

func (l *ChangeLoop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

// Run blocks until ctx is cancelled.
func (l *ChangeLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RunDue(ctx)
		}
	}
}

// RunDue processes every eligible dataset once. Cancellation is honoured
// between datasets, never mid-transaction.
func (l *ChangeLoop) RunDue(ctx context.Context) {
	datasets, err := l.Store.Datasets.ListActive(ctx)
	if err != nil {
		if l.Log != nil {
			l.Log.ErrorContext(ctx, "listing active datasets", slog.String("error", err.Error()))
		}
		return
	}

	now := l.now()
	for i := range datasets {
		if ctx.Err() != nil {
			return
		}
		ds := &datasets[i]
		if !l.Eligible(ds, now) {
			continue
		}
		l.runDataset(ctx, ds)
	}
}

// Eligible reports whether the dataset is due: never checked, or its
// interval has elapsed since the last check.
func (l *ChangeLoop) Eligible(ds *model.Dataset, now time.Time) bool {
	if ds.LastCheckAt == nil {
		return true
	}
	interval := time.Duration(ds.CheckIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = l.DefaultInterval
	}
	return now.Sub(*ds.LastCheckAt) >= interval
}

func (l *ChangeLoop) runDataset(ctx context.Context, ds *model.Dataset) {
	ctx = logger.WithDataset(ctx, ds.Name)
	ctx = logger.WithRunID(ctx, logger.NewID())

	var stats model.RunStats
	err := l.Store.InTx(ctx, func(tx *store.Store) error {
		var runErr error
		stats, runErr = l.Detector.Run(ctx, ds, tx.Snapshots, tx.Diffs)
		return runErr
	})

	// diffs leave the process only once they are committed; a rolled-back
	// run must not announce rows that do not exist
	if err == nil && l.Events != nil {
		for i := range stats.Diffs {
			l.Events.PublishDiff(ctx, ds, &stats.Diffs[i])
		}
	}

	// the outcome lands outside the run transaction so a rollback still
	// records the failed attempt
	now := l.now()
	status := model.ConnSuccess
	var connErr *string
	if err != nil {
		status = model.ConnFailed
		msg := err.Error()
		connErr = &msg
		if l.Log != nil {
			l.Log.ErrorContext(ctx, "change detection failed",
				slog.String("dataset", ds.Name),
				slog.String("error", msg))
		}
	}
	if uerr := l.Store.Datasets.UpdateCheckResult(ctx, ds.ID, now, status, connErr); uerr != nil {
		if l.Log != nil {
			l.Log.ErrorContext(ctx, "recording check result",
				slog.String("dataset", ds.Name),
				slog.String("error", uerr.Error()))
		}
	}

	if l.OnRun != nil {
		l.OnRun(stats, err)
	}
}
