package scheduler

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/model"
	"github.com/driftwatch/driftwatch/internal/quality"
	"github.com/driftwatch/driftwatch/internal/store"
)

// QualityDispatcher starts quality runs in the background and answers
// status polls from the API.
type QualityDispatcher struct {
	Store    *store.Store
	Runner   *quality.Runner
	Registry *StatusRegistry
	Log      *slog.Logger

	// background runs must not die with the request context
	BaseCtx context.Context

	// optional run observer
	OnFinish func(summary model.CheckSummary, err error)
}

// Trigger starts a run for the dataset. A dataset that has never finished
// a change-detection pass has no snapshots worth checking, and only one
// run per dataset may be in flight.
func (q *QualityDispatcher) Trigger(ctx context.Context, datasetID uuid.UUID) error {
	ds, err := q.Store.Datasets.GetByID(ctx, datasetID)
	if err != nil {
		return err
	}
	if ds.LastCheckAt == nil {
		return errs.New(errs.KindValidation, "dataset has not completed a change-detection run yet")
	}
	if err := q.Registry.Start(datasetID); err != nil {
		return err
	}

	base := q.BaseCtx
	if base == nil {
		base = context.Background()
	}
	go q.run(base, datasetID)
	return nil
}

func (q *QualityDispatcher) run(ctx context.Context, datasetID uuid.UUID) {
	progress := func(current, total int, phase string) {
		q.Registry.Progress(datasetID, current, total, phase)
	}
	// one transaction around the whole run: a failure keeps the previous
	// findings instead of leaving the dataset half-cleared
	var summary model.CheckSummary
	err := q.Store.InTx(ctx, func(tx *store.Store) error {
		var runErr error
		summary, runErr = q.Runner.Run(ctx, datasetID, tx.Snapshots, tx.Findings, progress)
		return runErr
	})
	if q.OnFinish != nil {
		q.OnFinish(summary, err)
	}
	if err != nil {
		q.Registry.Fail(datasetID, err)
		if q.Log != nil {
			q.Log.ErrorContext(ctx, "quality run failed",
				slog.String("dataset", datasetID.String()),
				slog.String("error", err.Error()))
		}
		return
	}
	q.Registry.Complete(datasetID, summary)
}

// Status reports the dataset's current run state.
func (q *QualityDispatcher) Status(datasetID uuid.UUID) RunStatus {
	return q.Registry.Get(datasetID)
}
