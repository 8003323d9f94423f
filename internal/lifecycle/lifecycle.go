// Package lifecycle prepares the service database at startup and
// implements the reset operations.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/store"
)

type Manager struct {
	Store *store.Store

	// keep dataset registrations across restarts, dropping only the
	// detection state
	PreserveConnections bool

	Now func() time.Time
	Log *slog.Logger
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// Boot makes the database usable: PostGIS present, schema in place, then
// the restart policy applied. Storage tuning failures are logged and
// ignored.
func (m *Manager) Boot(ctx context.Context) error {
	if err := m.Store.EnsureExtension(ctx); err != nil {
		return err
	}
	if err := m.Store.EnsureSchema(ctx); err != nil {
		return err
	}

	if m.PreserveConnections {
		if err := m.SmartRestart(ctx); err != nil {
			return err
		}
	} else {
		if err := m.FullReset(ctx); err != nil {
			return err
		}
	}

	if err := m.Store.OptimizeStorage(ctx); err != nil && m.Log != nil {
		m.Log.WarnContext(ctx, "storage tuning skipped", slog.String("error", err.Error()))
	}
	return nil
}

// SmartRestart clears detection state but keeps every registered dataset.
// The next loop tick treats each dataset as never checked and takes a
// fresh baseline.
func (m *Manager) SmartRestart(ctx context.Context) error {
	err := m.Store.InTx(ctx, func(tx *store.Store) error {
		if err := tx.Findings.TruncateAll(ctx); err != nil {
			return err
		}
		if err := tx.Diffs.TruncateAll(ctx); err != nil {
			return err
		}
		if err := tx.Snapshots.TruncateAll(ctx); err != nil {
			return err
		}
		return tx.Datasets.ResetMonitoringState(ctx, nil, m.now())
	})
	if err != nil {
		return err
	}
	if m.Log != nil {
		m.Log.InfoContext(ctx, "detection state cleared, registrations kept")
	}
	return nil
}

// ResetDataset clears one dataset's detection state, keeping its
// registration. The next eligibility pass takes a fresh baseline.
func (m *Manager) ResetDataset(ctx context.Context, id uuid.UUID) error {
	return m.Store.InTx(ctx, func(tx *store.Store) error {
		if err := tx.Findings.DeleteByDataset(ctx, id); err != nil {
			return err
		}
		if err := tx.Diffs.DeleteByDataset(ctx, id); err != nil {
			return err
		}
		if err := tx.Snapshots.DeleteByDataset(ctx, id); err != nil {
			return err
		}
		return tx.Datasets.ResetMonitoringState(ctx, &id, m.now())
	})
}

// FullReset drops everything, registrations included, and recreates the
// schema empty.
func (m *Manager) FullReset(ctx context.Context) error {
	if err := m.Store.DropSchema(ctx); err != nil {
		return err
	}
	if err := m.Store.EnsureSchema(ctx); err != nil {
		return err
	}
	if m.Log != nil {
		m.Log.InfoContext(ctx, "database fully reset")
	}
	return nil
}
