package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/driftwatch/driftwatch/internal/store"
)

func newMock(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Manager{
		Store: store.New(sqlx.NewDb(db, "pgx")),
		Now:   func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) },
	}, mock
}

func TestSmartRestart_KeepsRegistrations(t *testing.T) {
	m, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE spatial_findings`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`TRUNCATE geometry_diffs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`TRUNCATE geometry_snapshots`).WillReturnResult(sqlmock.NewResult(0, 0))
	// monitoring fields nulled for every dataset, no WHERE clause
	mock.ExpectExec(`UPDATE datasets SET`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	if err := m.SmartRestart(context.Background()); err != nil {
		t.Fatalf("smart restart: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSmartRestart_RollsBackOnFailure(t *testing.T) {
	m, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE spatial_findings`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`TRUNCATE geometry_diffs`).WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	if err := m.SmartRestart(context.Background()); err == nil {
		t.Fatal("failed truncate must surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFullReset_DropsAndRecreates(t *testing.T) {
	m, mock := newMock(t)

	for range 4 {
		mock.ExpectExec(`DROP TABLE IF EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	// schema DDL: four tables plus their indexes
	for range 16 {
		mock.ExpectExec(`CREATE (TABLE|INDEX)`).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := m.FullReset(context.Background()); err != nil {
		t.Fatalf("full reset: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
