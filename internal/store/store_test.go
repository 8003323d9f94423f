package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/model"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "pgx")), mock
}

func TestIsSchemaMismatch(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"typmod code", &pgconn.PgError{Code: "22023", Message: "Geometry has Z dimension but column does not"}, true},
		{"dimension message", &pgconn.PgError{Code: "XX000", Message: "Column has Z dimension but geometry does not"}, true},
		{"srid message", &pgconn.PgError{Code: "XX000", Message: "Geometry SRID (0) does not match column SRID (4326)"}, true},
		{"unrelated pg error", &pgconn.PgError{Code: "23505", Message: "duplicate key value"}, false},
	}
	for _, tc := range cases {
		if got := IsSchemaMismatch(tc.err); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestUpdateReview_OneShot(t *testing.T) {
	s, mock := newMock(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectExec(`UPDATE geometry_diffs`).
		WithArgs(id, model.ReviewAccepted, "alice", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.Diffs.UpdateReview(context.Background(), id, model.ReviewAccepted, "alice", now); err != nil {
		t.Fatalf("first review: %v", err)
	}

	// second attempt matches no pending row
	mock.ExpectExec(`UPDATE geometry_diffs`).
		WithArgs(id, model.ReviewRejected, "bob", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.Diffs.UpdateReview(context.Background(), id, model.ReviewRejected, "bob", now)
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("second review: got %v, want validation error", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateReview_RejectsPending(t *testing.T) {
	s, _ := newMock(t)
	err := s.Diffs.UpdateReview(context.Background(), uuid.New(), model.ReviewPending, "alice", time.Now())
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestDiffList_Filters(t *testing.T) {
	s, mock := newMock(t)
	ds := uuid.New()
	status := model.ReviewPending

	cols := []string{"id", "dataset_id", "diff_type", "old_snapshot_id", "new_snapshot_id",
		"geometry_changed", "attributes_changed", "confidence_score",
		"status", "reviewed_by", "reviewed_at", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE dataset_id = $1 AND status = $2`)).
		WithArgs(ds, status).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(uuid.New(), ds, "NEW", nil, uuid.New(), true, false, 0.95,
				"PENDING", nil, nil, time.Now()))

	got, err := s.Diffs.List(context.Background(), model.DiffFilter{
		DatasetID: &ds,
		Status:    &status,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Type != model.DiffNew {
		t.Fatalf("unexpected rows: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestExistsPendingForGeometry(t *testing.T) {
	s, mock := newMock(t)
	ds := uuid.New()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(ds, "abc123").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.Diffs.ExistsPendingForGeometry(context.Background(), ds, "abc123")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !ok {
		t.Fatal("expected pending diff to be reported")
	}
}

func TestSnapshotInsert_SchemaMismatchKind(t *testing.T) {
	s, mock := newMock(t)
	snap := &model.Snapshot{
		ID:             uuid.New(),
		DatasetID:      uuid.New(),
		GeometryHash:   "g",
		AttributesHash: "a",
		CompositeHash:  "c",
		GeometryWKB:    []byte{0x01},
		CreatedAt:      time.Now(),
	}

	mock.ExpectExec(`INSERT INTO geometry_snapshots`).
		WillReturnError(&pgconn.PgError{Code: "22023", Message: "Geometry has Z dimension but column does not"})

	err := s.Snapshots.Insert(context.Background(), snap)
	if errs.KindOf(err) != errs.KindSchemaMismatch {
		t.Fatalf("got %v, want schema mismatch kind", err)
	}
}

func TestBatchUpdateReview_Empty(t *testing.T) {
	s, _ := newMock(t)
	n, err := s.Diffs.BatchUpdateReview(context.Background(), nil, model.ReviewAccepted, "alice", time.Now())
	if err != nil || n != 0 {
		t.Fatalf("got n=%d err=%v, want 0, nil", n, err)
	}
}

func TestDatasetUpdate_NotFound(t *testing.T) {
	s, mock := newMock(t)
	d := &model.Dataset{ID: uuid.New(), UpdatedAt: time.Now()}

	mock.ExpectExec(`UPDATE datasets`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Datasets.Update(context.Background(), d)
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("got %v, want validation error", err)
	}
}
