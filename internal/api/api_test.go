package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/lifecycle"
	"github.com/driftwatch/driftwatch/internal/quality"
	"github.com/driftwatch/driftwatch/internal/scheduler"
	"github.com/driftwatch/driftwatch/internal/store"
)

var datasetColumns = []string{
	"id", "name", "description", "host", "port", "database", "schema_name",
	"table_name", "geometry_column", "ssl_mode", "connection_url",
	"check_interval_minutes", "is_active", "last_check_at",
	"connection_status", "connection_error", "last_connection_test",
	"created_at", "updated_at",
}

func datasetRow(id uuid.UUID, lastCheck any) *sqlmock.Rows {
	return sqlmock.NewRows(datasetColumns).AddRow(
		id, "parcels", "", "remote", 5432, "gis", "public",
		"parcels", "geom", "prefer", "postgres://remote/gis",
		60, true, lastCheck,
		"unknown", nil, nil,
		time.Now(), time.Now(),
	)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(sqlx.NewDb(db, "pgx"))
	clock := func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }

	srv, err := NewServer(&Server{
		Store: st,
		Quality: &scheduler.QualityDispatcher{
			Store:    st,
			Registry: scheduler.NewStatusRegistry(5*time.Minute, clock),
		},
		Lifecycle: &lifecycle.Manager{Store: st},
		Scorer:    quality.NewScorer(config.DefaultThresholds()),
		Cfg:       config.Config{DefaultCheckInterval: time.Hour, GeoJSONLRU: 16},
		Log:       discardLogger(),
		Now:       clock,
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return srv, mock
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestReviewDiff_Transitions(t *testing.T) {
	srv, mock := newTestServer(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE geometry_diffs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM geometry_diffs`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "dataset_id", "diff_type", "old_snapshot_id", "new_snapshot_id",
			"geometry_changed", "attributes_changed", "confidence_score",
			"status", "reviewed_by", "reviewed_at", "created_at",
		}).AddRow(id, uuid.New(), "NEW", nil, uuid.New(),
			true, false, 0.9, "ACCEPTED", "alice", time.Now(), time.Now()))

	rec := do(t, srv, http.MethodPost, "/api/v1/diffs/"+id.String()+"/review",
		`{"status":"accepted","reviewed_by":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestReviewDiff_AlreadyReviewed(t *testing.T) {
	srv, mock := newTestServer(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE geometry_diffs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := do(t, srv, http.MethodPost, "/api/v1/diffs/"+id.String()+"/review",
		`{"status":"rejected","reviewed_by":"bob"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second review: got %d, want 404", rec.Code)
	}
}

func TestReviewDiff_BadPayload(t *testing.T) {
	srv, _ := newTestServer(t)
	id := uuid.New()

	rec := do(t, srv, http.MethodPost, "/api/v1/diffs/"+id.String()+"/review",
		`{"status":"PENDING","reviewed_by":"bob"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("pending is not a review outcome: got %d", rec.Code)
	}

	rec = do(t, srv, http.MethodPost, "/api/v1/diffs/"+id.String()+"/review",
		`{"status":"ACCEPTED"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing reviewer: got %d", rec.Code)
	}
}

func TestQualityCheck_RequiresCompletedRun(t *testing.T) {
	srv, mock := newTestServer(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM datasets`).
		WillReturnRows(datasetRow(id, nil))

	rec := do(t, srv, http.MethodPost, "/api/v1/datasets/"+id.String()+"/quality-check", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("never-checked dataset: got %d, want 400", rec.Code)
	}
}

func TestQualityCheck_RunningBlocks(t *testing.T) {
	srv, mock := newTestServer(t)
	id := uuid.New()

	// a run is already in flight
	if err := srv.Quality.Registry.Start(id); err != nil {
		t.Fatalf("prestart: %v", err)
	}
	mock.ExpectQuery(`FROM datasets`).
		WillReturnRows(datasetRow(id, time.Now()))

	rec := do(t, srv, http.MethodPost, "/api/v1/datasets/"+id.String()+"/quality-check", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("concurrent trigger: got %d, want 400", rec.Code)
	}
}

func TestQualityStatus_IdleByDefault(t *testing.T) {
	srv, _ := newTestServer(t)
	id := uuid.New()

	rec := do(t, srv, http.MethodGet, "/api/v1/datasets/"+id.String()+"/quality-check/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"idle"`) {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestMalformedID(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/v1/datasets/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id: got %d", rec.Code)
	}
}

func TestCreateDataset_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/datasets/", `{"name":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing table_name: got %d", rec.Code)
	}
}

func TestCreateDataset(t *testing.T) {
	srv, mock := newTestServer(t)

	mock.ExpectExec(`INSERT INTO datasets`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := do(t, srv, http.MethodPost, "/api/v1/datasets/",
		`{"name":"parcels","table_name":"parcels","host":"remote","database":"gis"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status: %d, body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "connection_url") {
		t.Fatal("connection url must never serialize")
	}
}

func TestSnapshotGeoJSON_Cached(t *testing.T) {
	srv, mock := newTestServer(t)
	id := uuid.New()

	// the store is queried exactly once; the second hit comes from cache
	mock.ExpectQuery(`ST_AsGeoJSON`).
		WillReturnRows(sqlmock.NewRows([]string{"st_asgeojson"}).
			AddRow(`{"type":"Point","coordinates":[1,2]}`))

	for range 2 {
		rec := do(t, srv, http.MethodGet, "/api/v1/snapshots/"+id.String()+"/geojson", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status: %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"Point"`) {
			t.Fatalf("body: %s", rec.Body.String())
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestResetDataset(t *testing.T) {
	srv, mock := newTestServer(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM datasets`).
		WillReturnRows(datasetRow(id, time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM spatial_findings`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM geometry_diffs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM geometry_snapshots`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`UPDATE datasets`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := do(t, srv, http.MethodPost, "/api/v1/datasets/"+id.String()+"/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMonitoringHealth(t *testing.T) {
	srv, mock := newTestServer(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM datasets d`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "is_active", "connection_status", "last_check_at",
			"snapshots", "pending_diffs",
		}).AddRow(id, "parcels", true, "success", time.Now(), 42, 3))

	rec := do(t, srv, http.MethodGet, "/api/v1/monitoring/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"pending_diffs":3`) {
		t.Fatalf("body: %s", rec.Body.String())
	}
}
