// Package api serves the REST surface: dataset registration, diff review,
// quality-check control and the operational endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/lifecycle"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/quality"
	"github.com/driftwatch/driftwatch/internal/scheduler"
	"github.com/driftwatch/driftwatch/internal/source"
	"github.com/driftwatch/driftwatch/internal/store"
)

type Server struct {
	Store     *store.Store
	Reader    source.Reader
	Quality   *scheduler.QualityDispatcher
	Lifecycle *lifecycle.Manager
	Scorer    *quality.Scorer
	Metrics   *metrics.Provider
	Cfg       config.Config
	Log       *slog.Logger
	Now       func() time.Time

	// snapshots are immutable, so rendered GeoJSON can be cached by id
	geojson *lru.Cache[uuid.UUID, string]
}

func NewServer(s *Server) (*Server, error) {
	size := s.Cfg.GeoJSONLRU
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[uuid.UUID, string](size)
	if err != nil {
		return nil, err
	}
	s.geojson = cache
	if s.Now == nil {
		s.Now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover())
	r.Use(Logging(s.Log))
	r.Use(CORS())
	r.Use(Observe(s.Metrics))

	r.Get("/healthz", s.handleHealth)
	if s.Metrics != nil && s.Cfg.Metrics.Enabled {
		r.Get(s.Cfg.Metrics.Path, s.Metrics.Handler().ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/datasets", func(r chi.Router) {
			r.Get("/", s.handleListDatasets)
			r.Post("/", s.handleCreateDataset)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDataset)
				r.Put("/", s.handleUpdateDataset)
				r.Delete("/", s.handleDeleteDataset)
				r.Post("/test-connection", s.handleTestConnection)
				r.Post("/reset", s.handleResetDataset)
				r.Get("/stats", s.handleDatasetStats)
				r.Get("/findings", s.handleListFindings)
				r.Post("/quality-check", s.handleTriggerQuality)
				r.Get("/quality-check/status", s.handleQualityStatus)
			})
		})

		r.Route("/diffs", func(r chi.Router) {
			r.Get("/", s.handleListDiffs)
			r.Post("/review-batch", s.handleBatchReview)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDiff)
				r.Post("/review", s.handleReviewDiff)
			})
		})

		r.Get("/snapshots/{id}/geojson", s.handleSnapshotGeoJSON)
		r.Get("/monitoring/storage-usage", s.handleStorageUsage)
		r.Get("/monitoring/health", s.handleMonitoringHealth)
		r.Post("/admin/reset", s.handleReset)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps error kinds to status codes. Validation errors mentioning a
// missing record read as 404, the rest as 400.
func fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		code = http.StatusBadRequest
		if strings.Contains(err.Error(), "not found") {
			code = http.StatusNotFound
		}
	case errs.KindConcurrency:
		code = http.StatusBadRequest
	case errs.KindRemoteSource:
		code = http.StatusBadGateway
	}
	respond(w, code, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errs.New(errs.KindValidation, "malformed id")
	}
	return id, nil
}
