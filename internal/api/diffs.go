package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/model"
)

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func (s *Server) handleListDiffs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.DiffFilter{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}

	if v := q.Get("dataset_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			fail(w, errs.New(errs.KindValidation, "malformed dataset_id"))
			return
		}
		filter.DatasetID = &id
	}
	if v := q.Get("status"); v != "" {
		st := model.ReviewStatus(strings.ToUpper(v))
		switch st {
		case model.ReviewPending, model.ReviewAccepted, model.ReviewRejected:
			filter.Status = &st
		default:
			fail(w, errs.New(errs.KindValidation, "unknown status"))
			return
		}
	}
	if v := q.Get("type"); v != "" {
		dt := model.DiffType(strings.ToUpper(v))
		switch dt {
		case model.DiffNew, model.DiffUpdated, model.DiffDeleted:
			filter.Type = &dt
		default:
			fail(w, errs.New(errs.KindValidation, "unknown diff type"))
			return
		}
	}

	diffs, err := s.Store.Diffs.List(r.Context(), filter)
	if err != nil {
		fail(w, err)
		return
	}

	// same flagging predicate the detector and the quality engine use
	if q.Get("problematic") == "true" && s.Scorer != nil {
		kept := diffs[:0]
		for _, d := range diffs {
			if s.Scorer.Problematic(d.ConfidenceScore) {
				kept = append(kept, d)
			}
		}
		diffs = kept
	}
	respond(w, http.StatusOK, diffs)
}

// handleGetDiff returns the diff with both snapshot geometries rendered as
// GeoJSON, which is what a review UI needs to draw before/after.
func (s *Server) handleGetDiff(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	d, err := s.Store.Diffs.Get(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}

	out := map[string]any{"diff": d}
	if d.OldSnapshotID != nil {
		if gj, err := s.cachedGeoJSON(r, *d.OldSnapshotID); err == nil {
			out["old_geometry"] = json.RawMessage(gj)
		}
	}
	if d.NewSnapshotID != nil {
		if gj, err := s.cachedGeoJSON(r, *d.NewSnapshotID); err == nil {
			out["new_geometry"] = json.RawMessage(gj)
		}
	}
	respond(w, http.StatusOK, out)
}

type reviewRequest struct {
	Status     string `json:"status"`
	ReviewedBy string `json:"reviewed_by"`
}

func (req *reviewRequest) parse() (model.ReviewStatus, error) {
	if strings.TrimSpace(req.ReviewedBy) == "" {
		return "", errs.New(errs.KindValidation, "reviewed_by is required")
	}
	st := model.ReviewStatus(strings.ToUpper(req.Status))
	if st != model.ReviewAccepted && st != model.ReviewRejected {
		return "", errs.New(errs.KindValidation, "status must be ACCEPTED or REJECTED")
	}
	return st, nil
}

func (s *Server) handleReviewDiff(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, errs.New(errs.KindValidation, "malformed body"))
		return
	}
	status, err := req.parse()
	if err != nil {
		fail(w, err)
		return
	}
	if err := s.Store.Diffs.UpdateReview(r.Context(), id, status, req.ReviewedBy, s.Now()); err != nil {
		fail(w, err)
		return
	}
	d, err := s.Store.Diffs.Get(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, d)
}

type batchReviewRequest struct {
	IDs        []uuid.UUID `json:"ids"`
	Status     string      `json:"status"`
	ReviewedBy string      `json:"reviewed_by"`
}

func (s *Server) handleBatchReview(w http.ResponseWriter, r *http.Request) {
	var req batchReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, errs.New(errs.KindValidation, "malformed body"))
		return
	}
	rr := reviewRequest{Status: req.Status, ReviewedBy: req.ReviewedBy}
	status, err := rr.parse()
	if err != nil {
		fail(w, err)
		return
	}
	if len(req.IDs) == 0 {
		fail(w, errs.New(errs.KindValidation, "ids is required"))
		return
	}

	n, err := s.Store.Diffs.BatchUpdateReview(r.Context(), req.IDs, status, req.ReviewedBy, s.Now())
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"requested": len(req.IDs),
		"reviewed":  n,
	})
}

func (s *Server) handleSnapshotGeoJSON(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	gj, err := s.cachedGeoJSON(r, id)
	if err != nil {
		fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write([]byte(gj))
}

func (s *Server) cachedGeoJSON(r *http.Request, id uuid.UUID) (string, error) {
	if gj, ok := s.geojson.Get(id); ok {
		return gj, nil
	}
	gj, err := s.Store.Snapshots.GeoJSON(r.Context(), id)
	if err != nil {
		return "", err
	}
	s.geojson.Add(id, gj)
	return gj, nil
}
