package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/model"
	"github.com/driftwatch/driftwatch/internal/source"
)

// datasetRequest is the registration/update payload. Credentials arrive
// either as a full URL or as discrete fields.
type datasetRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	Host           string `json:"host"`
	Port           int    `json:"port"`
	Database       string `json:"database"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	SchemaName     string `json:"schema_name"`
	TableName      string `json:"table_name"`
	GeometryColumn string `json:"geometry_column"`
	SSLMode        string `json:"ssl_mode"`

	ConnectionURL string `json:"connection_url"`

	CheckIntervalMinutes int `json:"check_interval_minutes"`
}

func (req *datasetRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return errs.New(errs.KindValidation, "name is required")
	}
	if strings.TrimSpace(req.TableName) == "" {
		return errs.New(errs.KindValidation, "table_name is required")
	}
	if req.ConnectionURL == "" && (req.Host == "" || req.Database == "") {
		return errs.New(errs.KindValidation, "either connection_url or host and database are required")
	}
	return nil
}

func (req *datasetRequest) applyDefaults(defaultIntervalMinutes int) {
	if req.Port == 0 {
		req.Port = 5432
	}
	if req.SchemaName == "" {
		req.SchemaName = "public"
	}
	if req.GeometryColumn == "" {
		req.GeometryColumn = "geom"
	}
	if req.SSLMode == "" {
		req.SSLMode = "prefer"
	}
	if req.CheckIntervalMinutes <= 0 {
		req.CheckIntervalMinutes = defaultIntervalMinutes
	}
}

// connectionURL assembles a DSN when one was not supplied verbatim.
func (req *datasetRequest) connectionURL() string {
	if req.ConnectionURL != "" {
		return req.ConnectionURL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", req.Host, req.Port),
		Path:   "/" + req.Database,
	}
	if req.Username != "" {
		if req.Password != "" {
			u.User = url.UserPassword(req.Username, req.Password)
		} else {
			u.User = url.User(req.Username)
		}
	}
	q := url.Values{}
	q.Set("sslmode", req.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	datasets, err := s.Store.Datasets.List(r.Context(), activeOnly, limit, offset)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, datasets)
}

func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, errs.New(errs.KindValidation, "malformed body"))
		return
	}
	if err := req.validate(); err != nil {
		fail(w, err)
		return
	}
	req.applyDefaults(int(s.Cfg.DefaultCheckInterval.Minutes()))

	now := s.Now()
	ds := model.Dataset{
		ID:                   uuid.New(),
		Name:                 req.Name,
		Description:          req.Description,
		Host:                 req.Host,
		Port:                 req.Port,
		Database:             req.Database,
		SchemaName:           req.SchemaName,
		TableName:            req.TableName,
		GeometryColumn:       req.GeometryColumn,
		SSLMode:              req.SSLMode,
		ConnectionURL:        req.connectionURL(),
		CheckIntervalMinutes: req.CheckIntervalMinutes,
		IsActive:             true,
		ConnectionStatus:     model.ConnUnknown,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.Store.Datasets.Insert(r.Context(), &ds); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusCreated, ds)
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	ds, err := s.Store.Datasets.GetByID(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, ds)
}

func (s *Server) handleUpdateDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	ds, err := s.Store.Datasets.GetByID(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}

	var req datasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, errs.New(errs.KindValidation, "malformed body"))
		return
	}
	if err := req.validate(); err != nil {
		fail(w, err)
		return
	}
	req.applyDefaults(int(s.Cfg.DefaultCheckInterval.Minutes()))

	ds.Name = req.Name
	ds.Description = req.Description
	ds.Host = req.Host
	ds.Port = req.Port
	ds.Database = req.Database
	ds.SchemaName = req.SchemaName
	ds.TableName = req.TableName
	ds.GeometryColumn = req.GeometryColumn
	ds.SSLMode = req.SSLMode
	ds.ConnectionURL = req.connectionURL()
	ds.CheckIntervalMinutes = req.CheckIntervalMinutes
	ds.UpdatedAt = s.Now()

	if err := s.Store.Datasets.Update(r.Context(), ds); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, ds)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	if err := s.Store.Datasets.SoftDelete(r.Context(), id, s.Now()); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	ds, err := s.Store.Datasets.GetByID(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}

	table := source.Table{
		ConnectionURL:  ds.ConnectionURL,
		Schema:         ds.SchemaName,
		Name:           ds.TableName,
		GeometryColumn: ds.GeometryColumn,
	}
	now := s.Now()
	if perr := s.Reader.Ping(r.Context(), table); perr != nil {
		msg := perr.Error()
		_ = s.Store.Datasets.UpdateConnectionTest(r.Context(), id, now, model.ConnFailed, &msg)
		respond(w, http.StatusOK, map[string]any{"status": model.ConnFailed, "error": msg})
		return
	}
	if err := s.Store.Datasets.UpdateConnectionTest(r.Context(), id, now, model.ConnSuccess, nil); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"status": model.ConnSuccess})
}

func (s *Server) handleDatasetStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	ctx := r.Context()
	if _, err := s.Store.Datasets.GetByID(ctx, id); err != nil {
		fail(w, err)
		return
	}

	snapshots, err := s.Store.Snapshots.Count(ctx, id)
	if err != nil {
		fail(w, err)
		return
	}
	pending, err := s.Store.Diffs.CountPending(ctx, id)
	if err != nil {
		fail(w, err)
		return
	}
	diffStats, err := s.Store.Diffs.StatsByDataset(ctx, id)
	if err != nil {
		fail(w, err)
		return
	}
	findingStats, err := s.Store.Findings.Summarize(ctx, id)
	if err != nil {
		fail(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"snapshots":     snapshots,
		"pending_diffs": pending,
		"diffs":         diffStats,
		"findings":      findingStats,
	})
}

func (s *Server) handleListFindings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	findings, err := s.Store.Findings.ListByDataset(r.Context(), id, limit, offset)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, findings)
}
