// Package model defines the persistent domain types shared across the service.
package model

import (
	"time"

	"github.com/google/uuid"
)

type DiffType string

const (
	DiffNew     DiffType = "NEW"
	DiffUpdated DiffType = "UPDATED"
	DiffDeleted DiffType = "DELETED"
)

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewAccepted ReviewStatus = "ACCEPTED"
	ReviewRejected ReviewStatus = "REJECTED"
)

type CheckCategory string

const (
	CheckValidity   CheckCategory = "VALIDITY"
	CheckTopology   CheckCategory = "TOPOLOGY"
	CheckArea       CheckCategory = "AREA"
	CheckDuplicate  CheckCategory = "DUPLICATE"
	CheckPolygon    CheckCategory = "POLYGON"
	CheckLinestring CheckCategory = "LINESTRING"
	CheckPoint      CheckCategory = "POINT"
)

type CheckResult string

const (
	ResultPass    CheckResult = "PASS"
	ResultWarning CheckResult = "WARNING"
	ResultFail    CheckResult = "FAIL"
)

// connection health values kept on a dataset
const (
	ConnUnknown = "unknown"
	ConnSuccess = "success"
	ConnFailed  = "failed"
)

// Dataset is a registered remote PostGIS table under monitoring.
type Dataset struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`

	Host           string `db:"host" json:"host"`
	Port           int    `db:"port" json:"port"`
	Database       string `db:"database" json:"database"`
	SchemaName     string `db:"schema_name" json:"schema_name"`
	TableName      string `db:"table_name" json:"table_name"`
	GeometryColumn string `db:"geometry_column" json:"geometry_column"`
	SSLMode        string `db:"ssl_mode" json:"ssl_mode"`

	// full remote DSN; stored as given, never logged
	ConnectionURL string `db:"connection_url" json:"-"`

	CheckIntervalMinutes int        `db:"check_interval_minutes" json:"check_interval_minutes"`
	IsActive             bool       `db:"is_active" json:"is_active"`
	LastCheckAt          *time.Time `db:"last_check_at" json:"last_check_at,omitempty"`

	ConnectionStatus   string     `db:"connection_status" json:"connection_status"`
	ConnectionError    *string    `db:"connection_error" json:"connection_error,omitempty"`
	LastConnectionTest *time.Time `db:"last_connection_test" json:"last_connection_test,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Snapshot is one immutable version of one feature. Rows are append-only.
type Snapshot struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DatasetID uuid.UUID `db:"dataset_id" json:"dataset_id"`

	SourceID       *string `db:"source_id" json:"source_id,omitempty"`
	GeometryHash   string  `db:"geometry_hash" json:"geometry_hash"`
	AttributesHash string  `db:"attributes_hash" json:"attributes_hash"`
	CompositeHash  string  `db:"composite_hash" json:"composite_hash"`

	// canonical WKB, written through ST_GeomFromWKB on insert
	GeometryWKB []byte         `db:"-" json:"-"`
	SRID        int            `db:"-" json:"-"`
	Attributes  map[string]any `db:"-" json:"attributes,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SnapshotRef is the slice of a snapshot the change detector preloads.
type SnapshotRef struct {
	ID             uuid.UUID `db:"id"`
	GeometryHash   string    `db:"geometry_hash"`
	AttributesHash string    `db:"attributes_hash"`
	CompositeHash  string    `db:"composite_hash"`
}

// Diff is a flagged change awaiting review. Review happens exactly once.
type Diff struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DatasetID uuid.UUID `db:"dataset_id" json:"dataset_id"`

	Type          DiffType   `db:"diff_type" json:"diff_type"`
	OldSnapshotID *uuid.UUID `db:"old_snapshot_id" json:"old_snapshot_id,omitempty"`
	NewSnapshotID *uuid.UUID `db:"new_snapshot_id" json:"new_snapshot_id,omitempty"`

	GeometryChanged   bool    `db:"geometry_changed" json:"geometry_changed"`
	AttributesChanged bool    `db:"attributes_changed" json:"attributes_changed"`
	ConfidenceScore   float64 `db:"confidence_score" json:"confidence_score"`

	Status     ReviewStatus `db:"status" json:"status"`
	ReviewedBy *string      `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time   `db:"reviewed_at" json:"reviewed_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Finding is one quality-check outcome for one snapshot.
type Finding struct {
	ID         uuid.UUID `db:"id" json:"id"`
	DatasetID  uuid.UUID `db:"dataset_id" json:"dataset_id"`
	SnapshotID uuid.UUID `db:"snapshot_id" json:"snapshot_id"`

	Category CheckCategory  `db:"category" json:"category"`
	Result   CheckResult    `db:"result" json:"result"`
	Message  string         `db:"message" json:"message,omitempty"`
	Details  map[string]any `db:"-" json:"details,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DiffFilter narrows diff listings.
type DiffFilter struct {
	DatasetID *uuid.UUID
	Status    *ReviewStatus
	Type      *DiffType
	Limit     int
	Offset    int
}

// RunStats summarises one change-detection run. Diffs carries the created
// rows so the caller can publish them once the run has committed.
type RunStats struct {
	DatasetID        uuid.UUID     `json:"dataset_id"`
	Baseline         bool          `json:"baseline"`
	FeaturesRead     int           `json:"features_read"`
	SnapshotsCreated int           `json:"snapshots_created"`
	DiffsCreated     int           `json:"diffs_created"`
	Duration         time.Duration `json:"-"`

	Diffs []Diff `json:"-"`
}

// CheckSummary counts findings per (category, result) for one run.
type CheckSummary struct {
	Counts map[CheckCategory]map[CheckResult]int `json:"counts"`
	Failed int                                   `json:"failed"`
	Total  int                                   `json:"total"`
}

func NewCheckSummary() CheckSummary {
	return CheckSummary{Counts: make(map[CheckCategory]map[CheckResult]int)}
}

func (s *CheckSummary) Add(f Finding) {
	byResult, ok := s.Counts[f.Category]
	if !ok {
		byResult = make(map[CheckResult]int)
		s.Counts[f.Category] = byResult
	}
	byResult[f.Result]++
	s.Total++
	if f.Result == ResultFail {
		s.Failed++
	}
}
