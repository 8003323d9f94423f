package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/model"
)

type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
)

type RunProgress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Phase   string `json:"phase,omitempty"`
}

// RunStatus is the process-local view of one dataset's quality run.
type RunStatus struct {
	State      RunState            `json:"state"`
	Progress   RunProgress         `json:"progress"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Error      string              `json:"error,omitempty"`
	Summary    *model.CheckSummary `json:"summary,omitempty"`
}

// StatusRegistry tracks quality runs in process memory. A running entry
// blocks new starts for the same dataset; terminal entries expire after
// the TTL so a finished run stays queryable for a while.
type StatusRegistry struct {
	mu  sync.Mutex
	m   map[uuid.UUID]*RunStatus
	ttl time.Duration
	now func() time.Time
}

func NewStatusRegistry(ttl time.Duration, now func() time.Time) *StatusRegistry {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &StatusRegistry{
		m:   make(map[uuid.UUID]*RunStatus),
		ttl: ttl,
		now: now,
	}
}

// Start claims the dataset for a new run.
func (r *StatusRegistry) Start(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	if st, ok := r.m[id]; ok && st.State == StateRunning {
		return errs.New(errs.KindConcurrency, "quality check already running for this dataset")
	}
	r.m[id] = &RunStatus{State: StateRunning, StartedAt: r.now()}
	return nil
}

func (r *StatusRegistry) Progress(id uuid.UUID, current, total int, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.m[id]; ok && st.State == StateRunning {
		st.Progress = RunProgress{Current: current, Total: total, Phase: phase}
	}
}

func (r *StatusRegistry) Complete(id uuid.UUID, summary model.CheckSummary) {
	r.finish(id, StateCompleted, "", &summary)
}

func (r *StatusRegistry) Fail(id uuid.UUID, err error) {
	msg := "quality check failed"
	if err != nil {
		msg = err.Error()
	}
	r.finish(id, StateFailed, msg, nil)
}

func (r *StatusRegistry) finish(id uuid.UUID, state RunState, msg string, summary *model.CheckSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.m[id]
	if !ok {
		return
	}
	t := r.now()
	st.State = state
	st.FinishedAt = &t
	st.Error = msg
	st.Summary = summary
}

// Get returns a copy of the dataset's status; idle when nothing is known.
func (r *StatusRegistry) Get(id uuid.UUID) RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	if st, ok := r.m[id]; ok {
		return *st
	}
	return RunStatus{State: StateIdle}
}

// sweepLocked drops terminal entries past the TTL. Running entries never
// expire; only their completion does.
func (r *StatusRegistry) sweepLocked() {
	cutoff := r.now().Add(-r.ttl)
	for id, st := range r.m {
		if st.State == StateRunning || st.FinishedAt == nil {
			continue
		}
		if st.FinishedAt.Before(cutoff) {
			delete(r.m, id)
		}
	}
}
