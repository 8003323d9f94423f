package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/model"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func TestRegistry_RunningBlocksSecondStart(t *testing.T) {
	clock := newClock()
	r := NewStatusRegistry(5*time.Minute, clock.now)
	id := uuid.New()

	if err := r.Start(id); err != nil {
		t.Fatalf("first start: %v", err)
	}
	err := r.Start(id)
	if errs.KindOf(err) != errs.KindConcurrency {
		t.Fatalf("second start: got %v, want concurrency error", err)
	}

	// a different dataset is unaffected
	if err := r.Start(uuid.New()); err != nil {
		t.Fatalf("other dataset: %v", err)
	}
}

func TestRegistry_CompletionAllowsRestart(t *testing.T) {
	clock := newClock()
	r := NewStatusRegistry(5*time.Minute, clock.now)
	id := uuid.New()

	if err := r.Start(id); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.Complete(id, model.NewCheckSummary())

	st := r.Get(id)
	if st.State != StateCompleted {
		t.Fatalf("state: got %s", st.State)
	}
	if st.Summary == nil {
		t.Fatal("completed status must carry the summary")
	}
	if err := r.Start(id); err != nil {
		t.Fatalf("restart after completion: %v", err)
	}
}

func TestRegistry_ProgressOnlyWhileRunning(t *testing.T) {
	clock := newClock()
	r := NewStatusRegistry(5*time.Minute, clock.now)
	id := uuid.New()

	_ = r.Start(id)
	r.Progress(id, 3, 10, "checking")

	st := r.Get(id)
	if st.Progress.Current != 3 || st.Progress.Total != 10 || st.Progress.Phase != "checking" {
		t.Fatalf("progress: %+v", st.Progress)
	}

	r.Fail(id, nil)
	r.Progress(id, 9, 10, "checking")
	if st := r.Get(id); st.Progress.Current != 3 {
		t.Fatalf("terminal status must freeze progress: %+v", st.Progress)
	}
}

func TestRegistry_TerminalEntriesExpire(t *testing.T) {
	clock := newClock()
	r := NewStatusRegistry(5*time.Minute, clock.now)
	id := uuid.New()

	_ = r.Start(id)
	r.Complete(id, model.NewCheckSummary())

	clock.advance(4 * time.Minute)
	if st := r.Get(id); st.State != StateCompleted {
		t.Fatalf("within ttl: got %s", st.State)
	}

	clock.advance(2 * time.Minute)
	if st := r.Get(id); st.State != StateIdle {
		t.Fatalf("past ttl: got %s, want idle", st.State)
	}
}

func TestRegistry_RunningNeverExpires(t *testing.T) {
	clock := newClock()
	r := NewStatusRegistry(5*time.Minute, clock.now)
	id := uuid.New()

	_ = r.Start(id)
	clock.advance(time.Hour)

	if st := r.Get(id); st.State != StateRunning {
		t.Fatalf("running entry swept: got %s", st.State)
	}
}

func TestEligible(t *testing.T) {
	loop := &ChangeLoop{DefaultInterval: time.Hour}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	never := &model.Dataset{}
	if !loop.Eligible(never, now) {
		t.Fatal("never-checked dataset must be eligible")
	}

	recent := now.Add(-10 * time.Minute)
	ds := &model.Dataset{LastCheckAt: &recent, CheckIntervalMinutes: 30}
	if loop.Eligible(ds, now) {
		t.Fatal("10 minutes ago with a 30-minute interval is not due")
	}

	ds.CheckIntervalMinutes = 10
	if !loop.Eligible(ds, now) {
		t.Fatal("exactly at the interval boundary is due")
	}

	// zero interval falls back to the default
	old := now.Add(-30 * time.Minute)
	fallback := &model.Dataset{LastCheckAt: &old}
	if loop.Eligible(fallback, now) {
		t.Fatal("default hourly interval has not elapsed")
	}
}
