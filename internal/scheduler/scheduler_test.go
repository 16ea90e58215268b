package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/fabric"
	"github.com/shaiso/Taskrunner/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingDispatcher запоминает отправленные units.
type recordingDispatcher struct {
	mu    sync.Mutex
	units []fabric.Unit
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, u fabric.Unit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.units = append(d.units, u)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.units)
}

func newScheduler(st store.Store, d fabric.Dispatcher) *Scheduler {
	return New(Config{
		Store:      st,
		Dispatcher: d,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:        func() time.Time { return t0 },
	})
}

// seed создаёт попытку task "a" с указанным номером и scheduled_start.
func seed(t *testing.T, st store.Store, runNumber int, start *time.Time) *domain.TaskRun {
	t.Helper()
	run := domain.NewTaskRun("fr-1", &domain.Task{ID: "a"}, domain.Params{"k": "v"}, runNumber)
	run.ScheduledStart = start
	run.GeneratedBy = "parent/x#1"
	if err := st.Create(context.Background(), run); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return run
}

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

// --- Tick Tests ---

func TestTick_DispatchesDueRetries(t *testing.T) {
	st := store.NewMemory()
	d := &recordingDispatcher{}

	due := seed(t, st, 2, at(-time.Second))
	seed(t, st, 3, at(time.Hour)) // ещё не due
	first := domain.NewTaskRun("fr-1", &domain.Task{ID: "b"}, nil, 1)
	_ = st.Create(context.Background(), first) // без scheduled_start

	if err := newScheduler(st, d).Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.count() != 1 {
		t.Fatalf("expected 1 dispatched unit, got %d", d.count())
	}

	u := d.units[0]
	if u.Kind != fabric.UnitTask || u.Task.RunID != due.ID {
		t.Errorf("unexpected unit %s", u.Describe())
	}
	if u.Task.Params["k"] != "v" || u.Task.GeneratedBy != "parent/x#1" {
		t.Errorf("unit should carry params and provenance: %+v", u.Task)
	}
}

func TestTick_ClaimPreventsRedispatch(t *testing.T) {
	st := store.NewMemory()
	d := &recordingDispatcher{}
	s := newScheduler(st, d)

	run := seed(t, st, 2, at(-time.Second))

	_ = s.Tick(context.Background())
	_ = s.Tick(context.Background())

	if d.count() != 1 {
		t.Errorf("claimed run should be dispatched once, got %d", d.count())
	}

	stored, _ := st.Load(context.Background(), run.ID)
	if want := t0.Add(defaultClaimLease); stored.ClaimedUntil == nil || !stored.ClaimedUntil.Equal(want) {
		t.Errorf("expected claimed_until %v, got %v", want, stored.ClaimedUntil)
	}
	if stored.State != domain.StatePending {
		t.Errorf("claim must not change state, got %s", stored.State)
	}
}

func TestTick_ClaimKeepsScheduledStart(t *testing.T) {
	st := store.NewMemory()
	d := &recordingDispatcher{}

	scheduled := at(-30 * time.Second)
	run := seed(t, st, 2, scheduled)

	if err := newScheduler(st, d).Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := st.Load(context.Background(), run.ID)
	if !stored.ScheduledStart.Equal(*scheduled) {
		t.Errorf("scheduled_start must stay %v after claim, got %v", *scheduled, stored.ScheduledStart)
	}

	// Воркер выполняет попытку со своей копией записи без захвата
	local := run.Clone()
	local.MarkStarted(t0)
	if err := st.SaveOrReload(context.Background(), local); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ = st.Load(context.Background(), run.ID)
	if !stored.ScheduledStart.Equal(*scheduled) {
		t.Errorf("scheduled_start must survive checkpoints, got %v", stored.ScheduledStart)
	}
	if stored.ClaimedUntil == nil {
		t.Error("claim must survive checkpoints from a stale copy")
	}
}

func TestTick_RedispatchAfterLease(t *testing.T) {
	st := store.NewMemory()
	d := &recordingDispatcher{}
	seed(t, st, 2, at(-time.Second))

	_ = newScheduler(st, d).Tick(context.Background())

	later := New(Config{
		Store:      st,
		Dispatcher: d,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:        func() time.Time { return t0.Add(defaultClaimLease + time.Second) },
	})
	_ = later.Tick(context.Background())

	if d.count() != 2 {
		t.Errorf("lost dispatch should be retried after lease, got %d", d.count())
	}
}

func TestTick_DispatchErrorContinues(t *testing.T) {
	st := store.NewMemory()
	d := &recordingDispatcher{err: errors.New("broker down")}
	seed(t, st, 2, at(-time.Minute))
	seed(t, st, 3, at(-time.Second))

	if err := newScheduler(st, d).Tick(context.Background()); err != nil {
		t.Errorf("per-run failures should not fail the tick: %v", err)
	}
}

// conflictStore отклоняет все Save, как будто попытку захватил другой экземпляр.
type conflictStore struct {
	*store.Memory
}

func (c conflictStore) Save(context.Context, *domain.TaskRun) error {
	return store.ErrConflict
}

func TestTick_ClaimedElsewhere(t *testing.T) {
	mem := store.NewMemory()
	d := &recordingDispatcher{}
	seed(t, mem, 2, at(-time.Second))

	if err := newScheduler(conflictStore{mem}, d).Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.count() != 0 {
		t.Errorf("run claimed elsewhere should not be dispatched, got %d", d.count())
	}
}

// --- Cron Tests ---

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"@every 10s", false},
		{"*/5 * * * *", false},
		{"@hourly", false},
		{"not a schedule", true},
		{"* * *", true},
	}

	for _, tt := range tests {
		err := ValidateSchedule(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSchedule(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
		}
	}
}

func TestScheduleFromEnv(t *testing.T) {
	t.Setenv("RETRY_SWEEP_SCHEDULE", "")
	if got := ScheduleFromEnv(); got != DefaultSweepSchedule {
		t.Errorf("expected default, got %q", got)
	}

	t.Setenv("RETRY_SWEEP_SCHEDULE", "@every 1m")
	if got := ScheduleFromEnv(); got != "@every 1m" {
		t.Errorf("expected env value, got %q", got)
	}
}

func TestRun_InvalidSchedule(t *testing.T) {
	s := newScheduler(store.NewMemory(), &recordingDispatcher{})
	if err := s.Run(context.Background(), "bogus"); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a cron tick")
	}

	st := store.NewMemory()
	d := &recordingDispatcher{}
	seed(t, st, 2, at(-time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newScheduler(st, d).Run(ctx, "@every 1s") }()

	deadline := time.After(3 * time.Second)
	for d.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("sweep did not run")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
