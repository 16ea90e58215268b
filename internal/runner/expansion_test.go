package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/fabric"
	"github.com/shaiso/Taskrunner/internal/store"
)

func leaf(id string) *domain.Task {
	return &domain.Task{
		ID: id,
		Body: func(context.Context, domain.Params) (domain.Result, error) {
			return domain.Done(id), nil
		},
	}
}

func expanding(id string, maxRetries int, values ...any) *domain.Task {
	return &domain.Task{
		ID:         id,
		MaxRetries: maxRetries,
		Body: func(context.Context, domain.Params) (domain.Result, error) {
			return domain.ExpandItems(values...), nil
		},
	}
}

// --- Expansion Tests ---

func TestExpansion_FlattensOneLevel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	taskA, taskB, taskC := leaf("a"), leaf("b"), leaf("c")
	flowX := &domain.Flow{ID: "x", Tasks: []*domain.Task{leaf("x1")}}
	parent := expanding("fanout", 0, taskA, []*domain.Task{taskB, taskC}, flowX)
	run := domain.NewTaskRun("fr-1", parent, domain.Params{"day": "monday"}, 1)

	var stateDuringGather domain.State
	f.fabric.onGather = func() {
		stored, err := f.store.Load(ctx, run.ID)
		if err != nil {
			t.Errorf("load during gather: %v", err)
			return
		}
		stateDuringGather = stored.State
	}

	state := f.engine.Run(ctx, parent, run, nil, false)

	if state != domain.StateSuccess {
		t.Fatalf("expected SUCCESS, got %s (%s)", state, run.Error)
	}
	if len(f.fabric.units) != 4 {
		t.Fatalf("expected 4 submissions, got %d", len(f.fabric.units))
	}
	if len(f.fabric.gathered) != 4 {
		t.Errorf("expected all 4 units gathered, got %d", len(f.fabric.gathered))
	}
	if stateDuringGather != domain.StateWaitingForSubtasks {
		t.Errorf("expected WAITING_FOR_SUBTASKS during gather, got %s", stateDuringGather)
	}

	parentKey := run.Key()
	var tasks, flows int
	for _, u := range f.fabric.units {
		switch u.Kind {
		case fabric.UnitTask:
			tasks++
			if u.Task.RunID.FlowRunID != parentKey || u.Task.RunID.RunNumber != 1 {
				t.Errorf("unexpected child identity %s", u.Task.RunID)
			}
			if u.Task.GeneratedBy != parentKey {
				t.Errorf("expected provenance %s, got %s", parentKey, u.Task.GeneratedBy)
			}
		case fabric.UnitFlow:
			flows++
			if u.Flow.FlowRunID != parentKey+"/x" {
				t.Errorf("unexpected flow run id %s", u.Flow.FlowRunID)
			}
			if u.Flow.Params["day"] != "monday" {
				t.Errorf("flow should receive the same params, got %v", u.Flow.Params)
			}
		}
	}
	if tasks != 3 || flows != 1 {
		t.Errorf("expected 3 task units and 1 flow unit, got %d and %d", tasks, flows)
	}
}

func TestExpansion_UnsupportedItem(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		wantRetry  bool
	}{
		{"no budget", 0, false},
		{"budget left", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			task := expanding("bad", tt.maxRetries, "not a task")
			run := domain.NewTaskRun("fr-1", task, nil, 1)

			state := f.engine.Run(context.Background(), task, run, nil, false)

			if state != domain.StateFailed {
				t.Fatalf("expected FAILED, got %s", state)
			}
			if !strings.Contains(run.Error, ErrUnsupportedExpansionItem.Error()) {
				t.Errorf("expected unsupported item error, got %q", run.Error)
			}
			if !strings.Contains(run.Error, "string") {
				t.Errorf("error should name the offending type, got %q", run.Error)
			}
			if run.IsRetrying() != tt.wantRetry {
				t.Errorf("retrying = %v, want %v", run.IsRetrying(), tt.wantRetry)
			}
		})
	}
}

func TestExpansion_GathersUnitsSubmittedBeforeInvalidItem(t *testing.T) {
	f := newFixture()
	task := expanding("partial", 0, leaf("ok"), 42)
	run := domain.NewTaskRun("fr-1", task, nil, 1)

	state := f.engine.Run(context.Background(), task, run, nil, false)

	if state != domain.StateFailed {
		t.Fatalf("expected FAILED, got %s", state)
	}
	if len(f.fabric.units) != 1 || len(f.fabric.gathered) != 1 {
		t.Errorf("expected the valid unit to be submitted and gathered, got %d/%d",
			len(f.fabric.units), len(f.fabric.gathered))
	}
	if !strings.Contains(run.Error, "int") {
		t.Errorf("error should name the offending type, got %q", run.Error)
	}
}

func TestExpansion_NestedGroupRejected(t *testing.T) {
	f := newFixture()
	nested := domain.Group(domain.Group(domain.TaskItem(leaf("deep"))))
	task := expanding("nested", 0, nested)
	run := domain.NewTaskRun("fr-1", task, nil, 1)

	if state := f.engine.Run(context.Background(), task, run, nil, false); state != domain.StateFailed {
		t.Errorf("expected FAILED, got %s", state)
	}
	if len(f.fabric.units) != 0 {
		t.Errorf("nested group should not be submitted, got %d units", len(f.fabric.units))
	}
}

func TestExpansion_GatherErrorFails(t *testing.T) {
	f := newFixture()
	f.fabric.gatherErr = errors.New("broker unreachable")
	task := expanding("fanout", 0, leaf("a"))
	run := domain.NewTaskRun("fr-1", task, nil, 1)

	state := f.engine.Run(context.Background(), task, run, nil, false)

	if state != domain.StateFailed {
		t.Fatalf("expected FAILED, got %s", state)
	}
	if !strings.Contains(run.Error, "broker unreachable") {
		t.Errorf("expected gather error, got %q", run.Error)
	}
}

func TestExpansion_EmptySequenceSucceeds(t *testing.T) {
	f := newFixture()
	task := expanding("nothing", 0)
	run := domain.NewTaskRun("fr-1", task, nil, 1)

	if state := f.engine.Run(context.Background(), task, run, nil, false); state != domain.StateSuccess {
		t.Errorf("expected SUCCESS, got %s", state)
	}
}

func TestExpansion_LazyProducerPanics(t *testing.T) {
	f := newFixture()
	task := &domain.Task{
		ID: "lazy",
		Body: func(context.Context, domain.Params) (domain.Result, error) {
			return domain.Expand(func(yield func(domain.WorkItem) bool) {
				if !yield(domain.TaskItem(leaf("first"))) {
					return
				}
				panic("producer broke")
			}), nil
		},
	}
	run := domain.NewTaskRun("fr-1", task, nil, 1)

	state := f.engine.Run(context.Background(), task, run, nil, false)

	if state != domain.StateFailed {
		t.Fatalf("expected FAILED, got %s", state)
	}
	if len(f.fabric.gathered) != 1 {
		t.Errorf("unit produced before the panic should be gathered, got %d", len(f.fabric.gathered))
	}
}

func TestExpansion_CancelDuringGatherSkips(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	task := expanding("fanout", 2, leaf("a"))
	run := domain.NewTaskRun("fr-1", task, nil, 1)

	// Пока попытка ждёт детей, внешний писатель запрашивает отмену
	f.fabric.onGather = func() {
		stored, _ := f.store.Load(ctx, run.ID)
		stored.Annotations = map[string]string{domain.AnnotationCancelRequested: "flow runner"}
		if err := f.store.Save(ctx, stored); err != nil {
			t.Errorf("external save: %v", err)
		}
	}

	state := f.engine.Run(ctx, task, run, nil, false)

	if state != domain.StateSkipped {
		t.Fatalf("expected SKIPPED, got %s", state)
	}
	if !f.load(t, run.ID).CancelRequested() {
		t.Error("external annotation was clobbered")
	}
}

// cancelAwareStore отказывает в записи при отменённом ctx, как драйверы БД.
type cancelAwareStore struct {
	*store.Memory
}

func (s cancelAwareStore) SaveOrReload(ctx context.Context, run *domain.TaskRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.SaveOrReload(ctx, run)
}

func (s cancelAwareStore) Create(ctx context.Context, run *domain.TaskRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.Create(ctx, run)
}

func TestExpansion_ContextCancelledDuringGatherPersistsFailure(t *testing.T) {
	mem := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fab := &recordingFabric{gatherErr: context.Canceled, onGather: cancel}
	e := New(Config{
		Store:  cancelAwareStore{mem},
		Fabric: fab,
		Logger: quietLogger(),
		Now:    func() time.Time { return t0 },
	})
	task := expanding("fanout", 2, leaf("a"))
	run := domain.NewTaskRun("fr-1", task, nil, 1)

	state := e.Run(ctx, task, run, nil, false)

	if state != domain.StateFailed {
		t.Fatalf("expected FAILED, got %s", state)
	}

	stored, err := mem.Load(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.State != domain.StateFailed {
		t.Errorf("durable state should be FAILED, got %s", stored.State)
	}
	if stored.FinishedAt == nil {
		t.Error("durable record should be finished")
	}
	if !stored.Retrying {
		t.Error("durable record should carry the retry marker")
	}

	next, err := mem.Load(context.Background(), run.ID.Next())
	if err != nil {
		t.Fatalf("follow-up attempt should exist: %v", err)
	}
	if next.State != domain.StatePending {
		t.Errorf("follow-up should be PENDING, got %s", next.State)
	}
}

func TestExpansion_WithoutFabricFails(t *testing.T) {
	e := New(Config{Store: store.NewMemory(), Logger: quietLogger()})
	task := expanding("fanout", 0, leaf("a"))
	run := domain.NewTaskRun("fr-1", task, nil, 1)

	if state := e.Run(context.Background(), task, run, nil, false); state != domain.StateFailed {
		t.Errorf("expected FAILED, got %s", state)
	}
}

// --- Local Fabric Integration ---

func TestExpansion_LocalFabricRunsChildren(t *testing.T) {
	st := store.NewMemory()
	local := fabric.NewLocal(fabric.LocalConfig{Logger: quietLogger()})
	e := New(Config{Store: st, Fabric: local, Logger: quietLogger()})

	local.Bind(fabric.ExecutorFunc(func(ctx context.Context, u fabric.Unit) error {
		_, err := e.RunUnit(ctx, u.Task.Definition, u.Task)
		return err
	}))

	slow := &domain.Task{
		ID: "slow",
		Body: func(context.Context, domain.Params) (domain.Result, error) {
			time.Sleep(20 * time.Millisecond)
			return domain.Done(nil), nil
		},
	}
	broken := &domain.Task{ID: "broken", Body: failingBody}
	parent := expanding("fanout", 0, slow, broken, leaf("fast"))
	run := domain.NewTaskRun("fr-1", parent, nil, 1)

	state := e.Run(context.Background(), parent, run, nil, false)

	// Неудача ребёнка не влияет на родителя: ожидание не прерывается
	if state != domain.StateSuccess {
		t.Fatalf("expected SUCCESS, got %s (%s)", state, run.Error)
	}

	want := map[string]domain.State{
		"slow":   domain.StateSuccess,
		"broken": domain.StateFailed,
		"fast":   domain.StateSuccess,
	}
	for id, ws := range want {
		child, err := st.Load(context.Background(), domain.RunID{FlowRunID: run.Key(), TaskID: id, RunNumber: 1})
		if err != nil {
			t.Fatalf("child %s: %v", id, err)
		}
		if child.State != ws {
			t.Errorf("child %s: expected %s, got %s", id, ws, child.State)
		}
		if child.GeneratedBy != run.Key() {
			t.Errorf("child %s: expected provenance %s, got %s", id, run.Key(), child.GeneratedBy)
		}
	}
}
