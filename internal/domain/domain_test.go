package domain

import (
	"errors"
	"testing"
	"time"
)

// --- State Tests ---

func TestCanTransition(t *testing.T) {
	allowed := [][2]State{
		{StatePending, StateRunning},
		{StateRunning, StateWaitingForSubtasks},
		{StateWaitingForSubtasks, StateRunning},
		{StateRunning, StateSuccess},
		{StateRunning, StateSkipped},
		{StateRunning, StateFailed},
		{StateSuccess, StatePending},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("expected %s → %s to be allowed", tr[0], tr[1])
		}
	}

	forbidden := [][2]State{
		{StatePending, StateSkipped},
		{StatePending, StateFailed},
		{StatePending, StateWaitingForSubtasks},
		{StateWaitingForSubtasks, StateSuccess},
		{StateFailed, StateRunning},
		{StateSkipped, StatePending},
	}
	for _, tr := range forbidden {
		if CanTransition(tr[0], tr[1]) {
			t.Errorf("expected %s → %s to be forbidden", tr[0], tr[1])
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	for _, s := range []State{StateSuccess, StateSkipped, StateFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StatePending, StateRunning, StateWaitingForSubtasks} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTaskRun_Transition_Invalid(t *testing.T) {
	run := &TaskRun{State: StatePending}

	err := run.Transition(StateSuccess)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if run.State != StatePending {
		t.Errorf("state should stay PENDING, got %s", run.State)
	}
}

func TestOutcomeKind_State(t *testing.T) {
	cases := map[OutcomeKind]State{
		OutcomeSuccess: StateSuccess,
		OutcomeSkip:    StateSkipped,
		OutcomeRetry:   StateFailed,
		OutcomeFail:    StateFailed,
		"bogus":        StateFailed,
	}
	for kind, want := range cases {
		if got := kind.State(); got != want {
			t.Errorf("%s: expected %s, got %s", kind, want, got)
		}
	}
}

// --- RunID Tests ---

func TestRunID_String(t *testing.T) {
	id := RunID{FlowRunID: "fr-1", TaskID: "extract", RunNumber: 2}
	if id.String() != "fr-1/extract#2" {
		t.Errorf("unexpected key %s", id.String())
	}
	if id.Next().RunNumber != 3 {
		t.Errorf("expected next run number 3, got %d", id.Next().RunNumber)
	}
}

func TestParseRunID_Nested(t *testing.T) {
	id, err := ParseRunID("fr-1/parent#1/child#3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.FlowRunID != "fr-1/parent#1" {
		t.Errorf("unexpected flow run id %s", id.FlowRunID)
	}
	if id.TaskID != "child" || id.RunNumber != 3 {
		t.Errorf("unexpected id %+v", id)
	}
}

func TestParseRunID_Invalid(t *testing.T) {
	for _, s := range []string{"", "abc", "fr/task", "fr/task#0", "task#1", "fr/#1"} {
		if _, err := ParseRunID(s); !errors.Is(err, ErrInvalidRunID) {
			t.Errorf("%q: expected ErrInvalidRunID, got %v", s, err)
		}
	}
}

// --- TaskRun Tests ---

func TestTaskRun_MergeInto(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	scheduled := created.Add(time.Minute)

	stored := &TaskRun{
		ID:             RunID{FlowRunID: "fr", TaskID: "t", RunNumber: 2},
		State:          StatePending,
		CreatedAt:      created,
		ScheduledStart: &scheduled,
		GeneratedBy:    "origin",
		Params:         Params{"a": 1, "b": 2},
		Annotations:    map[string]string{AnnotationCancelRequested: "cli"},
		Version:        7,
	}

	local := &TaskRun{
		ID:          stored.ID,
		State:       StateRunning,
		CreatedAt:   time.Now(),
		GeneratedBy: "other",
		Params:      Params{"b": 3},
	}

	local.MergeInto(stored)

	if local.State != StateRunning {
		t.Errorf("local state should win, got %s", local.State)
	}
	if !local.CreatedAt.Equal(created) {
		t.Errorf("created should come from store, got %v", local.CreatedAt)
	}
	if local.ScheduledStart == nil || !local.ScheduledStart.Equal(scheduled) {
		t.Error("scheduled_start should come from store")
	}
	if local.GeneratedBy != "origin" {
		t.Errorf("provenance must not change, got %s", local.GeneratedBy)
	}
	if local.Params["a"] != 1 || local.Params["b"] != 3 {
		t.Errorf("unexpected params %v", local.Params)
	}
	if !local.CancelRequested() {
		t.Error("annotations from store should be kept")
	}
	if local.Version != 7 {
		t.Errorf("expected version 7, got %d", local.Version)
	}
}

func TestTaskRun_IsDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(5 * time.Minute)

	run := &TaskRun{State: StatePending}
	if run.IsDue(now) {
		t.Error("run without scheduled_start should not be due")
	}

	run.ScheduledStart = &past
	if !run.IsDue(now) {
		t.Error("run with past scheduled_start should be due")
	}

	run.ClaimedUntil = &future
	if run.IsDue(now) {
		t.Error("claimed run should not be due before the claim expires")
	}
	if got := run.DueAt(); !got.Equal(future) {
		t.Errorf("expected due at %v, got %v", future, got)
	}
	if !run.IsDue(future) {
		t.Error("run should be due once the claim expires")
	}

	run.State = StateRunning
	if run.IsDue(future) {
		t.Error("running run should not be due")
	}
}

func TestTaskRun_MergeInto_KeepsClaim(t *testing.T) {
	scheduled := time.Date(2026, 3, 1, 11, 59, 30, 0, time.UTC)
	claimed := scheduled.Add(5 * time.Minute)

	stored := &TaskRun{State: StatePending, ScheduledStart: &scheduled, ClaimedUntil: &claimed, Version: 2}
	local := &TaskRun{State: StateRunning, ScheduledStart: &scheduled, Version: 1}

	local.MergeInto(stored)

	if !local.ScheduledStart.Equal(scheduled) {
		t.Errorf("scheduled_start changed: %v", local.ScheduledStart)
	}
	if local.ClaimedUntil == nil || !local.ClaimedUntil.Equal(claimed) {
		t.Errorf("claim should come from store, got %v", local.ClaimedUntil)
	}
}

func TestTaskRun_MarkFinished_OnlyTerminal(t *testing.T) {
	now := time.Now()
	run := &TaskRun{State: StateRunning}

	run.MarkFinished(now)
	if run.FinishedAt != nil {
		t.Error("finished must not be set for RUNNING")
	}

	run.State = StateFailed
	run.MarkFinished(now)
	if run.FinishedAt == nil {
		t.Fatal("finished should be set for FAILED")
	}

	run.MarkFinished(now.Add(time.Hour))
	if !run.FinishedAt.Equal(now) {
		t.Error("finished must not be overwritten")
	}
}

// --- Task Tests ---

func TestRetryDelay_Fixed(t *testing.T) {
	d := FixedDelay(5 * time.Second)
	if d.For(1, 3) != 5*time.Second || d.For(3, 3) != 5*time.Second {
		t.Error("fixed delay must not depend on attempt")
	}
}

func TestRetryDelay_Func(t *testing.T) {
	var gotAttempt, gotMax int
	d := DelayFunc(func(attempt, maxRetries int) time.Duration {
		gotAttempt, gotMax = attempt, maxRetries
		return time.Duration(attempt) * time.Minute
	})

	if d.For(2, 4) != 2*time.Minute {
		t.Error("function result should be used as is")
	}
	if gotAttempt != 2 || gotMax != 4 {
		t.Errorf("unexpected args (%d, %d)", gotAttempt, gotMax)
	}
}

func TestTask_CanRetry(t *testing.T) {
	task := &Task{ID: "t", MaxRetries: 2}

	if !task.CanRetry(1) || !task.CanRetry(2) {
		t.Error("attempts 1 and 2 should be retryable")
	}
	if task.CanRetry(3) {
		t.Error("attempt 3 exhausts the budget")
	}
	if (&Task{ID: "t"}).CanRetry(1) {
		t.Error("max_retries=0 never retries")
	}
}

// --- WorkItem Tests ---

func TestItem_Classification(t *testing.T) {
	task := &Task{ID: "a"}
	flow := &Flow{ID: "f"}

	if Item(task).Kind() != WorkTask {
		t.Error("*Task should be a task item")
	}
	if Item(flow).Kind() != WorkFlow {
		t.Error("*Flow should be a flow item")
	}

	group := Item([]any{task, flow})
	if group.Kind() != WorkGroup || len(group.Members()) != 2 {
		t.Fatalf("expected group of 2, got %s", group.Kind())
	}

	bad := Item("oops")
	if bad.Kind() != WorkInvalid {
		t.Fatal("string should be invalid")
	}
	if bad.TypeName() != "string" {
		t.Errorf("expected type name string, got %s", bad.TypeName())
	}
}

// --- Trigger Tests ---

func TestAllSuccessful(t *testing.T) {
	if !AllSuccessful(nil).Passed() {
		t.Error("no upstream should pass")
	}
	if !AllSuccessful(map[string]State{"a": StateSuccess}).Passed() {
		t.Error("all success should pass")
	}
	o := AllSuccessful(map[string]State{"a": StateSuccess, "b": StateFailed})
	if o.Kind != OutcomeFail {
		t.Errorf("expected fail, got %s", o.Kind)
	}
}

func TestAnyFailed(t *testing.T) {
	if AnyFailed(map[string]State{"a": StateSuccess}).Kind != OutcomeSkip {
		t.Error("no failed upstream should skip")
	}
	if !AnyFailed(map[string]State{"a": StateSuccess, "b": StateFailed}).Passed() {
		t.Error("one failed upstream should pass")
	}
}

func TestAllFinished(t *testing.T) {
	if AllFinished(map[string]State{"a": StateRunning}).Passed() {
		t.Error("running upstream should not pass")
	}
	if !AllFinished(map[string]State{"a": StateSkipped, "b": StateFailed}).Passed() {
		t.Error("finished upstream should pass")
	}
}

func TestTask_Evaluate_DefaultTrigger(t *testing.T) {
	task := &Task{ID: "t"}
	if task.Evaluate(map[string]State{"a": StateFailed}).Passed() {
		t.Error("default trigger should be all_successful")
	}
}
