package flowspec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/flow"
)

// echo возвращает полученные параметры.
var echo = &domain.Task{
	ID:         "echo",
	Name:       "Echo",
	MaxRetries: 2,
	RetryDelay: domain.FixedDelay(time.Second),
	Body: func(_ context.Context, params domain.Params) (domain.Result, error) {
		return domain.Done(params), nil
	},
}

func resolve(typ string) (*domain.Task, error) {
	if typ == "echo" {
		return echo, nil
	}
	return nil, fmt.Errorf("no task %s", typ)
}

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

func call(t *testing.T, task *domain.Task, params domain.Params) domain.Params {
	t.Helper()
	res, err := task.Body(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, ok := res.Value().(domain.Params)
	if !ok {
		t.Fatalf("expected params, got %T", res.Value())
	}
	return out
}

// --- Parse Tests ---

func TestParse(t *testing.T) {
	data := []byte(`{
		"id": "sync",
		"tasks": [
			{"id": "fetch", "type": "echo", "params": {"url": "{{ .Params.source }}"}, "max_retries": 5},
			{"id": "notify", "type": "echo", "depends_on": ["fetch"], "trigger": "all_finished"}
		]
	}`)

	spec, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.ID != "sync" || len(spec.Tasks) != 2 {
		t.Fatalf("unexpected spec: %+v", spec)
	}
	if spec.Tasks[0].MaxRetries == nil || *spec.Tasks[0].MaxRetries != 5 {
		t.Error("max_retries not parsed")
	}
	if spec.Tasks[1].DependsOn[0] != "fetch" {
		t.Error("depends_on not parsed")
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	if _, err := Parse([]byte(`{"id":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

// --- Validate Tests ---

func TestValidate_Errors(t *testing.T) {
	task := func(id string) TaskSpec { return TaskSpec{ID: id, Type: "echo"} }

	tests := []struct {
		name string
		spec Spec
		want error
	}{
		{"no id", Spec{Tasks: []TaskSpec{task("a")}}, ErrEmptyFlowID},
		{"no tasks", Spec{ID: "f"}, ErrEmptyTasks},
		{"empty task id", Spec{ID: "f", Tasks: []TaskSpec{task("")}}, ErrEmptyTaskID},
		{"duplicate", Spec{ID: "f", Tasks: []TaskSpec{task("a"), task("a")}}, ErrDuplicateTaskID},
		{"empty type", Spec{ID: "f", Tasks: []TaskSpec{{ID: "a"}}}, ErrUnknownTaskType},
		{"unknown trigger", Spec{ID: "f", Tasks: []TaskSpec{{ID: "a", Type: "echo", Trigger: "sometimes"}}}, ErrUnknownTrigger},
		{"negative retries", Spec{ID: "f", Tasks: []TaskSpec{{ID: "a", Type: "echo", MaxRetries: intPtr(-1)}}}, ErrInvalidRetry},
		{"negative delay", Spec{ID: "f", Tasks: []TaskSpec{{ID: "a", Type: "echo", RetryDelaySec: floatPtr(-1)}}}, ErrInvalidRetry},
		{"self dependency", Spec{ID: "f", Tasks: []TaskSpec{{ID: "a", Type: "echo", DependsOn: []string{"a"}}}}, ErrSelfDependency},
		{"missing dependency", Spec{ID: "f", Tasks: []TaskSpec{{ID: "a", Type: "echo", DependsOn: []string{"ghost"}}}}, ErrMissingDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.spec)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ErrorNamesTask(t *testing.T) {
	spec := Spec{ID: "f", Tasks: []TaskSpec{{ID: "load", Type: "echo", Trigger: "sometimes"}}}

	var verr *ValidationError
	if err := Validate(&spec); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.TaskID != "load" || verr.Field != "trigger" {
		t.Errorf("unexpected error context: %+v", verr)
	}
}

// --- Build Tests ---

func TestBuild(t *testing.T) {
	spec := &Spec{ID: "sync", Name: "Sync", Tasks: []TaskSpec{
		{ID: "fetch", Type: "echo"},
		{ID: "notify", Name: "Notify", Type: "echo", DependsOn: []string{"fetch"}, Trigger: "ALL_FINISHED",
			MaxRetries: intPtr(0), RetryDelaySec: floatPtr(0.5)},
	}}

	f, err := Build(spec, resolve)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fetch, notify := f.Task("fetch"), f.Task("notify")
	if fetch.Name != "Echo" || fetch.MaxRetries != 2 || fetch.RetryDelay.For(1, 2) != time.Second {
		t.Errorf("fetch should inherit base policy, got %+v", fetch)
	}
	if fetch.Trigger != nil {
		t.Error("fetch should use the default trigger")
	}

	if notify.Name != "Notify" || notify.MaxRetries != 0 || notify.RetryDelay.For(1, 0) != 500*time.Millisecond {
		t.Errorf("notify overrides not applied: %+v", notify)
	}
	// all_finished пропускает task после неудачного предшественника
	if o := notify.Evaluate(map[string]domain.State{"fetch": domain.StateFailed}); !o.Passed() {
		t.Errorf("all_finished should pass after a failure, got %s", o)
	}

	if got := f.Upstream["notify"]; len(got) != 1 || got[0] != "fetch" {
		t.Errorf("unexpected edges: %v", f.Upstream)
	}

	if _, err := flow.BuildDAG(f); err != nil {
		t.Errorf("built flow should form a DAG: %v", err)
	}
}

func TestBuild_UnknownType(t *testing.T) {
	spec := &Spec{ID: "f", Tasks: []TaskSpec{{ID: "a", Type: "ftp"}}}

	if _, err := Build(spec, resolve); !errors.Is(err, ErrUnknownTaskType) {
		t.Errorf("expected ErrUnknownTaskType, got %v", err)
	}
}

func TestBuild_CycleDetectedByDAG(t *testing.T) {
	spec := &Spec{ID: "f", Tasks: []TaskSpec{
		{ID: "a", Type: "echo", DependsOn: []string{"b"}},
		{ID: "b", Type: "echo", DependsOn: []string{"a"}},
	}}

	f, err := Build(spec, resolve)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := flow.BuildDAG(f); !errors.Is(err, flow.ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

// --- Template Tests ---

func TestBoundBody_RendersParams(t *testing.T) {
	t.Setenv("HOOK_HOST", "hooks.local")

	spec := &Spec{ID: "f", Tasks: []TaskSpec{{
		ID:   "notify",
		Type: "echo",
		Params: map[string]any{
			"url":     "https://{{ .Env.HOOK_HOST }}/{{ .Params.region }}",
			"subject": "{{ .Task.ID }} attempt {{ .Task.RunNumber }}",
			"labels":  []any{"{{ upper .Params.region }}", 7},
			"nested":  map[string]any{"region": "{{ .Params.region }}"},
			"count":   3.0,
		},
	}}}

	f, err := Build(spec, resolve)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := call(t, f.Task("notify"), domain.Params{
		"region":              "eu",
		domain.ParamTaskID:    "notify",
		domain.ParamRunNumber: 2,
	})

	if out["url"] != "https://hooks.local/eu" {
		t.Errorf("unexpected url: %v", out["url"])
	}
	if out["subject"] != "notify attempt 2" {
		t.Errorf("unexpected subject: %v", out["subject"])
	}
	if labels := out["labels"].([]any); labels[0] != "EU" || labels[1] != 7 {
		t.Errorf("unexpected labels: %v", labels)
	}
	if nested := out["nested"].(map[string]any); nested["region"] != "eu" {
		t.Errorf("unexpected nested: %v", nested)
	}
	if out["count"] != 3.0 || out["region"] != "eu" {
		t.Errorf("plain values should pass through: %v", out)
	}
}

func TestBoundBody_SpecParamsOverrideRunParams(t *testing.T) {
	spec := &Spec{ID: "f", Tasks: []TaskSpec{{ID: "a", Type: "echo", Params: map[string]any{"method": "POST"}}}}
	f, err := Build(spec, resolve)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	run := domain.Params{"method": "GET"}
	out := call(t, f.Task("a"), run)
	if out["method"] != "POST" {
		t.Errorf("expected spec param to win, got %v", out["method"])
	}
	if run["method"] != "GET" {
		t.Error("caller params must not be modified")
	}
}

func TestBoundBody_TemplateError(t *testing.T) {
	spec := &Spec{ID: "f", Tasks: []TaskSpec{{ID: "a", Type: "echo", Params: map[string]any{"x": "{{ .Params.y "}}}}
	f, err := Build(spec, resolve)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.Task("a").Body(context.Background(), nil); !errors.Is(err, ErrTemplateParse) {
		t.Errorf("expected ErrTemplateParse, got %v", err)
	}
}

func TestRender_DefaultFunc(t *testing.T) {
	ctx := NewContext(domain.Params{"empty": ""})

	got, err := Render(`{{ default "fallback" .Params.empty }}`, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}

	if got, _ := Render("plain", ctx); got != "plain" {
		t.Errorf("plain strings should pass through, got %q", got)
	}
}

// --- LoadDir Tests ---

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("b.json", `{"id": "beta", "tasks": [{"id": "x", "type": "echo"}]}`)
	write("a.json", `{"id": "alpha", "tasks": [{"id": "y", "type": "echo"}]}`)
	write("notes.txt", `ignored`)

	flows, err := LoadDir(dir, resolve)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flows) != 2 || flows[0].ID != "alpha" || flows[1].ID != "beta" {
		t.Errorf("unexpected flows: %v", flows)
	}
}

func TestLoadDir_InvalidFileNamed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"id": "f", "tasks": []}`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadDir(dir, resolve)
	if !errors.Is(err, ErrEmptyTasks) {
		t.Fatalf("expected ErrEmptyTasks, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken.json") {
		t.Errorf("error should name the file, got %v", err)
	}
}

func TestTriggerNames(t *testing.T) {
	names := TriggerNames()
	if len(names) != 6 || names[0] != "all_failed" {
		t.Errorf("unexpected trigger names: %v", names)
	}
}

