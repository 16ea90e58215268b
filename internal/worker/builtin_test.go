package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaiso/Taskrunner/internal/domain"
)

// --- HTTPBody Tests ---

func TestHTTPBody_GET_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("X-Custom", "test-value")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"result": "ok"})
	}))
	defer server.Close()

	result, err := HTTPBody(context.Background(), domain.Params{
		"method": "GET",
		"url":    server.URL,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outputs, ok := result.Value().(map[string]any)
	if !ok {
		t.Fatalf("value should be map, got %T", result.Value())
	}
	if outputs["status_code"] != http.StatusOK {
		t.Errorf("expected status 200, got %v", outputs["status_code"])
	}

	headers, ok := outputs["headers"].(map[string]string)
	if !ok {
		t.Fatal("headers should be map[string]string")
	}
	if headers["X-Custom"] != "test-value" {
		t.Errorf("expected X-Custom header, got %v", headers["X-Custom"])
	}

	// body должен быть распарсен как JSON
	body, ok := outputs["body"].(map[string]any)
	if !ok {
		t.Fatalf("body should be map, got %T", outputs["body"])
	}
	if body["result"] != "ok" {
		t.Errorf("expected result=ok, got %v", body["result"])
	}
}

func TestHTTPBody_POST_WithBody(t *testing.T) {
	var receivedBody map[string]any
	var receivedContentType, receivedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		receivedContentType = r.Header.Get("Content-Type")
		receivedAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&receivedBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	_, err := HTTPBody(context.Background(), domain.Params{
		"method": "POST",
		"url":    server.URL,
		"body":   map[string]any{"name": "test"},
		"headers": map[string]any{
			"Authorization": "Bearer token123",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receivedBody["name"] != "test" {
		t.Errorf("server should receive body, got %v", receivedBody)
	}
	if receivedContentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", receivedContentType)
	}
	if receivedAuth != "Bearer token123" {
		t.Errorf("expected Authorization header, got %q", receivedAuth)
	}
}

func TestHTTPBody_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "internal"}`))
	}))
	defer server.Close()

	_, err := HTTPBody(context.Background(), domain.Params{"url": server.URL})
	if !errors.Is(err, ErrHTTPStatus) {
		t.Errorf("expected ErrHTTPStatus, got %v", err)
	}
}

func TestHTTPBody_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := HTTPBody(context.Background(), domain.Params{
		"url":         server.URL,
		"timeout_sec": 0.1, // 100ms — сервер не успеет ответить
	})
	if !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest for timeout, got %v", err)
	}
}

func TestHTTPBody_MissingURL(t *testing.T) {
	_, err := HTTPBody(context.Background(), domain.Params{"method": "GET"})
	if !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest, got %v", err)
	}
}

func TestHTTPBody_DefaultMethod(t *testing.T) {
	var receivedMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if _, err := HTTPBody(context.Background(), domain.Params{"url": server.URL}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedMethod != http.MethodGet {
		t.Errorf("expected GET by default, got %s", receivedMethod)
	}
}

// --- DelayBody Tests ---

func TestDelayBody_Success(t *testing.T) {
	start := time.Now()
	result, err := DelayBody(context.Background(), domain.Params{"duration_sec": 0.05})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected at least 50ms delay, got %v", elapsed)
	}

	outputs := result.Value().(map[string]any)
	if outputs["delayed_sec"] != 0.05 {
		t.Errorf("expected delayed_sec=0.05, got %v", outputs["delayed_sec"])
	}
}

func TestDelayBody_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := DelayBody(ctx, domain.Params{"duration_sec": 10})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

// --- TransformBody Tests ---

func TestTransformBody_DropsEngineKeys(t *testing.T) {
	result, err := TransformBody(context.Background(), domain.Params{
		"greeting":            "hello",
		domain.ParamTaskID:    "transform",
		domain.ParamRunNumber: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outputs := result.Value().(domain.Params)
	if outputs["greeting"] != "hello" {
		t.Errorf("expected greeting to pass through, got %v", outputs)
	}
	if _, ok := outputs[domain.ParamTaskID]; ok {
		t.Error("engine keys should be removed")
	}
}

func TestTransformBody_NilParams(t *testing.T) {
	result, err := TransformBody(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Value().(domain.Params) == nil {
		t.Error("value should be an empty map, not nil")
	}
}

// --- ExponentialBackoff Tests ---

func TestExponentialBackoff(t *testing.T) {
	delay := ExponentialBackoff(time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := delay.For(tt.attempt, 10); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestExponentialBackoff_ZeroValues(t *testing.T) {
	delay := ExponentialBackoff(0, 0)
	if got := delay.For(1, 3); got != defaultInitialDelay {
		t.Errorf("expected default initial delay, got %v", got)
	}
	if got := delay.For(20, 3); got != defaultMaxDelay {
		t.Errorf("expected default max delay, got %v", got)
	}
}

// --- Registry Tests ---

func TestNewRegistry_Builtins(t *testing.T) {
	r := NewRegistry()

	for _, id := range []string{"http", "delay", "transform"} {
		if _, err := r.Task(id); err != nil {
			t.Errorf("builtin %s should be registered: %v", id, err)
		}
	}
}

func TestRegistry_Unknown(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Task("nope"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask, got %v", err)
	}
	if _, err := r.Flow("nope"); !errors.Is(err, ErrUnknownFlow) {
		t.Errorf("expected ErrUnknownFlow, got %v", err)
	}
}

func TestRegistry_RegisterFlowRegistersTasks(t *testing.T) {
	r := NewRegistry()
	f := &domain.Flow{ID: "etl", Tasks: []*domain.Task{{ID: "extract"}, {ID: "load"}}}

	r.RegisterFlow(f)

	if got, err := r.Flow("etl"); err != nil || got != f {
		t.Errorf("flow not registered: %v", err)
	}
	if _, err := r.Task("load"); err != nil {
		t.Errorf("flow tasks should be registered: %v", err)
	}
}

func TestRegistry_LoadFlowSpecs(t *testing.T) {
	dir := t.TempDir()
	spec := `{"id": "pause", "tasks": [
		{"id": "wait", "type": "delay", "params": {"duration_sec": 0}},
		{"id": "shape", "type": "transform", "depends_on": ["wait"]}
	]}`
	if err := os.WriteFile(filepath.Join(dir, "pause.json"), []byte(spec), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	n, err := r.LoadFlowSpecs(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 flow, got %d", n)
	}

	f, err := r.Flow("pause")
	if err != nil {
		t.Fatalf("flow not registered: %v", err)
	}
	if len(f.Tasks) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(f.Tasks))
	}
	if _, err := r.Task("shape"); err != nil {
		t.Errorf("spec tasks should be registered: %v", err)
	}
}

func TestRegistry_LoadFlowSpecs_UnknownType(t *testing.T) {
	dir := t.TempDir()
	spec := `{"id": "bad", "tasks": [{"id": "a", "type": "ftp"}]}`
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte(spec), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewRegistry().LoadFlowSpecs(dir); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask in chain, got %v", err)
	}
}
