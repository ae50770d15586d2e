package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Cascade/internal/bus"
	"github.com/shaiso/Cascade/internal/catalog"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/executor"
	"github.com/shaiso/Cascade/internal/orchestrator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

// newTestServer собирает API поверх реального оркестратора с одним
// definition "pipeline" (единственный шаг "a" с noop-executor'ом).
func newTestServer(t *testing.T) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()

	def := &domain.Definition{
		ID:   "pipeline",
		Name: "Test pipeline",
		Steps: []domain.StepSpec{
			{ID: "a", Name: "Step A"},
		},
	}

	cat, err := catalog.New([]*domain.Definition{def})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	registry := executor.NewRegistry()
	registry.Bind("a", func(ctx context.Context, step *domain.StepSpec, rc *executor.RunContext) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})

	orch := orchestrator.New(orchestrator.Config{
		Definitions: cat,
		Registry:    registry,
		BackoffBase: time.Millisecond,
		Logger:      testLogger(),
	})

	handler := NewHandler(Config{
		Orchestrator: orch,
		Catalog:      cat,
		Logger:       testLogger(),
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, orch
}

// waitFinished блокируется до терминального события run.
func waitFinished(t *testing.T, b *bus.Bus) func() {
	t.Helper()

	done := make(chan struct{})
	var once sync.Once
	handler := func(e *bus.Event) error {
		once.Do(func() { close(done) })
		return nil
	}
	b.Subscribe(bus.EventWorkflowCompleted, handler)
	b.Subscribe(bus.EventWorkflowFailed, handler)
	b.Subscribe(bus.EventWorkflowCancelled, handler)

	return func() {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("run did not finish in time")
		}
	}
}

func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestListDefinitions(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/definitions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var defs []DefinitionSummary
	decodeData(t, resp, &defs)
	if len(defs) != 1 || defs[0].ID != "pipeline" || defs[0].Steps != 1 {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
}

func TestGetDefinition_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/definitions/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStartRun_AndStatus(t *testing.T) {
	srv, orch := newTestServer(t)
	wait := waitFinished(t, orch.Bus())

	body := bytes.NewBufferString(`{"inputs": {"env": "prod"}}`)
	resp, err := http.Post(srv.URL+"/api/v1/definitions/pipeline/runs", "application/json", body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var started StartRunResponse
	decodeData(t, resp, &started)
	if started.DefinitionID != "pipeline" {
		t.Fatalf("unexpected response: %+v", started)
	}

	wait()

	// После завершения — last run доступен
	lastResp, err := http.Get(srv.URL + "/api/v1/runs/last")
	if err != nil {
		t.Fatalf("GET last: %v", err)
	}
	defer lastResp.Body.Close()

	var last RunResponse
	decodeData(t, lastResp, &last)
	if last.ID != started.RunID || last.Status != string(domain.RunStatusCompleted) {
		t.Fatalf("unexpected last run: %+v", last)
	}
}

func TestStartRun_UnknownDefinition(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/definitions/missing/runs", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelRun_NoActive(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/runs/active/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestListEvents_AfterRun(t *testing.T) {
	srv, orch := newTestServer(t)
	wait := waitFinished(t, orch.Bus())

	if _, err := orch.StartRun("pipeline", nil); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	wait()

	resp, err := http.Get(srv.URL + "/api/v1/events?type=workflow.completed")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var events []EventResponse
	decodeData(t, resp, &events)
	if len(events) != 1 || events[0].Type != "workflow.completed" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestListRuns_ArchiveNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/runs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
