package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"codecomfy/internal/domain"
	"codecomfy/internal/presets"
	"codecomfy/internal/pruning"
	"codecomfy/internal/router"
	"codecomfy/internal/workspace"
)

type blockingEngine struct {
	block   chan struct{}
	outputs []domain.Artifact
}

func (e *blockingEngine) Generate(ctx context.Context, req *domain.JobRequest, preset *domain.Preset) domain.GenerationResult {
	if e.block != nil {
		<-e.block
	}
	return domain.GenerationResult{Success: true, Artifacts: e.outputs}
}

func (e *blockingEngine) Cancel() {}

func newTestApp(t *testing.T, engine router.Engine) *App {
	t.Helper()
	ws, err := workspace.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	if err := ws.EnsureLayout(); err != nil {
		t.Fatalf("ensure layout: %v", err)
	}
	registry, err := presets.NewRegistry(zerolog.Nop())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	rt := router.New(ws, engine, router.Options{Cooldown: time.Millisecond, Logger: zerolog.Nop()})
	return NewApp(rt, registry, ws, zerolog.Nop(), pruning.Options{Logger: zerolog.Nop()})
}

func postGenerate(t *testing.T, app *App, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", "/v1/generate", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	app.Generate(rr, req)
	return rr
}

func waitForStatus(t *testing.T, app *App, runID string, want domain.JobStatus) domain.JobRun {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(filepath.Join(app.WS.RunPath(runID), "status.json"))
		if err == nil {
			var run domain.JobRun
			if json.Unmarshal(data, &run) == nil && run.Status == want {
				return run
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", runID, want)
	return domain.JobRun{}
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, &blockingEngine{})
	rr := httptest.NewRecorder()
	app.Health(rr, httptest.NewRequest("GET", "/v1/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}

func TestGenerateAcceptsAndRuns(t *testing.T) {
	engine := &blockingEngine{outputs: []domain.Artifact{
		{Type: domain.ArtifactImage, Path: ".codecomfy/outputs/a.png", SizeBytes: 4},
	}}
	app := newTestApp(t, engine)

	rr := postGenerate(t, app, map[string]any{"preset_id": "hq-image", "prompt": "a cat"})
	if rr.Code != 202 {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		RunID  string `json:"run_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID == "" || resp.Status != "queued" {
		t.Fatalf("unexpected response %+v", resp)
	}

	run := waitForStatus(t, app, resp.RunID, domain.JobStatusSucceeded)
	if run.StartedAt == nil || run.EndedAt == nil {
		t.Fatalf("timestamps missing from final status: %+v", run)
	}
}

func TestGenerateConflictWhileActive(t *testing.T) {
	engine := &blockingEngine{block: make(chan struct{})}
	app := newTestApp(t, engine)

	first := postGenerate(t, app, map[string]any{"preset_id": "hq-image", "prompt": "one"})
	if first.Code != 202 {
		t.Fatalf("first submit: %d", first.Code)
	}

	second := postGenerate(t, app, map[string]any{"preset_id": "hq-image", "prompt": "two"})
	if second.Code != 409 {
		t.Fatalf("concurrent submit should be 409, got %d", second.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(second.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Error.Code != "run_active" {
		t.Fatalf("unexpected error code %q", payload.Error.Code)
	}

	close(engine.block)
}

func TestGenerateValidation(t *testing.T) {
	app := newTestApp(t, &blockingEngine{})

	cases := []struct {
		name    string
		payload map[string]any
		want    int
	}{
		{"missing preset", map[string]any{"prompt": "x"}, 400},
		{"unknown preset", map[string]any{"preset_id": "nope", "prompt": "x"}, 404},
		{"empty prompt", map[string]any{"preset_id": "hq-image", "prompt": "  "}, 400},
		{"bad kind", map[string]any{"preset_id": "hq-image", "prompt": "x", "kind": "audio"}, 400},
		{"seed out of range", map[string]any{"preset_id": "hq-image", "prompt": "x", "seed": -1}, 400},
		{"video over limits", map[string]any{"preset_id": "hq-video", "prompt": "x", "duration_seconds": 20}, 400},
		{"fps over limit", map[string]any{"preset_id": "hq-video", "prompt": "x", "fps": 61}, 400},
	}
	for _, tc := range cases {
		if rr := postGenerate(t, app, tc.payload); rr.Code != tc.want {
			t.Fatalf("%s: got %d, want %d (%s)", tc.name, rr.Code, tc.want, rr.Body.String())
		}
	}
}

func TestGetRunNotFound(t *testing.T) {
	app := newTestApp(t, &blockingEngine{})

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("run_id", "missing")
	req := httptest.NewRequest("GET", "/v1/runs/missing", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()
	app.GetRun(rr, req)
	if rr.Code != 404 {
		t.Fatalf("unknown run should be 404, got %d", rr.Code)
	}
}

func TestGetRunRejectsTraversal(t *testing.T) {
	app := newTestApp(t, &blockingEngine{})

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("run_id", "../outputs")
	req := httptest.NewRequest("GET", "/v1/runs/x", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()
	app.GetRun(rr, req)
	if rr.Code != 400 {
		t.Fatalf("traversal run_id should be 400, got %d", rr.Code)
	}
}

func TestIndexEmptyWorkspace(t *testing.T) {
	app := newTestApp(t, &blockingEngine{})

	rr := httptest.NewRecorder()
	app.Index(rr, httptest.NewRequest("GET", "/v1/index", nil))
	if rr.Code != 200 {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var index domain.OutputIndex
	if err := json.NewDecoder(rr.Body).Decode(&index); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if index.SchemaVersion != domain.IndexSchemaVersion || len(index.Items) != 0 {
		t.Fatalf("unexpected empty index: %+v", index)
	}
}

func TestIndexArchiveEmptyIs404(t *testing.T) {
	app := newTestApp(t, &blockingEngine{})
	rr := httptest.NewRecorder()
	app.IndexArchive(rr, httptest.NewRequest("GET", "/v1/index/archive", nil))
	if rr.Code != 404 {
		t.Fatalf("empty archive should be 404, got %d", rr.Code)
	}
}

func TestIndexArchiveStreamsZip(t *testing.T) {
	engine := &blockingEngine{outputs: []domain.Artifact{
		{Type: domain.ArtifactImage, Path: ".codecomfy/outputs/a.png", SizeBytes: 4},
	}}
	app := newTestApp(t, engine)

	// Put the artifact on disk so the archive has content.
	if err := os.WriteFile(filepath.Join(app.WS.OutputsPath(), "a.png"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	rr := postGenerate(t, app, map[string]any{"preset_id": "hq-image", "prompt": "x"})
	if rr.Code != 202 {
		t.Fatalf("submit: %d", rr.Code)
	}
	var resp struct {
		RunID string `json:"run_id"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	waitForStatus(t, app, resp.RunID, domain.JobStatusSucceeded)

	arr := httptest.NewRecorder()
	app.IndexArchive(arr, httptest.NewRequest("GET", "/v1/index/archive", nil))
	if arr.Code != 200 {
		t.Fatalf("archive status %d", arr.Code)
	}
	if ct := arr.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if arr.Body.Len() == 0 {
		t.Fatalf("archive body empty")
	}
}

func TestPruneNow(t *testing.T) {
	app := newTestApp(t, &blockingEngine{})

	rr := httptest.NewRecorder()
	app.PruneNow(rr, httptest.NewRequest("POST", "/v1/prune", nil))
	if rr.Code != 200 {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var result pruning.Result
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.PrunedRuns != 0 {
		t.Fatalf("empty workspace prune should be a no-op, got %+v", result)
	}
}

func TestListPresets(t *testing.T) {
	app := newTestApp(t, &blockingEngine{})
	rr := httptest.NewRecorder()
	app.ListPresets(rr, httptest.NewRequest("GET", "/v1/presets", nil))
	if rr.Code != 200 {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var payload struct {
		Items []domain.Preset `json:"items"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) < 2 {
		t.Fatalf("expected bundled presets, got %d", len(payload.Items))
	}
}
