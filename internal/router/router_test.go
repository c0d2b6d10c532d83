package router

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"codecomfy/internal/domain"
	"codecomfy/internal/workspace"
)

type stubEngine struct {
	generate func(ctx context.Context, req *domain.JobRequest, preset *domain.Preset) domain.GenerationResult
	canceled atomic.Bool
}

func (s *stubEngine) Generate(ctx context.Context, req *domain.JobRequest, preset *domain.Preset) domain.GenerationResult {
	if s.generate == nil {
		return domain.GenerationResult{Success: true, Artifacts: []domain.Artifact{}}
	}
	return s.generate(ctx, req, preset)
}

func (s *stubEngine) Cancel() { s.canceled.Store(true) }

func successEngine(artifacts ...domain.Artifact) *stubEngine {
	return &stubEngine{generate: func(context.Context, *domain.JobRequest, *domain.Preset) domain.GenerationResult {
		return domain.GenerationResult{Success: true, Artifacts: artifacts}
	}}
}

func newTestRouter(t *testing.T, engine Engine) (*Router, *workspace.Workspace) {
	t.Helper()
	ws, err := workspace.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	rt := New(ws, engine, Options{Cooldown: 10 * time.Millisecond, Logger: zerolog.Nop()})
	return rt, ws
}

func imagePreset() *domain.Preset {
	return &domain.Preset{ID: "p1", Kind: domain.KindImage}
}

func imageInput(prompt string) domain.JobRequestInput {
	return domain.JobRequestInput{
		Kind:     domain.KindImage,
		PresetID: "p1",
		Inputs:   domain.GenerationInputs{Prompt: prompt},
	}
}

func readRunJSON(t *testing.T, ws *workspace.Workspace, runID, name string, v any) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ws.RunPath(runID), name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
}

func TestRunSuccessPersistsRecordsAndIndex(t *testing.T) {
	artifact := domain.Artifact{Type: domain.ArtifactImage, Path: ".codecomfy/outputs/a.png", SizeBytes: 9}
	rt, ws := newTestRouter(t, successEngine(artifact))

	var transitions []domain.JobStatus
	var runID string
	result, err := rt.Run(context.Background(), imageInput("a cat"), imagePreset(), func(run domain.JobRun) {
		transitions = append(transitions, run.Status)
		runID = run.RunID
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success || len(result.Artifacts) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	want := []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning, domain.JobStatusSucceeded}
	if len(transitions) != len(want) {
		t.Fatalf("transitions: got %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d: got %s, want %s", i, transitions[i], want[i])
		}
	}

	var request domain.JobRequest
	readRunJSON(t, ws, runID, "request.json", &request)
	if request.RunID != runID || request.Inputs.Prompt != "a cat" {
		t.Fatalf("unexpected request record: %+v", request)
	}

	var status domain.JobRun
	readRunJSON(t, ws, runID, "status.json", &status)
	if status.Status != domain.JobStatusSucceeded || status.StartedAt == nil || status.EndedAt == nil {
		t.Fatalf("unexpected final status: %+v", status)
	}

	var runArtifacts domain.RunArtifacts
	readRunJSON(t, ws, runID, "artifacts.json", &runArtifacts)
	if len(runArtifacts.Artifacts) != 1 {
		t.Fatalf("unexpected artifacts record: %+v", runArtifacts)
	}

	data, err := os.ReadFile(ws.IndexPath())
	if err != nil {
		t.Fatalf("index not written: %v", err)
	}
	var index domain.OutputIndex
	if err := json.Unmarshal(data, &index); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if index.SchemaVersion != domain.IndexSchemaVersion || index.WorkspaceKey != ws.Key() {
		t.Fatalf("unexpected index header: %+v", index)
	}
	if len(index.Items) != 1 || index.Items[0].ID != runID+"_0" {
		t.Fatalf("unexpected index items: %+v", index.Items)
	}
	if index.Items[0].Provenance == nil || index.Items[0].Provenance.Prompt != "a cat" {
		t.Fatalf("provenance not recorded: %+v", index.Items[0].Provenance)
	}
}

func TestRunRejectsWhileActive(t *testing.T) {
	release := make(chan struct{})
	engine := &stubEngine{generate: func(context.Context, *domain.JobRequest, *domain.Preset) domain.GenerationResult {
		<-release
		return domain.GenerationResult{Success: true, Artifacts: []domain.Artifact{}}
	}}
	rt, _ := newTestRouter(t, engine)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rt.Run(context.Background(), imageInput("one"), imagePreset(), func(run domain.JobRun) {
			if run.Status == domain.JobStatusRunning {
				select {
				case <-started:
				default:
					close(started)
				}
			}
		})
	}()
	<-started

	if _, err := rt.Run(context.Background(), imageInput("two"), imagePreset(), nil); !errors.Is(err, domain.ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}

	close(release)
	<-done
}

func TestRunEnforcesCooldown(t *testing.T) {
	rt, _ := newTestRouter(t, successEngine())

	if _, err := rt.Run(context.Background(), imageInput("one"), imagePreset(), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := rt.Run(context.Background(), imageInput("two"), imagePreset(), nil); !errors.Is(err, domain.ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	if _, err := rt.Run(context.Background(), imageInput("three"), imagePreset(), nil); err != nil {
		t.Fatalf("run after cooldown: %v", err)
	}
}

func TestRunEngineFailureMarksFailed(t *testing.T) {
	engine := &stubEngine{generate: func(context.Context, *domain.JobRequest, *domain.Preset) domain.GenerationResult {
		return domain.GenerationResult{Success: false, Error: "Network error: connection refused"}
	}}
	rt, ws := newTestRouter(t, engine)

	var runID string
	result, err := rt.Run(context.Background(), imageInput("p"), imagePreset(), func(run domain.JobRun) {
		runID = run.RunID
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatalf("engine failure should fail the run")
	}

	var status domain.JobRun
	readRunJSON(t, ws, runID, "status.json", &status)
	if status.Status != domain.JobStatusFailed || status.Error != "Network error: connection refused" {
		t.Fatalf("unexpected status record: %+v", status)
	}

	stderr, err := os.ReadFile(filepath.Join(ws.RunPath(runID), "stderr.log"))
	if err != nil {
		t.Fatalf("read stderr.log: %v", err)
	}
	if !strings.Contains(string(stderr), "connection refused") {
		t.Fatalf("error not appended to stderr.log: %q", stderr)
	}

	if _, err := os.Stat(ws.IndexPath()); !os.IsNotExist(err) {
		t.Fatalf("failed run must not touch the index")
	}
}

func TestRunCancellationReportsCanceled(t *testing.T) {
	var rt *Router
	engine := &stubEngine{}
	engine.generate = func(context.Context, *domain.JobRequest, *domain.Preset) domain.GenerationResult {
		rt.Cancel()
		return domain.GenerationResult{Success: false, Error: "Generation canceled."}
	}
	var ws *workspace.Workspace
	rt, ws = newTestRouter(t, engine)

	var runID string
	result, err := rt.Run(context.Background(), imageInput("p"), imagePreset(), func(run domain.JobRun) {
		runID = run.RunID
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatalf("canceled run should not succeed")
	}
	if !engine.canceled.Load() {
		t.Fatalf("cancel should forward to the engine")
	}

	var status domain.JobRun
	readRunJSON(t, ws, runID, "status.json", &status)
	if status.Status != domain.JobStatusCanceled {
		t.Fatalf("canceled run should report canceled, got %s", status.Status)
	}
}

func TestRunDerivesVideoFrameCount(t *testing.T) {
	cases := []struct {
		fps, duration float64
		want          int
	}{
		{24, 4, 96},
		{30, 3.5, 105},
	}
	for _, tc := range cases {
		var got *int
		engine := &stubEngine{generate: func(_ context.Context, req *domain.JobRequest, _ *domain.Preset) domain.GenerationResult {
			got = req.Inputs.FrameCount
			// Fail before assembly so the test has no ffmpeg dependency.
			return domain.GenerationResult{Success: false, Error: "stop"}
		}}
		rt, _ := newTestRouter(t, engine)

		fps, duration := tc.fps, tc.duration
		input := domain.JobRequestInput{
			Kind:     domain.KindVideo,
			PresetID: "p1",
			Inputs: domain.GenerationInputs{
				Prompt:          "waves",
				FPS:             &fps,
				DurationSeconds: &duration,
			},
		}

		if _, err := rt.Run(context.Background(), input, &domain.Preset{ID: "p1", Kind: domain.KindVideo}, nil); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got == nil || *got != tc.want {
			t.Fatalf("fps=%g duration=%g: frame count %v, want %d", tc.fps, tc.duration, got, tc.want)
		}
	}
}

func TestRunRequestRecordIsImmutable(t *testing.T) {
	// The engine mutating its request copy must not affect the persisted record.
	engine := &stubEngine{generate: func(_ context.Context, req *domain.JobRequest, _ *domain.Preset) domain.GenerationResult {
		req.Inputs.Prompt = "mutated"
		return domain.GenerationResult{Success: true, Artifacts: []domain.Artifact{}}
	}}
	rt, ws := newTestRouter(t, engine)

	var runID string
	if _, err := rt.Run(context.Background(), imageInput("original"), imagePreset(), func(run domain.JobRun) {
		runID = run.RunID
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var request domain.JobRequest
	readRunJSON(t, ws, runID, "request.json", &request)
	if request.Inputs.Prompt != "original" {
		t.Fatalf("persisted request mutated: %+v", request.Inputs)
	}
}

func TestIndexAccumulatesAcrossRuns(t *testing.T) {
	artifact := domain.Artifact{Type: domain.ArtifactImage, Path: ".codecomfy/outputs/a.png"}
	rt, ws := newTestRouter(t, successEngine(artifact))

	for i := 0; i < 2; i++ {
		if i > 0 {
			time.Sleep(15 * time.Millisecond)
		}
		if _, err := rt.Run(context.Background(), imageInput("p"), imagePreset(), nil); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	data, err := os.ReadFile(ws.IndexPath())
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var index domain.OutputIndex
	if err := json.Unmarshal(data, &index); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if len(index.Items) != 2 {
		t.Fatalf("expected 2 index entries, got %d", len(index.Items))
	}
	if index.Items[0].ID == index.Items[1].ID {
		t.Fatalf("index IDs must be unique: %q", index.Items[0].ID)
	}
}
