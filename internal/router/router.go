// Package router owns the run lifecycle: workspace layout, status and log
// persistence, video assembly, and the atomic output index update.
package router

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codecomfy/internal/domain"
	"codecomfy/internal/ffmpeg"
	"codecomfy/internal/infra"
	"codecomfy/internal/workspace"
)

// Built-in fallbacks when neither the caller nor the preset supplies video
// timing parameters.
const (
	defaultFPS             = 24.0
	defaultDurationSeconds = 4.0
)

// DefaultCooldown is the minimum pause between the end of one run and the
// start of the next.
const DefaultCooldown = 2 * time.Second

// Engine is the generation backend the router drives. The ComfyUI engine is
// the production implementation; tests substitute their own.
type Engine interface {
	Generate(ctx context.Context, req *domain.JobRequest, preset *domain.Preset) domain.GenerationResult
	Cancel()
}

// ProgressFunc observes every run state transition. It receives an immutable
// snapshot, invoked synchronously.
type ProgressFunc func(run domain.JobRun)

// Options tunes a Router.
type Options struct {
	// FFmpegPath is the explicitly configured encoder path; empty means
	// "resolve automatically".
	FFmpegPath string
	// Cooldown overrides DefaultCooldown when positive.
	Cooldown time.Duration
	Logger   infra.Logger
}

// Router runs at most one generation job at a time per workspace.
type Router struct {
	ws     *workspace.Workspace
	engine Engine
	opts   Options
	logger infra.Logger

	mu              sync.Mutex
	current         *domain.JobRun
	cancelRequested bool
	lastEnded       time.Time
}

// New constructs a Router over a workspace and an engine.
func New(ws *workspace.Workspace, engine Engine, opts Options) *Router {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	return &Router{ws: ws, engine: engine, opts: opts, logger: opts.Logger}
}

// CurrentRun returns a snapshot of the live run, or nil when idle.
func (r *Router) CurrentRun() *domain.JobRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	snapshot := *r.current
	return &snapshot
}

// Cancel is a no-op when no run is active; otherwise it flags the run as
// canceled and forwards to the engine's best-effort cancel.
func (r *Router) Cancel() {
	r.mu.Lock()
	active := r.current != nil
	if active {
		r.cancelRequested = true
	}
	r.mu.Unlock()

	if active {
		r.engine.Cancel()
	}
}

// Run executes one generation job end to end. The returned error is non-nil
// only for pre-start rejections (domain.ErrRunActive, domain.ErrCooldown);
// every failure after the run record exists is reported inside the result
// and in the persisted status.
func (r *Router) Run(ctx context.Context, input domain.JobRequestInput, preset *domain.Preset, onProgress ProgressFunc) (domain.GenerationResult, error) {
	runID := newRunID()

	r.mu.Lock()
	if r.current != nil {
		r.mu.Unlock()
		return domain.GenerationResult{}, domain.ErrRunActive
	}
	if !r.lastEnded.IsZero() && time.Since(r.lastEnded) < r.opts.Cooldown {
		r.mu.Unlock()
		return domain.GenerationResult{}, domain.ErrCooldown
	}
	r.cancelRequested = false
	r.current = &domain.JobRun{RunID: runID, Status: domain.JobStatusQueued}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.current = nil
		r.cancelRequested = false
		r.lastEnded = time.Now()
		r.mu.Unlock()
	}()

	inputs := input.Inputs.Clone()
	if input.Kind == domain.KindVideo {
		fps := resolveFloat(inputs.FPS, preset.Defaults.FPS, defaultFPS)
		duration := resolveFloat(inputs.DurationSeconds, preset.Defaults.DurationSeconds, defaultDurationSeconds)
		frameCount := int(math.Ceil(fps * duration))
		inputs.FPS = &fps
		inputs.DurationSeconds = &duration
		inputs.FrameCount = &frameCount
	}

	request := domain.JobRequest{
		Kind:          input.Kind,
		PresetID:      input.PresetID,
		Inputs:        inputs,
		RunID:         runID,
		WorkspacePath: r.ws.Root(),
		CreatedAt:     time.Now().UTC(),
	}

	if err := r.ws.EnsureLayout(); err != nil {
		return r.abort(err)
	}
	runDir := r.ws.RunPath(runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return r.abort(fmt.Errorf("create run directory: %w", err))
	}
	if err := r.ws.WriteJSON(filepath.Join(runDir, "request.json"), request); err != nil {
		return r.abort(err)
	}

	r.writeStatus(runDir)
	r.notify(onProgress)

	now := time.Now().UTC()
	r.transition(func(run *domain.JobRun) {
		run.Status = domain.JobStatusRunning
		run.StartedAt = &now
	})
	r.writeStatus(runDir)
	r.notify(onProgress)

	for _, name := range []string{"stdout.log", "stderr.log"} {
		if err := os.WriteFile(filepath.Join(runDir, name), nil, 0o644); err != nil {
			return r.handleFailure(runDir, fmt.Sprintf("create %s: %v", name, err), onProgress), nil
		}
	}

	result := r.engine.Generate(ctx, &request, preset)
	if !result.Success {
		return r.handleFailure(runDir, result.Error, onProgress), nil
	}

	finalArtifacts := result.Artifacts
	if request.Kind == domain.KindVideo {
		videoArtifacts, errMsg := r.assembleVideo(ctx, &request)
		if errMsg != "" {
			return r.handleFailure(runDir, errMsg, onProgress), nil
		}
		finalArtifacts = videoArtifacts
	}

	runArtifacts := domain.RunArtifacts{RunID: runID, Artifacts: finalArtifacts}
	if err := r.ws.WriteJSON(filepath.Join(runDir, "artifacts.json"), runArtifacts); err != nil {
		return r.handleFailure(runDir, err.Error(), onProgress), nil
	}

	if err := r.updateIndex(runID, finalArtifacts, &request); err != nil {
		return r.handleFailure(runDir, fmt.Sprintf("update output index: %v", err), onProgress), nil
	}

	ended := time.Now().UTC()
	r.transition(func(run *domain.JobRun) {
		run.Status = domain.JobStatusSucceeded
		run.EndedAt = &ended
	})
	r.writeStatus(runDir)
	r.notify(onProgress)

	r.logger.Info().Str("run_id", runID).Int("artifacts", len(finalArtifacts)).Msg("router: run succeeded")
	return domain.GenerationResult{Success: true, Artifacts: finalArtifacts}, nil
}

// assembleVideo turns the run's collected frames into a single MP4 plus
// thumbnail. It returns the final artifact list, or a non-empty error
// message on failure (partial output already cleaned up).
func (r *Router) assembleVideo(ctx context.Context, request *domain.JobRequest) ([]domain.Artifact, string) {
	ffmpegPath := ffmpeg.Find(r.opts.FFmpegPath)
	if ffmpegPath == "" {
		return nil, "FFmpeg not found. Install FFmpeg or set the FFMPEG_PATH setting."
	}

	if r.isCancelRequested() {
		return nil, "Generation canceled."
	}

	framesDir := workspace.Frames(request.WorkspacePath, request.RunID)
	outputDir := r.ws.OutputsPath()
	videoFilename := fmt.Sprintf("%d_%s.mp4", time.Now().UnixMilli(), shortRandom())
	videoPath := filepath.Join(outputDir, videoFilename)
	thumbPath := filepath.Join(outputDir, strings.TrimSuffix(videoFilename, ".mp4")+".thumb.png")

	fps := defaultFPS
	if request.Inputs.FPS != nil {
		fps = *request.Inputs.FPS
	}

	result, err := ffmpeg.Assemble(ctx, ffmpeg.Options{
		FFmpegPath:    ffmpegPath,
		FramesDir:     framesDir,
		OutputPath:    videoPath,
		FPS:           fps,
		ThumbnailPath: thumbPath,
	})
	if err != nil {
		return nil, err.Error()
	}

	// A fully-encoded video that arrived after cancellation is discarded.
	if r.isCancelRequested() {
		ffmpeg.CleanupPartial(videoPath, thumbPath)
		return nil, "Generation canceled."
	}

	info, err := os.Stat(videoPath)
	if err != nil {
		return nil, fmt.Sprintf("stat assembled video: %v", err)
	}

	relVideo, err := r.ws.Rel(videoPath)
	if err != nil {
		return nil, err.Error()
	}
	meta := &domain.ArtifactMeta{
		DurationSeconds: resolveFloat(request.Inputs.DurationSeconds, nil, defaultDurationSeconds),
		FPS:             fps,
		MIMEType:        "video/mp4",
	}
	if result.ThumbnailPath != "" {
		if relThumb, err := r.ws.Rel(result.ThumbnailPath); err == nil {
			meta.ThumbnailPath = relThumb
		}
	}

	artifact := domain.Artifact{
		Type:       domain.ArtifactVideo,
		Path:       relVideo,
		SizeBytes:  info.Size(),
		Meta:       meta,
		Provenance: &domain.ArtifactProvenance{Seed: request.Inputs.Seed},
	}
	return []domain.Artifact{artifact}, ""
}

// handleFailure persists the terminal failed/canceled state and appends the
// error to the run's stderr log. Cancellation always reports as canceled,
// never failed, even when the underlying symptom looks like a natural
// failure.
func (r *Router) handleFailure(runDir, errMsg string, onProgress ProgressFunc) domain.GenerationResult {
	status := domain.JobStatusFailed
	if r.isCancelRequested() {
		status = domain.JobStatusCanceled
	}
	ended := time.Now().UTC()
	r.transition(func(run *domain.JobRun) {
		run.Status = status
		run.Error = errMsg
		run.EndedAt = &ended
	})
	r.writeStatus(runDir)
	r.notify(onProgress)

	if errMsg != "" {
		stderrPath := filepath.Join(runDir, "stderr.log")
		if f, err := os.OpenFile(stderrPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			_, _ = f.WriteString(errMsg + "\n")
			_ = f.Close()
		}
	}

	r.logger.Warn().Str("status", string(status)).Str("error", errMsg).Msg("router: run did not succeed")
	return domain.GenerationResult{Success: false, Artifacts: []domain.Artifact{}, Error: errMsg}
}

// abort handles failures before the run record exists on disk.
func (r *Router) abort(err error) (domain.GenerationResult, error) {
	r.logger.Error().Err(err).Msg("router: run setup failed")
	return domain.GenerationResult{Success: false, Artifacts: []domain.Artifact{}, Error: err.Error()}, nil
}

func (r *Router) transition(mutate func(*domain.JobRun)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	next := *r.current
	mutate(&next)
	r.current = &next
}

func (r *Router) writeStatus(runDir string) {
	r.mu.Lock()
	snapshot := *r.current
	r.mu.Unlock()
	if err := r.ws.WriteJSON(filepath.Join(runDir, "status.json"), snapshot); err != nil {
		r.logger.Warn().Err(err).Msg("router: write status failed")
	}
}

func (r *Router) notify(onProgress ProgressFunc) {
	if onProgress == nil {
		return
	}
	r.mu.Lock()
	snapshot := *r.current
	r.mu.Unlock()
	onProgress(snapshot)
}

func (r *Router) isCancelRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelRequested
}

func resolveFloat(caller, preset *float64, fallback float64) float64 {
	if caller != nil {
		return *caller
	}
	if preset != nil {
		return *preset
	}
	return fallback
}

// newRunID builds a sortable run identifier: millisecond timestamp in base36
// plus a random suffix.
func newRunID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "_" + shortRandom()
}

func shortRandom() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
