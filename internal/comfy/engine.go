package comfy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codecomfy/internal/backoff"
	"codecomfy/internal/domain"
	"codecomfy/internal/infra"
	"codecomfy/internal/workspace"
)

// Poll deadlines. Video generation can take much longer than a single image.
const (
	imagePollDeadline = 5 * time.Minute
	videoPollDeadline = 10 * time.Minute
)

// Engine executes one generation job at a time against a ComfyUI server:
// build workflow → submit → poll history → download outputs.
//
// Image jobs write their outputs straight into the workspace outputs folder.
// Video jobs collect every frame into the run's frames folder for the
// assembly stage; the router turns those into a single video artifact.
type Engine struct {
	client *Client
	logger infra.Logger

	mu              sync.Mutex
	currentPromptID string
	canceled        bool
}

// NewEngine builds an Engine on top of a ComfyUI client.
func NewEngine(client *Client, logger infra.Logger) *Engine {
	return &Engine{client: client, logger: logger}
}

// IsAvailable reports whether the server answers its liveness probe.
func (e *Engine) IsAvailable(ctx context.Context) bool {
	return e.client.IsAvailable(ctx)
}

// Cancel flags the in-flight job as canceled and asks the server to
// interrupt it. The interrupt call is best effort; the poll loop's own
// cancellation check is the authoritative stop signal.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.canceled = true
	active := e.currentPromptID != ""
	e.mu.Unlock()

	if active {
		ctx, cancel := context.WithTimeout(context.Background(), availabilityTimeout)
		defer cancel()
		if err := e.client.Interrupt(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("engine: interrupt request failed")
		}
	}
}

// Generate runs one full job. Expected failures come back inside the result;
// no error escapes raw.
func (e *Engine) Generate(ctx context.Context, req *domain.JobRequest, preset *domain.Preset) domain.GenerationResult {
	e.mu.Lock()
	e.canceled = false
	e.currentPromptID = ""
	e.mu.Unlock()

	if !e.IsAvailable(ctx) {
		return failure(fmt.Sprintf(
			"ComfyUI server not reachable at %s. Start ComfyUI or update the COMFYUI_URL setting.",
			e.client.BaseURL()))
	}

	workflow, err := BuildWorkflow(preset, req)
	if err != nil {
		if errors.Is(err, domain.ErrNoWorkflow) {
			return failure("Preset has no workflow defined.")
		}
		return failure(Categorize(err))
	}

	ack, err := e.client.SubmitPrompt(ctx, workflow)
	if err != nil {
		return failure(Categorize(err))
	}
	e.logger.Info().Str("run_id", req.RunID).Str("prompt_id", ack.PromptID).Msg("engine: prompt submitted")

	e.mu.Lock()
	e.currentPromptID = ack.PromptID
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.currentPromptID = ""
		e.mu.Unlock()
	}()

	deadline := imagePollDeadline
	if req.Kind == domain.KindVideo {
		deadline = videoPollDeadline
	}

	entry, err := e.pollForCompletion(ctx, ack.PromptID, deadline)
	if err != nil {
		return failure(Categorize(err))
	}
	if entry == nil {
		if e.isCanceled() {
			return failure("Generation canceled.")
		}
		return failure(fmt.Sprintf("Generation timed out after %s.", deadline))
	}

	var artifacts []domain.Artifact
	if req.Kind == domain.KindVideo {
		artifacts, err = e.collectFrames(ctx, entry, req)
	} else {
		artifacts, err = e.collectImages(ctx, entry, req)
	}
	if err != nil {
		return failure(Categorize(err))
	}
	if len(artifacts) == 0 {
		return failure("No outputs received from ComfyUI.")
	}

	return domain.GenerationResult{Success: true, Artifacts: artifacts}
}

// pollForCompletion polls /history/{id} until the entry reports completed,
// the deadline passes, or the job is canceled. Transport errors lengthen the
// backoff; a present-but-incomplete entry resets it (the server is alive and
// tracking the job); shape errors abort the poll.
func (e *Engine) pollForCompletion(ctx context.Context, promptID string, deadline time.Duration) (*HistoryEntry, error) {
	start := time.Now()
	timer := backoff.NewTimer(backoff.Options{})

	for time.Since(start) < deadline {
		if e.isCanceled() {
			return nil, nil
		}

		entry, err := e.client.History(ctx, promptID)
		switch {
		case err != nil:
			var respErr *ResponseError
			if errors.As(err, &respErr) {
				return nil, fmt.Errorf("comfyui history response invalid: %w (raw: %s)", err, respErr.RawBody)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Debug().Err(err).Int("attempt", timer.Attempt()).Msg("engine: history poll failed")
		case entry != nil && entry.Status.Completed:
			return entry, nil
		case entry != nil:
			// Progress detected; poll fast again.
			timer.Reset()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timer.Next()):
		}
	}

	return nil, nil
}

// collectImages downloads each output image into the workspace outputs
// folder under a collision-resistant name. Individual download failures
// skip that image rather than failing the run.
func (e *Engine) collectImages(ctx context.Context, entry *HistoryEntry, req *domain.JobRequest) ([]domain.Artifact, error) {
	outputDir := workspace.Outputs(req.WorkspacePath)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create outputs directory: %w", err)
	}

	var artifacts []domain.Artifact
	for _, nodeID := range sortedNodeIDs(entry.Outputs) {
		for _, img := range entry.Outputs[nodeID].Images {
			data, err := e.client.Download(ctx, img.Filename, img.Subfolder, img.Type)
			if err != nil {
				e.logger.Warn().Err(err).Str("filename", img.Filename).Msg("engine: image download failed")
				continue
			}

			ext := filepath.Ext(img.Filename)
			if ext == "" {
				ext = ".png"
			}
			name := uniqueName(ext)
			outputPath := filepath.Join(outputDir, name)
			if err := os.WriteFile(outputPath, data, 0o644); err != nil {
				return nil, fmt.Errorf("write output %s: %w", name, err)
			}

			rel, err := workspace.Rel(req.WorkspacePath, outputPath)
			if err != nil {
				return nil, err
			}
			artifacts = append(artifacts, domain.Artifact{
				Type:       domain.ArtifactImage,
				Path:       rel,
				SizeBytes:  int64(len(data)),
				Provenance: &domain.ArtifactProvenance{Seed: req.Inputs.Seed},
			})
		}
	}
	return artifacts, nil
}

// collectFrames downloads every output image into the run's frames folder.
// Frames from all output nodes are stably sorted by filename first: the
// server-assigned ordering is not fetch-order-stable, the filename carries
// the true frame order. Renumbering happens later in the assembly stage.
func (e *Engine) collectFrames(ctx context.Context, entry *HistoryEntry, req *domain.JobRequest) ([]domain.Artifact, error) {
	framesDir := workspace.Frames(req.WorkspacePath, req.RunID)
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames directory: %w", err)
	}

	var all []ImageRef
	for _, node := range entry.Outputs {
		all = append(all, node.Images...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Filename < all[j].Filename
	})

	var artifacts []domain.Artifact
	for _, img := range all {
		data, err := e.client.Download(ctx, img.Filename, img.Subfolder, img.Type)
		if err != nil {
			e.logger.Warn().Err(err).Str("filename", img.Filename).Msg("engine: frame download failed")
			continue
		}

		framePath := filepath.Join(framesDir, filepath.Base(img.Filename))
		if err := os.WriteFile(framePath, data, 0o644); err != nil {
			return nil, fmt.Errorf("write frame %s: %w", img.Filename, err)
		}

		rel, err := workspace.Rel(req.WorkspacePath, framePath)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, domain.Artifact{
			Type:      domain.ArtifactImage,
			Path:      rel,
			SizeBytes: int64(len(data)),
		})
	}
	return artifacts, nil
}

func (e *Engine) isCanceled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canceled
}

func failure(msg string) domain.GenerationResult {
	return domain.GenerationResult{Success: false, Artifacts: []domain.Artifact{}, Error: msg}
}

// uniqueName builds a collision-resistant output filename from the current
// time and a random suffix.
func uniqueName(ext string) string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%d_%s%s", time.Now().UnixMilli(), suffix, ext)
}

func sortedNodeIDs(outputs map[string]NodeOutput) []string {
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
