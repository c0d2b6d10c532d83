package domain

import (
	"encoding/json"
	"time"
)

// GenerationKind enumerates the supported output categories.
type GenerationKind string

const (
	KindImage GenerationKind = "image"
	KindVideo GenerationKind = "video"
)

// JobStatus enumerates run lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// GenerationInputs carries the generation parameters for one job. All fields
// except Prompt are optional; pointer fields distinguish "not supplied" from
// a zero value so that template defaults survive when the caller is silent.
// Unknown keys found in persisted JSON round-trip through Extra untouched.
type GenerationInputs struct {
	Prompt          string   `json:"prompt"`
	NegativePrompt  string   `json:"negative_prompt,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
	Width           *int     `json:"width,omitempty"`
	Height          *int     `json:"height,omitempty"`
	Steps           *int     `json:"steps,omitempty"`
	CFGScale        *float64 `json:"cfg_scale,omitempty"`
	FPS             *float64 `json:"fps,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	FrameCount      *int     `json:"frame_count,omitempty"`

	// Extra holds extension keys that are not part of the known contract.
	Extra map[string]any `json:"-"`
}

var knownInputKeys = []string{
	"prompt", "negative_prompt", "seed", "width", "height", "steps",
	"cfg_scale", "fps", "duration_seconds", "frame_count",
}

// MarshalJSON flattens Extra back into the top-level object. Known fields win
// over extension keys of the same name.
func (g GenerationInputs) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(g.Extra)+10)
	for k, v := range g.Extra {
		out[k] = v
	}
	out["prompt"] = g.Prompt
	if g.NegativePrompt != "" {
		out["negative_prompt"] = g.NegativePrompt
	}
	if g.Seed != nil {
		out["seed"] = *g.Seed
	}
	if g.Width != nil {
		out["width"] = *g.Width
	}
	if g.Height != nil {
		out["height"] = *g.Height
	}
	if g.Steps != nil {
		out["steps"] = *g.Steps
	}
	if g.CFGScale != nil {
		out["cfg_scale"] = *g.CFGScale
	}
	if g.FPS != nil {
		out["fps"] = *g.FPS
	}
	if g.DurationSeconds != nil {
		out["duration_seconds"] = *g.DurationSeconds
	}
	if g.FrameCount != nil {
		out["frame_count"] = *g.FrameCount
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the known fields and stashes everything else in Extra.
func (g *GenerationInputs) UnmarshalJSON(data []byte) error {
	type alias GenerationInputs
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownInputKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		a.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err == nil {
				a.Extra[k] = val
			}
		}
	}
	*g = GenerationInputs(a)
	return nil
}

// Clone returns a copy that shares no mutable state with the receiver.
func (g GenerationInputs) Clone() GenerationInputs {
	out := g
	out.Seed = clonePtr(g.Seed)
	out.Width = clonePtr(g.Width)
	out.Height = clonePtr(g.Height)
	out.Steps = clonePtr(g.Steps)
	out.CFGScale = clonePtr(g.CFGScale)
	out.FPS = clonePtr(g.FPS)
	out.DurationSeconds = clonePtr(g.DurationSeconds)
	out.FrameCount = clonePtr(g.FrameCount)
	if g.Extra != nil {
		out.Extra = make(map[string]any, len(g.Extra))
		for k, v := range g.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// JobRequestInput is what the caller provides; the router assigns the run ID.
type JobRequestInput struct {
	Kind     GenerationKind   `json:"kind"`
	PresetID string           `json:"preset_id"`
	Inputs   GenerationInputs `json:"inputs"`
}

// JobRequest is the full request record, created exactly once per run and
// persisted verbatim as request.json. It is never mutated after creation.
type JobRequest struct {
	Kind          GenerationKind   `json:"kind"`
	PresetID      string           `json:"preset_id"`
	Inputs        GenerationInputs `json:"inputs"`
	RunID         string           `json:"run_id"`
	WorkspacePath string           `json:"workspace_path"`
	CreatedAt     time.Time        `json:"created_at"`
}

// JobRun is the run status record, rewritten wholesale to status.json on
// every transition. Observers receive value copies, never a shared pointer.
type JobRun struct {
	RunID     string     `json:"run_id"`
	Status    JobStatus  `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
	Progress  *float64   `json:"progress,omitempty"`
}

// GenerationResult is the outcome of one engine or router invocation.
// Expected failures travel here as a message; no error ever escapes raw.
type GenerationResult struct {
	Success   bool       `json:"success"`
	Artifacts []Artifact `json:"artifacts"`
	Error     string     `json:"error,omitempty"`
}
