package domain

import "time"

// ArtifactType mirrors GenerationKind for produced outputs.
type ArtifactType string

const (
	ArtifactImage ArtifactType = "image"
	ArtifactVideo ArtifactType = "video"
)

// ArtifactMeta is an open extension point for per-artifact metadata.
type ArtifactMeta struct {
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	FPS             float64 `json:"fps,omitempty"`
	MIMEType        string  `json:"mime_type,omitempty"`
	ThumbnailPath   string  `json:"thumbnail_path,omitempty"`
}

// ArtifactProvenance records how an artifact came to be.
type ArtifactProvenance struct {
	Prompt         string   `json:"prompt,omitempty"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	Model          string   `json:"model,omitempty"`
	Steps          *int     `json:"steps,omitempty"`
	CFGScale       *float64 `json:"cfg_scale,omitempty"`
	PresetID       string   `json:"preset_id,omitempty"`
}

// Artifact is one output unit of a run. Path is relative to the workspace
// root, forward-slash normalized regardless of host OS.
type Artifact struct {
	Type       ArtifactType        `json:"type"`
	Path       string              `json:"path"`
	SizeBytes  int64               `json:"size_bytes,omitempty"`
	Meta       *ArtifactMeta       `json:"meta,omitempty"`
	Provenance *ArtifactProvenance `json:"provenance,omitempty"`
}

// RunArtifacts is the per-run artifact record persisted as artifacts.json.
type RunArtifacts struct {
	RunID     string     `json:"run_id"`
	Artifacts []Artifact `json:"artifacts"`
}

// IndexSchemaVersion is the current on-disk index schema version.
const IndexSchemaVersion = "1.0"

// OutputIndex is the single cumulative catalogue of all artifacts across all
// runs in a workspace, persisted as one JSON document. Items keep insertion
// order; entries are only ever removed by the pruner.
type OutputIndex struct {
	SchemaVersion string            `json:"schema_version"`
	WorkspaceKey  string            `json:"workspace_key"`
	Items         []IndexedArtifact `json:"items"`
}

// IndexedArtifact is an Artifact recorded in the output index. ID is unique
// across the whole index and reconstructible as "{run_id}_{ordinal}".
type IndexedArtifact struct {
	ID         string              `json:"id"`
	Type       ArtifactType        `json:"type"`
	Path       string              `json:"path"`
	SizeBytes  int64               `json:"size_bytes,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	RunID      string              `json:"run_id"`
	Meta       *ArtifactMeta       `json:"meta,omitempty"`
	Provenance *ArtifactProvenance `json:"provenance,omitempty"`
}
