package domain

import "encoding/json"

// Preset is read-only reference data: default parameters plus an opaque
// ComfyUI workflow template. The template stays raw JSON so that building a
// job-specific workflow can never mutate the cached preset.
type Preset struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Kind     GenerationKind   `json:"kind"`
	Defaults GenerationInputs `json:"defaults"`
	Workflow json.RawMessage  `json:"workflow,omitempty"`
}

// HasWorkflow reports whether the preset carries a usable workflow template.
func (p *Preset) HasWorkflow() bool {
	return len(p.Workflow) > 0 && string(p.Workflow) != "null"
}
