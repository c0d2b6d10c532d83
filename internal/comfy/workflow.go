package comfy

import (
	"encoding/json"
	"fmt"
	"strings"

	"codecomfy/internal/domain"
)

// BuildWorkflow produces a job-specific workflow from a preset's template.
// The template is raw JSON and gets unmarshaled into a fresh value on every
// call, so the cached preset can never be mutated. Parameter injection rules:
//
//   - CLIPTextEncode nodes with a "text" input receive the positive prompt,
//     or the negative prompt when the node title or id signals "negative".
//     A missing negative prompt injects the empty string so stale template
//     placeholder text never leaks into a job.
//   - KSampler nodes receive seed/steps/cfg only when the caller supplied
//     them; template defaults stay untouched otherwise.
//   - The EmptyLatentImage node receives width/height when supplied, and for
//     video jobs its batch size becomes the derived frame count. Image jobs
//     never touch batch size.
func BuildWorkflow(preset *domain.Preset, req *domain.JobRequest) (map[string]any, error) {
	if !preset.HasWorkflow() {
		return nil, domain.ErrNoWorkflow
	}

	var workflow map[string]any
	if err := json.Unmarshal(preset.Workflow, &workflow); err != nil {
		return nil, fmt.Errorf("preset %q workflow is not valid JSON: %w", preset.ID, err)
	}

	in := req.Inputs
	for nodeID, rawNode := range workflow {
		node, ok := rawNode.(map[string]any)
		if !ok {
			continue
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			continue
		}
		classType, _ := node["class_type"].(string)

		if strings.Contains(classType, "CLIPTextEncode") {
			if _, ok := inputs["text"]; ok {
				if isNegativeNode(node, nodeID) {
					inputs["text"] = in.NegativePrompt
				} else {
					inputs["text"] = in.Prompt
				}
			}
		}

		if strings.Contains(classType, "KSampler") {
			if in.Seed != nil {
				inputs["seed"] = *in.Seed
			}
			if in.Steps != nil {
				inputs["steps"] = *in.Steps
			}
			if in.CFGScale != nil {
				inputs["cfg"] = *in.CFGScale
			}
		}

		if classType == "EmptyLatentImage" {
			if in.Width != nil {
				inputs["width"] = *in.Width
			}
			if in.Height != nil {
				inputs["height"] = *in.Height
			}
			if req.Kind == domain.KindVideo && in.FrameCount != nil {
				inputs["batch_size"] = *in.FrameCount
			}
		}
	}

	return workflow, nil
}

// isNegativeNode decides whether a text-encoding node holds the negative
// prompt, based on its _meta title or the node id itself.
func isNegativeNode(node map[string]any, nodeID string) bool {
	if meta, ok := node["_meta"].(map[string]any); ok {
		if title, ok := meta["title"].(string); ok &&
			strings.Contains(strings.ToLower(title), "negative") {
			return true
		}
	}
	return strings.Contains(nodeID, "neg")
}
