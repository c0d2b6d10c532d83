package comfy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// maxRawBody caps how much of an offending response body is kept for
// diagnostics.
const maxRawBody = 2000

// ResponseError is raised when a ComfyUI response fails shape validation.
// It carries a short kind tag naming which shape failed and the truncated
// raw body for the log.
type ResponseError struct {
	// Kind is a short label, e.g. "prompt_response" or "history_entry".
	Kind string
	// RawBody is the offending payload, truncated to maxRawBody bytes.
	RawBody string

	msg string
}

func (e *ResponseError) Error() string {
	return e.msg
}

func newResponseError(kind, msg string, raw []byte) *ResponseError {
	body := string(raw)
	if len(body) > maxRawBody {
		body = body[:maxRawBody] + "…"
	}
	return &ResponseError{Kind: kind, RawBody: body, msg: msg}
}

// PromptAck is the validated acknowledgement returned by POST /prompt.
type PromptAck struct {
	PromptID   string
	Number     float64
	NodeErrors map[string]json.RawMessage
}

// ValidatePromptResponse narrows the body of POST /prompt.
//
// Expected shape: {"prompt_id": "<uuid>", "number": 42, "node_errors": {}}.
// node_errors is optional (some ComfyUI versions omit it), but when present
// and non-empty the submitted workflow itself is broken, so validation fails
// with per-node detail rather than returning the ack.
func ValidatePromptResponse(body []byte) (*PromptAck, error) {
	obj, err := asObject(body)
	if err != nil {
		return nil, newResponseError("prompt_response", "response is not a JSON object", body)
	}

	var promptID string
	if raw, ok := obj["prompt_id"]; !ok || json.Unmarshal(raw, &promptID) != nil || promptID == "" {
		return nil, newResponseError("prompt_response",
			fmt.Sprintf("missing or invalid \"prompt_id\" (got %s)", describe(obj["prompt_id"])), body)
	}

	var number float64
	if raw, ok := obj["number"]; !ok || json.Unmarshal(raw, &number) != nil {
		return nil, newResponseError("prompt_response",
			fmt.Sprintf("missing or invalid \"number\" field (got %s)", describe(obj["number"])), body)
	}

	nodeErrors := map[string]json.RawMessage{}
	if raw, ok := obj["node_errors"]; ok {
		// Non-object node_errors is treated as absent.
		_ = json.Unmarshal(raw, &nodeErrors)
	}

	if len(nodeErrors) > 0 {
		ids := make([]string, 0, len(nodeErrors))
		for id := range nodeErrors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		var b strings.Builder
		b.WriteString("comfyui reported node errors:")
		for _, id := range ids {
			fmt.Fprintf(&b, "\n  node %s: %s", id, string(nodeErrors[id]))
		}
		return nil, newResponseError("prompt_response", b.String(), body)
	}

	return &PromptAck{PromptID: promptID, Number: number, NodeErrors: nodeErrors}, nil
}

// HistoryStatus is the validated status block of a history entry.
type HistoryStatus struct {
	StatusStr string
	Completed bool
}

// ImageRef locates one downloadable output image on the server.
type ImageRef struct {
	Filename  string
	Subfolder string
	Type      string
}

// NodeOutput is the validated per-node output block.
type NodeOutput struct {
	Images []ImageRef
}

// HistoryEntry is the validated per-job entry of GET /history/{id}.
type HistoryEntry struct {
	Outputs map[string]NodeOutput
	Status  HistoryStatus
}

// ValidateHistoryEntry narrows one history entry.
//
// status.completed must be a boolean; status_str defaults to "unknown".
// outputs maps node-id to an object optionally holding an images list.
// Malformed image entries are dropped silently rather than failing the
// whole entry.
func ValidateHistoryEntry(raw json.RawMessage) (*HistoryEntry, error) {
	obj, err := asObject(raw)
	if err != nil {
		return nil, newResponseError("history_entry", "history entry is not a JSON object", raw)
	}

	statusObj, err := asObject(obj["status"])
	if err != nil {
		return nil, newResponseError("history_entry", "missing or invalid \"status\" object", raw)
	}

	var completed bool
	if r, ok := statusObj["completed"]; !ok || json.Unmarshal(r, &completed) != nil {
		return nil, newResponseError("history_entry",
			fmt.Sprintf("missing or invalid \"status.completed\" (got %s)", describe(statusObj["completed"])), raw)
	}

	statusStr := "unknown"
	if r, ok := statusObj["status_str"]; ok {
		var s string
		if json.Unmarshal(r, &s) == nil {
			statusStr = s
		}
	}

	outputsObj, err := asObject(obj["outputs"])
	if err != nil {
		return nil, newResponseError("history_entry", "missing or invalid \"outputs\" object", raw)
	}

	outputs := make(map[string]NodeOutput, len(outputsObj))
	for nodeID, rawNode := range outputsObj {
		nodeObj, err := asObject(rawNode)
		if err != nil {
			continue
		}
		var node NodeOutput
		if rawImages, ok := nodeObj["images"]; ok {
			var items []json.RawMessage
			if json.Unmarshal(rawImages, &items) == nil {
				node.Images = make([]ImageRef, 0, len(items))
				for _, item := range items {
					imgObj, err := asObject(item)
					if err != nil {
						continue
					}
					var filename string
					if r, ok := imgObj["filename"]; !ok || json.Unmarshal(r, &filename) != nil {
						continue
					}
					ref := ImageRef{Filename: filename, Subfolder: "", Type: "output"}
					if r, ok := imgObj["subfolder"]; ok {
						var s string
						if json.Unmarshal(r, &s) == nil {
							ref.Subfolder = s
						}
					}
					if r, ok := imgObj["type"]; ok {
						var s string
						if json.Unmarshal(r, &s) == nil {
							ref.Type = s
						}
					}
					node.Images = append(node.Images, ref)
				}
			}
		}
		outputs[nodeID] = node
	}

	return &HistoryEntry{
		Outputs: outputs,
		Status:  HistoryStatus{StatusStr: statusStr, Completed: completed},
	}, nil
}

// ValidateHistoryResponse narrows the top-level body of GET /history/{id}:
// a mapping from job id to history entry. A missing entry returns (nil, nil),
// the normal "still running" case. Malformed JSON is an error.
func ValidateHistoryResponse(body []byte, promptID string) (*HistoryEntry, error) {
	obj, err := asObject(body)
	if err != nil {
		return nil, newResponseError("history_response", "history response is not a JSON object", body)
	}
	entry, ok := obj[promptID]
	if !ok {
		return nil, nil
	}
	return ValidateHistoryEntry(entry)
}

// asObject unmarshals raw into a JSON object, rejecting null, arrays, and
// scalars.
func asObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("null value")
	}
	return obj, nil
}

// describe names the JSON type of a raw value for error messages.
func describe(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case trimmed == "":
		return "absent"
	case trimmed == "null":
		return "null"
	case trimmed[0] == '{':
		return "object"
	case trimmed[0] == '[':
		return "array"
	case trimmed[0] == '"':
		return "string"
	case trimmed == "true" || trimmed == "false":
		return "boolean"
	default:
		return "number"
	}
}
