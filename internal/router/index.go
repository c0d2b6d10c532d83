package router

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"codecomfy/internal/domain"
)

// updateIndex appends one IndexedArtifact per final artifact to the shared
// output index. The existing index is read (or a fresh one initialized when
// absent or unreadable), mutated in memory, then written via temp file plus
// rename. The rename is the sole atomicity boundary, so a partial write can
// never corrupt the previous index.
func (r *Router) updateIndex(runID string, artifacts []domain.Artifact, request *domain.JobRequest) error {
	index := r.loadIndex()

	now := time.Now().UTC()
	for i, artifact := range artifacts {
		index.Items = append(index.Items, domain.IndexedArtifact{
			ID:         fmt.Sprintf("%s_%d", runID, i),
			Type:       artifact.Type,
			Path:       artifact.Path,
			SizeBytes:  artifact.SizeBytes,
			CreatedAt:  now,
			RunID:      runID,
			Meta:       artifact.Meta,
			Provenance: mergeProvenance(artifact.Provenance, request),
		})
	}

	return r.ws.AtomicWriteJSON(r.ws.IndexPath(), index)
}

// loadIndex reads the current index, falling back to an empty one keyed by
// the workspace when the file is absent or unreadable.
func (r *Router) loadIndex() domain.OutputIndex {
	empty := domain.OutputIndex{
		SchemaVersion: domain.IndexSchemaVersion,
		WorkspaceKey:  r.ws.Key(),
		Items:         []domain.IndexedArtifact{},
	}

	data, err := os.ReadFile(r.ws.IndexPath())
	if err != nil {
		return empty
	}
	var index domain.OutputIndex
	if err := json.Unmarshal(data, &index); err != nil {
		r.logger.Warn().Err(err).Msg("router: output index unreadable, reinitializing")
		return empty
	}
	if index.Items == nil {
		index.Items = []domain.IndexedArtifact{}
	}
	return index
}

// mergeProvenance layers the request's prompt/seed/preset over the
// artifact's own provenance; request fields win on conflict.
func mergeProvenance(base *domain.ArtifactProvenance, request *domain.JobRequest) *domain.ArtifactProvenance {
	merged := domain.ArtifactProvenance{}
	if base != nil {
		merged = *base
	}
	merged.Prompt = request.Inputs.Prompt
	merged.NegativePrompt = request.Inputs.NegativePrompt
	merged.Seed = request.Inputs.Seed
	merged.PresetID = request.PresetID
	return &merged
}
