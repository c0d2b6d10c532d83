// Package presets manages the catalog of generation presets: the bundled
// defaults shipped with the binary plus any user presets loaded from a
// directory.
package presets

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"codecomfy/internal/domain"
	"codecomfy/internal/infra"
)

//go:embed data/*.json
var bundled embed.FS

// Registry is the in-memory preset catalog. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	presets map[string]domain.Preset
	logger  infra.Logger
}

// NewRegistry builds a registry preloaded with the bundled presets.
func NewRegistry(logger infra.Logger) (*Registry, error) {
	r := &Registry{
		presets: make(map[string]domain.Preset),
		logger:  logger,
	}

	entries, err := bundled.ReadDir("data")
	if err != nil {
		return nil, fmt.Errorf("read bundled presets: %w", err)
	}
	for _, entry := range entries {
		data, err := bundled.ReadFile("data/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read bundled preset %s: %w", entry.Name(), err)
		}
		preset, err := parsePreset(data)
		if err != nil {
			return nil, fmt.Errorf("bundled preset %s: %w", entry.Name(), err)
		}
		r.presets[preset.ID] = preset
	}

	return r, nil
}

// Get returns the preset with the given ID, or domain.ErrPresetNotFound.
func (r *Registry) Get(id string) (domain.Preset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	preset, ok := r.presets[id]
	if !ok {
		return domain.Preset{}, fmt.Errorf("preset %q: %w", id, domain.ErrPresetNotFound)
	}
	return preset, nil
}

// List returns all presets sorted by ID.
func (r *Registry) List() []domain.Preset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Preset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListByKind returns all presets of the given kind, sorted by ID.
func (r *Registry) ListByKind(kind domain.GenerationKind) []domain.Preset {
	all := r.List()
	out := all[:0:0]
	for _, p := range all {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// LoadDirectory loads user presets from dir, overriding bundled presets with
// matching IDs. Invalid files are skipped with a warning. Returns the number
// of presets loaded. A missing directory is not an error.
func (r *Registry) LoadDirectory(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read preset directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn().Str("path", path).Err(err).Msg("presets: unreadable file skipped")
			continue
		}
		preset, err := parsePreset(data)
		if err != nil {
			r.logger.Warn().Str("path", path).Err(err).Msg("presets: invalid preset skipped")
			continue
		}

		r.mu.Lock()
		r.presets[preset.ID] = preset
		r.mu.Unlock()
		loaded++
	}

	return loaded, nil
}

// parsePreset decodes and validates a preset document.
func parsePreset(data []byte) (domain.Preset, error) {
	var preset domain.Preset
	if err := json.Unmarshal(data, &preset); err != nil {
		return domain.Preset{}, fmt.Errorf("parse preset: %w", err)
	}

	if strings.TrimSpace(preset.ID) == "" {
		return domain.Preset{}, fmt.Errorf("preset is missing an id")
	}
	switch preset.Kind {
	case domain.KindImage, domain.KindVideo:
	default:
		return domain.Preset{}, fmt.Errorf("preset %q has unknown kind %q", preset.ID, preset.Kind)
	}
	if preset.HasWorkflow() {
		var workflow map[string]json.RawMessage
		if err := json.Unmarshal(preset.Workflow, &workflow); err != nil {
			return domain.Preset{}, fmt.Errorf("preset %q workflow is not a node map: %w", preset.ID, err)
		}
	}

	return preset, nil
}
