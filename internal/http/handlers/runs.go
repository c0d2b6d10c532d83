package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"codecomfy/internal/domain"
)

// GetRun reports the persisted status of a run, live or historical.
func (a *App) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if runID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "run_id required")
		return
	}
	// Run IDs are path components; reject anything that could escape the
	// runs directory.
	if strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid run_id")
		return
	}

	data, err := os.ReadFile(filepath.Join(a.WS.RunPath(runID), "status.json"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "run not found")
		return
	}

	var run domain.JobRun
	if err := json.Unmarshal(data, &run); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "run status unreadable")
		return
	}
	a.json(w, http.StatusOK, run)
}

// ListPresets returns the preset catalog.
func (a *App) ListPresets(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": a.Registry.List()})
}
