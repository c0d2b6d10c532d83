package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"codecomfy/internal/domain"
	"codecomfy/internal/validate"
)

type generateRequest struct {
	PresetID        string   `json:"preset_id"`
	Kind            string   `json:"kind"`
	Prompt          string   `json:"prompt"`
	NegativePrompt  string   `json:"negative_prompt"`
	Seed            *int64   `json:"seed"`
	Width           *int     `json:"width"`
	Height          *int     `json:"height"`
	Steps           *int     `json:"steps"`
	CFGScale        *float64 `json:"cfg_scale"`
	FPS             *float64 `json:"fps"`
	DurationSeconds *float64 `json:"duration_seconds"`
}

type generateResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// Generate accepts a generation job and returns 202 with the run ID once the
// run record exists. A second submission while a run is active, or inside the
// cooldown window, is rejected with 409.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	if req.PresetID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "preset_id required")
		return
	}
	preset, err := a.Registry.Get(req.PresetID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown preset: "+req.PresetID)
		return
	}

	kind := preset.Kind
	if req.Kind != "" {
		kind = domain.GenerationKind(req.Kind)
		if kind != domain.KindImage && kind != domain.KindVideo {
			a.error(w, http.StatusBadRequest, "bad_request", "kind must be image or video")
			return
		}
	}

	promptCheck := validate.Prompt(req.Prompt)
	if !promptCheck.Valid {
		a.error(w, http.StatusBadRequest, "bad_request", promptCheck.Error)
		return
	}
	if req.Seed != nil && (*req.Seed < 0 || *req.Seed > validate.SeedMax) {
		a.error(w, http.StatusBadRequest, "bad_request", "seed out of range")
		return
	}
	if kind == domain.KindVideo {
		fps := firstFloat(req.FPS, preset.Defaults.FPS, 24)
		duration := firstFloat(req.DurationSeconds, preset.Defaults.DurationSeconds, 4)
		if limits := validate.VideoLimits(duration, fps); !limits.Valid {
			a.error(w, http.StatusBadRequest, "bad_request", limits.Error)
			return
		}
	}

	input := domain.JobRequestInput{
		Kind:     kind,
		PresetID: preset.ID,
		Inputs: domain.GenerationInputs{
			Prompt:          promptCheck.Value,
			NegativePrompt:  req.NegativePrompt,
			Seed:            req.Seed,
			Width:           req.Width,
			Height:          req.Height,
			Steps:           req.Steps,
			CFGScale:        req.CFGScale,
			FPS:             req.FPS,
			DurationSeconds: req.DurationSeconds,
		},
	}

	// The run executes in the background; the response only needs the run ID
	// from the first progress notification. Setup rejections arrive on errCh
	// before any notification fires.
	runIDCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		notified := false
		result, err := a.Router.Run(context.Background(), input, &preset, func(run domain.JobRun) {
			if !notified {
				notified = true
				runIDCh <- run.RunID
			}
		})
		if err != nil {
			errCh <- err
			return
		}
		if !notified {
			errCh <- errors.New(result.Error)
		}
	}()

	select {
	case runID := <-runIDCh:
		a.json(w, http.StatusAccepted, generateResponse{RunID: runID, Status: string(domain.JobStatusQueued)})
	case err := <-errCh:
		switch {
		case errors.Is(err, domain.ErrRunActive):
			a.error(w, http.StatusConflict, "run_active", "a generation run is already in progress")
		case errors.Is(err, domain.ErrCooldown):
			a.error(w, http.StatusConflict, "cooldown", "previous run ended moments ago; retry shortly")
		default:
			a.error(w, http.StatusInternalServerError, "internal", err.Error())
		}
	}
}

// Cancel requests cancellation of the active run. Always 202: cancellation
// is best-effort and a no-op when nothing is running.
func (a *App) Cancel(w http.ResponseWriter, r *http.Request) {
	a.Router.Cancel()
	a.json(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
}

func firstFloat(caller, preset *float64, fallback float64) float64 {
	if caller != nil {
		return *caller
	}
	if preset != nil {
		return *preset
	}
	return fallback
}
