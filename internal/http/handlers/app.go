// Package handlers implements the daemon's HTTP API over the run router,
// preset registry, and workspace.
package handlers

import (
	"encoding/json"
	"net/http"

	"codecomfy/internal/infra"
	"codecomfy/internal/presets"
	"codecomfy/internal/pruning"
	"codecomfy/internal/router"
	"codecomfy/internal/workspace"
)

type App struct {
	Router   *router.Router
	Registry *presets.Registry
	WS       *workspace.Workspace
	Logger   infra.Logger
	Prune    pruning.Options
}

func NewApp(rt *router.Router, reg *presets.Registry, ws *workspace.Workspace, logger infra.Logger, prune pruning.Options) *App {
	return &App{Router: rt, Registry: reg, WS: ws, Logger: logger, Prune: prune}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
