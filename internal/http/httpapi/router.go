// Package httpapi wires the daemon's route table.
package httpapi

import (
	stdhttp "net/http"

	"codecomfy/internal/http/handlers"
	"codecomfy/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(app.Logger))

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", app.Generate)
		r.Post("/cancel", app.Cancel)
		r.Get("/runs/{run_id}", app.GetRun)
		r.Get("/presets", app.ListPresets)
		r.Get("/index", app.Index)
		r.Get("/index/archive", app.IndexArchive)
		r.Post("/prune", app.PruneNow)
	})

	return r
}
