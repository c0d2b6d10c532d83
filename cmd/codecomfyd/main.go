package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"codecomfy/internal/comfy"
	"codecomfy/internal/http/handlers"
	httpapi "codecomfy/internal/http/httpapi"
	"codecomfy/internal/infra"
	"codecomfy/internal/presets"
	"codecomfy/internal/pruning"
	"codecomfy/internal/router"
	"codecomfy/internal/validate"
	"codecomfy/internal/workspace"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ffmpegPath := cfg.FFmpegPath
	if check := validate.ExecutablePath(cfg.FFmpegPath, "FFMPEG_PATH", "ffmpeg"); !check.Valid {
		logger.Fatal().Msg(check.Error)
	} else if check.Mode == validate.PathModeLookup {
		ffmpegPath = ""
	} else {
		ffmpegPath = check.ResolvedPath
	}

	ws, err := workspace.Open(cfg.WorkspacePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open workspace")
	}
	if err := ws.EnsureLayout(); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare workspace layout")
	}

	registry, err := presets.NewRegistry(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load bundled presets")
	}
	if cfg.PresetDir != "" {
		loaded, err := registry.LoadDirectory(cfg.PresetDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load preset directory")
		}
		logger.Info().Int("count", loaded).Str("dir", cfg.PresetDir).Msg("user presets loaded")
	}

	client := comfy.NewClient(comfy.Options{BaseURL: cfg.ComfyUIURL})
	engine := comfy.NewEngine(client, logger)
	rt := router.New(ws, engine, router.Options{
		FFmpegPath: ffmpegPath,
		Cooldown:   cfg.RunCooldown,
		Logger:     logger,
	})

	pruneOpts := pruning.Options{
		MaxRuns:    cfg.MaxRuns,
		MaxAgeDays: cfg.MaxAgeDays,
		Logger:     logger,
	}

	app := handlers.NewApp(rt, registry, ws, logger, pruneOpts)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))

	// Scheduled retention sweeps
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.PruneSchedule, func() {
		result := pruning.Prune(ws, pruneOpts)
		if result.PrunedRuns > 0 || len(result.Errors) > 0 {
			logger.Info().
				Int("pruned_runs", result.PrunedRuns).
				Int("pruned_index_entries", result.PrunedIndexEntries).
				Int("errors", len(result.Errors)).
				Msg("scheduled prune completed")
		}
	}); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.PruneSchedule).Msg("invalid prune schedule")
	}
	scheduler.Start()
	defer scheduler.Stop()

	go func() {
		logger.Info().Msgf("codecomfyd listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	rt.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
