package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"codecomfy/internal/comfy"
	"codecomfy/internal/domain"
	"codecomfy/internal/infra"
	"codecomfy/internal/presets"
	"codecomfy/internal/pruning"
	"codecomfy/internal/router"
	"codecomfy/internal/validate"
	"codecomfy/internal/workspace"
)

func main() {
	_ = godotenv.Load()

	var (
		kindFlag      = flag.String("kind", "", "generation kind: image or video (defaults to the preset's kind)")
		presetFlag    = flag.String("preset", "hq-image", "preset ID")
		promptFlag    = flag.String("prompt", "", "positive prompt")
		negativeFlag  = flag.String("negative", "", "negative prompt")
		seedFlag      = flag.String("seed", "", "seed (empty = random)")
		widthFlag     = flag.Int("width", 0, "output width (0 = preset default)")
		heightFlag    = flag.Int("height", 0, "output height (0 = preset default)")
		stepsFlag     = flag.Int("steps", 0, "sampling steps (0 = preset default)")
		cfgFlag       = flag.Float64("cfg", 0, "CFG scale (0 = preset default)")
		fpsFlag       = flag.Float64("fps", 0, "video frame rate (0 = preset default)")
		durationFlag  = flag.Float64("duration", 0, "video duration in seconds (0 = preset default)")
		workspaceFlag = flag.String("workspace", "", "workspace directory (defaults to WORKSPACE_PATH)")
		listFlag      = flag.Bool("list-presets", false, "list available presets and exit")
		pruneFlag     = flag.Bool("prune", false, "run a retention sweep and exit")
	)
	flag.Parse()

	logger := infra.NewLogger(os.Getenv("APP_ENV"))

	registry, err := presets.NewRegistry(logger)
	if err != nil {
		fatal("load presets: %v", err)
	}
	if dir := os.Getenv("PRESET_DIR"); dir != "" {
		if _, err := registry.LoadDirectory(dir); err != nil {
			fatal("load preset directory: %v", err)
		}
	}

	if *listFlag {
		for _, p := range registry.List() {
			fmt.Printf("%-12s %-6s %s\n", p.ID, p.Kind, p.Name)
		}
		return
	}

	wsPath := *workspaceFlag
	if wsPath == "" {
		wsPath = os.Getenv("WORKSPACE_PATH")
	}
	if wsPath == "" {
		fatal("no workspace: pass -workspace or set WORKSPACE_PATH")
	}
	ws, err := workspace.Open(wsPath)
	if err != nil {
		fatal("open workspace: %v", err)
	}

	if *pruneFlag {
		result := pruning.Prune(ws, pruning.Options{Logger: logger})
		fmt.Printf("pruned %d runs, %d index entries\n", result.PrunedRuns, result.PrunedIndexEntries)
		for _, msg := range result.Errors {
			fmt.Fprintln(os.Stderr, msg)
		}
		if len(result.Errors) > 0 {
			os.Exit(1)
		}
		return
	}

	promptCheck := validate.Prompt(*promptFlag)
	if !promptCheck.Valid {
		fatal("%s", promptCheck.Error)
	}
	seedCheck := validate.ParseSeed(*seedFlag)
	if !seedCheck.Valid {
		fatal("%s", seedCheck.Error)
	}

	preset, err := registry.Get(*presetFlag)
	if err != nil {
		fatal("%v (use -list-presets to see available presets)", err)
	}

	kind := preset.Kind
	if *kindFlag != "" {
		kind = domain.GenerationKind(*kindFlag)
		if kind != domain.KindImage && kind != domain.KindVideo {
			fatal("invalid -kind %q: must be image or video", *kindFlag)
		}
	}

	inputs := domain.GenerationInputs{
		Prompt:         promptCheck.Value,
		NegativePrompt: *negativeFlag,
		Seed:           seedCheck.Value,
	}
	if *widthFlag > 0 {
		inputs.Width = widthFlag
	}
	if *heightFlag > 0 {
		inputs.Height = heightFlag
	}
	if *stepsFlag > 0 {
		inputs.Steps = stepsFlag
	}
	if *cfgFlag > 0 {
		inputs.CFGScale = cfgFlag
	}
	if *fpsFlag > 0 {
		inputs.FPS = fpsFlag
	}
	if *durationFlag > 0 {
		inputs.DurationSeconds = durationFlag
	}

	if kind == domain.KindVideo {
		fps := resolveFloat(inputs.FPS, preset.Defaults.FPS, 24)
		duration := resolveFloat(inputs.DurationSeconds, preset.Defaults.DurationSeconds, 4)
		if limits := validate.VideoLimits(duration, fps); !limits.Valid {
			fatal("%s", limits.Error)
		}
	}

	ffmpegPath := ""
	if check := validate.ExecutablePath(os.Getenv("FFMPEG_PATH"), "FFMPEG_PATH", "ffmpeg"); !check.Valid {
		fatal("%s", check.Error)
	} else if check.Mode == validate.PathModeExplicit {
		ffmpegPath = check.ResolvedPath
	}

	client := comfy.NewClient(comfy.Options{BaseURL: os.Getenv("COMFYUI_URL")})
	engine := comfy.NewEngine(client, logger)
	rt := router.New(ws, engine, router.Options{FFmpegPath: ffmpegPath, Logger: logger})

	result, err := rt.Run(context.Background(), domain.JobRequestInput{
		Kind:     kind,
		PresetID: preset.ID,
		Inputs:   inputs,
	}, &preset, func(run domain.JobRun) {
		logger.Info().Str("run_id", run.RunID).Str("status", string(run.Status)).Msg("run state")
	})
	if err != nil {
		fatal("%v", err)
	}
	if !result.Success {
		fatal("%s", result.Error)
	}

	for _, artifact := range result.Artifacts {
		fmt.Printf("%s\t%s\t%d bytes\n", artifact.Type, artifact.Path, artifact.SizeBytes)
	}
}

func resolveFloat(caller, preset *float64, fallback float64) float64 {
	if caller != nil {
		return *caller
	}
	if preset != nil {
		return *preset
	}
	return fallback
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "codecomfy: "+format+"\n", args...)
	os.Exit(1)
}
