// Package ffmpeg locates the FFmpeg binary and assembles collected frames
// into a single video artifact.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// versionProbeTimeout bounds the "is ffmpeg on PATH" check.
const versionProbeTimeout = 5 * time.Second

// wellKnownPaths are common install locations checked before probing PATH.
var wellKnownPaths = []string{
	"/usr/local/bin/ffmpeg",
	"/usr/bin/ffmpeg",
	"/opt/homebrew/bin/ffmpeg",
	`C:\ffmpeg\bin\ffmpeg.exe`,
}

// Find resolves the FFmpeg executable: explicit configured path first, then
// well-known install locations, then a short PATH probe. Returns "" when
// nothing answers; callers report "not found" instead of attempting encode.
func Find(configured string) string {
	if configured != "" {
		if info, err := os.Stat(configured); err == nil && !info.IsDir() {
			return configured
		}
	}

	for _, candidate := range wellKnownPaths {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}

	if path, err := exec.LookPath("ffmpeg"); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), versionProbeTimeout)
		defer cancel()
		if exec.CommandContext(ctx, path, "-version").Run() == nil {
			return path
		}
	}

	return ""
}

// Options describes one assembly invocation.
type Options struct {
	// FFmpegPath is the resolved executable (from Find).
	FFmpegPath string
	// FramesDir holds the collected frame images.
	FramesDir string
	// OutputPath is where the MP4 is written.
	OutputPath string
	// FPS is the target frame rate.
	FPS float64
	// ThumbnailPath, when non-empty, requests a single representative
	// thumbnail frame extracted from the finished video.
	ThumbnailPath string
}

// Result reports what Assemble produced. ThumbnailPath is empty when
// thumbnail extraction failed or was not requested.
type Result struct {
	OutputPath    string
	ThumbnailPath string
}

// Assemble renumbers the collected frames into a strict sequential pattern
// and encodes them into one MP4 (constant quality, yuv420p for broad
// playback compatibility, faststart layout for progressive download). Any
// failure of the main encode triggers best-effort cleanup of partial output
// before the error is returned. Thumbnail failure is non-fatal.
func Assemble(ctx context.Context, opts Options) (Result, error) {
	frames, err := listFrames(opts.FramesDir)
	if err != nil {
		return Result{}, err
	}
	if len(frames) == 0 {
		return Result{}, errors.New("no frames found to assemble")
	}

	if err := renumberFrames(opts.FramesDir, frames); err != nil {
		return Result{}, fmt.Errorf("rename frames: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return Result{}, fmt.Errorf("create output directory: %w", err)
	}

	inputPattern := filepath.Join(opts.FramesDir, "frame_%05d.png")
	videoArgs := []string{
		"-y",
		"-framerate", strconv.FormatFloat(opts.FPS, 'f', -1, 64),
		"-i", inputPattern,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		opts.OutputPath,
	}

	if err := run(ctx, opts.FFmpegPath, videoArgs); err != nil {
		CleanupPartial(opts.OutputPath, opts.ThumbnailPath)
		return Result{}, fmt.Errorf("video assembly failed: %w", err)
	}
	if _, err := os.Stat(opts.OutputPath); err != nil {
		CleanupPartial(opts.OutputPath, opts.ThumbnailPath)
		return Result{}, errors.New("video file was not created")
	}

	result := Result{OutputPath: opts.OutputPath}

	if opts.ThumbnailPath != "" {
		thumbArgs := []string{
			"-y",
			"-i", opts.OutputPath,
			"-vf", "thumbnail,scale=512:-1",
			"-frames:v", "1",
			opts.ThumbnailPath,
		}
		if err := run(ctx, opts.FFmpegPath, thumbArgs); err == nil {
			if _, statErr := os.Stat(opts.ThumbnailPath); statErr == nil {
				result.ThumbnailPath = opts.ThumbnailPath
			}
		}
	}

	return result, nil
}

// CleanupPartial removes partially written output files, best effort.
func CleanupPartial(outputPath, thumbnailPath string) {
	if outputPath != "" {
		_ = os.Remove(outputPath)
	}
	if thumbnailPath != "" {
		_ = os.Remove(thumbnailPath)
	}
}

func listFrames(framesDir string) ([]string, error) {
	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return nil, fmt.Errorf("frames directory not found: %s", framesDir)
	}
	var frames []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".png") {
			frames = append(frames, entry.Name())
		}
	}
	sort.Strings(frames)
	return frames, nil
}

// renumberFrames renames the sorted frames to frame_00001.png, frame_00002.png,
// … so the encoder can consume a fixed-width sequential pattern regardless of
// the server's original filenames.
func renumberFrames(framesDir string, frames []string) error {
	for i, name := range frames {
		oldPath := filepath.Join(framesDir, name)
		newPath := filepath.Join(framesDir, fmt.Sprintf("frame_%05d.png", i+1))
		if oldPath == newPath {
			continue
		}
		if err := os.Rename(oldPath, newPath); err != nil {
			return err
		}
	}
	return nil
}

// run executes ffmpeg and, on a non-zero exit, returns an error carrying the
// last few lines of its diagnostic stream.
func run(ctx context.Context, ffmpegPath string, args []string) error {
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		lines := strings.Split(strings.TrimSpace(stderr.String()), "\n")
		if len(lines) > 5 {
			lines = lines[len(lines)-5:]
		}
		detail := strings.TrimSpace(strings.Join(lines, "\n"))
		if detail == "" {
			return fmt.Errorf("ffmpeg: %w", err)
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, detail)
	}
	return nil
}
