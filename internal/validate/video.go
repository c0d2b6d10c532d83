package validate

import (
	"fmt"
	"math"
)

// Hard safety limits for video generation. They prevent accidental resource
// bombs (huge frame counts, endless jobs) before anything reaches the server.
const (
	MinDurationSeconds = 1.0
	MaxDurationSeconds = 15.0
	MinFPS             = 1.0
	MaxFPS             = 60.0
	MaxFrameCount      = 450
)

// VideoLimitsResult is the outcome of video parameter validation.
type VideoLimitsResult struct {
	Valid bool
	Error string
}

// VideoLimits checks duration and fps against the hard limits, including the
// derived total frame count (ceiling of duration × fps).
func VideoLimits(durationSeconds, fps float64) VideoLimitsResult {
	if math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) || durationSeconds < MinDurationSeconds {
		return VideoLimitsResult{Error: fmt.Sprintf(
			"video duration must be at least %gs (got %gs)", MinDurationSeconds, durationSeconds)}
	}
	if durationSeconds > MaxDurationSeconds {
		return VideoLimitsResult{Error: fmt.Sprintf(
			"video duration exceeds the %gs limit (got %gs); reduce the duration to stay within safe resource bounds",
			MaxDurationSeconds, durationSeconds)}
	}

	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps < MinFPS {
		return VideoLimitsResult{Error: fmt.Sprintf("fps must be at least %g (got %g)", MinFPS, fps)}
	}
	if fps > MaxFPS {
		return VideoLimitsResult{Error: fmt.Sprintf(
			"fps exceeds the %g limit (got %g); reduce the frame rate to stay within safe resource bounds",
			MaxFPS, fps)}
	}

	frameCount := int(math.Ceil(durationSeconds * fps))
	if frameCount > MaxFrameCount {
		return VideoLimitsResult{Error: fmt.Sprintf(
			"total frame count (%gs × %gfps = %d frames) exceeds the %d-frame limit; reduce duration or fps",
			durationSeconds, fps, frameCount, MaxFrameCount)}
	}

	return VideoLimitsResult{Valid: true}
}
