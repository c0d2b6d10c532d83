// Package validate holds input validation for generation parameters. Every
// function returns a result value with an actionable message so callers can
// reject bad input before any I/O happens.
package validate

import (
	"fmt"
	"strconv"
	"strings"
)

// SeedMax is the inclusive upper bound for seed values (signed int32 max).
const SeedMax = 2147483647

// PromptMaxLength caps prompt size in characters.
const PromptMaxLength = 8000

// SeedResult is the outcome of parsing a seed string.
type SeedResult struct {
	Valid bool
	// Value is nil when the field was left empty (= random seed).
	Value *int64
	Error string
}

// ParseSeed parses a raw seed string. Empty means "random"; otherwise the
// value must be a whole number in [0, SeedMax].
func ParseSeed(raw string) SeedResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SeedResult{Valid: true}
	}

	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		if _, ferr := strconv.ParseFloat(trimmed, 64); ferr == nil {
			return SeedResult{Error: fmt.Sprintf(
				"seed must be a whole number (got %s); enter a value between 0 and %d", trimmed, SeedMax)}
		}
		return SeedResult{Error: fmt.Sprintf(
			"%q is not a valid number; enter a whole number between 0 and %d, or leave empty for random", trimmed, SeedMax)}
	}

	if parsed < 0 || parsed > SeedMax {
		return SeedResult{Error: fmt.Sprintf(
			"seed out of range (got %s); must be between 0 and %d", trimmed, SeedMax)}
	}

	return SeedResult{Valid: true, Value: &parsed}
}

// PromptResult is the outcome of prompt validation.
type PromptResult struct {
	Valid bool
	// Value is the trimmed prompt.
	Value string
	Error string
}

// Prompt validates a prompt string: non-empty after trimming and at most
// PromptMaxLength characters.
func Prompt(raw string) PromptResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PromptResult{Error: "prompt cannot be empty"}
	}
	if len(trimmed) > PromptMaxLength {
		return PromptResult{Error: fmt.Sprintf(
			"prompt is too long (%d chars); maximum is %d characters", len(trimmed), PromptMaxLength)}
	}
	return PromptResult{Valid: true, Value: trimmed}
}
