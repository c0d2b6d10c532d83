package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// PathMode tells the caller how to use a validated executable setting.
type PathMode string

const (
	// PathModeExplicit means the user gave an absolute path to use as-is.
	PathModeExplicit PathMode = "explicit"
	// PathModeLookup means the caller should probe the system PATH itself.
	PathModeLookup PathMode = "path-lookup"
)

// PathResult is the outcome of executable path validation.
type PathResult struct {
	Valid bool
	Mode  PathMode
	// ResolvedPath is set only in explicit mode.
	ResolvedPath string
	Error        string
}

// ExecutablePath validates a user-configured executable setting so it cannot
// become a shell-injection or traversal vector. Empty or the bare executable
// name means PATH-lookup mode; an absolute path to an existing executable is
// accepted as explicit; relative paths and missing files are rejected.
// Surrounding double quotes (a common copy-paste artifact) are stripped.
func ExecutablePath(raw, settingKey, bareName string) PathResult {
	trimmed := strings.Trim(strings.TrimSpace(raw), `"`)

	if trimmed == "" || strings.EqualFold(trimmed, bareName) {
		return PathResult{Valid: true, Mode: PathModeLookup}
	}

	if !filepath.IsAbs(trimmed) {
		example := "/usr/local/bin/" + bareName
		if runtime.GOOS == "windows" {
			example = `C:\` + bareName + `\bin\` + bareName + `.exe`
		}
		return PathResult{Mode: PathModeExplicit, Error: fmt.Sprintf(
			"%s must be an absolute path (got relative: %q); use an absolute path like %q, or leave empty to use PATH",
			settingKey, trimmed, example)}
	}

	normalized := filepath.Clean(trimmed)

	info, err := os.Stat(normalized)
	if err != nil || info.IsDir() {
		return PathResult{Mode: PathModeExplicit, Error: fmt.Sprintf(
			"%s points to a file that does not exist: %q", settingKey, normalized)}
	}

	if !looksExecutable(normalized) {
		return PathResult{Mode: PathModeExplicit, Error: fmt.Sprintf(
			"%s does not look like an executable (extension %q): %q",
			settingKey, filepath.Ext(normalized), normalized)}
	}

	return PathResult{Valid: true, Mode: PathModeExplicit, ResolvedPath: normalized}
}

// looksExecutable is a heuristic: on Windows the extension must be a known
// executable type; elsewhere the OS permission check at spawn time decides.
func looksExecutable(path string) bool {
	if runtime.GOOS != "windows" {
		return true
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".cmd", ".bat", ".com":
		return true
	default:
		return false
	}
}
