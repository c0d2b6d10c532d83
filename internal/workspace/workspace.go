package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codecomfy/internal/domain"
)

// On-disk layout constants. Everything the core persists lives under
// <workspace>/.codecomfy/.
const (
	CodecomfyDir  = ".codecomfy"
	OutputsDir    = "outputs"
	RunsDir       = "runs"
	FramesDir     = "frames"
	IndexFilename = "index.json"
)

// Workspace wraps a workspace root directory and owns the .codecomfy layout
// beneath it. It is intentionally dumb about content: callers decide what to
// write, the workspace decides where and how.
type Workspace struct {
	root string
}

// Open validates the root directory and returns a Workspace rooted there.
func Open(root string) (*Workspace, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("%w: root path is required", domain.ErrWorkspace)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve root: %v", domain.ErrWorkspace, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: root not accessible: %v", domain.ErrWorkspace, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: root is not a directory: %s", domain.ErrWorkspace, abs)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// Key is a stable deterministic identifier for this workspace, derived from
// the absolute root path. It never changes for a given workspace.
func (w *Workspace) Key() string {
	sum := sha256.Sum256([]byte(w.root))
	return hex.EncodeToString(sum[:])[:16]
}

// EnsureLayout creates the outputs and runs directories if absent.
func (w *Workspace) EnsureLayout() error {
	for _, dir := range []string{w.OutputsPath(), w.RunsPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("workspace: ensure %s: %w", dir, err)
		}
	}
	return nil
}

// OutputsPath returns the absolute final-artifacts directory.
func (w *Workspace) OutputsPath() string {
	return Outputs(w.root)
}

// RunsPath returns the absolute runs directory.
func (w *Workspace) RunsPath() string {
	return Runs(w.root)
}

// RunPath returns the absolute folder for one run.
func (w *Workspace) RunPath(runID string) string {
	return Run(w.root, runID)
}

// IndexPath returns the absolute path of the output index document.
func (w *Workspace) IndexPath() string {
	return filepath.Join(Outputs(w.root), IndexFilename)
}

// Rel converts an absolute path under the workspace root into the persisted
// form: root-relative with forward slashes regardless of host OS.
func (w *Workspace) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", fmt.Errorf("workspace: relativize %s: %w", abs, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace: path escapes root: %s", abs)
	}
	return filepath.ToSlash(rel), nil
}

// WriteJSON writes v as indented JSON, non-atomically. Suitable for run-scoped
// files that have a single writer.
func (w *Workspace) WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("workspace: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// AtomicWriteJSON writes v to a uniquely named temporary file in the target
// directory and renames it over path. The rename is the sole atomicity
// boundary: a crash mid-write never corrupts the previous file.
func (w *Workspace) AtomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: marshal %s: %w", filepath.Base(path), err)
	}
	return AtomicWriteFile(path, append(data, '\n'), 0o644)
}

// AtomicWriteFile writes data to a temp file next to path, then renames it
// into place. The temp file is removed on any failure before the rename.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Package-level path helpers for callers that carry a raw workspace path
// (the engine receives workspace_path on the request record).

// Outputs returns the absolute final-artifacts directory for a root.
func Outputs(root string) string {
	return filepath.Join(root, CodecomfyDir, OutputsDir)
}

// Runs returns the absolute runs directory for a root.
func Runs(root string) string {
	return filepath.Join(root, CodecomfyDir, RunsDir)
}

// Run returns the absolute folder for one run under a root.
func Run(root, runID string) string {
	return filepath.Join(Runs(root), runID)
}

// Frames returns the absolute per-run frame collection folder.
func Frames(root, runID string) string {
	return filepath.Join(Run(root, runID), FramesDir)
}

// Rel relativizes abs against root with forward slashes.
func Rel(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
