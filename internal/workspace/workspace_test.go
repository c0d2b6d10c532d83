package workspace

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codecomfy/internal/domain"
)

func TestOpenRejectsMissingRoot(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, domain.ErrWorkspace) {
		t.Fatalf("missing root should be rejected with ErrWorkspace, got %v", err)
	}
	if _, err := Open("  "); !errors.Is(err, domain.ErrWorkspace) {
		t.Fatalf("blank root should be rejected with ErrWorkspace, got %v", err)
	}
}

func TestOpenRejectsFileRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("file root should be rejected")
	}
}

func TestEnsureLayoutCreatesDirectories(t *testing.T) {
	ws, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := ws.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	for _, dir := range []string{ws.OutputsPath(), ws.RunsPath()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory at %s: %v", dir, err)
		}
	}
	// Idempotent.
	if err := ws.EnsureLayout(); err != nil {
		t.Fatalf("second EnsureLayout: %v", err)
	}
}

func TestKeyIsStableAndDistinct(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	wsA1, _ := Open(dirA)
	wsA2, _ := Open(dirA)
	wsB, _ := Open(dirB)

	if wsA1.Key() != wsA2.Key() {
		t.Fatalf("key should be deterministic: %q vs %q", wsA1.Key(), wsA2.Key())
	}
	if wsA1.Key() == wsB.Key() {
		t.Fatalf("different roots should have different keys")
	}
	if len(wsA1.Key()) != 16 {
		t.Fatalf("key should be 16 hex chars, got %q", wsA1.Key())
	}
}

func TestRelProducesForwardSlashes(t *testing.T) {
	ws, _ := Open(t.TempDir())
	abs := filepath.Join(ws.Root(), CodecomfyDir, OutputsDir, "img.png")

	rel, err := ws.Rel(abs)
	if err != nil {
		t.Fatalf("Rel: %v", err)
	}
	if rel != ".codecomfy/outputs/img.png" {
		t.Fatalf("unexpected relative path %q", rel)
	}
}

func TestRelRejectsEscape(t *testing.T) {
	ws, _ := Open(t.TempDir())
	if _, err := ws.Rel(filepath.Dir(ws.Root())); err == nil {
		t.Fatalf("path outside the root should be rejected")
	}
}

func TestAtomicWriteFileReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	if err := AtomicWriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("unexpected content %q", data)
	}

	// No temp files may survive.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp.") {
			t.Fatalf("leftover temp file %s", entry.Name())
		}
	}
}

func TestAtomicWriteJSONRoundTrip(t *testing.T) {
	ws, _ := Open(t.TempDir())
	if err := ws.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}

	payload := map[string]any{"schema_version": "1.0", "items": []string{"a"}}
	if err := ws.AtomicWriteJSON(ws.IndexPath(), payload); err != nil {
		t.Fatalf("AtomicWriteJSON: %v", err)
	}

	data, err := os.ReadFile(ws.IndexPath())
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["schema_version"] != "1.0" {
		t.Fatalf("unexpected payload %#v", decoded)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Fatalf("written JSON should end with a newline")
	}
}
