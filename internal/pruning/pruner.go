// Package pruning enforces count- and age-based retention over completed run
// folders and the output index, keeping workspace growth bounded.
package pruning

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"codecomfy/internal/domain"
	"codecomfy/internal/infra"
	"codecomfy/internal/workspace"
)

// Defaults mirror the shipped retention policy.
const (
	DefaultMaxRuns    = 200
	DefaultMaxAgeDays = 30
)

// Options tunes one prune sweep.
type Options struct {
	MaxRuns    int
	MaxAgeDays int
	// Now is the reference time for age calculation; zero means time.Now().
	Now    time.Time
	Logger infra.Logger
}

// Result reports what a sweep removed. Per-run failures are recorded and do
// not abort the sweep.
type Result struct {
	PrunedRuns         int      `json:"pruned_runs"`
	PrunedIndexEntries int      `json:"pruned_index_entries"`
	Errors             []string `json:"errors,omitempty"`
}

type runEntry struct {
	runID     string
	dirPath   string
	createdAt time.Time
}

// Prune removes run folders that are both beyond the count limit and older
// than the age limit, then drops their index entries. When the run count is
// within the limit an age-only sweep still applies. Idempotent: a second
// sweep with no new runs prunes nothing.
func Prune(ws *workspace.Workspace, opts Options) Result {
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = DefaultMaxRuns
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = DefaultMaxAgeDays
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var result Result

	runs := listRuns(ws.RunsPath())
	ageCutoff := now.Add(-time.Duration(opts.MaxAgeDays) * 24 * time.Hour)

	if len(runs) <= opts.MaxRuns {
		// Count within limit: age policy still applies to every run.
		var expired []runEntry
		for _, r := range runs {
			if r.createdAt.Before(ageCutoff) {
				expired = append(expired, r)
			}
		}
		if len(expired) == 0 {
			return result
		}
		return pruneSelected(ws, expired, opts.Logger, result)
	}

	// Count exceeded: only the excess beyond the newest MaxRuns is a
	// candidate, and it must be old enough as well.
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].createdAt.After(runs[j].createdAt)
	})
	excess := runs[opts.MaxRuns:]

	var toPrune []runEntry
	for _, r := range excess {
		if r.createdAt.Before(ageCutoff) {
			toPrune = append(toPrune, r)
		}
	}
	if len(toPrune) == 0 {
		return result
	}
	return pruneSelected(ws, toPrune, opts.Logger, result)
}

// listRuns enumerates run directories with their creation timestamps:
// request.json created_at when readable, folder mtime otherwise.
func listRuns(runsDir string) []runEntry {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return nil
	}

	var runs []runEntry
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirPath := filepath.Join(runsDir, entry.Name())
		runs = append(runs, runEntry{
			runID:     entry.Name(),
			dirPath:   dirPath,
			createdAt: runTimestamp(dirPath),
		})
	}
	return runs
}

func runTimestamp(dirPath string) time.Time {
	if data, err := os.ReadFile(filepath.Join(dirPath, "request.json")); err == nil {
		var record struct {
			CreatedAt time.Time `json:"created_at"`
		}
		if json.Unmarshal(data, &record) == nil && !record.CreatedAt.IsZero() {
			return record.CreatedAt
		}
	}

	if info, err := os.Stat(dirPath); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

func pruneSelected(ws *workspace.Workspace, toPrune []runEntry, logger infra.Logger, result Result) Result {
	pruned := make(map[string]bool, len(toPrune))

	for _, entry := range toPrune {
		if err := os.RemoveAll(entry.dirPath); err != nil {
			msg := fmt.Sprintf("failed to prune %s: %v", entry.runID, err)
			logger.Warn().Str("run_id", entry.runID).Err(err).Msg("pruner: remove failed")
			result.Errors = append(result.Errors, msg)
			continue
		}
		pruned[entry.runID] = true
		result.PrunedRuns++
		logger.Info().Str("run_id", entry.runID).Msg("pruner: pruned run")
	}

	if len(pruned) > 0 {
		removed, err := pruneIndexEntries(ws, pruned)
		result.PrunedIndexEntries = removed
		if err != nil {
			msg := fmt.Sprintf("failed to prune index: %v", err)
			logger.Warn().Err(err).Msg("pruner: index update failed")
			result.Errors = append(result.Errors, msg)
		}
	}

	return result
}

// pruneIndexEntries drops index items belonging to pruned runs, using the
// same read-modify-atomic-rename discipline as the router's index update.
func pruneIndexEntries(ws *workspace.Workspace, prunedRunIDs map[string]bool) (int, error) {
	data, err := os.ReadFile(ws.IndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var index domain.OutputIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return 0, err
	}

	kept := index.Items[:0:0]
	for _, item := range index.Items {
		if !prunedRunIDs[item.RunID] {
			kept = append(kept, item)
		}
	}
	removed := len(index.Items) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if kept == nil {
		kept = []domain.IndexedArtifact{}
	}
	index.Items = kept

	if err := ws.AtomicWriteJSON(ws.IndexPath(), index); err != nil {
		return 0, err
	}
	return removed, nil
}
