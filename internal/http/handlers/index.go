package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"codecomfy/internal/domain"
	"codecomfy/internal/pruning"
	"codecomfy/pkg/zip"
)

// Index returns the workspace output index. An absent index reads as empty
// rather than an error.
func (a *App) Index(w http.ResponseWriter, r *http.Request) {
	index, err := a.readIndex()
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "output index unreadable")
		return
	}
	a.json(w, http.StatusOK, index)
}

// IndexArchive streams every indexed artifact as a single zip download.
func (a *App) IndexArchive(w http.ResponseWriter, r *http.Request) {
	index, err := a.readIndex()
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "output index unreadable")
		return
	}
	if len(index.Items) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no artifacts to export")
		return
	}

	entries := make([]zip.Entry, 0, len(index.Items))
	for _, item := range index.Items {
		entries = append(entries, zip.Entry{
			Name: filepath.Base(item.Path),
			Path: filepath.Join(a.WS.Root(), filepath.FromSlash(item.Path)),
		})
	}

	archive := zip.ArchiveFiles(entries)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=outputs-%s.zip", time.Now().UTC().Format("20060102-150405")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// PruneNow runs a retention sweep on demand and reports what it removed.
func (a *App) PruneNow(w http.ResponseWriter, r *http.Request) {
	result := pruning.Prune(a.WS, a.Prune)
	a.json(w, http.StatusOK, result)
}

func (a *App) readIndex() (domain.OutputIndex, error) {
	empty := domain.OutputIndex{
		SchemaVersion: domain.IndexSchemaVersion,
		WorkspaceKey:  a.WS.Key(),
		Items:         []domain.IndexedArtifact{},
	}

	data, err := os.ReadFile(a.WS.IndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return empty, err
	}
	var index domain.OutputIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return empty, err
	}
	if index.Items == nil {
		index.Items = []domain.IndexedArtifact{}
	}
	return index, nil
}
