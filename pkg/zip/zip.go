// Package zip builds in-memory archives of generated artifacts for export.
package zip

import (
	"archive/zip"
	"bytes"
	"os"
)

// Entry names one file to include in an archive.
type Entry struct {
	// Name is the filename inside the archive.
	Name string
	// Path is the absolute location on disk.
	Path string
}

// ArchiveFiles packs the named files into a zip archive. Unreadable entries
// are skipped so one missing artifact does not sink the whole export.
func ArchiveFiles(entries []Entry) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, entry := range entries {
		data, err := os.ReadFile(entry.Path)
		if err != nil {
			continue
		}
		w, err := zw.Create(entry.Name)
		if err != nil {
			continue
		}
		if _, err := w.Write(data); err != nil {
			return nil
		}
	}
	_ = zw.Close()
	return buf.Bytes()
}
