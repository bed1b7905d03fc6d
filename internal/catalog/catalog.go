// Package catalog inventories completed downloads on the local filesystem.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/italolelis/batch_downloader/internal/transfer"
)

// File is one completed file of a directory.
type File struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// List returns the regular files directly under dir whose extension equals ext
// and whose name starts with prefix, sorted by name. Part files are never
// listed. An empty ext matches every extension.
func List(dir, ext, prefix string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []File

	for _, entry := range entries {
		name := entry.Name()

		if !entry.Type().IsRegular() ||
			strings.HasSuffix(name, transfer.PartSuffix) ||
			!strings.HasPrefix(name, prefix) ||
			(ext != "" && filepath.Ext(name) != ext) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue // removed while listing
		}

		files = append(files, File{
			Path:     filepath.Join(dir, name),
			Name:     name,
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return files, nil
}

// WriteIndex writes files as a JSON array to path. When relative is set, every
// entry's path is rewritten relative to the directory holding the index.
func WriteIndex(path string, files []File, relative bool) error {
	out := make([]File, len(files))
	copy(out, files)

	if relative {
		base, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return fmt.Errorf("failed to resolve index directory: %w", err)
		}

		for i := range out {
			abs, err := filepath.Abs(out[i].Path)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", out[i].Path, err)
			}

			rel, err := filepath.Rel(base, abs)
			if err != nil {
				return fmt.Errorf("failed to relativize %s: %w", out[i].Path, err)
			}

			out[i].Path = filepath.ToSlash(rel)
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	tmp := transfer.PartPath(path)

	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to promote index: %w", err)
	}

	return nil
}
