// Package manifest reads the list of files a batch should download.
package manifest

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Entry is one URL and where to store it.
type Entry struct {
	URL string `yaml:"url"`
	// Destination is resolved against the manifest's base_dir when relative.
	// When empty, the last element of the URL path is used.
	Destination string `yaml:"destination,omitempty"`
}

// Manifest is the on-disk description of a batch.
type Manifest struct {
	BaseDir string  `yaml:"base_dir,omitempty"`
	Files   []Entry `yaml:"files"`
}

// Load parses the manifest at path. A relative base_dir is resolved against
// the manifest's own directory.
func Load(p string) (*Manifest, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", p, err)
	}

	if !filepath.IsAbs(m.BaseDir) {
		m.BaseDir = filepath.Join(filepath.Dir(p), m.BaseDir)
	}

	return m, nil
}

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	for i, e := range m.Files {
		if e.URL == "" {
			return nil, fmt.Errorf("entry %d: url is required", i)
		}

		if e.Destination == "" {
			u, err := url.Parse(e.URL)
			if err != nil {
				return nil, fmt.Errorf("entry %d: invalid url: %w", i, err)
			}

			name := path.Base(u.Path)
			if name == "/" || name == "." {
				return nil, fmt.Errorf("entry %d: cannot derive a file name from %s", i, e.URL)
			}

			m.Files[i].Destination = name
		}
	}

	return &m, nil
}

// Pairs returns the URLs and their resolved destinations, in manifest order.
func (m *Manifest) Pairs() (urls, destinations []string) {
	urls = make([]string, 0, len(m.Files))
	destinations = make([]string, 0, len(m.Files))

	for _, e := range m.Files {
		dest := e.Destination
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(m.BaseDir, dest)
		}

		urls = append(urls, e.URL)
		destinations = append(destinations, dest)
	}

	return urls, destinations
}

// Roots returns the distinct parent directories of every destination.
func (m *Manifest) Roots() []string {
	_, destinations := m.Pairs()

	seen := make(map[string]struct{}, len(destinations))

	var roots []string

	for _, d := range destinations {
		dir := filepath.Dir(d)
		if _, ok := seen[dir]; ok {
			continue
		}

		seen[dir] = struct{}{}
		roots = append(roots, dir)
	}

	return roots
}
