package run

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest is the cumulative artifact list for a run, so consumers can
// enumerate outputs without re-scanning the directory.
type Manifest struct {
	Artifacts []ManifestEntry `json:"artifacts"`
}

// ManifestEntry describes one file an executor produced.
type ManifestEntry struct {
	Kind   string          `json:"kind"` // e.g. "image", "table_parquet", "table_csv"
	Path   string          `json:"path"` // relative to the run dir
	MIME   string          `json:"mime"`
	Title  string          `json:"title,omitempty"`
	Width  int             `json:"width,omitempty"`
	Height int             `json:"height,omitempty"`
	Extra  json.RawMessage `json:"extra,omitempty"`
}

// AppendManifest adds an entry to manifest.json, preserving existing entries.
// A corrupt manifest is replaced rather than propagated.
func (r *Run) AppendManifest(entry ManifestEntry) error {
	var m Manifest
	if data, err := os.ReadFile(r.Path("manifest.json")); err == nil {
		if err := json.Unmarshal(data, &m); err != nil {
			m = Manifest{}
		}
	}
	m.Artifacts = append(m.Artifacts, entry)
	return r.writeJSON("manifest.json", m)
}

// ReadManifest loads the current manifest.
func (r *Run) ReadManifest() (Manifest, error) {
	data, err := os.ReadFile(r.Path("manifest.json"))
	if err != nil {
		return Manifest{}, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	return m, nil
}
