// Package run allocates per-invocation working directories and owns every
// artifact written during a run: tool outcomes, previews, cards, the
// manifest, and raw process output. Nothing outside this package writes into
// another run's directory.
package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

// Run is one bounded invocation: an opaque id and a dedicated directory that
// is the sole writable sandbox for its artifacts. The caller owns the
// directory's lifecycle; the core never deletes it.
type Run struct {
	ID  string
	Dir string
}

// New allocates a fresh run directory under root, with a cards/ subdirectory,
// an empty manifest, and an empty debug log. The uuid id is collision-free
// under concurrent callers.
func New(root string) (*Run, error) {
	id := uuid.NewString()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(filepath.Join(dir, "cards"), 0o755); err != nil {
		return nil, fmt.Errorf("creating run dir %q: %w", dir, err)
	}
	r := &Run{ID: id, Dir: dir}
	if err := r.writeJSON("manifest.json", Manifest{Artifacts: []ManifestEntry{}}); err != nil {
		return nil, err
	}
	if err := os.WriteFile(r.Path("debug.log"), nil, 0o644); err != nil {
		return nil, fmt.Errorf("creating debug log: %w", err)
	}
	return r, nil
}

// Attach wraps an existing run directory without touching it.
func Attach(dir string) *Run {
	return &Run{ID: filepath.Base(dir), Dir: dir}
}

// Path resolves a name relative to the run directory.
func (r *Run) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

// SaveOutcome persists the last ToolOutcome for a tool kind as
// <tool>.outcome.json. Persistence failures are fatal to the run contract,
// so the error is returned rather than swallowed.
func (r *Run) SaveOutcome(tool string, outcome any) error {
	return r.writeJSON(tool+".outcome.json", outcome)
}

// SavePreview persists the last extracted preview JSON.
func (r *Run) SavePreview(preview json.RawMessage) error {
	var pretty any
	if err := json.Unmarshal(preview, &pretty); err != nil {
		return fmt.Errorf("preview is not valid JSON: %w", err)
	}
	return r.writeJSON("preview.json", pretty)
}

// WriteStdio writes the raw captured process output for forensic replay.
func (r *Run) WriteStdio(tool, stdout, stderr string) error {
	if err := os.WriteFile(r.Path(tool+".stdout.txt"), []byte(stdout), 0o644); err != nil {
		return fmt.Errorf("writing %s stdout: %w", tool, err)
	}
	if err := os.WriteFile(r.Path(tool+".stderr.txt"), []byte(stderr), 0o644); err != nil {
		return fmt.Errorf("writing %s stderr: %w", tool, err)
	}
	return nil
}

func (r *Run) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", name, err)
	}
	if err := os.WriteFile(r.Path(name), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Info identifies a run found under a runs root.
type Info struct {
	ID  string
	Dir string
}

// List returns up to limit runs under root, newest id first.
func List(root string, limit int) ([]Info, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading runs root %q: %w", root, err)
	}
	var runs []Info
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, Info{ID: e.Name(), Dir: filepath.Join(root, e.Name())})
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID > runs[j].ID })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
