package tools

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/datalab-sh/datalab/internal/run"
)

// artifactKinds maps file extensions worth recording in the manifest to
// their kind and mime type.
var artifactKinds = map[string]struct{ kind, mime string }{
	".png":     {"image", "image/png"},
	".svg":     {"image", "image/svg+xml"},
	".jpg":     {"image", "image/jpeg"},
	".parquet": {"table_parquet", "application/vnd.apache.parquet"},
	".csv":     {"table_csv", "text/csv"},
}

type artifactWatcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

// watchArtifacts records files created in the run directory while a cell is
// executing, appending a manifest entry for each recognized artifact.
// cellName and the store's own bookkeeping files are ignored. A nil watcher
// (setup failure) is returned as a no-op so callers never branch.
func watchArtifacts(r *run.Run, cellName string, log *slog.Logger) *artifactWatcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		if log != nil {
			log.Warn("artifact watcher unavailable", "err", err)
		}
		return &artifactWatcher{}
	}
	if err := w.Add(r.Dir); err != nil {
		w.Close()
		if log != nil {
			log.Warn("watching run dir", "err", err)
		}
		return &artifactWatcher{}
	}

	aw := &artifactWatcher{w: w, done: make(chan struct{})}
	go func() {
		defer close(aw.done)
		seen := map[string]bool{}
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
					continue
				}
				name := filepath.Base(ev.Name)
				if seen[name] || name == cellName || strings.HasSuffix(name, ".outcome.json") ||
					strings.HasSuffix(name, ".txt") || name == "manifest.json" || name == "preview.json" {
					continue
				}
				ak, recognized := artifactKinds[strings.ToLower(filepath.Ext(name))]
				if !recognized {
					continue
				}
				seen[name] = true
				if err := r.AppendManifest(run.ManifestEntry{Kind: ak.kind, Path: name, MIME: ak.mime}); err != nil && log != nil {
					log.Warn("appending manifest entry", "file", name, "err", err)
				}
			case <-w.Errors:
			}
		}
	}()
	return aw
}

// stop closes the watcher and waits for its goroutine; it must not outlive
// the executor call.
func (aw *artifactWatcher) stop() {
	if aw.w == nil {
		return
	}
	aw.w.Close()
	<-aw.done
}
