package coderstream

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"
)

// WorkspaceWatcher invalidates an Adapter's auto-exec dedup cache when a
// file changes out from under a tracked streaming write -- an fsnotify.Watcher
// with a debounce-free direct callback, narrowed to a single invalidation
// signal rather than the teacher's re-indexing use of the same pattern.
type WorkspaceWatcher struct {
	root    string
	watcher *fsnotify.Watcher
	ignore  *gitignore.GitIgnore
	log     *slog.Logger

	mu       sync.Mutex
	onChange func(relPath string)
}

// NewWorkspaceWatcher starts watching root for file changes. ignorePatterns
// follows the same gitignore-line syntax internal/tools/filesystem uses.
func NewWorkspaceWatcher(root string, ignorePatterns []string, log *slog.Logger) (*WorkspaceWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("coderstream: create watcher: %w", err)
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, fmt.Errorf("coderstream: watch root: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	var matcher *gitignore.GitIgnore
	if len(ignorePatterns) > 0 {
		matcher = gitignore.CompileIgnoreLines(ignorePatterns...)
	}
	ww := &WorkspaceWatcher{root: root, watcher: w, ignore: matcher, log: log}
	go ww.run()
	return ww, nil
}

// OnChange registers the callback invoked (with a root-relative path) for
// every non-ignored filesystem event.
func (w *WorkspaceWatcher) OnChange(fn func(relPath string)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

func (w *WorkspaceWatcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(w.root, ev.Name)
			if err != nil {
				continue
			}
			if w.ignore != nil && w.ignore.MatchesPath(rel) {
				continue
			}
			w.mu.Lock()
			cb := w.onChange
			w.mu.Unlock()
			if cb != nil {
				cb(rel)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("coderstream: workspace watcher error", "err", err)
		}
	}
}

// Close stops the watcher.
func (w *WorkspaceWatcher) Close() error { return w.watcher.Close() }

// InvalidateDedup clears an Adapter's auto-exec dedup state for toolIndex,
// forcing the next matching write to re-trigger even if its content length
// hasn't grown -- used when WorkspaceWatcher reports an out-of-band change
// to the file a streaming write is targeting.
func (a *Adapter) InvalidateDedup(toolIndex int) {
	delete(a.lastAutoExecLen, toolIndex)
	delete(a.lastAutoExecHash, toolIndex)
}
