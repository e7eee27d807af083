package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"grimm.is/tether/internal/logging"
)

// Target receives full-state workspace replacements.
type Target interface {
	ApplyWorkspace(ctx context.Context, snap *Snapshot) error
}

// DefaultDebounce coalesces bursts of file events from editors.
const DefaultDebounce = 200 * time.Millisecond

// Watcher keeps the host in sync with the active workspace directory.
type Watcher struct {
	target   Target
	logger   *logging.Logger
	debounce time.Duration

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	dir     string
	watched map[string]bool
	current *Snapshot
	timer   *time.Timer
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher creates a watcher that pushes to target. Call Switch to
// select a workspace and Start to follow file changes.
func NewWatcher(target Target, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Watcher{
		target:   target,
		logger:   logger.WithComponent("workspace"),
		debounce: DefaultDebounce,
		watched:  make(map[string]bool),
	}
}

// SetDebounce changes the event coalescing window.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Current returns the last applied snapshot.
func (w *Watcher) Current() *Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Switch loads the workspace in dir, pushes it to the target and, when
// watching, moves the file watches to it. A load failure leaves the
// current workspace active. Once the snapshot reaches the target it is
// active even if applying part of it failed, so a later Reload re-reads
// dir rather than the previous workspace.
func (w *Watcher) Switch(ctx context.Context, dir string) error {
	snap, err := Load(dir)
	if err != nil {
		return err
	}
	applyErr := w.target.ApplyWorkspace(ctx, snap)
	if applyErr != nil {
		applyErr = fmt.Errorf("apply workspace %s: %w", snap.Name, applyErr)
	}

	w.mu.Lock()
	w.dir = snap.Dir
	w.current = snap
	watchErr := w.rewatchLocked(snap)
	w.mu.Unlock()

	w.logger.Info("workspace active", "name", snap.Name, "dir", snap.Dir,
		"rules", snap.Rules.Len(), "sources", len(snap.Sources))
	return errors.Join(applyErr, watchErr)
}

// Reload re-reads the active workspace.
func (w *Watcher) Reload(ctx context.Context) error {
	w.mu.Lock()
	dir := w.dir
	w.mu.Unlock()
	if dir == "" {
		return fmt.Errorf("no active workspace")
	}
	return w.Switch(ctx, dir)
}

// Start follows file changes until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}

	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		fsw.Close()
		return fmt.Errorf("watcher already started")
	}
	w.fsw = fsw
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.watched = make(map[string]bool)
	if w.current != nil {
		if err := w.rewatchLocked(w.current); err != nil {
			w.logger.Warn("watch workspace", "error", err)
		}
	}
	stop, done := w.stop, w.done
	w.mu.Unlock()

	go w.loop(ctx, fsw, stop, done)
	return nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fsw, stop, done := w.fsw, w.stop, w.done
	w.fsw = nil
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	close(stop)
	err := fsw.Close()
	<-done
	return err
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				w.schedule(ctx)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("workspace watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return false
	}
	name := filepath.Clean(event.Name)
	if name == filepath.Join(w.current.Dir, FileName) {
		return true
	}
	for _, p := range w.current.watchPaths {
		if name == filepath.Clean(p) {
			return true
		}
	}
	return false
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.Reload(ctx); err != nil {
			// Keep serving the last good workspace.
			w.logger.Warn("workspace reload failed", "error", err)
		}
	})
}

// rewatchLocked points the fsnotify watches at the directories holding
// the workspace file and its file sources. Editors replace files by
// rename, so directories are watched rather than files.
func (w *Watcher) rewatchLocked(snap *Snapshot) error {
	if w.fsw == nil {
		return nil
	}
	want := map[string]bool{snap.Dir: true}
	for _, p := range snap.watchPaths {
		want[filepath.Dir(p)] = true
	}
	for dir := range w.watched {
		if !want[dir] {
			_ = w.fsw.Remove(dir)
			delete(w.watched, dir)
		}
	}
	var firstErr error
	for dir := range want {
		if w.watched[dir] {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("watch %s: %w", dir, err)
			}
			continue
		}
		w.watched[dir] = true
	}
	return firstErr
}
