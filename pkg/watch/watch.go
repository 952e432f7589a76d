// Package watch re-applies a file-backed engine configuration when the file
// changes on disk.
//
// The watcher follows the control status: while the engine runs from a
// local file (file:// or a plain path naming an existing file) the file's
// directory is watched, and a debounced write or create of the file calls
// SetEngine(true, descriptor) again. Directories are watched rather than
// files so editors that save by rename are seen. A failed reload of the
// watched file keeps the watch armed so fixing the file recovers. An
// explicit disable, a failed switch to another descriptor or a switch to a
// non-file descriptor disarms it and cancels any pending reload.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/getmockd/mockctl/pkg/control"
	"github.com/getmockd/mockctl/pkg/logging"
	"github.com/getmockd/mockctl/pkg/resolver"
)

// DefaultDebounce is the quiet period after the last event before a reload.
const DefaultDebounce = 250 * time.Millisecond

// Target is the part of control.Surface the watcher needs.
type Target interface {
	SetEngine(enable bool, descriptor string)
	Subscribe() (<-chan control.Status, func())
	Status() control.Status
}

// Watcher reloads the engine on configuration file changes.
type Watcher struct {
	target   Target
	debounce time.Duration
	log      *slog.Logger

	mu         sync.Mutex
	descriptor string
	path       string
	dir        string
	timer      *time.Timer
	running    bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// New creates a watcher for target.
func New(target Target, opts ...Option) *Watcher {
	w := &Watcher{
		target:   target,
		debounce: DefaultDebounce,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logging.Component(w.log, "watch")
	return w
}

// LocalPath returns the absolute file path a descriptor names, or "" when
// it does not name a local file.
func LocalPath(descriptor string) string {
	var p string
	switch resolver.SchemeOf(descriptor) {
	case resolver.SchemeFile:
		p = strings.TrimPrefix(descriptor, "file://")
	case resolver.SchemeGuess:
		info, err := os.Stat(descriptor)
		if err != nil || !info.Mode().IsRegular() {
			return ""
		}
		p = descriptor
	default:
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return ""
	}
	return abs
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	updates, unsubscribe := w.target.Subscribe()
	defer func() {
		unsubscribe()
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.running = false
		w.mu.Unlock()
		_ = fsw.Close()
	}()

	w.follow(fsw, w.target.Status())
	w.log.Info("config watcher started", "debounce_ms", w.debounce.Milliseconds())

	for {
		select {
		case <-ctx.Done():
			w.log.Info("config watcher stopped")
			return nil

		case st, ok := <-updates:
			if !ok {
				return nil
			}
			w.follow(fsw, st)

		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			w.handle(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.log.Error("file watcher error", "error", err)
		}
	}
}

// follow arms, moves or disarms the watch to match st.
func (w *Watcher) follow(fsw *fsnotify.Watcher, st control.Status) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var want string
	switch {
	case st.EngineEnabled:
		want = st.Descriptor
	case st.LastError != "" && st.FailedDescriptor == w.descriptor:
		// The armed file failed to load; keep watching it.
		return
	}

	path := LocalPath(want)
	if path == w.path && want == w.descriptor {
		return
	}

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if path == w.path {
		w.descriptor = want
		return
	}

	if w.dir != "" {
		if err := fsw.Remove(w.dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			w.log.Debug("removing watch", "dir", w.dir, "error", err)
		}
		w.log.Info("stopped watching configuration", "path", w.path)
	}
	w.descriptor, w.path, w.dir = "", "", ""

	if path == "" {
		return
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		w.log.Warn("cannot watch configuration", "path", path, "error", err)
		return
	}
	w.descriptor, w.path, w.dir = want, path, dir
	w.log.Info("watching configuration", "path", path)
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.path == "" || filepath.Clean(event.Name) != w.path {
		return
	}
	w.log.Debug("configuration file changed", "path", event.Name, "op", event.Op.String())

	if w.timer != nil {
		w.timer.Stop()
	}
	descriptor := w.descriptor
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		armed := w.timer == timer && w.descriptor == descriptor
		if armed {
			w.timer = nil
		}
		w.mu.Unlock()
		if !armed {
			return
		}
		w.log.Info("reloading engine configuration", "descriptor", descriptor)
		w.target.SetEngine(true, descriptor)
	})
	w.timer = timer
}
