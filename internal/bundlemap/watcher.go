package bundlemap

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/sufield/trustbundle/internal/snapshot"
)

// Watcher reloads a bundle-map file whenever it is modified and hands each
// successfully loaded snapshot to an install callback. A failed reload is
// logged and discarded; the previously installed snapshot keeps serving.
type Watcher struct {
	path    string
	install func(*snapshot.Snapshot)
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
	stopped chan struct{}
}

// NewWatcher starts watching the bundle map at path. install is invoked on
// the watcher goroutine with every snapshot produced by a successful reload.
// A registration failure here is a startup error; once running, the watcher
// never terminates on its own.
//
// The parent directory is watched rather than the file itself so that
// rename-based replacement (the common atomic-write pattern) still delivers
// events for the path.
func NewWatcher(path string, install func(*snapshot.Snapshot), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating bundle map watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching bundle map directory: %w", err)
	}

	w := &Watcher{
		path:    path,
		install: install,
		fsw:     fsw,
		logger:  logger,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.run()

	logger.Info("watching trust bundle map", "path", path)
	return w, nil
}

// Close stops the watcher. Safe to call once.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	<-w.stopped
	return err
}

func (w *Watcher) run() {
	defer close(w.stopped)
	base := filepath.Base(w.path)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("bundle map watcher error", "path", w.path, "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	w.logger.Info("reloading trust bundle map", "path", w.path)
	snap, err := Load(w.path, w.logger)
	if err != nil {
		w.logger.Error("trust bundle map reload failed, keeping previous trust bundles",
			"path", w.path, "error", err)
		return
	}
	w.install(snap)
}
