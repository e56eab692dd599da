// Package watch invalidates the unit catalog when scan roots change on disk.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/loykin/devdash/internal/event"
	"vawter.tech/stopper"
)

const DefaultDebounce = 300 * time.Millisecond

var ErrStarted = errors.New("watcher already started")

// Invalidator drops cached scan results.
type Invalidator interface {
	Invalidate()
}

type Options struct {
	Roots     []string
	Debounce  time.Duration
	Catalog   Invalidator
	Publisher event.Publisher
	Logger    *slog.Logger
}

// Watcher watches every root and its direct subdirectories. A burst of
// filesystem events results in one invalidation and one units-changed event.
type Watcher struct {
	roots    []string
	debounce time.Duration
	catalog  Invalidator
	pub      event.Publisher
	log      *slog.Logger

	mu      sync.Mutex
	sctx    *stopper.Context
	timer   *time.Timer
	lastDir string
}

func New(opts Options) *Watcher {
	d := opts.Debounce
	if d <= 0 {
		d = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		roots:    opts.Roots,
		debounce: d,
		catalog:  opts.Catalog,
		pub:      opts.Publisher,
		log:      log.With("component", "watch"),
	}
}

// Start begins watching. The watcher runs until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sctx != nil {
		return ErrStarted
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range w.roots {
		if err := fw.Add(root); err != nil {
			_ = fw.Close()
			return err
		}
		for _, dir := range subdirs(root) {
			w.add(fw, dir)
		}
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() { _ = fw.Close() })
	w.sctx = sctx

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
		})
		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					return nil
				}
				w.handle(fw, ev)
			case err, ok := <-fw.Errors:
				if !ok {
					return nil
				}
				w.log.Warn("watch error", "error", err)
			}
		}
		return nil
	})
	w.log.Info("watching roots", "roots", w.roots, "debounce", w.debounce)
	return nil
}

// Stop ends the watch goroutine and waits for it.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	sctx := w.sctx
	w.mu.Unlock()
	if sctx == nil {
		return nil
	}
	sctx.Stop(100 * time.Millisecond)
	return sctx.Wait()
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return
	}
	if ev.Has(fsnotify.Create) && w.isRootChild(ev.Name) {
		if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
			w.add(fw, ev.Name)
		}
	}
	w.log.Debug("fs event", "name", ev.Name, "op", ev.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastDir = filepath.Dir(ev.Name)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	dir := w.lastDir
	sctx := w.sctx
	w.mu.Unlock()
	if sctx != nil && sctx.IsStopping() {
		return
	}
	if w.catalog != nil {
		w.catalog.Invalidate()
	}
	if w.pub != nil {
		w.pub.Publish(event.UnitsChanged(dir))
	}
	w.log.Info("units changed", "dir", dir)
}

func (w *Watcher) isRootChild(name string) bool {
	parent := filepath.Dir(name)
	for _, r := range w.roots {
		if filepath.Clean(r) == parent {
			return true
		}
	}
	return false
}

func (w *Watcher) add(fw *fsnotify.Watcher, dir string) {
	if err := fw.Add(dir); err != nil {
		w.log.Warn("cannot watch directory", "dir", dir, "error", err)
	}
}

func subdirs(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		p := filepath.Join(root, e.Name())
		if st, err := os.Stat(p); err == nil && st.IsDir() {
			out = append(out, p)
		}
	}
	return out
}
