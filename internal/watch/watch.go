// Package watch keeps the state store reconciled while files change: after
// one initial scan it subscribes to filesystem notifications and routes each
// event through the scanner's per-file reconcile logic. The pending set
// stays fresh without re-walking the tree.
package watch

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/kasetta/retrack/internal/scan"
	"github.com/kasetta/retrack/internal/store"
)

// Watcher reconciles filesystem events against the store.
type Watcher struct {
	Scanner  *scan.Scanner
	Store    *store.Store
	Log      *logrus.Logger
	Debounce time.Duration // Per-path quiet window; 0 disables debouncing.

	mu   sync.Mutex
	last map[string]time.Time
}

// Run scans root once, then processes events until ctx is cancelled.
// Returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context, root string) error {
	log := w.logger()

	rep, err := w.Scanner.Scan(ctx, root)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"scanned": rep.Scanned, "inserted": rep.Inserted, "updated": rep.Updated,
	}).Info("initial scan done, watching for changes")

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	canonRoot, err := scan.Canonical(root)
	if err != nil {
		return err
	}
	if err := watchTree(fw, canonRoot); err != nil {
		return err
	}

	w.last = make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, event, log)
		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warnf("watch: %v", werr)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event, log *logrus.Logger) {
	path := event.Name

	switch {
	case event.Op.Has(fsnotify.Create):
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			// New directory: watch it; files moved in with it will
			// surface on the next full scan or their own events.
			if err := watchTree(fw, path); err != nil {
				log.Warnf("watch %s: %v", path, err)
			}
			return
		}
		w.reconcile(ctx, path, log)

	case event.Op.Has(fsnotify.Write):
		w.reconcile(ctx, path, log)

	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		if !w.Scanner.Select(path) {
			return
		}
		// The file is gone, so its canonical form can't be resolved;
		// the cleaned-up absolute path matches rows for non-symlinked
		// files, and the clean pass catches any leftover.
		abs, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if err := w.Store.Remove(ctx, abs); err != nil {
			log.WithField("path", abs).Warnf("watch remove: %v", err)
			return
		}
		log.WithField("path", abs).Debug("untracked removed file")
	}
}

func (w *Watcher) reconcile(ctx context.Context, path string, log *logrus.Logger) {
	if !w.Scanner.Select(path) || !w.settle(path) {
		return
	}
	outcome, err := w.Scanner.Reconcile(ctx, path)
	if err != nil {
		log.WithField("path", path).Warnf("watch reconcile: %v", err)
		return
	}
	if outcome == scan.OutcomeInserted || outcome == scan.OutcomeUpdated {
		log.WithField("path", path).Debug("reconciled changed file")
	}
}

// settle rate-limits per-path reconciliation: events inside the debounce
// window of the last handled one are dropped. Writers emit bursts of Write
// events; the final event after the window re-evaluates the file.
func (w *Watcher) settle(path string) bool {
	if w.Debounce <= 0 {
		return true
	}
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.last[path]; ok && now.Sub(last) < w.Debounce {
		return false
	}
	w.last[path] = now
	return true
}

func (w *Watcher) logger() *logrus.Logger {
	if w.Log != nil {
		return w.Log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// watchTree registers dir and every directory below it.
func watchTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return fw.Add(path)
	})
}
