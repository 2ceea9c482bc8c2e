// Package clean is the maintenance pass over the state store: collapse
// duplicate rows, drop rows whose backing file no longer exists, and compact
// the database file.
package clean

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kasetta/retrack/internal/progress"
	"github.com/kasetta/retrack/internal/store"
)

// Cleaner runs the maintenance pass.
type Cleaner struct {
	Store    *store.Store
	Workers  int // Bounds concurrent existence checks; defaults to 1.
	Log      *logrus.Logger
	Progress progress.Func
}

// Report aggregates the outcome of one clean pass.
type Report struct {
	Deduped   int64 // Duplicate rows collapsed.
	Removed   int   // Rows dropped because the file is gone.
	Kept      int   // Rows whose file still exists.
	Cancelled bool
	Errors    []progress.FileError
}

// Run executes dedupe, prune, and compact in order. Per-path removal
// failures are collected and never abort the pass; dedupe or compact failing
// is fatal to the whole pass since the store itself is misbehaving.
func (c *Cleaner) Run(ctx context.Context) (Report, error) {
	var rep Report
	log := c.logger()

	if ctx.Err() != nil {
		rep.Cancelled = true
		return rep, nil
	}

	deduped, err := c.Store.Dedupe(ctx)
	if err != nil {
		return rep, err
	}
	rep.Deduped = deduped

	paths, err := c.Store.AllPaths(ctx)
	if err != nil {
		return rep, err
	}

	workers := c.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(workers)

	// Dispatched removals run to completion even if the pass is cancelled
	// mid-way; only new dispatches observe the cancellation.
	itemCtx := context.WithoutCancel(ctx)

	for _, path := range paths {
		if ctx.Err() != nil {
			mu.Lock()
			rep.Cancelled = true
			mu.Unlock()
			break
		}
		path := path
		g.Go(func() error {
			if _, err := os.Stat(path); err == nil || !os.IsNotExist(err) {
				mu.Lock()
				rep.Kept++
				mu.Unlock()
				return nil
			}

			rmErr := c.Store.Remove(itemCtx, path)
			c.Progress.Report(path, rmErr)

			mu.Lock()
			defer mu.Unlock()
			if rmErr != nil {
				rep.Errors = append(rep.Errors, progress.FileError{Path: path, Err: rmErr})
				log.WithField("path", path).Warnf("clean: %v", rmErr)
				return nil
			}
			rep.Removed++
			return nil
		})
	}
	_ = g.Wait()

	// Compaction is pure maintenance; a cancelled pass just skips it.
	if !rep.Cancelled {
		if err := c.Store.Compact(ctx); err != nil {
			return rep, err
		}
	}

	log.WithFields(logrus.Fields{
		"deduped": rep.Deduped,
		"removed": rep.Removed,
		"kept":    rep.Kept,
	}).Debug("clean finished")
	return rep, nil
}

func (c *Cleaner) logger() *logrus.Logger {
	if c.Log != nil {
		return c.Log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
