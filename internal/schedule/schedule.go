// Package schedule drives the external transform over the pending set with
// a fixed worker pool and cooperative cancellation. A run operates on a
// snapshot of the pending set taken at start; files that become pending
// mid-run are picked up by the next run.
package schedule

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kasetta/retrack/internal/progress"
	"github.com/kasetta/retrack/internal/store"
)

// Transform re-processes one file, replacing it in place. It must leave the
// original untouched on failure and perform its own atomic rename-into-place
// on success.
type Transform func(ctx context.Context, path string) error

// Pool runs the transform over pending files.
type Pool struct {
	Store     *store.Store
	Transform Transform
	Workers   int // Pool size; defaults to 1.
	Log       *logrus.Logger
	Progress  progress.Func
}

// Report aggregates the outcome of one run.
type Report struct {
	Succeeded      int
	Failed         int
	SkippedMissing int // File vanished before processing; row removed.
	StillPending   int // Snapshot items never dispatched due to cancellation.
	Cancelled      bool
	BytesIn        int64 // Original sizes of successfully transformed files.
	BytesOut       int64 // Sizes after transformation.
	Errors         []progress.FileError
}

// SpaceSaved returns the aggregate byte difference across successful
// transforms. Positive means outputs are smaller.
func (r *Report) SpaceSaved() int64 {
	return r.BytesIn - r.BytesOut
}

// Run snapshots the pending set and processes each item once under the
// worker pool. Cancellation stops dispatch between items; in-flight
// transforms finish and their rows are updated, so every row ends either
// fully processed or still pending.
func (p *Pool) Run(ctx context.Context) (Report, error) {
	var rep Report

	pending, err := p.Store.Pending(ctx)
	if err != nil {
		return rep, err
	}
	// One worker per path within a run: duplicate rows (possible before a
	// dedupe pass) collapse to a single work item.
	work := uniq(pending)

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(work) {
		workers = len(work)
	}

	log := p.logger()
	log.WithFields(logrus.Fields{"pending": len(work), "workers": workers}).
		Debug("run starting")
	if len(work) == 0 {
		return rep, nil
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan string)
	)

	// Once an item is dispatched it runs to completion: no forced
	// preemption of the transform, and the row update after a finished
	// transform must commit even when the run was cancelled meanwhile.
	itemCtx := context.WithoutCancel(ctx)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				p.process(itemCtx, path, &rep, &mu, log)
			}
		}()
	}

	// Dispatch loop: an unbuffered channel hands one item per free worker
	// slot; the send blocks until capacity is available, so there is no
	// polling. Cancellation is observed between dispatch decisions only.
dispatch:
	for i, path := range work {
		// Priority check so a free worker slot never wins the select
		// race against an already-signalled cancellation.
		if ctx.Err() != nil {
			mu.Lock()
			rep.Cancelled = true
			rep.StillPending = len(work) - i
			mu.Unlock()
			break dispatch
		}
		select {
		case <-ctx.Done():
			mu.Lock()
			rep.Cancelled = true
			rep.StillPending = len(work) - i
			mu.Unlock()
			break dispatch
		case jobs <- path:
		}
	}
	close(jobs)
	wg.Wait()

	log.WithFields(logrus.Fields{
		"succeeded": rep.Succeeded,
		"failed":    rep.Failed,
		"missing":   rep.SkippedMissing,
		"pending":   rep.StillPending,
	}).Debug("run finished")
	return rep, nil
}

// process handles one file: vanished files drop their row, otherwise the
// transform runs and the row is cleared on success. A failing transform
// leaves the row pending for the next run; there is no retry within a run.
func (p *Pool) process(ctx context.Context, path string, rep *Report, mu *sync.Mutex, log *logrus.Logger) {
	record := func(fn func()) {
		mu.Lock()
		fn()
		mu.Unlock()
	}

	fi, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.Progress.Report(path, err)
			record(func() {
				rep.Failed++
				rep.Errors = append(rep.Errors, progress.FileError{Path: path, Err: err})
			})
			return
		}
		// File vanished since it was tracked: benign, drop the row.
		if rerr := p.Store.Remove(ctx, path); rerr != nil {
			p.Progress.Report(path, rerr)
			record(func() {
				rep.Failed++
				rep.Errors = append(rep.Errors, progress.FileError{Path: path, Err: rerr})
			})
			return
		}
		p.Progress.Report(path, nil)
		record(func() { rep.SkippedMissing++ })
		return
	}
	sizeIn := fi.Size()

	if err := p.Transform(ctx, path); err != nil {
		log.WithField("path", path).Warnf("transform: %v", err)
		p.Progress.Report(path, err)
		record(func() {
			rep.Failed++
			rep.Errors = append(rep.Errors, progress.FileError{Path: path, Err: err})
		})
		return
	}

	out, err := os.Stat(path)
	if err != nil {
		// Transformed, then vanished before we could observe it. Treat
		// like any other vanished file.
		if rerr := p.Store.Remove(ctx, path); rerr == nil {
			p.Progress.Report(path, nil)
			record(func() { rep.SkippedMissing++ })
			return
		}
		p.Progress.Report(path, err)
		record(func() {
			rep.Failed++
			rep.Errors = append(rep.Errors, progress.FileError{Path: path, Err: err})
		})
		return
	}

	markErr := p.Store.MarkProcessed(ctx, path, out.ModTime().Unix())
	p.Progress.Report(path, markErr)
	record(func() {
		rep.Succeeded++
		rep.BytesIn += sizeIn
		rep.BytesOut += out.Size()
		if markErr != nil {
			// The file is correctly processed; it will be redundantly
			// re-processed next run. Safe, never data loss.
			rep.Errors = append(rep.Errors, progress.FileError{Path: path, Err: markErr})
		}
	})
	if markErr != nil {
		log.WithField("path", path).Warnf("mark processed: %v", markErr)
	}
}

func (p *Pool) logger() *logrus.Logger {
	if p.Log != nil {
		return p.Log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func uniq(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
