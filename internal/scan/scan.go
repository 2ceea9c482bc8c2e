// Package scan reconciles a directory tree with the state store: new
// matching files are classified and inserted, files whose modification time
// drifted are re-classified, and untouched files are skipped without
// re-inspection. That skip is what keeps repeated scans cheap on large
// libraries.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kasetta/retrack/internal/progress"
	"github.com/kasetta/retrack/internal/store"
)

// ErrInvalidRoot is returned when the scan target is not an existing
// directory. Fatal to that scan call only.
var ErrInvalidRoot = errors.New("scan root is not a directory")

// Classifier reports whether a file already satisfies the target signature.
// Conforming files are tracked but not pending.
type Classifier func(ctx context.Context, path string) (conforms bool, err error)

// Selector decides which files are candidates (typically by extension).
type Selector func(path string) bool

// Outcome describes what Reconcile did for one file.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota // Row present, modtime matches.
	OutcomeInserted                 // First sighting, row created.
	OutcomeUpdated                  // Modtime drifted, row re-evaluated.
	OutcomeSkipped                  // File vanished mid-scan; benign.
)

// Scanner walks a tree and reconciles each candidate file against the store.
type Scanner struct {
	Store    *store.Store
	Classify Classifier
	Select   Selector
	Log      *logrus.Logger
	Limit    int // Max concurrent file inspections; defaults to 1.
	Progress progress.Func
}

// Report aggregates the outcome of one scan. Per-file failures are collected
// here and never abort sibling files.
type Report struct {
	Scanned   int
	Inserted  int
	Updated   int
	Unchanged int
	Skipped   int // Vanished between discovery and inspection; benign.
	Cancelled bool
	Errors    []progress.FileError
}

// Scan walks root and reconciles every file the selector accepts. The whole
// fan-out is awaited before the report is returned. Cancellation stops the
// walk between files and is reported via Report.Cancelled, not as an error.
func (s *Scanner) Scan(ctx context.Context, root string) (Report, error) {
	var rep Report

	fi, err := os.Stat(root)
	if err != nil || !fi.IsDir() {
		return rep, fmt.Errorf("%w: %s", ErrInvalidRoot, root)
	}
	canonRoot, err := Canonical(root)
	if err != nil {
		return rep, fmt.Errorf("%w: %s", ErrInvalidRoot, root)
	}

	log := s.logger()
	limit := s.Limit
	if limit < 1 {
		limit = 1
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(limit)

	// Files already handed to a worker are inspected to completion;
	// cancellation only stops the walk from dispatching more.
	itemCtx := context.WithoutCancel(ctx)

	walkErr := filepath.WalkDir(canonRoot, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			mu.Lock()
			rep.Cancelled = true
			mu.Unlock()
			return filepath.SkipAll
		}
		if err != nil {
			mu.Lock()
			rep.Errors = append(rep.Errors, progress.FileError{Path: path, Err: err})
			mu.Unlock()
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !s.Select(path) {
			return nil
		}

		g.Go(func() error {
			outcome, rerr := s.Reconcile(itemCtx, path)
			s.Progress.Report(path, rerr)

			mu.Lock()
			defer mu.Unlock()
			rep.Scanned++
			switch {
			case rerr != nil:
				rep.Errors = append(rep.Errors, progress.FileError{Path: path, Err: rerr})
				log.WithField("path", path).Warnf("scan: %v", rerr)
			case outcome == OutcomeInserted:
				rep.Inserted++
			case outcome == OutcomeUpdated:
				rep.Updated++
			case outcome == OutcomeSkipped:
				rep.Skipped++
			default:
				rep.Unchanged++
			}
			return nil
		})
		return nil
	})

	// Workers only record, never fail the group.
	_ = g.Wait()

	if walkErr != nil {
		return rep, fmt.Errorf("walk %s: %w", canonRoot, walkErr)
	}

	log.WithFields(logrus.Fields{
		"scanned":  rep.Scanned,
		"inserted": rep.Inserted,
		"updated":  rep.Updated,
		"errors":   len(rep.Errors),
	}).Debug("scan finished")
	return rep, nil
}

// Reconcile brings the store row for a single file in line with the
// filesystem. Also used by watch mode for event-driven updates.
//
// A file that vanishes between discovery and inspection yields
// OutcomeSkipped, not an error.
func (s *Scanner) Reconcile(ctx context.Context, path string) (Outcome, error) {
	canon, err := Canonical(path)
	if err != nil {
		if os.IsNotExist(err) {
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}
	fi, err := os.Stat(canon)
	if err != nil {
		if os.IsNotExist(err) {
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}
	mtime := fi.ModTime().Unix()

	tracked, ok, err := s.Store.ModTime(ctx, canon)
	if err != nil {
		return OutcomeSkipped, err
	}

	if !ok {
		conforms, err := s.Classify(ctx, canon)
		if err != nil {
			return OutcomeSkipped, fmt.Errorf("classify: %w", err)
		}
		err = s.Store.UpsertNew(ctx, canon, !conforms, mtime)
		if errors.Is(err, store.ErrAlreadyExists) {
			// Lost the insert race to a sibling worker.
			return OutcomeUnchanged, nil
		}
		if err != nil {
			return OutcomeSkipped, err
		}
		return OutcomeInserted, nil
	}

	if tracked == mtime {
		return OutcomeUnchanged, nil
	}

	// Modtime drifted: the file changed since last tracked. Pending unless
	// the classifier says it already conforms.
	conforms, err := s.Classify(ctx, canon)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("classify: %w", err)
	}
	if err := s.Store.Refresh(ctx, canon, !conforms, mtime); err != nil {
		return OutcomeSkipped, err
	}
	return OutcomeUpdated, nil
}

func (s *Scanner) logger() *logrus.Logger {
	if s.Log != nil {
		return s.Log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Canonical returns the absolute, symlink-resolved form of path. All store
// keys go through this so the same file is never tracked twice.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
