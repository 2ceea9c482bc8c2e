// Package progress defines the structured progress surface shared by the
// scan, schedule, and clean passes. The core never writes to a terminal;
// callers observe per-file completion through a callback and collect
// per-file failures from the pass reports.
package progress

import "fmt"

// Func is invoked once per completed file. err is nil on success. It may be
// called concurrently from multiple workers; implementations must be safe
// for concurrent use. A nil Func is valid and means "no progress reporting".
type Func func(path string, err error)

// Report calls f if it is non-nil. Helper so callers don't litter nil checks.
func (f Func) Report(path string, err error) {
	if f != nil {
		f(path, err)
	}
}

// FileError ties a failure to the file it occurred on. Passes collect these
// instead of aborting: one bad file never stops its siblings.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error { return e.Err }
