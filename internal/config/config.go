// Package config holds runtime configuration: defaults, validation, and the
// selector derived from the tracked extensions. The CLI layer populates a
// Config from flags and environment before handing it (by pointer) to the
// packages that need it.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// maxDefaultJobs caps the worker default on large machines; the transform is
// usually disk-bound well before 8 parallel encodes.
const maxDefaultJobs = 8

// Config holds all runtime settings. Populated by [DefaultConfig] and then
// mutated by the CLI before being passed to the scan/run/clean passes.
type Config struct {
	// DBPath is the state database location. Empty means the per-user
	// default from [DefaultDBPath].
	DBPath string

	// Jobs bounds worker parallelism for the run and clean passes and the
	// scan fan-out. Default: NumCPU capped at 8.
	Jobs int

	// Extensions are the tracked file extensions, lowercase with leading
	// dot. Default: .flac only.
	Extensions []string

	// EncoderArgs are passed to the flac binary before the input path.
	EncoderArgs []string

	// RefVendor is the libFLAC version a conforming file must have been
	// written by. Files tagged with any other vendor are pending.
	RefVendor string

	// Debounce is the per-path quiet window in watch mode, absorbing the
	// write bursts editors and rippers produce.
	Debounce time.Duration

	// Display and logging.
	Verbose bool
	LogFile string
}

// DefaultConfig returns a Config with defaults matching the historical
// behavior of the tool: flac files only, -8 re-encode, worker count from the
// CPU count.
func DefaultConfig() Config {
	jobs := runtime.NumCPU()
	if jobs > maxDefaultJobs {
		jobs = maxDefaultJobs
	}
	return Config{
		Jobs:        jobs,
		Extensions:  []string{".flac"},
		EncoderArgs: []string{"-8", "-f", "--silent"},
		RefVendor:   "1.5.0",
		Debounce:    500 * time.Millisecond,
	}
}

// DefaultDBPath returns the per-user state database location, creating the
// parent data directory when needed.
func DefaultDBPath() (string, error) {
	path, err := xdg.DataFile("retrack/retrack.db")
	if err != nil {
		return "", fmt.Errorf("locate data directory: %w", err)
	}
	return path, nil
}

// Validate normalizes and checks the configuration. Extensions are
// lowercased and given a leading dot so "FLAC" and ".flac" track the same
// files.
func (c *Config) Validate() error {
	if c.Jobs < 1 {
		return errors.New("jobs must be at least 1")
	}
	if len(c.Extensions) == 0 {
		return errors.New("need at least one file extension to track")
	}
	for i, ext := range c.Extensions {
		e := strings.ToLower(strings.TrimSpace(ext))
		if strings.TrimPrefix(e, ".") == "" {
			return fmt.Errorf("invalid extension %q", ext)
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		c.Extensions[i] = e
	}
	if c.RefVendor == "" {
		return errors.New("reference vendor version must not be empty")
	}
	if c.Debounce < 0 {
		return errors.New("debounce must not be negative")
	}
	return nil
}

// Selector returns the file selector for the configured extensions. Call
// after Validate so extensions are normalized.
func (c *Config) Selector() func(path string) bool {
	set := make(map[string]bool, len(c.Extensions))
	for _, e := range c.Extensions {
		set[e] = true
	}
	return func(path string) bool {
		dot := strings.LastIndexByte(path, '.')
		if dot < 0 {
			return false
		}
		return set[strings.ToLower(path[dot:])]
	}
}
