// Package flac is the shipped transform and classifier pair: files are
// re-encoded with the flac binary and classified by the libFLAC vendor
// string metaflac reports. The tracking core treats both as opaque
// collaborators, so swapping in a different codec only touches this package
// and the CLI wiring.
package flac

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultArgs re-encode at maximum compression, overwriting in place. flac
// itself writes to a temp file and renames over the original, so a killed
// encode never corrupts the source.
var DefaultArgs = []string{"-8", "-f", "--silent"}

// Encoder runs the flac binary over single files.
type Encoder struct {
	// Args are passed before the input path. Nil means DefaultArgs.
	Args []string
}

// Transform re-encodes path in place. On failure the original file is left
// untouched and the error carries the tail of flac's stderr.
func (e *Encoder) Transform(ctx context.Context, path string) error {
	args := e.Args
	if args == nil {
		args = DefaultArgs
	}
	args = append(append([]string{}, args...), path)

	cmd := exec.CommandContext(ctx, "flac", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("flac: %v%s", err, stderrTail(stderr.String()))
	}
	return nil
}

// stderrTail formats the last few stderr lines for error messages; flac
// front-loads a banner, the failure reason is at the end.
func stderrTail(stderr string) string {
	s := strings.TrimSpace(stderr)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}
	return ": " + strings.Join(lines, " | ")
}
