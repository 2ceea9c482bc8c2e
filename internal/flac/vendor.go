package flac

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
)

// reVendor extracts the libFLAC version from a vendor string such as
// "reference libFLAC 1.5.0 20250211".
var reVendor = regexp.MustCompile(`libFLAC (\d+\.\d+\.\d+)`)

// Vendor returns the libFLAC version that wrote the file, or "" when the
// vendor tag is missing or was written by a non-reference encoder.
func Vendor(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, "metaflac", "--show-vendor-tag", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("metaflac: %v%s", err, stderrTail(stderr.String()))
	}
	return parseVendorVersion(string(out)), nil
}

// parseVendorVersion pulls the bare version out of metaflac output. Empty
// when no reference-libFLAC vendor string is present.
func parseVendorVersion(out string) string {
	m := reVendor.FindStringSubmatch(out)
	if m == nil {
		return ""
	}
	return m[1]
}

// Conforms returns a classifier that accepts files written by libFLAC
// refVersion. Anything else, including files with no vendor tag at all,
// needs re-encoding.
func Conforms(refVersion string) func(ctx context.Context, path string) (bool, error) {
	return func(ctx context.Context, path string) (bool, error) {
		v, err := Vendor(ctx, path)
		if err != nil {
			return false, err
		}
		return v == refVersion, nil
	}
}
