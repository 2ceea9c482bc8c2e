// Package display formats values for summary output.
package display

import "fmt"

var units = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// FormatBytes renders a byte count in the largest binary unit that keeps
// the value at or above one.
func FormatBytes(n int64) string {
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}

// FormatSavings summarizes the size change of a batch of re-encodes, in
// bytes before and after. Re-encoding usually shrinks files, but a higher
// compression preset than the original can grow them.
func FormatSavings(in, out int64) string {
	switch {
	case out < in:
		return fmt.Sprintf("saved %s (%s -> %s)", FormatBytes(in-out), FormatBytes(in), FormatBytes(out))
	case out > in:
		return fmt.Sprintf("grew %s (%s -> %s)", FormatBytes(out-in), FormatBytes(in), FormatBytes(out))
	default:
		return fmt.Sprintf("unchanged (%s)", FormatBytes(in))
	}
}
