package display

import (
	"testing"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"small bytes", 512, "512 B"},
		{"exactly 1 KiB", 1024, "1.0 KiB"},
		{"1.5 KiB", 1536, "1.5 KiB"},
		{"1 MiB", 1024 * 1024, "1.0 MiB"},
		{"1 GiB", 1024 * 1024 * 1024, "1.0 GiB"},
		{"typical album 400 MiB", 419430400, "400.0 MiB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatBytes(tt.bytes)
			if got != tt.want {
				t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestFormatSavings(t *testing.T) {
	tests := []struct {
		name    string
		in, out int64
		want    string
	}{
		{"shrunk", 1024, 512, "saved 512 B (1.0 KiB -> 512 B)"},
		{"grew", 512, 1536, "grew 1.0 KiB (512 B -> 1.5 KiB)"},
		{"unchanged", 2048, 2048, "unchanged (2.0 KiB)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatSavings(tt.in, tt.out)
			if got != tt.want {
				t.Errorf("FormatSavings(%d, %d) = %q, want %q", tt.in, tt.out, got, tt.want)
			}
		})
	}
}
