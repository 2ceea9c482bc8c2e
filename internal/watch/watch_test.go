package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasetta/retrack/internal/scan"
	"github.com/kasetta/retrack/internal/store"
)

func newWatcher(t *testing.T) (*Watcher, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sc := &scan.Scanner{
		Store:    st,
		Select:   func(p string) bool { return strings.HasSuffix(p, ".flac") },
		Classify: func(context.Context, string) (bool, error) { return false, nil },
	}
	return &Watcher{Scanner: sc, Store: st}, st
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRun_TracksCreatedFile(t *testing.T) {
	dir := t.TempDir()
	w, st := newWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, dir) }()

	// Give the watcher time to finish the initial scan and register.
	time.Sleep(200 * time.Millisecond)

	path := filepath.Join(dir, "new.flac")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	waitFor(t, func() bool {
		n, err := st.PendingCount(context.Background())
		return err == nil && n == 1
	}, "created file never became pending")

	cancel()
	assert.NoError(t, <-done)
}

func TestRun_DropsRemovedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.flac")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	w, st := newWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, dir) }()

	// Initial scan tracks the file.
	waitFor(t, func() bool {
		ok, err := st.Exists(context.Background(), mustCanonical(t, path))
		return err == nil && ok
	}, "initial scan never tracked the file")

	require.NoError(t, os.Remove(path))

	waitFor(t, func() bool {
		all, err := st.AllPaths(context.Background())
		return err == nil && len(all) == 0
	}, "removed file still tracked")

	cancel()
	assert.NoError(t, <-done)
}

func TestSettle_Debounce(t *testing.T) {
	w, _ := newWatcher(t)
	w.Debounce = 50 * time.Millisecond
	w.last = map[string]time.Time{}

	assert.True(t, w.settle("/a.flac"))
	assert.False(t, w.settle("/a.flac"), "event inside window must be dropped")
	assert.True(t, w.settle("/b.flac"), "windows are per path")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, w.settle("/a.flac"), "event after window must pass")
}

func TestRun_InvalidRoot(t *testing.T) {
	w, _ := newWatcher(t)
	err := w.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, scan.ErrInvalidRoot)
}

func mustCanonical(t *testing.T, path string) string {
	t.Helper()
	c, err := scan.Canonical(path)
	if err != nil {
		// File may already be gone; fall back to the absolute path.
		abs, aerr := filepath.Abs(path)
		require.NoError(t, aerr)
		return abs
	}
	return c
}
