package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertNew_ThenLookup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertNew(ctx, "/music/a.flac", true, 100))

	ok, err := s.Exists(ctx, "/music/a.flac")
	require.NoError(t, err)
	assert.True(t, ok)

	mt, ok, err := s.ModTime(ctx, "/music/a.flac")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), mt)
}

func TestUpsertNew_DuplicateFails(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertNew(ctx, "/music/a.flac", true, 100))
	err := s.UpsertNew(ctx, "/music/a.flac", false, 200)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// The original row must be untouched.
	mt, ok, err := s.ModTime(ctx, "/music/a.flac")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), mt)
}

func TestMarkProcessed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertNew(ctx, "/music/a.flac", true, 100))
	require.NoError(t, s.MarkProcessed(ctx, "/music/a.flac", 200))

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	mt, ok, err := s.ModTime(ctx, "/music/a.flac")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(200), mt)
}

func TestMarkProcessed_MissingRow(t *testing.T) {
	s := openTestStore(t)
	err := s.MarkProcessed(context.Background(), "/nope.flac", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefresh_SetsNeedsAndModtime(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertNew(ctx, "/music/a.flac", false, 100))
	require.NoError(t, s.Refresh(ctx, "/music/a.flac", true, 300))

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/music/a.flac"}, pending)

	assert.ErrorIs(t, s.Refresh(ctx, "/absent.flac", true, 1), ErrNotFound)
}

func TestPendingCount(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertNew(ctx, "/a.flac", true, 1))
	require.NoError(t, s.UpsertNew(ctx, "/b.flac", false, 1))
	require.NoError(t, s.UpsertNew(ctx, "/c.flac", true, 1))

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestModTime_Missing(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.ModTime(context.Background(), "/nope.flac")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertNew(ctx, "/a.flac", true, 1))
	require.NoError(t, s.Remove(ctx, "/a.flac"))

	ok, err := s.Exists(ctx, "/a.flac")
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing an untracked path is a no-op, not an error.
	require.NoError(t, s.Remove(ctx, "/a.flac"))
}

func TestDedupe_KeepsMostRecentRow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	// Simulate the duplicate rows racing writers could leave behind.
	for _, row := range []struct {
		needs int
		mtime int64
	}{{1, 100}, {0, 200}, {1, 300}} {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO files (path, needs, mtime) VALUES (?, ?, ?)",
			"/dup.flac", row.needs, row.mtime)
		require.NoError(t, err)
	}
	require.NoError(t, s.UpsertNew(ctx, "/solo.flac", false, 1))

	removed, err := s.Dedupe(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	all, err := s.AllPaths(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/dup.flac", "/solo.flac"}, all)

	// The survivor is the most recently written row.
	mt, ok, err := s.ModTime(ctx, "/dup.flac")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(300), mt)
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertNew(ctx, "/a.flac", true, 1))
	require.NoError(t, s.Remove(ctx, "/a.flac"))
	require.NoError(t, s.Compact(ctx))

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	const n = 32
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join("/music", string(rune('a'+i%26)), "track.flac")
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			if err := s.UpsertNew(ctx, p, true, 1); err != nil {
				// Duplicate path keys race on purpose; only the
				// AlreadyExists outcome is acceptable.
				assert.ErrorIs(t, err, ErrAlreadyExists)
			}
		}(paths[i])
	}
	wg.Wait()

	all, err := s.AllPaths(ctx)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, p := range all {
		assert.False(t, seen[p], "duplicate row for %s", p)
		seen[p] = true
	}
}
