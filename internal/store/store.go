// Package store implements the durable per-file state table backing the
// scan/run/clean passes: one row per canonical absolute path, a
// needs-processing flag, and the modification time observed when the flag
// was last evaluated.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Sentinel errors for store operations. ErrStoreIO wraps any SQLite-level
// failure; it is fatal to the in-flight call only and never affects other rows.
var (
	ErrNotFound      = errors.New("path not tracked")
	ErrAlreadyExists = errors.New("path already tracked")
	ErrStoreIO       = errors.New("store I/O failure")
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	path  TEXT NOT NULL,
	needs INTEGER NOT NULL,
	mtime INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
CREATE INDEX IF NOT EXISTS idx_files_needs ON files(needs);
`

// Store is a SQLite-backed file state table. The zero value is not usable;
// call Open. A Store is safe for concurrent use: database/sql pools
// connections and every operation here is a single atomic statement (or one
// short transaction) against one row key.
//
// path uniqueness is an invariant maintained by the insert path and repaired
// by Dedupe, not a schema constraint, so racing writers can never make a
// scan fail outright.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the state database at path. The parent
// directory is created when missing. WAL mode keeps readers unblocked while
// a writer commits; the busy timeout covers writer-writer contention between
// overlapping passes.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ioErr(err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, ioErr(err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, ioErr(err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return ioErr(err)
	}
	return nil
}

// UpsertNew inserts a row for a path that is not yet tracked. Returns
// ErrAlreadyExists when a row for the path is present; re-evaluating an
// existing row goes through Refresh or MarkProcessed instead.
func (s *Store) UpsertNew(ctx context.Context, path string, needs bool, mtime int64) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO files (path, needs, mtime)
		 SELECT ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM files WHERE path = ?)`,
		path, boolToInt(needs), mtime, path)
	if err != nil {
		return ioErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ioErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	return nil
}

// Refresh overwrites the needs flag and modtime of an existing row. Used by
// the scanner when a file's modtime drifted from the tracked value. Returns
// ErrNotFound when the path has no row.
func (s *Store) Refresh(ctx context.Context, path string, needs bool, mtime int64) error {
	return s.update(ctx, path, boolToInt(needs), mtime)
}

// MarkProcessed clears the needs flag and records the post-processing
// modtime. Returns ErrNotFound when the path has no row.
func (s *Store) MarkProcessed(ctx context.Context, path string, mtime int64) error {
	return s.update(ctx, path, 0, mtime)
}

func (s *Store) update(ctx context.Context, path string, needs int, mtime int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE files SET needs = ?, mtime = ? WHERE path = ?", needs, mtime, path)
	if err != nil {
		return ioErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ioErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return nil
}

// Exists reports whether a row for path is present.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM files WHERE path = ? LIMIT 1", path).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, ioErr(err)
	}
	return true, nil
}

// ModTime returns the tracked modtime for path. ok is false when the path
// has no row. When duplicate rows exist the most recently written one wins,
// matching the Dedupe survivor rule.
func (s *Store) ModTime(ctx context.Context, path string) (mtime int64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT mtime FROM files WHERE path = ? ORDER BY rowid DESC LIMIT 1", path)
	switch err := row.Scan(&mtime); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, ioErr(err)
	}
	return mtime, true, nil
}

// Pending returns every tracked path whose needs flag is set. Order is
// unspecified.
func (s *Store) Pending(ctx context.Context) ([]string, error) {
	return s.paths(ctx, "SELECT path FROM files WHERE needs = 1")
}

// PendingCount returns the number of rows whose needs flag is set.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM files WHERE needs = 1").Scan(&n); err != nil {
		return 0, ioErr(err)
	}
	return n, nil
}

// AllPaths returns every tracked path, duplicates included if any exist.
func (s *Store) AllPaths(ctx context.Context) ([]string, error) {
	return s.paths(ctx, "SELECT path FROM files")
}

func (s *Store) paths(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, ioErr(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, ioErr(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr(err)
	}
	return out, nil
}

// Remove deletes every row for path. Removing an untracked path is a no-op.
func (s *Store) Remove(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM files WHERE path = ?", path); err != nil {
		return ioErr(err)
	}
	return nil
}

// Dedupe collapses duplicate rows per path, keeping the most recently
// written one. Returns the number of rows deleted.
func (s *Store) Dedupe(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE rowid NOT IN
		 (SELECT MAX(rowid) FROM files GROUP BY path)`)
	if err != nil {
		return 0, ioErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, ioErr(err)
	}
	return n, nil
}

// Compact reclaims storage space. No semantic effect on tracked state.
func (s *Store) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return ioErr(err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ioErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreIO, err)
}
