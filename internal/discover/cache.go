package discover

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

// Cache persists the file listing from the previous Discover pass so
// callers can cheaply compute what changed since then without opening
// the main store at all. The one-shot `index` command
// (cmd/chunkhound/cmd/index.go) is the primary consumer: a repeat run
// over an unchanged tree can skip every file's process_file call
// entirely instead of paying the Indexing Coordinator's
// read-parse-diff cost just to discover nothing changed. It is
// intentionally a separate, much simpler database from C1's store: a
// single path -> (size, mtime) table, opened with the pure-Go
// modernc.org/sqlite driver since pushing a custom REGEXP function (the
// reason C1 needs CGO's mattn/go-sqlite3) is not a concern here.
type Cache struct {
	db *sql.DB
}

// Entry is one previously observed file's size and modification time.
type Entry struct {
	Size    int64
	ModTime time.Time
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS discovered_files (
	path     TEXT PRIMARY KEY,
	size     INTEGER NOT NULL,
	mod_time INTEGER NOT NULL
);
`

// OpenCache opens (creating if necessary) the discovery cache rooted
// at baseDir, at <baseDir>/.chunkhound/cache/discover.db.
func OpenCache(baseDir string) (*Cache, error) {
	dir := filepath.Join(baseDir, ".chunkhound", "cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, chunkerr.FatalStorage("ERR_DISCOVER_CACHE_MKDIR", "failed to create discovery cache directory", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "discover.db"))
	if err != nil {
		return nil, chunkerr.FatalStorage("ERR_DISCOVER_CACHE_OPEN", "failed to open discovery cache", err)
	}
	db.SetMaxOpenConns(1) // single writer, matching C1's discipline at a smaller scale

	if _, err := db.Exec(cacheSchema); err != nil {
		_ = db.Close()
		return nil, chunkerr.FatalStorage("ERR_DISCOVER_CACHE_SCHEMA", "failed to initialize discovery cache schema", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the cache's database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Entries returns every path recorded as of the last Replace call.
func (c *Cache) Entries() (map[string]Entry, error) {
	rows, err := c.db.Query(`SELECT path, size, mod_time FROM discovered_files`)
	if err != nil {
		return nil, chunkerr.FatalStorage("ERR_DISCOVER_CACHE_QUERY", "failed to read discovery cache", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]Entry)
	for rows.Next() {
		var path string
		var e Entry
		var modUnix int64
		if err := rows.Scan(&path, &e.Size, &modUnix); err != nil {
			return nil, chunkerr.Internal("ERR_DISCOVER_CACHE_SCAN", "failed to scan discovery cache row", err)
		}
		e.ModTime = time.Unix(modUnix, 0)
		out[path] = e
	}
	return out, rows.Err()
}

// Replace atomically overwrites the cache with the given file listing,
// establishing the baseline for the next Diff call.
func (c *Cache) Replace(files []FileInfo) error {
	tx, err := c.db.Begin()
	if err != nil {
		return chunkerr.FatalStorage("ERR_DISCOVER_CACHE_TX", "failed to begin discovery cache transaction", err)
	}

	if _, err := tx.Exec(`DELETE FROM discovered_files`); err != nil {
		_ = tx.Rollback()
		return chunkerr.FatalStorage("ERR_DISCOVER_CACHE_CLEAR", "failed to clear discovery cache", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO discovered_files (path, size, mod_time) VALUES (?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return chunkerr.FatalStorage("ERR_DISCOVER_CACHE_PREPARE", "failed to prepare discovery cache insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range files {
		if _, err := stmt.Exec(f.Path, f.Size, f.ModTime.Unix()); err != nil {
			_ = tx.Rollback()
			return chunkerr.FatalStorage("ERR_DISCOVER_CACHE_INSERT", "failed to write discovery cache entry", err)
		}
	}
	return tx.Commit()
}

// Diff compares the current listing against the cache and reports
// which paths are new, changed (size or mtime differs), or removed
// since the cache was last replaced. It does not mutate the cache;
// call Replace afterward once the caller has acted on the diff.
func (c *Cache) Diff(current []FileInfo) (added, changed, removed []string, err error) {
	prev, err := c.Entries()
	if err != nil {
		return nil, nil, nil, err
	}

	seen := make(map[string]bool, len(current))
	for _, f := range current {
		seen[f.Path] = true
		old, ok := prev[f.Path]
		if !ok {
			added = append(added, f.Path)
			continue
		}
		if old.Size != f.Size || !old.ModTime.Equal(f.ModTime) {
			changed = append(changed, f.Path)
		}
	}
	for path := range prev {
		if !seen[path] {
			removed = append(removed, path)
		}
	}
	return added, changed, removed, nil
}
