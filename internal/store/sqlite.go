package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/gofrs/flock"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

// driverName is registered once, with a ConnectHook that adds a
// REGEXP scalar function so search_regex can be pushed down as a
// parametrized SQL predicate (§4.11: "no client-side filtering loop").
const driverName = "chunkhound-sqlite3"

var registerOnce sync.Once

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("regexp", sqliteRegexp, true)
			},
		})
	})
}

// regexpCache avoids recompiling the same pattern on every row; SQLite
// calls the scalar function once per row evaluated.
var regexpCache sync.Map // map[string]*regexp.Regexp

func sqliteRegexp(pattern, text string) (bool, error) {
	v, ok := regexpCache.Load(pattern)
	var re *regexp.Regexp
	if ok {
		re = v.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		re = compiled
		regexpCache.Store(pattern, re)
	}
	return re.MatchString(text), nil
}

// SQLiteStore is the concrete Store implementation. It is not safe for
// concurrent use from multiple goroutines directly — callers route
// through internal/gate, which owns the single DB-thread discipline
// §4.2 requires.
type SQLiteStore struct {
	path   string
	db     *sql.DB
	tx     *sql.Tx
	lock   *flock.Flock
	vector *vectorIndexes
}

// NewSQLiteStore constructs a store rooted at the given database file
// path (typically <base>/.chunkhound/db).
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path, vector: newVectorIndexes()}
}

func (s *SQLiteStore) Capabilities() Capabilities {
	return Capabilities{Regex: true, Semantic: true}
}

// Connect opens the database, creating/migrating its schema, and
// recovers from a crashed write-ahead log by backing it up and opening
// fresh (§4.1 crash recovery).
func (s *SQLiteStore) Connect(ctx context.Context) error {
	if s.db != nil {
		return nil // idempotent
	}
	registerDriver()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return chunkerr.FatalStorage("ERR_STORE_MKDIR", "create database directory", err)
	}

	s.lock = flock.New(s.path + ".lock")
	locked, err := s.lock.TryLock()
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_LOCK", "acquire database lock", err)
	}
	if !locked {
		return chunkerr.FatalStorage("ERR_STORE_LOCKED", "database is owned by another process", nil)
	}

	if err := s.recoverIfCorrupted(); err != nil {
		return err
	}

	dsn := s.path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_OPEN", "open database", err)
	}
	// Single-writer discipline: the gate serializes callers onto one
	// goroutine, but pinning the pool to one connection makes the
	// invariant hold even if a caller bypasses the gate by mistake.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return chunkerr.FatalStorage("ERR_STORE_PRAGMA", "configure database", err)
		}
	}

	s.db = db
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := s.vector.loadFromStore(ctx, s); err != nil {
		return err
	}
	return nil
}

// recoverIfCorrupted runs PRAGMA integrity_check against an existing
// database file before opening it for real. A corrupt write-ahead log
// is backed up to a sibling path and a fresh database takes its place,
// per §4.1.
func (s *SQLiteStore) recoverIfCorrupted() error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil
	}
	checkDSN := s.path + "?mode=ro"
	db, err := sql.Open(driverName, checkDSN)
	if err != nil {
		return nil // treat unopenable as "will be recreated below"
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil || result != "ok" {
		backup := fmt.Sprintf("%s.corrupt.%d", s.path, time.Now().UnixNano())
		_ = os.Rename(s.path, backup)
		_ = os.Rename(s.path+"-wal", backup+"-wal")
		_ = os.Rename(s.path+"-shm", backup+"-shm")
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		language TEXT,
		size INTEGER NOT NULL,
		mtime INTEGER NOT NULL,
		last_indexed_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		name TEXT,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		code TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file_id ON chunks(file_id);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id INTEGER NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		dims INTEGER NOT NULL,
		vector BLOB NOT NULL,
		PRIMARY KEY (chunk_id, provider, model)
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_provider_model ON embeddings(provider, model);

	CREATE TABLE IF NOT EXISTS vector_indexes (
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		dims INTEGER NOT NULL,
		metric TEXT NOT NULL,
		PRIMARY KEY (provider, model)
	);

	CREATE TABLE IF NOT EXISTS kv_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_MIGRATE", "create schema", err)
	}
	return nil
}

// Disconnect closes the database and releases the directory lock.
func (s *SQLiteStore) Disconnect(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_CLOSE", "close database", err)
	}
	return nil
}

// execer returns the active transaction if one is open, else the pool
// connection, so every method works identically inside or outside a
// transaction (§4.1 Transactions).
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) ex() execer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *SQLiteStore) Begin(ctx context.Context) error {
	if s.tx != nil {
		return chunkerr.Internal("ERR_STORE_TX_NESTED", "transaction already open", nil)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_TX_BEGIN", "begin transaction", err)
	}
	s.tx = tx
	return nil
}

func (s *SQLiteStore) Commit(ctx context.Context) error {
	if s.tx == nil {
		return chunkerr.Internal("ERR_STORE_TX_NONE", "no transaction open", nil)
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_TX_COMMIT", "commit transaction", err)
	}
	return nil
}

func (s *SQLiteStore) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_TX_ROLLBACK", "rollback transaction", err)
	}
	return nil
}
