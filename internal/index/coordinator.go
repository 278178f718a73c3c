// Package index implements the Indexing Coordinator (C4): the single
// path by which parsed chunks reach storage. The MCP server, the file
// watcher, the periodic scanner, and the CLI all call process_file and
// remove_file through this package; no other code writes chunks.
package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
	"github.com/chunkhound/chunkhound/internal/chunklang"
	"github.com/chunkhound/chunkhound/internal/diff"
	"github.com/chunkhound/chunkhound/internal/gate"
	"github.com/chunkhound/chunkhound/internal/store"
)

// Status is the outcome of one process_file/remove_file call.
type Status string

const (
	StatusIndexed Status = "indexed"
	StatusSkipped Status = "skipped"
	StatusRemoved Status = "removed"
)

// Result summarizes one coordinator operation (§4.4 process_file
// return shape).
type Result struct {
	Status   Status
	Reason   string // set when Status == StatusSkipped
	Chunks   int
	Inserted int
	Deleted  int
}

const maxReadRetries = 6
const readRetryDelay = 50 * time.Millisecond

// Coordinator orchestrates parse -> diff -> delete-old -> insert-new
// for one file at a time, atomically, via the Serial Gate.
type Coordinator struct {
	gate       *gate.Gate
	dispatcher *chunklang.Dispatcher
	baseDir    string
	maxFileMB  int64

	pathLocks sync.Map // map[string]*sync.Mutex, keyed by canonical path
}

// New constructs a Coordinator rooted at baseDir (the directory file
// paths are made relative to for portable storage, §3 File.path).
func New(g *gate.Gate, dispatcher *chunklang.Dispatcher, baseDir string, maxFileMB int) *Coordinator {
	if maxFileMB <= 0 {
		maxFileMB = 10
	}
	return &Coordinator{gate: g, dispatcher: dispatcher, baseDir: baseDir, maxFileMB: int64(maxFileMB)}
}

func (c *Coordinator) lockFor(path string) *sync.Mutex {
	v, _ := c.pathLocks.LoadOrStore(path, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// canonicalize resolves symlinks and converts to a path relative to
// baseDir when possible (§4.4 step 1, §3 File.path).
func (c *Coordinator) canonicalize(path string) (absolute, stored string, err error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		// The file may have just been deleted; fall back to the
		// lexically cleaned absolute path so remove_file still works.
		resolved, err = filepath.Abs(path)
		if err != nil {
			return "", "", chunkerr.Contract("ERR_INDEX_BAD_PATH", "cannot resolve path: "+err.Error())
		}
	}
	rel, relErr := filepath.Rel(c.baseDir, resolved)
	if relErr != nil || len(rel) >= 2 && rel[:2] == ".." {
		return resolved, resolved, nil
	}
	return resolved, filepath.ToSlash(rel), nil
}

// ProcessFile runs the full parse -> diff -> delete -> insert ->
// commit algorithm for one file (§4.4).
func (c *Coordinator) ProcessFile(ctx context.Context, path string) (Result, error) {
	absolute, stored, err := c.canonicalize(path)
	if err != nil {
		return Result{}, err
	}

	lock := c.lockFor(absolute)
	lock.Lock()
	defer lock.Unlock()

	info, ok, err := waitReadable(absolute)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Status: StatusSkipped, Reason: "not readable"}, nil
	}
	if info.Size() > c.maxFileMB*1024*1024 {
		return Result{Status: StatusSkipped, Reason: "exceeds max file size"}, nil
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return Result{Status: StatusSkipped, Reason: "symlink"}, nil
	}

	content, err := os.ReadFile(absolute)
	if err != nil {
		return Result{Status: StatusSkipped, Reason: "read failed: " + err.Error()}, nil
	}

	fresh, err := c.dispatcher.Produce(stored, content)
	if err != nil {
		if chunkerr.CategoryOf(err) == chunkerr.CategoryUnsupported {
			return Result{Status: StatusSkipped, Reason: err.Error()}, nil
		}
		return Result{Status: StatusSkipped, Reason: "parse failed: " + err.Error()}, nil
	}

	return gate.Submit(ctx, c.gate, func(ctx context.Context, s store.Store) (Result, error) {
		return processFileTx(ctx, s, stored, info, fresh)
	})
}

// processFileTx runs entirely inside one Submit call, so every
// storage call it makes shares the same transaction on the DB thread
// (§4.1 Transactions: "all storage calls made through the Serial Gate
// participate in that transaction").
func processFileTx(ctx context.Context, s store.Store, path string, info os.FileInfo, fresh []*store.Chunk) (res Result, err error) {
	if err := s.Begin(ctx); err != nil {
		return Result{}, err
	}
	defer func() {
		if err != nil {
			_ = s.Rollback(ctx)
		}
	}()

	existingFile, err := s.GetFileByPath(ctx, path)
	if err != nil {
		return Result{}, err
	}

	var added []*store.Chunk
	var deletedCount int

	if existingFile != nil {
		existingChunks, err := s.GetChunksByFileID(ctx, existingFile.ID)
		if err != nil {
			return Result{}, err
		}
		if len(existingChunks) == 0 && len(fresh) > 0 {
			// Edge case guard (§4.4 step 7): a File with no chunks on
			// record is a database inconsistency; clear unconditionally
			// before inserting the fresh set so no stale row survives.
			if err := s.DeleteChunksByFileID(ctx, existingFile.ID); err != nil {
				return Result{}, err
			}
			added = fresh
		} else {
			d := diff.Diff(existingChunks, fresh)
			for _, del := range d.Deleted {
				if err := s.DeleteChunk(ctx, del.ID); err != nil {
					return Result{}, err
				}
			}
			deletedCount = len(d.Deleted)
			added = d.Added
		}

		existingFile.Size = info.Size()
		existingFile.MTime = info.ModTime()
		existingFile.LastIndexedAt = time.Now()
		if err := s.UpdateFile(ctx, existingFile); err != nil {
			return Result{}, err
		}
	} else {
		newFile := &store.File{
			Path:          path,
			Language:      languageOf(path),
			Size:          info.Size(),
			MTime:         info.ModTime(),
			LastIndexedAt: time.Now(),
		}
		fileID, err := s.InsertFile(ctx, newFile)
		if err != nil {
			return Result{}, err
		}
		existingFile = newFile
		existingFile.ID = fileID
		added = fresh
	}

	if len(added) > 0 {
		if _, err := s.InsertChunksBatch(ctx, existingFile.ID, added); err != nil {
			return Result{}, err
		}
	}

	if err := s.Commit(ctx); err != nil {
		return Result{}, err
	}

	return Result{Status: StatusIndexed, Chunks: len(fresh), Inserted: len(added), Deleted: deletedCount}, nil
}

// RemoveFile resolves path and deletes its File row (cascading to
// chunks and embeddings) in one transaction (§4.4 "Deletion
// operation").
func (c *Coordinator) RemoveFile(ctx context.Context, path string) (Result, error) {
	absolute, stored, err := c.canonicalize(path)
	if err != nil {
		return Result{}, err
	}

	lock := c.lockFor(absolute)
	lock.Lock()
	defer lock.Unlock()

	return gate.Submit(ctx, c.gate, func(ctx context.Context, s store.Store) (Result, error) {
		f, err := s.GetFileByPath(ctx, stored)
		if err != nil {
			return Result{}, err
		}
		if f == nil {
			return Result{Status: StatusSkipped, Reason: "not found"}, nil
		}
		if err := s.Begin(ctx); err != nil {
			return Result{}, err
		}
		if err := s.DeleteFileCompletely(ctx, f.ID); err != nil {
			_ = s.Rollback(ctx)
			return Result{}, err
		}
		if err := s.Commit(ctx); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusRemoved}, nil
	})
}

var extLanguages = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".mjs": "javascript",
	".jsx": "javascript", ".md": "markdown", ".markdown": "markdown",
}

func languageOf(path string) string {
	if lang, ok := extLanguages[filepath.Ext(path)]; ok {
		return lang
	}
	return ""
}

// waitReadable polls briefly for a file to exist and be statable
// (§4.4 step 3): editors often replace a file via rename, leaving a
// short window where the old descriptor is gone and the new one
// isn't flushed yet.
func waitReadable(path string) (os.FileInfo, bool, error) {
	for i := 0; i < maxReadRetries; i++ {
		info, err := os.Lstat(path)
		if err == nil {
			return info, true, nil
		}
		time.Sleep(readRetryDelay)
	}
	return nil, false, nil
}
