// Package chunklang is the pluggable per-language chunk producer the
// Indexing Coordinator (C4) calls after loading a file's bytes. The
// spec treats language parsers as an out-of-scope capability; this
// package supplies a concrete, swappable set of them so the rest of
// the core has something real to exercise.
package chunklang

import (
	"path/filepath"
	"strings"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
	"github.com/chunkhound/chunkhound/internal/store"
)

// Chunker produces a chunk set from one file's raw bytes. It never
// touches the store or the filesystem.
type Chunker interface {
	Produce(path string, content []byte) ([]*store.Chunk, error)
}

// Dispatcher routes a file to the Chunker registered for its
// extension, the way the Indexing Coordinator's "language dispatcher"
// step (§4.4 step 5) requires.
type Dispatcher struct {
	byExt map[string]Chunker
}

// NewDispatcher builds the default dispatcher: tree-sitter chunkers
// for Go/Python/JavaScript, and a heading/paragraph chunker for
// Markdown.
func NewDispatcher() *Dispatcher {
	code := newTreeSitterChunker()
	md := &markdownChunker{}

	d := &Dispatcher{byExt: make(map[string]Chunker)}
	for _, ext := range code.supportedExtensions() {
		d.byExt[ext] = code
	}
	d.byExt[".md"] = md
	d.byExt[".markdown"] = md
	return d
}

// Register adds or overrides the chunker for an extension (including
// the leading dot), letting callers plug in additional languages
// without touching the default set.
func (d *Dispatcher) Register(ext string, c Chunker) {
	d.byExt[strings.ToLower(ext)] = c
}

// SupportsExtension reports whether a chunker is registered for path's
// extension.
func (d *Dispatcher) SupportsExtension(path string) bool {
	_, ok := d.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Produce dispatches to the registered chunker for path's extension.
// An unsupported extension is reported via chunkerr.Unsupported so
// the coordinator can classify the file as "skipped", not a failure
// (§7 Unsupported kind).
func (d *Dispatcher) Produce(path string, content []byte) ([]*store.Chunk, error) {
	ext := strings.ToLower(filepath.Ext(path))
	c, ok := d.byExt[ext]
	if !ok {
		return nil, chunkerr.Unsupported("ERR_CHUNK_UNSUPPORTED_EXT", "no chunker registered for extension "+ext)
	}
	return c.Produce(path, content)
}
