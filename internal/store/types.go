// Package store implements the abstract Storage Engine contract (C1):
// durable file/chunk/embedding persistence, regex and vector
// search, and transactional file updates. The concrete implementation
// is backed by SQLite (github.com/mattn/go-sqlite3, chosen over the
// pure-Go modernc.org/sqlite driver because regex pushdown requires
// registering a custom SQL scalar function) for metadata and an
// in-process HNSW graph (github.com/coder/hnsw) per (provider, model)
// for the vector index.
package store

import (
	"context"
	"time"
)

// Chunk kinds recognized by the data model (§3). Parsers may emit
// additional kinds; the store treats Kind as an opaque string.
const (
	KindFunction  = "function"
	KindClass     = "class"
	KindMethod    = "method"
	KindDocstring = "docstring"
	KindComment   = "comment"
	KindHeading   = "heading"
	KindCodeBlock = "code_block"
	KindParagraph = "paragraph"
)

// File is a tracked source file (§3 File).
type File struct {
	ID            int64
	Path          string // relative to the base directory, or absolute if outside it
	Language      string
	Size          int64
	MTime         time.Time
	LastIndexedAt time.Time
}

// Chunk is a retrievable span of a file's content (§3 Chunk).
type Chunk struct {
	ID        int64
	FileID    int64
	Kind      string
	Name      string // empty means NULL
	StartLine int
	EndLine   int
	Code      string
}

// EmbeddingRow is a single (chunk, provider, model) vector to persist
// (§3 Embedding).
type EmbeddingRow struct {
	ChunkID  int64
	Provider string
	Model    string
	Dims     int
	Vector   []float32
}

// ChunkCode is the minimal projection returned by
// GetChunksWithoutEmbeddings: just enough to embed and write back.
type ChunkCode struct {
	ChunkID int64
	Code    string
}

// EmbeddingFilters narrows GetChunksWithoutEmbeddings to a path prefix;
// an empty PathPrefix means no filter.
type EmbeddingFilters struct {
	PathPrefix string
	Limit      int
}

// SearchResult is one row of a paginated search response.
type SearchResult struct {
	ChunkID   int64
	FilePath  string
	StartLine int
	EndLine   int
	Kind      string
	Name      string
	Content   string
	Distance  float64 // only meaningful for semantic search
}

// Page is a paginated result set, per §4.1 and the pagination testable
// property (§8.6).
type Page struct {
	Results []SearchResult
	HasMore bool
}

// VectorIndexInfo describes one (provider, model) vector index.
type VectorIndexInfo struct {
	Provider string
	Model    string
	Dims     int
	Metric   string
	Size     int
}

// Stats summarizes the current store contents for get_stats.
type Stats struct {
	Files      int
	Chunks     int
	Embeddings int
	Providers  []string
}

// Store is the abstract Storage Engine contract (C1). All methods
// block the caller; callers that need single-writer discipline submit
// through internal/gate rather than calling a Store directly from
// multiple goroutines.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	InsertFile(ctx context.Context, f *File) (int64, error)
	GetFileByPath(ctx context.Context, path string) (*File, error)
	UpdateFile(ctx context.Context, f *File) error
	DeleteFileCompletely(ctx context.Context, fileID int64) error
	ListFiles(ctx context.Context) ([]File, error)

	InsertChunksBatch(ctx context.Context, fileID int64, chunks []*Chunk) ([]int64, error)
	GetChunksByFileID(ctx context.Context, fileID int64) ([]*Chunk, error)
	DeleteChunk(ctx context.Context, id int64) error
	DeleteChunksByFileID(ctx context.Context, fileID int64) error

	GetExistingEmbeddings(ctx context.Context, chunkIDs []int64, provider, model string) (map[int64]bool, error)
	InsertEmbeddingsBatch(ctx context.Context, rows []EmbeddingRow) error
	InsertEmbeddingsRows(ctx context.Context, rows []EmbeddingRow) error
	GetChunksWithoutEmbeddings(ctx context.Context, provider, model string, filters EmbeddingFilters) ([]ChunkCode, error)

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	SearchRegex(ctx context.Context, pattern, pathPrefix string, pageSize, offset int) (*Page, error)
	SearchSemantic(ctx context.Context, vector []float32, provider, model string, threshold *float64, pathPrefix string, pageSize, offset int) (*Page, error)

	CreateVectorIndex(ctx context.Context, provider, model string, dims int) error
	DropVectorIndex(ctx context.Context, provider, model string) error
	RebuildVectorIndex(ctx context.Context, provider, model string) error
	ListVectorIndexes(ctx context.Context) ([]VectorIndexInfo, error)

	GetStats(ctx context.Context) (Stats, error)

	// Capabilities reports which MCP tools this backend can serve; C10
	// uses this to build its tool list without a hard-coded switch.
	Capabilities() Capabilities
}

// Capabilities is the declared capability set a backend exposes (§9
// "Dynamic provider capabilities").
type Capabilities struct {
	Regex    bool
	Semantic bool
}
