package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s := NewSQLiteStore(filepath.Join(dir, "chunkhound.db"))
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s
}

func insertTestFile(t *testing.T, s *SQLiteStore, path string) *File {
	t.Helper()
	f := &File{Path: path, Language: "go", Size: 42, MTime: time.Now(), LastIndexedAt: time.Now()}
	_, err := s.InsertFile(context.Background(), f)
	require.NoError(t, err)
	return f
}

func TestConnect_Idempotent(t *testing.T) {
	// Given: an already-connected store
	s := newTestStore(t)

	// When: connecting again
	err := s.Connect(context.Background())

	// Then: it is a no-op, not an error
	require.NoError(t, err)
}

func TestInsertFile_RoundTrip(t *testing.T) {
	// Given: a connected store
	s := newTestStore(t)
	ctx := context.Background()

	// When: inserting and re-reading a file by path
	f := insertTestFile(t, s, "internal/widget/widget.go")
	got, err := s.GetFileByPath(ctx, "internal/widget/widget.go")

	// Then: the round trip preserves path and ID
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, "internal/widget/widget.go", got.Path)
}

func TestGetFileByPath_Missing(t *testing.T) {
	// Given: a store with no matching file
	s := newTestStore(t)

	// When: looking up a path that was never inserted
	got, err := s.GetFileByPath(context.Background(), "nowhere.go")

	// Then: it reports nil, not an error
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInsertChunksBatch_AssignsContiguousIDs(t *testing.T) {
	// Given: a file with three chunks inserted in one bulk call
	s := newTestStore(t)
	ctx := context.Background()
	f := insertTestFile(t, s, "a.go")

	chunks := []*Chunk{
		{Kind: KindFunction, Name: "One", StartLine: 1, EndLine: 3, Code: "func One() {}"},
		{Kind: KindFunction, Name: "Two", StartLine: 5, EndLine: 7, Code: "func Two() {}"},
		{Kind: KindFunction, Name: "", StartLine: 9, EndLine: 11, Code: "func anon() {}"},
	}

	// When: inserting the batch
	ids, err := s.InsertChunksBatch(ctx, f.ID, chunks)

	// Then: every chunk got a distinct id, and in-place mutation matches
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, ids[0]+1, ids[1])
	assert.Equal(t, ids[1]+1, ids[2])
	for i, c := range chunks {
		assert.Equal(t, ids[i], c.ID)
		assert.Equal(t, f.ID, c.FileID)
	}

	// And: reading them back by file id returns all three, nullable name intact
	fetched, err := s.GetChunksByFileID(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, fetched, 3)
	assert.Equal(t, "", fetched[2].Name)
}

func TestDeleteFileCompletely_CascadesChunksAndEmbeddings(t *testing.T) {
	// Given: a file with a chunk and an embedding
	s := newTestStore(t)
	ctx := context.Background()
	f := insertTestFile(t, s, "cascade.go")
	ids, err := s.InsertChunksBatch(ctx, f.ID, []*Chunk{
		{Kind: KindFunction, Name: "F", StartLine: 1, EndLine: 2, Code: "func F() {}"},
	})
	require.NoError(t, err)
	require.NoError(t, s.InsertEmbeddingsBatch(ctx, []EmbeddingRow{
		{ChunkID: ids[0], Provider: "openai", Model: "text-embedding-3-small", Dims: 3, Vector: []float32{1, 0, 0}},
	}))

	// When: deleting the file
	require.NoError(t, s.DeleteFileCompletely(ctx, f.ID))

	// Then: its chunks are gone too (ON DELETE CASCADE)
	remaining, err := s.GetChunksByFileID(ctx, f.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Files)
	assert.Equal(t, 0, stats.Chunks)
	assert.Equal(t, 0, stats.Embeddings)
}

func TestSearchRegex_PushesDownPatternAndPaginates(t *testing.T) {
	// Given: five chunks matching a pattern, across two files
	s := newTestStore(t)
	ctx := context.Background()
	f1 := insertTestFile(t, s, "pkg/a.go")
	f2 := insertTestFile(t, s, "pkg/b.go")

	var chunksA, chunksB []*Chunk
	for i := 0; i < 3; i++ {
		chunksA = append(chunksA, &Chunk{Kind: KindFunction, Name: "Handler", StartLine: i * 2, EndLine: i*2 + 1, Code: "func Handler() error { return nil }"})
	}
	for i := 0; i < 2; i++ {
		chunksB = append(chunksB, &Chunk{Kind: KindFunction, Name: "Handler", StartLine: i * 2, EndLine: i*2 + 1, Code: "func Handler() error { return nil }"})
	}
	_, err := s.InsertChunksBatch(ctx, f1.ID, chunksA)
	require.NoError(t, err)
	_, err = s.InsertChunksBatch(ctx, f2.ID, chunksB)
	require.NoError(t, err)

	// When: searching a page of 2 at a time
	page1, err := s.SearchRegex(ctx, `func Handler`, "", 2, 0)
	require.NoError(t, err)
	page2, err := s.SearchRegex(ctx, `func Handler`, "", 2, 2)
	require.NoError(t, err)
	page3, err := s.SearchRegex(ctx, `func Handler`, "", 2, 4)
	require.NoError(t, err)

	// Then: pages are non-overlapping and has_more is accurate
	assert.Len(t, page1.Results, 2)
	assert.True(t, page1.HasMore)
	assert.Len(t, page2.Results, 2)
	assert.True(t, page2.HasMore)
	assert.Len(t, page3.Results, 1)
	assert.False(t, page3.HasMore)

	seen := map[int64]bool{}
	for _, p := range []*Page{page1, page2, page3} {
		for _, r := range p.Results {
			assert.False(t, seen[r.ChunkID], "chunk %d returned twice across pages", r.ChunkID)
			seen[r.ChunkID] = true
		}
	}
	assert.Len(t, seen, 5)
}

func TestSearchRegex_PathPrefixFilter(t *testing.T) {
	// Given: matching chunks in two different subtrees
	s := newTestStore(t)
	ctx := context.Background()
	f1 := insertTestFile(t, s, "internal/a/a.go")
	f2 := insertTestFile(t, s, "internal/b/b.go")
	_, err := s.InsertChunksBatch(ctx, f1.ID, []*Chunk{{Kind: KindFunction, StartLine: 1, EndLine: 2, Code: "func Target() {}"}})
	require.NoError(t, err)
	_, err = s.InsertChunksBatch(ctx, f2.ID, []*Chunk{{Kind: KindFunction, StartLine: 1, EndLine: 2, Code: "func Target() {}"}})
	require.NoError(t, err)

	// When: scoping the search to one subtree
	page, err := s.SearchRegex(ctx, `Target`, "internal/a/", 10, 0)

	// Then: only the scoped file's chunk comes back
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "internal/a/a.go", page.Results[0].FilePath)
}

func TestSearchSemantic_OrdersByDistanceAndAppliesThreshold(t *testing.T) {
	// Given: three embeddings, one near the query and two far
	s := newTestStore(t)
	ctx := context.Background()
	f := insertTestFile(t, s, "vec.go")
	ids, err := s.InsertChunksBatch(ctx, f.ID, []*Chunk{
		{Kind: KindFunction, Name: "Near", StartLine: 1, EndLine: 2, Code: "near"},
		{Kind: KindFunction, Name: "Far1", StartLine: 3, EndLine: 4, Code: "far1"},
		{Kind: KindFunction, Name: "Far2", StartLine: 5, EndLine: 6, Code: "far2"},
	})
	require.NoError(t, err)
	require.NoError(t, s.InsertEmbeddingsBatch(ctx, []EmbeddingRow{
		{ChunkID: ids[0], Provider: "openai", Model: "m", Dims: 3, Vector: []float32{1, 0, 0}},
		{ChunkID: ids[1], Provider: "openai", Model: "m", Dims: 3, Vector: []float32{0, 1, 0}},
		{ChunkID: ids[2], Provider: "openai", Model: "m", Dims: 3, Vector: []float32{0, 0, 1}},
	}))

	// When: searching near [1,0,0] with no threshold
	page, err := s.SearchSemantic(ctx, []float32{1, 0, 0}, "openai", "m", nil, "", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, page.Results)
	assert.Equal(t, "Near", page.Results[0].Name)

	// And: a tight threshold excludes the orthogonal vectors
	tight := 0.01
	filtered, err := s.SearchSemantic(ctx, []float32{1, 0, 0}, "openai", "m", &tight, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered.Results, 1)
	assert.Equal(t, "Near", filtered.Results[0].Name)
}

func TestCreateVectorIndex_DimensionChangeDropsEmbeddings(t *testing.T) {
	// Given: embeddings stored at one width
	s := newTestStore(t)
	ctx := context.Background()
	f := insertTestFile(t, s, "dims.go")
	ids, err := s.InsertChunksBatch(ctx, f.ID, []*Chunk{{Kind: KindFunction, StartLine: 1, EndLine: 2, Code: "x"}})
	require.NoError(t, err)
	require.NoError(t, s.InsertEmbeddingsBatch(ctx, []EmbeddingRow{
		{ChunkID: ids[0], Provider: "openai", Model: "m", Dims: 3, Vector: []float32{1, 0, 0}},
	}))
	require.NoError(t, s.CreateVectorIndex(ctx, "openai", "m", 3))

	// When: declaring the same (provider, model) at a different width
	require.NoError(t, s.CreateVectorIndex(ctx, "openai", "m", 8))

	// Then: the old-width embeddings were invalidated
	pending, err := s.GetChunksWithoutEmbeddings(ctx, "openai", "m", EmbeddingFilters{})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestTransaction_RollbackUndoesInserts(t *testing.T) {
	// Given: an open transaction with a pending insert
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Begin(ctx))
	f := &File{Path: "tx.go", Language: "go", MTime: time.Now(), LastIndexedAt: time.Now()}
	_, err := s.InsertFile(ctx, f)
	require.NoError(t, err)

	// When: rolling back instead of committing
	require.NoError(t, s.Rollback(ctx))

	// Then: the file was never durably written
	got, err := s.GetFileByPath(ctx, "tx.go")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBegin_RejectsNestedTransaction(t *testing.T) {
	// Given: a store with an already-open transaction
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Begin(ctx))
	defer s.Rollback(ctx)

	// When: beginning a second transaction
	err := s.Begin(ctx)

	// Then: it is rejected rather than silently nested
	require.Error(t, err)
}
