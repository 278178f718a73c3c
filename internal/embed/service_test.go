package embed

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkhound/chunkhound/internal/gate"
	"github.com/chunkhound/chunkhound/internal/store"
)

// fakeEmbedder returns deterministic vectors without any network call,
// so Service tests exercise batching/concurrency/storage wiring without
// touching internal/embed's HTTP layer (already covered by http_test.go).
type fakeEmbedder struct {
	dims    int
	maxSize int
	calls   int32
	fail    bool
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail {
		return nil, assertErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
		out[i][0] = 1
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int   { return f.dims }
func (f *fakeEmbedder) ModelName() string { return "fake-model" }
func (f *fakeEmbedder) MaxBatchSize() int { return f.maxSize }
func (f *fakeEmbedder) Close() error      { return nil }

var assertErr = &fakeError{"embedding failed"}

type fakeError struct{ msg string }

func (e *fakeError) Error() string { return e.msg }

func newTestService(t *testing.T, embedder Embedder) (*Service, *gate.Gate, string) {
	t.Helper()
	base := t.TempDir()
	g := gate.New(func() store.Store {
		return store.NewSQLiteStore(filepath.Join(base, ".chunkhound", "db"))
	})
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })

	var mu sync.Mutex
	svc := NewService(g, func(provider ProviderType, model string) (Embedder, error) {
		mu.Lock()
		defer mu.Unlock()
		return embedder, nil
	}, 4, DefaultMaxBatchTokens)
	return svc, g, base
}

func seedChunks(t *testing.T, g *gate.Gate, n int) {
	t.Helper()
	_, err := gate.Submit(context.Background(), g, func(ctx context.Context, s store.Store) (int64, error) {
		fileID, err := s.InsertFile(ctx, &store.File{Path: "a.go", Language: "go"})
		if err != nil {
			return 0, err
		}
		chunks := make([]*store.Chunk, n)
		for i := 0; i < n; i++ {
			chunks[i] = &store.Chunk{Kind: store.KindFunction, Name: "F", StartLine: i, EndLine: i, Code: "func F() {}"}
		}
		_, err = s.InsertChunksBatch(ctx, fileID, chunks)
		return fileID, err
	})
	require.NoError(t, err)
}

func TestGenerateMissing_EmbedsAllPendingChunks(t *testing.T) {
	// Given: five chunks with no embeddings yet
	embedder := &fakeEmbedder{dims: 4, maxSize: 2}
	svc, g, _ := newTestService(t, embedder)
	seedChunks(t, g, 5)

	// When: generating missing embeddings
	res, err := svc.GenerateMissing(context.Background(), ProviderOpenAI, "fake-model", store.EmbeddingFilters{})

	// Then: all five are embedded, none failed
	require.NoError(t, err)
	assert.Equal(t, 5, res.Embedded)
	assert.Equal(t, 0, res.Failed)

	// And: a second run finds nothing left to do
	res2, err := svc.GenerateMissing(context.Background(), ProviderOpenAI, "fake-model", store.EmbeddingFilters{})
	require.NoError(t, err)
	assert.Equal(t, 0, res2.Embedded)
}

func TestGenerateMissing_RegistersVectorIndexAtDetectedWidth(t *testing.T) {
	embedder := &fakeEmbedder{dims: 8, maxSize: 10}
	svc, g, _ := newTestService(t, embedder)
	seedChunks(t, g, 3)

	_, err := svc.GenerateMissing(context.Background(), ProviderOpenAI, "fake-model", store.EmbeddingFilters{})
	require.NoError(t, err)

	indexes, err := gate.Submit(context.Background(), g, func(ctx context.Context, s store.Store) ([]store.VectorIndexInfo, error) {
		return s.ListVectorIndexes(ctx)
	})
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, 8, indexes[0].Dims)
}

func TestGenerateMissing_BulkRunDropsAndRebuildsIndexOnce(t *testing.T) {
	// Given: enough pending chunks to cross the bulk threshold, split
	// across several small batches
	embedder := &fakeEmbedder{dims: 4, maxSize: 5}
	svc, g, _ := newTestService(t, embedder)
	seedChunks(t, g, BulkIndexThreshold+3)

	// When: generating missing embeddings
	res, err := svc.GenerateMissing(context.Background(), ProviderOpenAI, "fake-model", store.EmbeddingFilters{})

	// Then: every chunk is embedded
	require.NoError(t, err)
	assert.Equal(t, BulkIndexThreshold+3, res.Embedded)
	assert.Equal(t, 0, res.Failed)

	// And: exactly one vector index is registered at the detected width,
	// and every embedded chunk is reachable through it -- proof the
	// post-wg.Wait rebuild ran rather than relying on per-batch upserts
	// into a dropped index
	indexes, err := gate.Submit(context.Background(), g, func(ctx context.Context, s store.Store) ([]store.VectorIndexInfo, error) {
		return s.ListVectorIndexes(ctx)
	})
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, 4, indexes[0].Dims)
	assert.Equal(t, BulkIndexThreshold+3, indexes[0].Size)
}

func TestGenerateMissing_FailedBatchIsCountedNotFatal(t *testing.T) {
	embedder := &fakeEmbedder{dims: 4, maxSize: 10, fail: true}
	svc, g, _ := newTestService(t, embedder)
	seedChunks(t, g, 3)

	res, err := svc.GenerateMissing(context.Background(), ProviderOpenAI, "fake-model", store.EmbeddingFilters{})

	require.NoError(t, err)
	assert.Equal(t, 0, res.Embedded)
	assert.Equal(t, 3, res.Failed)
}

func TestGenerateMissing_NoPendingChunksIsANoop(t *testing.T) {
	embedder := &fakeEmbedder{dims: 4, maxSize: 10}
	svc, _, _ := newTestService(t, embedder)

	res, err := svc.GenerateMissing(context.Background(), ProviderOpenAI, "fake-model", store.EmbeddingFilters{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Embedded)
}

func TestEmbedQuery_CachesByTextProviderModel(t *testing.T) {
	embedder := &fakeEmbedder{dims: 4, maxSize: 10}
	svc, _, _ := newTestService(t, embedder)

	v1, err := svc.EmbedQuery(context.Background(), ProviderOpenAI, "fake-model", "find the parser")
	require.NoError(t, err)
	v2, err := svc.EmbedQuery(context.Background(), ProviderOpenAI, "fake-model", "find the parser")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&embedder.calls))
}

func TestEmbedQuery_RejectsEmptyText(t *testing.T) {
	embedder := &fakeEmbedder{dims: 4, maxSize: 10}
	svc, _, _ := newTestService(t, embedder)

	_, err := svc.EmbedQuery(context.Background(), ProviderOpenAI, "fake-model", "")
	require.Error(t, err)
}
