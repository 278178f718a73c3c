package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/hnsw"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

// vectorIndexKey identifies one (provider, model) vector index.
type vectorIndexKey struct {
	provider string
	model    string
}

// vectorIndexes owns an in-process HNSW graph per active (provider,
// model) embedding space, mirroring the per-space isolation the
// dimension contract (§4.5, I4/I5) requires: a graph's vectors all
// share one width.
type vectorIndexes struct {
	mu     sync.RWMutex
	graphs map[vectorIndexKey]*hnsw.Graph[int64]
	dims   map[vectorIndexKey]int
}

func newVectorIndexes() *vectorIndexes {
	return &vectorIndexes{
		graphs: make(map[vectorIndexKey]*hnsw.Graph[int64]),
		dims:   make(map[vectorIndexKey]int),
	}
}

func (v *vectorIndexes) key(provider, model string) vectorIndexKey {
	return vectorIndexKey{provider: provider, model: model}
}

func (v *vectorIndexes) upsert(provider, model string, chunkID int64, vec []float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := v.key(provider, model)
	g, ok := v.graphs[k]
	if !ok {
		g = hnsw.NewGraph[int64]()
		g.Distance = hnsw.CosineDistance
		v.graphs[k] = g
		v.dims[k] = len(vec)
	}
	g.Add(hnsw.MakeNode(chunkID, hnsw.Vector(vec)))
}

func (v *vectorIndexes) remove(provider, model string, chunkID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if g, ok := v.graphs[v.key(provider, model)]; ok {
		g.Delete(chunkID)
	}
}

func (v *vectorIndexes) drop(provider, model string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := v.key(provider, model)
	delete(v.graphs, k)
	delete(v.dims, k)
}

func (v *vectorIndexes) search(provider, model string, query []float32, k int) []hnsw.Node[int64] {
	v.mu.RLock()
	defer v.mu.RUnlock()
	g, ok := v.graphs[v.key(provider, model)]
	if !ok {
		return nil
	}
	return g.Search(hnsw.Vector(query), k)
}

func (v *vectorIndexes) dimsOf(provider, model string) (int, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d, ok := v.dims[v.key(provider, model)]
	return d, ok
}

// rebuildFromRows replaces the graph for (provider, model) with a
// fresh one built from the given rows in a single pass, the bulk
// counterpart to upsert's per-node incremental add.
func (v *vectorIndexes) rebuildFromRows(provider, model string, chunkIDs []int64, vectors [][]float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := v.key(provider, model)
	g := hnsw.NewGraph[int64]()
	g.Distance = hnsw.CosineDistance
	dims := 0
	for i, id := range chunkIDs {
		g.Add(hnsw.MakeNode(id, hnsw.Vector(vectors[i])))
		dims = len(vectors[i])
	}
	v.graphs[k] = g
	if dims > 0 {
		v.dims[k] = dims
	}
}

// loadFromStore rebuilds every (provider, model) HNSW graph from
// persisted embeddings on connect, since the graph itself is not
// durable.
func (v *vectorIndexes) loadFromStore(ctx context.Context, s *SQLiteStore) error {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, provider, model, vector FROM embeddings`)
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_VECTOR_LOAD", "load embeddings into vector index", err)
	}
	defer rows.Close()

	for rows.Next() {
		var chunkID int64
		var provider, model string
		var blob []byte
		if err := rows.Scan(&chunkID, &provider, &model, &blob); err != nil {
			return chunkerr.FatalStorage("ERR_STORE_VECTOR_LOAD", "scan embedding row", err)
		}
		v.upsert(provider, model, chunkID, decodeVector(blob))
	}
	return rows.Err()
}

// CreateVectorIndex declares a (provider, model) vector space at a
// fixed width. If embeddings already exist at a different width, the
// vector column is logically rebuilt (§4.5 dimension contract).
func (s *SQLiteStore) CreateVectorIndex(ctx context.Context, provider, model string, dims int) error {
	if existing, ok := s.vector.dimsOf(provider, model); ok && existing != dims {
		if err := s.rebuildEmbeddingsAtWidth(ctx, provider, model, dims); err != nil {
			return err
		}
	}
	_, err := s.ex().ExecContext(ctx,
		`INSERT INTO vector_indexes(provider, model, dims, metric) VALUES (?, ?, ?, 'cosine')
		 ON CONFLICT(provider, model) DO UPDATE SET dims = excluded.dims`,
		provider, model, dims)
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_CREATE_VECINDEX", "register vector index", err)
	}
	s.vector.mu.Lock()
	s.vector.dims[s.vector.key(provider, model)] = dims
	s.vector.mu.Unlock()
	return nil
}

// DropVectorIndex discards the in-memory HNSW graph for (provider,
// model). Required before a run of >=50 embedding writes (§4.1 bulk
// insert discipline) and recreated afterwards by the embedding
// service.
func (s *SQLiteStore) DropVectorIndex(ctx context.Context, provider, model string) error {
	s.vector.drop(provider, model)
	_, err := s.ex().ExecContext(ctx, `DELETE FROM vector_indexes WHERE provider = ? AND model = ?`, provider, model)
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_DROP_VECINDEX", "drop vector index", err)
	}
	return nil
}

// RebuildVectorIndex reconstructs the in-memory HNSW graph for
// (provider, model) from persisted rows in one pass. The embedding
// service's bulk generate_missing path calls this once after every
// batch has landed with InsertEmbeddingsRows, completing the
// drop-then-rebuild discipline DropVectorIndex started (§4.1).
func (s *SQLiteStore) RebuildVectorIndex(ctx context.Context, provider, model string) error {
	rows, err := s.ex().QueryContext(ctx,
		`SELECT chunk_id, vector FROM embeddings WHERE provider = ? AND model = ?`, provider, model)
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_REBUILD_VECINDEX", "rebuild vector index", err)
	}
	defer rows.Close()

	var chunkIDs []int64
	var vectors [][]float32
	for rows.Next() {
		var chunkID int64
		var blob []byte
		if err := rows.Scan(&chunkID, &blob); err != nil {
			return chunkerr.FatalStorage("ERR_STORE_REBUILD_VECINDEX", "scan embedding row", err)
		}
		chunkIDs = append(chunkIDs, chunkID)
		vectors = append(vectors, decodeVector(blob))
	}
	if err := rows.Err(); err != nil {
		return chunkerr.FatalStorage("ERR_STORE_REBUILD_VECINDEX", "iterate embedding rows", err)
	}

	s.vector.rebuildFromRows(provider, model, chunkIDs, vectors)
	return nil
}

func (s *SQLiteStore) ListVectorIndexes(ctx context.Context) ([]VectorIndexInfo, error) {
	rows, err := s.ex().QueryContext(ctx, `SELECT provider, model, dims, metric FROM vector_indexes`)
	if err != nil {
		return nil, chunkerr.FatalStorage("ERR_STORE_LIST_VECINDEX", "list vector indexes", err)
	}
	defer rows.Close()

	var out []VectorIndexInfo
	for rows.Next() {
		var info VectorIndexInfo
		if err := rows.Scan(&info.Provider, &info.Model, &info.Dims, &info.Metric); err != nil {
			return nil, chunkerr.FatalStorage("ERR_STORE_LIST_VECINDEX", "scan vector index", err)
		}
		info.Size = len(s.vector.search(info.Provider, info.Model, make([]float32, info.Dims), 1<<30))
		out = append(out, info)
	}
	return out, rows.Err()
}

// rebuildEmbeddingsAtWidth drops every stored embedding for
// (provider, model) so the caller can re-embed at the new width; a
// dimension change invalidates previously computed vectors outright.
func (s *SQLiteStore) rebuildEmbeddingsAtWidth(ctx context.Context, provider, model string, newDims int) error {
	_, err := s.ex().ExecContext(ctx, `DELETE FROM embeddings WHERE provider = ? AND model = ?`, provider, model)
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_REBUILD_VECTOR", fmt.Sprintf("rebuild vector column at dims=%d", newDims), err)
	}
	s.vector.drop(provider, model)
	return nil
}
