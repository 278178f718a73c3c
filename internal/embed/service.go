package embed

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
	"github.com/chunkhound/chunkhound/internal/gate"
	"github.com/chunkhound/chunkhound/internal/store"
)

// Factory builds an Embedder for one (provider, model) pair. The
// caller (appctx wiring, §9) supplies this so Service stays free of
// config-layer and HTTP-client construction details.
type Factory func(provider ProviderType, model string) (Embedder, error)

// Service is the Embedding Service (C5): public generate_missing and
// embed_query operations, batching discipline, bounded concurrency,
// and bulk vector-index maintenance.
type Service struct {
	gate    *gate.Gate
	factory Factory

	maxConcurrentBatches int
	maxBatchTokens       int

	cache *QueryCache

	mu        sync.Mutex
	embedders map[string]Embedder // keyed by provider+"\x00"+model
}

// NewService constructs a Service. maxConcurrentBatches and
// maxBatchTokens fall back to the package defaults when <= 0.
func NewService(g *gate.Gate, factory Factory, maxConcurrentBatches, maxBatchTokens int) *Service {
	if maxConcurrentBatches <= 0 {
		maxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	if maxBatchTokens <= 0 {
		maxBatchTokens = DefaultMaxBatchTokens
	}
	return &Service{
		gate:                 g,
		factory:              factory,
		maxConcurrentBatches: maxConcurrentBatches,
		maxBatchTokens:       maxBatchTokens,
		cache:                NewQueryCache(DefaultQueryCacheSize),
		embedders:            make(map[string]Embedder),
	}
}

func (s *Service) embedderFor(provider ProviderType, model string) (Embedder, error) {
	key := string(provider) + "\x00" + model
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.embedders[key]; ok {
		return e, nil
	}
	e, err := s.factory(provider, model)
	if err != nil {
		return nil, err
	}
	s.embedders[key] = e
	return e, nil
}

// GenerateMissingResult summarizes one generate_missing call.
type GenerateMissingResult struct {
	Embedded int
	Failed   int
}

// GenerateMissing selects chunks without an embedding for
// (provider,model) and embeds them (§4.5). Batches run concurrently up
// to s.maxConcurrentBatches; each batch's storage write is serialized
// through the Serial Gate. A batch that fails after retries is counted
// as Failed and skipped, not treated as a fatal error for the whole
// call -- those chunks remain eligible for the next run.
func (s *Service) GenerateMissing(ctx context.Context, provider ProviderType, model string, filters store.EmbeddingFilters) (GenerateMissingResult, error) {
	embedder, err := s.embedderFor(provider, model)
	if err != nil {
		return GenerateMissingResult{}, err
	}

	pending, err := gate.Submit(ctx, s.gate, func(ctx context.Context, st store.Store) ([]store.ChunkCode, error) {
		return st.GetChunksWithoutEmbeddings(ctx, string(provider), model, filters)
	})
	if err != nil {
		return GenerateMissingResult{}, err
	}
	if len(pending) == 0 {
		return GenerateMissingResult{}, nil
	}

	batches := batch(pending, embedder.MaxBatchSize(), s.maxBatchTokens)

	bulk := len(pending) >= BulkIndexThreshold
	if bulk {
		if err := gate.Do(ctx, s.gate, func(ctx context.Context, st store.Store) error {
			return st.DropVectorIndex(ctx, string(provider), model)
		}); err != nil {
			return GenerateMissingResult{}, err
		}
	}

	sem := semaphore.NewWeighted(int64(s.maxConcurrentBatches))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var embedded, failed int
	var dimsRegistered bool
	var registeredDims int

	for _, b := range batches {
		b := b
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			texts := make([]string, len(b))
			for i, c := range b {
				texts[i] = c.Code
			}

			vectors, err := embedder.EmbedBatch(ctx, texts)
			if err != nil {
				slog.Warn("embedding_batch_failed", slog.Int("size", len(b)), slog.String("error", err.Error()))
				mu.Lock()
				failed += len(b)
				mu.Unlock()
				return
			}

			dims := embedder.Dimensions()
			mu.Lock()
			needsRegister := !dimsRegistered
			if needsRegister {
				dimsRegistered = true
				registeredDims = dims
			}
			mu.Unlock()

			// In bulk mode the index stays dropped and the graph stays
			// untouched until every batch lands (§4.1 bulk insert
			// discipline): registering the index or upserting nodes
			// here, per batch, would rebuild it incrementally and make
			// the drop pointless.
			if !bulk && needsRegister && dims > 0 {
				if err := gate.Do(ctx, s.gate, func(ctx context.Context, st store.Store) error {
					return st.CreateVectorIndex(ctx, string(provider), model, dims)
				}); err != nil {
					slog.Warn("vector_index_create_failed", slog.String("error", err.Error()))
				}
			}

			rows := make([]store.EmbeddingRow, len(b))
			for i, c := range b {
				rows[i] = store.EmbeddingRow{
					ChunkID:  c.ChunkID,
					Provider: string(provider),
					Model:    model,
					Dims:     dims,
					Vector:   vectors[i],
				}
			}

			writeErr := gate.Do(ctx, s.gate, func(ctx context.Context, st store.Store) error {
				if bulk {
					return st.InsertEmbeddingsRows(ctx, rows)
				}
				return st.InsertEmbeddingsBatch(ctx, rows)
			})
			if writeErr != nil {
				slog.Warn("embedding_insert_failed", slog.Int("size", len(rows)), slog.String("error", writeErr.Error()))
				mu.Lock()
				failed += len(b)
				mu.Unlock()
				return
			}

			mu.Lock()
			embedded += len(b)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Bulk runs register the index width and rebuild the HNSW graph
	// exactly once here, now that every batch's rows are persisted --
	// the drop/recreate discipline only pays off if the graph is built
	// in one pass instead of node-by-node across batches.
	if bulk && dimsRegistered && embedded > 0 {
		if err := gate.Do(ctx, s.gate, func(ctx context.Context, st store.Store) error {
			if err := st.CreateVectorIndex(ctx, string(provider), model, registeredDims); err != nil {
				return err
			}
			return st.RebuildVectorIndex(ctx, string(provider), model)
		}); err != nil {
			return GenerateMissingResult{Embedded: embedded, Failed: failed}, err
		}
	}

	return GenerateMissingResult{Embedded: embedded, Failed: failed}, nil
}

// EmbedQuery embeds a single string for semantic search, cached by
// (text, provider, model) (§4.5 embed_query).
func (s *Service) EmbedQuery(ctx context.Context, provider ProviderType, model, text string) ([]float32, error) {
	embedder, err := s.embedderFor(provider, model)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, chunkerr.Contract("ERR_EMBED_EMPTY_QUERY", "query text must not be empty")
	}
	return embedQueryCached(ctx, s.cache, embedder, text, string(provider), model)
}

// Warmup constructs the (provider, model) embedder eagerly instead of
// waiting for the first real query, so the client-construction cost
// (HTTP client setup) happens during the
// MCP server's deferred initialization rather than on the first
// search_semantic call.
func (s *Service) Warmup(provider ProviderType, model string) error {
	_, err := s.embedderFor(provider, model)
	return err
}

// Close releases every constructed embedder's resources.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, e := range s.embedders {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
