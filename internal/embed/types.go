// Package embed implements the Embedding Service (C5): token-aware
// batching, concurrency-limited calls to an HTTP embedding provider,
// bulk vector upsert, and a small query-embedding cache.
package embed

import (
	"context"
	"math"
	"time"
)

// Batch and timeout constants (grounded on the teacher's
// internal/embed/types.go, scaled for cloud HTTP providers rather than
// local GPU inference).
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32

	DefaultTimeout = 30 * time.Second

	DefaultMaxRetries = 3

	// DefaultMaxBatchTokens bounds a single request's estimated token
	// count (§4.5 "a per-batch token budget ... e.g. <= 50000 tokens/batch
	// for a remote cloud provider").
	DefaultMaxBatchTokens = 50000

	// DefaultMaxConcurrentBatches bounds in-flight embedding calls (§4.5
	// "process <= max_concurrent_batches batches in parallel").
	DefaultMaxConcurrentBatches = 4

	// BulkIndexThreshold is the embedding count at or above which the
	// vector index is dropped before insertion and rebuilt after (§4.5).
	BulkIndexThreshold = 50
)

// Embedder generates vector embeddings for text via one provider. Every
// provider in this package is an HTTP API; there is no local/in-process
// implementation, so the interface carries no warm/cold state.
type Embedder interface {
	// EmbedBatch generates embeddings for multiple texts in input
	// order. The returned slice has the same length as texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width, or 0 if it is not yet
	// known (determined from the first non-empty response).
	Dimensions() int

	// ModelName returns the model identifier used in requests.
	ModelName() string

	// MaxBatchSize returns the provider's declared batch size cap.
	MaxBatchSize() int

	// Close releases any pooled resources (idle HTTP connections).
	Close() error
}

// normalizeVector scales v to unit length, the way the teacher's
// embed package does before handing a vector to cosine-distance search.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	mag := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}
