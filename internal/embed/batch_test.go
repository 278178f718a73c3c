package embed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chunkhound/chunkhound/internal/store"
)

func chunkOfSize(id int64, n int) store.ChunkCode {
	return store.ChunkCode{ChunkID: id, Code: strings.Repeat("a", n)}
}

func TestBatch_SplitsOnMaxCount(t *testing.T) {
	// Given: five tiny chunks and a max batch size of two
	chunks := []store.ChunkCode{chunkOfSize(1, 4), chunkOfSize(2, 4), chunkOfSize(3, 4), chunkOfSize(4, 4), chunkOfSize(5, 4)}

	// When: batching with a generous token budget
	batches := batch(chunks, 2, 1_000_000)

	// Then: three batches of sizes 2, 2, 1
	assert.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
}

func TestBatch_SplitsOnTokenBudget(t *testing.T) {
	// Given: two chunks each estimated at ~25 tokens (100 bytes / 4)
	chunks := []store.ChunkCode{chunkOfSize(1, 100), chunkOfSize(2, 100)}

	// When: the token budget only fits one chunk per batch
	batches := batch(chunks, 100, 30)

	// Then: each chunk lands in its own batch
	assert.Len(t, batches, 2)
	assert.Len(t, batches[0], 1)
	assert.Len(t, batches[1], 1)
}

func TestBatch_OversizedSingleChunkGetsOwnBatch(t *testing.T) {
	// Given: one chunk whose estimated tokens exceed the budget
	chunks := []store.ChunkCode{chunkOfSize(1, 1000)}

	// When: batching with a tiny token budget
	batches := batch(chunks, 100, 10)

	// Then: it is not dropped, just placed alone
	assert.Len(t, batches, 1)
	assert.Len(t, batches[0], 1)
}

func TestBatch_EmptyInputProducesNoBatches(t *testing.T) {
	assert.Empty(t, batch(nil, 10, 1000))
}
