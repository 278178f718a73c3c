package embed

import "github.com/chunkhound/chunkhound/internal/store"

// estimateTokens approximates a token count from byte length. No
// vendor tokenizer is vendored anywhere in the example pack; ~4
// bytes/token is a standard rough estimate for code and prose text.
func estimateTokens(s string) int {
	n := (len(s) + 3) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// batch groups chunks, bounded by maxCount (provider max_batch_size)
// and maxTokens (per-batch token budget), per §4.5 "group chunks into
// batches bounded by (a) the provider's declared max_batch_size and
// (b) a per-batch token budget". A single chunk whose own estimated
// token count exceeds maxTokens still gets its own one-item batch
// rather than being dropped.
func batch(chunks []store.ChunkCode, maxCount, maxTokens int) [][]store.ChunkCode {
	if maxCount <= 0 {
		maxCount = DefaultBatchSize
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxBatchTokens
	}

	var batches [][]store.ChunkCode
	var current []store.ChunkCode
	tokens := 0

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}
	}

	for _, c := range chunks {
		t := estimateTokens(c.Code)
		if len(current) > 0 && (len(current) >= maxCount || tokens+t > maxTokens) {
			flush()
		}
		current = append(current, c)
		tokens += t
	}
	flush()

	return batches
}
