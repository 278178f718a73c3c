// Package diff implements the Chunk Diff Service (§4.3): classifying
// an existing chunk set against a freshly parsed one into unchanged,
// added, and deleted sets by exact byte equality of Chunk.Code.
package diff

import "github.com/chunkhound/chunkhound/internal/store"

// Result partitions a diff. Unchanged pairs the surviving existing
// chunk (so its id and embeddings can be kept) with the new chunk it
// matched (so callers can refresh line numbers/name if they care to).
type Result struct {
	Unchanged []UnchangedPair
	Added     []*store.Chunk
	Deleted   []*store.Chunk
}

type UnchangedPair struct {
	Existing *store.Chunk
	New      *store.Chunk
}

// Diff matches existing and new chunks by a multiset bijection on
// Code, not a map keyed by Code, so that duplicate chunks are handled
// correctly: if a file has two identical chunks and the new parse has
// three, exactly one is Added (§4.3 precision requirement).
func Diff(existing, fresh []*store.Chunk) Result {
	buckets := make(map[string][]*store.Chunk, len(existing))
	for _, c := range existing {
		buckets[c.Code] = append(buckets[c.Code], c)
	}

	var result Result
	for _, nc := range fresh {
		bucket := buckets[nc.Code]
		if len(bucket) == 0 {
			result.Added = append(result.Added, nc)
			continue
		}
		// Pop one matching existing chunk off its bucket — this is the
		// bijection: each existing chunk is consumed by at most one new
		// chunk, however many share the same Code.
		matched := bucket[len(bucket)-1]
		buckets[nc.Code] = bucket[:len(bucket)-1]
		result.Unchanged = append(result.Unchanged, UnchangedPair{Existing: matched, New: nc})
	}

	for _, bucket := range buckets {
		result.Deleted = append(result.Deleted, bucket...)
	}
	return result
}
