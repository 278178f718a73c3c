package store

import (
	"context"
	"database/sql"
	"math"
	"sort"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

// SearchRegex pushes pattern down as a parametrized REGEXP predicate
// (§4.11: "no client-side filtering loop"). Results are ordered by
// (file path, start line) — chunk name does not participate in
// ranking (§9 Open Question, pinned down in SPEC_FULL.md).
func (s *SQLiteStore) SearchRegex(ctx context.Context, pattern, pathPrefix string, pageSize, offset int) (*Page, error) {
	if pageSize <= 0 {
		return nil, chunkerr.Contract("ERR_SEARCH_PAGE_SIZE", "page_size must be positive")
	}
	if offset < 0 {
		return nil, chunkerr.Contract("ERR_SEARCH_OFFSET", "offset must be non-negative")
	}

	query := `SELECT c.id, f.path, c.start_line, c.end_line, c.kind, c.name, c.code
		FROM chunks c JOIN files f ON f.id = c.file_id
		WHERE c.code REGEXP ?`
	args := []any{pattern}
	if pathPrefix != "" {
		query += ` AND f.path LIKE ? ESCAPE '\'`
		args = append(args, likePrefix(pathPrefix))
	}
	query += ` ORDER BY f.path, c.start_line LIMIT ? OFFSET ?`
	// Fetch one extra row to compute has_more without a second COUNT query.
	args = append(args, pageSize+1, offset)

	rows, err := s.ex().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, chunkerr.Protocol("ERR_SEARCH_REGEX", "invalid regex or query failure: "+err.Error())
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var name sql.NullString
		if err := rows.Scan(&r.ChunkID, &r.FilePath, &r.StartLine, &r.EndLine, &r.Kind, &name, &r.Content); err != nil {
			return nil, chunkerr.FatalStorage("ERR_SEARCH_REGEX", "scan regex result", err)
		}
		r.Name = name.String
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, chunkerr.FatalStorage("ERR_SEARCH_REGEX", "iterate regex results", err)
	}

	hasMore := len(results) > pageSize
	if hasMore {
		results = results[:pageSize]
	}
	return &Page{Results: results, HasMore: hasMore}, nil
}

// SearchSemantic ranks chunks by vector distance against the HNSW
// index for (provider, model). Path-prefix and threshold filters are
// applied to the over-fetched candidate set before pagination, since
// the in-process HNSW graph has no native prefix predicate.
func (s *SQLiteStore) SearchSemantic(ctx context.Context, vector []float32, provider, model string, threshold *float64, pathPrefix string, pageSize, offset int) (*Page, error) {
	if pageSize <= 0 {
		return nil, chunkerr.Contract("ERR_SEARCH_PAGE_SIZE", "page_size must be positive")
	}
	if offset < 0 {
		return nil, chunkerr.Contract("ERR_SEARCH_OFFSET", "offset must be non-negative")
	}

	// Over-fetch candidates generously so post-filtering by path/threshold
	// still leaves enough rows to fill the requested page.
	candidateK := (offset+pageSize+1)*4 + 32
	nodes := s.vector.search(provider, model, vector, candidateK)

	type candidate struct {
		chunkID  int64
		distance float64
	}
	candidates := make([]candidate, 0, len(nodes))
	for _, n := range nodes {
		candidates = append(candidates, candidate{chunkID: n.Key, distance: cosineDistance(vector, []float32(n.Value))})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })

	var results []SearchResult
	for _, c := range candidates {
		if threshold != nil && c.distance > *threshold {
			continue
		}
		row := s.ex().QueryRowContext(ctx,
			`SELECT f.path, c.start_line, c.end_line, c.kind, c.name, c.code
			 FROM chunks c JOIN files f ON f.id = c.file_id WHERE c.id = ?`, c.chunkID)
		var r SearchResult
		var name sql.NullString
		if err := row.Scan(&r.FilePath, &r.StartLine, &r.EndLine, &r.Kind, &name, &r.Content); err != nil {
			continue // chunk was deleted after the HNSW snapshot was taken
		}
		if pathPrefix != "" && !hasPrefix(r.FilePath, pathPrefix) {
			continue
		}
		r.ChunkID = c.chunkID
		r.Name = name.String
		r.Distance = c.distance
		results = append(results, r)
		if len(results) >= offset+pageSize+1 {
			break
		}
	}

	hasMore := false
	if offset < len(results) {
		results = results[offset:]
	} else {
		results = nil
	}
	if len(results) > pageSize {
		hasMore = true
		results = results[:pageSize]
	}
	return &Page{Results: results, HasMore: hasMore}, nil
}

func (s *SQLiteStore) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.ex().QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&stats.Files); err != nil {
		return stats, chunkerr.FatalStorage("ERR_STATS", "count files", err)
	}
	if err := s.ex().QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.Chunks); err != nil {
		return stats, chunkerr.FatalStorage("ERR_STATS", "count chunks", err)
	}
	if err := s.ex().QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&stats.Embeddings); err != nil {
		return stats, chunkerr.FatalStorage("ERR_STATS", "count embeddings", err)
	}
	rows, err := s.ex().QueryContext(ctx, `SELECT DISTINCT provider FROM embeddings`)
	if err != nil {
		return stats, chunkerr.FatalStorage("ERR_STATS", "list providers", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return stats, chunkerr.FatalStorage("ERR_STATS", "scan provider", err)
		}
		stats.Providers = append(stats.Providers, p)
	}
	return stats, rows.Err()
}

// cosineDistance reports 1 - cosine_similarity, matching the metric
// the HNSW graphs are built with (hnsw.CosineDistance in vector.go).
// Recomputing it here against the query vector, rather than trusting
// graph-internal distances, keeps the reported distance meaningful
// after threshold filtering and path-prefix exclusion reorder results.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

func hasPrefix(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}
