package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

func (s *SQLiteStore) GetExistingEmbeddings(ctx context.Context, chunkIDs []int64, provider, model string) (map[int64]bool, error) {
	existing := make(map[int64]bool, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return existing, nil
	}

	placeholders := make([]byte, 0, len(chunkIDs)*2)
	args := make([]any, 0, len(chunkIDs)+2)
	for i, id := range chunkIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	args = append(args, provider, model)

	query := `SELECT chunk_id FROM embeddings WHERE chunk_id IN (` + string(placeholders) + `) AND provider = ? AND model = ?`
	rows, err := s.ex().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, chunkerr.FatalStorage("ERR_STORE_GET_EMBEDDINGS", "query existing embeddings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, chunkerr.FatalStorage("ERR_STORE_GET_EMBEDDINGS", "scan embedding id", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// InsertEmbeddingsBatch upserts embedding rows keyed by (chunk_id,
// provider, model), and keeps the in-process HNSW index for that
// (provider, model) pair current (§4.5 storage form).
func (s *SQLiteStore) InsertEmbeddingsBatch(ctx context.Context, rows []EmbeddingRow) error {
	if err := s.writeEmbeddingRows(ctx, rows); err != nil {
		return err
	}
	for _, r := range rows {
		s.vector.upsert(r.Provider, r.Model, r.ChunkID, r.Vector)
	}
	return nil
}

// InsertEmbeddingsRows upserts embedding rows without touching the
// in-memory HNSW graph. A bulk generate_missing run (§4.1 bulk insert
// discipline) writes every batch through this instead of
// InsertEmbeddingsBatch while the index stays dropped, then rebuilds
// the graph once with RebuildVectorIndex after every batch has landed
// -- adding nodes here per batch would defeat the drop.
func (s *SQLiteStore) InsertEmbeddingsRows(ctx context.Context, rows []EmbeddingRow) error {
	return s.writeEmbeddingRows(ctx, rows)
}

func (s *SQLiteStore) writeEmbeddingRows(ctx context.Context, rows []EmbeddingRow) error {
	if len(rows) == 0 {
		return nil
	}
	for _, r := range rows {
		blob := encodeVector(r.Vector)
		_, err := s.ex().ExecContext(ctx,
			`INSERT INTO embeddings(chunk_id, provider, model, dims, vector) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(chunk_id, provider, model) DO UPDATE SET dims = excluded.dims, vector = excluded.vector`,
			r.ChunkID, r.Provider, r.Model, r.Dims, blob)
		if err != nil {
			return chunkerr.FatalStorage("ERR_STORE_INSERT_EMBEDDINGS", "upsert embedding", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetChunksWithoutEmbeddings(ctx context.Context, provider, model string, filters EmbeddingFilters) ([]ChunkCode, error) {
	query := `SELECT c.id, c.code FROM chunks c
		JOIN files f ON f.id = c.file_id
		LEFT JOIN embeddings e ON e.chunk_id = c.id AND e.provider = ? AND e.model = ?
		WHERE e.chunk_id IS NULL`
	args := []any{provider, model}
	if filters.PathPrefix != "" {
		query += ` AND f.path LIKE ? ESCAPE '\'`
		args = append(args, likePrefix(filters.PathPrefix))
	}
	if filters.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filters.Limit)
	}

	rows, err := s.ex().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, chunkerr.FatalStorage("ERR_STORE_GET_PENDING", "query chunks without embeddings", err)
	}
	defer rows.Close()

	var out []ChunkCode
	for rows.Next() {
		var cc ChunkCode
		if err := rows.Scan(&cc.ChunkID, &cc.Code); err != nil {
			return nil, chunkerr.FatalStorage("ERR_STORE_GET_PENDING", "scan pending chunk", err)
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

func encodeVector(v []float32) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(len(v) * 4)
	for _, f := range v {
		_ = binary.Write(buf, binary.LittleEndian, math.Float32bits(f))
	}
	return buf.Bytes()
}

func decodeVector(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(b[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func likePrefix(prefix string) string {
	escaped := bytes.NewBuffer(nil)
	for _, r := range prefix {
		switch r {
		case '%', '_', '\\':
			escaped.WriteRune('\\')
		}
		escaped.WriteRune(r)
	}
	escaped.WriteString("%")
	return escaped.String()
}
