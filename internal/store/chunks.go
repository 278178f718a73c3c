package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

// InsertChunksBatch inserts all chunks for a file in a single bulk SQL
// statement (§4.1 "MUST implement as a single bulk operation, not a
// row-per-insert loop").
func (s *SQLiteStore) InsertChunksBatch(ctx context.Context, fileID int64, chunks []*Chunk) ([]int64, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO chunks(file_id, kind, name, start_line, end_line, code) VALUES `)
	args := make([]any, 0, len(chunks)*6)
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		var name any
		if c.Name != "" {
			name = c.Name
		}
		args = append(args, fileID, c.Kind, name, c.StartLine, c.EndLine, c.Code)
	}

	res, err := s.ex().ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, chunkerr.FatalStorage("ERR_STORE_INSERT_CHUNKS", "bulk insert chunks", err)
	}
	firstID, err := res.LastInsertId()
	if err != nil {
		return nil, chunkerr.FatalStorage("ERR_STORE_INSERT_CHUNKS", "read inserted id", err)
	}
	// SQLite assigns AUTOINCREMENT ids contiguously within one insert
	// statement ending at LastInsertId(); the leading id is derived by
	// counting back, which holds because this connection is the sole
	// writer (§4.2).
	n := int64(len(chunks))
	startID := firstID - n + 1
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = startID + int64(i)
		chunks[i].ID = ids[i]
		chunks[i].FileID = fileID
	}
	return ids, nil
}

func (s *SQLiteStore) GetChunksByFileID(ctx context.Context, fileID int64) ([]*Chunk, error) {
	rows, err := s.ex().QueryContext(ctx,
		`SELECT id, file_id, kind, name, start_line, end_line, code FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, chunkerr.FatalStorage("ERR_STORE_GET_CHUNKS", "query chunks", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, chunkerr.FatalStorage("ERR_STORE_GET_CHUNKS", "scan chunk", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChunk(rows *sql.Rows) (*Chunk, error) {
	var c Chunk
	var name sql.NullString
	if err := rows.Scan(&c.ID, &c.FileID, &c.Kind, &name, &c.StartLine, &c.EndLine, &c.Code); err != nil {
		return nil, err
	}
	c.Name = name.String
	return &c, nil
}

func (s *SQLiteStore) DeleteChunk(ctx context.Context, id int64) error {
	_, err := s.ex().ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id)
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_DELETE_CHUNK", "delete chunk", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChunksByFileID(ctx context.Context, fileID int64) error {
	_, err := s.ex().ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_DELETE_CHUNKS", "delete chunks by file", err)
	}
	return nil
}
