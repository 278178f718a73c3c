package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

func (s *SQLiteStore) InsertFile(ctx context.Context, f *File) (int64, error) {
	res, err := s.ex().ExecContext(ctx,
		`INSERT INTO files(path, language, size, mtime, last_indexed_at) VALUES (?, ?, ?, ?, ?)`,
		f.Path, f.Language, f.Size, f.MTime.Unix(), f.LastIndexedAt.Unix())
	if err != nil {
		return 0, chunkerr.FatalStorage("ERR_STORE_INSERT_FILE", "insert file", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, chunkerr.FatalStorage("ERR_STORE_INSERT_FILE", "read inserted id", err)
	}
	f.ID = id
	return id, nil
}

func (s *SQLiteStore) GetFileByPath(ctx context.Context, path string) (*File, error) {
	row := s.ex().QueryRowContext(ctx,
		`SELECT id, path, language, size, mtime, last_indexed_at FROM files WHERE path = ?`, path)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, chunkerr.FatalStorage("ERR_STORE_GET_FILE", "query file", err)
	}
	return f, nil
}

// ListFiles returns every tracked file's path, size, and mtime. Used by
// the periodic scanner (C9) to reconcile stored state against a fresh
// directory listing without pulling chunk/embedding data along with it.
func (s *SQLiteStore) ListFiles(ctx context.Context) ([]File, error) {
	rows, err := s.ex().QueryContext(ctx, `SELECT id, path, language, size, mtime, last_indexed_at FROM files`)
	if err != nil {
		return nil, chunkerr.FatalStorage("ERR_STORE_LIST_FILES", "list files", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		var mtime, indexedAt int64
		if err := rows.Scan(&f.ID, &f.Path, &f.Language, &f.Size, &mtime, &indexedAt); err != nil {
			return nil, chunkerr.FatalStorage("ERR_STORE_LIST_FILES", "scan file row", err)
		}
		f.MTime = time.Unix(mtime, 0).UTC()
		f.LastIndexedAt = time.Unix(indexedAt, 0).UTC()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, chunkerr.FatalStorage("ERR_STORE_LIST_FILES", "iterate file rows", err)
	}
	return out, nil
}

func scanFile(row *sql.Row) (*File, error) {
	var f File
	var mtime, indexedAt int64
	if err := row.Scan(&f.ID, &f.Path, &f.Language, &f.Size, &mtime, &indexedAt); err != nil {
		return nil, err
	}
	f.MTime = time.Unix(mtime, 0).UTC()
	f.LastIndexedAt = time.Unix(indexedAt, 0).UTC()
	return &f, nil
}

func (s *SQLiteStore) UpdateFile(ctx context.Context, f *File) error {
	_, err := s.ex().ExecContext(ctx,
		`UPDATE files SET language = ?, size = ?, mtime = ?, last_indexed_at = ? WHERE id = ?`,
		f.Language, f.Size, f.MTime.Unix(), f.LastIndexedAt.Unix(), f.ID)
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_UPDATE_FILE", "update file", err)
	}
	return nil
}

// DeleteFileCompletely removes a File row; ON DELETE CASCADE removes
// its chunks and their embeddings (§3 Ownership).
func (s *SQLiteStore) DeleteFileCompletely(ctx context.Context, fileID int64) error {
	_, err := s.ex().ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	if err != nil {
		return chunkerr.FatalStorage("ERR_STORE_DELETE_FILE", "delete file", err)
	}
	return nil
}
