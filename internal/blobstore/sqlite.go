package blobstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore keeps blobs in a single SQLite file. It is the embedded
// backend for single-node deployments that do not run object storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the blob database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: set pragma %q: %v", ErrStorage, pragma, err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS blobs (
		id TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		data BLOB NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrStorage, err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put inserts the blob in a single transaction, so a reader either sees
// the whole blob or no blob at all.
func (s *SQLiteStore) Put(ctx context.Context, r io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO blobs (id, content_type, data) VALUES (?, ?, ?)",
		id, contentType, data)
	if err != nil {
		return "", fmt.Errorf("%w: insert blob: %v", ErrStorage, err)
	}
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM blobs WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query blob: %v", ErrStorage, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: delete blob: %v", ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
