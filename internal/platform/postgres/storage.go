package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/pbsnet/gateway/internal/platform"
)

// Upload implements platform.Storage.
func (s *Store) Upload(ctx context.Context, bucket, filename string, data []byte) (string, error) {
	id := newID()
	q := `INSERT INTO files (bucket, id, filename, content_type, data) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.Exec(ctx, q, bucket, id, filename, http.DetectContentType(data), data); err != nil {
		return "", fmt.Errorf("store file: %w", err)
	}
	return id, nil
}

// Delete implements platform.Storage.
func (s *Store) Delete(ctx context.Context, bucket, fileID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM files WHERE bucket = $1 AND id = $2`, bucket, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return platform.ErrNotFound
	}
	return nil
}

// Open implements platform.Storage.
func (s *Store) Open(ctx context.Context, bucket, fileID string) (io.ReadCloser, string, error) {
	var contentType string
	var data []byte
	q := `SELECT content_type, data FROM files WHERE bucket = $1 AND id = $2`
	if err := s.db.QueryRow(ctx, q, bucket, fileID).Scan(&contentType, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", platform.ErrNotFound
		}
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), contentType, nil
}
