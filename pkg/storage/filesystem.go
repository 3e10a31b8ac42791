package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DocumentStore persists uploaded change-request documents on disk under a
// base directory. Paths handed to it are always relative document keys.
type DocumentStore struct {
	baseDir string
}

// NewDocumentStore ensures the base directory exists and returns a handle.
func NewDocumentStore(baseDir string) (*DocumentStore, error) {
	if baseDir == "" {
		baseDir = "./documents"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents directory: %w", err)
	}
	return &DocumentStore{baseDir: baseDir}, nil
}

// SaveStream copies the upload into the target key under the base dir.
func (s *DocumentStore) SaveStream(key string, r io.Reader) (int64, error) {
	path := s.resolve(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("prepare document directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create document file: %w", err)
	}
	defer file.Close() //nolint:errcheck
	written, err := io.Copy(file, r)
	if err != nil {
		return 0, fmt.Errorf("write document stream: %w", err)
	}
	return written, nil
}

// Open returns a read-only handle for the stored document.
func (s *DocumentStore) Open(key string) (*os.File, error) {
	file, err := os.Open(s.resolve(key))
	if err != nil {
		return nil, fmt.Errorf("open document file: %w", err)
	}
	return file, nil
}

// Delete removes a stored document if present.
func (s *DocumentStore) Delete(key string) error {
	if err := os.Remove(s.resolve(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete document file: %w", err)
	}
	return nil
}

func (s *DocumentStore) resolve(key string) string {
	return filepath.Join(s.baseDir, filepath.Clean("/"+key))
}
