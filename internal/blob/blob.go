// Package blob abstracts where attack resources (wordlists, rules, masks)
// live. The core stores keys only; agents fetch bytes through presigned
// URLs so the scheduler never proxies large files.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store is the resource storage interface.
type Store interface {
	// Put writes a resource under key, replacing any existing content.
	Put(ctx context.Context, key string, r io.Reader) error
	// Get opens a resource for reading. Callers close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes a resource. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Presign returns a URL an agent can fetch the resource from for ttl.
	Presign(key string, ttl time.Duration) (string, error)
}

// FilesystemStore keeps resources under a base directory and serves them
// through the server's own download endpoint.
type FilesystemStore struct {
	baseDir string
	baseURL string
}

// NewFilesystemStore creates a store rooted at baseDir. baseURL is the
// externally reachable prefix for downloads.
func NewFilesystemStore(baseDir, baseURL string) (*FilesystemStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory %s: %w", baseDir, err)
	}
	return &FilesystemStore{
		baseDir: baseDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// safePath rejects keys that would escape the base directory.
func (s *FilesystemStore) safePath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty blob key")
	}
	cleaned := filepath.Clean(key)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}

// Put implements Store.
func (s *FilesystemStore) Put(ctx context.Context, key string, r io.Reader) error {
	path, err := s.safePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create blob parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close blob %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to finalize blob %s: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (s *FilesystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.safePath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", key, err)
	}
	return f, nil
}

// Delete implements Store.
func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	path, err := s.safePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// Presign implements Store. The filesystem store has no real signing; the
// URL points at the server's download route and the ttl is advisory.
func (s *FilesystemStore) Presign(key string, ttl time.Duration) (string, error) {
	if _, err := s.safePath(key); err != nil {
		return "", err
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("%s/%s?expires=%d", s.baseURL, key, expires), nil
}
