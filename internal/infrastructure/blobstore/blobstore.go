// Package blobstore keeps raw source bytes (gazette PDFs) on disk, addressed
// by content hash so re-ingesting the same file is a no-op.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"NormScanner/internal/ports"
)

// DiskStore implements ports.BlobStore under a single directory.
type DiskStore struct {
	dir string
}

var _ ports.BlobStore = (*DiskStore)(nil)

// New ensures dir exists and returns the store.
func New(dir string) (*DiskStore, error) {
	if dir == "" {
		dir = "blobs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir %s: %w", dir, err)
	}
	return &DiskStore{dir: dir}, nil
}

// Put writes data and returns its content-hash handle. Existing content is
// left untouched.
func (s *DiskStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])
	path := s.pathFor(ref)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", ref, err)
	}
	return ref, nil
}

// Get reads a blob back by its handle.
func (s *DiskStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.pathFor(ref))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return data, nil
}

// Delete removes a blob; missing blobs are not an error.
func (s *DiskStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.pathFor(ref))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// pathFor shards by hash prefix to keep directories small.
func (s *DiskStore) pathFor(ref string) string {
	ref = strings.TrimSpace(ref)
	if len(ref) < 2 {
		return filepath.Join(s.dir, ref)
	}
	return filepath.Join(s.dir, ref[:2], ref)
}
