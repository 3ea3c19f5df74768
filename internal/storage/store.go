// Package storage holds item photos: normalisation and the object store they land in.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ObjectStore persists a blob under key and returns its public URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// DiskStore writes objects below root and serves them from publicBase.
type DiskStore struct {
	root       string
	publicBase string
}

// NewDiskStore returns a DiskStore. publicBase is the URL prefix the files are served at.
func NewDiskStore(root, publicBase string) *DiskStore {
	return &DiskStore{root: root, publicBase: strings.TrimRight(publicBase, "/")}
}

// Root is the directory objects are written to.
func (s *DiskStore) Root() string {
	return s.root
}

func (s *DiskStore) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.ToSlash(filepath.Clean("/" + key))[1:]
	if clean == "" || clean != key {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	if err := writeBytesToFile(filepath.Join(s.root, filepath.FromSlash(clean)), data); err != nil {
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	return s.publicBase + "/" + clean, nil
}

func writeBytesToFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
