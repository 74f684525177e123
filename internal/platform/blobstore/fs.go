// Package blobstore provides blob archive and deletion backends.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FS archives blobs by copying them into a destination directory under
// the configured root, then removes originals on Delete. It backs
// archive-before-delete for categories whose blobs live on local or
// mounted storage.
type FS struct {
	root string
}

func NewFS(root string) *FS {
	return &FS{root: root}
}

func (f *FS) Archive(ctx context.Context, blobRef, destination string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if blobRef == "" {
		return nil
	}

	dir := filepath.Join(f.root, destination)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive dir: %w", err)
	}

	src, err := os.Open(blobRef)
	if err != nil {
		return fmt.Errorf("open blob: %w", err)
	}
	defer src.Close()

	target := filepath.Join(dir, filepath.Base(blobRef))
	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create archive copy: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(target)
		return fmt.Errorf("copy blob: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(target)
		return err
	}
	return nil
}

func (f *FS) Delete(ctx context.Context, blobRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if blobRef == "" {
		return nil
	}
	if err := os.Remove(blobRef); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}
