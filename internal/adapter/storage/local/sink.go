package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tmarlin/clipharvest/internal/domain"
	"github.com/tmarlin/clipharvest/internal/port"
)

// Sink stores accepted clips in a directory on the local filesystem.
type Sink struct {
	dir string
}

func NewSink(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Sink{dir: dir}, nil
}

// Store moves path into the output directory under keyHint and returns the
// absolute destination path.
func (s *Sink) Store(ctx context.Context, path, keyHint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &domain.StorageError{Key: keyHint, Err: err}
	}

	dest := filepath.Join(s.dir, filepath.Clean("/"+keyHint))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", &domain.StorageError{Key: keyHint, Err: err}
	}

	if err := os.Rename(path, dest); err != nil {
		// Rename fails across filesystems, fall back to copy.
		if err := copyFile(path, dest); err != nil {
			return "", &domain.StorageError{Key: keyHint, Err: err}
		}
		_ = os.Remove(path)
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		return dest, nil
	}
	return abs, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

var _ port.StorageSink = (*Sink)(nil)
