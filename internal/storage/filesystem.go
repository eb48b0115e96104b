package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Filesystem stores objects under a local root directory.
type Filesystem struct {
	root   string
	logger *slog.Logger
}

func NewFilesystem(root string, logger *slog.Logger) *Filesystem {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filesystem{root: root, logger: logger}
}

// Upload copies localPath to {root}/{key}. The destination is written to a
// temporary file first so readers never see a partial object.
func (s *Filesystem) Upload(ctx context.Context, localPath, key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dest := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("storage: create %s: %w", filepath.Dir(dest), err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("storage: open %s: %w", localPath, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: copy %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("storage: move %s into place: %w", key, err)
	}

	s.logger.Info("stored object", "root", s.root, "key", key, "bytes", n)
	return key, nil
}
