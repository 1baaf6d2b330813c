package archive

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/quantlark/tracer/internal/core"
)

// Compile-time interface check.
var _ Backend = (*LocalDir)(nil)

// LocalDir is a Backend rooted at a directory on the local filesystem.
type LocalDir struct {
	root string
}

// NewLocalDir creates the root directory if needed.
func NewLocalDir(root string) (*LocalDir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	return &LocalDir{root: root}, nil
}

func (l *LocalDir) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *LocalDir) Put(_ context.Context, key string, data []byte) error {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (l *LocalDir) Get(_ context.Context, key string) ([]byte, error) {
	return os.ReadFile(l.path(key))
}

func (l *LocalDir) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(l.path(prefix), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(l.root, p)
			keys = append(keys, filepath.ToSlash(rel))
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return keys, err
}

func (l *LocalDir) Delete(_ context.Context, key string) error {
	return os.Remove(l.path(key))
}

func (l *LocalDir) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}
