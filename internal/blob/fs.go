package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"timetable/internal/util"
)

// FSStore keeps objects under Root. References are file paths.
type FSStore struct {
	Root string
}

// NewFSStore creates root if needed. References it returns are absolute so
// other processes can open them from any working directory.
func NewFSStore(root string) (*FSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	if err := util.EnsureDir(abs); err != nil {
		return nil, err
	}
	return &FSStore{Root: abs}, nil
}

func (s *FSStore) Put(ctx context.Context, name string, r io.Reader, _ int64, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := util.SafeJoin(s.Root, name)
	if err != nil {
		return "", fmt.Errorf("put blob: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		// content-addressed names never change
		return path, nil
	}
	if err := util.WriteFileAtomic(path, r); err != nil {
		return "", fmt.Errorf("put blob %s: %w", name, err)
	}
	return path, nil
}

// Open reads a path reference. Relative references resolve under Root.
func (s *FSStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := ref
	if !filepath.IsAbs(ref) && s.Root != "" {
		p, err := util.SafeJoin(s.Root, ref)
		if err != nil {
			return nil, fmt.Errorf("open blob: %w", err)
		}
		path = p
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open blob %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", ref, err)
	}
	return f, nil
}
