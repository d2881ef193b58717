package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// SafeJoin joins a relative name under root and refuses names that would
// escape it.
func SafeJoin(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %s", name, root)
	}
	return filepath.Join(root, clean), nil
}

// ContentPath lays a digest out as "ab/abcdef...ext" so no directory grows
// too large.
func ContentPath(digest, ext string) string {
	if len(digest) < 2 {
		return digest + ext
	}
	return digest[:2] + "/" + digest + ext
}

// WriteFileAtomic streams r into a temp file next to path and renames it into
// place.
func WriteFileAtomic(path string, r io.Reader) error {
	return writeAtomic(path, func(w io.Writer) error {
		if _, err := io.Copy(w, r); err != nil {
			return fmt.Errorf("copy file: %w", err)
		}
		return nil
	})
}

func writeAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "tmp-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
