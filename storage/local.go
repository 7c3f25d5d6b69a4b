package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local stores artifacts under a root directory, mirroring the key
// layout as subdirectories.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root; %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) filename(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// Exists reports whether key holds a non-empty file. Zero-byte files
// count as missing so a crashed write never blocks the re-run.
func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	info, err := os.Stat(l.filename(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s; %w", key, err)
	}
	return info.Size() > 0, nil
}

// Write persists data durably: written to a temp file in the target
// directory first, then renamed into place.
func (l *Local) Write(_ context.Context, key string, data []byte, _ Metadata) error {
	name := l.filename(key)
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return fmt.Errorf("failed to create dir for %s; %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(name), ".voxgen-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s; %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s; %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file for %s; %w", key, err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move %s into place; %w", key, err)
	}
	return nil
}

func (l *Local) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.filename(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s; %w", key, err)
	}
	return data, nil
}

// List walks the tree under prefix and returns keys in slash form.
func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s; %w", prefix, err)
	}
	return keys, nil
}
