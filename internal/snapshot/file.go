package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
)

// FileStore persists the tree as a single JSON document holding the root node.
type FileStore struct {
	path string
	perm os.FileMode
}

// NewFileStore creates a file persister writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, perm: 0o644}
}

// Path returns the snapshot file location.
func (f *FileStore) Path() string {
	return f.path
}

// Exists reports whether the snapshot file is present.
func (f *FileStore) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Save writes root atomically through a temp file in the same directory.
func (f *FileStore) Save(_ context.Context, root *orgchart.Node) error {
	if root == nil {
		return ErrNilRoot
	}
	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, f.perm); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

// Load reads the file back. BuiltAt is the file's modification time.
func (f *FileStore) Load(_ context.Context) (*Snapshot, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var root orgchart.Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if root.ID == "" {
		return nil, fmt.Errorf("%w: root has no id", ErrCorrupted)
	}

	return &Snapshot{
		Root:      &root,
		BuiltAt:   info.ModTime(),
		Employees: orgchart.Count(&root),
	}, nil
}
