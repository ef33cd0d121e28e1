package syncmeta

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists Metadata as a flat JSON document.
type FileStore struct {
	Path string

	// DefaultLimit is used when no document exists yet.
	DefaultLimit int64
}

// Load reads the document, returning defaults when it does not exist.
func (f FileStore) Load() (Metadata, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return New(f.DefaultLimit), nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("load metadata: %w", err)
	}

	m := New(f.DefaultLimit)
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("load metadata %s: %w", f.Path, err)
	}
	if err := m.Check(); err != nil {
		return Metadata{}, fmt.Errorf("load metadata %s: %w", f.Path, err)
	}
	return m, nil
}

// Save rewrites the whole document atomically.
func (f FileStore) Save(m Metadata) error {
	if err := m.Check(); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	if err := WriteFileAtomic(f.Path, append(data, '\n')); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// WriteFileAtomic replaces path with data via a synced temp file and rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
