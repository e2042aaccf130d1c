package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// SnapshotEntry is the persisted shape of one agent record.
type SnapshotEntry struct {
	ID     string `json:"clientId"`
	Active bool   `json:"isActive"`
}

// SnapshotStore persists and restores registry snapshots.
type SnapshotStore interface {
	Save(entries []SnapshotEntry) error
	Load() ([]SnapshotEntry, error)
}

// FileSnapshotStore keeps the snapshot as a JSON array in one file.
type FileSnapshotStore struct {
	path string
}

func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: strings.TrimSpace(path)}
}

func (f *FileSnapshotStore) Path() string {
	return f.path
}

func (f *FileSnapshotStore) Save(entries []SnapshotEntry) error {
	if entries == nil {
		entries = []SnapshotEntry{}
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(f.path, raw, 0o644)
}

// Load returns no entries and no error when the snapshot does not exist yet.
func (f *FileSnapshotStore) Load() ([]SnapshotEntry, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var entries []SnapshotEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("registry: parse snapshot %s: %w", filepath.Base(f.path), err)
	}
	return entries, nil
}
