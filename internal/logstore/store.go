// Package logstore persists telemetry records as one JSON array file per
// log sequence and keeps an in-process mirror of every sequence.
//
// Writers to the same file are serialized by a per-file lock. Files that are
// missing, empty, or not a JSON array heal to [] on the next write.
package logstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/danmuck/edgerelay/internal/observability"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound        = errors.New("logstore: no records")
	ErrInvalidCategory = errors.New("logstore: invalid category")
	errNotArray        = errors.New("logstore: file is not a json array")
)

// Record is one stored telemetry event.
type Record struct {
	Category  protocol.Category `json:"type"`
	AgentID   string            `json:"clientId"`
	Data      json.RawMessage   `json:"data"`
	Timestamp json.RawMessage   `json:"timestamp,omitempty"`
}

// Store owns the on-disk log files and their memory mirror.
type Store struct {
	dir string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mirrorMu sync.Mutex
	mirror   map[string][]Record
}

// NewStore constructs a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{
		dir:    strings.TrimSpace(dir),
		locks:  make(map[string]*sync.Mutex),
		mirror: make(map[string][]Record),
	}
}

// Dir returns the directory holding log files.
func (s *Store) Dir() string {
	return s.dir
}

// Put applies the category's retention policy to both the mirror and the disk
// file under the file's lock. The mirror is updated even when the disk write
// fails; the disk error is logged and returned.
func (s *Store) Put(rec Record) error {
	if !rec.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, rec.Category)
	}
	file := rec.Category.LogFile()
	policy := rec.Category.Policy()

	lock := s.fileLock(file)
	lock.Lock()
	defer lock.Unlock()

	s.mirrorMu.Lock()
	s.mirror[file] = apply(s.mirror[file], rec, policy)
	s.mirrorMu.Unlock()

	path := s.path(file)
	existing, err := s.loadForWrite(path)
	if err != nil {
		observability.RecordStoreFailure("read")
		log.Error().Str("file", path).Err(err).Msg("logstore_read_failed")
		return err
	}
	if err := writeArray(path, apply(existing, rec, policy)); err != nil {
		observability.RecordStoreFailure("write")
		log.Error().Str("file", path).Err(err).Msg("logstore_write_failed")
		return err
	}
	return nil
}

// Query returns records for category, optionally filtered by agentID. The disk
// file is read fresh; when it cannot be read or yields nothing, the mirror is
// consulted instead.
func (s *Store) Query(category protocol.Category, agentID string) ([]Record, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	file := category.LogFile()
	agentID = strings.TrimSpace(agentID)

	lock := s.fileLock(file)
	lock.Lock()
	records, err := readArray(s.path(file))
	lock.Unlock()

	out := filterByAgent(records, agentID)
	if err != nil || len(out) == 0 {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			observability.RecordStoreFailure("query")
			log.Warn().Str("file", file).Err(err).Msg("logstore_query_fallback_to_mirror")
		}
		out = filterByAgent(s.Mirror(category), agentID)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Mirror returns a copy of the in-memory sequence backing category.
func (s *Store) Mirror(category protocol.Category) []Record {
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()
	seq := s.mirror[category.LogFile()]
	out := make([]Record, len(seq))
	copy(out, seq)
	return out
}

func (s *Store) path(file string) string {
	return filepath.Join(s.dir, file)
}

func (s *Store) fileLock(file string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[file]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[file] = lock
	}
	return lock
}

// loadForWrite reads path, resetting it to [] when missing, empty, or corrupt.
func (s *Store) loadForWrite(path string) ([]Record, error) {
	records, err := readArray(path)
	if err == nil {
		return records, nil
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if !errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("file", path).Err(err).Msg("logstore_reset_corrupt_file")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := writeArray(path, []Record{}); err != nil {
		return nil, err
	}
	return []Record{}, nil
}

// readArray parses path as a JSON array. Empty files report errNotArray.
func readArray(path string) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errNotArray
	}
	var records []Record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("logstore: parse %s: %w", filepath.Base(path), err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// writeArray atomically replaces path with records.
func writeArray(path string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, raw, 0o644)
}

// apply is the single append/upsert rule shared by disk and mirror.
func apply(seq []Record, rec Record, policy protocol.Policy) []Record {
	switch policy {
	case protocol.PolicyUpsert:
		for i := range seq {
			if seq[i].AgentID == rec.AgentID {
				seq[i] = rec
				return seq
			}
		}
		return append(seq, rec)
	default:
		return append(seq, rec)
	}
}

func filterByAgent(records []Record, agentID string) []Record {
	if agentID == "" {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.AgentID == agentID {
			out = append(out, rec)
		}
	}
	return out
}
