package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists the key-value map as a single JSON file. Writes go
// through a temp file + rename so a crash mid-write leaves the previous
// state intact.
type FileStore struct {
	path string
	mu   sync.RWMutex
	data map[string]string
}

// NewFileStore opens (or creates) the store file under dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	s := &FileStore{
		path: filepath.Join(dir, "state.json"),
		data: make(map[string]string),
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	// A corrupt file degrades to an empty store rather than failing startup.
	if err := json.Unmarshal(raw, &s.data); err != nil {
		s.data = make(map[string]string)
	}
	return s, nil
}

func (s *FileStore) Get(key, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.data[key]; ok {
		return v
	}
	return def
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return s.persist()
}

func (s *FileStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.persist()
}

// persist writes the full map. Callers hold the write lock.
func (s *FileStore) persist() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
