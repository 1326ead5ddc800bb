package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps the sync state in a single JSON document. Each mutation
// loads the whole map, changes one key and writes the whole map back.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the JSON file at path.
// The file is created on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	state, err := s.load()
	if err != nil {
		return "", false, err
	}
	id, ok := state[key]
	return id, ok, nil
}

func (s *FileStore) Set(_ context.Context, key, eventID string) error {
	state, err := s.load()
	if err != nil {
		return err
	}
	state[key] = eventID
	return s.save(state)
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	state, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := state[key]; !ok {
		return nil
	}
	delete(state, key)
	return s.save(state)
}

func (s *FileStore) All(_ context.Context) (map[string]string, error) {
	return s.load()
}

func (s *FileStore) Close() error { return nil }

// load reads the sync state; a missing file is an empty state.
func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read sync state: %w", err)
	}
	state := make(map[string]string)
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode sync state %s: %w", s.path, err)
	}
	return state, nil
}

// save writes the state atomically via a temp file and rename.
func (s *FileStore) save(state map[string]string) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".sync-state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

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
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	return nil
}
