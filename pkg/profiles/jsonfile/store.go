// Package jsonfile persists the voice-profile registry as a single JSON
// snapshot file. Writes are atomic: the snapshot is written to a temp file in
// the same directory and renamed over the target.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/earshot/pkg/profiles"
)

var _ profiles.Store = (*Store)(nil)

// Store is a JSON-file-backed profiles.Store.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a Store persisting to path. The file need not exist yet; a
// missing file loads as an empty snapshot.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("jsonfile: path must not be empty")
	}
	return &Store{path: path}, nil
}

// Load implements profiles.Store.
func (s *Store) Load(_ context.Context) (profiles.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return profiles.Snapshot{}, nil
	}
	if err != nil {
		return profiles.Snapshot{}, fmt.Errorf("jsonfile: read %q: %w", s.path, err)
	}

	var snap profiles.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return profiles.Snapshot{}, fmt.Errorf("jsonfile: parse %q: %w", s.path, err)
	}
	return snap, nil
}

// Save implements profiles.Store.
func (s *Store) Save(_ context.Context, snap profiles.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".profiles-*.json")
	if err != nil {
		return fmt.Errorf("jsonfile: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonfile: rename into place: %w", err)
	}
	return nil
}

// Close implements profiles.Store. It is a no-op for the file store.
func (s *Store) Close() error { return nil }
