// Package configstore provides the generic JSON-file settings store used
// by every per-scope config file (autosave settings, economy config,
// guild milestone state, and so on): load into a typed value, mutate it,
// and save back atomically.
package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"powerbot/internal/apperr"
)

// Store manages one JSON file's lifecycle under a single in-process lock,
// so callers don't need to coordinate their own concurrent writers.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store bound to path. The file need not exist yet; Load
// leaves the destination value untouched when it's missing.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the JSON file into dest. dest must be a pointer. A missing
// file is not an error: dest is left as the caller's zero/default value.
func (s *Store) Load(dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(dest)
}

func (s *Store) loadLocked(dest any) error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.Storage, "read config file "+s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return apperr.Wrap(apperr.Storage, "parse config file "+s.path, err)
	}
	return nil
}

// Save writes value to the file atomically: marshal to a temp file in the
// same directory, then os.Rename over the destination.
func (s *Store) Save(value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(value)
}

func (s *Store) saveLocked(value any) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.Storage, "create config directory "+dir, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.Storage, "marshal config "+s.path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return apperr.Wrap(apperr.Storage, "create temp config file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.Storage, "write temp config file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.Storage, "close temp config file", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.Storage, "rename temp config file", err)
	}
	return nil
}

// Mutate loads the current value into dest, applies fn, and saves the
// result, all under the store's lock so concurrent callers in the same
// process don't interleave a load/save pair.
func (s *Store) Mutate(dest any, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(dest); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return s.saveLocked(dest)
}
