package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Store keeps the current settings in memory and persists them to a JSON
// file. It is safe for concurrent use.
type Store struct {
	path     string
	defaults Settings
	logger   *zap.Logger

	mu      sync.RWMutex
	current Settings
	raw     []byte

	subMu sync.Mutex
	subs  []func(Settings)
}

// NewStore loads path, falling back to defaults when the file does not
// exist. A file that exists but fails to parse or validate is an error.
func NewStore(path string, defaults Settings, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	s := &Store{path: path, defaults: defaults, current: defaults, logger: logger}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers fn to run after every change, with the new settings.
func (s *Store) Subscribe(fn func(Settings)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

// Update validates next, writes it to disk and makes it current.
func (s *Store) Update(next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return Settings{}, fmt.Errorf("failed to marshal settings: %w", err)
	}

	s.mu.Lock()
	if err := writeAtomic(s.path, data); err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	changed := next != s.current
	s.current = next
	s.raw = data
	s.mu.Unlock()

	if changed {
		s.logger.Info("settings updated", zap.String("path", s.path))
		s.notify(next)
	}
	return next, nil
}

// Reload rereads the file and reports whether the settings changed. A
// missing file restores the defaults.
func (s *Store) Reload() (bool, error) {
	data, err := os.ReadFile(s.path)
	next := s.defaults
	switch {
	case errors.Is(err, fs.ErrNotExist):
		data = nil
	case err != nil:
		return false, fmt.Errorf("failed to read settings: %w", err)
	default:
		if err := json.Unmarshal(data, &next); err != nil {
			return false, fmt.Errorf("failed to parse settings %s: %w", s.path, err)
		}
		if err := next.Validate(); err != nil {
			return false, fmt.Errorf("settings %s: %w", s.path, err)
		}
	}

	s.mu.Lock()
	if data != nil && bytes.Equal(data, s.raw) {
		s.mu.Unlock()
		return false, nil
	}
	changed := next != s.current
	s.current = next
	s.raw = data
	s.mu.Unlock()

	if changed {
		s.notify(next)
	}
	return changed, nil
}

func (s *Store) notify(next Settings) {
	s.subMu.Lock()
	subs := append([]func(Settings){}, s.subs...)
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(next)
	}
}

func writeAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename settings: %w", err)
	}
	return nil
}
