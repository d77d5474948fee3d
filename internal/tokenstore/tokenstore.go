// Package tokenstore persists OAuth token sets per provider across restarts.
package tokenstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TokenSet is the persisted credential record for one provider.
type TokenSet struct {
	Provider        string `json:"provider"`
	AccessToken     string `json:"accessToken"`
	RefreshToken    string `json:"refreshToken,omitempty"`
	ExpiresAtMillis int64  `json:"expiresAtMillis"`
}

// Store is a mapping provider -> TokenSet backed by a single JSON file.
// Initialization is lazy: the first operation loads the file (a missing file
// starts an empty store); the file is only written by Save and Delete.
type Store struct {
	mu       sync.Mutex
	path     string
	tokens   map[string]TokenSet
	loaded   bool
	logger   *zap.Logger
}

// New creates a Store bound to path. No I/O happens until the first
// operation.
func New(path string, logger *zap.Logger) *Store {
	return &Store{
		path:   path,
		tokens: make(map[string]TokenSet),
		logger: logger.With(zap.String("component", "tokenstore")),
	}
}

func (s *Store) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read token store, starting empty", zap.Error(err))
		}
		return
	}
	if len(data) == 0 {
		return
	}
	var loaded map[string]TokenSet
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.logger.Warn("malformed token store, starting empty", zap.Error(err))
		return
	}
	s.tokens = loaded
}

// persist writes the full map atomically via write-temp-then-rename.
func (s *Store) persist() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.tokens, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tokenstore-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// Save replaces the entry for ts.Provider and durably persists the full map.
func (s *Store) Save(ts TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	s.tokens[ts.Provider] = ts
	if err := s.persist(); err != nil {
		s.logger.Error("failed to persist token store", zap.Error(err))
		return err
	}
	return nil
}

// Get returns the stored TokenSet for provider, if any.
func (s *Store) Get(provider string) (TokenSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	ts, ok := s.tokens[provider]
	return ts, ok
}

// Delete removes provider's entry, if present, and persists.
func (s *Store) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	if _, ok := s.tokens[provider]; !ok {
		return nil
	}
	delete(s.tokens, provider)
	return s.persist()
}

// GetAll returns a snapshot the caller may not use to mutate shared state.
func (s *Store) GetAll() map[string]TokenSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	snapshot := make(map[string]TokenSet, len(s.tokens))
	for k, v := range s.tokens {
		snapshot[k] = v
	}
	return snapshot
}

// IsExpired reports whether provider has no entry, or its expiry is at or
// before now.
func (s *Store) IsExpired(provider string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	ts, ok := s.tokens[provider]
	if !ok {
		return true
	}
	return time.Now().UnixMilli() >= ts.ExpiresAtMillis
}
