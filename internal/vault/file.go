package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// FileStore keeps one msgpack-encoded file per scope under a directory.
// It survives restarts without needing a database; writes go through a
// temp file and rename so a crash never leaves a torn scope file.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("filestore: dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Put(_ context.Context, scopeID string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read(scopeID)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = make(map[string]Entry)
	}
	entries[entry.Token] = entry
	return s.write(scopeID, entries)
}

func (s *FileStore) Get(_ context.Context, scopeID, token string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read(scopeID)
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := entries[token]
	if !ok || entry.Expired(time.Now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *FileStore) Delete(_ context.Context, scopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(scopeID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore: delete scope: %w", err)
	}
	return nil
}

// path hashes the scope id into the filename, so caller-supplied scope
// ids can never traverse outside the store directory.
func (s *FileStore) path(scopeID string) string {
	sum := sha256.Sum256([]byte(scopeID))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".scope")
}

func (s *FileStore) read(scopeID string) (map[string]Entry, error) {
	data, err := os.ReadFile(s.path(scopeID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: read scope: %w", err)
	}
	var entries map[string]Entry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("filestore: decode scope: %w", err)
	}
	return entries, nil
}

func (s *FileStore) write(scopeID string, entries map[string]Entry) error {
	data, err := msgpack.Marshal(entries)
	if err != nil {
		return fmt.Errorf("filestore: encode scope: %w", err)
	}
	path := s.path(scopeID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("filestore: write scope: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("filestore: commit scope: %w", err)
	}
	return nil
}
