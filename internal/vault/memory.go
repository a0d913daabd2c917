package vault

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store. Retention is explicit: entries
// carry their own expiry, a janitor sweeps them out, and a max-scope cap
// evicts whole scopes oldest-first so an absent CloseScope call cannot
// grow memory forever.
type MemoryStore struct {
	mu        sync.RWMutex
	scopes    map[string]*memScope
	maxScopes int

	stop chan struct{}
	done chan struct{}
}

type memScope struct {
	entries map[string]Entry
	created time.Time
}

// NewMemoryStore builds a memory store. maxScopes <= 0 disables the cap.
// sweepInterval <= 0 disables the expiry janitor.
func NewMemoryStore(maxScopes int, sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		scopes:    make(map[string]*memScope),
		maxScopes: maxScopes,
	}
	if sweepInterval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.janitor(sweepInterval)
	}
	return s
}

func (s *MemoryStore) Put(_ context.Context, scopeID string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scopes[scopeID]
	if !ok {
		sc = &memScope{entries: make(map[string]Entry), created: time.Now()}
		s.scopes[scopeID] = sc
		s.evictLocked()
	}
	sc.entries[entry.Token] = entry
	return nil
}

func (s *MemoryStore) Get(_ context.Context, scopeID, token string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.scopes[scopeID]
	if !ok {
		return Entry{}, false, nil
	}
	entry, ok := sc.entries[token]
	if !ok || entry.Expired(time.Now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, scopeID string) error {
	s.mu.Lock()
	delete(s.scopes, scopeID)
	s.mu.Unlock()
	return nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() {
	if s.stop != nil {
		close(s.stop)
		<-s.done
	}
}

// evictLocked drops the oldest scopes until the cap holds.
func (s *MemoryStore) evictLocked() {
	if s.maxScopes <= 0 {
		return
	}
	for len(s.scopes) > s.maxScopes {
		oldestID := ""
		var oldest time.Time
		for id, sc := range s.scopes {
			if oldestID == "" || sc.created.Before(oldest) {
				oldestID = id
				oldest = sc.created
			}
		}
		delete(s.scopes, oldestID)
	}
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sc := range s.scopes {
		for token, entry := range sc.entries {
			if entry.Expired(now) {
				delete(sc.entries, token)
			}
		}
		if len(sc.entries) == 0 {
			delete(s.scopes, id)
		}
	}
}
