// Package vault is the reversible mapping between opaque tokens and the
// original PII values they replaced, scoped so tokens from one request
// are never resolvable in another.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Entry is one reversible token mapping, owned exclusively by the vault.
type Entry struct {
	Token      string    `msgpack:"token"`
	Original   string    `msgpack:"original"`
	EntityType string    `msgpack:"entity_type"`
	ScopeID    string    `msgpack:"scope_id"`
	CreatedAt  time.Time `msgpack:"created_at"`
	ExpiresAt  time.Time `msgpack:"expires_at"` // zero = never expires
}

// Expired reports whether the entry is past its expiry at time now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Store is the persistence contract. Implementations must keep scopes
// fully isolated: a token stored under one scope is invisible under any
// other.
type Store interface {
	Put(ctx context.Context, scopeID string, entry Entry) error
	Get(ctx context.Context, scopeID, token string) (Entry, bool, error)
	Delete(ctx context.Context, scopeID string) error
}

// NotFoundError reports a token that is absent, expired, or not visible
// in the queried scope.
type NotFoundError struct {
	ScopeID string
	Token   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("token %s not found in scope %s", e.Token, e.ScopeID)
}

// CollisionError reports a freshly generated token colliding with an
// existing entry. With 128-bit random tokens this is effectively
// unreachable; seeing it means a broken random source or a store bug.
type CollisionError struct {
	ScopeID string
	Token   string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("token collision in scope %s: %s", e.ScopeID, e.Token)
}

// Options fixes the vault's issuance behavior.
type Options struct {
	// Deterministic reuses one token per (entity type, value) within a
	// scope; otherwise every occurrence gets a fresh token.
	Deterministic bool
	// TTL applied to new entries; zero means no expiry.
	TTL time.Duration
}

// Vault issues and resolves tokens on top of a Store. Issuance is
// serialized per scope, so concurrent masking of different scopes never
// contends on one lock.
type Vault struct {
	store Store
	opts  Options

	mu        sync.Mutex
	scopes    map[string]*scopeIndex
	lastSweep time.Time
}

// scopeIndex carries the per-scope issuance lock and, under the
// deterministic policy, the reverse (type|value) -> token index.
type scopeIndex struct {
	mu      sync.Mutex
	byValue map[string]indexEntry
}

// indexEntry mirrors the lifetime of the store entry it points at, so
// the reverse index never retains a value past the store's retention.
type indexEntry struct {
	token     string
	expiresAt time.Time // zero = never
}

// New builds a vault over the given store.
func New(store Store, opts Options) *Vault {
	return &Vault{
		store:  store,
		opts:   opts,
		scopes: make(map[string]*scopeIndex),
	}
}

// NewScopeID returns a fresh 128-bit scope identifier.
func NewScopeID() string {
	return randomHex()
}

// IssueToken stores originalValue under a new (or, deterministically,
// reused) token in scopeID and returns the token.
func (v *Vault) IssueToken(ctx context.Context, originalValue, entityType, scopeID string) (string, error) {
	v.sweepIndexes(ctx, time.Now())

	idx := v.indexFor(scopeID)
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := entityType + "\x00" + originalValue
	if v.opts.Deterministic {
		if ent, ok := idx.byValue[key]; ok {
			// The store is authoritative: the indexed entry may have
			// expired or been evicted since it was issued. Reusing its
			// token would mint placeholders that can never resolve.
			if _, exists, err := v.store.Get(ctx, scopeID, ent.token); err != nil {
				return "", fmt.Errorf("vault: reuse check: %w", err)
			} else if exists {
				return ent.token, nil
			}
			delete(idx.byValue, key)
		}
	}

	token := randomHex()

	// A fresh random token must not already exist in the scope.
	if _, exists, err := v.store.Get(ctx, scopeID, token); err != nil {
		return "", fmt.Errorf("vault: collision check: %w", err)
	} else if exists {
		return "", &CollisionError{ScopeID: scopeID, Token: token}
	}

	now := time.Now()
	entry := Entry{
		Token:      token,
		Original:   originalValue,
		EntityType: entityType,
		ScopeID:    scopeID,
		CreatedAt:  now,
	}
	if v.opts.TTL > 0 {
		entry.ExpiresAt = now.Add(v.opts.TTL)
	}
	if err := v.store.Put(ctx, scopeID, entry); err != nil {
		return "", fmt.Errorf("vault: put: %w", err)
	}

	if v.opts.Deterministic {
		idx.byValue[key] = indexEntry{token: token, expiresAt: entry.ExpiresAt}
	}
	return token, nil
}

// Resolve returns the original value for token within scopeID.
func (v *Vault) Resolve(ctx context.Context, token, scopeID string) (string, error) {
	entry, ok, err := v.store.Get(ctx, scopeID, token)
	if err != nil {
		return "", fmt.Errorf("vault: get: %w", err)
	}
	if !ok || entry.Expired(time.Now()) {
		return "", &NotFoundError{ScopeID: scopeID, Token: token}
	}
	return entry.Original, nil
}

// CloseScope releases every entry for scopeID. Tokens from the scope
// stop resolving immediately.
func (v *Vault) CloseScope(ctx context.Context, scopeID string) error {
	v.mu.Lock()
	delete(v.scopes, scopeID)
	v.mu.Unlock()
	return v.store.Delete(ctx, scopeID)
}

func (v *Vault) indexFor(scopeID string) *scopeIndex {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx, ok := v.scopes[scopeID]
	if !ok {
		idx = &scopeIndex{byValue: make(map[string]indexEntry)}
		v.scopes[scopeID] = idx
	}
	return idx
}

// indexSweepInterval bounds how often issuance reconciles the reverse
// indexes with the store.
const indexSweepInterval = time.Minute

// sweepIndexes prunes index entries whose TTL has passed and drops
// whole scope indexes whose backing scope the store no longer holds
// (eviction, out-of-band deletion). Without it, scopes that are never
// explicitly closed would keep their original values in process memory
// after the store has dropped them.
func (v *Vault) sweepIndexes(ctx context.Context, now time.Time) {
	v.mu.Lock()
	if now.Sub(v.lastSweep) < indexSweepInterval {
		v.mu.Unlock()
		return
	}
	v.lastSweep = now
	snapshot := make(map[string]*scopeIndex, len(v.scopes))
	for id, idx := range v.scopes {
		snapshot[id] = idx
	}
	v.mu.Unlock()

	for id, idx := range snapshot {
		if !v.scopeStale(ctx, id, idx, now) {
			continue
		}
		v.mu.Lock()
		if v.scopes[id] == idx {
			delete(v.scopes, id)
		}
		v.mu.Unlock()
	}
}

// scopeStale drops expired entries from one scope's index and reports
// whether the whole index should go.
func (v *Vault) scopeStale(ctx context.Context, scopeID string, idx *scopeIndex, now time.Time) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for key, ent := range idx.byValue {
		if !ent.expiresAt.IsZero() && now.After(ent.expiresAt) {
			delete(idx.byValue, key)
		}
	}
	// Stores only drop scopes wholesale, so one live indexed token
	// stands in for all of them: if it is gone, so is the scope.
	for _, ent := range idx.byValue {
		_, ok, err := v.store.Get(ctx, scopeID, ent.token)
		if err != nil {
			return false
		}
		return !ok
	}
	return true
}

// randomHex returns 128 bits of entropy as lowercase hex. The alphabet
// deliberately excludes the placeholder delimiters.
func randomHex() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; there is no
		// safe fallback for token generation.
		panic(fmt.Sprintf("vault: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
