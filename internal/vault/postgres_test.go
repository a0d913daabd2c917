package vault

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peekguard/peekguard/internal/entity"
)

// Set PEEKGUARD_TEST_POSTGRES_DSN to run these against a live database.
func testPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("PEEKGUARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PEEKGUARD_TEST_POSTGRES_DSN not set")
	}
	s, err := NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	s := testPostgresStore(t)
	ctx := context.Background()
	scope := NewScopeID()
	t.Cleanup(func() { _ = s.Delete(ctx, scope) })

	entry := Entry{
		Token:      "tok-1",
		Original:   "jane.doe@example.com",
		EntityType: entity.TypeEmailAddress,
		ScopeID:    scope,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.Put(ctx, scope, entry))

	got, ok, err := s.Get(ctx, scope, "tok-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Original, got.Original)
	assert.Equal(t, entry.EntityType, got.EntityType)

	// Upsert on the same (scope, token) replaces the value.
	entry.Original = "john.doe@example.com"
	require.NoError(t, s.Put(ctx, scope, entry))
	got, ok, err = s.Get(ctx, scope, "tok-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "john.doe@example.com", got.Original)

	require.NoError(t, s.Delete(ctx, scope))
	_, ok, err = s.Get(ctx, scope, "tok-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStoreExpiry(t *testing.T) {
	s := testPostgresStore(t)
	ctx := context.Background()
	scope := NewScopeID()
	t.Cleanup(func() { _ = s.Delete(ctx, scope) })

	entry := Entry{
		Token:      "tok-expired",
		Original:   "078-05-1120",
		EntityType: entity.TypeUSSSN,
		ScopeID:    scope,
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
		ExpiresAt:  time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, s.Put(ctx, scope, entry))

	_, ok, err := s.Get(ctx, scope, "tok-expired")
	require.NoError(t, err)
	assert.False(t, ok, "expired entries are invisible on read")
}
