package identity_test

import (
	"context"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDenylistRevoke(t *testing.T) {
	ctx := context.Background()
	denylist := identity.NewMemoryDenylist()

	require.NoError(t, denylist.Revoke(ctx, "user-1", "stamp-1", time.Hour))

	revoked, err := denylist.IsRevoked(ctx, "user-1", "stamp-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Entries are scoped to the (subject, stamp) pair.
	revoked, err = denylist.IsRevoked(ctx, "user-1", "stamp-2")
	require.NoError(t, err)
	assert.False(t, revoked, "a rotated stamp is a new credential generation")

	revoked, err = denylist.IsRevoked(ctx, "user-2", "stamp-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestMemoryDenylistEntriesExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	current := now

	denylist := identity.NewMemoryDenylist().
		WithClock(func() time.Time { return current })

	require.NoError(t, denylist.Revoke(ctx, "user-1", "stamp-1", 10*time.Minute))

	revoked, err := denylist.IsRevoked(ctx, "user-1", "stamp-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Once the underlying token would have expired anyway, the entry is moot.
	current = now.Add(11 * time.Minute)

	revoked, err = denylist.IsRevoked(ctx, "user-1", "stamp-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestMemoryDenylistIgnoresNonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	denylist := identity.NewMemoryDenylist()

	require.NoError(t, denylist.Revoke(ctx, "user-1", "stamp-1", 0))
	require.NoError(t, denylist.Revoke(ctx, "user-1", "stamp-2", -time.Minute))

	revoked, err := denylist.IsRevoked(ctx, "user-1", "stamp-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = denylist.IsRevoked(ctx, "user-1", "stamp-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}
