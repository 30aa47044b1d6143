package identity_test

import (
	"context"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionRecord(ref, userID string, expiresAt time.Time) *identity.SessionRecord {
	return &identity.SessionRecord{
		Reference: ref,
		UserID:    userID,
		Stamp:     "stamp-1",
		IssuedAt:  expiresAt.Add(-time.Hour),
		ExpiresAt: expiresAt,
	}
}

func TestMemorySessionStoreSaveAndFind(t *testing.T) {
	ctx := context.Background()
	store := identity.NewMemorySessionStore()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, store.Save(ctx, sessionRecord("ref-1", "user-1", expires)))

	found, err := store.Find(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", found.UserID)
	assert.Equal(t, 1, store.Len())

	// The store hands out copies; mutating one does not affect the record.
	found.UserID = "tampered"
	again, err := store.Find(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", again.UserID)
}

func TestMemorySessionStoreRejectsEmptyReference(t *testing.T) {
	ctx := context.Background()
	store := identity.NewMemorySessionStore()

	err := store.Save(ctx, &identity.SessionRecord{})
	assert.ErrorIs(t, err, identity.ErrNoEmptyString)

	err = store.Save(ctx, nil)
	assert.ErrorIs(t, err, identity.ErrNoEmptyString)
}

func TestMemorySessionStoreSaveReplacesExistingReference(t *testing.T) {
	ctx := context.Background()
	store := identity.NewMemorySessionStore()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, store.Save(ctx, sessionRecord("ref-1", "user-1", expires)))
	require.NoError(t, store.Save(ctx, sessionRecord("ref-1", "user-2", expires)))

	found, err := store.Find(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "user-2", found.UserID)
	assert.Equal(t, 1, store.Len())

	// The old owner's index entry is gone: deleting user-1 sessions leaves
	// the re-owned reference alone.
	require.NoError(t, store.DeleteByUser(ctx, "user-1"))
	_, err = store.Find(ctx, "ref-1")
	assert.NoError(t, err)
}

func TestMemorySessionStoreUnknownReference(t *testing.T) {
	store := identity.NewMemorySessionStore()

	_, err := store.Find(context.Background(), "ghost")
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)
}

func TestMemorySessionStoreExpiredRecordsVanish(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	current := now

	store := identity.NewMemorySessionStore().
		WithClock(func() time.Time { return current })

	require.NoError(t, store.Save(ctx, sessionRecord("ref-1", "user-1", now.Add(time.Hour))))

	_, err := store.Find(ctx, "ref-1")
	require.NoError(t, err)

	current = now.Add(2 * time.Hour)

	_, err = store.Find(ctx, "ref-1")
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)
	assert.Equal(t, 0, store.Len(), "expired records are evicted, not kept")
}

func TestMemorySessionStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := identity.NewMemorySessionStore()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, store.Save(ctx, sessionRecord("ref-1", "user-1", expires)))

	require.NoError(t, store.Delete(ctx, "ref-1"))
	_, err := store.Find(ctx, "ref-1")
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)

	// Unknown references delete without complaint.
	assert.NoError(t, store.Delete(ctx, "ghost"))
}

func TestMemorySessionStoreDeleteByUser(t *testing.T) {
	ctx := context.Background()
	store := identity.NewMemorySessionStore()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, store.Save(ctx, sessionRecord("ref-1", "user-1", expires)))
	require.NoError(t, store.Save(ctx, sessionRecord("ref-2", "user-1", expires)))
	require.NoError(t, store.Save(ctx, sessionRecord("ref-3", "user-2", expires)))

	require.NoError(t, store.DeleteByUser(ctx, "user-1"))

	_, err := store.Find(ctx, "ref-1")
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)
	_, err = store.Find(ctx, "ref-2")
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)

	found, err := store.Find(ctx, "ref-3")
	require.NoError(t, err)
	assert.Equal(t, "user-2", found.UserID)
}
