package identity_test

import (
	"context"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionEnv struct {
	issuer   *identity.SessionIssuer
	sessions *identity.MemorySessionStore
	store    *identity.MemoryIdentityStore
	user     *identity.User
}

func newSessionEnv(t *testing.T) *sessionEnv {
	t.Helper()

	opts := identity.NewOptions("test-signing-key")
	sessions := identity.NewMemorySessionStore()
	store := identity.NewMemoryIdentityStore(5, 15*time.Minute)

	user, err := store.CreateUser(context.Background(), &identity.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "irrelevant",
	})
	require.NoError(t, err)

	return &sessionEnv{
		issuer:   identity.NewSessionIssuer(opts, sessions, store),
		sessions: sessions,
		store:    store,
		user:     user,
	}
}

func TestSessionIssuerIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	env := newSessionEnv(t)

	credential, err := env.issuer.Issue(ctx, tokenPrincipal(env.user))
	require.NoError(t, err)

	assert.Equal(t, identity.CredentialSession, credential.Kind)
	assert.Len(t, credential.Value, 64, "references are 256 random bits, hex encoded")
	assert.Equal(t, 24*time.Hour, credential.ExpiresAt.Sub(credential.IssuedAt),
		"default session lifetime is one day")
	assert.Equal(t, 1, env.sessions.Len())

	principal, err := env.issuer.Validate(ctx, credential.Value)
	require.NoError(t, err)
	assert.Equal(t, env.user.ID.String(), principal.SubjectID)
	assert.Equal(t, env.user.SecurityStamp, principal.SecurityStamp)
	assert.True(t, principal.HasRole("Auditor"))
}

func TestSessionIssuerFreezesThePrincipalSnapshot(t *testing.T) {
	ctx := context.Background()
	env := newSessionEnv(t)

	principal := tokenPrincipal(env.user)
	credential, err := env.issuer.Issue(ctx, principal)
	require.NoError(t, err)

	// Mutations after issuance must not leak into the stored snapshot.
	principal.AddClaim(identity.Claim{Type: "role", Value: "Admin"})

	restored, err := env.issuer.Validate(ctx, credential.Value)
	require.NoError(t, err)
	assert.False(t, restored.HasRole("Admin"))
	assert.True(t, restored.HasRole("Auditor"))
}

func TestSessionIssuerValidateRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("empty reference", func(t *testing.T) {
		env := newSessionEnv(t)

		_, err := env.issuer.Validate(ctx, "")
		assert.ErrorIs(t, err, identity.ErrTokenMalformed)
	})

	t.Run("unknown reference reads as revoked", func(t *testing.T) {
		env := newSessionEnv(t)

		_, err := env.issuer.Validate(ctx, "0123456789abcdef")
		assert.ErrorIs(t, err, identity.ErrTokenRevoked)
	})

	t.Run("expired session", func(t *testing.T) {
		env := newSessionEnv(t)

		credential, err := env.issuer.Issue(ctx, tokenPrincipal(env.user))
		require.NoError(t, err)

		env.issuer.WithClock(func() time.Time { return time.Now().Add(25 * time.Hour) })

		_, err = env.issuer.Validate(ctx, credential.Value)
		assert.ErrorIs(t, err, identity.ErrTokenExpired)
	})

	t.Run("stamp rotation revokes outstanding sessions", func(t *testing.T) {
		env := newSessionEnv(t)

		credential, err := env.issuer.Issue(ctx, tokenPrincipal(env.user))
		require.NoError(t, err)

		_, err = env.store.UpdatePasswordHash(ctx, env.user.ID, "new-hash")
		require.NoError(t, err)

		_, err = env.issuer.Validate(ctx, credential.Value)
		assert.ErrorIs(t, err, identity.ErrTokenRevoked)
	})

	t.Run("vanished subject reads as revoked", func(t *testing.T) {
		env := newSessionEnv(t)

		principal := tokenPrincipal(env.user)
		principal.SubjectID = "5c29a1f6-0000-4000-8000-000000000000"

		credential, err := env.issuer.Issue(ctx, principal)
		require.NoError(t, err)

		_, err = env.issuer.Validate(ctx, credential.Value)
		assert.ErrorIs(t, err, identity.ErrTokenRevoked)
	})
}

func TestSessionIssuerRevoke(t *testing.T) {
	ctx := context.Background()
	env := newSessionEnv(t)

	credential, err := env.issuer.Issue(ctx, tokenPrincipal(env.user))
	require.NoError(t, err)

	require.NoError(t, env.issuer.Revoke(ctx, credential.Value))

	_, err = env.issuer.Validate(ctx, credential.Value)
	assert.ErrorIs(t, err, identity.ErrTokenRevoked)

	// Unknown and empty references revoke without complaint.
	assert.NoError(t, env.issuer.Revoke(ctx, "ghost"))
	assert.NoError(t, env.issuer.Revoke(ctx, ""))
}

func TestSessionIssuerRevokeAll(t *testing.T) {
	ctx := context.Background()
	env := newSessionEnv(t)

	bob, err := env.store.CreateUser(ctx, &identity.User{
		Username:     "bob",
		Email:        "bob@example.com",
		PasswordHash: "irrelevant",
	})
	require.NoError(t, err)

	aliceFirst, err := env.issuer.Issue(ctx, tokenPrincipal(env.user))
	require.NoError(t, err)
	aliceSecond, err := env.issuer.Issue(ctx, tokenPrincipal(env.user))
	require.NoError(t, err)
	bobCred, err := env.issuer.Issue(ctx, tokenPrincipal(bob))
	require.NoError(t, err)

	require.NoError(t, env.issuer.RevokeAll(ctx, env.user.ID.String()))

	_, err = env.issuer.Validate(ctx, aliceFirst.Value)
	assert.ErrorIs(t, err, identity.ErrTokenRevoked)
	_, err = env.issuer.Validate(ctx, aliceSecond.Value)
	assert.ErrorIs(t, err, identity.ErrTokenRevoked)

	_, err = env.issuer.Validate(ctx, bobCred.Value)
	assert.NoError(t, err)
	assert.Equal(t, 1, env.sessions.Len())
}

func TestSessionIssuerRequiresPrincipal(t *testing.T) {
	env := newSessionEnv(t)

	_, err := env.issuer.Issue(context.Background(), nil)
	require.Error(t, err)
}
