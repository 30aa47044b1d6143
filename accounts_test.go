package identity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// eventRecorder captures activity events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
}

func (r *eventRecorder) Record(_ context.Context, event identity.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) find(eventType identity.ActivityEventType) (identity.ActivityEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.EventType == eventType {
			return event, true
		}
	}
	return identity.ActivityEvent{}, false
}

func (r *eventRecorder) has(eventType identity.ActivityEventType) bool {
	_, ok := r.find(eventType)
	return ok
}

type accountsEnv struct {
	manager *identity.AccountManager
	store   *identity.MemoryIdentityStore
	issuer  *identity.TokenIssuer
	events  *eventRecorder
}

func newAccountsEnv(t *testing.T) *accountsEnv {
	t.Helper()

	opts := identity.NewOptions("test-signing-key")
	opts.BcryptCost = bcrypt.MinCost

	store := identity.NewMemoryIdentityStore(3, 15*time.Minute)
	issuer := identity.NewTokenIssuer(opts, store)
	events := &eventRecorder{}

	manager := identity.NewAccountManager(opts, store, nil, issuer).
		WithActivitySink(events)

	return &accountsEnv{manager: manager, store: store, issuer: issuer, events: events}
}

func (e *accountsEnv) register(t *testing.T, input identity.RegistrationInput) *identity.User {
	t.Helper()
	user, err := e.manager.Register(context.Background(), input)
	require.NoError(t, err)
	return user
}

func aliceRegistration() identity.RegistrationInput {
	return identity.RegistrationInput{
		Username: "Alice",
		Email:    "Alice@Example.com",
		Password: "Secret123!",
	}
}

func TestAccountManagerRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a normalized account", func(t *testing.T) {
		env := newAccountsEnv(t)

		user := env.register(t, aliceRegistration())

		assert.Equal(t, "alice", user.Username)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.Equal(t, identity.AccountStatusActive, user.Status)
		assert.Equal(t, identity.RoleGuest, user.Role)
		assert.NotEmpty(t, user.SecurityStamp)
		assert.NotEqual(t, uuid.Nil, user.ID)

		require.NoError(t, identity.ComparePasswordAndHash("Secret123!", user.PasswordHash))

		event, ok := env.events.find(identity.ActivityEventUserRegistered)
		require.True(t, ok)
		assert.Equal(t, user.ID.String(), event.UserID)
	})

	t.Run("derives username from the email local part", func(t *testing.T) {
		env := newAccountsEnv(t)

		user := env.register(t, identity.RegistrationInput{
			Email:    "bob.smith@example.com",
			Password: "Secret123!",
		})

		assert.Equal(t, "bob.smith", user.Username)
	})

	t.Run("normalizes phone numbers to E.164", func(t *testing.T) {
		env := newAccountsEnv(t)

		user := env.register(t, identity.RegistrationInput{
			Username: "carol",
			Email:    "carol@example.com",
			Phone:    "(415) 555-2671",
			Password: "Secret123!",
		})

		assert.Equal(t, "+14155552671", user.Phone)
	})

	t.Run("invalid phone number fails validation", func(t *testing.T) {
		env := newAccountsEnv(t)

		_, err := env.manager.Register(ctx, identity.RegistrationInput{
			Username: "carol",
			Email:    "carol@example.com",
			Phone:    "not a phone",
			Password: "Secret123!",
		})
		require.Error(t, err)
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		env := newAccountsEnv(t)
		env.register(t, aliceRegistration())

		_, err := env.manager.Register(ctx, identity.RegistrationInput{
			Username: "alice2",
			Email:    "alice@example.com",
			Password: "Secret123!",
		})
		require.Error(t, err)
		assert.True(t, identity.IsDuplicateIdentity(err))
	})

	t.Run("weak password never reaches the store", func(t *testing.T) {
		env := newAccountsEnv(t)

		_, err := env.manager.Register(ctx, identity.RegistrationInput{
			Username: "alice",
			Email:    "alice@example.com",
			Password: "short",
		})
		require.Error(t, err)

		_, err = env.store.FindByEmail(ctx, "alice@example.com")
		assert.ErrorIs(t, err, identity.ErrIdentityNotFound)
	})

	t.Run("missing email fails validation", func(t *testing.T) {
		env := newAccountsEnv(t)

		_, err := env.manager.Register(ctx, identity.RegistrationInput{
			Username: "alice",
			Password: "Secret123!",
		})
		require.Error(t, err)
	})
}

func TestAccountManagerLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("valid password issues a working credential", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		result, err := env.manager.Login(ctx, "alice", "Secret123!")
		require.NoError(t, err)

		assert.Equal(t, user.ID, result.User.ID)
		assert.NotNil(t, result.User.LoggedInAt, "successful logins stamp loggedin_at")
		assert.Equal(t, identity.CredentialToken, result.Credential.Kind)
		assert.Equal(t, user.ID.String(), result.Principal.SubjectID)

		principal, err := env.issuer.Validate(ctx, result.Credential.Value)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), principal.SubjectID)

		assert.True(t, env.events.has(identity.ActivityEventLoginSuccess))
	})

	t.Run("email works as the identifier", func(t *testing.T) {
		env := newAccountsEnv(t)
		env.register(t, aliceRegistration())

		result, err := env.manager.Login(ctx, "alice@example.com", "Secret123!")
		require.NoError(t, err)
		assert.Equal(t, "alice", result.User.Username)
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		env := newAccountsEnv(t)
		env.register(t, aliceRegistration())

		_, err := env.manager.Login(ctx, "alice", "WrongPass1!")
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
		assert.True(t, env.events.has(identity.ActivityEventLoginFailure))
	})

	t.Run("unknown identifier reads like a wrong password", func(t *testing.T) {
		env := newAccountsEnv(t)

		_, err := env.manager.Login(ctx, "ghost", "Secret123!")
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	})

	t.Run("repeated failures lock the account", func(t *testing.T) {
		env := newAccountsEnv(t)
		env.register(t, aliceRegistration())

		for i := 0; i < 2; i++ {
			_, err := env.manager.Login(ctx, "alice", "WrongPass1!")
			assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
		}

		// Third failure crosses the threshold.
		_, err := env.manager.Login(ctx, "alice", "WrongPass1!")
		require.Error(t, err)
		assert.True(t, identity.IsLockedOut(err))
		assert.True(t, env.events.has(identity.ActivityEventAccountLocked))

		// The lockout message is indistinguishable from a bad password.
		assert.Equal(t, identity.ErrInvalidCredentials.Message, identity.ErrLockedOut.Message)

		// Even the correct password is rejected while locked.
		_, err = env.manager.Login(ctx, "alice", "Secret123!")
		require.Error(t, err)
		assert.True(t, identity.IsLockedOut(err))
	})

	t.Run("lockout check happens before password verification", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		for i := 0; i < 3; i++ {
			_, _ = env.manager.Login(ctx, "alice", "WrongPass1!")
		}

		found, err := env.store.FindByID(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, found.LockoutEndsAt)

		_, err = env.manager.Login(ctx, "alice", "Secret123!")
		assert.True(t, identity.IsLockedOut(err))
	})

	t.Run("suspended accounts reject even the correct password", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		_, err := env.store.UpdateStatus(ctx, user.ID, identity.AccountStatusSuspended)
		require.NoError(t, err)

		_, err = env.manager.Login(ctx, "alice", "Secret123!")
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrAccountSuspended)
	})

	t.Run("wrong password on a gated account stays indistinguishable", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		_, err := env.store.UpdateStatus(ctx, user.ID, identity.AccountStatusSuspended)
		require.NoError(t, err)

		// The password check runs first, so a probing caller cannot learn
		// the account is suspended without knowing the password.
		_, err = env.manager.Login(ctx, "alice", "WrongPass1!")
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	})

	t.Run("pending accounts are rejected until activated", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		_, err := env.store.UpdateStatus(ctx, user.ID, identity.AccountStatusPending)
		require.NoError(t, err)

		_, err = env.manager.Login(ctx, "alice", "Secret123!")
		assert.ErrorIs(t, err, identity.ErrAccountPending)

		_, err = env.manager.Activate(ctx, identity.ActorRef{Type: "system"}, user.ID)
		require.NoError(t, err)

		_, err = env.manager.Login(ctx, "alice", "Secret123!")
		assert.NoError(t, err)
	})

	t.Run("successful login resets the failure counter", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		for i := 0; i < 2; i++ {
			_, _ = env.manager.Login(ctx, "alice", "WrongPass1!")
		}

		_, err := env.manager.Login(ctx, "alice", "Secret123!")
		require.NoError(t, err)

		found, err := env.store.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, found.FailedAttempts)
		assert.Nil(t, found.LockoutEndsAt)
	})
}

func TestAccountManagerLoginRehashesOutdatedHashes(t *testing.T) {
	ctx := context.Background()

	opts := identity.NewOptions("test-signing-key")
	opts.BcryptCost = bcrypt.MinCost + 2

	store := identity.NewMemoryIdentityStore(3, 15*time.Minute)
	issuer := identity.NewTokenIssuer(opts, store)
	manager := identity.NewAccountManager(opts, store, nil, issuer)

	// Seed a user whose hash was generated at a lower cost.
	oldHash, err := identity.NewBcryptHasher(bcrypt.MinCost).HashPassword("Secret123!")
	require.NoError(t, err)

	user, err := store.CreateUser(ctx, &identity.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: oldHash,
	})
	require.NoError(t, err)
	oldStamp := user.SecurityStamp

	result, err := manager.Login(ctx, "alice", "Secret123!")
	require.NoError(t, err)

	found, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(found.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+2, cost, "hash is regenerated at the configured cost")
	assert.NotEqual(t, oldStamp, found.SecurityStamp, "rehash rotates the stamp")

	// The issued credential carries the fresh stamp, so it still validates.
	principal, err := issuer.Validate(ctx, result.Credential.Value)
	require.NoError(t, err)
	assert.Equal(t, found.SecurityStamp, principal.SecurityStamp)
}

func TestAccountManagerLogout(t *testing.T) {
	ctx := context.Background()
	env := newAccountsEnv(t)
	env.register(t, aliceRegistration())

	result, err := env.manager.Login(ctx, "alice", "Secret123!")
	require.NoError(t, err)

	require.NoError(t, env.manager.Logout(ctx, result.Credential.Value))
	assert.True(t, env.events.has(identity.ActivityEventLogout))
}

func TestAccountManagerChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("swaps the hash and kills outstanding tokens", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		result, err := env.manager.Login(ctx, "alice", "Secret123!")
		require.NoError(t, err)

		updated, err := env.manager.ChangePassword(ctx, user.ID, "Fresh456?")
		require.NoError(t, err)
		assert.NotEqual(t, user.SecurityStamp, updated.SecurityStamp)

		// Tokens from the previous credential generation read as revoked.
		_, err = env.issuer.Validate(ctx, result.Credential.Value)
		assert.ErrorIs(t, err, identity.ErrTokenRevoked)

		_, err = env.manager.Login(ctx, "alice", "Secret123!")
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

		_, err = env.manager.Login(ctx, "alice", "Fresh456?")
		assert.NoError(t, err)

		assert.True(t, env.events.has(identity.ActivityEventPasswordChanged))
	})

	t.Run("policy violations fail before any write", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		_, err := env.manager.ChangePassword(ctx, user.ID, "weak")
		require.Error(t, err)

		_, err = env.manager.Login(ctx, "alice", "Secret123!")
		assert.NoError(t, err, "the old password still works")
	})
}

func TestAccountManagerPasswordReset(t *testing.T) {
	ctx := context.Background()

	t.Run("request mints a one-time token", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		reset, err := env.manager.RequestPasswordReset(ctx, "alice@example.com")
		require.NoError(t, err)

		assert.NotEmpty(t, reset.Token)
		assert.Equal(t, identity.ResetRequestedStatus, reset.Status)
		require.NotNil(t, reset.UserID)
		assert.Equal(t, user.ID, *reset.UserID)
		require.NotNil(t, reset.ExpiresAt)

		event, ok := env.events.find(identity.ActivityEventPasswordResetIssued)
		require.True(t, ok)
		assert.NotContains(t, event.Metadata, "token", "the raw token never reaches the activity stream")
	})

	t.Run("finalize installs the new password and clears lockouts", func(t *testing.T) {
		env := newAccountsEnv(t)
		env.register(t, aliceRegistration())

		// Lock the account first.
		for i := 0; i < 3; i++ {
			_, _ = env.manager.Login(ctx, "alice", "WrongPass1!")
		}
		_, err := env.manager.Login(ctx, "alice", "Secret123!")
		require.True(t, identity.IsLockedOut(err))

		reset, err := env.manager.RequestPasswordReset(ctx, "alice@example.com")
		require.NoError(t, err)

		require.NoError(t, env.manager.FinalizePasswordReset(ctx, reset.Token, "Fresh456?"))

		// Proving mailbox control releases the lockout immediately.
		_, err = env.manager.Login(ctx, "alice", "Fresh456?")
		assert.NoError(t, err)

		_, err = env.manager.Login(ctx, "alice", "Secret123!")
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

		assert.True(t, env.events.has(identity.ActivityEventPasswordReset))
	})

	t.Run("tokens redeem exactly once", func(t *testing.T) {
		env := newAccountsEnv(t)
		env.register(t, aliceRegistration())

		reset, err := env.manager.RequestPasswordReset(ctx, "alice@example.com")
		require.NoError(t, err)

		require.NoError(t, env.manager.FinalizePasswordReset(ctx, reset.Token, "Fresh456?"))

		err = env.manager.FinalizePasswordReset(ctx, reset.Token, "Later789!")
		assert.ErrorIs(t, err, identity.ErrResetInvalid)
	})

	t.Run("expired tokens are rejected", func(t *testing.T) {
		env := newAccountsEnv(t)
		env.register(t, aliceRegistration())

		reset, err := env.manager.RequestPasswordReset(ctx, "alice@example.com")
		require.NoError(t, err)

		env.manager.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

		err = env.manager.FinalizePasswordReset(ctx, reset.Token, "Fresh456?")
		assert.ErrorIs(t, err, identity.ErrResetInvalid)
	})

	t.Run("unknown tokens are rejected", func(t *testing.T) {
		env := newAccountsEnv(t)

		err := env.manager.FinalizePasswordReset(ctx, "never-issued", "Fresh456?")
		assert.ErrorIs(t, err, identity.ErrResetInvalid)
	})

	t.Run("deadline-less tokens go stale after a day", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		created := time.Now().Add(-25 * time.Hour)
		_, err := env.store.SaveReset(ctx, &identity.PasswordReset{
			UserID:    &user.ID,
			Email:     user.Email,
			Token:     "legacy-reset-token",
			Status:    identity.ResetRequestedStatus,
			CreatedAt: &created,
		})
		require.NoError(t, err)

		err = env.manager.FinalizePasswordReset(ctx, "legacy-reset-token", "Fresh456?")
		assert.ErrorIs(t, err, identity.ErrResetInvalid)
	})

	t.Run("weak replacement passwords do not burn the token", func(t *testing.T) {
		env := newAccountsEnv(t)
		env.register(t, aliceRegistration())

		reset, err := env.manager.RequestPasswordReset(ctx, "alice@example.com")
		require.NoError(t, err)

		require.Error(t, env.manager.FinalizePasswordReset(ctx, reset.Token, "weak"))
		assert.NoError(t, env.manager.FinalizePasswordReset(ctx, reset.Token, "Fresh456?"))
	})

	t.Run("unknown email propagates not found", func(t *testing.T) {
		env := newAccountsEnv(t)

		_, err := env.manager.RequestPasswordReset(ctx, "ghost@example.com")
		assert.ErrorIs(t, err, identity.ErrIdentityNotFound)
	})

	t.Run("fails without a reset store", func(t *testing.T) {
		env := newAccountsEnv(t)
		env.register(t, aliceRegistration())
		env.manager.WithResetStore(nil)

		_, err := env.manager.RequestPasswordReset(ctx, "alice@example.com")
		require.Error(t, err)

		err = env.manager.FinalizePasswordReset(ctx, "anything", "Fresh456?")
		require.Error(t, err)
	})
}

func TestAccountManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	actor := identity.ActorRef{ID: "admin-1", Type: "admin"}

	t.Run("suspend and reinstate", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		suspended, err := env.manager.Suspend(ctx, actor, user.ID,
			identity.WithTransitionReason("abuse report"))
		require.NoError(t, err)
		assert.Equal(t, identity.AccountStatusSuspended, suspended.Status)
		assert.NotNil(t, suspended.SuspendedAt)

		event, ok := env.events.find(identity.ActivityEventUserStatusChanged)
		require.True(t, ok)
		assert.Equal(t, identity.AccountStatusActive, event.FromStatus)
		assert.Equal(t, identity.AccountStatusSuspended, event.ToStatus)
		assert.Equal(t, "abuse report", event.Metadata["reason"])

		reinstated, err := env.manager.Reinstate(ctx, actor, user.ID)
		require.NoError(t, err)
		assert.Equal(t, identity.AccountStatusActive, reinstated.Status)
		assert.Nil(t, reinstated.SuspendedAt)

		_, err = env.manager.Login(ctx, "alice", "Secret123!")
		assert.NoError(t, err)
	})

	t.Run("invalid transitions are rejected", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		_, err := env.store.UpdateStatus(ctx, user.ID, identity.AccountStatusDisabled)
		require.NoError(t, err)

		_, err = env.manager.Suspend(ctx, actor, user.ID)
		assert.ErrorIs(t, err, identity.ErrInvalidTransition)
	})

	t.Run("unknown user propagates not found", func(t *testing.T) {
		env := newAccountsEnv(t)

		_, err := env.manager.Suspend(ctx, actor, uuid.New())
		assert.ErrorIs(t, err, identity.ErrIdentityNotFound)
	})
}

func TestAccountManagerGrants(t *testing.T) {
	ctx := context.Background()
	actor := identity.ActorRef{ID: "admin-1", Type: "admin"}

	t.Run("role grants show up in the next principal", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		_, err := env.store.CreateRole(ctx, &identity.Role{Name: "Admin"})
		require.NoError(t, err)

		before, err := env.manager.Login(ctx, "alice", "Secret123!")
		require.NoError(t, err)
		assert.False(t, before.Principal.HasRole("Admin"))

		require.NoError(t, env.manager.GrantRole(ctx, actor, user.ID, "Admin"))
		assert.True(t, env.events.has(identity.ActivityEventRoleGranted))

		after, err := env.manager.Login(ctx, "alice", "Secret123!")
		require.NoError(t, err)
		assert.True(t, after.Principal.HasRole("Admin"))

		require.NoError(t, env.manager.RevokeRole(ctx, actor, user.ID, "Admin"))
		assert.True(t, env.events.has(identity.ActivityEventRoleRevoked))

		final, err := env.manager.Login(ctx, "alice", "Secret123!")
		require.NoError(t, err)
		assert.False(t, final.Principal.HasRole("Admin"))
	})

	t.Run("granting an unknown role fails", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())

		err := env.manager.GrantRole(ctx, actor, user.ID, "Ghost")
		assert.ErrorIs(t, err, identity.ErrRoleNotFound)
	})

	t.Run("claim grants show up in the next principal", func(t *testing.T) {
		env := newAccountsEnv(t)
		user := env.register(t, aliceRegistration())
		claim := identity.Claim{Type: "feature", Value: "beta"}

		require.NoError(t, env.manager.GrantClaim(ctx, actor, user.ID, claim))
		assert.True(t, env.events.has(identity.ActivityEventClaimGranted))

		result, err := env.manager.Login(ctx, "alice", "Secret123!")
		require.NoError(t, err)
		assert.True(t, result.Principal.HasClaim("feature", "beta"))

		require.NoError(t, env.manager.RevokeClaim(ctx, actor, user.ID, claim))
		assert.True(t, env.events.has(identity.ActivityEventClaimRevoked))

		result, err = env.manager.Login(ctx, "alice", "Secret123!")
		require.NoError(t, err)
		assert.False(t, result.Principal.HasClaim("feature", "beta"))
	})
}

func TestAccountManagerDeterministicIDs(t *testing.T) {
	mint := func(t *testing.T) uuid.UUID {
		t.Helper()
		env := newAccountsEnv(t)
		env.manager.WithDeterministicIDs()
		return env.register(t, aliceRegistration()).ID
	}

	first := mint(t)
	second := mint(t)

	assert.Equal(t, first, second, "the same email maps to the same id across stores")
}
