package identity_test

import (
	"context"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func (r *eventRecorder) types() []identity.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]identity.ActivityEventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.EventType)
	}
	return types
}

// TestAccountLifecycleIntegration drives one account through the whole
// surface: registration, login, token validation with a claims decorator,
// policy evaluation before and after a role grant, a suspension round trip,
// a password change that kills the old credentials, and a denylisted logout.
// The activity stream is checked in order at the end.
func TestAccountLifecycleIntegration(t *testing.T) {
	ctx := context.Background()
	events := &eventRecorder{}
	actor := identity.ActorRef{ID: "ops-1", Type: "admin"}

	opts := identity.NewOptions("integration-signing-key")
	opts.BcryptCost = bcrypt.MinCost

	store := identity.NewMemoryIdentityStore(3, 15*time.Minute)
	issuer := identity.NewTokenIssuer(opts, store).
		WithDenylist(identity.NewMemoryDenylist()).
		WithClaimsDecorator(identity.ClaimsDecoratorFunc(
			func(_ context.Context, _ *identity.Principal, claims *identity.JWTClaims) error {
				if claims.Metadata == nil {
					claims.Metadata = map[string]any{}
				}
				claims.Metadata["tenant"] = "acme"
				return nil
			}))

	sessions := identity.NewSessionIssuer(opts, identity.NewMemorySessionStore(), store)

	manager := identity.NewAccountManager(opts, store, nil, issuer).
		WithActivitySink(events)

	evaluator := evaluatorFixture(t,
		identity.NewPolicy("AdminOnly", identity.RoleIs("Admin")),
	)

	// Register and log in.
	user, err := manager.Register(ctx, identity.RegistrationInput{
		Username: "Dana",
		Email:    "Dana@Example.com",
		Password: "Secret123!",
	})
	require.NoError(t, err)
	assert.Equal(t, "dana", user.Username)

	result, err := manager.Login(ctx, "dana@example.com", "Secret123!")
	require.NoError(t, err)

	// The token round-trips through validation carrying decorator metadata.
	principal, err := issuer.Validate(ctx, result.Credential.Value)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), principal.SubjectID)
	assert.Equal(t, "acme", principal.Metadata["tenant"])

	// Fresh accounts are not admins.
	decision, err := evaluator.Evaluate(ctx, "AdminOnly", principal, nil)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	// Grant the role; the next login's credential carries it.
	_, err = store.CreateRole(ctx, &identity.Role{Name: "Admin"})
	require.NoError(t, err)
	require.NoError(t, manager.GrantRole(ctx, actor, user.ID, "Admin"))

	result, err = manager.Login(ctx, "dana", "Secret123!")
	require.NoError(t, err)
	principal, err = issuer.Validate(ctx, result.Credential.Value)
	require.NoError(t, err)

	decision, err = evaluator.Evaluate(ctx, "AdminOnly", principal, nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// Sessions ride on the same principal snapshot.
	session, err := sessions.Issue(ctx, principal)
	require.NoError(t, err)
	restored, err := sessions.Validate(ctx, session.Value)
	require.NoError(t, err)
	assert.True(t, restored.HasRole("Admin"))

	// Suspension gates login until the account is reinstated.
	_, err = manager.Suspend(ctx, actor, user.ID, identity.WithTransitionReason("audit"))
	require.NoError(t, err)

	_, err = manager.Login(ctx, "dana", "Secret123!")
	assert.ErrorIs(t, err, identity.ErrAccountSuspended)

	_, err = manager.Reinstate(ctx, actor, user.ID)
	require.NoError(t, err)

	// A password change rotates the stamp: the outstanding token and session
	// die in the same write.
	_, err = manager.ChangePassword(ctx, user.ID, "Fresh456?")
	require.NoError(t, err)

	_, err = issuer.Validate(ctx, result.Credential.Value)
	assert.ErrorIs(t, err, identity.ErrTokenRevoked)
	_, err = sessions.Validate(ctx, session.Value)
	assert.ErrorIs(t, err, identity.ErrTokenRevoked)

	result, err = manager.Login(ctx, "dana", "Fresh456?")
	require.NoError(t, err)

	// Logout denylists the presented token for its remaining lifetime.
	require.NoError(t, manager.Logout(ctx, result.Credential.Value))
	_, err = issuer.Validate(ctx, result.Credential.Value)
	assert.ErrorIs(t, err, identity.ErrTokenRevoked)

	assert.Equal(t, []identity.ActivityEventType{
		identity.ActivityEventUserRegistered,
		identity.ActivityEventLoginSuccess,
		identity.ActivityEventRoleGranted,
		identity.ActivityEventLoginSuccess,
		identity.ActivityEventUserStatusChanged,
		identity.ActivityEventLoginFailure,
		identity.ActivityEventUserStatusChanged,
		identity.ActivityEventPasswordChanged,
		identity.ActivityEventLoginSuccess,
		identity.ActivityEventLogout,
	}, events.types())

	suspendEvent, ok := events.find(identity.ActivityEventUserStatusChanged)
	require.True(t, ok)
	assert.Equal(t, identity.AccountStatusSuspended, suspendEvent.ToStatus)
	assert.Equal(t, "audit", suspendEvent.Metadata["reason"])
}
