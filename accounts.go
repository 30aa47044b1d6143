package identity

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// LoginResult carries everything a successful authentication produces: the
// stored user, the principal built from it, and the issued credential.
type LoginResult struct {
	User       *User
	Principal  *Principal
	Credential *Credential
}

// AccountManager drives registration, login, logout, password maintenance,
// and administrative lifecycle changes over pluggable stores. It owns the
// ordering rules that make the flows safe: lockout checks run before any
// bcrypt work, failure counters are written even when the caller hangs up,
// and stamp rotation rides in the same write as every hash swap.
type AccountManager struct {
	store        IdentityStore
	hasher       PasswordAuthenticator
	builder      PrincipalBuilder
	issuer       CredentialIssuer
	resets       ResetStore
	stateMachine UserStateMachine
	customSM     bool
	policy       PasswordPolicy
	activity     ActivitySink
	useHashID    bool
	resetTTL     time.Duration
	now          func() time.Time
	logger       Logger
	provider     LoggerProvider
}

// NewAccountManager assembles a manager from its collaborators. A nil hasher
// selects bcrypt at the configured cost, the builder defaults to the claims
// principal builder over the same store, and stores that also implement
// ResetStore get the recovery flow wired automatically.
func NewAccountManager(opts Config, store IdentityStore, hasher PasswordAuthenticator, issuer CredentialIssuer) *AccountManager {
	provider, logger := ResolveLogger("identity.accounts", nil, nil)

	if hasher == nil {
		hasher = NewBcryptHasher(opts.GetBcryptCost())
	}

	policy := DefaultPasswordPolicy()
	if min := opts.GetPasswordMinLength(); min > 0 {
		policy.MinLength = min
	}

	resetTTL := time.Duration(opts.GetResetTokenDuration()) * time.Minute
	if resetTTL <= 0 {
		resetTTL = time.Duration(DefaultResetTokenDuration) * time.Minute
	}

	m := &AccountManager{
		store:    store,
		hasher:   hasher,
		builder:  NewPrincipalBuilder(store),
		issuer:   issuer,
		policy:   policy,
		activity: noopActivitySink{},
		resetTTL: resetTTL,
		now:      time.Now,
		logger:   logger,
		provider: provider,
	}

	if resets, ok := store.(ResetStore); ok {
		m.resets = resets
	}

	return m
}

// WithLogger overrides the manager logger.
func (m *AccountManager) WithLogger(logger Logger) *AccountManager {
	m.provider, m.logger = ResolveLogger("identity.accounts", m.provider, logger)
	return m
}

// WithLoggerProvider resolves the manager logger from a provider.
func (m *AccountManager) WithLoggerProvider(provider LoggerProvider) *AccountManager {
	m.provider, m.logger = ResolveLogger("identity.accounts", provider, m.logger)
	return m
}

// WithActivitySink configures the sink for account events. The lifecycle
// state machine is rebuilt so its transitions report to the same sink.
func (m *AccountManager) WithActivitySink(sink ActivitySink) *AccountManager {
	m.activity = normalizeActivitySink(sink)
	if !m.customSM {
		m.stateMachine = nil
	}
	return m
}

// WithPasswordPolicy replaces the strength rules applied on registration,
// password change, and reset.
func (m *AccountManager) WithPasswordPolicy(policy PasswordPolicy) *AccountManager {
	m.policy = policy
	return m
}

// WithPrincipalBuilder replaces the builder used on successful logins.
func (m *AccountManager) WithPrincipalBuilder(builder PrincipalBuilder) *AccountManager {
	if builder != nil {
		m.builder = builder
	}
	return m
}

// WithResetStore wires the password recovery flow to an explicit store.
func (m *AccountManager) WithResetStore(resets ResetStore) *AccountManager {
	m.resets = resets
	return m
}

// WithStateMachine replaces the account lifecycle machine used by Suspend,
// Reinstate, and Activate.
func (m *AccountManager) WithStateMachine(sm UserStateMachine) *AccountManager {
	if sm != nil {
		m.stateMachine = sm
		m.customSM = true
	}
	return m
}

// WithDeterministicIDs derives new user IDs from the normalized email, so
// repeated imports of the same directory land on stable identifiers.
func (m *AccountManager) WithDeterministicIDs() *AccountManager {
	m.useHashID = true
	return m
}

// WithClock injects a custom clock (useful for tests).
func (m *AccountManager) WithClock(clock func() time.Time) *AccountManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// Register validates and normalizes the input, hashes the password, and
// creates the account. Taken usernames or emails fail with
// ErrDuplicateIdentity; weak passwords fail with ErrValidationFailed before
// any hashing happens.
func (m *AccountManager) Register(ctx context.Context, input RegistrationInput) (*User, error) {
	if err := input.Validate(); err != nil {
		Registrations.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if err := m.policy.Validate(input.Password); err != nil {
		Registrations.WithLabelValues("invalid").Inc()
		return nil, err
	}

	phone, err := NormalizePhone(input.Phone)
	if err != nil {
		Registrations.WithLabelValues("invalid").Inc()
		return nil, err
	}

	hash, err := m.hasher.HashPassword(input.Password)
	if err != nil {
		Registrations.WithLabelValues("error").Inc()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		Username:     NormalizeUsername(usernameFromEmail(input.Username, input.Email)),
		Email:        NormalizeEmail(input.Email),
		Phone:        phone,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		PasswordHash: hash,
	}

	if m.useHashID {
		if id, err := hashid.NewUUID(user.Email); err == nil {
			user.ID = id
		}
	}

	created, err := m.store.CreateUser(ctx, user)
	if err != nil {
		if IsDuplicateIdentity(err) {
			Registrations.WithLabelValues("duplicate").Inc()
			return nil, err
		}
		Registrations.WithLabelValues("error").Inc()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user")
	}

	Registrations.WithLabelValues("created").Inc()
	m.emit(ctx, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		Actor:     actorForUser(created),
		UserID:    created.ID.String(),
		Metadata: map[string]any{
			"username": created.Username,
		},
	})

	return created, nil
}

// Login authenticates an identifier/password pair and issues a credential.
// The user-visible rejection is the same for unknown identifiers, wrong
// passwords, and locked accounts; the text codes stay distinct for
// telemetry. Identifiers resolve against the email column when they parse as
// an address, the username column otherwise.
func (m *AccountManager) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	user, err := m.findByIdentifier(ctx, identifier)
	if err != nil {
		if goerrors.IsNotFound(err) {
			// Burn a hash comparison so unknown identifiers cost the same
			// as wrong passwords.
			m.burnCompare(password)
			m.emitLoginFailure(ctx, ActorRef{Type: "unknown"}, "", identifier, "unknown identifier")
			LoginAttempts.WithLabelValues(metricResultInvalidCredentials).Inc()
			return nil, ErrInvalidCredentials.Clone()
		}
		LoginAttempts.WithLabelValues(metricResultError).Inc()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "identity lookup failed")
	}

	if user.IsLockedOut(m.now()) {
		m.emitLoginFailure(ctx, actorForUser(user), user.ID.String(), identifier, "account locked")
		LoginAttempts.WithLabelValues(metricResultLockedOut).Inc()
		return nil, ErrLockedOut.Clone().WithMetadata(map[string]any{
			"lockout_ends_at": user.LockoutEndsAt,
		})
	}

	if err := m.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, m.recordFailure(ctx, user, identifier)
		}
		LoginAttempts.WithLabelValues(metricResultError).Inc()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "password verification failed")
	}

	user.EnsureStatus()
	if err := statusAuthError(user.Status); err != nil {
		m.emitLoginFailure(ctx, actorForUser(user), user.ID.String(), identifier, string(user.Status))
		LoginAttempts.WithLabelValues(metricResultStatusRejected).Inc()
		return nil, err
	}

	if m.hasher.NeedsRehash(user.PasswordHash) {
		user = m.rehash(ctx, user, password)
	}

	user = m.trackSuccess(ctx, user)

	principal, err := m.builder.Build(ctx, user)
	if err != nil {
		LoginAttempts.WithLabelValues(metricResultError).Inc()
		return nil, err
	}

	credential, err := m.issuer.Issue(ctx, principal)
	if err != nil {
		LoginAttempts.WithLabelValues(metricResultError).Inc()
		return nil, err
	}

	LoginAttempts.WithLabelValues(metricResultOK).Inc()
	m.emit(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     actorForUser(user),
		UserID:    user.ID.String(),
		Metadata: map[string]any{
			"identifier": identifier,
			"credential": string(credential.Kind),
		},
	})

	return &LoginResult{User: user, Principal: principal, Credential: credential}, nil
}

// Logout revokes the presented credential. Sessions die immediately;
// stateless tokens are denylisted for their remaining lifetime when the
// issuer carries a denylist, and otherwise expire on their own.
func (m *AccountManager) Logout(ctx context.Context, raw string) error {
	if err := m.issuer.Revoke(ctx, raw); err != nil {
		return err
	}

	m.emit(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		Actor:     ActorRef{Type: "user"},
	})
	return nil
}

// ChangePassword applies the password policy and swaps the stored hash. The
// security stamp rotates in the same write, which revokes every outstanding
// token and session of the old generation.
func (m *AccountManager) ChangePassword(ctx context.Context, userID uuid.UUID, newPassword string) (*User, error) {
	if err := m.policy.Validate(newPassword); err != nil {
		return nil, err
	}

	hash, err := m.hasher.HashPassword(newPassword)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	updated, err := m.store.UpdatePasswordHash(ctx, userID, hash)
	if err != nil {
		return nil, err
	}

	m.emit(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     actorForUser(updated),
		UserID:    userID.String(),
	})

	return updated, nil
}

// RequestPasswordReset mints a one-time recovery token for the account
// holding the given email address. The token lives in the returned record
// and nowhere else; it is never logged or emitted. Callers should present a
// uniform response whether or not the email resolved.
func (m *AccountManager) RequestPasswordReset(ctx context.Context, email string) (*PasswordReset, error) {
	if m.resets == nil {
		return nil, goerrors.New("no reset store configured", goerrors.CategoryOperation)
	}

	user, err := m.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	token, err := NewResetToken()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate reset token")
	}

	expires := m.now().Add(m.resetTTL)
	reset := &PasswordReset{
		UserID:    &user.ID,
		Email:     user.Email,
		Token:     token,
		Status:    ResetRequestedStatus,
		ExpiresAt: &expires,
	}

	stored, err := m.resets.SaveReset(ctx, reset)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist password reset")
	}

	m.emit(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetIssued,
		Actor:     actorForUser(user),
		UserID:    user.ID.String(),
		Metadata: map[string]any{
			"password_reset_id": stored.ID.String(),
		},
	})

	return stored, nil
}

// FinalizePasswordReset redeems a recovery token and installs the new
// password. Unknown, redeemed, and expired tokens all fail with
// ErrResetInvalid. The token is consumed before the hash swap, so a raced
// double redemption has exactly one winner.
func (m *AccountManager) FinalizePasswordReset(ctx context.Context, token, newPassword string) error {
	if m.resets == nil {
		return goerrors.New("no reset store configured", goerrors.CategoryOperation)
	}

	reset, err := m.resets.FindReset(ctx, token)
	if err != nil {
		return err
	}

	if reset.Status != ResetRequestedStatus {
		return ErrResetInvalid.Clone().
			WithMetadata(map[string]any{"reason": "already redeemed"})
	}

	if reset.Expired(m.now()) {
		return ErrResetInvalid.Clone().
			WithMetadata(map[string]any{"reason": "expired"})
	}

	// Rows written before the expires_at column carry no deadline; cap
	// their age at a day instead of honoring them forever.
	if reset.ExpiresAt == nil && reset.CreatedAt != nil {
		stale, err := IsOutsideThresholdPeriod(*reset.CreatedAt, "24h")
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to evaluate reset age")
		}
		if stale {
			return ErrResetInvalid.Clone().
				WithMetadata(map[string]any{"reason": "expired"})
		}
	}

	if reset.UserID == nil {
		return goerrors.New("password reset record is not associated with a user", goerrors.CategoryInternal)
	}

	if err := m.policy.Validate(newPassword); err != nil {
		return err
	}

	hash, err := m.hasher.HashPassword(newPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	if err := m.resets.ConsumeReset(ctx, token); err != nil {
		return err
	}

	if _, err := m.store.UpdatePasswordHash(ctx, *reset.UserID, hash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to install new password")
	}

	// A completed reset proves control of the mailbox; holding the lockout
	// any longer only keeps the legitimate owner out.
	if err := m.store.ResetFailedAccess(ctx, *reset.UserID); err != nil {
		m.logger.Warn("failed to clear lockout after password reset",
			"error", err, "user_id", reset.UserID.String())
	}

	m.emit(ctx, ActivityEvent{
		EventType: ActivityEventPasswordReset,
		Actor:     ActorRef{ID: reset.UserID.String(), Type: "user"},
		UserID:    reset.UserID.String(),
		Metadata: map[string]any{
			"password_reset_id": reset.ID.String(),
		},
	})

	return nil
}

// Suspend moves the account into the suspended state through the lifecycle
// machine, which enforces the transition graph and publishes the status
// change.
func (m *AccountManager) Suspend(ctx context.Context, actor ActorRef, userID uuid.UUID, opts ...TransitionOption) (*User, error) {
	return m.transition(ctx, actor, userID, AccountStatusSuspended, opts...)
}

// Reinstate returns a suspended account to active.
func (m *AccountManager) Reinstate(ctx context.Context, actor ActorRef, userID uuid.UUID, opts ...TransitionOption) (*User, error) {
	return m.transition(ctx, actor, userID, AccountStatusActive, opts...)
}

// Activate promotes a pending account to active, e.g. after email
// verification.
func (m *AccountManager) Activate(ctx context.Context, actor ActorRef, userID uuid.UUID, opts ...TransitionOption) (*User, error) {
	return m.transition(ctx, actor, userID, AccountStatusActive, opts...)
}

// GrantRole assigns a role and records the grant.
func (m *AccountManager) GrantRole(ctx context.Context, actor ActorRef, userID uuid.UUID, role string) error {
	if err := m.store.AssignRole(ctx, userID, role); err != nil {
		return err
	}

	m.emit(ctx, ActivityEvent{
		EventType: ActivityEventRoleGranted,
		Actor:     actor,
		UserID:    userID.String(),
		Metadata:  map[string]any{"role": role},
	})
	return nil
}

// RevokeRole removes a role assignment and records the revocation.
func (m *AccountManager) RevokeRole(ctx context.Context, actor ActorRef, userID uuid.UUID, role string) error {
	if err := m.store.RemoveRole(ctx, userID, role); err != nil {
		return err
	}

	m.emit(ctx, ActivityEvent{
		EventType: ActivityEventRoleRevoked,
		Actor:     actor,
		UserID:    userID.String(),
		Metadata:  map[string]any{"role": role},
	})
	return nil
}

// GrantClaim adds a direct claim to the user and records the grant.
func (m *AccountManager) GrantClaim(ctx context.Context, actor ActorRef, userID uuid.UUID, claim Claim) error {
	if err := m.store.AddUserClaim(ctx, userID, claim); err != nil {
		return err
	}

	m.emit(ctx, ActivityEvent{
		EventType: ActivityEventClaimGranted,
		Actor:     actor,
		UserID:    userID.String(),
		Metadata: map[string]any{
			"claim_type":  claim.Type,
			"claim_value": claim.Value,
		},
	})
	return nil
}

// RevokeClaim removes a direct claim from the user and records the
// revocation.
func (m *AccountManager) RevokeClaim(ctx context.Context, actor ActorRef, userID uuid.UUID, claim Claim) error {
	if err := m.store.RemoveUserClaim(ctx, userID, claim); err != nil {
		return err
	}

	m.emit(ctx, ActivityEvent{
		EventType: ActivityEventClaimRevoked,
		Actor:     actor,
		UserID:    userID.String(),
		Metadata: map[string]any{
			"claim_type":  claim.Type,
			"claim_value": claim.Value,
		},
	})
	return nil
}

func (m *AccountManager) transition(ctx context.Context, actor ActorRef, userID uuid.UUID, target AccountStatus, opts ...TransitionOption) (*User, error) {
	user, err := m.store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.lifecycle().Transition(ctx, actor, user, target, opts...)
}

func (m *AccountManager) lifecycle() UserStateMachine {
	if m.stateMachine == nil {
		m.stateMachine = NewUserStateMachine(m.store,
			WithStateMachineActivitySink(m.activity),
			WithStateMachineLoggerProvider(m.provider),
		)
	}
	return m.stateMachine
}

// findByIdentifier resolves login identifiers the way the repositories do:
// the email column when the input parses as an address, the username column
// otherwise, with a username fallback for addresses that did not match.
func (m *AccountManager) findByIdentifier(ctx context.Context, identifier string) (*User, error) {
	if isEmailAddress(identifier) {
		user, err := m.store.FindByEmail(ctx, identifier)
		if err == nil || !goerrors.IsNotFound(err) {
			return user, err
		}
	}
	return m.store.FindByUsername(ctx, identifier)
}

// recordFailure books a failed attempt and maps the outcome. The write runs
// on a detached context: the increment is security bookkeeping and must land
// even when the caller has already gone away.
func (m *AccountManager) recordFailure(ctx context.Context, user *User, identifier string) error {
	updated, err := m.store.RecordFailedAccess(context.WithoutCancel(ctx), user.ID)
	if err != nil {
		m.logger.Error("failed to record failed access", "error", err, "user_id", user.ID.String())
	}

	if updated != nil && updated.IsLockedOut(m.now()) {
		AccountLockouts.Inc()
		LoginAttempts.WithLabelValues(metricResultLockedOut).Inc()
		m.emit(ctx, ActivityEvent{
			EventType: ActivityEventAccountLocked,
			Actor:     actorForUser(user),
			UserID:    user.ID.String(),
			Metadata: map[string]any{
				"lockout_ends_at": updated.LockoutEndsAt,
			},
		})
		return ErrLockedOut.Clone().WithMetadata(map[string]any{
			"lockout_ends_at": updated.LockoutEndsAt,
		})
	}

	LoginAttempts.WithLabelValues(metricResultInvalidCredentials).Inc()
	m.emitLoginFailure(ctx, actorForUser(user), user.ID.String(), identifier, "password mismatch")
	return ErrInvalidCredentials.Clone()
}

// rehash regenerates the stored hash at the current cost. The write rotates
// the stamp, so the principal built afterwards carries the fresh generation
// and the credential issued from it stays valid.
func (m *AccountManager) rehash(ctx context.Context, user *User, password string) *User {
	hash, err := m.hasher.HashPassword(password)
	if err != nil {
		m.logger.Warn("password rehash skipped", "error", err, "user_id", user.ID.String())
		return user
	}

	updated, err := m.store.UpdatePasswordHash(ctx, user.ID, hash)
	if err != nil {
		m.logger.Warn("password rehash write failed", "error", err, "user_id", user.ID.String())
		return user
	}
	return updated
}

func (m *AccountManager) trackSuccess(ctx context.Context, user *User) *User {
	if tracker, ok := m.store.(successTracker); ok {
		updated, err := tracker.TrackSuccessfulLogin(ctx, user.ID)
		if err != nil {
			m.logger.Warn("failed to track successful login", "error", err, "user_id", user.ID.String())
			return user
		}
		return updated
	}

	if err := m.store.ResetFailedAccess(ctx, user.ID); err != nil {
		m.logger.Warn("failed to reset lockout bookkeeping", "error", err, "user_id", user.ID.String())
		return user
	}

	user.FailedAttempts = 0
	user.LastFailedAt = nil
	user.LockoutEndsAt = nil
	return user
}

func (m *AccountManager) burnCompare(password string) {
	if comparer, ok := m.hasher.(dummyComparer); ok {
		comparer.DummyCompare(password)
	}
}

func (m *AccountManager) emit(ctx context.Context, event ActivityEvent) {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}

	if err := normalizeActivitySink(m.activity).Record(ctx, event); err != nil {
		m.logger.Warn("activity sink record error", "error", err)
	}
}

func (m *AccountManager) emitLoginFailure(ctx context.Context, actor ActorRef, userID, identifier, reason string) {
	m.emit(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     actor,
		UserID:    userID,
		Metadata: map[string]any{
			"identifier": identifier,
			"reason":     reason,
		},
	})
}

func actorForUser(user *User) ActorRef {
	if user == nil {
		return ActorRef{Type: "unknown"}
	}
	return ActorRef{ID: user.ID.String(), Type: "user"}
}

// successTracker is the optional store capability for stamping loggedin_at
// together with the lockout reset; stores without it get the plain reset.
type successTracker interface {
	TrackSuccessfulLogin(ctx context.Context, id uuid.UUID) (*User, error)
}

// dummyComparer is the optional hasher capability for burning a comparison
// on unknown identifiers.
type dummyComparer interface {
	DummyCompare(password string)
}
