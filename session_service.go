package identity

import (
	"context"
	"crypto/subtle"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// SessionIssuer converts verified principals into opaque server-side
// sessions. The bearer value is a 256-bit random reference; everything else
// lives in the session store, so revocation is an ordinary delete and needs
// no denylist.
type SessionIssuer struct {
	sessions SessionStore
	stamps   StampSource
	duration time.Duration
	now      func() time.Time
	logger   Logger
	provider LoggerProvider
}

var _ CredentialIssuer = (*SessionIssuer)(nil)

// NewSessionIssuer returns a session issuer configured from opts. A nil
// stamp source disables the rotation cross-check on Validate.
func NewSessionIssuer(opts Config, store SessionStore, stamps StampSource) *SessionIssuer {
	provider, logger := ResolveLogger("identity.session_issuer", nil, nil)
	return &SessionIssuer{
		sessions: store,
		stamps:   stamps,
		duration: time.Duration(opts.GetSessionDuration()) * time.Hour,
		now:      time.Now,
		logger:   logger,
		provider: provider,
	}
}

// WithLogger overrides the issuer logger.
func (s *SessionIssuer) WithLogger(logger Logger) *SessionIssuer {
	s.provider, s.logger = ResolveLogger("identity.session_issuer", s.provider, logger)
	return s
}

// WithLoggerProvider overrides the logger provider used by the issuer.
func (s *SessionIssuer) WithLoggerProvider(provider LoggerProvider) *SessionIssuer {
	s.provider, s.logger = ResolveLogger("identity.session_issuer", provider, s.logger)
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *SessionIssuer) WithClock(clock func() time.Time) *SessionIssuer {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Issue snapshots the principal into a new session record and hands back the
// opaque reference as the bearer value.
func (s *SessionIssuer) Issue(ctx context.Context, principal *Principal) (*Credential, error) {
	if principal == nil {
		return nil, goerrors.New("principal is required", goerrors.CategoryBadInput)
	}

	ref, err := NewSessionReference()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate session reference")
	}

	now := s.now()
	record := &SessionRecord{
		Reference: ref,
		UserID:    principal.ID(),
		Stamp:     principal.SecurityStamp,
		Principal: principal.Clone().SortClaims(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.duration),
	}

	if err := s.sessions.Save(ctx, record); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist session")
	}

	CredentialsIssued.WithLabelValues(string(CredentialSession)).Inc()

	return &Credential{
		Value:     ref,
		Kind:      CredentialSession,
		IssuedAt:  now,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Validate resolves a presented reference to the principal snapshot frozen
// at issuance. Unknown references read as revoked: a deleted session and one
// that never existed are indistinguishable on purpose.
func (s *SessionIssuer) Validate(ctx context.Context, raw string) (*Principal, error) {
	principal, err := s.validate(ctx, raw)
	countValidation(CredentialSession, err)
	return principal, err
}

func (s *SessionIssuer) validate(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		return nil, ErrTokenMalformed
	}

	record, err := s.sessions.Find(ctx, raw)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrTokenRevoked
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "session lookup failed")
	}

	if record.Expired(s.now()) {
		return nil, ErrTokenExpired
	}

	if err := s.checkStamp(ctx, record); err != nil {
		return nil, err
	}

	principal := record.RestorePrincipal()
	if principal == nil {
		return nil, ErrTokenRevoked
	}
	return principal, nil
}

// Revoke deletes the session record; the reference dies immediately.
// Revoking an unknown reference is a no-op.
func (s *SessionIssuer) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, raw); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete session")
	}
	return nil
}

// RevokeAll deletes every session held by the subject, e.g. after a
// password reset or a suspension.
func (s *SessionIssuer) RevokeAll(ctx context.Context, userID string) error {
	if err := s.sessions.DeleteByUser(ctx, userID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete user sessions")
	}
	return nil
}

// checkStamp rejects sessions minted before the subject's last stamp
// rotation. A vanished subject reads as revocation too.
func (s *SessionIssuer) checkStamp(ctx context.Context, record *SessionRecord) error {
	if s.stamps == nil {
		return nil
	}

	if record.Stamp == "" {
		return ErrTokenRevoked
	}

	id, err := record.GetUserUUID()
	if err != nil {
		return ErrTokenMalformed
	}

	current, err := s.stamps.SecurityStamp(ctx, id)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return ErrTokenRevoked
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load current security stamp")
	}

	if subtle.ConstantTimeCompare([]byte(record.Stamp), []byte(current)) != 1 {
		return ErrTokenRevoked
	}

	return nil
}
