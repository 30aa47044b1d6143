package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenIssuer converts verified principals into stateless signed tokens and
// resolves presented tokens back into principals. Beyond signature and
// expiry checks, validation consults the denylist and cross-checks the
// token's frozen security stamp against the subject's current stamp, which
// is how password changes kill outstanding tokens.
type TokenIssuer struct {
	tokens          TokenService
	tokenValidator  TokenValidator
	stamps          StampSource
	denylist        Denylist
	decorator       ClaimsDecorator
	tokenExpiration int
	issuer          string
	audience        []string
	now             func() time.Time
	logger          Logger
	provider        LoggerProvider
}

var _ CredentialIssuer = (*TokenIssuer)(nil)

// NewTokenIssuer returns a token issuer configured from opts. A nil stamp
// source disables the cross-check, which is only sane for callers that keep
// no credential store at all.
func NewTokenIssuer(opts Config, stamps StampSource) *TokenIssuer {
	provider, logger := ResolveLogger("identity.token_issuer", nil, nil)

	tokenService := NewTokenService(
		[]byte(opts.GetSigningKey()),
		opts.GetTokenExpiration(),
		opts.GetIssuer(),
		opts.GetAudience(),
		provider.GetLogger("identity.token_service"),
	)

	return &TokenIssuer{
		tokens:          tokenService,
		stamps:          stamps,
		decorator:       noopClaimsDecorator{},
		tokenExpiration: opts.GetTokenExpiration(),
		issuer:          opts.GetIssuer(),
		audience:        opts.GetAudience(),
		now:             time.Now,
		logger:          logger,
		provider:        provider,
	}
}

// WithLogger overrides the issuer logger.
func (s *TokenIssuer) WithLogger(logger Logger) *TokenIssuer {
	s.provider, s.logger = ResolveLogger("identity.token_issuer", s.provider, logger)
	return s
}

// WithLoggerProvider resolves scoped loggers for the issuer and its token
// service.
func (s *TokenIssuer) WithLoggerProvider(provider LoggerProvider) *TokenIssuer {
	s.provider, s.logger = ResolveLogger("identity.token_issuer", provider, s.logger)
	if impl, ok := s.tokens.(*TokenServiceImpl); ok {
		impl.logger = s.provider.GetLogger("identity.token_service")
	}
	return s
}

// WithDenylist enables pre-expiry revocation of individual credential
// generations.
func (s *TokenIssuer) WithDenylist(denylist Denylist) *TokenIssuer {
	s.denylist = denylist
	return s
}

// WithClaimsDecorator configures a ClaimsDecorator for enriching JWTs.
func (s *TokenIssuer) WithClaimsDecorator(decorator ClaimsDecorator) *TokenIssuer {
	s.decorator = normalizeClaimsDecorator(decorator)
	return s
}

// WithTokenValidator sets a custom token validator for externally issued tokens.
func (s *TokenIssuer) WithTokenValidator(validator TokenValidator) *TokenIssuer {
	s.tokenValidator = validator
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *TokenIssuer) WithClock(clock func() time.Time) *TokenIssuer {
	if clock != nil {
		s.now = clock
	}
	return s
}

// TokenService returns the TokenService instance used by this issuer.
func (s *TokenIssuer) TokenService() TokenService {
	return s.tokens
}

// Issue signs the principal's claim snapshot into a bearer token. The
// decorator may enrich extension fields; a guard rejects any attempt to
// touch identity claims, the stamp, or the frozen claim set.
func (s *TokenIssuer) Issue(ctx context.Context, principal *Principal) (*Credential, error) {
	if principal == nil {
		return nil, goerrors.New("principal is required", goerrors.CategoryBadInput)
	}

	now := s.now()
	claims := NewJWTClaims(principal, nil, s.claimDefaults(), now)
	snapshot := captureImmutableClaims(claims)

	decorator := normalizeClaimsDecorator(s.decorator)
	if err := decorator.Decorate(ctx, principal, claims); err != nil {
		s.logger.Error("claims decorator failed", "error", err)
		return nil, err
	}

	if err := snapshot.validate(claims); err != nil {
		s.logger.Error("claims decorator mutated immutable claims", "error", err)
		return nil, err
	}

	value, err := s.tokens.SignClaims(claims)
	if err != nil {
		return nil, err
	}

	CredentialsIssued.WithLabelValues(string(CredentialToken)).Inc()

	return &Credential{
		Value:     value,
		Kind:      CredentialToken,
		IssuedAt:  now,
		ExpiresAt: claims.Expires(),
	}, nil
}

// Validate resolves a presented token to the principal it was issued for.
// Order matters: signature and expiry first, then the denylist, then the
// stamp cross-check, so the cheapest rejection wins.
func (s *TokenIssuer) Validate(ctx context.Context, raw string) (*Principal, error) {
	principal, err := s.validate(ctx, raw)
	countValidation(CredentialToken, err)
	return principal, err
}

func (s *TokenIssuer) validate(ctx context.Context, raw string) (*Principal, error) {
	claims, err := s.parse(raw)
	if err != nil {
		return nil, err
	}

	if err := s.checkDenylist(ctx, claims); err != nil {
		return nil, err
	}

	if err := s.checkStamp(ctx, claims); err != nil {
		return nil, err
	}

	return PrincipalFromClaims(claims), nil
}

// Revoke denylists the token's credential generation for the remainder of
// its lifetime. Without a denylist this is a no-op: a stateless token can
// only die early through stamp rotation.
func (s *TokenIssuer) Revoke(ctx context.Context, raw string) error {
	claims, err := s.parse(raw)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil
		}
		return err
	}

	if s.denylist == nil {
		s.logger.Debug("revoke called without a denylist, token dies at expiry",
			"subject", claims.UserID())
		return nil
	}

	ttl := claims.Expires().Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	if err := s.denylist.Revoke(ctx, claims.UserID(), claims.SecurityStamp(), ttl); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to denylist token")
	}

	return nil
}

func (s *TokenIssuer) parse(raw string) (AuthClaims, error) {
	validator := s.tokenValidator
	if validator == nil {
		validator = s.tokens
	}

	claims, err := validator.Validate(raw)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *TokenIssuer) checkDenylist(ctx context.Context, claims AuthClaims) error {
	if s.denylist == nil {
		return nil
	}

	revoked, err := s.denylist.IsRevoked(ctx, claims.UserID(), claims.SecurityStamp())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "denylist lookup failed")
	}
	if revoked {
		return ErrTokenRevoked
	}
	return nil
}

// checkStamp compares the token's frozen stamp against the subject's
// current one. Any mismatch, a missing stamp, or a vanished subject all
// read as revocation.
func (s *TokenIssuer) checkStamp(ctx context.Context, claims AuthClaims) error {
	if s.stamps == nil {
		return nil
	}

	embedded := claims.SecurityStamp()
	if embedded == "" {
		return ErrTokenRevoked
	}

	id, err := uuid.Parse(claims.UserID())
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

	if subtle.ConstantTimeCompare([]byte(embedded), []byte(current)) != 1 {
		return ErrTokenRevoked
	}

	return nil
}

func (s *TokenIssuer) claimDefaults() tokenDefaults {
	return tokenDefaults{
		issuer:   s.issuer,
		audience: append([]string(nil), s.audience...),
		ttl:      time.Duration(s.tokenExpiration) * time.Hour,
	}
}
