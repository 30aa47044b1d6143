package identity

import (
	"errors"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// JWKSValidator validates tokens minted by an external issuer that publishes
// its public keys as JWK Sets. Keys refresh in the background; an unknown kid
// triggers an immediate rate-limited refresh so key rotations do not strand
// fresh tokens. Plug it into a TokenIssuer via WithTokenValidator, or compose
// it with the local service through NewMultiTokenValidator.
type JWKSValidator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience []string
	logger   Logger
	provider LoggerProvider

	refreshInterval  time.Duration
	refreshRateLimit time.Duration
	refreshTimeout   time.Duration
}

var _ TokenValidator = (*JWKSValidator)(nil)

// JWKSOption customizes validator construction.
type JWKSOption func(*JWKSValidator)

// WithJWKSLogger overrides the logger used for refresh failures.
func WithJWKSLogger(logger Logger) JWKSOption {
	return func(v *JWKSValidator) {
		v.provider, v.logger = ResolveLogger("identity.jwks", v.provider, logger)
	}
}

// WithJWKSLoggerProvider resolves the validator logger from a provider.
func WithJWKSLoggerProvider(provider LoggerProvider) JWKSOption {
	return func(v *JWKSValidator) {
		v.provider, v.logger = ResolveLogger("identity.jwks", provider, v.logger)
	}
}

// WithJWKSIssuer requires tokens to carry the given iss claim.
func WithJWKSIssuer(issuer string) JWKSOption {
	return func(v *JWKSValidator) {
		v.issuer = issuer
	}
}

// WithJWKSAudience requires tokens to carry one of the given aud values.
func WithJWKSAudience(audience ...string) JWKSOption {
	return func(v *JWKSValidator) {
		v.audience = append([]string(nil), audience...)
	}
}

// WithJWKSRefreshInterval overrides how often key sets refresh in the
// background.
func WithJWKSRefreshInterval(interval time.Duration) JWKSOption {
	return func(v *JWKSValidator) {
		if interval > 0 {
			v.refreshInterval = interval
		}
	}
}

// NewJWKSValidator fetches the key sets at the given URLs and returns a
// validator over them. The initial fetch is synchronous so a bad URL fails
// here rather than on the first token.
func NewJWKSValidator(urls []string, opts ...JWKSOption) (*JWKSValidator, error) {
	if len(urls) == 0 {
		return nil, goerrors.New("at least one JWK Set URL is required", goerrors.CategoryBadInput)
	}

	provider, logger := ResolveLogger("identity.jwks", nil, nil)
	v := &JWKSValidator{
		logger:           logger,
		provider:         provider,
		refreshInterval:  time.Hour,
		refreshRateLimit: time.Minute * 5,
		refreshTimeout:   time.Second * 10,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	options := keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			v.logger.Error("background JWK Set refresh failed", "error", err)
		},
		RefreshInterval:   v.refreshInterval,
		RefreshRateLimit:  v.refreshRateLimit,
		RefreshTimeout:    v.refreshTimeout,
		RefreshUnknownKID: true,
	}

	m := make(map[string]keyfunc.Options, len(urls))
	for _, url := range urls {
		m[url] = options
	}

	multi, err := keyfunc.GetMultiple(m, keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to fetch JWK Sets")
	}

	v.keyFunc = multi.Keyfunc
	return v, nil
}

// Validate implements TokenValidator. Error mapping matches the local token
// service so MultiTokenValidator can treat both uniformly.
func (v *JWKSValidator) Validate(tokenString string) (AuthClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if v.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(v.issuer))
	}
	if len(v.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(v.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, v.keyFunc, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	v.logger.Error("JWKS validator could not decode claims")
	return nil, ErrUnableToDecodeClaims
}
