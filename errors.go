package identity

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeDuplicateIdentity  = "DUPLICATE_IDENTITY"
	textCodeIdentityNotFound   = "IDENTITY_NOT_FOUND"
	textCodeAccountLocked      = "ACCOUNT_LOCKED"
	textCodeInvalidCredentials = "INVALID_CREDENTIALS"
	textCodeTokenExpired       = "TOKEN_EXPIRED"
	textCodeTokenMalformed     = "TOKEN_MALFORMED"
	textCodeTokenRevoked       = "TOKEN_REVOKED"
	textCodeUnknownPolicy      = "UNKNOWN_POLICY"
	textCodeDuplicatePolicy    = "DUPLICATE_POLICY"
	textCodeValidationFailed   = "VALIDATION_FAILED"
	textCodeAccountSuspended   = "ACCOUNT_SUSPENDED"
	textCodeAccountDisabled    = "ACCOUNT_DISABLED"
	textCodeAccountArchived    = "ACCOUNT_ARCHIVED"
	textCodeAccountPending     = "ACCOUNT_PENDING"
	textCodeDuplicateRole      = "DUPLICATE_ROLE"
	textCodeRoleNotFound       = "ROLE_NOT_FOUND"
	textCodeSessionNotFound    = "SESSION_NOT_FOUND"
	textCodeResetInvalid       = "RESET_TOKEN_INVALID"
	textCodeImmutableClaim     = "IMMUTABLE_CLAIM_MUTATION"
)

// ErrDuplicateIdentity is returned when a normalized username or email is
// already registered.
var ErrDuplicateIdentity = goerrors.New("identity already registered", goerrors.CategoryConflict).
	WithTextCode(textCodeDuplicateIdentity).
	WithCode(goerrors.CodeConflict)

// ErrIdentityNotFound is internal only: login paths fold it into
// ErrInvalidCredentials so callers cannot probe which identities exist.
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidCredentials is the rejection for a bad identifier/password pair.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrLockedOut carries the same message as ErrInvalidCredentials so the two
// are indistinguishable to end users; the text code keeps them apart for
// telemetry.
var ErrLockedOut = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(textCodeAccountLocked).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a credential is presented past its expiry.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed covers garbage input, signature mismatches, and
// unexpected signing methods.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenRevoked is returned when a structurally valid credential no longer
// matches the subject's current security stamp, or was revoked on logout.
var ErrTokenRevoked = goerrors.New("token has been revoked", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenRevoked).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToDecodeClaims is returned when a parsed token carries claims of
// an unexpected shape.
var ErrUnableToDecodeClaims = goerrors.New("unable to decode claims", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnknownPolicy flags evaluation against a policy name that was never
// registered. This is a programming error, not an authorization decision.
var ErrUnknownPolicy = goerrors.New("unknown authorization policy", goerrors.CategoryBadInput).
	WithTextCode(textCodeUnknownPolicy).
	WithCode(goerrors.CodeBadRequest)

// ErrValidationFailed is returned when registration or password-change input
// does not satisfy the configured credential rules.
var ErrValidationFailed = goerrors.New("validation failed", goerrors.CategoryValidation).
	WithTextCode(textCodeValidationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrDuplicateRole is returned when a role name is already taken.
var ErrDuplicateRole = goerrors.New("role already exists", goerrors.CategoryConflict).
	WithTextCode(textCodeDuplicateRole).
	WithCode(goerrors.CodeConflict)

// ErrRoleNotFound is returned when a grant operation names an unknown role.
var ErrRoleNotFound = goerrors.New("role not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeRoleNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrSessionNotFound is returned by session stores when a reference does not
// resolve to a live record. Issuers fold it into ErrTokenRevoked.
var ErrSessionNotFound = goerrors.New("session not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeSessionNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrResetInvalid is returned when a password reset token is unknown,
// already used, or expired.
var ErrResetInvalid = goerrors.New("reset token is invalid", goerrors.CategoryAuth).
	WithTextCode(textCodeResetInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrImmutableClaimMutation signals that a claims decorator tried to rewrite
// a protected claim on a credential about to be signed.
var ErrImmutableClaimMutation = goerrors.New("immutable claim mutated", goerrors.CategoryInternal).
	WithTextCode(textCodeImmutableClaim).
	WithCode(goerrors.CodeInternal)

// Account status errors share the auth category; login surfaces them only
// after the password check so status probing costs a valid credential.
var (
	ErrAccountSuspended = goerrors.New("account is suspended", goerrors.CategoryAuth).
				WithTextCode(textCodeAccountSuspended).
				WithCode(goerrors.CodeUnauthorized)

	ErrAccountDisabled = goerrors.New("account is disabled", goerrors.CategoryAuth).
				WithTextCode(textCodeAccountDisabled).
				WithCode(goerrors.CodeUnauthorized)

	ErrAccountArchived = goerrors.New("account is archived", goerrors.CategoryAuth).
				WithTextCode(textCodeAccountArchived).
				WithCode(goerrors.CodeUnauthorized)

	ErrAccountPending = goerrors.New("account is pending activation", goerrors.CategoryAuth).
				WithTextCode(textCodeAccountPending).
				WithCode(goerrors.CodeUnauthorized)
)

// IsDuplicateIdentity reports whether err is the duplicate registration error.
func IsDuplicateIdentity(err error) bool {
	return errors.Is(err, ErrDuplicateIdentity)
}

// IsLockedOut reports whether err is the lockout rejection.
func IsLockedOut(err error) bool {
	return errors.Is(err, ErrLockedOut)
}

// IsCredentialRejection reports whether err is a user-visible login
// rejection: bad credentials or an active lockout.
func IsCredentialRejection(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrLockedOut)
}

// IsTokenRevoked reports whether err marks a revoked credential.
func IsTokenRevoked(err error) bool {
	return errors.Is(err, ErrTokenRevoked)
}

// IsTokenExpiredError will check for expired tokens, including errors
// bubbled up as plain text from the JWT layer.
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// statusAuthError maps a non-authenticatable account status to its error.
// Active accounts return nil.
func statusAuthError(status AccountStatus) error {
	switch status {
	case AccountStatusActive:
		return nil
	case AccountStatusPending:
		return ErrAccountPending
	case AccountStatusSuspended:
		return ErrAccountSuspended
	case AccountStatusDisabled:
		return ErrAccountDisabled
	case AccountStatusArchived:
		return ErrAccountArchived
	default:
		return goerrors.New("account has an unknown status", goerrors.CategoryAuth).
			WithMetadata(map[string]any{"status": string(status)})
	}
}
