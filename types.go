package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Identity holds the attributes of an authenticated identity
type Identity interface {
	ID() string
	Username() string
	Email() string
	Role() string
	Status() AccountStatus
}

// UserStore is the persistence contract for identities and their lockout
// bookkeeping. All writes are atomic per user: concurrent callers never
// observe a partially applied update.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// UpdatePasswordHash swaps the stored hash and rotates the security
	// stamp in the same write.
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) (*User, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*User, error)
	// RecordFailedAccess increments the failure counter and starts the
	// lockout window once the threshold is reached, as one atomic write.
	RecordFailedAccess(ctx context.Context, id uuid.UUID) (*User, error)
	ResetFailedAccess(ctx context.Context, id uuid.UUID) error
	SecurityStamp(ctx context.Context, id uuid.UUID) (string, error)
}

// GrantStore is the read/write surface for role and claim grants.
type GrantStore interface {
	CreateRole(ctx context.Context, role *Role) (*Role, error)
	DeleteRole(ctx context.Context, name string) error
	FindRole(ctx context.Context, name string) (*Role, error)

	AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error
	RemoveRole(ctx context.Context, userID uuid.UUID, roleName string) error
	UserRoles(ctx context.Context, userID uuid.UUID) ([]string, error)

	AddUserClaim(ctx context.Context, userID uuid.UUID, claim Claim) error
	RemoveUserClaim(ctx context.Context, userID uuid.UUID, claim Claim) error
	UserClaims(ctx context.Context, userID uuid.UUID) ([]Claim, error)

	AddRoleClaim(ctx context.Context, roleName string, claim Claim) error
	RemoveRoleClaim(ctx context.Context, roleName string, claim Claim) error
	RoleClaims(ctx context.Context, roleName string) ([]Claim, error)
}

// IdentityStore is the full storage contract the account manager and the
// principal builder depend on.
type IdentityStore interface {
	UserStore
	GrantStore
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
	// NeedsRehash reports whether a stored hash was produced with an
	// outdated cost and should be regenerated on next successful login.
	NeedsRehash(hash string) bool
}

// PrincipalBuilder assembles the claim set for a stored user. The result
// reflects store state at call time; snapshots only become stale once they
// are embedded in an issued credential.
type PrincipalBuilder interface {
	Build(ctx context.Context, user *User) (*Principal, error)
}

// CredentialKind tags which issuer produced a credential.
type CredentialKind string

const (
	CredentialToken   CredentialKind = "token"
	CredentialSession CredentialKind = "session"
)

// Credential is an issued bearer credential: a signed token or an opaque
// session reference. Immutable once issued.
type Credential struct {
	Value     string         `json:"value"`
	Kind      CredentialKind `json:"kind"`
	IssuedAt  time.Time      `json:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// CredentialIssuer converts a verified principal into a bearer credential
// and resolves presented credentials back into principals.
type CredentialIssuer interface {
	Issue(ctx context.Context, principal *Principal) (*Credential, error)
	Validate(ctx context.Context, raw string) (*Principal, error)
	Revoke(ctx context.Context, raw string) error
}

// SessionStore persists server-side session records keyed by their opaque
// reference. Save and Delete are atomic per reference.
type SessionStore interface {
	Save(ctx context.Context, record *SessionRecord) error
	Find(ctx context.Context, ref string) (*SessionRecord, error)
	Delete(ctx context.Context, ref string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// ResetStore persists one-time password recovery requests keyed by their
// opaque token. Unknown tokens read as invalid so callers cannot probe which
// tokens exist.
type ResetStore interface {
	SaveReset(ctx context.Context, reset *PasswordReset) (*PasswordReset, error)
	FindReset(ctx context.Context, token string) (*PasswordReset, error)
	// ConsumeReset marks the request redeemed. Consuming twice fails.
	ConsumeReset(ctx context.Context, token string) error
}

// Denylist remembers revoked stateless credentials until they would have
// expired anyway. Entries are keyed by subject and security stamp so one
// revocation covers every token of that credential generation.
type Denylist interface {
	Revoke(ctx context.Context, subject, stamp string, ttl time.Duration) error
	IsRevoked(ctx context.Context, subject, stamp string) (bool, error)
}

// StampSource resolves a subject's current security stamp. Token validation
// cross-checks the embedded stamp against it so password changes invalidate
// outstanding tokens.
type StampSource interface {
	SecurityStamp(ctx context.Context, id uuid.UUID) (string, error)
}

// Evaluator decides named policies against a principal and an optional
// target resource. Evaluation is pure: no side effects, safe for unlimited
// concurrency.
type Evaluator interface {
	Evaluate(ctx context.Context, policyName string, principal *Principal, resource any) (Decision, error)
}

// Config holds identity core options
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetTokenExpiration() int
	GetExtendedTokenDuration() int
	GetSessionDuration() int
	GetIssuer() string
	GetAudience() []string
	GetMaxLoginAttempts() int
	GetLockoutDuration() int
	GetBcryptCost() int
	GetPasswordMinLength() int
	GetResetTokenDuration() int
}
