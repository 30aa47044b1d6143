package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's primary role
type UserRole string

const (
	// RoleGuest is an guest role (ie. view)
	RoleGuest UserRole = "guest"
	// RoleMember us a member (i.e. view, edit)
	RoleMember UserRole = "member"
	// RoleAdmin is an admin role (i.e. view, edit, create)
	RoleAdmin UserRole = "admin"
	// RoleOwner is an admin role (i.e. view, edit, create, delete)
	RoleOwner UserRole = "owner"
)

// AccountStatus tracks where a user sits in the account lifecycle.
type AccountStatus string

const (
	AccountStatusPending   AccountStatus = "pending"
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusDisabled  AccountStatus = "disabled"
	AccountStatusArchived  AccountStatus = "archived"
)

// Claim is a typed fact about a principal. Claims follow set semantics: the
// same type may appear many times with different values, and the
// (owner, type, value) triple is what makes a grant unique.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Claim types the package itself emits when building principals.
const (
	ClaimTypeRole     = "role"
	ClaimTypeSubject  = "sub"
	ClaimTypeUsername = "username"
	ClaimTypeEmail    = "email"
)

// NormalizeClaimType lower-cases a claim type. Claim types compare
// case-insensitively; claim values stay case-sensitive.
func NormalizeClaimType(claimType string) string {
	return strings.ToLower(strings.TrimSpace(claimType))
}

// Matches reports whether two claims are the same grant.
func (c Claim) Matches(other Claim) bool {
	return NormalizeClaimType(c.Type) == NormalizeClaimType(other.Type) && c.Value == other.Value
}

// User is the user model
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role           UserRole       `bun:"user_role,notnull" json:"user_role,omitempty"`
	FirstName      string         `bun:"first_name" json:"first_name,omitempty"`
	LastName       string         `bun:"last_name" json:"last_name,omitempty"`
	Username       string         `bun:"username,notnull,unique" json:"username,omitempty"`
	Email          string         `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone          string         `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash   string         `bun:"password_hash" json:"-"`
	SecurityStamp  string         `bun:"security_stamp,notnull" json:"-"`
	EmailValidated bool           `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	FailedAttempts int            `bun:"failed_attempts" json:"failed_attempts,omitempty"`
	LastFailedAt   *time.Time     `bun:"last_failed_at,nullzero" json:"last_failed_at,omitempty"`
	LockoutEndsAt  *time.Time     `bun:"lockout_ends_at,nullzero" json:"lockout_ends_at,omitempty"`
	LoggedInAt     *time.Time     `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	Status         AccountStatus  `bun:"status,notnull" json:"status,omitempty"`
	SuspendedAt    *time.Time     `bun:"suspended_at,nullzero" json:"suspended_at,omitempty"`
	Metadata       map[string]any `bun:"metadata" json:"metadata,omitempty"`
	Roles          []*Role        `bun:"m2m:user_roles,join:User=Role" json:"roles,omitempty"`
	Claims         []*UserClaim   `bun:"rel:has-many,join:id=user_id" json:"claims,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// AddMetadata will append information to a metadata attribute
func (u *User) AddMetadata(key string, val any) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[key] = val
	return u
}

// EnsureStatus backfills the zero value so records created before the
// lifecycle column existed behave as active accounts.
func (u *User) EnsureStatus() {
	if u == nil {
		return
	}
	if u.Status == "" {
		u.Status = AccountStatusActive
	}
}

// EnsureSecurityStamp assigns a stamp to records that predate stamps.
func (u *User) EnsureSecurityStamp() {
	if u == nil {
		return
	}
	if u.SecurityStamp == "" {
		u.SecurityStamp = NewSecurityStamp()
	}
}

// IsLockedOut reports whether the account is inside a lockout window.
func (u *User) IsLockedOut(now time.Time) bool {
	if u == nil || u.LockoutEndsAt == nil {
		return false
	}
	return u.LockoutEndsAt.After(now)
}

// RoleNames returns the names of the user's assigned roles, when loaded.
func (u *User) RoleNames() []string {
	if u == nil || len(u.Roles) == 0 {
		return nil
	}
	names := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		if role != nil && role.Name != "" {
			names = append(names, role.Name)
		}
	}
	return names
}

// Role is a named grant bundle, many-to-many with users.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`
	ID            uuid.UUID    `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string       `bun:"name,notnull,unique" json:"name,omitempty"`
	Description   string       `bun:"description" json:"description,omitempty"`
	Claims        []*RoleClaim `bun:"rel:has-many,join:id=role_id" json:"claims,omitempty"`
	CreatedAt     *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time   `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time   `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// RoleAssignment joins users to roles. Membership is a set: assignment order
// carries no meaning.
type RoleAssignment struct {
	bun.BaseModel `bun:"table:user_roles,alias:usrrol"`
	UserID        uuid.UUID  `bun:"user_id,pk,type:uuid" json:"user_id,omitempty"`
	RoleID        uuid.UUID  `bun:"role_id,pk,type:uuid" json:"role_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Role          *Role      `bun:"rel:belongs-to,join:role_id=id" json:"role,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// UserClaim is a claim granted directly to a user.
type UserClaim struct {
	bun.BaseModel `bun:"table:user_claims,alias:uclm"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	ClaimType     string     `bun:"claim_type,notnull" json:"claim_type,omitempty"`
	ClaimValue    string     `bun:"claim_value,notnull" json:"claim_value,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Claim returns the value-object view of the row.
func (c *UserClaim) Claim() Claim {
	return Claim{Type: c.ClaimType, Value: c.ClaimValue}
}

// RoleClaim is a claim granted to every member of a role.
type RoleClaim struct {
	bun.BaseModel `bun:"table:role_claims,alias:rclm"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	RoleID        uuid.UUID  `bun:"role_id,notnull,type:uuid" json:"role_id,omitempty"`
	ClaimType     string     `bun:"claim_type,notnull" json:"claim_type,omitempty"`
	ClaimValue    string     `bun:"claim_value,notnull" json:"claim_value,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Claim returns the value-object view of the row.
func (c *RoleClaim) Claim() Claim {
	return Claim{Type: c.ClaimType, Value: c.ClaimValue}
}

// PasswordResetStep step on password reset
type PasswordResetStep = string

const (
	// ResetUnknown is the unknown status
	ResetUnknown PasswordResetStep = "unknown"
	// ResetInit is the initial step
	ResetInit PasswordResetStep = "show-reset"
	// AccountVerification notification sent
	AccountVerification PasswordResetStep = "email-sent"
	// ChangingPassword user will change password
	ChangingPassword PasswordResetStep = "change-password"
	// ChangeFinalized processing change
	ChangeFinalized PasswordResetStep = "password-changed"
)

const (
	// ResetUnknownStatus is the unknown status
	ResetUnknownStatus = "unknown"
	// ResetRequestedStatus is the requested status
	ResetRequestedStatus = "requested"
	// ResetExpiredStatus is the expired status
	ResetExpiredStatus = "expired"
	// ResetChangedStatus is the changed status
	ResetChangedStatus = "changed"
)

// PasswordReset tracks a single password recovery request. The token is the
// opaque value mailed out; once redeemed or past ExpiresAt the record is
// dead.
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_reset,alias:pwdr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        *uuid.UUID `bun:"user_id,notnull" json:"user_id,omitempty"`
	User          *User      `bun:"rel:has-one,join:user_id=id" json:"user,omitempty"`
	Token         string     `bun:"token,notnull,unique" json:"-"`
	Status        string     `bun:"status,notnull" json:"status,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	ExpiresAt     *time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
	ResetAt       *time.Time `bun:"reset_at,nullzero" json:"reset_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Expired reports whether the request is past its deadline at the given
// time. Records without a deadline never expire by time.
func (r *PasswordReset) Expired(now time.Time) bool {
	if r == nil || r.ExpiresAt == nil {
		return false
	}
	return !now.Before(*r.ExpiresAt)
}

// MarkPasswordAsReset returns the partial record that closes out a request.
func MarkPasswordAsReset(id uuid.UUID) *PasswordReset {
	r := &PasswordReset{}
	r.ID = id
	r.Status = ResetChangedStatus
	n := time.Now()
	r.ResetAt = &n
	return r
}
