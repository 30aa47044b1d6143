package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims represents structured JWT claims with enhanced permission checking
type AuthClaims interface {
	Subject() string
	UserID() string
	Role() string
	SecurityStamp() string
	ClaimSnapshot() []Claim
	CanRead(resource string) bool
	CanEdit(resource string) bool
	CanCreate(resource string) bool
	CanDelete(resource string) bool
	HasRole(role string) bool
	IsAtLeast(minRole string) bool
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims. The claim set and
// security stamp are frozen at signing time: later role or claim changes do
// not alter an outstanding token, and a stamp rotation is what revokes it.
type JWTClaims struct {
	jwt.RegisteredClaims
	UID       string            `json:"uid,omitempty"`
	UserRole  string            `json:"role,omitempty"`
	Stamp     string            `json:"stp,omitempty"`
	ClaimSet  []Claim           `json:"claims,omitempty"`
	Scopes    []string          `json:"scopes,omitempty"`
	Resources map[string]string `json:"res,omitempty"`      // resource -> role mapping
	Metadata  map[string]any    `json:"metadata,omitempty"` // extension payload
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Role returns the global role
func (c *JWTClaims) Role() string {
	return c.UserRole
}

// SecurityStamp returns the stamp frozen into the token at issuance.
func (c *JWTClaims) SecurityStamp() string {
	return c.Stamp
}

// ClaimSnapshot returns the claim set frozen into the token at issuance.
func (c *JWTClaims) ClaimSnapshot() []Claim {
	return c.ClaimSet
}

// CanRead checks if the user can read a specific resource
func (c *JWTClaims) CanRead(resource string) bool {
	if resourceRole, exists := c.Resources[resource]; exists {
		return UserRole(resourceRole).CanRead()
	}
	return UserRole(c.UserRole).CanRead()
}

// CanEdit checks if the user can edit a specific resource
func (c *JWTClaims) CanEdit(resource string) bool {
	if resourceRole, exists := c.Resources[resource]; exists {
		return UserRole(resourceRole).CanEdit()
	}
	return UserRole(c.UserRole).CanEdit()
}

// CanCreate checks if the user can create a specific resource
func (c *JWTClaims) CanCreate(resource string) bool {
	if resourceRole, exists := c.Resources[resource]; exists {
		return UserRole(resourceRole).CanCreate()
	}
	return UserRole(c.UserRole).CanCreate()
}

// CanDelete checks if the user can delete a specific resource
func (c *JWTClaims) CanDelete(resource string) bool {
	if resourceRole, exists := c.Resources[resource]; exists {
		return UserRole(resourceRole).CanDelete()
	}
	return UserRole(c.UserRole).CanDelete()
}

// ResourceRoles exposes resource-specific roles for optional context enrichment.
func (c *JWTClaims) ResourceRoles() map[string]string {
	return c.Resources
}

// ClaimsMetadata exposes metadata extensions for optional context enrichment.
func (c *JWTClaims) ClaimsMetadata() map[string]any {
	return c.Metadata
}

// HasRole checks if the user has a specific role, either the primary role,
// a role claim in the snapshot, or a resource-scoped role.
func (c *JWTClaims) HasRole(role string) bool {
	if c.UserRole == role {
		return true
	}
	for _, claim := range c.ClaimSet {
		if NormalizeClaimType(claim.Type) == ClaimTypeRole && claim.Value == role {
			return true
		}
	}
	for _, resourceRole := range c.Resources {
		if resourceRole == role {
			return true
		}
	}
	return false
}

// IsAtLeast checks if the user's role is at least the minimum required role
func (c *JWTClaims) IsAtLeast(minRole string) bool {
	return UserRole(c.UserRole).IsAtLeast(UserRole(minRole))
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// PrincipalFromClaims rebuilds the principal a token was issued for. The
// result carries the issuance-time snapshot, not current store state.
func PrincipalFromClaims(claims AuthClaims) *Principal {
	if claims == nil {
		return nil
	}

	principal := &Principal{
		SubjectID:     claims.UserID(),
		PrimaryRole:   UserRole(claims.Role()),
		SecurityStamp: claims.SecurityStamp(),
		AccountState:  AccountStatusActive,
	}

	for _, claim := range claims.ClaimSnapshot() {
		principal.AddClaim(claim)
		switch NormalizeClaimType(claim.Type) {
		case ClaimTypeUsername:
			if principal.Name == "" {
				principal.Name = claim.Value
			}
		case ClaimTypeEmail:
			if principal.EmailAddress == "" {
				principal.EmailAddress = claim.Value
			}
		}
	}

	if jwtClaims, ok := claims.(*JWTClaims); ok && len(jwtClaims.Metadata) > 0 {
		principal.Metadata = jwtClaims.Metadata
	}

	return principal
}
