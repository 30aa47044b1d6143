package identity

import (
	"sort"

	"github.com/google/uuid"
)

var _ Identity = (*Principal)(nil)

// Principal is the resolved identity of an authenticated caller, expressed
// as a set of claims plus the account attributes issuers need. A principal
// reflects store state at the moment it was built; once embedded in an
// issued credential the snapshot is intentionally frozen until expiry.
type Principal struct {
	SubjectID     string         `json:"subject_id,omitempty"`
	Name          string         `json:"username,omitempty"`
	EmailAddress  string         `json:"email,omitempty"`
	PrimaryRole   UserRole       `json:"primary_role,omitempty"`
	AccountState  AccountStatus  `json:"status,omitempty"`
	SecurityStamp string         `json:"-"`
	Claims        []Claim        `json:"claims,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ID implements Identity.
func (p *Principal) ID() string {
	return p.SubjectID
}

// Username implements Identity.
func (p *Principal) Username() string {
	return p.Name
}

// Email implements Identity.
func (p *Principal) Email() string {
	return p.EmailAddress
}

// Role implements Identity.
func (p *Principal) Role() string {
	return string(p.PrimaryRole)
}

// Status implements Identity.
func (p *Principal) Status() AccountStatus {
	if p.AccountState == "" {
		return AccountStatusActive
	}
	return p.AccountState
}

// UserUUID parses the subject id.
func (p *Principal) UserUUID() (uuid.UUID, error) {
	return uuid.Parse(p.SubjectID)
}

// AddClaim appends a claim, keeping set semantics on (type, value).
func (p *Principal) AddClaim(claim Claim) *Principal {
	if p.HasClaim(claim.Type, claim.Value) {
		return p
	}
	p.Claims = append(p.Claims, claim)
	return p
}

// HasClaim reports whether the principal carries a claim of the given type
// and exact value. Types compare case-insensitively, values do not.
func (p *Principal) HasClaim(claimType, value string) bool {
	normalized := NormalizeClaimType(claimType)
	for _, claim := range p.Claims {
		if NormalizeClaimType(claim.Type) == normalized && claim.Value == value {
			return true
		}
	}
	return false
}

// HasClaimType reports whether any claim of the given type exists,
// regardless of value.
func (p *Principal) HasClaimType(claimType string) bool {
	normalized := NormalizeClaimType(claimType)
	for _, claim := range p.Claims {
		if NormalizeClaimType(claim.Type) == normalized {
			return true
		}
	}
	return false
}

// ClaimValues returns every value held for a claim type, in claim order.
func (p *Principal) ClaimValues(claimType string) []string {
	normalized := NormalizeClaimType(claimType)
	var values []string
	for _, claim := range p.Claims {
		if NormalizeClaimType(claim.Type) == normalized {
			values = append(values, claim.Value)
		}
	}
	return values
}

// Roles lists the principal's role claim values.
func (p *Principal) Roles() []string {
	return p.ClaimValues(ClaimTypeRole)
}

// HasRole reports whether the principal carries the named role claim.
func (p *Principal) HasRole(role string) bool {
	return p.HasClaim(ClaimTypeRole, role)
}

// SortClaims orders the claim set by type then value so two principals
// built from the same store state compare equal.
func (p *Principal) SortClaims() *Principal {
	sort.SliceStable(p.Claims, func(i, j int) bool {
		ti, tj := NormalizeClaimType(p.Claims[i].Type), NormalizeClaimType(p.Claims[j].Type)
		if ti != tj {
			return ti < tj
		}
		return p.Claims[i].Value < p.Claims[j].Value
	})
	return p
}

// Clone returns a deep copy so decorators and issuers can work on a
// snapshot without mutating the caller's principal.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}

	clone := *p

	if len(p.Claims) > 0 {
		clone.Claims = make([]Claim, len(p.Claims))
		copy(clone.Claims, p.Claims)
	}

	if len(p.Metadata) > 0 {
		clone.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}
