package identity

import (
	"context"
	"sort"

	goerrors "github.com/goliatone/go-errors"
)

// ClaimsPrincipalBuilder assembles the claim set for a stored user: one role
// claim per assigned role, claims inherited from those roles, the user's own
// claims, and the fixed identity claims. Output is deterministic for a given
// store state; nothing is cached between calls.
type ClaimsPrincipalBuilder struct {
	store             GrantStore
	includeRoleClaims bool
	logger            Logger
	provider          LoggerProvider
}

var _ PrincipalBuilder = (*ClaimsPrincipalBuilder)(nil)

// NewPrincipalBuilder will create a builder backed by the given grant store.
func NewPrincipalBuilder(store GrantStore) *ClaimsPrincipalBuilder {
	provider, logger := ResolveLogger("identity.principal_builder", nil, nil)
	return &ClaimsPrincipalBuilder{
		store:             store,
		includeRoleClaims: true,
		logger:            logger,
		provider:          provider,
	}
}

// WithLogger overrides the builder logger.
func (b *ClaimsPrincipalBuilder) WithLogger(logger Logger) *ClaimsPrincipalBuilder {
	b.provider, b.logger = ResolveLogger("identity.principal_builder", b.provider, logger)
	return b
}

// WithLoggerProvider overrides the logger provider used by the builder.
func (b *ClaimsPrincipalBuilder) WithLoggerProvider(provider LoggerProvider) *ClaimsPrincipalBuilder {
	b.provider, b.logger = ResolveLogger("identity.principal_builder", provider, b.logger)
	return b
}

// WithoutRoleClaims leaves claims granted to roles out of built principals,
// keeping only the role membership claims themselves.
func (b *ClaimsPrincipalBuilder) WithoutRoleClaims() *ClaimsPrincipalBuilder {
	b.includeRoleClaims = false
	return b
}

// Build resolves the user's current roles and claims into a principal.
func (b *ClaimsPrincipalBuilder) Build(ctx context.Context, user *User) (*Principal, error) {
	if user == nil {
		return nil, goerrors.New("cannot build principal for nil user", goerrors.CategoryBadInput)
	}

	user.EnsureStatus()

	principal := &Principal{
		SubjectID:     user.ID.String(),
		Name:          user.Username,
		EmailAddress:  user.Email,
		PrimaryRole:   user.Role,
		AccountState:  user.Status,
		SecurityStamp: user.SecurityStamp,
	}

	principal.AddClaim(Claim{Type: ClaimTypeSubject, Value: user.ID.String()})
	if user.Username != "" {
		principal.AddClaim(Claim{Type: ClaimTypeUsername, Value: user.Username})
	}
	if user.Email != "" {
		principal.AddClaim(Claim{Type: ClaimTypeEmail, Value: user.Email})
	}

	roles, err := b.store.UserRoles(ctx, user.ID)
	if err != nil {
		b.logger.Error("principal builder failed to load roles", "error", err, "user_id", user.ID.String())
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user roles")
	}

	sort.Strings(roles)
	for _, role := range roles {
		principal.AddClaim(Claim{Type: ClaimTypeRole, Value: role})
	}

	if b.includeRoleClaims {
		for _, role := range roles {
			claims, err := b.store.RoleClaims(ctx, role)
			if err != nil {
				b.logger.Error("principal builder failed to load role claims", "error", err, "role", role)
				return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load role claims")
			}
			for _, claim := range claims {
				principal.AddClaim(claim)
			}
		}
	}

	userClaims, err := b.store.UserClaims(ctx, user.ID)
	if err != nil {
		b.logger.Error("principal builder failed to load user claims", "error", err, "user_id", user.ID.String())
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user claims")
	}
	for _, claim := range userClaims {
		principal.AddClaim(claim)
	}

	return principal.SortClaims(), nil
}
