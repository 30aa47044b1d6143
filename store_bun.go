package identity

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

var _ IdentityStore = (*BunIdentityStore)(nil)
var _ StampSource = (*BunIdentityStore)(nil)
var _ ResetStore = (*BunIdentityStore)(nil)

// BunIdentityStore adapts the bun repositories to the IdentityStore
// contract, translating repository errors into the package's domain errors.
type BunIdentityStore struct {
	users  Users
	grants Grants
	resets repository.Repository[*PasswordReset]
	now    func() time.Time
}

// NewBunIdentityStore builds the store over an existing repository manager.
func NewBunIdentityStore(manager RepositoryManager) *BunIdentityStore {
	return &BunIdentityStore{
		users:  manager.Users(),
		grants: manager.Grants(),
		resets: manager.PasswordResets(),
		now:    time.Now,
	}
}

// WithClock injects a custom clock (useful for tests).
func (s *BunIdentityStore) WithClock(clock func() time.Time) *BunIdentityStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Users exposes the underlying users repository for callers that need the
// richer transactional surface.
func (s *BunIdentityStore) Users() Users {
	return s.users
}

// Grants exposes the underlying grants repository.
func (s *BunIdentityStore) Grants() Grants {
	return s.grants
}

// CreateUser implements UserStore. The unique indexes on the normalized
// username and email enforce collisions at write time, so two racing
// registrations cannot both succeed.
func (s *BunIdentityStore) CreateUser(ctx context.Context, user *User) (*User, error) {
	created, err := s.users.Register(ctx, user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateIdentity.Clone()
		}
		return nil, wrapStoreError(err, "failed to create user")
	}
	return created, nil
}

// FindByID implements UserStore.
func (s *BunIdentityStore) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.users.GetByID(ctx, id.String())
	if err != nil {
		return nil, identityLookupError(err)
	}
	return user, nil
}

// FindByUsername implements UserStore.
func (s *BunIdentityStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, identityLookupError(err)
	}
	return user, nil
}

// FindByEmail implements UserStore.
func (s *BunIdentityStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, identityLookupError(err)
	}
	return user, nil
}

// UpdatePasswordHash implements UserStore.
func (s *BunIdentityStore) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) (*User, error) {
	user, err := s.users.RotatePasswordHash(ctx, id, hash)
	if err != nil {
		return nil, identityLookupError(err)
	}
	return user, nil
}

// UpdateStatus implements UserStore.
func (s *BunIdentityStore) UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*User, error) {
	user, err := s.users.UpdateStatus(ctx, id, status, opts...)
	if err != nil {
		return nil, identityLookupError(err)
	}
	return user, nil
}

// RecordFailedAccess implements UserStore.
func (s *BunIdentityStore) RecordFailedAccess(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.users.RecordFailedAccess(ctx, id)
	if err != nil {
		return nil, identityLookupError(err)
	}
	return user, nil
}

// ResetFailedAccess implements UserStore.
func (s *BunIdentityStore) ResetFailedAccess(ctx context.Context, id uuid.UUID) error {
	if err := s.users.ResetFailedAccess(ctx, id); err != nil {
		return identityLookupError(err)
	}
	return nil
}

// TrackSuccessfulLogin clears the lockout bookkeeping and stamps the login
// time in one write.
func (s *BunIdentityStore) TrackSuccessfulLogin(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.users.TrackSuccessfulLogin(ctx, id)
	if err != nil {
		return nil, identityLookupError(err)
	}
	return user, nil
}

// SecurityStamp implements StampSource.
func (s *BunIdentityStore) SecurityStamp(ctx context.Context, id uuid.UUID) (string, error) {
	stamp, err := s.users.SecurityStamp(ctx, id)
	if err != nil {
		return "", identityLookupError(err)
	}
	return stamp, nil
}

// SaveReset implements ResetStore.
func (s *BunIdentityStore) SaveReset(ctx context.Context, reset *PasswordReset) (*PasswordReset, error) {
	if reset == nil || reset.Token == "" {
		return nil, ErrNoEmptyString
	}
	if reset.Status == "" {
		reset.Status = ResetRequestedStatus
	}

	created, err := s.resets.Create(ctx, reset)
	if err != nil {
		return nil, wrapStoreError(err, "failed to persist password reset")
	}
	return created, nil
}

// FindReset implements ResetStore. Unknown tokens read as invalid.
func (s *BunIdentityStore) FindReset(ctx context.Context, token string) (*PasswordReset, error) {
	reset, err := s.resets.GetByIdentifier(ctx, token)
	if err != nil {
		if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
			return nil, ErrResetInvalid.Clone()
		}
		return nil, wrapStoreError(err, "reset lookup failed")
	}
	return reset, nil
}

// ConsumeReset implements ResetStore. The status predicate in the statement
// is what keeps a raced double redemption down to one winner.
func (s *BunIdentityStore) ConsumeReset(ctx context.Context, token string) error {
	now := s.now()
	res, err := s.resets.Raw(ctx, ConsumeResetSQL,
		ResetChangedStatus, now, now, token, ResetRequestedStatus)
	if err != nil {
		return wrapStoreError(err, "failed to consume password reset")
	}
	if len(res) == 0 {
		return ErrResetInvalid.Clone()
	}
	return nil
}

// CreateRole implements GrantStore.
func (s *BunIdentityStore) CreateRole(ctx context.Context, role *Role) (*Role, error) {
	created, err := s.grants.CreateRole(ctx, role)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateRole.Clone()
		}
		return nil, wrapStoreError(err, "failed to create role")
	}
	return created, nil
}

// DeleteRole implements GrantStore.
func (s *BunIdentityStore) DeleteRole(ctx context.Context, name string) error {
	if err := s.grants.DeleteRole(ctx, name); err != nil {
		return roleLookupError(err, name)
	}
	return nil
}

// FindRole implements GrantStore.
func (s *BunIdentityStore) FindRole(ctx context.Context, name string) (*Role, error) {
	role, err := s.grants.FindRole(ctx, name)
	if err != nil {
		return nil, roleLookupError(err, name)
	}
	return role, nil
}

// AssignRole implements GrantStore.
func (s *BunIdentityStore) AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	if err := s.grants.AssignRole(ctx, userID, roleName); err != nil {
		return roleLookupError(err, roleName)
	}
	return nil
}

// RemoveRole implements GrantStore.
func (s *BunIdentityStore) RemoveRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	if err := s.grants.RemoveRole(ctx, userID, roleName); err != nil {
		return roleLookupError(err, roleName)
	}
	return nil
}

// UserRoles implements GrantStore.
func (s *BunIdentityStore) UserRoles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	roles, err := s.grants.UserRoles(ctx, userID)
	if err != nil {
		return nil, wrapStoreError(err, "failed to list user roles")
	}
	return roles, nil
}

// AddUserClaim implements GrantStore.
func (s *BunIdentityStore) AddUserClaim(ctx context.Context, userID uuid.UUID, claim Claim) error {
	if err := s.grants.AddUserClaim(ctx, userID, claim); err != nil {
		return wrapStoreError(err, "failed to add user claim")
	}
	return nil
}

// RemoveUserClaim implements GrantStore.
func (s *BunIdentityStore) RemoveUserClaim(ctx context.Context, userID uuid.UUID, claim Claim) error {
	if err := s.grants.RemoveUserClaim(ctx, userID, claim); err != nil {
		return wrapStoreError(err, "failed to remove user claim")
	}
	return nil
}

// UserClaims implements GrantStore.
func (s *BunIdentityStore) UserClaims(ctx context.Context, userID uuid.UUID) ([]Claim, error) {
	claims, err := s.grants.UserClaims(ctx, userID)
	if err != nil {
		return nil, wrapStoreError(err, "failed to list user claims")
	}
	return claims, nil
}

// AddRoleClaim implements GrantStore.
func (s *BunIdentityStore) AddRoleClaim(ctx context.Context, roleName string, claim Claim) error {
	if err := s.grants.AddRoleClaim(ctx, roleName, claim); err != nil {
		return roleLookupError(err, roleName)
	}
	return nil
}

// RemoveRoleClaim implements GrantStore.
func (s *BunIdentityStore) RemoveRoleClaim(ctx context.Context, roleName string, claim Claim) error {
	if err := s.grants.RemoveRoleClaim(ctx, roleName, claim); err != nil {
		return roleLookupError(err, roleName)
	}
	return nil
}

// RoleClaims implements GrantStore.
func (s *BunIdentityStore) RoleClaims(ctx context.Context, roleName string) ([]Claim, error) {
	claims, err := s.grants.RoleClaims(ctx, roleName)
	if err != nil {
		return nil, roleLookupError(err, roleName)
	}
	return claims, nil
}

func identityLookupError(err error) error {
	if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
		return ErrIdentityNotFound.Clone()
	}
	return wrapStoreError(err, "identity store query failed")
}

func roleLookupError(err error, name string) error {
	if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
		return ErrRoleNotFound.Clone().
			WithMetadata(map[string]any{"role": name})
	}
	return wrapStoreError(err, "grant store query failed")
}

func wrapStoreError(err error, msg string) error {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}

// isUniqueViolation sniffs driver-level unique index failures. Postgres and
// SQLite spell them differently and neither driver exports a stable sentinel
// through database/sql.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
