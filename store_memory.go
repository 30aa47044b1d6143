package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ IdentityStore = (*MemoryIdentityStore)(nil)
var _ StampSource = (*MemoryIdentityStore)(nil)
var _ ResetStore = (*MemoryIdentityStore)(nil)

// MemoryIdentityStore implements IdentityStore in process memory. One mutex
// guards every map, so each operation is atomic: readers never see a user
// with a swapped hash but a stale stamp. Meant for tests and single-node
// tools; production setups use the bun-backed repositories.
type MemoryIdentityStore struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*User
	byUsername  map[string]uuid.UUID
	byEmail     map[string]uuid.UUID
	roles       map[string]*Role
	memberships map[uuid.UUID]map[string]struct{}
	userClaims  map[uuid.UUID][]Claim
	roleClaims  map[string][]Claim
	resets      map[string]*PasswordReset

	maxAttempts   int
	lockoutWindow time.Duration
	clock         func() time.Time
}

// NewMemoryIdentityStore builds an empty store. maxAttempts is the failure
// count that triggers a lockout; window is how long the lockout lasts.
func NewMemoryIdentityStore(maxAttempts int, window time.Duration) *MemoryIdentityStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}
	if window <= 0 {
		window = DefaultLockoutWindow
	}
	return &MemoryIdentityStore{
		users:         make(map[uuid.UUID]*User),
		byUsername:    make(map[string]uuid.UUID),
		byEmail:       make(map[string]uuid.UUID),
		roles:         make(map[string]*Role),
		memberships:   make(map[uuid.UUID]map[string]struct{}),
		userClaims:    make(map[uuid.UUID][]Claim),
		roleClaims:    make(map[string][]Claim),
		resets:        make(map[string]*PasswordReset),
		maxAttempts:   maxAttempts,
		lockoutWindow: window,
		clock:         time.Now,
	}
}

// WithClock overrides the time source, mostly for tests.
func (s *MemoryIdentityStore) WithClock(clock func() time.Time) *MemoryIdentityStore {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// CreateUser implements UserStore. Collisions are checked against the
// normalized username and email in the same critical section as the insert.
func (s *MemoryIdentityStore) CreateUser(_ context.Context, user *User) (*User, error) {
	if user == nil {
		return nil, ErrNoEmptyString
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := copyUser(user)
	prepareIdentityDefaults(record)

	username := NormalizeUsername(record.Username)
	email := NormalizeEmail(record.Email)

	if _, taken := s.byUsername[username]; taken {
		return nil, ErrDuplicateIdentity.Clone().
			WithMetadata(map[string]any{"field": "username"})
	}
	if _, taken := s.byEmail[email]; taken {
		return nil, ErrDuplicateIdentity.Clone().
			WithMetadata(map[string]any{"field": "email"})
	}
	if _, taken := s.users[record.ID]; taken {
		return nil, ErrDuplicateIdentity.Clone().
			WithMetadata(map[string]any{"field": "id"})
	}

	s.users[record.ID] = record
	s.byUsername[username] = record.ID
	s.byEmail[email] = record.ID
	return copyUser(record), nil
}

// FindByID implements UserStore.
func (s *MemoryIdentityStore) FindByID(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(id)
}

// FindByUsername implements UserStore. The lookup is normalized, so mixed
// case input still resolves.
func (s *MemoryIdentityStore) FindByUsername(_ context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[NormalizeUsername(username)]
	if !ok {
		return nil, ErrIdentityNotFound.Clone()
	}
	return s.findLocked(id)
}

// FindByEmail implements UserStore.
func (s *MemoryIdentityStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrIdentityNotFound.Clone()
	}
	return s.findLocked(id)
}

// UpdatePasswordHash implements UserStore. The stamp rotates in the same
// write so there is no moment where the new hash coexists with the old
// credential generation.
func (s *MemoryIdentityStore) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrIdentityNotFound.Clone()
	}

	user.PasswordHash = hash
	user.SecurityStamp = NewSecurityStamp()
	s.touch(user)
	return copyUser(user), nil
}

// UpdateStatus implements UserStore.
func (s *MemoryIdentityStore) UpdateStatus(_ context.Context, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrIdentityNotFound.Clone()
	}

	user.Status = status
	for _, opt := range opts {
		if opt != nil {
			opt(user)
		}
	}
	s.touch(user)
	return copyUser(user), nil
}

// RecordFailedAccess implements UserStore. Reaching the threshold opens the
// lockout window and zeroes the counter, all under the store mutex.
func (s *MemoryIdentityStore) RecordFailedAccess(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrIdentityNotFound.Clone()
	}

	now := s.clock()
	user.FailedAttempts++
	user.LastFailedAt = &now

	if user.FailedAttempts >= s.maxAttempts {
		ends := now.Add(s.lockoutWindow)
		user.LockoutEndsAt = &ends
		user.FailedAttempts = 0
	}

	s.touch(user)
	return copyUser(user), nil
}

// ResetFailedAccess implements UserStore.
func (s *MemoryIdentityStore) ResetFailedAccess(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrIdentityNotFound.Clone()
	}

	user.FailedAttempts = 0
	user.LastFailedAt = nil
	user.LockoutEndsAt = nil
	s.touch(user)
	return nil
}

// TrackSuccessfulLogin clears the lockout bookkeeping and stamps the login
// time in one write.
func (s *MemoryIdentityStore) TrackSuccessfulLogin(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrIdentityNotFound.Clone()
	}

	now := s.clock()
	user.FailedAttempts = 0
	user.LastFailedAt = nil
	user.LockoutEndsAt = nil
	user.LoggedInAt = &now
	s.touch(user)
	return copyUser(user), nil
}

// SecurityStamp implements StampSource.
func (s *MemoryIdentityStore) SecurityStamp(_ context.Context, id uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return "", ErrIdentityNotFound.Clone()
	}
	return user.SecurityStamp, nil
}

// SaveReset implements ResetStore.
func (s *MemoryIdentityStore) SaveReset(_ context.Context, reset *PasswordReset) (*PasswordReset, error) {
	if reset == nil || reset.Token == "" {
		return nil, ErrNoEmptyString
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := *reset
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = ResetRequestedStatus
	}
	s.resets[record.Token] = &record

	stored := record
	return &stored, nil
}

// FindReset implements ResetStore.
func (s *MemoryIdentityStore) FindReset(_ context.Context, token string) (*PasswordReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.resets[token]
	if !ok {
		return nil, ErrResetInvalid.Clone()
	}
	found := *record
	return &found, nil
}

// ConsumeReset implements ResetStore. Redeeming an already redeemed or
// unknown token fails, which is what makes the tokens one-time.
func (s *MemoryIdentityStore) ConsumeReset(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.resets[token]
	if !ok || record.Status != ResetRequestedStatus {
		return ErrResetInvalid.Clone()
	}

	now := s.clock()
	record.Status = ResetChangedStatus
	record.ResetAt = &now
	return nil
}

// CreateRole implements GrantStore.
func (s *MemoryIdentityStore) CreateRole(_ context.Context, role *Role) (*Role, error) {
	if role == nil || role.Name == "" {
		return nil, ErrNoEmptyString
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.roles[role.Name]; taken {
		return nil, ErrDuplicateRole.Clone().
			WithMetadata(map[string]any{"role": role.Name})
	}

	record := *role
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	s.roles[record.Name] = &record

	stored := record
	return &stored, nil
}

// DeleteRole implements GrantStore, cascading over memberships and role
// claims.
func (s *MemoryIdentityStore) DeleteRole(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[name]; !ok {
		return ErrRoleNotFound.Clone().
			WithMetadata(map[string]any{"role": name})
	}

	delete(s.roles, name)
	delete(s.roleClaims, name)
	for _, members := range s.memberships {
		delete(members, name)
	}
	return nil
}

// FindRole implements GrantStore.
func (s *MemoryIdentityStore) FindRole(_ context.Context, name string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[name]
	if !ok {
		return nil, ErrRoleNotFound.Clone().
			WithMetadata(map[string]any{"role": name})
	}
	found := *role
	return &found, nil
}

// AssignRole implements GrantStore. Membership is a set; assigning twice is
// a no-op.
func (s *MemoryIdentityStore) AssignRole(_ context.Context, userID uuid.UUID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return ErrIdentityNotFound.Clone()
	}
	if _, ok := s.roles[roleName]; !ok {
		return ErrRoleNotFound.Clone().
			WithMetadata(map[string]any{"role": roleName})
	}

	members, ok := s.memberships[userID]
	if !ok {
		members = make(map[string]struct{})
		s.memberships[userID] = members
	}
	members[roleName] = struct{}{}
	return nil
}

// RemoveRole implements GrantStore. Removing an unassigned role is a no-op.
func (s *MemoryIdentityStore) RemoveRole(_ context.Context, userID uuid.UUID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return ErrIdentityNotFound.Clone()
	}
	delete(s.memberships[userID], roleName)
	return nil
}

// UserRoles implements GrantStore, returning sorted role names.
func (s *MemoryIdentityStore) UserRoles(_ context.Context, userID uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, ErrIdentityNotFound.Clone()
	}

	names := make([]string, 0, len(s.memberships[userID]))
	for name := range s.memberships[userID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// AddUserClaim implements GrantStore with set semantics.
func (s *MemoryIdentityStore) AddUserClaim(_ context.Context, userID uuid.UUID, claim Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return ErrIdentityNotFound.Clone()
	}

	for _, existing := range s.userClaims[userID] {
		if existing.Matches(claim) {
			return nil
		}
	}
	s.userClaims[userID] = append(s.userClaims[userID], claim)
	return nil
}

// RemoveUserClaim implements GrantStore.
func (s *MemoryIdentityStore) RemoveUserClaim(_ context.Context, userID uuid.UUID, claim Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return ErrIdentityNotFound.Clone()
	}

	claims := s.userClaims[userID]
	for i, existing := range claims {
		if existing.Matches(claim) {
			s.userClaims[userID] = append(claims[:i], claims[i+1:]...)
			return nil
		}
	}
	return nil
}

// UserClaims implements GrantStore, returning claims sorted by type then
// value.
func (s *MemoryIdentityStore) UserClaims(_ context.Context, userID uuid.UUID) ([]Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, ErrIdentityNotFound.Clone()
	}
	return sortedClaims(s.userClaims[userID]), nil
}

// AddRoleClaim implements GrantStore with set semantics.
func (s *MemoryIdentityStore) AddRoleClaim(_ context.Context, roleName string, claim Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[roleName]; !ok {
		return ErrRoleNotFound.Clone().
			WithMetadata(map[string]any{"role": roleName})
	}

	for _, existing := range s.roleClaims[roleName] {
		if existing.Matches(claim) {
			return nil
		}
	}
	s.roleClaims[roleName] = append(s.roleClaims[roleName], claim)
	return nil
}

// RemoveRoleClaim implements GrantStore.
func (s *MemoryIdentityStore) RemoveRoleClaim(_ context.Context, roleName string, claim Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[roleName]; !ok {
		return ErrRoleNotFound.Clone().
			WithMetadata(map[string]any{"role": roleName})
	}

	claims := s.roleClaims[roleName]
	for i, existing := range claims {
		if existing.Matches(claim) {
			s.roleClaims[roleName] = append(claims[:i], claims[i+1:]...)
			return nil
		}
	}
	return nil
}

// RoleClaims implements GrantStore.
func (s *MemoryIdentityStore) RoleClaims(_ context.Context, roleName string) ([]Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[roleName]; !ok {
		return nil, ErrRoleNotFound.Clone().
			WithMetadata(map[string]any{"role": roleName})
	}
	return sortedClaims(s.roleClaims[roleName]), nil
}

func (s *MemoryIdentityStore) findLocked(id uuid.UUID) (*User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, ErrIdentityNotFound.Clone()
	}
	return copyUser(user), nil
}

func (s *MemoryIdentityStore) touch(user *User) {
	now := s.clock()
	user.UpdatedAt = &now
}

// prepareIdentityDefaults backfills identifiers and lifecycle fields on a
// record about to be inserted.
func prepareIdentityDefaults(record *User) {
	if record == nil {
		return
	}
	if record.Role == "" {
		record.Role = RoleGuest
	}
	record.EnsureStatus()
	record.EnsureSecurityStamp()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

// copyUser returns a shallow copy with its own pointer fields, so callers
// can mutate the result without reaching into the store.
func copyUser(user *User) *User {
	if user == nil {
		return nil
	}

	clone := *user
	clone.LastFailedAt = copyTime(user.LastFailedAt)
	clone.LockoutEndsAt = copyTime(user.LockoutEndsAt)
	clone.LoggedInAt = copyTime(user.LoggedInAt)
	clone.SuspendedAt = copyTime(user.SuspendedAt)
	clone.CreatedAt = copyTime(user.CreatedAt)
	clone.UpdatedAt = copyTime(user.UpdatedAt)
	clone.DeletedAt = copyTime(user.DeletedAt)

	if user.Metadata != nil {
		clone.Metadata = make(map[string]any, len(user.Metadata))
		for k, v := range user.Metadata {
			clone.Metadata[k] = v
		}
	}
	if user.Roles != nil {
		clone.Roles = append([]*Role(nil), user.Roles...)
	}
	if user.Claims != nil {
		clone.Claims = append([]*UserClaim(nil), user.Claims...)
	}
	return &clone
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

func sortedClaims(claims []Claim) []Claim {
	out := append([]Claim(nil), claims...)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := NormalizeClaimType(out[i].Type), NormalizeClaimType(out[j].Type)
		if ti != tj {
			return ti < tj
		}
		return out[i].Value < out[j].Value
	})
	return out
}
