package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Grants is the persistence surface for roles, role membership, and claims.
// Claim types are normalized to lower case on write so lookups never depend
// on caller casing.
type Grants interface {
	CreateRole(ctx context.Context, role *Role) (*Role, error)
	CreateRoleTx(ctx context.Context, tx bun.IDB, role *Role) (*Role, error)
	DeleteRole(ctx context.Context, name string) error
	DeleteRoleTx(ctx context.Context, tx bun.IDB, name string) error
	FindRole(ctx context.Context, name string) (*Role, error)
	FindRoleTx(ctx context.Context, tx bun.IDB, name string) (*Role, error)

	AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error
	AssignRoleTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleName string) error
	RemoveRole(ctx context.Context, userID uuid.UUID, roleName string) error
	RemoveRoleTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleName string) error
	UserRoles(ctx context.Context, userID uuid.UUID) ([]string, error)

	AddUserClaim(ctx context.Context, userID uuid.UUID, claim Claim) error
	AddUserClaimTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, claim Claim) error
	RemoveUserClaim(ctx context.Context, userID uuid.UUID, claim Claim) error
	UserClaims(ctx context.Context, userID uuid.UUID) ([]Claim, error)

	AddRoleClaim(ctx context.Context, roleName string, claim Claim) error
	AddRoleClaimTx(ctx context.Context, tx bun.IDB, roleName string, claim Claim) error
	RemoveRoleClaim(ctx context.Context, roleName string, claim Claim) error
	RoleClaims(ctx context.Context, roleName string) ([]Claim, error)
}

type grants struct {
	roles repository.Repository[*Role]
	db    *bun.DB
}

var _ Grants = (*grants)(nil)

// NewGrantsRepository builds the grants repository over the given database.
func NewGrantsRepository(db *bun.DB) Grants {
	roles := repository.NewRepository[*Role](db, repository.ModelHandlers[*Role]{
		NewRecord: func() *Role { return &Role{} },
		GetID: func(r *Role) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *Role, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
	})

	return &grants{
		roles: roles,
		db:    db,
	}
}

func (g *grants) CreateRole(ctx context.Context, role *Role) (*Role, error) {
	return g.CreateRoleTx(ctx, g.db, role)
}

func (g *grants) CreateRoleTx(ctx context.Context, tx bun.IDB, role *Role) (*Role, error) {
	if role != nil && role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	return g.roles.CreateTx(ctx, tx, role)
}

func (g *grants) DeleteRole(ctx context.Context, name string) error {
	return g.DeleteRoleTx(ctx, g.db, name)
}

// DeleteRoleTx removes the role, its memberships, and its claims. Run inside
// a transaction when partial deletion matters.
func (g *grants) DeleteRoleTx(ctx context.Context, tx bun.IDB, name string) error {
	role, err := g.FindRoleTx(ctx, tx, name)
	if err != nil {
		return err
	}

	if _, err := tx.NewDelete().
		Model((*RoleAssignment)(nil)).
		Where("role_id = ?", role.ID.String()).
		Exec(ctx); err != nil {
		return err
	}

	if _, err := tx.NewDelete().
		Model((*RoleClaim)(nil)).
		Where("role_id = ?", role.ID.String()).
		Exec(ctx); err != nil {
		return err
	}

	_, err = tx.NewDelete().
		Model((*Role)(nil)).
		Where("?TableAlias.id = ?", role.ID.String()).
		Exec(ctx)
	return err
}

func (g *grants) FindRole(ctx context.Context, name string) (*Role, error) {
	return g.FindRoleTx(ctx, g.db, name)
}

func (g *grants) FindRoleTx(ctx context.Context, tx bun.IDB, name string) (*Role, error) {
	return g.roles.GetByIdentifierTx(ctx, tx, name)
}

func (g *grants) AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	return g.AssignRoleTx(ctx, g.db, userID, roleName)
}

// AssignRoleTx is idempotent: membership is a set, so re-assigning is a
// no-op at the database level.
func (g *grants) AssignRoleTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleName string) error {
	role, err := g.FindRoleTx(ctx, tx, roleName)
	if err != nil {
		return err
	}

	assignment := &RoleAssignment{
		UserID: userID,
		RoleID: role.ID,
	}

	_, err = tx.NewInsert().
		Model(assignment).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

func (g *grants) RemoveRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	return g.RemoveRoleTx(ctx, g.db, userID, roleName)
}

func (g *grants) RemoveRoleTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleName string) error {
	role, err := g.FindRoleTx(ctx, tx, roleName)
	if err != nil {
		return err
	}

	_, err = tx.NewDelete().
		Model((*RoleAssignment)(nil)).
		Where("user_id = ?", userID.String()).
		Where("role_id = ?", role.ID.String()).
		Exec(ctx)
	return err
}

// UserRoles lists the user's role names in sorted order.
func (g *grants) UserRoles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	var names []string
	err := g.db.NewSelect().
		ColumnExpr("rol.name").
		TableExpr("user_roles AS usrrol").
		Join("JOIN roles AS rol ON rol.id = usrrol.role_id AND rol.deleted_at IS NULL").
		Where("usrrol.user_id = ?", userID.String()).
		OrderExpr("rol.name ASC").
		Scan(ctx, &names)
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (g *grants) AddUserClaim(ctx context.Context, userID uuid.UUID, claim Claim) error {
	return g.AddUserClaimTx(ctx, g.db, userID, claim)
}

func (g *grants) AddUserClaimTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, claim Claim) error {
	record := &UserClaim{
		ID:         uuid.New(),
		UserID:     userID,
		ClaimType:  NormalizeClaimType(claim.Type),
		ClaimValue: claim.Value,
	}

	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

func (g *grants) RemoveUserClaim(ctx context.Context, userID uuid.UUID, claim Claim) error {
	_, err := g.db.NewDelete().
		Model((*UserClaim)(nil)).
		Where("user_id = ?", userID.String()).
		Where("claim_type = ?", NormalizeClaimType(claim.Type)).
		Where("claim_value = ?", claim.Value).
		Exec(ctx)
	return err
}

// UserClaims lists claims granted directly to the user, sorted by type then
// value.
func (g *grants) UserClaims(ctx context.Context, userID uuid.UUID) ([]Claim, error) {
	var records []UserClaim
	err := g.db.NewSelect().
		Model(&records).
		Where("user_id = ?", userID.String()).
		OrderExpr("claim_type ASC, claim_value ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	claims := make([]Claim, 0, len(records))
	for _, record := range records {
		claims = append(claims, record.Claim())
	}
	return claims, nil
}

func (g *grants) AddRoleClaim(ctx context.Context, roleName string, claim Claim) error {
	return g.AddRoleClaimTx(ctx, g.db, roleName, claim)
}

func (g *grants) AddRoleClaimTx(ctx context.Context, tx bun.IDB, roleName string, claim Claim) error {
	role, err := g.FindRoleTx(ctx, tx, roleName)
	if err != nil {
		return err
	}

	record := &RoleClaim{
		ID:         uuid.New(),
		RoleID:     role.ID,
		ClaimType:  NormalizeClaimType(claim.Type),
		ClaimValue: claim.Value,
	}

	_, err = tx.NewInsert().
		Model(record).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

func (g *grants) RemoveRoleClaim(ctx context.Context, roleName string, claim Claim) error {
	role, err := g.FindRole(ctx, roleName)
	if err != nil {
		return err
	}

	_, err = g.db.NewDelete().
		Model((*RoleClaim)(nil)).
		Where("role_id = ?", role.ID.String()).
		Where("claim_type = ?", NormalizeClaimType(claim.Type)).
		Where("claim_value = ?", claim.Value).
		Exec(ctx)
	return err
}

// RoleClaims lists claims granted to the role, sorted by type then value.
func (g *grants) RoleClaims(ctx context.Context, roleName string) ([]Claim, error) {
	role, err := g.FindRole(ctx, roleName)
	if err != nil {
		return nil, err
	}

	var records []RoleClaim
	err = g.db.NewSelect().
		Model(&records).
		Where("role_id = ?", role.ID.String()).
		OrderExpr("claim_type ASC, claim_value ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	claims := make([]Claim, 0, len(records))
	for _, record := range records {
		claims = append(claims, record.Claim())
	}
	return claims, nil
}
