package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RecordFailedAccessSQL bumps the failure counter and, when the incoming
// failure reaches the threshold, opens the lockout window and zeroes the
// counter. One statement, so concurrent failures can never skip the lockout.
var RecordFailedAccessSQL = `UPDATE "users" AS "usr"
SET
	"failed_attempts" = CASE WHEN "usr"."failed_attempts" + 1 >= ? THEN 0 ELSE "usr"."failed_attempts" + 1 END,
	"lockout_ends_at" = CASE WHEN "usr"."failed_attempts" + 1 >= ? THEN ? ELSE "usr"."lockout_ends_at" END,
	"last_failed_at" = ?,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

// RotatePasswordHashSQL swaps the stored hash and the security stamp in the
// same write; there is no moment where the new hash coexists with the old
// credential generation.
var RotatePasswordHashSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"security_stamp" = ?,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

// ResetUserPasswordSQL closes out a recovery flow: new hash, fresh stamp,
// and the email is implicitly verified by having received the token.
var ResetUserPasswordSQL = `UPDATE "users" AS "usr"
SET
	"is_email_verified" = TRUE,
	"password_hash" = ?,
	"security_stamp" = ?,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

// ResetFailedAccessSQL clears lockout bookkeeping after a successful login.
var ResetFailedAccessSQL = `UPDATE "users" AS "usr"
SET
	"failed_attempts" = 0,
	"last_failed_at" = NULL,
	"lockout_ends_at" = NULL,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
);`

// TrackSuccessfulLoginSQL stamps loggedin_at and clears lockout bookkeeping
// in one statement.
var TrackSuccessfulLoginSQL = `UPDATE "users" AS "usr"
SET
	"loggedin_at" = ?,
	"failed_attempts" = 0,
	"last_failed_at" = NULL,
	"lockout_ends_at" = NULL,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

type Users interface {
	repository.Repository[*User]

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetOrCreate(ctx context.Context, record *User) (*User, error)
	GetOrCreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)

	RecordFailedAccess(ctx context.Context, id uuid.UUID) (*User, error)
	RecordFailedAccessTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	ResetFailedAccess(ctx context.Context, id uuid.UUID) error
	ResetFailedAccessTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	TrackSuccessfulLogin(ctx context.Context, id uuid.UUID) (*User, error)
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)

	RotatePasswordHash(ctx context.Context, id uuid.UUID, hash string) (*User, error)
	RotatePasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, hash string) (*User, error)
	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error

	UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*User, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*User, error)
	Suspend(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error)
	Reinstate(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error)

	SecurityStamp(ctx context.Context, id uuid.UUID) (string, error)
}

type users struct {
	repository.Repository[*User]
	db                  *bun.DB
	maxAttempts         int
	lockoutWindow       time.Duration
	now                 func() time.Time
	stateMachine        UserStateMachine
	stateMachineOptions []StateMachineOption
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

type UsersOption func(*users)

func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	repoUsers := &users{
		Repository:    repo,
		db:            db,
		maxAttempts:   DefaultMaxLoginAttempts,
		lockoutWindow: DefaultLockoutWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}

	return repoUsers
}

// WithUsersLockoutPolicy sets the failure threshold and lockout window used
// by RecordFailedAccess.
func WithUsersLockoutPolicy(maxAttempts int, window time.Duration) UsersOption {
	return func(u *users) {
		if maxAttempts > 0 {
			u.maxAttempts = maxAttempts
		}
		if window > 0 {
			u.lockoutWindow = window
		}
	}
}

// WithUsersClock injects a custom clock (useful for tests).
func WithUsersClock(clock func() time.Time) UsersOption {
	return func(u *users) {
		if clock != nil {
			u.now = clock
		}
	}
}

func WithUsersStateMachineOptions(options ...StateMachineOption) UsersOption {
	return func(u *users) {
		if len(options) == 0 {
			return
		}
		u.stateMachineOptions = append(u.stateMachineOptions, options...)
		u.stateMachine = nil
	}
}

func WithUsersStateMachine(sm UserStateMachine) UsersOption {
	return func(u *users) {
		u.stateMachine = sm
	}
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	return a.CreateTx(ctx, tx, user)
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

// GetByIdentifierTx probes id, email, then username columns for the given
// identifier. Email and username probes use the normalized value since that
// is the stored form.
func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	options := resolveUserIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &User{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

// GetByUsername resolves the normalized username only; use GetByIdentifier
// for flexible probing.
func (a *users) GetByUsername(ctx context.Context, username string) (*User, error) {
	return a.getByColumn(ctx, "username", NormalizeUsername(username))
}

// GetByEmail resolves the normalized email only.
func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.getByColumn(ctx, "email", NormalizeEmail(email))
}

func (a *users) getByColumn(ctx context.Context, column, value string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{column: value})
		}
		return nil, err
	}
	return record, nil
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareIdentityDefaults(record)
	normalizeUserIdentifiers(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *users) RecordFailedAccess(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.RecordFailedAccessTx(ctx, a.db, id)
}

func (a *users) RecordFailedAccessTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	now := a.now()
	lockoutEnds := now.Add(a.lockoutWindow)

	res, err := a.Repository.RawTx(ctx, tx, RecordFailedAccessSQL,
		a.maxAttempts,
		a.maxAttempts,
		lockoutEnds,
		now,
		now,
		id.String(),
	)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return res[0], nil
}

func (a *users) ResetFailedAccess(ctx context.Context, id uuid.UUID) error {
	return a.ResetFailedAccessTx(ctx, a.db, id)
}

func (a *users) ResetFailedAccessTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewRaw(ResetFailedAccessSQL, a.now(), id.String()).Exec(ctx)
	return err
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.TrackSuccessfulLoginTx(ctx, a.db, id)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	now := a.now()
	res, err := a.Repository.RawTx(ctx, tx, TrackSuccessfulLoginSQL, now, now, id.String())
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return res[0], nil
}

func (a *users) RotatePasswordHash(ctx context.Context, id uuid.UUID, hash string) (*User, error) {
	return a.RotatePasswordHashTx(ctx, a.db, id, hash)
}

func (a *users) RotatePasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, hash string) (*User, error) {
	res, err := a.Repository.RawTx(ctx, tx, RotatePasswordHashSQL,
		hash,
		NewSecurityStamp(),
		a.now(),
		id.String(),
	)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return res[0], nil
}

func (a *users) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := a.Repository.RawTx(ctx, tx, ResetUserPasswordSQL,
		passwordHash,
		NewSecurityStamp(),
		a.now(),
		id.String(),
	)
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *users) GetOrCreate(ctx context.Context, record *User) (*User, error) {
	return a.GetOrCreateTx(ctx, a.db, record)
}

func (a *users) GetOrCreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	identifier := record.Email
	if record.ID != uuid.Nil {
		identifier = record.ID.String()
	}

	user, err := a.GetByIdentifierTx(ctx, tx, identifier)
	if err == nil {
		return user, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	return a.CreateTx(ctx, tx, record)
}

func (a *users) UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*User, error) {
	return a.UpdateStatusTx(ctx, a.db, id, status, opts...)
}

func (a *users) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*User, error) {
	record := &User{
		ID:     id,
		Status: status,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(record)
		}
	}

	return a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
}

func (a *users) Suspend(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error) {
	return a.lifecycleMachine().Transition(ctx, actor, user, AccountStatusSuspended, opts...)
}

func (a *users) Reinstate(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error) {
	return a.lifecycleMachine().Transition(ctx, actor, user, AccountStatusActive, opts...)
}

// SecurityStamp loads only the subject's current stamp; validation calls
// this on every request, so skip materializing the full record.
func (a *users) SecurityStamp(ctx context.Context, id uuid.UUID) (string, error) {
	var stamp string
	err := a.db.NewSelect().
		Model((*User)(nil)).
		Column("security_stamp").
		Where("?TableAlias.id = ?", id.String()).
		Limit(1).
		Scan(ctx, &stamp)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return "", repository.NewRecordNotFound().
				WithMetadata(map[string]any{"id": id.String()})
		}
		return "", err
	}
	return stamp, nil
}

// StatusUpdateOption allows callers to mutate the user record before persisting status changes.
type StatusUpdateOption func(*User)

// WithSuspendedAt sets the SuspendedAt timestamp during a status transition.
func WithSuspendedAt(at *time.Time) StatusUpdateOption {
	return func(u *User) {
		u.SuspendedAt = at
	}
}

// normalizeUserIdentifiers stores the normalized forms so the unique indexes
// enforce case-insensitive collisions.
func normalizeUserIdentifiers(record *User) {
	if record == nil {
		return
	}
	record.Username = NormalizeUsername(record.Username)
	record.Email = NormalizeEmail(record.Email)
}

type identifierOption struct {
	column string
	value  string
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 3)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmailAddress(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  NormalizeEmail(trimmed),
		})
	}

	options = append(options, identifierOption{
		column: "username",
		value:  NormalizeUsername(trimmed),
	})

	return options
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}

func (a *users) lifecycleMachine() UserStateMachine {
	if a.stateMachine == nil {
		a.stateMachine = NewUserStateMachine(a, a.stateMachineOptions...)
	}
	return a.stateMachine
}
