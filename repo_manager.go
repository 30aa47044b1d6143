package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Grants() Grants
	PasswordResets() repository.Repository[*PasswordReset]
}

// ConsumeResetSQL redeems a reset token. The status predicate makes the
// tokens one-time: two concurrent redemptions race for the single matching
// row and exactly one gets it back.
var ConsumeResetSQL = `UPDATE "password_reset" AS "pwdr"
SET
	"status" = ?,
	"reset_at" = ?,
	"updated_at" = ?
WHERE
	"pwdr"."deleted_at" IS NULL
AND (
	"pwdr"."token" = ?
AND	"pwdr"."status" = ?
) RETURNING *;`

// NewPasswordResetsRepository builds the reset-record repository. The
// identifier column is the opaque token, which is how recovery links come
// back to us.
func NewPasswordResetsRepository(db *bun.DB) repository.Repository[*PasswordReset] {
	handlers := repository.ModelHandlers[*PasswordReset]{
		NewRecord: func() *PasswordReset {
			return &PasswordReset{}
		},
		GetID: func(record *PasswordReset) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *PasswordReset, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "token"
		},
	}
	return repository.NewRepository(db, handlers)
}

type mngr struct {
	db             *bun.DB
	users          Users
	grants         Grants
	passwordResets repository.Repository[*PasswordReset]
}

// ManagerOption configures the repository manager.
type ManagerOption func(*mngr)

// WithManagerUsersOptions forwards options to the users repository.
func WithManagerUsersOptions(opts ...UsersOption) ManagerOption {
	return func(m *mngr) {
		m.users = NewUsersRepository(m.db, opts...)
	}
}

func NewRepositoryManager(db *bun.DB, opts ...ManagerOption) RepositoryManager {
	m := &mngr{
		db:             db,
		users:          NewUsersRepository(db),
		grants:         NewGrantsRepository(db),
		passwordResets: NewPasswordResetsRepository(db),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.grants == nil {
		return errors.New("repository grants should be initialized")
	}

	if m.passwordResets == nil {
		return errors.New("repository passwordResets should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Grants() Grants {
	return m.grants
}

func (m mngr) PasswordResets() repository.Repository[*PasswordReset] {
	return m.passwordResets
}
