package identity

import (
	"context"
	"database/sql"
	"io/fs"

	goerrors "github.com/goliatone/go-errors"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/schema"
)

// RegisterModels registers every model this package persists. bun needs the
// join models up front or the m2m relations on User fail to resolve; call
// this once before building queries against a fresh bun.DB.
func RegisterModels() {
	persistence.RegisterModel((*User)(nil))
	persistence.RegisterModel((*Role)(nil))
	persistence.RegisterModel((*RoleAssignment)(nil))
	persistence.RegisterModel((*UserClaim)(nil))
	persistence.RegisterModel((*RoleClaim)(nil))
	persistence.RegisterModel((*PasswordReset)(nil))
}

// NewPersistenceClient wraps the given database in a persistence client with
// this package's models and embedded migrations registered. Dialect
// migrations are validated eagerly so a broken embed fails here instead of
// halfway through Migrate. The caller decides when to run client.Migrate.
//
//	db, _ := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
//	client, err := identity.NewPersistenceClient(cfg, db, sqlitedialect.New())
//	if err != nil {
//		return err
//	}
//	if err := client.Migrate(ctx); err != nil {
//		return err
//	}
//	manager := identity.NewRepositoryManager(client.DB())
func NewPersistenceClient(cfg persistence.Config, db *sql.DB, dialect schema.Dialect, opts ...PersistenceOption) (*persistence.Client, error) {
	RegisterModels()

	client, err := persistence.New(cfg, db, dialect)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create persistence client")
	}

	options := &persistenceOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	if options.logger != nil {
		client.SetLogger(options.logger)
	}

	migrations, err := fs.Sub(GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open embedded migrations")
	}

	client.RegisterDialectMigrations(
		migrations,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)

	if err := client.ValidateDialects(context.Background()); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "migration dialect validation failed")
	}

	return client, nil
}

// PersistenceOption customizes NewPersistenceClient.
type PersistenceOption func(*persistenceOptions)

type persistenceOptions struct {
	logger Logger
}

// WithPersistenceLogger routes the client's migration and fixture logging
// through the given logger.
func WithPersistenceLogger(logger Logger) PersistenceOption {
	return func(o *persistenceOptions) {
		o.logger = logger
	}
}
