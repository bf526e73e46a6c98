package inmemdb

import (
	"context"
	"time"

	"github.com/trezcool/masomo-identity/core/bootstrap"
)

type bootstrapRepository struct {
	db *DB
}

var _ bootstrap.Repository = (*bootstrapRepository)(nil)

func NewBootstrapRepository(db *DB) bootstrap.Repository {
	return &bootstrapRepository{db: db}
}

func (repo *bootstrapRepository) Begin(ctx context.Context, at time.Time) error {
	return repo.db.write(ctx, func(t *tables) error {
		if t.bootstrap != nil {
			return bootstrap.ErrAlreadyBootstrapped
		}
		t.bootstrap = &bootstrap.State{StartedAt: at.UTC()}
		return nil
	})
}

func (repo *bootstrapRepository) Complete(ctx context.Context, accountID int64, at time.Time) error {
	return repo.db.write(ctx, func(t *tables) error {
		if t.bootstrap == nil {
			return bootstrap.ErrNotBootstrapped
		}
		completedAt := at.UTC()
		t.bootstrap = &bootstrap.State{
			StartedAt:   t.bootstrap.StartedAt,
			AccountID:   accountID,
			CompletedAt: &completedAt,
		}
		return nil
	})
}

func (repo *bootstrapRepository) Get(ctx context.Context) (bootstrap.State, error) {
	var state bootstrap.State
	err := repo.db.read(ctx, func(t *tables) error {
		if t.bootstrap == nil {
			return bootstrap.ErrNotBootstrapped
		}
		state = *t.bootstrap
		return nil
	})
	return state, err
}
