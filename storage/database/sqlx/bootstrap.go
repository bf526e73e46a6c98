package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-identity/core/bootstrap"
	"github.com/trezcool/masomo-identity/storage/database"
)

type bootstrapRow struct {
	StartedAt   time.Time  `db:"started_at"`
	AccountID   null.Int64 `db:"account_id"`
	CompletedAt null.Time  `db:"completed_at"`
}

type bootstrapRepository struct {
	db *sqlx.DB
}

var _ bootstrap.Repository = (*bootstrapRepository)(nil)

func NewBootstrapRepository(db *sqlx.DB) bootstrap.Repository {
	return &bootstrapRepository{db: db}
}

// Begin claims the single bootstrap row. A concurrent claim waits for the first transaction to end.
func (repo *bootstrapRepository) Begin(ctx context.Context, at time.Time) error {
	res, err := database.Executor(ctx, repo.db).ExecContext(
		ctx,
		"INSERT INTO bootstrap (id, started_at) VALUES (1, $1) ON CONFLICT (id) DO NOTHING",
		at.UTC(),
	)
	if err != nil {
		return storageErr("claiming bootstrap", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("claiming bootstrap", err)
	}
	if n == 0 {
		return bootstrap.ErrAlreadyBootstrapped
	}
	return nil
}

func (repo *bootstrapRepository) Complete(ctx context.Context, accountID int64, at time.Time) error {
	res, err := database.Executor(ctx, repo.db).ExecContext(
		ctx,
		"UPDATE bootstrap SET account_id = $1, completed_at = $2 WHERE id = 1",
		accountID, at.UTC(),
	)
	if err != nil {
		return storageErr("completing bootstrap", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("completing bootstrap", err)
	}
	if n == 0 {
		return bootstrap.ErrNotBootstrapped
	}
	return nil
}

func (repo *bootstrapRepository) Get(ctx context.Context) (bootstrap.State, error) {
	var row bootstrapRow
	err := sqlx.GetContext(
		ctx, database.Executor(ctx, repo.db), &row,
		"SELECT started_at, account_id, completed_at FROM bootstrap WHERE id = 1",
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bootstrap.State{}, bootstrap.ErrNotBootstrapped
		}
		return bootstrap.State{}, storageErr("getting bootstrap", err)
	}

	state := bootstrap.State{
		StartedAt: row.StartedAt.UTC(),
		AccountID: row.AccountID.Int64,
	}
	if row.CompletedAt.Valid {
		at := row.CompletedAt.Time.UTC()
		state.CompletedAt = &at
	}
	return state, nil
}
