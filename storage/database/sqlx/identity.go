package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-identity/core/identity"
	"github.com/trezcool/masomo-identity/storage/database"
)

var tokenColumns = []string{"id", "seq", "intended_role", "batch_id", "consumed", "issued_at", "consumed_at"}

type tokenRow struct {
	ID         int64     `db:"id"`
	Seq        int64     `db:"seq"`
	Role       string    `db:"intended_role"`
	BatchID    uuid.UUID `db:"batch_id"`
	Consumed   bool      `db:"consumed"`
	IssuedAt   time.Time `db:"issued_at"`
	ConsumedAt null.Time `db:"consumed_at"`
}

func (r tokenRow) token() identity.Token {
	tok := identity.Token{
		ID:       r.ID,
		Seq:      r.Seq,
		Role:     identity.Role(r.Role),
		BatchID:  r.BatchID,
		Consumed: r.Consumed,
		IssuedAt: r.IssuedAt.UTC(),
	}
	if r.ConsumedAt.Valid {
		at := r.ConsumedAt.Time.UTC()
		tok.ConsumedAt = &at
	}
	return tok
}

type tokenRepository struct {
	db *sqlx.DB
}

var _ identity.Repository = (*tokenRepository)(nil)

func NewTokenRepository(db *sqlx.DB) identity.Repository {
	return &tokenRepository{db: db}
}

// InsertToken relies on ON CONFLICT: a concurrent insert of the same id waits for the other transaction,
// then reports ErrDuplicateID instead of aborting the current transaction.
func (repo *tokenRepository) InsertToken(ctx context.Context, tok identity.Token) (identity.Token, error) {
	q, args, err := psql.Insert("identity_tokens").
		Columns("id", "intended_role", "batch_id", "consumed", "issued_at").
		Values(tok.ID, string(tok.Role), tok.BatchID, false, tok.IssuedAt.UTC()).
		Suffix("ON CONFLICT (id) DO NOTHING RETURNING seq").
		ToSql()
	if err != nil {
		return identity.Token{}, errors.Wrap(err, "building query")
	}

	if err = sqlx.GetContext(ctx, database.Executor(ctx, repo.db), &tok.Seq, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.Token{}, identity.ErrDuplicateID
		}
		return identity.Token{}, storageErr("inserting token", err)
	}
	tok.Consumed = false
	tok.ConsumedAt = nil
	return tok, nil
}

func (repo *tokenRepository) CountTokens(ctx context.Context) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, database.Executor(ctx, repo.db), &n, "SELECT COUNT(*) FROM identity_tokens")
	return n, storageErr("counting tokens", err)
}

func (repo *tokenRepository) GetToken(ctx context.Context, id int64) (identity.Token, error) {
	q, args, err := psql.Select(tokenColumns...).From("identity_tokens").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return identity.Token{}, errors.Wrap(err, "building query")
	}

	var row tokenRow
	if err = sqlx.GetContext(ctx, database.Executor(ctx, repo.db), &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.Token{}, identity.ErrTokenNotFound
		}
		return identity.Token{}, storageErr("getting token", err)
	}
	return row.token(), nil
}

// ConsumeToken is a conditional update: of concurrent callers, only the first to commit matches `consumed = false`.
func (repo *tokenRepository) ConsumeToken(ctx context.Context, id int64, at time.Time) (identity.Token, error) {
	q, args, err := psql.Update("identity_tokens").
		Set("consumed", true).
		Set("consumed_at", at.UTC()).
		Where(squirrel.Eq{"id": id, "consumed": false}).
		Suffix("RETURNING " + joinColumns(tokenColumns)).
		ToSql()
	if err != nil {
		return identity.Token{}, errors.Wrap(err, "building query")
	}

	var row tokenRow
	err = sqlx.GetContext(ctx, database.Executor(ctx, repo.db), &row, q, args...)
	if err == nil {
		return row.token(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return identity.Token{}, storageErr("consuming token", err)
	}

	// tell a missing token from a consumed one
	if _, err = repo.GetToken(ctx, id); err != nil {
		return identity.Token{}, err
	}
	return identity.Token{}, identity.ErrTokenAlreadyConsumed
}

func (repo *tokenRepository) QueryTokens(ctx context.Context, filter identity.QueryFilter) ([]identity.Token, error) {
	sb := psql.Select(tokenColumns...).From("identity_tokens").OrderBy("seq ASC")
	if filter.Role != "" {
		sb = sb.Where(squirrel.Eq{"intended_role": string(filter.Role)})
	}
	if filter.Consumed != nil {
		sb = sb.Where(squirrel.Eq{"consumed": *filter.Consumed})
	}
	if filter.BatchID != uuid.Nil {
		sb = sb.Where(squirrel.Eq{"batch_id": filter.BatchID})
	}
	q, args, err := limit(sb, filter.Limit).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []tokenRow
	if err = sqlx.SelectContext(ctx, database.Executor(ctx, repo.db), &rows, q, args...); err != nil {
		return nil, storageErr("querying tokens", err)
	}
	toks := make([]identity.Token, 0, len(rows))
	for _, row := range rows {
		toks = append(toks, row.token())
	}
	return toks, nil
}
