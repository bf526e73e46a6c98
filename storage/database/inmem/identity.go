package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/masomo-identity/core/identity"
)

type tokenRepository struct {
	db *DB
}

var _ identity.Repository = (*tokenRepository)(nil)

func NewTokenRepository(db *DB) identity.Repository {
	return &tokenRepository{db: db}
}

func (repo *tokenRepository) InsertToken(ctx context.Context, tok identity.Token) (identity.Token, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.tokens[tok.ID]; ok {
			return identity.ErrDuplicateID
		}
		t.tokenSeq++
		tok.Seq = t.tokenSeq
		tok.Consumed = false
		tok.ConsumedAt = nil
		t.tokens[tok.ID] = tok
		return nil
	})
	if err != nil {
		return identity.Token{}, err
	}
	return tok, nil
}

func (repo *tokenRepository) CountTokens(ctx context.Context) (int64, error) {
	var n int64
	err := repo.db.read(ctx, func(t *tables) error {
		n = int64(len(t.tokens))
		return nil
	})
	return n, err
}

func (repo *tokenRepository) GetToken(ctx context.Context, id int64) (identity.Token, error) {
	var tok identity.Token
	err := repo.db.read(ctx, func(t *tables) error {
		var ok bool
		if tok, ok = t.tokens[id]; !ok {
			return identity.ErrTokenNotFound
		}
		return nil
	})
	return tok, err
}

func (repo *tokenRepository) ConsumeToken(ctx context.Context, id int64, at time.Time) (identity.Token, error) {
	var tok identity.Token
	err := repo.db.write(ctx, func(t *tables) error {
		var ok bool
		if tok, ok = t.tokens[id]; !ok {
			return identity.ErrTokenNotFound
		}
		if tok.Consumed {
			return identity.ErrTokenAlreadyConsumed
		}
		consumedAt := at.UTC()
		tok.Consumed = true
		tok.ConsumedAt = &consumedAt
		t.tokens[id] = tok
		return nil
	})
	if err != nil {
		return identity.Token{}, err
	}
	return tok, nil
}

func (repo *tokenRepository) QueryTokens(ctx context.Context, filter identity.QueryFilter) ([]identity.Token, error) {
	var toks []identity.Token
	err := repo.db.read(ctx, func(t *tables) error {
		toks = make([]identity.Token, 0)
		for _, tok := range t.tokens {
			if filter.Matches(tok) {
				toks = append(toks, tok)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(toks, func(i, j int) bool { return toks[i].Seq < toks[j].Seq })
	return toks[:limit(len(toks), filter.Limit)], nil
}
