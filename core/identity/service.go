package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
)

var (
	// errors
	ErrTokenNotFound        = core.NewError(core.KindNotFound, "identity token not found")
	ErrTokenAlreadyConsumed = core.NewError(core.KindConflict, "identity token already consumed")
	ErrDuplicateID          = core.NewError(core.KindConflict, "identity token id already issued")
	ErrPoolExhausted        = core.NewError(core.KindExhausted, "identity pool exhausted")
	ErrInvalidCount         = core.NewError(core.KindInvalid, "invalid number of tokens")
	ErrInvalidRole          = core.NewError(core.KindInvalid, "invalid role")
	ErrInvalidDistribution  = core.NewError(core.KindInvalid, "invalid role distribution")
)

const (
	DefaultMaxAttempts  = 1000
	DefaultMaxBatchSize = 1000
)

type (
	Repository interface {
		// InsertToken stores tok iff no token with the same ID exists, otherwise it fails with ErrDuplicateID.
		// The returned Token carries its issuance sequence number.
		InsertToken(ctx context.Context, tok Token) (Token, error)
		CountTokens(ctx context.Context) (int64, error)
		GetToken(ctx context.Context, id int64) (Token, error)
		// ConsumeToken marks the token consumed iff it is currently unconsumed.
		// It fails with ErrTokenNotFound or ErrTokenAlreadyConsumed and never reverses consumption.
		ConsumeToken(ctx context.Context, id int64, at time.Time) (Token, error)
		QueryTokens(ctx context.Context, filter QueryFilter) ([]Token, error)
	}

	Pool struct {
		tx           core.Transactor
		repo         Repository
		logger       core.Logger
		newID        IDGenerator
		maxAttempts  int
		maxBatchSize int
	}

	Option func(*Pool)
)

// WithIDGenerator replaces RandomID.
func WithIDGenerator(gen IDGenerator) Option {
	return func(p *Pool) { p.newID = gen }
}

// WithMaxAttempts bounds the number of draws per token before giving up with ErrPoolExhausted.
func WithMaxAttempts(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithMaxBatchSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxBatchSize = n
		}
	}
}

func NewPool(tx core.Transactor, repo Repository, logger core.Logger, opts ...Option) *Pool {
	p := &Pool{
		tx:           tx,
		repo:         repo,
		logger:       logger,
		newID:        RandomID,
		maxAttempts:  DefaultMaxAttempts,
		maxBatchSize: DefaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IssueBatch issues count new unconsumed tokens with roles drawn from dist (Uniform when nil).
// Ids are unique pool-wide; the whole batch is stored or none of it is.
func (p *Pool) IssueBatch(ctx context.Context, count int, dist RoleDistribution) ([]Token, error) {
	if count < 1 || count > p.maxBatchSize {
		return nil, errors.Wrapf(ErrInvalidCount, "count must be between 1 and %d, got %d", p.maxBatchSize, count)
	}
	if dist == nil {
		dist = Uniform()
	}
	roles, err := dist.Roles(count)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New()
	var issued []Token
	err = p.tx.WithinTx(ctx, func(ctx context.Context) error {
		issued = make([]Token, 0, count)

		total, err := p.repo.CountTokens(ctx)
		if err != nil {
			return errors.Wrap(err, "counting tokens")
		}
		if Capacity-total < int64(count) {
			return errors.Wrapf(ErrPoolExhausted, "%d tokens issued, %d requested", total, count)
		}

		now := core.NowFunc()
		for _, role := range roles {
			tok, err := p.issue(ctx, Token{Role: role, BatchID: batchID, IssuedAt: now})
			if err != nil {
				return err
			}
			issued = append(issued, tok)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			p.logger.Warn(fmt.Sprintf("issuing %d identity tokens: %v", count, err))
		}
		return nil, err
	}

	p.logger.Info(fmt.Sprintf("issued %d identity tokens (batch %s, %v)", len(issued), batchID, dist))
	return issued, nil
}

// issue draws ids until one is free. Collisions are checked by the store against every issued id.
func (p *Pool) issue(ctx context.Context, tok Token) (Token, error) {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		id, err := p.newID()
		if err != nil {
			return Token{}, errors.Wrap(err, "generating token id")
		}
		if !ValidTokenID(id) {
			return Token{}, errors.Errorf("generated token id %d is not 10 digits", id)
		}

		tok.ID = id
		created, err := p.repo.InsertToken(ctx, tok)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrDuplicateID) {
			return Token{}, errors.Wrap(err, "inserting token")
		}
	}
	return Token{}, errors.Wrapf(ErrPoolExhausted, "no free id after %d attempts", p.maxAttempts)
}

func (p *Pool) Get(ctx context.Context, id int64) (Token, error) {
	return p.repo.GetToken(ctx, id)
}

func (p *Pool) Query(ctx context.Context, filter QueryFilter) ([]Token, error) {
	return p.repo.QueryTokens(ctx, filter)
}
