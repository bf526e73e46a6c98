package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"

	"github.com/trezcool/masomo-identity/core"
)

var (
	// errors
	ErrAuditWriteFailed = core.NewError(core.KindDurability, "audit log write failed")
)

const (
	DefaultMaxRetries   uint64 = 3
	DefaultRetryBackoff        = 50 * time.Millisecond
)

type (
	// Repository only appends and reads: entries are never updated nor deleted.
	Repository interface {
		// AppendEntry stores e and returns it with its ID. Appending an EventID twice returns the stored entry.
		AppendEntry(ctx context.Context, e Entry) (Entry, error)
		QueryEntries(ctx context.Context, filter QueryFilter) ([]Entry, error)
	}

	Log struct {
		repo       Repository
		validate   *validator.Validate
		logger     core.Logger
		maxRetries uint64
		backoff    time.Duration
	}

	Option func(*Log)
)

// WithRetries sets how many times a failed append is retried, waiting base, then 2*base, ... in between.
func WithRetries(max uint64, base time.Duration) Option {
	return func(l *Log) {
		l.maxRetries = max
		if base > 0 {
			l.backoff = base
		}
	}
}

func NewLog(repo Repository, validate *validator.Validate, logger core.Logger, opts ...Option) *Log {
	l := &Log{
		repo:       repo,
		validate:   validate,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends one entry. Storage failures are retried; the final one is returned wrapping ErrAuditWriteFailed.
func (l *Log) Record(ctx context.Context, ne NewEntry) (Entry, error) {
	if err := l.validate.Struct(ne); err != nil {
		return Entry{}, err
	}

	// the event id is fixed before the first attempt so that a retry never appends twice
	e := Entry{
		EventID:     uuid.New(),
		Description: ne.Description,
		ActorID:     ne.ActorID,
		ActorType:   ne.ActorType,
		Action:      ne.Action,
		TargetType:  ne.TargetType,
		TargetID:    ne.TargetID,
		CreatedAt:   core.NowFunc(),
	}

	var (
		appended Entry
		attempts int
	)
	backoff := retry.WithMaxRetries(l.maxRetries, retry.NewExponential(l.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		var err error
		appended, err = l.repo.AppendEntry(ctx, e)
		if err != nil && core.KindOf(err) == core.KindDurability {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		err = errors.Wrapf(ErrAuditWriteFailed, "event %s after %d attempts: %v", e.EventID, attempts, err)
		l.logger.Error(fmt.Sprintf("recording %q audit entry", e.Action), err)
		return Entry{}, err
	}
	return appended, nil
}

func (l *Log) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	filter.Clean()
	return l.repo.QueryEntries(ctx, filter)
}
