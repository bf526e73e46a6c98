package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/identity"
)

var (
	// errors
	ErrAlreadyBootstrapped     = core.NewError(core.KindConflict, "system already bootstrapped")
	ErrNoTeacherTokenAvailable = core.NewError(core.KindExhausted, "no teacher identity token available")
	ErrNotBootstrapped         = core.NewError(core.KindNotFound, "system not bootstrapped")
)

// State is the single bootstrap record.
type State struct {
	StartedAt   time.Time  `json:"started_at"`
	AccountID   int64      `json:"account_id"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Admin holds the credentials of the bootstrap administrator.
type Admin struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// ConfiguredAdmin returns the administrator described by conf. ok is false unless both the email and the password are set.
func ConfiguredAdmin(conf core.BootstrapConfig) (admin Admin, ok bool) {
	admin = Admin{
		Email:     conf.AdminEmail,
		Password:  conf.AdminPassword,
		FirstName: conf.AdminFirstName,
		LastName:  conf.AdminLastName,
	}
	return admin, admin.Email != "" && admin.Password != ""
}

// String never prints the password.
func (a Admin) String() string {
	return fmt.Sprintf("%s %s <%s>", a.FirstName, a.LastName, a.Email)
}

type (
	Repository interface {
		// Begin creates the bootstrap record iff it does not exist, otherwise it fails with ErrAlreadyBootstrapped.
		Begin(ctx context.Context, at time.Time) error
		Complete(ctx context.Context, accountID int64, at time.Time) error
		// Get fails with ErrNotBootstrapped when the record does not exist.
		Get(ctx context.Context) (State, error)
	}

	Service struct {
		tx        core.Transactor
		repo      Repository
		pool      *identity.Pool
		registrar *account.Registrar
		logger    core.Logger
	}
)

func NewService(
	tx core.Transactor,
	repo Repository,
	pool *identity.Pool,
	registrar *account.Registrar,
	logger core.Logger,
) *Service {
	return &Service{
		tx:        tx,
		repo:      repo,
		pool:      pool,
		registrar: registrar,
		logger:    logger,
	}
}

// Run registers the first unconsumed Teacher token, in issuance order, as the administrator.
// It succeeds at most once per database: later runs fail with ErrAlreadyBootstrapped.
// Other Teacher tokens stay unconsumed. When no Teacher token exists nothing is written.
func (svc *Service) Run(ctx context.Context, admin Admin) (account.Registration, error) {
	var reg account.Registration
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		now := core.NowFunc()
		err := svc.repo.Begin(ctx, now)
		if err != nil {
			return err
		}
		if reg, err = svc.registerFirstTeacher(ctx, admin); err != nil {
			return err
		}
		return svc.repo.Complete(ctx, reg.ID, now)
	})

	switch {
	case err == nil:
		svc.logger.Info(fmt.Sprintf("bootstrap administrator %s registered with ID: %d", admin, reg.ID))
	case errors.Is(err, ErrAlreadyBootstrapped):
		svc.logger.Debug("bootstrap skipped: " + err.Error())
	case errors.Is(err, ErrNoTeacherTokenAvailable):
		svc.logger.Error("bootstrap failed: the system has no administrator; issue teacher tokens and run it again", err)
	default:
		svc.logger.Error("bootstrap failed", err)
	}
	return reg, err
}

// registerFirstTeacher draws the first unconsumed Teacher token and registers it.
// A token consumed concurrently between the draw and the registration is skipped and another one is drawn.
func (svc *Service) registerFirstTeacher(ctx context.Context, admin Admin) (account.Registration, error) {
	unconsumed := false
	for {
		toks, err := svc.pool.Query(ctx, identity.QueryFilter{Role: identity.RoleTeacher, Consumed: &unconsumed, Limit: 1})
		if err != nil {
			return account.Registration{}, errors.Wrap(err, "finding teacher token")
		}
		if len(toks) == 0 {
			return account.Registration{}, ErrNoTeacherTokenAvailable
		}

		reg, err := svc.registrar.Register(
			ctx,
			account.NewAccount{
				TokenID:         toks[0].ID,
				Email:           admin.Email,
				Password:        admin.Password,
				PasswordConfirm: admin.Password,
				Profile: account.ProfileFields{
					FirstName: admin.FirstName,
					LastName:  admin.LastName,
				},
			},
			account.AsAdministrator(),
			account.Silent(),
		)
		switch {
		case err == nil:
			return reg, nil
		case errors.Is(err, identity.ErrTokenAlreadyConsumed):
			svc.logger.Debug(fmt.Sprintf("bootstrap: token %d was consumed concurrently, drawing another one", toks[0].ID))
		default:
			return account.Registration{}, errors.Wrap(err, "registering administrator")
		}
	}
}

// Ensure runs the bootstrap procedure unless it already succeeded.
func (svc *Service) Ensure(ctx context.Context, admin Admin) error {
	_, err := svc.Run(ctx, admin)
	if errors.Is(err, ErrAlreadyBootstrapped) {
		return nil
	}
	return err
}

// Seed issues a batch of count tokens then runs the bootstrap procedure.
// The issued tokens are returned even when the bootstrap fails.
func (svc *Service) Seed(ctx context.Context, count int, dist identity.RoleDistribution, admin Admin) ([]identity.Token, account.Registration, error) {
	toks, err := svc.pool.IssueBatch(ctx, count, dist)
	if err != nil {
		return nil, account.Registration{}, errors.Wrap(err, "issuing tokens")
	}
	reg, err := svc.Run(ctx, admin)
	return toks, reg, err
}

func (svc *Service) State(ctx context.Context) (State, error) {
	return svc.repo.Get(ctx)
}

type stageReader struct {
	repo Repository
}

// Stage exposes the bootstrap record to the account.Registrar.
func Stage(repo Repository) account.BootstrapReader {
	return stageReader{repo: repo}
}

func (sr stageReader) BootstrapStage(ctx context.Context) (account.BootstrapStage, error) {
	state, err := sr.repo.Get(ctx)
	switch {
	case errors.Is(err, ErrNotBootstrapped):
		return account.BootstrapPending, nil
	case err != nil:
		return account.BootstrapPending, err
	case state.CompletedAt == nil:
		return account.BootstrapClaimed, nil
	default:
		return account.BootstrapCompleted, nil
	}
}
