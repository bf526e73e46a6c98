package authz

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/identity"
)

// ErrUnauthorized is the only error a denied principal ever sees, whatever the cause.
var ErrUnauthorized = core.NewError(core.KindUnauthorized, string(ReasonUnauthorized))

type Action string

const (
	ActionCreateCourse Action = "course:create"
	ActionIssueTokens  Action = "identity:issue"
	ActionViewTokens   Action = "identity:view"
	ActionViewAudit    Action = "audit:view"
	ActionEditProfile  Action = "account:edit"
	ActionViewAccount  Action = "account:view"
)

type Reason string

const ReasonUnauthorized Reason = "Unauthorized"

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

func Allow() Decision { return Decision{Allowed: true} }
func Deny() Decision  { return Decision{Reason: ReasonUnauthorized} }

// Rule decides for a resolved principal.
type Rule func(principal account.Registration) bool

// RequireAdmin allows Teachers whose profile has the admin flag.
func RequireAdmin(principal account.Registration) bool {
	return principal.Role == identity.RoleTeacher && principal.Teacher != nil && principal.Teacher.IsAdmin
}

// RequireTeacher allows any Teacher.
func RequireTeacher(principal account.Registration) bool {
	return principal.Role == identity.RoleTeacher && principal.Teacher != nil
}

// Policy maps actions to rules. Actions without a rule require an administrator.
type Policy map[Action]Rule

func DefaultPolicy() Policy {
	return Policy{
		ActionCreateCourse: RequireAdmin,
		ActionIssueTokens:  RequireAdmin,
		ActionViewTokens:   RequireAdmin,
		ActionViewAudit:    RequireAdmin,
		ActionEditProfile:  RequireAdmin,
		ActionViewAccount:  RequireAdmin,
	}
}

func (p Policy) rule(action Action) Rule {
	if rule, ok := p[action]; ok && rule != nil {
		return rule
	}
	return RequireAdmin
}

type (
	// PrincipalResolver finds the account and profile of a principal, failing with account.ErrNotFound.
	PrincipalResolver interface {
		Get(ctx context.Context, id int64) (account.Registration, error)
	}

	// Recorder observes every decision made.
	Recorder interface {
		ObserveDecision(action Action, d Decision)
	}

	Guard struct {
		principals PrincipalResolver
		policy     Policy
		recorder   Recorder
	}

	Option func(*Guard)
)

func WithPolicy(p Policy) Option {
	return func(g *Guard) { g.policy = p }
}

func WithRecorder(r Recorder) Option {
	return func(g *Guard) { g.recorder = r }
}

func NewGuard(principals PrincipalResolver, opts ...Option) *Guard {
	g := &Guard{principals: principals, policy: DefaultPolicy()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize decides whether principalID may perform action. It never writes anything.
// An error is returned only when the principal could not be read.
func (g *Guard) Authorize(ctx context.Context, principalID int64, action Action) (Decision, error) {
	_, d, err := g.authorize(ctx, principalID, action)
	return d, err
}

// Require returns the principal when allowed, ErrUnauthorized when denied.
func (g *Guard) Require(ctx context.Context, principalID int64, action Action) (account.Registration, error) {
	principal, d, err := g.authorize(ctx, principalID, action)
	if err != nil {
		return account.Registration{}, err
	}
	if !d.Allowed {
		return account.Registration{}, ErrUnauthorized
	}
	return principal, nil
}

func (g *Guard) authorize(ctx context.Context, principalID int64, action Action) (account.Registration, Decision, error) {
	principal, err := g.principals.Get(ctx, principalID)
	if err != nil {
		if !(errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrProfileNotFound)) {
			return account.Registration{}, Decision{}, errors.Wrap(err, "resolving principal")
		}
		return account.Registration{}, g.observe(action, Deny()), nil
	}

	if g.policy.rule(action)(principal) {
		return principal, g.observe(action, Allow()), nil
	}
	return account.Registration{}, g.observe(action, Deny()), nil
}

func (g *Guard) observe(action Action, d Decision) Decision {
	if g.recorder != nil {
		g.recorder.ObserveDecision(action, d)
	}
	return d
}
