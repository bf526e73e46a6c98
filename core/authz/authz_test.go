package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/authz"
	"github.com/trezcool/masomo-identity/core/identity"
	"github.com/trezcool/masomo-identity/tests"
)

type decision struct {
	action authz.Action
	authz.Decision
}

type recorder struct {
	decisions []decision
}

func (r *recorder) ObserveDecision(action authz.Action, d authz.Decision) {
	r.decisions = append(r.decisions, decision{action, d})
}

type brokenResolver struct{}

func (brokenResolver) Get(context.Context, int64) (account.Registration, error) {
	return account.Registration{}, core.NewStorageError("reading account", errors.New("connection reset"))
}

func TestGuard_Authorize(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t)
	admin := stack.BootstrapAdmin(t, "admin@test.cd")
	teacher := stack.Register(t, identity.RoleTeacher, "teacher@test.cd", "Grace", "Hopper")
	student := stack.Register(t, identity.RoleStudent, "student@test.cd", "Hero", "Student")

	rec := new(recorder)
	guard := authz.NewGuard(stack.Registrar, authz.WithRecorder(rec))

	actions := []authz.Action{
		authz.ActionCreateCourse,
		authz.ActionIssueTokens,
		authz.ActionViewTokens,
		authz.ActionViewAudit,
		authz.ActionEditProfile,
		authz.ActionViewAccount,
		authz.Action("unknown:action"),
	}
	tests := []struct {
		name        string
		principalID int64
		wantAllowed bool
	}{
		{name: "admin", principalID: admin.ID, wantAllowed: true},
		{name: "teacher", principalID: teacher.ID},
		{name: "student", principalID: student.ID},
		{name: "unknown principal", principalID: identity.MaxTokenID},
	}
	for _, tc := range tests {
		for _, action := range actions {
			t.Run(tc.name+" "+string(action), func(t *testing.T) {
				d, err := guard.Authorize(ctx, tc.principalID, action)
				require.NoError(t, err)
				assert.Equal(t, tc.wantAllowed, d.Allowed)
				if !tc.wantAllowed {
					assert.Equal(t, authz.ReasonUnauthorized, d.Reason)
				}

				last := rec.decisions[len(rec.decisions)-1]
				assert.Equal(t, action, last.action)
				assert.Equal(t, d, last.Decision)
			})
		}
	}
	assert.Len(t, rec.decisions, len(tests)*len(actions))
}

func TestGuard_Require(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t)
	admin := stack.BootstrapAdmin(t, "admin@test.cd")
	teacher := stack.Register(t, identity.RoleTeacher, "teacher@test.cd", "Grace", "Hopper")

	t.Run("allowed", func(t *testing.T) {
		principal, err := stack.Guard.Require(ctx, admin.ID, authz.ActionIssueTokens)
		require.NoError(t, err)
		assert.Equal(t, admin.ID, principal.ID)
		assert.True(t, principal.IsAdmin())
	})

	t.Run("denied", func(t *testing.T) {
		_, err := stack.Guard.Require(ctx, teacher.ID, authz.ActionIssueTokens)
		assert.ErrorIs(t, err, authz.ErrUnauthorized)
		assert.Equal(t, core.KindUnauthorized, core.KindOf(err))
	})

	t.Run("unknown principal looks like any denial", func(t *testing.T) {
		_, err := stack.Guard.Require(ctx, 42, authz.ActionIssueTokens)
		assert.Equal(t, authz.ErrUnauthorized, err)
	})

	t.Run("custom policy", func(t *testing.T) {
		guard := authz.NewGuard(stack.Registrar, authz.WithPolicy(authz.Policy{authz.ActionCreateCourse: authz.RequireTeacher}))
		_, err := guard.Require(ctx, teacher.ID, authz.ActionCreateCourse)
		assert.NoError(t, err)
		// actions missing from the policy fall back to admins only
		_, err = guard.Require(ctx, teacher.ID, authz.ActionViewAudit)
		assert.ErrorIs(t, err, authz.ErrUnauthorized)
	})

	t.Run("storage failure", func(t *testing.T) {
		rec := new(recorder)
		guard := authz.NewGuard(brokenResolver{}, authz.WithRecorder(rec))
		_, err := guard.Require(ctx, admin.ID, authz.ActionViewAudit)
		require.Error(t, err)
		assert.NotErrorIs(t, err, authz.ErrUnauthorized)
		assert.Equal(t, core.KindDurability, core.KindOf(err))
		assert.Empty(t, rec.decisions)
	})
}

func TestRules(t *testing.T) {
	teacherProfile := &account.TeacherProfile{}
	adminProfile := &account.TeacherProfile{IsAdmin: true}

	tests := []struct {
		name        string
		principal   account.Registration
		wantTeacher bool
		wantAdmin   bool
	}{
		{name: "admin", principal: account.Registration{Account: account.Account{Role: identity.RoleTeacher}, Teacher: adminProfile}, wantTeacher: true, wantAdmin: true},
		{name: "teacher", principal: account.Registration{Account: account.Account{Role: identity.RoleTeacher}, Teacher: teacherProfile}, wantTeacher: true},
		{name: "teacher without profile", principal: account.Registration{Account: account.Account{Role: identity.RoleTeacher}}},
		{name: "student", principal: account.Registration{Account: account.Account{Role: identity.RoleStudent}, Student: &account.StudentProfile{}}},
		{name: "student with admin profile", principal: account.Registration{Account: account.Account{Role: identity.RoleStudent}, Teacher: adminProfile}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantTeacher, authz.RequireTeacher(tc.principal))
			assert.Equal(t, tc.wantAdmin, authz.RequireAdmin(tc.principal))
		})
	}
}
