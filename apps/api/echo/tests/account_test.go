package tests

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/masomo-identity/apps/api/echo"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/audit"
	"github.com/trezcool/masomo-identity/core/authz"
	"github.com/trezcool/masomo-identity/core/identity"
	"github.com/trezcool/masomo-identity/core/profile"
	"github.com/trezcool/masomo-identity/tests"
)

func Test_accountApi_register_beforeBootstrap(t *testing.T) {
	app := setup(t)
	toks := testutil.IssueTokens(t, app.stack.Pool, 2, identity.Fixed(identity.RoleTeacher, identity.RoleStudent))

	closed := marchallObj(t, httpErr{Error: account.ErrRegistrationClosed.Error()})
	runHTTPTests(t, app, []httpTest{
		{
			name: "teacher", method: http.MethodPost, path: "/v1/accounts/register",
			body:     marchallObj(t, testutil.NewAccount(toks[0].ID, "grace@test.cd", "Grace", "Hopper")),
			wantCode: http.StatusServiceUnavailable, wantData: closed,
		},
		{
			name: "student", method: http.MethodPost, path: "/v1/accounts/register",
			body:     marchallObj(t, testutil.NewAccount(toks[1].ID, "hero@test.cd", "Hero", "Student")),
			wantCode: http.StatusServiceUnavailable, wantData: closed,
		},
	})
	for _, tok := range toks {
		got, err := app.stack.Pool.Get(context.Background(), tok.ID)
		require.NoError(t, err)
		assert.False(t, got.Consumed)
	}

	// open once bootstrapped
	app.stack.Bootstrapped(t)
	req, rec := newRequest(http.MethodPost, "/v1/accounts/register", marchallObj(t, testutil.NewAccount(toks[1].ID, "hero@test.cd", "Hero", "Student")))
	app.do(req, rec)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func Test_accountApi_register(t *testing.T) {
	app := setup(t)
	app.stack.Bootstrapped(t)
	toks := testutil.IssueTokens(t, app.stack.Pool, 2, identity.Fixed(identity.RoleStudent, identity.RoleTeacher))
	student, teacher := toks[0], toks[1]

	newAcc := func(tokenID int64, email string) []byte {
		return marchallObj(t, testutil.NewAccount(tokenID, email, "Ada", "Lovelace"))
	}

	tests := []httpTest{
		{
			name: "required fields", method: http.MethodPost, path: "/v1/accounts/register", body: []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"token_id":         "this field is required",
				"email":            "this field is required",
				"password":         "this field is required",
				"password_confirm": "this field is required",
				"first_name":       "this field is required",
				"last_name":        "this field is required",
			}),
		},
		{
			name: "unknown token", method: http.MethodPost, path: "/v1/accounts/register",
			body: newAcc(1000000000, "ada@test.cd"), wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "identity token not found"}),
		},
		{
			name: "common password", method: http.MethodPost, path: "/v1/accounts/register",
			body: marchallObj(t, account.NewAccount{
				TokenID:         student.ID,
				Email:           "ada@test.cd",
				Password:        "P@ssw0rd1",
				PasswordConfirm: "P@ssw0rd1",
				Profile:         account.ProfileFields{FirstName: "Ada", LastName: "Lovelace"},
			}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"password": "password is too common"}),
		},
	}
	runHTTPTests(t, app, tests)

	t.Run("success", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/accounts/register", newAcc(student.ID, " Ada@Test.cd "))
		app.do(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		reg, err := app.stack.Registrar.GetByEmail(context.Background(), "ada@test.cd")
		require.NoError(t, err)
		assert.Equal(t, student.ID, reg.ID)
		assert.Equal(t, identity.RoleStudent, reg.Role)
		checkCodeAndData(t, httpTest{wantCode: http.StatusCreated, wantData: marchallObj(t, reg)}, rec)

		tok, err := app.stack.Pool.Get(context.Background(), student.ID)
		require.NoError(t, err)
		assert.True(t, tok.Consumed)
	})

	runHTTPTests(t, app, []httpTest{
		{
			name: "token already consumed", method: http.MethodPost, path: "/v1/accounts/register",
			body: newAcc(student.ID, "other@test.cd"), wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "identity token already consumed"}),
		},
		{
			name: "email taken", method: http.MethodPost, path: "/v1/accounts/register",
			body: newAcc(teacher.ID, "ada@test.cd"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": account.ErrEmailTaken.Error()}),
		},
	})

	tok, err := app.stack.Pool.Get(context.Background(), teacher.ID)
	require.NoError(t, err)
	assert.False(t, tok.Consumed, "a failed registration must not consume the token")
}

func Test_accountApi_login(t *testing.T) {
	app := setup(t)
	reg := app.stack.Register(t, identity.RoleTeacher, "grace@test.cd", "Grace", "Hopper")

	login := func(email, pwd string) []byte {
		return marchallObj(t, account.LoginRequest{Email: email, Password: pwd})
	}
	failed := marchallObj(t, httpErr{Error: account.ErrAuthenticationFailed.Error()})

	runHTTPTests(t, app, []httpTest{
		{
			name: "required fields", method: http.MethodPost, path: "/v1/accounts/login", body: []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": "this field is required", "password": "this field is required"}),
		},
		{
			name: "unknown email", method: http.MethodPost, path: "/v1/accounts/login",
			body: login("nobody@test.cd", testutil.Password), wantCode: http.StatusBadRequest, wantData: failed,
		},
		{
			name: "wrong password", method: http.MethodPost, path: "/v1/accounts/login",
			body: login("grace@test.cd", "nope"), wantCode: http.StatusBadRequest, wantData: failed,
		},
	})

	t.Run("success", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/accounts/login", login("GRACE@test.cd", testutil.Password))
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp LoginResponse
		decode(t, rec, &resp)
		require.NotEmpty(t, resp.Token)

		req, rec = newAuthRequest(http.MethodGet, "/v1/accounts/me", resp.Token)
		app.do(req, rec)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, reg)}, rec)
	})
}

func Test_accountApi_me(t *testing.T) {
	app := setup(t)
	reg := app.stack.Register(t, identity.RoleStudent, "hero@test.cd", "Hero", "Student")
	ghost := account.Registration{Account: account.Account{ID: 1000000001, Email: "ghost@test.cd"}}

	runHTTPTests(t, app, []httpTest{
		{name: "auth required", path: "/v1/accounts/me", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "invalid token", path: "/v1/accounts/me", token: "not.a.jwt", wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "invalid or expired jwt"}),
		},
		{
			name: "unknown account", path: "/v1/accounts/me", token: getToken(t, app, ghost), wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "not authenticated"}),
		},
		{name: "ok", path: "/v1/accounts/me", token: getToken(t, app, reg), wantCode: http.StatusOK, wantData: marchallObj(t, reg)},
	})
}

func Test_accountApi_rateLimit(t *testing.T) {
	limiter := newLimiter(t, 2)
	app := setup(t, func(_ *testutil.Stack, deps *Deps) { deps.Limiter = limiter })

	body := marchallObj(t, account.LoginRequest{Email: "nobody@test.cd", Password: "nope"})
	for i := 0; i < 2; i++ {
		req, rec := newRequest(http.MethodPost, "/v1/accounts/login", body)
		app.do(req, rec)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
	}

	req, rec := newRequest(http.MethodPost, "/v1/accounts/login", body)
	app.do(req, rec)
	checkCodeAndData(t, httpTest{wantCode: http.StatusTooManyRequests, wantData: marchallObj(t, httpErr{Error: "too many requests"})}, rec)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// only the account endpoints are throttled
	req, rec = newRequest(http.MethodGet, "/v1/courses")
	app.do(req, rec)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func Test_accountApi_retrieve(t *testing.T) {
	app := setup(t)
	admin := app.stack.BootstrapAdmin(t, "admin@test.cd")
	teacher := app.stack.Register(t, identity.RoleTeacher, "grace@test.cd", "Grace", "Hopper")
	student := app.stack.Register(t, identity.RoleStudent, "hero@test.cd", "Hero", "Student")
	adminToken := getToken(t, app, admin)

	path := func(id int64) string { return "/v1/accounts/" + strconv.FormatInt(id, 10) }

	runHTTPTests(t, app, []httpTest{
		{name: "auth required", path: path(student.ID), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "admin required", path: path(student.ID), token: getToken(t, app, teacher),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errUnauthorized),
		},
		{
			name: "student", path: path(student.ID), token: adminToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, AccountResponse{Account: student}),
		},
		{
			name: "teacher", path: path(teacher.ID), token: adminToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, AccountResponse{Account: teacher}),
		},
		{
			name: "unknown", path: path(1000000000), token: adminToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: account.ErrNotFound.Error()}),
		},
		{name: "invalid id", path: "/v1/accounts/lol", token: adminToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})},
	})
}

func Test_accountApi_updateProfile(t *testing.T) {
	ctx := context.Background()
	app := setup(t)
	admin := app.stack.BootstrapAdmin(t, "admin@test.cd")
	teacher := app.stack.Register(t, identity.RoleTeacher, "grace@test.cd", "Grace", "Hopper")
	adminToken := getToken(t, app, admin)

	path := "/v1/accounts/" + strconv.FormatInt(teacher.ID, 10) + "/profile"
	fields := marchallObj(t, account.ProfileFields{FirstName: "Grace", LastName: "Murray Hopper", Gender: "F", Subjects: []string{"Computing"}})

	runHTTPTests(t, app, []httpTest{
		{name: "auth required", method: http.MethodPut, path: path, body: fields, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "admin required", method: http.MethodPut, path: path, body: fields, token: getToken(t, app, teacher),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errUnauthorized),
		},
		{
			name: "required fields", method: http.MethodPut, path: path, body: []byte(`{}`), token: adminToken,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"first_name": "this field is required", "last_name": "this field is required"}),
		},
		{
			name: "unknown account", method: http.MethodPut, path: "/v1/accounts/1000000000/profile", body: fields, token: adminToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: account.ErrNotFound.Error()}),
		},
	})

	entries, err := app.stack.AuditLog.Query(ctx, audit.QueryFilter{Action: string(authz.ActionEditProfile)})
	require.NoError(t, err)
	assert.Empty(t, entries, "failed updates are not audited")

	t.Run("success", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, path, adminToken, fields)
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		got, err := app.stack.Registrar.Get(ctx, teacher.ID)
		require.NoError(t, err)
		assert.Equal(t, "Grace Murray Hopper", got.FullName())
		assert.Equal(t, []string{"Computing"}, got.Teacher.Subjects)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, AccountResponse{Account: got})}, rec)

		entries, err := app.stack.AuditLog.Query(ctx, audit.QueryFilter{Action: string(authz.ActionEditProfile)})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, profile.Describe(admin, got), entries[0].Description)
		assert.Equal(t, admin.ID, entries[0].ActorID)
		assert.Equal(t, strconv.FormatInt(teacher.ID, 10), entries[0].TargetID)
	})
}

func Test_accountApi_updateProfile_auditGap(t *testing.T) {
	app := setup(t, func(stack *testutil.Stack, deps *Deps) {
		deps.Metrics = NewMetrics("gap")
		deps.Profiles = profile.NewService(stack.Registrar, stack.Guard, failingAuditor{}, stack.Logger)
	})
	admin := app.stack.BootstrapAdmin(t, "admin@test.cd")
	student := app.stack.Register(t, identity.RoleStudent, "hero@test.cd", "Hero", "Student")

	path := "/v1/accounts/" + strconv.FormatInt(student.ID, 10) + "/profile"
	req, rec := newAuthRequest(http.MethodPut, path, getToken(t, app, admin), marchallObj(t, account.ProfileFields{FirstName: "Hero", LastName: "Renamed"}))
	app.do(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AccountResponse
	decode(t, rec, &resp)
	assert.Equal(t, "Hero Renamed", resp.Account.FullName())
	assert.NotEmpty(t, resp.AuditWarning)

	got, err := app.stack.Registrar.Get(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hero Renamed", got.FullName(), "the update must be kept")

	req, rec = newRequest(http.MethodGet, "/metrics")
	app.do(req, rec)
	assert.Contains(t, rec.Body.String(), "gap_audit_gaps_total 1")
}
