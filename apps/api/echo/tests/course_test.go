package tests

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/masomo-identity/apps/api/echo"
	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/audit"
	"github.com/trezcool/masomo-identity/core/authz"
	"github.com/trezcool/masomo-identity/core/course"
	"github.com/trezcool/masomo-identity/core/identity"
	"github.com/trezcool/masomo-identity/tests"
)

func Test_courseApi_create(t *testing.T) {
	app := setup(t)
	admin := app.stack.BootstrapAdmin(t, "admin@test.cd")
	teacher := app.stack.Register(t, identity.RoleTeacher, "teacher@test.cd", "Grace", "Hopper")
	student := app.stack.Register(t, identity.RoleStudent, "student@test.cd", "Hero", "Student")
	adminToken := getToken(t, app, admin)

	newCourse := func(code, name string) []byte {
		return marchallObj(t, course.NewCourse{Code: code, Name: name})
	}

	runHTTPTests(t, app, []httpTest{
		{
			name: "auth required", method: http.MethodPost, path: "/v1/courses", body: newCourse("CS101", "Intro"),
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "admin required (teacher)", method: http.MethodPost, path: "/v1/courses", token: getToken(t, app, teacher),
			body: newCourse("CS101", "Intro"), wantCode: http.StatusForbidden, wantData: marchallObj(t, errUnauthorized),
		},
		{
			name: "admin required (student)", method: http.MethodPost, path: "/v1/courses", token: getToken(t, app, student),
			body: newCourse("CS101", "Intro"), wantCode: http.StatusForbidden, wantData: marchallObj(t, errUnauthorized),
		},
		{
			name: "required fields", method: http.MethodPost, path: "/v1/courses", token: adminToken, body: []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"course_code": "this field is required", "course_name": "this field is required"}),
		},
		{
			name: "invalid code", method: http.MethodPost, path: "/v1/courses", token: adminToken,
			body: newCourse("CS-101", "Intro"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"course_code": "only alphanumeric characters and underscores are allowed"}),
		},
	})

	var created course.Course
	t.Run("success", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/courses", adminToken, newCourse(" CS101 ", "Intro to  Computing"))
		app.do(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.NotContains(t, rec.Body.String(), "audit_warning")

		var resp CourseResponse
		decode(t, rec, &resp)
		created = resp.Course

		assert.Equal(t, "CS101", created.Code)
		assert.Equal(t, admin.ID, created.CreatedBy)

		entries, err := app.stack.AuditLog.Query(context.Background(), audit.QueryFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, course.Describe(admin, created), entries[0].Description)
		assert.Equal(t, admin.ID, entries[0].ActorID)
		assert.Equal(t, audit.ActorAdmin, entries[0].ActorType)
		assert.Equal(t, string(authz.ActionCreateCourse), entries[0].Action)
		assert.Equal(t, strconv.FormatInt(created.ID, 10), entries[0].TargetID)
	})

	runHTTPTests(t, app, []httpTest{
		{
			name: "code taken", method: http.MethodPost, path: "/v1/courses", token: adminToken,
			body: newCourse("CS101", "Another"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"course_code": course.ErrCodeTaken.Error()}),
		},
		{
			name: "name taken", method: http.MethodPost, path: "/v1/courses", token: adminToken,
			body: newCourse("CS102", created.Name), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"course_name": course.ErrNameTaken.Error()}),
		},
	})
}

type failingAuditor struct{}

func (failingAuditor) Record(context.Context, audit.NewEntry) (audit.Entry, error) {
	return audit.Entry{}, core.NewStorageError("appending audit entry", errors.New("connection refused"))
}

func Test_courseApi_create_auditGap(t *testing.T) {
	app := setup(t, func(stack *testutil.Stack, deps *Deps) {
		deps.Metrics = NewMetrics("gap")
		deps.Courses = course.NewService(stack.CourseRepo, stack.Guard, failingAuditor{}, stack.Validate, stack.Logger)
	})
	admin := app.stack.BootstrapAdmin(t, "admin@test.cd")

	req, rec := newAuthRequest(http.MethodPost, "/v1/courses", getToken(t, app, admin), marchallObj(t, course.NewCourse{Code: "CS101", Name: "Intro"}))
	app.do(req, rec)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CourseResponse
	decode(t, rec, &resp)
	assert.Equal(t, "CS101", resp.Course.Code)
	assert.NotEmpty(t, resp.AuditWarning)

	_, err := app.stack.Courses.Get(context.Background(), resp.Course.ID)
	assert.NoError(t, err, "the course must be kept")

	req, rec = newRequest(http.MethodGet, "/metrics")
	app.do(req, rec)
	assert.Contains(t, rec.Body.String(), "gap_audit_gaps_total 1")
}

func Test_courseApi_query(t *testing.T) {
	app := setup(t)
	admin := app.stack.BootstrapAdmin(t, "admin@test.cd")

	create := func(code, name string) course.Course {
		c, err := app.stack.Courses.Create(context.Background(), admin.ID, course.NewCourse{Code: code, Name: name})
		require.NoError(t, err)
		return c
	}
	c1 := create("MATH1", "Algebra")
	c2 := create("CS101", "Intro to Computing")
	c3 := create("CS201", "Data Structures")

	path := func(search, ordering string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		return "/v1/courses?" + v.Encode()
	}

	runHTTPTests(t, app, []httpTest{
		{name: "get all", path: "/v1/courses", wantCode: http.StatusOK, wantData: marchallList(t, c1, c2, c3)},
		{name: "search (unknown)", path: path("lol", ""), wantCode: http.StatusOK, wantData: marchallList(t)},
		{name: "search=cs", path: path("cs", ""), wantCode: http.StatusOK, wantData: marchallList(t, c2, c3)},
		{name: "search by name", path: path("STRUCT", ""), wantCode: http.StatusOK, wantData: marchallList(t, c3)},
		{name: "ordering=-course_code", path: path("", "-course_code"), wantCode: http.StatusOK, wantData: marchallList(t, c1, c3, c2)},
		{name: "ordering=course_name", path: path("", "course_name"), wantCode: http.StatusOK, wantData: marchallList(t, c1, c3, c2)},
		{name: "unknown ordering ignored", path: path("", "lol"), wantCode: http.StatusOK, wantData: marchallList(t, c1, c2, c3)},
		{name: "limit", path: "/v1/courses?limit=1", wantCode: http.StatusOK, wantData: marchallList(t, c1)},
		{
			name: "invalid limit", path: "/v1/courses?limit=x", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"limit": "must be an integer"}),
		},
		{name: "retrieve", path: "/v1/courses/" + strconv.FormatInt(c2.ID, 10), wantCode: http.StatusOK, wantData: marchallObj(t, map[string]course.Course{"course": c2})},
		{
			name: "retrieve (unknown)", path: "/v1/courses/999", wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: course.ErrNotFound.Error()}),
		},
		{name: "retrieve (invalid id)", path: "/v1/courses/lol", wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})},
	})
}
