package tests

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-identity/core/audit"
	"github.com/trezcool/masomo-identity/core/course"
	"github.com/trezcool/masomo-identity/core/identity"
)

func Test_auditApi_query(t *testing.T) {
	app := setup(t)
	admin := app.stack.BootstrapAdmin(t, "admin@test.cd")
	teacher := app.stack.Register(t, identity.RoleTeacher, "teacher@test.cd", "Grace", "Hopper")
	adminToken := getToken(t, app, admin)

	ctx := context.Background()
	c1, err := app.stack.Courses.Create(ctx, admin.ID, course.NewCourse{Code: "MATH1", Name: "Algebra"})
	require.NoError(t, err)
	_, err = app.stack.AuditLog.Record(ctx, audit.NewEntry{
		Description: "Grace Hopper updated her profile.",
		ActorID:     teacher.ID,
		ActorType:   audit.ActorTeacher,
		Action:      "account:update",
		TargetType:  "account",
		TargetID:    strconv.FormatInt(teacher.ID, 10),
	})
	require.NoError(t, err)

	entries, err := app.stack.AuditLog.Query(ctx, audit.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	e1, e2 := entries[0], entries[1]

	path := func(params ...string) string {
		v := make(url.Values)
		for i := 0; i+1 < len(params); i += 2 {
			v.Add(params[i], params[i+1])
		}
		return "/v1/audit?" + v.Encode()
	}
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	runHTTPTests(t, app, []httpTest{
		{name: "auth required", path: "/v1/audit", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "admin required", path: "/v1/audit", token: getToken(t, app, teacher),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errUnauthorized),
		},
		{name: "get all", path: "/v1/audit", token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, e1, e2)},
		{
			name: "actor_type=A", path: path("actor_type", string(audit.ActorAdmin)), token: adminToken,
			wantCode: http.StatusOK, wantData: marchallList(t, e1),
		},
		{
			name: "actor_id", path: path("actor_id", strconv.FormatInt(teacher.ID, 10)), token: adminToken,
			wantCode: http.StatusOK, wantData: marchallList(t, e2),
		},
		{
			name: "target", path: path("target_type", "course", "target_id", strconv.FormatInt(c1.ID, 10)), token: adminToken,
			wantCode: http.StatusOK, wantData: marchallList(t, e1),
		},
		{
			name: "action", path: path("action", "account:update"), token: adminToken,
			wantCode: http.StatusOK, wantData: marchallList(t, e2),
		},
		{
			name: "limit", path: path("limit", "1"), token: adminToken,
			wantCode: http.StatusOK, wantData: marchallList(t, e1),
		},
		{name: "created_from (future)", path: path("created_from", future), token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t)},
		{name: "created_to (future)", path: path("created_to", future), token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, e1, e2)},
		{
			name: "invalid params", path: path("actor_id", "x", "created_from", "yesterday"), token: adminToken,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"actor_id": "must be an integer", "created_from": "must be an RFC 3339 date-time"}),
		},
	})
}
