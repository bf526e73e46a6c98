package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/masomo-identity/apps/api/echo"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/services/ratelimit"
	"github.com/trezcool/masomo-identity/tests"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errUnauthorized = httpErr{Error: "Unauthorized"}
)

type testApp struct {
	*Server
	stack *testutil.Stack
	deps  Deps
}

// setup serves a fresh in-memory stack. opts may override the server dependencies.
func setup(t *testing.T, opts ...func(*testutil.Stack, *Deps)) *testApp {
	t.Helper()

	stack := testutil.NewStack(t)
	deps := Deps{
		Conf:           stack.Conf,
		Logger:         stack.Logger,
		Translator:     stack.Translator,
		Pool:           stack.Pool,
		Registrar:      stack.Registrar,
		Guard:          stack.Guard,
		AuditLog:       stack.AuditLog,
		Courses:        stack.Courses,
		Profiles:       stack.Profiles,
		Limiter:        newLimiter(t, stack.Conf.RateLimit.Limit),
		Metrics:        NewMetrics("test"),
		DisableReqLogs: true,
	}
	for _, opt := range opts {
		opt(stack, &deps)
	}

	srv := NewServer(deps)
	t.Cleanup(func() { _ = srv.Close() })
	return &testApp{Server: srv, stack: stack, deps: deps}
}

func (app *testApp) do(req *http.Request, rec *httptest.ResponseRecorder) {
	app.ServeHTTP(rec, req)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, app *testApp, reg account.Registration) string {
	t.Helper()
	token, err := GenerateToken(app.deps.Conf.SecretKey, NewClaims(reg, app.deps.Conf))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			app.do(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if !assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), v)) {
		t.FailNow()
	}
}

func newLimiter(t *testing.T, limit int64) *ratelimitsvc.Limiter {
	t.Helper()
	conf := testutil.Config()
	conf.RateLimit.Limit = limit
	limiter, err := ratelimitsvc.NewLimiter(conf.Redis, conf.RateLimit)
	if err != nil {
		t.Fatalf("NewLimiter() failed: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	return limiter
}
