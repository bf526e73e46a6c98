package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/audit"
	"github.com/trezcool/masomo-identity/core/authz"
	"github.com/trezcool/masomo-identity/core/course"
	"github.com/trezcool/masomo-identity/core/identity"
	"github.com/trezcool/masomo-identity/core/profile"
	"github.com/trezcool/masomo-identity/services/ratelimit"
)

type (
	Deps struct {
		Conf       *core.Config
		Logger     core.Logger
		Translator ut.Translator

		Pool      *identity.Pool
		Registrar *account.Registrar
		Guard     *authz.Guard
		AuditLog  *audit.Log
		Courses   *course.Service
		Profiles  *profile.Service

		// Limiter throttles the public account endpoints; nil disables throttling.
		Limiter *ratelimitsvc.Limiter
		Metrics *Metrics

		DisableReqLogs bool
	}

	Server struct {
		deps     Deps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics("")
	}
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(&s.deps, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	s.app.GET("/health", health)
	s.app.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(newJWTConfig(conf.SecretKey))

	var throttle []echo.MiddlewareFunc
	if s.deps.Limiter != nil {
		throttle = append(throttle, rateLimitMiddleware(s.deps.Limiter, s.deps.Metrics))
	}

	registerAccountAPI(v1, jwt, throttle, &s.deps)
	registerIdentityAPI(v1, jwt, &s.deps)
	registerCourseAPI(v1, jwt, &s.deps)
	registerAuditAPI(v1, jwt, &s.deps)
}

// Start listens on the server address. Listening errors are sent to Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already signaled
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	signal.Stop(s.shutdown)
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}

func health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
