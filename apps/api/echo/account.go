package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/audit"
)

type LoginResponse struct {
	Token string `json:"token"`
}

// AccountResponse wraps a single account. AuditWarning is set when its profile was updated without an audit entry.
type AccountResponse struct {
	Account      account.Registration `json:"account"`
	AuditWarning string               `json:"audit_warning,omitempty"`
}

type accountApi struct {
	deps *Deps
}

func registerAccountAPI(g *echo.Group, jwt echo.MiddlewareFunc, throttle []echo.MiddlewareFunc, deps *Deps) {
	api := accountApi{deps: deps}

	ag := g.Group("/accounts")

	// un-authed endpoints
	ag.POST("/register", api.register, throttle...)
	ag.POST("/login", api.login, throttle...)

	// authed endpoints
	ag.GET("/me", api.me, jwt)
	ag.GET("/:id", api.retrieve, jwt)
	ag.PUT("/:id/profile", api.updateProfile, jwt)
}

// Handlers

func (api *accountApi) register(ctx echo.Context) error {
	var data account.NewAccount
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAccount")
	}

	reg, err := api.deps.Registrar.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering account")
	}
	api.deps.Metrics.observeRegistration(reg.Role)

	return ctx.JSON(http.StatusCreated, reg)
}

func (api *accountApi) login(ctx echo.Context) error {
	var data account.LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	data.Clean()
	if err := validateLogin(data); err != nil {
		return err
	}

	reg, err := api.deps.Registrar.Authenticate(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := GenerateToken(api.deps.Conf.SecretKey, NewClaims(reg, api.deps.Conf))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func validateLogin(data account.LoginRequest) error {
	var errs []core.FieldError
	if data.Email == "" {
		errs = append(errs, core.FieldError{Field: "email", Error: "this field is required"})
	}
	if data.Password == "" {
		errs = append(errs, core.FieldError{Field: "password", Error: "this field is required"})
	}
	if len(errs) > 0 {
		return core.NewValidationError(nil, errs...)
	}
	return nil
}

func (api *accountApi) me(ctx echo.Context) error {
	reg, err := getContextPrincipal(ctx, api.deps.Registrar)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}
	return ctx.JSON(http.StatusOK, reg)
}

func (api *accountApi) retrieve(ctx echo.Context) error {
	principalID, err := getPrincipalID(ctx)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return errHttpNotFound
	}

	reg, err := api.deps.Profiles.Get(ctx.Request().Context(), principalID, id)
	if err != nil {
		return errors.Wrap(err, "getting account")
	}
	return ctx.JSON(http.StatusOK, AccountResponse{Account: reg})
}

func (api *accountApi) updateProfile(ctx echo.Context) error {
	principalID, err := getPrincipalID(ctx)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return errHttpNotFound
	}

	var data account.ProfileFields
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ProfileFields")
	}

	reg, err := api.deps.Profiles.Update(ctx.Request().Context(), principalID, id, data)
	if err != nil {
		var gapErr *audit.GapError
		if errors.As(err, &gapErr) {
			api.deps.Metrics.observeAuditGap()
			return ctx.JSON(http.StatusOK, AccountResponse{Account: reg, AuditWarning: gapErr.Error()})
		}
		return errors.Wrap(err, "updating profile")
	}
	return ctx.JSON(http.StatusOK, AccountResponse{Account: reg})
}
