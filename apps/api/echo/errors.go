package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/authz"
)

var (
	errUnauthenticated = echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	errHttpForbidden   = echo.NewHTTPError(http.StatusForbidden, string(authz.ReasonUnauthorized))
	errHttpNotFound    = echo.NewHTTPError(http.StatusNotFound, "not found")
	errTooManyRequests = echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
)

var kindStatus = map[core.ErrorKind]int{
	core.KindInvalid:      http.StatusBadRequest,
	core.KindNotFound:     http.StatusNotFound,
	core.KindConflict:     http.StatusConflict,
	core.KindExhausted:    http.StatusServiceUnavailable,
	core.KindUnauthorized: http.StatusForbidden,
	core.KindDurability:   http.StatusServiceUnavailable,
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(deps *Deps, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var (
			code    int
			message interface{}
			httpErr *echo.HTTPError
			fldErrs validator.ValidationErrors
			vErr    *core.ValidationError
		)

		switch {
		case errors.As(err, &httpErr):
			if httpErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = httpErr.Message
				break
			}
			if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
				httpErr = herr
			}
			code = httpErr.Code
			message = httpErr.Message
		case errors.As(err, &fldErrs):
			code = http.StatusBadRequest
			message = core.TranslateErrors(fldErrs, deps.Translator)
		case errors.As(err, &vErr):
			code = http.StatusBadRequest
			if len(vErr.Fields) > 0 {
				flds := make(map[string]string, len(vErr.Fields))
				for _, fErr := range vErr.Fields {
					flds[fErr.Field] = fErr.Error
				}
				message = flds
			} else {
				message = vErr.Error()
			}
		case core.KindOf(err) == core.KindUnauthorized:
			// never tell why
			code = http.StatusForbidden
			message = string(authz.ReasonUnauthorized)
		case core.KindOf(err) != core.KindUnknown:
			kind := core.KindOf(err)
			code = kindStatus[kind]
			message = errors.Cause(err).Error()
			switch kind {
			case core.KindDurability:
				deps.Logger.Error(err.Error(), err)
				message = http.StatusText(code)
			case core.KindExhausted:
				deps.Logger.Warn(err.Error())
			}
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			var args []interface{}
			args = append(args, errors.Wrap(err, msg))
			if principal, ok := ctx.Get(contextPrincipalKey).(account.Registration); ok {
				args = append(args, principal)
			}
			deps.Logger.Error(msg, args...)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code >= http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
