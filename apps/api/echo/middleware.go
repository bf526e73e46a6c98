package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/authz"
	"github.com/trezcool/masomo-identity/services/ratelimit"
)

// guardMiddleware lets through principals allowed to perform action.
func guardMiddleware(guard *authz.Guard, action authz.Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id, err := getPrincipalID(ctx)
			if err != nil {
				return err
			}
			principal, err := guard.Require(ctx.Request().Context(), id, action)
			if err != nil {
				return errors.Wrapf(err, "authorizing %s", action)
			}
			ctx.Set(contextPrincipalKey, principal)
			return next(ctx)
		}
	}
}

// rateLimitMiddleware throttles requests per client IP.
func rateLimitMiddleware(limiter *ratelimitsvc.Limiter, metrics *Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			res, err := limiter.Allow(ctx.Request().Context(), ctx.RealIP())
			if err != nil {
				// fail open
				ctx.Logger().Errorf("%+v", err)
				return next(ctx)
			}

			h := ctx.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
			if res.Reached {
				metrics.observeRateLimited()
				h.Set("Retry-After", strconv.FormatInt(int64(res.Reset.Sub(core.NowFunc()).Seconds())+1, 10))
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}
