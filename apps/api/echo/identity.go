package echoapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core/authz"
	"github.com/trezcool/masomo-identity/core/identity"
)

const maxTokensPageSize = 1000

// IssueRequest asks for Count tokens. Teachers, when set, is the exact number of Teacher tokens;
// otherwise each role is drawn uniformly.
type IssueRequest struct {
	Count    int  `json:"count"`
	Teachers *int `json:"teachers,omitempty"`
}

type identityApi struct {
	deps *Deps
}

func registerIdentityAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := identityApi{deps: deps}

	ig := g.Group("/identity/tokens", jwt)
	ig.POST("", api.issue, guardMiddleware(deps.Guard, authz.ActionIssueTokens))
	ig.GET("", api.query, guardMiddleware(deps.Guard, authz.ActionViewTokens))
}

// Handlers

func (api *identityApi) issue(ctx echo.Context) error {
	var data IssueRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IssueRequest")
	}
	if data.Count == 0 {
		data.Count = api.deps.Conf.Identity.BatchSize
	}

	var dist identity.RoleDistribution
	if data.Teachers != nil {
		dist = identity.Quota(*data.Teachers)
	}

	toks, err := api.deps.Pool.IssueBatch(ctx.Request().Context(), data.Count, dist)
	if err != nil {
		return errors.Wrap(err, "issuing tokens")
	}
	api.deps.Metrics.observeIssued(toks)

	return ctx.JSON(http.StatusCreated, toks)
}

func (api *identityApi) query(ctx echo.Context) error {
	qp := queryParams{ctx: ctx}
	filter := identity.QueryFilter{
		Consumed: qp.bool("consumed"),
		Limit:    qp.limit(maxTokensPageSize),
	}
	if val := ctx.QueryParam("role"); val != "" {
		role, err := identity.ParseRole(val)
		if err != nil {
			qp.fail("role", err.Error())
		}
		filter.Role = role
	}
	if val := ctx.QueryParam("batch_id"); val != "" {
		batchID, err := uuid.Parse(val)
		if err != nil {
			qp.fail("batch_id", "must be a UUID")
		}
		filter.BatchID = batchID
	}
	if err := qp.err(); err != nil {
		return err
	}

	toks, err := api.deps.Pool.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying tokens")
	}
	if toks == nil {
		toks = []identity.Token{}
	}
	return ctx.JSON(http.StatusOK, toks)
}
