package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core/audit"
	"github.com/trezcool/masomo-identity/core/authz"
)

const maxAuditPageSize = 1000

type auditApi struct {
	deps *Deps
}

func registerAuditAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := auditApi{deps: deps}
	g.GET("/audit", api.query, jwt, guardMiddleware(deps.Guard, authz.ActionViewAudit))
}

func (api *auditApi) query(ctx echo.Context) error {
	qp := queryParams{ctx: ctx}
	filter := audit.QueryFilter{
		ActorID:     qp.int64("actor_id"),
		ActorType:   audit.ActorType(ctx.QueryParam("actor_type")),
		Action:      ctx.QueryParam("action"),
		TargetType:  ctx.QueryParam("target_type"),
		TargetID:    ctx.QueryParam("target_id"),
		CreatedFrom: qp.time("created_from"),
		CreatedTo:   qp.time("created_to"),
		Limit:       qp.limit(maxAuditPageSize),
	}
	if err := qp.err(); err != nil {
		return err
	}

	entries, err := api.deps.AuditLog.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying audit log")
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}
