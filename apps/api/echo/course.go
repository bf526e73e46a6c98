package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core/course"
)

const maxCoursesPageSize = 100

// CourseResponse wraps a single course. AuditWarning is set when the course was created without its audit entry.
type CourseResponse struct {
	Course       course.Course `json:"course"`
	AuditWarning string        `json:"audit_warning,omitempty"`
}

type courseApi struct {
	deps *Deps
}

func registerCourseAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := courseApi{deps: deps}

	cg := g.Group("/courses")

	// un-authed endpoints
	cg.GET("", api.query)
	cg.GET("/:id", api.retrieve)

	// authed endpoints
	cg.POST("", api.create, jwt)
}

// Handlers

func (api *courseApi) query(ctx echo.Context) error {
	ord := new(Ordering)
	ord.Bind(ctx)

	qp := queryParams{ctx: ctx}
	filter := course.QueryFilter{
		Search:    ctx.QueryParam("search"),
		Orderings: ord.Orderings,
		Limit:     qp.limit(maxCoursesPageSize),
	}
	if err := qp.err(); err != nil {
		return err
	}

	courses, err := api.deps.Courses.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return errHttpNotFound
	}
	c, err := api.deps.Courses.Get(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	return ctx.JSON(http.StatusOK, CourseResponse{Course: c})
}

func (api *courseApi) create(ctx echo.Context) error {
	principalID, err := getPrincipalID(ctx)
	if err != nil {
		return err
	}

	var data course.NewCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}

	c, err := api.deps.Courses.Create(ctx.Request().Context(), principalID, data)
	if err != nil {
		var gapErr *course.AuditGapError
		if errors.As(err, &gapErr) {
			api.deps.Metrics.observeAuditGap()
			return ctx.JSON(http.StatusCreated, CourseResponse{Course: c, AuditWarning: gapErr.Error()})
		}
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, CourseResponse{Course: c})
}
