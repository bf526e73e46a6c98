package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-identity/core"
)

var (
	orderingParam = "ordering"
	limitParam    = "limit"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field != "" {
			ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
}

// queryParams parses query parameters, collecting failures per parameter.
type queryParams struct {
	ctx  echo.Context
	errs []core.FieldError
}

func (qp *queryParams) fail(name, msg string) {
	qp.errs = append(qp.errs, core.FieldError{Field: name, Error: msg})
}

func (qp *queryParams) int64(name string) int64 {
	val := qp.ctx.QueryParam(name)
	if val == "" {
		return 0
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		qp.fail(name, "must be an integer")
	}
	return n
}

func (qp *queryParams) limit(max int) int {
	n := qp.int64(limitParam)
	if n < 0 || n > int64(max) {
		qp.fail(limitParam, "must be between 0 and "+strconv.Itoa(max))
		return 0
	}
	return int(n)
}

func (qp *queryParams) bool(name string) *bool {
	val := qp.ctx.QueryParam(name)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		qp.fail(name, "must be a boolean")
		return nil
	}
	return &b
}

func (qp *queryParams) time(name string) time.Time {
	val := qp.ctx.QueryParam(name)
	if val == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		qp.fail(name, "must be an RFC 3339 date-time")
	}
	return t.UTC()
}

func (qp *queryParams) err() error {
	if len(qp.errs) == 0 {
		return nil
	}
	return core.NewValidationError(nil, qp.errs...)
}
