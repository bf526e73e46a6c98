// Package sqlxrepos implements the repositories on Postgres, with sqlx and squirrel.
// Every repository joins the transaction bound to its context, if any.
package sqlxrepos

import (
	"database/sql"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// uniqueViolation returns the name of the violated unique constraint, if err is one.
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return pqErr.Constraint, true
	}
	return "", false
}

// storageErr classifies err as a storage failure, keeping sentinels and sql.ErrNoRows as they are.
func storageErr(op string, err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return core.NewStorageError(op, err)
}

func limit(q squirrel.SelectBuilder, n int) squirrel.SelectBuilder {
	if n > 0 {
		return q.Limit(uint64(n))
	}
	return q
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
