package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-identity/core/audit"
	"github.com/trezcool/masomo-identity/storage/database"
)

var auditColumns = []string{
	"id", "event_id", "description", "actor_id", "actor_type", "action", "target_type", "target_id", "created_at",
}

type auditRow struct {
	ID          int64       `db:"id"`
	EventID     uuid.UUID   `db:"event_id"`
	Description string      `db:"description"`
	ActorID     null.Int64  `db:"actor_id"`
	ActorType   string      `db:"actor_type"`
	Action      string      `db:"action"`
	TargetType  null.String `db:"target_type"`
	TargetID    null.String `db:"target_id"`
	CreatedAt   time.Time   `db:"created_at"`
}

func (r auditRow) entry() audit.Entry {
	return audit.Entry{
		ID:          r.ID,
		EventID:     r.EventID,
		Description: r.Description,
		ActorID:     r.ActorID.Int64,
		ActorType:   audit.ActorType(r.ActorType),
		Action:      r.Action,
		TargetType:  r.TargetType.String,
		TargetID:    r.TargetID.String,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

// auditRepository has no update nor delete: the table rejects both.
type auditRepository struct {
	db *sqlx.DB
}

var _ audit.Repository = (*auditRepository)(nil)

func NewAuditRepository(db *sqlx.DB) audit.Repository {
	return &auditRepository{db: db}
}

func (repo *auditRepository) AppendEntry(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	q, args, err := psql.Insert("audit_log").
		Columns(auditColumns[1:]...).
		Values(
			e.EventID,
			e.Description,
			null.NewInt64(e.ActorID, e.ActorID != 0),
			string(e.ActorType),
			e.Action,
			null.NewString(e.TargetType, e.TargetType != ""),
			null.NewString(e.TargetID, e.TargetID != ""),
			e.CreatedAt.UTC(),
		).
		Suffix("ON CONFLICT (event_id) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return audit.Entry{}, errors.Wrap(err, "building query")
	}

	ex := database.Executor(ctx, repo.db)
	err = sqlx.GetContext(ctx, ex, &e.ID, q, args...)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, storageErr("appending audit entry", err)
	}

	// already appended by an earlier attempt
	q, args, err = psql.Select(auditColumns...).From("audit_log").Where(squirrel.Eq{"event_id": e.EventID}).ToSql()
	if err != nil {
		return audit.Entry{}, errors.Wrap(err, "building query")
	}
	var row auditRow
	if err = sqlx.GetContext(ctx, ex, &row, q, args...); err != nil {
		return audit.Entry{}, storageErr("getting audit entry", err)
	}
	return row.entry(), nil
}

func (repo *auditRepository) QueryEntries(ctx context.Context, filter audit.QueryFilter) ([]audit.Entry, error) {
	sb := psql.Select(auditColumns...).From("audit_log").OrderBy("id ASC")
	eq := squirrel.Eq{}
	if filter.ActorID != 0 {
		eq["actor_id"] = filter.ActorID
	}
	if filter.ActorType != "" {
		eq["actor_type"] = string(filter.ActorType)
	}
	if filter.Action != "" {
		eq["action"] = filter.Action
	}
	if filter.TargetType != "" {
		eq["target_type"] = filter.TargetType
	}
	if filter.TargetID != "" {
		eq["target_id"] = filter.TargetID
	}
	if len(eq) > 0 {
		sb = sb.Where(eq)
	}
	if !filter.CreatedFrom.IsZero() {
		sb = sb.Where(squirrel.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
	}
	if !filter.CreatedTo.IsZero() {
		sb = sb.Where(squirrel.LtOrEq{"created_at": filter.CreatedTo.UTC()})
	}
	q, args, err := limit(sb, filter.Limit).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []auditRow
	if err = sqlx.SelectContext(ctx, database.Executor(ctx, repo.db), &rows, q, args...); err != nil {
		return nil, storageErr("querying audit log", err)
	}
	entries := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}
