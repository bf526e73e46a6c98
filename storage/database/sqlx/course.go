package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core/course"
	"github.com/trezcool/masomo-identity/storage/database"
)

var courseColumns = []string{"id", "course_code", "course_name", "created_by", "created_at", "updated_at"}

type courseRow struct {
	ID        int64     `db:"id"`
	Code      string    `db:"course_code"`
	Name      string    `db:"course_name"`
	CreatedBy int64     `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r courseRow) course() course.Course {
	return course.Course{
		ID:        r.ID,
		Code:      r.Code,
		Name:      r.Name,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type courseRepository struct {
	db *sqlx.DB
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db *sqlx.DB) course.Repository {
	return &courseRepository{db: db}
}

func (repo *courseRepository) InsertCourse(ctx context.Context, c course.Course) (course.Course, error) {
	q, args, err := psql.Insert("courses").
		Columns("course_code", "course_name", "created_by", "created_at", "updated_at").
		Values(c.Code, c.Name, c.CreatedBy, c.CreatedAt.UTC(), c.UpdatedAt.UTC()).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return course.Course{}, errors.Wrap(err, "building query")
	}

	if err = sqlx.GetContext(ctx, database.Executor(ctx, repo.db), &c.ID, q, args...); err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case "courses_course_code_key":
				return course.Course{}, course.ErrCodeTaken
			case "courses_course_name_key":
				return course.Course{}, course.ErrNameTaken
			}
		}
		return course.Course{}, storageErr("inserting course", err)
	}
	return c, nil
}

func (repo *courseRepository) GetCourse(ctx context.Context, id int64) (course.Course, error) {
	q, args, err := psql.Select(courseColumns...).From("courses").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return course.Course{}, errors.Wrap(err, "building query")
	}

	var row courseRow
	if err = sqlx.GetContext(ctx, database.Executor(ctx, repo.db), &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, storageErr("getting course", err)
	}
	return row.course(), nil
}

func (repo *courseRepository) QueryCourses(ctx context.Context, filter course.QueryFilter) ([]course.Course, error) {
	sb := psql.Select(courseColumns...).From("courses")
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		sb = sb.Where(squirrel.Or{
			squirrel.ILike{"course_code": pattern},
			squirrel.ILike{"course_name": pattern},
		})
	}
	// fields are whitelisted by QueryFilter.Clean
	for _, ord := range filter.Orderings {
		sb = sb.OrderBy(ord.String())
	}
	q, args, err := limit(sb.OrderBy("id ASC"), filter.Limit).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []courseRow
	if err = sqlx.SelectContext(ctx, database.Executor(ctx, repo.db), &rows, q, args...); err != nil {
		return nil, storageErr("querying courses", err)
	}
	courses := make([]course.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, row.course())
	}
	return courses, nil
}
