package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/identity"
	"github.com/trezcool/masomo-identity/storage/database"
)

var (
	accountColumns = []string{"id", "email", "role", "password_hash", "created_at", "updated_at"}
	teacherColumns = []string{"id", "first_name", "last_name", "gender", "birthday", "profile_picture", "is_admin", "subjects"}
	studentColumns = []string{"id", "first_name", "last_name", "gender", "birthday", "profile_picture"}
)

type accountRow struct {
	ID           int64     `db:"id"`
	Email        string    `db:"email"`
	Role         string    `db:"role"`
	PasswordHash []byte    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r accountRow) account() account.Account {
	return account.Account{
		ID:           r.ID,
		Email:        r.Email,
		Role:         identity.Role(r.Role),
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type profileRow struct {
	ID             int64          `db:"id"`
	FirstName      string         `db:"first_name"`
	LastName       string         `db:"last_name"`
	Gender         string         `db:"gender"`
	Birthday       null.Time      `db:"birthday"`
	ProfilePicture string         `db:"profile_picture"`
	IsAdmin        bool           `db:"is_admin"`
	Subjects       pq.StringArray `db:"subjects"`
}

func (r profileRow) birthday() *time.Time {
	if !r.Birthday.Valid {
		return nil
	}
	b := r.Birthday.Time.UTC()
	return &b
}

func (r profileRow) teacher() account.TeacherProfile {
	subjects := []string(r.Subjects)
	if subjects == nil {
		subjects = []string{}
	}
	return account.TeacherProfile{
		ID:             r.ID,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Gender:         r.Gender,
		Birthday:       r.birthday(),
		ProfilePicture: r.ProfilePicture,
		IsAdmin:        r.IsAdmin,
		Subjects:       subjects,
	}
}

func (r profileRow) student() account.StudentProfile {
	return account.StudentProfile{
		ID:             r.ID,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Gender:         r.Gender,
		Birthday:       r.birthday(),
		ProfilePicture: r.ProfilePicture,
	}
}

type accountRepository struct {
	db *sqlx.DB
}

var _ account.Repository = (*accountRepository)(nil)

func NewAccountRepository(db *sqlx.DB) account.Repository {
	return &accountRepository{db: db}
}

func (repo *accountRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(
		ctx, database.Executor(ctx, repo.db), &exists,
		"SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)", email,
	)
	return exists, storageErr("checking email", err)
}

func (repo *accountRepository) InsertAccount(ctx context.Context, acc account.Account) error {
	q, args, err := psql.Insert("accounts").
		Columns(accountColumns...).
		Values(acc.ID, acc.Email, string(acc.Role), acc.PasswordHash, acc.CreatedAt.UTC(), acc.UpdatedAt.UTC()).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	if _, err = database.Executor(ctx, repo.db).ExecContext(ctx, q, args...); err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case "accounts_email_key":
				return account.ErrEmailTaken
			case "accounts_pkey":
				return errors.Wrapf(identity.ErrTokenAlreadyConsumed, "account %d already exists", acc.ID)
			}
		}
		return storageErr("inserting account", err)
	}
	return nil
}

func (repo *accountRepository) getAccount(ctx context.Context, where squirrel.Eq) (account.Account, error) {
	q, args, err := psql.Select(accountColumns...).From("accounts").Where(where).ToSql()
	if err != nil {
		return account.Account{}, errors.Wrap(err, "building query")
	}

	var row accountRow
	if err = sqlx.GetContext(ctx, database.Executor(ctx, repo.db), &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, account.ErrNotFound
		}
		return account.Account{}, storageErr("getting account", err)
	}
	return row.account(), nil
}

func (repo *accountRepository) GetAccount(ctx context.Context, id int64) (account.Account, error) {
	return repo.getAccount(ctx, squirrel.Eq{"id": id})
}

func (repo *accountRepository) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	return repo.getAccount(ctx, squirrel.Eq{"email": email})
}

func (repo *accountRepository) UpdatePassword(ctx context.Context, id int64, hash []byte, at time.Time) error {
	q, args, err := psql.Update("accounts").
		Set("password_hash", hash).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	res, err := database.Executor(ctx, repo.db).ExecContext(ctx, q, args...)
	if err != nil {
		return storageErr("updating password", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storageErr("updating password", err)
	} else if n == 0 {
		return account.ErrNotFound
	}
	return nil
}

func (repo *accountRepository) InsertTeacherProfile(ctx context.Context, p account.TeacherProfile) error {
	if p.Subjects == nil {
		p.Subjects = []string{} // NOT NULL
	}
	q, args, err := psql.Insert("teacher_profiles").
		Columns(teacherColumns...).
		Values(p.ID, p.FirstName, p.LastName, p.Gender, null.TimeFromPtr(p.Birthday), p.ProfilePicture, p.IsAdmin, pq.StringArray(p.Subjects)).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	_, err = database.Executor(ctx, repo.db).ExecContext(ctx, q, args...)
	return storageErr("inserting teacher profile", err)
}

func (repo *accountRepository) InsertStudentProfile(ctx context.Context, p account.StudentProfile) error {
	q, args, err := psql.Insert("student_profiles").
		Columns(studentColumns...).
		Values(p.ID, p.FirstName, p.LastName, p.Gender, null.TimeFromPtr(p.Birthday), p.ProfilePicture).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	_, err = database.Executor(ctx, repo.db).ExecContext(ctx, q, args...)
	return storageErr("inserting student profile", err)
}

func (repo *accountRepository) getProfile(ctx context.Context, table string, cols []string, id int64) (profileRow, error) {
	q, args, err := psql.Select(cols...).From(table).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return profileRow{}, errors.Wrap(err, "building query")
	}

	var row profileRow
	if err = sqlx.GetContext(ctx, database.Executor(ctx, repo.db), &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return profileRow{}, account.ErrProfileNotFound
		}
		return profileRow{}, storageErr("getting profile", err)
	}
	return row, nil
}

func (repo *accountRepository) GetTeacherProfile(ctx context.Context, id int64) (account.TeacherProfile, error) {
	row, err := repo.getProfile(ctx, "teacher_profiles", teacherColumns, id)
	if err != nil {
		return account.TeacherProfile{}, err
	}
	return row.teacher(), nil
}

func (repo *accountRepository) GetStudentProfile(ctx context.Context, id int64) (account.StudentProfile, error) {
	row, err := repo.getProfile(ctx, "student_profiles", studentColumns, id)
	if err != nil {
		return account.StudentProfile{}, err
	}
	return row.student(), nil
}

func (repo *accountRepository) updateProfile(ctx context.Context, ub squirrel.UpdateBuilder) error {
	q, args, err := ub.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	res, err := database.Executor(ctx, repo.db).ExecContext(ctx, q, args...)
	if err != nil {
		return storageErr("updating profile", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storageErr("updating profile", err)
	} else if n == 0 {
		return account.ErrProfileNotFound
	}
	return nil
}

func (repo *accountRepository) UpdateTeacherProfile(ctx context.Context, p account.TeacherProfile) error {
	if p.Subjects == nil {
		p.Subjects = []string{} // NOT NULL
	}
	return repo.updateProfile(ctx, psql.Update("teacher_profiles").
		Set("first_name", p.FirstName).
		Set("last_name", p.LastName).
		Set("gender", p.Gender).
		Set("birthday", null.TimeFromPtr(p.Birthday)).
		Set("profile_picture", p.ProfilePicture).
		Set("is_admin", p.IsAdmin).
		Set("subjects", pq.StringArray(p.Subjects)).
		Where(squirrel.Eq{"id": p.ID}),
	)
}

func (repo *accountRepository) UpdateStudentProfile(ctx context.Context, p account.StudentProfile) error {
	return repo.updateProfile(ctx, psql.Update("student_profiles").
		Set("first_name", p.FirstName).
		Set("last_name", p.LastName).
		Set("gender", p.Gender).
		Set("birthday", null.TimeFromPtr(p.Birthday)).
		Set("profile_picture", p.ProfilePicture).
		Where(squirrel.Eq{"id": p.ID}),
	)
}
