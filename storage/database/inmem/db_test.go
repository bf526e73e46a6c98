package inmemdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/bootstrap"
	"github.com/trezcool/masomo-identity/core/course"
	"github.com/trezcool/masomo-identity/core/identity"
	"github.com/trezcool/masomo-identity/storage/database/inmem"
)

var errBoom = errors.New("boom")

func newToken(id int64, role identity.Role) identity.Token {
	return identity.Token{ID: id, Role: role, BatchID: uuid.New(), IssuedAt: time.Now().UTC()}
}

func TestDB_WithinTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		db := inmemdb.Open()
		tokens := inmemdb.NewTokenRepository(db)

		err := db.WithinTx(ctx, func(ctx context.Context) error {
			_, err := tokens.InsertToken(ctx, newToken(1_000_000_001, identity.RoleTeacher))
			return err
		})
		require.NoError(t, err)

		n, err := tokens.CountTokens(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("rollback", func(t *testing.T) {
		db := inmemdb.Open()
		tokens := inmemdb.NewTokenRepository(db)
		courses := inmemdb.NewCourseRepository(db)
		boot := inmemdb.NewBootstrapRepository(db)

		_, err := tokens.InsertToken(ctx, newToken(1_000_000_001, identity.RoleTeacher))
		require.NoError(t, err)

		err = db.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := tokens.InsertToken(ctx, newToken(1_000_000_002, identity.RoleStudent)); err != nil {
				return err
			}
			if _, err := tokens.ConsumeToken(ctx, 1_000_000_001, time.Now()); err != nil {
				return err
			}
			if _, err := courses.InsertCourse(ctx, course.Course{Code: "CS101", Name: "Intro"}); err != nil {
				return err
			}
			if err := boot.Begin(ctx, time.Now()); err != nil {
				return err
			}
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)

		n, err := tokens.CountTokens(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		tok, err := tokens.GetToken(ctx, 1_000_000_001)
		require.NoError(t, err)
		assert.False(t, tok.Consumed)
		assert.Nil(t, tok.ConsumedAt)

		cs, err := courses.QueryCourses(ctx, course.QueryFilter{})
		require.NoError(t, err)
		assert.Empty(t, cs)

		_, err = boot.Get(ctx)
		assert.ErrorIs(t, err, bootstrap.ErrNotBootstrapped)

		// sequences are restored too
		c, err := courses.InsertCourse(ctx, course.Course{Code: "CS101", Name: "Intro"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, c.ID)
	})

	t.Run("rollback on panic", func(t *testing.T) {
		db := inmemdb.Open()
		tokens := inmemdb.NewTokenRepository(db)

		assert.Panics(t, func() {
			_ = db.WithinTx(ctx, func(ctx context.Context) error {
				_, _ = tokens.InsertToken(ctx, newToken(1_000_000_001, identity.RoleTeacher))
				panic("boom")
			})
		})

		n, err := tokens.CountTokens(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("nested transactions join the outer one", func(t *testing.T) {
		db := inmemdb.Open()
		tokens := inmemdb.NewTokenRepository(db)

		err := db.WithinTx(ctx, func(ctx context.Context) error {
			err := db.WithinTx(ctx, func(ctx context.Context) error {
				_, err := tokens.InsertToken(ctx, newToken(1_000_000_001, identity.RoleTeacher))
				return err
			})
			if err != nil {
				return err
			}
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)

		n, err := tokens.CountTokens(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "the inner work is rolled back with the outer transaction")
	})

	t.Run("cancelled", func(t *testing.T) {
		db := inmemdb.Open()
		tokens := inmemdb.NewTokenRepository(db)

		cctx, cancel := context.WithCancel(ctx)
		err := db.WithinTx(cctx, func(ctx context.Context) error {
			_, err := tokens.InsertToken(ctx, newToken(1_000_000_001, identity.RoleTeacher))
			cancel()
			return err
		})
		assert.ErrorIs(t, err, context.Canceled)

		n, err := tokens.CountTokens(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		err = db.WithinTx(cctx, func(context.Context) error {
			t.Fatal("must not run")
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTokenRepository(t *testing.T) {
	ctx := context.Background()
	db := inmemdb.Open()
	tokens := inmemdb.NewTokenRepository(db)

	t1, err := tokens.InsertToken(ctx, newToken(9_000_000_000, identity.RoleTeacher))
	require.NoError(t, err)
	t2, err := tokens.InsertToken(ctx, newToken(1_000_000_000, identity.RoleStudent))
	require.NoError(t, err)
	assert.Less(t, t1.Seq, t2.Seq)

	_, err = tokens.InsertToken(ctx, newToken(9_000_000_000, identity.RoleStudent))
	assert.ErrorIs(t, err, identity.ErrDuplicateID)

	_, err = tokens.GetToken(ctx, 42)
	assert.ErrorIs(t, err, identity.ErrTokenNotFound)

	// issuance order, not id order
	all, err := tokens.QueryTokens(ctx, identity.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, t1.ID, all[0].ID)
	assert.Equal(t, t2.ID, all[1].ID)

	t.Run("consume once", func(t *testing.T) {
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			consumed int
			conflict int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := tokens.ConsumeToken(ctx, t1.ID, time.Now())
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					consumed++
				case errors.Is(err, identity.ErrTokenAlreadyConsumed):
					conflict++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, consumed)
		assert.Equal(t, 9, conflict)

		_, err := tokens.ConsumeToken(ctx, 42, time.Now())
		assert.ErrorIs(t, err, identity.ErrTokenNotFound)
	})
}

func TestAccountRepository_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	db := inmemdb.Open()
	tokens := inmemdb.NewTokenRepository(db)
	accounts := inmemdb.NewAccountRepository(db)

	now := time.Now().UTC()
	for _, tok := range []identity.Token{newToken(1_000_000_001, identity.RoleTeacher), newToken(1_000_000_002, identity.RoleStudent)} {
		_, err := tokens.InsertToken(ctx, tok)
		require.NoError(t, err)
	}
	for _, acc := range []account.Account{
		{ID: 1_000_000_001, Email: "grace@test.cd", Role: identity.RoleTeacher, CreatedAt: now, UpdatedAt: now},
		{ID: 1_000_000_002, Email: "hero@test.cd", Role: identity.RoleStudent, CreatedAt: now, UpdatedAt: now},
	} {
		require.NoError(t, accounts.InsertAccount(ctx, acc))
	}
	require.NoError(t, accounts.InsertTeacherProfile(ctx, account.TeacherProfile{ID: 1_000_000_001, FirstName: "Grace", LastName: "Hopper", IsAdmin: true, Subjects: []string{}}))
	require.NoError(t, accounts.InsertStudentProfile(ctx, account.StudentProfile{ID: 1_000_000_002, FirstName: "Hero", LastName: "Student"}))

	t.Run("teacher", func(t *testing.T) {
		subjects := []string{"Computing"}
		p := account.TeacherProfile{ID: 1_000_000_001, FirstName: "Grace", LastName: "Brewster", IsAdmin: true, Subjects: subjects}
		require.NoError(t, accounts.UpdateTeacherProfile(ctx, p))
		subjects[0] = "changed"

		got, err := accounts.GetTeacherProfile(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "Brewster", got.LastName)
		assert.Equal(t, []string{"Computing"}, got.Subjects, "the stored subjects are a copy")
	})

	t.Run("student", func(t *testing.T) {
		p := account.StudentProfile{ID: 1_000_000_002, FirstName: "Hero", LastName: "Renamed", Gender: "M"}
		require.NoError(t, accounts.UpdateStudentProfile(ctx, p))

		got, err := accounts.GetStudentProfile(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	})

	t.Run("no such profile", func(t *testing.T) {
		tests := []struct {
			name   string
			update func() error
		}{
			{name: "unknown teacher", update: func() error {
				return accounts.UpdateTeacherProfile(ctx, account.TeacherProfile{ID: 42})
			}},
			{name: "unknown student", update: func() error {
				return accounts.UpdateStudentProfile(ctx, account.StudentProfile{ID: 42})
			}},
			{name: "student as teacher", update: func() error {
				return accounts.UpdateTeacherProfile(ctx, account.TeacherProfile{ID: 1_000_000_002})
			}},
			{name: "teacher as student", update: func() error {
				return accounts.UpdateStudentProfile(ctx, account.StudentProfile{ID: 1_000_000_001})
			}},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				assert.ErrorIs(t, tc.update(), account.ErrProfileNotFound)
			})
		}
	})

	t.Run("rolled back with the transaction", func(t *testing.T) {
		err := db.WithinTx(ctx, func(ctx context.Context) error {
			if err := accounts.UpdateStudentProfile(ctx, account.StudentProfile{ID: 1_000_000_002, FirstName: "Temp", LastName: "Name"}); err != nil {
				return err
			}
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)

		got, err := accounts.GetStudentProfile(ctx, 1_000_000_002)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.LastName)
	})
}
