package identity_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/identity"
	"github.com/trezcool/masomo-identity/storage/database/inmem"
	"github.com/trezcool/masomo-identity/tests"
)

func newPool(opts ...identity.Option) (*identity.Pool, identity.Repository) {
	db := inmemdb.Open()
	repo := inmemdb.NewTokenRepository(db)
	return identity.NewPool(db, repo, testutil.Logger(), opts...), repo
}

// sequence returns the given ids in order, then fails.
func sequence(ids ...int64) identity.IDGenerator {
	var i int
	return func() (int64, error) {
		if i >= len(ids) {
			return 0, errors.New("sequence exhausted")
		}
		i++
		return ids[i-1], nil
	}
}

func countRoles(toks []identity.Token) map[identity.Role]int {
	counts := make(map[identity.Role]int)
	for _, tok := range toks {
		counts[tok.Role]++
	}
	return counts
}

func TestRoleDistribution(t *testing.T) {
	t.Run("uniform", func(t *testing.T) {
		roles, err := identity.Uniform().Roles(200)
		require.NoError(t, err)
		require.Len(t, roles, 200)
		var teachers int
		for _, role := range roles {
			require.True(t, role.Valid())
			if role == identity.RoleTeacher {
				teachers++
			}
		}
		assert.NotZero(t, teachers)
		assert.NotEqual(t, 200, teachers)
	})

	t.Run("quota", func(t *testing.T) {
		for _, teachers := range []int{0, 1, 7, 10} {
			roles, err := identity.Quota(teachers).Roles(10)
			require.NoError(t, err)
			var got int
			for _, role := range roles {
				if role == identity.RoleTeacher {
					got++
				}
			}
			assert.Equal(t, teachers, got)
		}

		for _, teachers := range []int{-1, 11} {
			_, err := identity.Quota(teachers).Roles(10)
			assert.True(t, errors.Is(err, identity.ErrInvalidDistribution), "teachers=%d", teachers)
		}
	})

	t.Run("fixed", func(t *testing.T) {
		roles, err := identity.Fixed(identity.RoleTeacher, identity.RoleStudent).Roles(5)
		require.NoError(t, err)
		assert.Equal(t, []identity.Role{"T", "S", "T", "S", "T"}, roles)

		_, err = identity.Fixed().Roles(1)
		assert.True(t, errors.Is(err, identity.ErrInvalidDistribution))
		_, err = identity.Fixed("X").Roles(1)
		assert.True(t, errors.Is(err, identity.ErrInvalidDistribution))
	})
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    identity.Role
		wantErr error
	}{
		{in: "T", want: identity.RoleTeacher},
		{in: " s ", want: identity.RoleStudent},
		{in: "Teacher", want: identity.RoleTeacher},
		{in: "STUDENT", want: identity.RoleStudent},
		{in: "admin", wantErr: identity.ErrInvalidRole},
		{in: "", wantErr: identity.ErrInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := identity.ParseRole(tt.in)
			assert.Equal(t, tt.wantErr, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRandomID(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id, err := identity.RandomID()
		require.NoError(t, err)
		require.True(t, identity.ValidTokenID(id), "id %d", id)
	}
	assert.False(t, identity.ValidTokenID(999999999))
	assert.False(t, identity.ValidTokenID(10000000000))
}

func TestPool_IssueBatch(t *testing.T) {
	ctx := context.Background()
	pool, _ := newPool()

	first, err := pool.IssueBatch(ctx, 50, identity.Quota(20))
	require.NoError(t, err)
	second, err := pool.IssueBatch(ctx, 50, nil)
	require.NoError(t, err)

	assert.Equal(t, 20, countRoles(first)[identity.RoleTeacher])
	assert.NotEqual(t, first[0].BatchID, second[0].BatchID)

	ids := make(map[int64]struct{})
	var lastSeq int64
	for _, tok := range append(first, second...) {
		assert.True(t, identity.ValidTokenID(tok.ID))
		assert.False(t, tok.Consumed)
		assert.Nil(t, tok.ConsumedAt)
		assert.Greater(t, tok.Seq, lastSeq, "tokens are issued in sequence")
		lastSeq = tok.Seq
		ids[tok.ID] = struct{}{}
	}
	assert.Len(t, ids, 100, "ids are unique pool-wide")

	all, err := pool.Query(ctx, identity.QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 100)

	for _, count := range []int{0, -1, identity.DefaultMaxBatchSize + 1} {
		_, err = pool.IssueBatch(ctx, count, nil)
		assert.True(t, errors.Is(err, identity.ErrInvalidCount), "count=%d", count)
		assert.Equal(t, core.KindInvalid, core.KindOf(err))
	}
}

func TestPool_IssueBatch_collision(t *testing.T) {
	ctx := context.Background()
	pool, _ := newPool(identity.WithIDGenerator(sequence(
		1000000001, 1000000002, // first batch
		1000000001, 1000000002, 1000000003, // collisions with the first batch are redrawn
	)))

	_, err := pool.IssueBatch(ctx, 2, identity.Fixed(identity.RoleStudent))
	require.NoError(t, err)

	toks, err := pool.IssueBatch(ctx, 1, identity.Fixed(identity.RoleTeacher))
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, int64(1000000003), toks[0].ID)
	assert.Equal(t, identity.RoleTeacher, toks[0].Role)
}

func TestPool_IssueBatch_exhausted(t *testing.T) {
	ctx := context.Background()
	same := func() (int64, error) { return 1000000001, nil }
	pool, repo := newPool(identity.WithIDGenerator(same), identity.WithMaxAttempts(5))

	_, err := pool.IssueBatch(ctx, 3, nil)
	assert.True(t, errors.Is(err, identity.ErrPoolExhausted))
	assert.Equal(t, core.KindExhausted, core.KindOf(err))

	count, err := repo.CountTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "the whole batch is rolled back")
}

func TestPool_IssueBatch_invalidID(t *testing.T) {
	pool, _ := newPool(identity.WithIDGenerator(sequence(123)))
	_, err := pool.IssueBatch(context.Background(), 1, nil)
	assert.Error(t, err)
}

func TestTokenRepository_ConsumeToken(t *testing.T) {
	ctx := context.Background()
	pool, repo := newPool()
	toks, err := pool.IssueBatch(ctx, 2, nil)
	require.NoError(t, err)

	now := core.NowFunc()
	consumed, err := repo.ConsumeToken(ctx, toks[0].ID, now)
	require.NoError(t, err)
	assert.True(t, consumed.Consumed)
	require.NotNil(t, consumed.ConsumedAt)
	assert.True(t, consumed.ConsumedAt.Equal(now))

	_, err = repo.ConsumeToken(ctx, toks[0].ID, now)
	assert.Equal(t, identity.ErrTokenAlreadyConsumed, errors.Cause(err))
	_, err = repo.ConsumeToken(ctx, 1000000000, now)
	assert.Equal(t, identity.ErrTokenNotFound, errors.Cause(err))

	bTrue, bFalse := true, false
	got, err := pool.Query(ctx, identity.QueryFilter{Consumed: &bTrue})
	require.NoError(t, err)
	assert.Equal(t, []identity.Token{consumed}, got)
	got, err = pool.Query(ctx, identity.QueryFilter{Consumed: &bFalse})
	require.NoError(t, err)
	assert.Equal(t, []identity.Token{toks[1]}, got)
}
