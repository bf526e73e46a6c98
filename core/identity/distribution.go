package identity

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/pkg/errors"
)

// RoleDistribution decides the roles of a batch of n tokens, in issuance order.
type RoleDistribution interface {
	Roles(n int) ([]Role, error)
}

type uniform struct {
	rand io.Reader
}

// Uniform draws every role independently, with equal odds.
func Uniform() RoleDistribution {
	return uniform{rand: rand.Reader}
}

func (d uniform) Roles(n int) ([]Role, error) {
	roles := make([]Role, n)
	for i := range roles {
		flip, err := randInt(d.rand, 2)
		if err != nil {
			return nil, err
		}
		if flip == 0 {
			roles[i] = RoleTeacher
		} else {
			roles[i] = RoleStudent
		}
	}
	return roles, nil
}

func (d uniform) String() string { return "uniform" }

type quota struct {
	teachers int
	rand     io.Reader
}

// Quota issues exactly `teachers` Teacher tokens per batch at random positions, the rest are Student tokens.
func Quota(teachers int) RoleDistribution {
	return quota{teachers: teachers, rand: rand.Reader}
}

func (d quota) Roles(n int) ([]Role, error) {
	if d.teachers < 0 || d.teachers > n {
		return nil, errors.Wrapf(ErrInvalidDistribution, "%d teachers out of %d tokens", d.teachers, n)
	}
	roles := make([]Role, n)
	for i := range roles {
		if i < d.teachers {
			roles[i] = RoleTeacher
		} else {
			roles[i] = RoleStudent
		}
	}
	// Fisher-Yates
	for i := n - 1; i > 0; i-- {
		j, err := randInt(d.rand, int64(i+1))
		if err != nil {
			return nil, err
		}
		roles[i], roles[j] = roles[j], roles[i]
	}
	return roles, nil
}

func (d quota) String() string { return fmt.Sprintf("quota(%d)", d.teachers) }

type fixed []Role

// Fixed repeats the given sequence of roles.
func Fixed(roles ...Role) RoleDistribution {
	return fixed(roles)
}

func (d fixed) Roles(n int) ([]Role, error) {
	if len(d) == 0 {
		return nil, errors.Wrap(ErrInvalidDistribution, "empty sequence")
	}
	for _, role := range d {
		if !role.Valid() {
			return nil, errors.Wrapf(ErrInvalidDistribution, "role %q", role)
		}
	}
	roles := make([]Role, n)
	for i := range roles {
		roles[i] = d[i%len(d)]
	}
	return roles, nil
}

func (d fixed) String() string { return fmt.Sprintf("fixed%v", []Role(d)) }

func randInt(r io.Reader, max int64) (int64, error) {
	n, err := rand.Int(r, big.NewInt(max))
	if err != nil {
		return 0, errors.Wrap(err, "reading random number")
	}
	return n.Int64(), nil
}

// IDGenerator returns a candidate token id.
type IDGenerator func() (int64, error)

// RandomID draws a token id uniformly from the 10-digit space.
func RandomID() (int64, error) {
	n, err := randInt(rand.Reader, Capacity)
	if err != nil {
		return 0, err
	}
	return MinTokenID + n, nil
}
