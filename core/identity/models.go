package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-identity/core"
)

// Role is the role a token is issued for. It is fixed at issuance.
type Role string

const (
	RoleTeacher Role = "T"
	RoleStudent Role = "S"
)

var roleNames = map[Role]string{
	RoleTeacher: "Teacher",
	RoleStudent: "Student",
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) Name() string {
	return roleNames[r]
}

// ParseRole accepts a role code ("T", "S") or name ("teacher", "student"), case insensitive.
func ParseRole(s string) (Role, error) {
	s = core.CleanString(s, true /* lower */)
	for role, name := range roleNames {
		if s == strings.ToLower(string(role)) || s == strings.ToLower(name) {
			return role, nil
		}
	}
	return "", ErrInvalidRole
}

// token ids are 10-digit numbers
const (
	MinTokenID int64 = 1_000_000_000
	MaxTokenID int64 = 9_999_999_999

	// Capacity is the number of distinct token ids.
	Capacity = MaxTokenID - MinTokenID + 1
)

// ValidTokenID reports whether id is a 10-digit number.
func ValidTokenID(id int64) bool {
	return id >= MinTokenID && id <= MaxTokenID
}

// Token is a pre-issued identity an account can be created against, exactly once.
type Token struct {
	ID         int64      `json:"id"`
	Seq        int64      `json:"seq"` // issuance order, pool-wide
	Role       Role       `json:"role"`
	BatchID    uuid.UUID  `json:"batch_id"`
	Consumed   bool       `json:"consumed"`
	IssuedAt   time.Time  `json:"issued_at"`             // UTC
	ConsumedAt *time.Time `json:"consumed_at,omitempty"` // UTC
}

// QueryFilter applies AND operation on its set fields. Results are in issuance order.
type QueryFilter struct {
	Role     Role
	Consumed *bool
	BatchID  uuid.UUID
	Limit    int
}

// Matches reports whether tok satisfies the filter, ignoring Limit.
func (qf QueryFilter) Matches(tok Token) bool {
	if qf.Role != "" && tok.Role != qf.Role {
		return false
	}
	if qf.Consumed != nil && tok.Consumed != *qf.Consumed {
		return false
	}
	if qf.BatchID != uuid.Nil && tok.BatchID != qf.BatchID {
		return false
	}
	return true
}
