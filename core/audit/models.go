package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
)

// ActorType tags who performed an audited action.
type ActorType string

const (
	ActorAdmin   ActorType = "A"
	ActorTeacher ActorType = "T"
	ActorStudent ActorType = "S"
	ActorSystem  ActorType = "SYS"
)

// ActorTypeOf returns the actor type of a principal; administrators are tagged ActorAdmin.
func ActorTypeOf(principal account.Registration) ActorType {
	switch {
	case principal.IsAdmin():
		return ActorAdmin
	case principal.IsTeacher():
		return ActorTeacher
	case principal.IsStudent():
		return ActorStudent
	}
	return ActorSystem
}

// Entry is an immutable record of a completed privileged mutation. IDs grow in append order.
type Entry struct {
	ID          int64     `json:"id"`
	EventID     uuid.UUID `json:"event_id"`
	Description string    `json:"description"`
	ActorID     int64     `json:"actor_id,omitempty"` // 0 for ActorSystem
	ActorType   ActorType `json:"actor_type"`
	Action      string    `json:"action"`
	TargetType  string    `json:"target_type,omitempty"`
	TargetID    string    `json:"target_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"` // UTC
}

// NewEntry holds what is needed to append an Entry.
type NewEntry struct {
	Description string    `validate:"required,max=1000"`
	ActorID     int64     `validate:"required_unless=ActorType SYS"`
	ActorType   ActorType `validate:"required,oneof=A T S SYS"`
	Action      string    `validate:"required,max=100"`
	TargetType  string    `validate:"max=50"`
	TargetID    string    `validate:"max=100"`
}

// GapError is returned along with the result of a committed mutation whose audit entry could not be appended.
// Entry is what should have been recorded.
type GapError struct {
	Entry NewEntry
	Err   error
}

func (e *GapError) Error() string {
	return e.Entry.Action + " committed without audit entry: " + e.Err.Error()
}

func (e *GapError) Unwrap() error { return e.Err }

// QueryFilter applies AND operation on its set fields. Results are in append order.
type QueryFilter struct {
	ActorID     int64
	ActorType   ActorType
	Action      string
	TargetType  string
	TargetID    string
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
}

func (qf *QueryFilter) Clean() {
	qf.Action = core.CleanString(qf.Action)
	qf.TargetType = core.CleanString(qf.TargetType)
	qf.TargetID = core.CleanString(qf.TargetID)
}

// Matches reports whether e satisfies the filter, ignoring Limit.
func (qf QueryFilter) Matches(e Entry) bool {
	switch {
	case qf.ActorID != 0 && e.ActorID != qf.ActorID,
		qf.ActorType != "" && e.ActorType != qf.ActorType,
		qf.Action != "" && e.Action != qf.Action,
		qf.TargetType != "" && e.TargetType != qf.TargetType,
		qf.TargetID != "" && e.TargetID != qf.TargetID,
		!qf.CreatedFrom.IsZero() && e.CreatedAt.Before(qf.CreatedFrom),
		!qf.CreatedTo.IsZero() && e.CreatedAt.After(qf.CreatedTo):
		return false
	}
	return true
}
