package course

import (
	"time"

	"github.com/trezcool/masomo-identity/core"
)

type Course struct {
	ID        int64     `json:"id"`
	Code      string    `json:"course_code"`
	Name      string    `json:"course_name"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Code string `json:"course_code" validate:"required,max=20,alphanum_"`
	Name string `json:"course_name" validate:"required,max=255"`
}

func (nc *NewCourse) Clean() {
	nc.Code = core.CleanString(nc.Code)
	nc.Name = core.CleanString(nc.Name)
}

// sortable fields
var orderingFields = map[string]struct{}{
	"id":          {},
	"course_code": {},
	"course_name": {},
	"created_at":  {},
}

// QueryFilter.Search does a case-insensitive match on one of Course.Code or Course.Name.
type QueryFilter struct {
	Search    string
	Orderings []core.DBOrdering
	Limit     int
}

// Clean drops orderings on unknown fields. The caller's Orderings slice is left untouched.
func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	orderings := make([]core.DBOrdering, 0, len(qf.Orderings))
	for _, ord := range qf.Orderings {
		if _, ok := orderingFields[ord.Field]; ok {
			orderings = append(orderings, ord)
		}
	}
	qf.Orderings = orderings
}
