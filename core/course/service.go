package course

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/audit"
	"github.com/trezcool/masomo-identity/core/authz"
)

var (
	// errors
	ErrNotFound  = core.NewError(core.KindNotFound, "course not found")
	ErrCodeTaken = core.NewError(core.KindInvalid, "a course with this course code already exists")
	ErrNameTaken = core.NewError(core.KindInvalid, "a course with this course name already exists")
)

const targetType = "course"

// AuditGapError is returned along with a created Course when its audit entry could not be appended.
type AuditGapError = audit.GapError

type (
	Repository interface {
		// InsertCourse fails with ErrCodeTaken or ErrNameTaken when either is already used.
		InsertCourse(ctx context.Context, c Course) (Course, error)
		GetCourse(ctx context.Context, id int64) (Course, error)
		QueryCourses(ctx context.Context, filter QueryFilter) ([]Course, error)
	}

	Authorizer interface {
		Require(ctx context.Context, principalID int64, action authz.Action) (account.Registration, error)
	}

	Auditor interface {
		Record(ctx context.Context, ne audit.NewEntry) (audit.Entry, error)
	}

	Service struct {
		repo     Repository
		guard    Authorizer
		auditLog Auditor
		validate *validator.Validate
		logger   core.Logger
	}
)

func NewService(repo Repository, guard Authorizer, auditLog Auditor, validate *validator.Validate, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		guard:    guard,
		auditLog: auditLog,
		validate: validate,
		logger:   logger,
	}
}

// Create creates a course on behalf of principalID, then appends its audit entry.
// A denied principal gets authz.ErrUnauthorized and nothing is written.
// If the audit append fails the created course is returned with an *AuditGapError.
func (svc *Service) Create(ctx context.Context, principalID int64, nc NewCourse) (Course, error) {
	actor, err := svc.guard.Require(ctx, principalID, authz.ActionCreateCourse)
	if err != nil {
		return Course{}, err
	}

	nc.Clean()
	if err = svc.validate.Struct(nc); err != nil {
		return Course{}, err
	}

	now := core.NowFunc()
	c, err := svc.repo.InsertCourse(ctx, Course{
		Code:      nc.Code,
		Name:      nc.Name,
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeTaken):
			return Course{}, core.NewValidationError(err, core.FieldError{Field: "course_code", Error: err.Error()})
		case errors.Is(err, ErrNameTaken):
			return Course{}, core.NewValidationError(err, core.FieldError{Field: "course_name", Error: err.Error()})
		}
		return Course{}, errors.Wrap(err, "creating course")
	}

	ne := audit.NewEntry{
		Description: Describe(actor, c),
		ActorID:     actor.ID,
		ActorType:   audit.ActorTypeOf(actor),
		Action:      string(authz.ActionCreateCourse),
		TargetType:  targetType,
		TargetID:    strconv.FormatInt(c.ID, 10),
	}
	if _, err = svc.auditLog.Record(ctx, ne); err != nil {
		svc.logger.Error(fmt.Sprintf("course %d created without audit entry", c.ID), err, actor)
		return c, &AuditGapError{Entry: ne, Err: err}
	}
	return c, nil
}

// Describe renders the audit description of a course creation.
func Describe(actor account.Registration, c Course) string {
	return fmt.Sprintf(
		"%s with ID: %d created a new Course with course code: %s and course name: %s.",
		actor.FullName(), actor.ID, c.Code, c.Name,
	)
}

func (svc *Service) Get(ctx context.Context, id int64) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Course, error) {
	filter.Clean()
	return svc.repo.QueryCourses(ctx, filter)
}
