// Package profile lets administrators read and edit the profile of any account.
package profile

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/audit"
	"github.com/trezcool/masomo-identity/core/authz"
)

const targetType = "account"

type (
	Registrar interface {
		Get(ctx context.Context, id int64) (account.Registration, error)
		UpdateProfile(ctx context.Context, id int64, pf account.ProfileFields) (account.Registration, error)
	}

	Authorizer interface {
		Require(ctx context.Context, principalID int64, action authz.Action) (account.Registration, error)
	}

	Auditor interface {
		Record(ctx context.Context, ne audit.NewEntry) (audit.Entry, error)
	}

	Service struct {
		registrar Registrar
		guard     Authorizer
		auditLog  Auditor
		logger    core.Logger
	}
)

func NewService(registrar Registrar, guard Authorizer, auditLog Auditor, logger core.Logger) *Service {
	return &Service{
		registrar: registrar,
		guard:     guard,
		auditLog:  auditLog,
		logger:    logger,
	}
}

// Update replaces the profile of account id on behalf of principalID, then appends its audit entry.
// A denied principal gets authz.ErrUnauthorized and nothing is written.
// If the audit append fails the updated registration is returned with an *audit.GapError.
func (svc *Service) Update(ctx context.Context, principalID, id int64, pf account.ProfileFields) (account.Registration, error) {
	actor, err := svc.guard.Require(ctx, principalID, authz.ActionEditProfile)
	if err != nil {
		return account.Registration{}, err
	}

	reg, err := svc.registrar.UpdateProfile(ctx, id, pf)
	if err != nil {
		return account.Registration{}, errors.Wrapf(err, "updating profile %d", id)
	}

	ne := audit.NewEntry{
		Description: Describe(actor, reg),
		ActorID:     actor.ID,
		ActorType:   audit.ActorTypeOf(actor),
		Action:      string(authz.ActionEditProfile),
		TargetType:  targetType,
		TargetID:    strconv.FormatInt(reg.ID, 10),
	}
	if _, err = svc.auditLog.Record(ctx, ne); err != nil {
		svc.logger.Error(fmt.Sprintf("profile %d updated without audit entry", reg.ID), err, actor)
		return reg, &audit.GapError{Entry: ne, Err: err}
	}
	return reg, nil
}

// Describe renders the audit description of a profile update.
func Describe(actor, target account.Registration) string {
	return fmt.Sprintf(
		"%s with ID: %d updated the %s profile of %s with ID: %d.",
		actor.FullName(), actor.ID, target.Role.Name(), target.FullName(), target.ID,
	)
}

// Get returns account id with its profile on behalf of principalID.
func (svc *Service) Get(ctx context.Context, principalID, id int64) (account.Registration, error) {
	if _, err := svc.guard.Require(ctx, principalID, authz.ActionViewAccount); err != nil {
		return account.Registration{}, err
	}
	return svc.registrar.Get(ctx, id)
}
