package inmemdb

import (
	"context"

	"github.com/trezcool/masomo-identity/core/audit"
)

type auditRepository struct {
	db *DB
}

var _ audit.Repository = (*auditRepository)(nil)

func NewAuditRepository(db *DB) audit.Repository {
	return &auditRepository{db: db}
}

func (repo *auditRepository) AppendEntry(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		for _, existing := range t.audit {
			if existing.EventID == e.EventID {
				e = existing
				return nil
			}
		}
		e.ID = int64(len(t.audit)) + 1
		e.CreatedAt = e.CreatedAt.UTC()
		t.audit = append(t.audit, e)
		return nil
	})
	if err != nil {
		return audit.Entry{}, err
	}
	return e, nil
}

func (repo *auditRepository) QueryEntries(ctx context.Context, filter audit.QueryFilter) ([]audit.Entry, error) {
	var entries []audit.Entry
	err := repo.db.read(ctx, func(t *tables) error {
		entries = make([]audit.Entry, 0)
		for _, e := range t.audit {
			if filter.Matches(e) {
				entries = append(entries, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries[:limit(len(entries), filter.Limit)], nil
}
