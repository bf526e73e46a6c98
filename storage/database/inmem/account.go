package inmemdb

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/identity"
)

type accountRepository struct {
	db *DB
}

var _ account.Repository = (*accountRepository)(nil)

func NewAccountRepository(db *DB) account.Repository {
	return &accountRepository{db: db}
}

func (repo *accountRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := repo.db.read(ctx, func(t *tables) error {
		_, exists = t.emails[email]
		return nil
	})
	return exists, err
}

// InsertAccount requires a token with the same id and role, as the accounts foreign key does.
func (repo *accountRepository) InsertAccount(ctx context.Context, acc account.Account) error {
	return repo.db.write(ctx, func(t *tables) error {
		tok, ok := t.tokens[acc.ID]
		if !ok || tok.Role != acc.Role {
			return errors.Errorf("account %d: no %s identity token with this id", acc.ID, acc.Role.Name())
		}
		if _, ok = t.accounts[acc.ID]; ok {
			return errors.Wrapf(identity.ErrTokenAlreadyConsumed, "account %d already exists", acc.ID)
		}
		if _, ok = t.emails[acc.Email]; ok {
			return account.ErrEmailTaken
		}
		t.accounts[acc.ID] = acc
		t.emails[acc.Email] = acc.ID
		return nil
	})
}

func (repo *accountRepository) GetAccount(ctx context.Context, id int64) (account.Account, error) {
	var acc account.Account
	err := repo.db.read(ctx, func(t *tables) error {
		var ok bool
		if acc, ok = t.accounts[id]; !ok {
			return account.ErrNotFound
		}
		return nil
	})
	return acc, err
}

func (repo *accountRepository) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	var acc account.Account
	err := repo.db.read(ctx, func(t *tables) error {
		id, ok := t.emails[email]
		if !ok {
			return account.ErrNotFound
		}
		acc = t.accounts[id]
		return nil
	})
	return acc, err
}

func (repo *accountRepository) UpdatePassword(ctx context.Context, id int64, hash []byte, at time.Time) error {
	return repo.db.write(ctx, func(t *tables) error {
		acc, ok := t.accounts[id]
		if !ok {
			return account.ErrNotFound
		}
		acc.PasswordHash = append([]byte(nil), hash...)
		acc.UpdatedAt = at.UTC()
		t.accounts[id] = acc
		return nil
	})
}

func (repo *accountRepository) InsertTeacherProfile(ctx context.Context, p account.TeacherProfile) error {
	return repo.db.write(ctx, func(t *tables) error {
		if err := checkProfileOwner(t, p.ID, identity.RoleTeacher); err != nil {
			return err
		}
		p.Subjects = append([]string{}, p.Subjects...)
		t.teachers[p.ID] = p
		return nil
	})
}

func (repo *accountRepository) InsertStudentProfile(ctx context.Context, p account.StudentProfile) error {
	return repo.db.write(ctx, func(t *tables) error {
		if err := checkProfileOwner(t, p.ID, identity.RoleStudent); err != nil {
			return err
		}
		t.students[p.ID] = p
		return nil
	})
}

// checkProfileOwner allows one profile per account, of the type its role names.
func checkProfileOwner(t *tables, id int64, role identity.Role) error {
	acc, ok := t.accounts[id]
	if !ok {
		return errors.Wrapf(account.ErrNotFound, "profile %d", id)
	}
	if acc.Role != role {
		return errors.Errorf("account %d is not a %s", id, role.Name())
	}
	_, isTeacher := t.teachers[id]
	_, isStudent := t.students[id]
	if isTeacher || isStudent {
		return errors.Errorf("account %d already has a profile", id)
	}
	return nil
}

func (repo *accountRepository) GetTeacherProfile(ctx context.Context, id int64) (account.TeacherProfile, error) {
	var p account.TeacherProfile
	err := repo.db.read(ctx, func(t *tables) error {
		var ok bool
		if p, ok = t.teachers[id]; !ok {
			return account.ErrProfileNotFound
		}
		return nil
	})
	return p, err
}

func (repo *accountRepository) GetStudentProfile(ctx context.Context, id int64) (account.StudentProfile, error) {
	var p account.StudentProfile
	err := repo.db.read(ctx, func(t *tables) error {
		var ok bool
		if p, ok = t.students[id]; !ok {
			return account.ErrProfileNotFound
		}
		return nil
	})
	return p, err
}

func (repo *accountRepository) UpdateTeacherProfile(ctx context.Context, p account.TeacherProfile) error {
	return repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.teachers[p.ID]; !ok {
			return account.ErrProfileNotFound
		}
		p.Subjects = append([]string{}, p.Subjects...)
		t.teachers[p.ID] = p
		return nil
	})
}

func (repo *accountRepository) UpdateStudentProfile(ctx context.Context, p account.StudentProfile) error {
	return repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.students[p.ID]; !ok {
			return account.ErrProfileNotFound
		}
		t.students[p.ID] = p
		return nil
	})
}
