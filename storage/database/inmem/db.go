// Package inmemdb stores everything in memory, behind a single lock.
// Transactions hold the write lock for their whole duration and are rolled back by restoring a snapshot.
package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/audit"
	"github.com/trezcool/masomo-identity/core/bootstrap"
	"github.com/trezcool/masomo-identity/core/course"
	"github.com/trezcool/masomo-identity/core/identity"
)

type (
	DB struct {
		mu sync.RWMutex
		t  tables
	}

	tables struct {
		tokens    map[int64]identity.Token
		tokenSeq  int64
		accounts  map[int64]account.Account
		emails    map[string]int64
		teachers  map[int64]account.TeacherProfile
		students  map[int64]account.StudentProfile
		bootstrap *bootstrap.State
		courses   map[int64]course.Course
		courseSeq int64
		audit     []audit.Entry
	}

	txKey struct{}
)

var _ core.Transactor = (*DB)(nil)

func Open() *DB {
	return &DB{
		t: tables{
			tokens:   make(map[int64]identity.Token),
			accounts: make(map[int64]account.Account),
			emails:   make(map[string]int64),
			teachers: make(map[int64]account.TeacherProfile),
			students: make(map[int64]account.StudentProfile),
			courses:  make(map[int64]course.Course),
		},
	}
}

// clone copies the tables. Stored values are replaced, never mutated in place, so a shallow copy is enough.
func (t tables) clone() tables {
	c := t
	c.tokens = make(map[int64]identity.Token, len(t.tokens))
	for k, v := range t.tokens {
		c.tokens[k] = v
	}
	c.accounts = make(map[int64]account.Account, len(t.accounts))
	for k, v := range t.accounts {
		c.accounts[k] = v
	}
	c.emails = make(map[string]int64, len(t.emails))
	for k, v := range t.emails {
		c.emails[k] = v
	}
	c.teachers = make(map[int64]account.TeacherProfile, len(t.teachers))
	for k, v := range t.teachers {
		c.teachers[k] = v
	}
	c.students = make(map[int64]account.StudentProfile, len(t.students))
	for k, v := range t.students {
		c.students[k] = v
	}
	if t.bootstrap != nil {
		state := *t.bootstrap
		c.bootstrap = &state
	}
	c.courses = make(map[int64]course.Course, len(t.courses))
	for k, v := range t.courses {
		c.courses[k] = v
	}
	c.audit = append([]audit.Entry(nil), t.audit...)
	return c
}

// WithinTx implements core.Transactor.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if db.inTx(ctx) {
		return fn(ctx)
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	snapshot := db.t.clone()
	defer func() {
		if p := recover(); p != nil {
			db.t = snapshot
			panic(p)
		}
		if err != nil {
			db.t = snapshot
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, db)); err != nil {
		return err
	}
	// abandoned by the caller: nothing is kept
	return ctx.Err()
}

func (db *DB) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*DB)
	return owner == db
}

func (db *DB) read(ctx context.Context, fn func(t *tables) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !db.inTx(ctx) {
		db.mu.RLock()
		defer db.mu.RUnlock()
	}
	return fn(&db.t)
}

func (db *DB) write(ctx context.Context, fn func(t *tables) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !db.inTx(ctx) {
		db.mu.Lock()
		defer db.mu.Unlock()
	}
	return fn(&db.t)
}

func limit(n, max int) int {
	if max > 0 && max < n {
		return max
	}
	return n
}
