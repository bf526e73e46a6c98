package core

import "context"

// Transactor runs a unit of work atomically.
//
// fn receives a context bound to the transaction; repositories called with that context take part in it.
// Every write done by fn commits together, or none does when fn returns an error, panics or ctx is done.
// Calling WithinTx with a context that is already bound to a transaction joins that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
