// Package localstore is the on-device record store. Every collection is
// durable when the database is healthy and drops to an in-memory copy for
// the rest of the session when it is not.
package localstore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not_found")

// Record is implemented by the pointer type of every stored model.
type Record interface {
	RecordID() string
	AssignID(id string)
}

// Collection is the per-type store contract. Put upserts by id and assigns
// one when absent; Delete of a missing id succeeds.
type Collection[T Record] interface {
	Name() string
	Put(ctx context.Context, rec T) (T, error)
	Get(ctx context.Context, id string) (T, error)
	GetAll(ctx context.Context) ([]T, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// IDFunc generates ids for records stored without one.
type IDFunc func() string

func assignID[T Record](rec T, newID IDFunc) {
	if rec.RecordID() == "" && newID != nil {
		rec.AssignID(newID())
	}
}
