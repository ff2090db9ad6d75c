package localstore

import (
	"context"

	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/pkg/db/option"
	"github.com/smallbiznis/fitdesk/pkg/repository"
	"gorm.io/gorm"
)

type gormCollection[M any, P interface {
	*M
	Record
}] struct {
	name  string
	repo  repository.Repository[M]
	newID IDFunc
}

// NewGormCollection stores records of model M in its gorm table.
func NewGormCollection[M any, P interface {
	*M
	Record
}](db *gorm.DB, name string, newID IDFunc) Collection[P] {
	return &gormCollection[M, P]{
		name:  name,
		repo:  repository.ProvideStore[M](db),
		newID: newID,
	}
}

func (c *gormCollection[M, P]) Name() string { return c.name }

func (c *gormCollection[M, P]) Put(ctx context.Context, rec P) (P, error) {
	assignID[P](rec, c.newID)
	if err := c.repo.Upsert(ctx, (*M)(rec)); err != nil {
		return nil, c.wrap("put", err)
	}
	return rec, nil
}

func (c *gormCollection[M, P]) Get(ctx context.Context, id string) (P, error) {
	row, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, c.wrap("get", err)
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return P(row), nil
}

func (c *gormCollection[M, P]) GetAll(ctx context.Context) ([]P, error) {
	rows, err := c.repo.Find(ctx, new(M), option.ApplyOrderBy("id", "asc"))
	if err != nil {
		return nil, c.wrap("get_all", err)
	}
	out := make([]P, 0, len(rows))
	for _, row := range rows {
		out = append(out, P(row))
	}
	return out, nil
}

func (c *gormCollection[M, P]) Delete(ctx context.Context, id string) error {
	if err := c.repo.Delete(ctx, id); err != nil {
		return c.wrap("delete", err)
	}
	return nil
}

func (c *gormCollection[M, P]) Clear(ctx context.Context) error {
	if err := c.repo.Clear(ctx); err != nil {
		return c.wrap("clear", err)
	}
	return nil
}

func (c *gormCollection[M, P]) wrap(op string, err error) error {
	return &apperr.LocalStorageError{Op: op, Collection: c.name, Err: err}
}
