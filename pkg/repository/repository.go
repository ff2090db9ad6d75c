package repository

import (
	"context"

	"github.com/smallbiznis/fitdesk/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a keyed table store. Records are addressed by their "id"
// column; Upsert replaces every column of an existing row.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Get(ctx context.Context, id string) (*T, error)
	Upsert(ctx context.Context, resource *T) error
	BatchUpsert(ctx context.Context, resources []*T) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context, query *T) (int64, error)
}
