// Package option holds composable query modifiers for the generic
// repository.
package option

import (
	"fmt"

	"gorm.io/gorm"
)

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryFunc func(db *gorm.DB) *gorm.DB

func (f queryFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// ApplyOrderBy orders results by column. Direction is "asc" or "desc".
func ApplyOrderBy(column, direction string) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		if column == "" {
			return db
		}
		if direction != "desc" {
			direction = "asc"
		}
		return db.Order(fmt.Sprintf("%s %s", column, direction))
	})
}
