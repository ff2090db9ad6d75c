package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: members.email")))
	assert.False(t, IsDuplicateKeyErr(errors.New("boom")))
	assert.False(t, IsDuplicateKeyErr(nil))
}

func TestIsUnavailableErr(t *testing.T) {
	assert.True(t, IsUnavailableErr(errors.New("database or disk is full (13)")))
	assert.True(t, IsUnavailableErr(errors.New("attempt to write a readonly database")))
	assert.True(t, IsUnavailableErr(&pgconn.PgError{Code: "53100"}))
	assert.True(t, IsUnavailableErr(gorm.ErrInvalidDB))
	assert.False(t, IsUnavailableErr(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUnavailableErr(gorm.ErrRecordNotFound))
}

func TestDialect(t *testing.T) {
	d, err := Dialect(Config{Type: "sqlite", Path: "file::memory:"})
	assert.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	d, err = Dialect(Config{Type: "postgres", Host: "localhost", Port: "5432"})
	assert.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = Dialect(Config{Type: "oracle"})
	assert.Error(t, err)
}
