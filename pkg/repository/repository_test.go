package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/fitdesk/pkg/db/option"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID    string `gorm:"primaryKey"`
	Name  string
	Color string
}

func setupStore(t *testing.T) Repository[widget] {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&widget{}))
	return ProvideStore[widget](conn)
}

func TestStoreUpsertReplacesRow(t *testing.T) {
	ctx := context.Background()
	repo := setupStore(t)

	require.NoError(t, repo.Upsert(ctx, &widget{ID: "w1", Name: "a", Color: "red"}))
	require.NoError(t, repo.Upsert(ctx, &widget{ID: "w1", Name: "b", Color: "blue"}))

	got, err := repo.Get(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "b", got.Name)
	require.Equal(t, "blue", got.Color)

	count, err := repo.Count(ctx, &widget{})
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestStoreGetMissingReturnsNil(t *testing.T) {
	repo := setupStore(t)
	got, err := repo.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStoreFindDeleteClear(t *testing.T) {
	ctx := context.Background()
	repo := setupStore(t)

	require.NoError(t, repo.BatchUpsert(ctx, []*widget{
		{ID: "w2", Name: "b", Color: "red"},
		{ID: "w1", Name: "a", Color: "red"},
		{ID: "w3", Name: "c", Color: "green"},
	}))

	reds, err := repo.Find(ctx, &widget{Color: "red"}, option.ApplyOrderBy("id", "asc"))
	require.NoError(t, err)
	require.Len(t, reds, 2)
	require.Equal(t, "w1", reds[0].ID)

	require.NoError(t, repo.Delete(ctx, "w1"))
	got, err := repo.Get(ctx, "w1")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, repo.Clear(ctx))
	all, err := repo.Find(ctx, &widget{})
	require.NoError(t, err)
	require.Empty(t, all)
}
