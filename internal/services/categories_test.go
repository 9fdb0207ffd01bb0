package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensetracker/internal/core"
	"expensetracker/internal/storage/memory"
)

func TestSeedIfEmpty(t *testing.T) {
	store := memory.New()
	svc := NewCategoryService(store, nil)

	n, err := svc.SeedIfEmpty(t.Context())
	require.NoError(t, err)
	assert.Equal(t, len(DefaultCatalog()), n)

	n, err = svc.SeedIfEmpty(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)

	cats, err := svc.ListCategories(t.Context())
	require.NoError(t, err)
	assert.Len(t, cats, len(DefaultCatalog()))
}

func TestSubCategories(t *testing.T) {
	store := memory.New()
	svc := NewCategoryService(store, nil)
	_, err := svc.SeedIfEmpty(t.Context())
	require.NoError(t, err)

	subs, err := svc.SubCategories(t.Context(), "Food")
	require.NoError(t, err)
	assert.Contains(t, subs, "Groceries")

	subs, err = svc.SubCategories(t.Context(), "Nope")
	require.NoError(t, err)
	assert.NotNil(t, subs)
	assert.Empty(t, subs)

	subs, err = svc.SubCategories(t.Context(), core.DefaultCategory)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestCategoryResultsAreCopies(t *testing.T) {
	store := memory.New()
	svc := NewCategoryService(store, []core.Category{{Name: "Food", SubCategories: []string{"Groceries"}}})
	_, err := svc.SeedIfEmpty(t.Context())
	require.NoError(t, err)

	cats, err := svc.ListCategories(t.Context())
	require.NoError(t, err)
	cats[0].SubCategories[0] = "changed"

	again, err := svc.ListCategories(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"Groceries"}, again[0].SubCategories)

	subs, err := svc.SubCategories(t.Context(), "Food")
	require.NoError(t, err)
	subs[0] = "changed"
	subs, err = svc.SubCategories(t.Context(), "Food")
	require.NoError(t, err)
	assert.Equal(t, []string{"Groceries"}, subs)
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "categories.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Travel":["Flights","Hotels"]," ":["x"],"Bills":null}`), 0o600))

	cats, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Bills", cats[0].Name)
	assert.Equal(t, []string{}, cats[0].SubCategories)
	assert.Equal(t, core.Category{Name: "Travel", SubCategories: []string{"Flights", "Hotels"}}, cats[1])

	_, err = LoadCatalog(filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[1,2]`), 0o600))
	_, err = LoadCatalog(bad)
	require.Error(t, err)
}
