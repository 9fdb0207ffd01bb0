package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
	"expensetracker/internal/storage"
)

const (
	categoryCacheTTL     = 5 * time.Minute
	categoryCacheCleanup = 10 * time.Minute
	allCategoriesKey     = "categories:all"
	subCategoriesPrefix  = "categories:sub:"
)

// DefaultCatalog is seeded into an empty store.
func DefaultCatalog() []core.Category {
	return []core.Category{
		{Name: core.DefaultCategory, SubCategories: []string{}},
		{Name: "Housing", SubCategories: []string{"Rent", "Mortgage", "Utilities", "Maintenance", "Insurance"}},
		{Name: "Food", SubCategories: []string{"Groceries", "Restaurants", "Takeaway", "Coffee"}},
		{Name: "Transport", SubCategories: []string{"Public Transport", "Fuel", "Parking", "Taxi", "Car Maintenance"}},
		{Name: "Health", SubCategories: []string{"Insurance", "Pharmacy", "Doctor", "Dentist"}},
		{Name: "Shopping", SubCategories: []string{"Clothing", "Electronics", "Household", "Gifts"}},
		{Name: "Leisure", SubCategories: []string{"Entertainment", "Sports", "Travel", "Subscriptions"}},
		{Name: "Finance", SubCategories: []string{"Bank Fees", "Taxes", "Savings", "Investments"}},
		{Name: "Income", SubCategories: []string{"Salary", "Refund", "Interest", "Transfer"}},
	}
}

// LoadCatalog reads a JSON object mapping category names to subcategories.
func LoadCatalog(path string) ([]core.Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category catalog: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse category catalog %s: %w", path, err)
	}
	out := make([]core.Category, 0, len(raw))
	for name, subs := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if subs == nil {
			subs = []string{}
		}
		out = append(out, core.Category{Name: name, SubCategories: subs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CategoryService serves the read-mostly category catalog through a short
// lived cache.
type CategoryService struct {
	store   storage.CategoryStore
	catalog []core.Category
	cache   *gocache.Cache
}

// NewCategoryService seeds from catalog, or DefaultCatalog when it is empty.
func NewCategoryService(store storage.CategoryStore, catalog []core.Category) *CategoryService {
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	return &CategoryService{
		store:   store,
		catalog: catalog,
		cache:   gocache.New(categoryCacheTTL, categoryCacheCleanup),
	}
}

// SeedIfEmpty inserts the catalog when the store holds no categories and
// reports how many were written.
func (s *CategoryService) SeedIfEmpty(ctx context.Context) (int, error) {
	n, err := s.store.CountCategories(ctx)
	if err != nil {
		return 0, fmt.Errorf("count categories: %w", err)
	}
	if n > 0 {
		return 0, nil
	}
	if err := s.store.InsertCategories(ctx, s.catalog); err != nil {
		return 0, fmt.Errorf("seed categories: %w", err)
	}
	s.cache.Flush()
	slog.InfoContext(ctx, "Seeded categories",
		log.FieldComponent, log.ComponentCategory,
		"count", len(s.catalog))
	return len(s.catalog), nil
}

func (s *CategoryService) ListCategories(ctx context.Context) ([]core.Category, error) {
	if v, ok := s.cache.Get(allCategoriesKey); ok {
		return cloneCategories(v.([]core.Category)), nil
	}
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	s.cache.SetDefault(allCategoriesKey, cats)
	return cloneCategories(cats), nil
}

// SubCategories returns the subcategories of name, or an empty list when the
// category is unknown.
func (s *CategoryService) SubCategories(ctx context.Context, name string) ([]string, error) {
	key := subCategoriesPrefix + name
	if v, ok := s.cache.Get(key); ok {
		return append([]string{}, v.([]string)...), nil
	}
	cat, err := s.store.GetCategory(ctx, name)
	switch {
	case err == nil:
	case core.IsNotFound(err):
		cat = &core.Category{Name: name}
	default:
		return nil, fmt.Errorf("get category %q: %w", name, err)
	}
	subs := append([]string{}, cat.SubCategories...)
	s.cache.SetDefault(key, subs)
	return append([]string{}, subs...), nil
}

func cloneCategories(in []core.Category) []core.Category {
	out := make([]core.Category, len(in))
	for i, c := range in {
		out[i] = core.Category{Name: c.Name, SubCategories: append([]string{}, c.SubCategories...)}
	}
	return out
}
