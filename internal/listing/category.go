package listing

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// Category groups listings for browsing. The set is seeded at install
// time and rarely changes.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// CategoryStore reads the category catalog.
type CategoryStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]*Category, error)
}

// DefaultCategories is the seed catalog used by the in-memory store and
// the initial migration.
var DefaultCategories = []*Category{
	{ID: "textbooks", Name: "Textbooks"},
	{ID: "electronics", Name: "Electronics"},
	{ID: "furniture", Name: "Furniture"},
	{ID: "clothing", Name: "Clothing"},
	{ID: "tickets", Name: "Event Tickets"},
	{ID: "bikes", Name: "Bikes & Scooters"},
	{ID: "other", Name: "Other"},
}

// MemoryCategoryStore is an in-memory category catalog.
type MemoryCategoryStore struct {
	mu         sync.RWMutex
	categories map[string]*Category
}

// NewMemoryCategoryStore creates a catalog seeded with DefaultCategories.
func NewMemoryCategoryStore() *MemoryCategoryStore {
	s := &MemoryCategoryStore{categories: make(map[string]*Category)}
	now := time.Now().UTC()
	for _, c := range DefaultCategories {
		cp := *c
		cp.CreatedAt = now
		s.categories[c.ID] = &cp
	}
	return s
}

func (s *MemoryCategoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.categories[id]
	return ok, nil
}

func (s *MemoryCategoryStore) List(_ context.Context) ([]*Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Category, 0, len(s.categories))
	for _, c := range s.categories {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PostgresCategoryStore reads categories from Postgres.
type PostgresCategoryStore struct {
	db *sql.DB
}

func NewPostgresCategoryStore(db *sql.DB) *PostgresCategoryStore {
	return &PostgresCategoryStore{db: db}
}

func (s *PostgresCategoryStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *PostgresCategoryStore) List(ctx context.Context) ([]*Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

var (
	_ CategoryStore = (*MemoryCategoryStore)(nil)
	_ CategoryStore = (*PostgresCategoryStore)(nil)
)
