package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
	"gastos/internal/ports"
)

// Store is an in-process ports.RecordStore. Used by tests and the memory
// backend; nothing survives a restart.
type Store struct {
	mu     sync.Mutex
	nextID int64
	items  []core.Expense
	cats   []core.Category
}

var _ ports.RecordStore = (*Store)(nil)

func New(cats ...core.Category) *Store {
	s := &Store{nextID: 1}
	for _, c := range cats {
		s.upsertLocked(c)
	}
	return s
}

// NewFromFiles seeds categories from base/seed_categories.txt, one name per
// line, '#' for comments.
func NewFromFiles(base string) *Store {
	names := readLines(filepath.Join(base, "seed_categories.txt"))
	if len(names) == 0 {
		names = []string{"Casa", "Comida", "Transporte"}
	}
	cats := make([]core.Category, len(names))
	for i, n := range names {
		cats[i] = core.Category{Name: n}
	}
	return New(cats...)
}

func (s *Store) InsertExpense(_ context.Context, e core.Expense) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(e), nil
}

func (s *Store) InsertExpenses(_ context.Context, es []core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range es {
		s.insertLocked(e)
	}
	return nil
}

func (s *Store) UpdateExpense(_ context.Context, e core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(e.ID)
	if i < 0 {
		return fmt.Errorf("update expense %d: %w", e.ID, ports.ErrNotFound)
	}
	s.items[i] = e
	return nil
}

func (s *Store) DeleteExpense(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("delete expense %d: %w", id, ports.ErrNotFound)
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return nil
}

func (s *Store) DeleteAllExpenses(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	return nil
}

func (s *Store) GetExpense(_ context.Context, id int64) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, ports.ErrNotFound)
	}
	return s.items[i], nil
}

func (s *Store) FindByNaturalKey(_ context.Context, name string, amount decimal.Decimal, timestamp int64) (core.Expense, error) {
	key := core.NaturalKey{Name: name, Amount: amount, Timestamp: timestamp}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.items {
		if e.Key().Matches(key) {
			return e, nil
		}
	}
	return core.Expense{}, ports.ErrNotFound
}

func (s *Store) ListExpenses(_ context.Context, f ports.ExpenseFilter) ([]core.Expense, error) {
	s.mu.Lock()
	out := make([]core.Expense, 0, len(s.items))
	q := strings.ToLower(f.Query)
	for _, e := range s.items {
		if q != "" && !strings.Contains(strings.ToLower(e.Name), q) && !strings.Contains(strings.ToLower(e.Description), q) {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.From != 0 && e.Timestamp < f.From {
			continue
		}
		if f.To != 0 && e.Timestamp >= f.To {
			continue
		}
		out = append(out, e)
	}
	s.mu.Unlock()

	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) FindCategoryByName(_ context.Context, name string) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cats {
		if c.Name == name {
			return c, nil
		}
	}
	return core.Category{}, ports.ErrNotFound
}

func (s *Store) InsertCategories(_ context.Context, cs []core.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs {
		s.upsertLocked(c)
	}
	return nil
}

func (s *Store) DeleteCategory(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.cats {
		if c.Name == name {
			s.cats = append(s.cats[:i], s.cats[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete category %q: %w", name, ports.ErrNotFound)
}

func (s *Store) ListCategories(_ context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.categoriesLocked(), nil
}

func (s *Store) ListAll(_ context.Context) ([]core.Expense, []core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expenses := append([]core.Expense(nil), s.items...)
	sortNewestFirst(expenses)
	return expenses, s.categoriesLocked(), nil
}

func (s *Store) insertLocked(e core.Expense) int64 {
	e.ID = s.nextID
	s.nextID++
	s.items = append(s.items, e)
	return e.ID
}

func (s *Store) indexLocked(id int64) int {
	for i, e := range s.items {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) upsertLocked(c core.Category) {
	for i := range s.cats {
		if s.cats[i].Name == c.Name {
			s.cats[i] = c
			return
		}
	}
	s.cats = append(s.cats, c)
}

func (s *Store) categoriesLocked() []core.Category {
	out := append([]core.Category(nil), s.cats...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortNewestFirst(es []core.Expense) {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].Timestamp != es[j].Timestamp {
			return es[i].Timestamp > es[j].Timestamp
		}
		return es[i].ID > es[j].ID
	})
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	seen := map[string]struct{}{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
