package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/ports"
)

const (
	summaryCacheSize = 24
	summaryCacheTTL  = 10 * time.Minute
)

// ExpenseService covers single-record edits and the month summary. Every
// write drops the cached summaries and publishes an expenses event.
type ExpenseService struct {
	store      ports.RecordStore
	publisher  EventPublisher
	thresholds core.Thresholds
	loc        *time.Location
	summaries  *cache.LRUCache[core.MonthOverview]
	logger     *log.Logger

	// summaryGen counts invalidations; a summary computed across one is not cached.
	summaryMu  sync.Mutex
	summaryGen uint64
}

func NewExpenseService(store ports.RecordStore, publisher EventPublisher, thresholds core.Thresholds, loc *time.Location, logger *log.Logger) *ExpenseService {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &ExpenseService{
		store:      store,
		publisher:  publisher,
		thresholds: thresholds,
		loc:        loc,
		summaries:  cache.NewLRUCache[core.MonthOverview](summaryCacheSize, summaryCacheTTL),
		logger:     logger.WithComponent(log.ComponentApp),
	}
}

// SummaryCache is exposed so the cache manager can clean it.
func (s *ExpenseService) SummaryCache() *cache.LRUCache[core.MonthOverview] {
	return s.summaries
}

// InvalidateSummaries drops every cached month.
func (s *ExpenseService) InvalidateSummaries() {
	s.summaryMu.Lock()
	defer s.summaryMu.Unlock()
	s.summaryGen++
	s.summaries.Purge()
}

func (s *ExpenseService) generation() uint64 {
	s.summaryMu.Lock()
	defer s.summaryMu.Unlock()
	return s.summaryGen
}

// cacheSummary stores ov unless a write invalidated the cache since gen.
func (s *ExpenseService) cacheSummary(key string, ov core.MonthOverview, gen uint64) {
	s.summaryMu.Lock()
	defer s.summaryMu.Unlock()
	if s.summaryGen == gen {
		s.summaries.Set(key, ov)
	}
}

func (s *ExpenseService) Location() *time.Location { return s.loc }

func (s *ExpenseService) Thresholds() core.Thresholds { return s.thresholds }

// CreateExpense validates and stores e, returning the new ID.
func (s *ExpenseService) CreateExpense(ctx context.Context, e core.Expense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	e.ID = 0
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}

	id, err := s.store.InsertExpense(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("save expense: %w", err)
	}

	s.logger.InfoContext(ctx, "Expense created", log.NewFields().
		WithExpense(id, e.Name, e.Amount, e.Category).
		WithOperation(log.OpCreate).
		ToSlice()...)
	s.written(ctx)
	return id, nil
}

func (s *ExpenseService) DeleteExpense(ctx context.Context, id int64) error {
	if err := s.store.DeleteExpense(ctx, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	s.logger.InfoContext(ctx, "Expense deleted", log.FieldExpenseID, id, log.FieldOperation, log.OpDelete)
	s.written(ctx)
	return nil
}

func (s *ExpenseService) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	return s.store.GetExpense(ctx, id)
}

func (s *ExpenseService) ListExpenses(ctx context.Context, f ports.ExpenseFilter) ([]core.Expense, error) {
	return s.store.ListExpenses(ctx, f)
}

// MonthRange returns the [from, to) epoch ms bounds of year/month.
func (s *ExpenseService) MonthRange(year, month int) (int64, int64) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, s.loc)
	return start.UnixMilli(), start.AddDate(0, 1, 0).UnixMilli()
}

func (s *ExpenseService) ListCategories(ctx context.Context) ([]core.Category, error) {
	return s.store.ListCategories(ctx)
}

// CreateCategory rejects names already present, ignoring case.
func (s *ExpenseService) CreateCategory(ctx context.Context, c core.Category) error {
	if err := c.Validate(); err != nil {
		return err
	}
	existing, err := s.store.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	if err := core.CheckNewCategory(c.Name, existing); err != nil {
		return err
	}
	if err := s.store.InsertCategories(ctx, []core.Category{c}); err != nil {
		return fmt.Errorf("save category: %w", err)
	}
	s.logger.InfoContext(ctx, "Category created", log.FieldCategory, c.Name, log.FieldOperation, log.OpCreate)
	s.written(ctx)
	return nil
}

// DeleteCategory leaves expenses that reference the name untouched.
func (s *ExpenseService) DeleteCategory(ctx context.Context, name string) error {
	if err := s.store.DeleteCategory(ctx, name); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	s.logger.InfoContext(ctx, "Category deleted", log.FieldCategory, name, log.FieldOperation, log.OpDelete)
	s.written(ctx)
	return nil
}

// MonthSummary returns totals and alert tiers for year/month, cached until
// the next write.
func (s *ExpenseService) MonthSummary(ctx context.Context, year, month int) (core.MonthOverview, error) {
	if month < 1 || month > 12 {
		return core.MonthOverview{}, fmt.Errorf("invalid month %d", month)
	}
	key := fmt.Sprintf("%04d-%02d", year, month)
	if ov, ok := s.summaries.Get(key); ok {
		return ov, nil
	}

	gen := s.generation()
	from, to := s.MonthRange(year, month)
	expenses, err := s.store.ListExpenses(ctx, ports.ExpenseFilter{From: from, To: to})
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("list expenses: %w", err)
	}
	ov := core.SummarizeMonth(expenses, year, month, s.thresholds, s.loc)
	s.cacheSummary(key, ov, gen)

	s.logger.DebugContext(ctx, "Month summary computed",
		log.FieldYear, year,
		log.FieldMonth, month,
		log.FieldOperation, log.OpSummary)
	return ov, nil
}

func (s *ExpenseService) written(ctx context.Context) {
	s.InvalidateSummaries()
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishBackupEvent(ctx, amqp.NewBackupEvent(amqp.EventExpenses)); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish expenses event", log.FieldError, err.Error())
	}
}
