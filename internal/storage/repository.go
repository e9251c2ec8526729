package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
	"gastos/internal/ports"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the ports.RecordStore backed by a local SQLite file.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var _ ports.RecordStore = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serializes writers; busy_timeout covers the migration
	// handle and any other process holding the file.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

// dsn adds the connection pragmas to a plain file path.
func dsn(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath
	}
	return dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping is used by the readiness probe.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) InsertExpense(ctx context.Context, e core.Expense) (int64, error) {
	id, err := r.queries.CreateExpense(ctx, toCreateParams(e))
	if err != nil {
		return 0, fmt.Errorf("create expense: %w", err)
	}

	slog.DebugContext(ctx, "Expense saved to SQLite",
		"id", id,
		"name", e.Name,
		"amount", e.Amount.String(),
		"timestamp", e.Timestamp)

	return id, nil
}

// InsertExpenses runs the whole batch in one transaction.
func (r *SQLiteRepository) InsertExpenses(ctx context.Context, es []core.Expense) error {
	if len(es) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	for i, e := range es {
		if _, err := q.CreateExpense(ctx, toCreateParams(e)); err != nil {
			return fmt.Errorf("create expense %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.DebugContext(ctx, "Expense batch saved to SQLite", "count", len(es))
	return nil
}

func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) error {
	row := fromExpense(e)
	n, err := r.queries.UpdateExpense(ctx, row)
	if err != nil {
		return fmt.Errorf("update expense %d: %w", e.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update expense %d: %w", e.ID, ports.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id int64) error {
	n, err := r.queries.DeleteExpense(ctx, id)
	if err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete expense %d: %w", id, ports.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAllExpenses(ctx context.Context) error {
	if err := r.queries.DeleteAllExpenses(ctx); err != nil {
		return fmt.Errorf("delete all expenses: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row, err := r.queries.GetExpense(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, err)
	}
	return toExpense(row)
}

// FindByNaturalKey narrows by name and timestamp in SQL and compares the
// amount numerically, since the column holds the decimal's text form.
func (r *SQLiteRepository) FindByNaturalKey(ctx context.Context, name string, amount decimal.Decimal, timestamp int64) (core.Expense, error) {
	rows, err := r.queries.GetExpensesByNameAndTime(ctx, name, timestamp)
	if err != nil {
		return core.Expense{}, fmt.Errorf("find expense by natural key: %w", err)
	}
	for _, row := range rows {
		e, err := toExpense(row)
		if err != nil {
			return core.Expense{}, err
		}
		if e.Amount.Equal(amount) {
			return e, nil
		}
	}
	return core.Expense{}, ports.ErrNotFound
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, f ports.ExpenseFilter) ([]core.Expense, error) {
	rows, err := r.queries.SearchExpenses(ctx, SearchExpensesParams{
		Query:    f.Query,
		Category: f.Category,
		From:     f.From,
		To:       f.To,
		Limit:    f.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return toExpenses(rows)
}

func (r *SQLiteRepository) FindCategoryByName(ctx context.Context, name string) (core.Category, error) {
	row, err := r.queries.GetCategory(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, ports.ErrNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %q: %w", name, err)
	}
	return toCategory(row), nil
}

func (r *SQLiteRepository) InsertCategories(ctx context.Context, cs []core.Category) error {
	if len(cs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	for _, c := range cs {
		if err := q.UpsertCategory(ctx, fromCategory(c)); err != nil {
			return fmt.Errorf("upsert category %q: %w", c.Name, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, name string) error {
	n, err := r.queries.DeleteCategory(ctx, name)
	if err != nil {
		return fmt.Errorf("delete category %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("delete category %q: %w", name, ports.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.queries.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]core.Category, len(rows))
	for i, row := range rows {
		out[i] = toCategory(row)
	}
	return out, nil
}

// ListAll reads both tables inside one read transaction so the snapshot is
// consistent.
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]core.Expense, []core.Category, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	expRows, err := q.ListAllExpenses(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list expenses: %w", err)
	}
	catRows, err := q.ListCategories(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list categories: %w", err)
	}

	expenses, err := toExpenses(expRows)
	if err != nil {
		return nil, nil, err
	}
	categories := make([]core.Category, len(catRows))
	for i, row := range catRows {
		categories[i] = toCategory(row)
	}
	return expenses, categories, nil
}

func toCreateParams(e core.Expense) CreateExpenseParams {
	return CreateExpenseParams{
		Name:        e.Name,
		Amount:      e.Amount.String(),
		Description: e.Description,
		Category:    e.Category,
		TimestampMs: e.Timestamp,
		PhotoKind:   photoKind(e.Photo),
		PhotoRef:    e.Photo.String(),
	}
}

func fromExpense(e core.Expense) Expense {
	return Expense{
		ID:          e.ID,
		Name:        e.Name,
		Amount:      e.Amount.String(),
		Description: e.Description,
		Category:    e.Category,
		TimestampMs: e.Timestamp,
		PhotoKind:   photoKind(e.Photo),
		PhotoRef:    e.Photo.String(),
	}
}

func toExpense(row Expense) (core.Expense, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %d: bad amount %q: %w", row.ID, row.Amount, err)
	}
	return core.Expense{
		ID:          row.ID,
		Name:        row.Name,
		Amount:      amount,
		Description: row.Description,
		Category:    row.Category,
		Timestamp:   row.TimestampMs,
		Photo:       toPhoto(row.PhotoKind, row.PhotoRef),
	}, nil
}

func toExpenses(rows []Expense) ([]core.Expense, error) {
	out := make([]core.Expense, 0, len(rows))
	for _, row := range rows {
		e, err := toExpense(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func fromCategory(c core.Category) Category {
	return Category{Name: c.Name, PhotoKind: photoKind(c.Photo), PhotoRef: c.Photo.String()}
}

func toCategory(row Category) core.Category {
	return core.Category{Name: row.Name, Photo: toPhoto(row.PhotoKind, row.PhotoRef)}
}

func photoKind(p core.PhotoRef) string {
	if p.IsZero() {
		return core.PhotoNone.String()
	}
	return p.Kind.String()
}

func toPhoto(kind, ref string) core.PhotoRef {
	if ref == "" {
		return core.NoPhoto
	}
	k, ok := core.ParsePhotoKind(kind)
	if !ok || k == core.PhotoNone {
		return core.ParsePhotoRef(ref)
	}
	return core.PhotoRef{Kind: k, Value: ref}
}
