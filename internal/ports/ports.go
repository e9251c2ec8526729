package ports

import (
	"context"
	"errors"
	"io"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

var (
	// ErrNotFound is returned by single-record lookups that match nothing.
	ErrNotFound = errors.New("not found")
	// ErrPhotoUnavailable is returned by PhotoReader for references it cannot
	// resolve to bytes, as opposed to files that fail to read.
	ErrPhotoUnavailable = errors.New("photo unavailable")
)

// Ports for outbound adapters.
type (
	// ExpenseWriter mutates expense rows. Each call is atomic on its own.
	ExpenseWriter interface {
		InsertExpense(ctx context.Context, e core.Expense) (int64, error)
		// InsertExpenses inserts the batch in one go, assigning fresh IDs.
		InsertExpenses(ctx context.Context, es []core.Expense) error
		UpdateExpense(ctx context.Context, e core.Expense) error
		DeleteExpense(ctx context.Context, id int64) error
		DeleteAllExpenses(ctx context.Context) error
	}

	ExpenseReader interface {
		GetExpense(ctx context.Context, id int64) (core.Expense, error)
		// FindByNaturalKey returns ErrNotFound when no stored row matches.
		FindByNaturalKey(ctx context.Context, name string, amount decimal.Decimal, timestamp int64) (core.Expense, error)
		ListExpenses(ctx context.Context, f ExpenseFilter) ([]core.Expense, error)
	}

	CategoryStore interface {
		FindCategoryByName(ctx context.Context, name string) (core.Category, error)
		// InsertCategories upserts by name.
		InsertCategories(ctx context.Context, cs []core.Category) error
		// DeleteCategory does not touch expenses referencing the name.
		DeleteCategory(ctx context.Context, name string) error
		ListCategories(ctx context.Context) ([]core.Category, error)
	}

	// RecordStore is the local persistent table of expenses and categories.
	RecordStore interface {
		ExpenseWriter
		ExpenseReader
		CategoryStore
		// ListAll is a single point-in-time read of every row.
		ListAll(ctx context.Context) ([]core.Expense, []core.Category, error)
	}

	// FileAccess opens user-supplied files and export destinations.
	FileAccess interface {
		OpenForRead(ctx context.Context, handle string) (io.ReadCloser, error)
		OpenForWrite(ctx context.Context, destination string) (io.WriteCloser, error)
		DisplayName(handle string) string
	}

	// PhotoReader resolves a photo reference to its bytes.
	PhotoReader interface {
		OpenPhoto(ctx context.Context, ref core.PhotoRef) (io.ReadCloser, error)
	}

	// PhotoStore owns the app-local photo files.
	PhotoStore interface {
		PhotoReader
		// Save copies r into a fresh app-local file named after hint.
		Save(ctx context.Context, hint string, r io.Reader) (core.PhotoRef, error)
		Remove(ctx context.Context, ref core.PhotoRef) error
	}
)

// ExpenseFilter narrows ListExpenses. Zero values disable a criterion.
type ExpenseFilter struct {
	Query    string // substring of name or description, case-insensitive
	Category string
	From     int64 // inclusive, epoch ms
	To       int64 // exclusive, epoch ms
	Limit    int
}
