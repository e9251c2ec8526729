package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type (
	Expense struct {
		ID          int64 // 0 until the record store assigns one
		Name        string
		Amount      decimal.Decimal
		Description string
		Category    string // name of a Category, not enforced
		Timestamp   int64  // epoch milliseconds
		Photo       PhotoRef
	}

	Category struct {
		Name  string
		Photo PhotoRef
	}

	// NaturalKey is the (name, amount, timestamp) triple used to spot
	// duplicate expenses during import.
	NaturalKey struct {
		Name      string
		Amount    decimal.Decimal
		Timestamp int64
	}
)

var (
	ErrEmptyName         = errors.New("empty name")
	ErrNameTooLong       = errors.New("name too long (max 200 characters)")
	ErrEmptyCategoryName = errors.New("empty category name")
	ErrDuplicateCategory = errors.New("category already exists")
)

// Key returns the natural key of the expense.
func (e Expense) Key() NaturalKey {
	return NaturalKey{Name: e.Name, Amount: e.Amount, Timestamp: e.Timestamp}
}

// Time returns the expense instant in the given location.
func (e Expense) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(e.Timestamp).In(loc)
}

// Matches reports whether both keys identify the same expense. Amounts are
// compared numerically so 3.50 and 3.5 are equal.
func (k NaturalKey) Matches(other NaturalKey) bool {
	return k.Name == other.Name && k.Timestamp == other.Timestamp && k.Amount.Equal(other.Amount)
}

// Validate checks user input before it reaches the record store. Negative
// amounts are accepted.
func (e Expense) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return ErrEmptyName
	}
	if len(e.Name) > 200 {
		return ErrNameTooLong
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyCategoryName
	}
	return nil
}

// SameCategoryName compares category names the way the UI does when it
// rejects duplicates: case-insensitive, ignoring surrounding spaces.
func SameCategoryName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// CheckNewCategory returns ErrDuplicateCategory if name clashes with any of
// the existing categories.
func CheckNewCategory(name string, existing []Category) error {
	if err := (Category{Name: name}).Validate(); err != nil {
		return err
	}
	for _, c := range existing {
		if SameCategoryName(c.Name, name) {
			return ErrDuplicateCategory
		}
	}
	return nil
}
