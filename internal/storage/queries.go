package storage

import (
	"context"
	"database/sql"
	"strings"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the SQL used by SQLiteRepository.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Expense is a row of the expenses table.
type Expense struct {
	ID          int64
	Name        string
	Amount      string
	Description string
	Category    string
	TimestampMs int64
	PhotoKind   string
	PhotoRef    string
}

// Category is a row of the categories table.
type Category struct {
	Name      string
	PhotoKind string
	PhotoRef  string
}

const expenseColumns = `id, name, amount, description, category, timestamp_ms, photo_kind, photo_ref`

type CreateExpenseParams struct {
	Name        string
	Amount      string
	Description string
	Category    string
	TimestampMs int64
	PhotoKind   string
	PhotoRef    string
}

const createExpense = `INSERT INTO expenses (name, amount, description, category, timestamp_ms, photo_kind, photo_ref)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateExpense(ctx context.Context, arg CreateExpenseParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, createExpense,
		arg.Name, arg.Amount, arg.Description, arg.Category, arg.TimestampMs, arg.PhotoKind, arg.PhotoRef)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const updateExpense = `UPDATE expenses
SET name = ?, amount = ?, description = ?, category = ?, timestamp_ms = ?, photo_kind = ?, photo_ref = ?
WHERE id = ?`

func (q *Queries) UpdateExpense(ctx context.Context, arg Expense) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateExpense,
		arg.Name, arg.Amount, arg.Description, arg.Category, arg.TimestampMs, arg.PhotoKind, arg.PhotoRef, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteExpense = `DELETE FROM expenses WHERE id = ?`

func (q *Queries) DeleteExpense(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpense, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteAllExpenses = `DELETE FROM expenses`

func (q *Queries) DeleteAllExpenses(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllExpenses)
	return err
}

const getExpense = `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`

func (q *Queries) GetExpense(ctx context.Context, id int64) (Expense, error) {
	return scanExpense(q.db.QueryRowContext(ctx, getExpense, id))
}

const getExpensesByNameAndTime = `SELECT ` + expenseColumns + `
FROM expenses WHERE name = ? AND timestamp_ms = ? ORDER BY id`

func (q *Queries) GetExpensesByNameAndTime(ctx context.Context, name string, timestampMs int64) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, getExpensesByNameAndTime, name, timestampMs)
	if err != nil {
		return nil, err
	}
	return collectExpenses(rows)
}

const listAllExpenses = `SELECT ` + expenseColumns + ` FROM expenses ORDER BY timestamp_ms DESC, id DESC`

func (q *Queries) ListAllExpenses(ctx context.Context) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listAllExpenses)
	if err != nil {
		return nil, err
	}
	return collectExpenses(rows)
}

type SearchExpensesParams struct {
	Query    string
	Category string
	From     int64
	To       int64
	Limit    int
}

func (q *Queries) SearchExpenses(ctx context.Context, arg SearchExpensesParams) ([]Expense, error) {
	var (
		where []string
		args  []interface{}
	)
	if arg.Query != "" {
		where = append(where, `(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`)
		like := "%" + escapeLike(strings.ToLower(arg.Query)) + "%"
		args = append(args, like, like)
	}
	if arg.Category != "" {
		where = append(where, `category = ?`)
		args = append(args, arg.Category)
	}
	if arg.From != 0 {
		where = append(where, `timestamp_ms >= ?`)
		args = append(args, arg.From)
	}
	if arg.To != 0 {
		where = append(where, `timestamp_ms < ?`)
		args = append(args, arg.To)
	}

	query := `SELECT ` + expenseColumns + ` FROM expenses`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY timestamp_ms DESC, id DESC`
	if arg.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, arg.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectExpenses(rows)
}

const upsertCategory = `INSERT INTO categories (name, photo_kind, photo_ref) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET photo_kind = excluded.photo_kind, photo_ref = excluded.photo_ref`

func (q *Queries) UpsertCategory(ctx context.Context, arg Category) error {
	_, err := q.db.ExecContext(ctx, upsertCategory, arg.Name, arg.PhotoKind, arg.PhotoRef)
	return err
}

const getCategory = `SELECT name, photo_kind, photo_ref FROM categories WHERE name = ?`

func (q *Queries) GetCategory(ctx context.Context, name string) (Category, error) {
	var c Category
	err := q.db.QueryRowContext(ctx, getCategory, name).Scan(&c.Name, &c.PhotoKind, &c.PhotoRef)
	return c, err
}

const deleteCategory = `DELETE FROM categories WHERE name = ?`

func (q *Queries) DeleteCategory(ctx context.Context, name string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteCategory, name)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listCategories = `SELECT name, photo_kind, photo_ref FROM categories ORDER BY name`

func (q *Queries) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := q.db.QueryContext(ctx, listCategories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Name, &c.PhotoKind, &c.PhotoRef); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExpense(row rowScanner) (Expense, error) {
	var e Expense
	err := row.Scan(&e.ID, &e.Name, &e.Amount, &e.Description, &e.Category, &e.TimestampMs, &e.PhotoKind, &e.PhotoRef)
	return e, err
}

func collectExpenses(rows *sql.Rows) ([]Expense, error) {
	defer rows.Close()

	var items []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
