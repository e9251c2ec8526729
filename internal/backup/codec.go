// Package backup implements the backup document codec, the zip archive
// packager and the import conflict workflow.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

// Document is the backup document: a snapshot of every expense and category.
type Document struct {
	ExportTimestamp int64 // epoch ms
	Expenses        []core.Expense
	Categories      []core.Category
}

// Codec converts snapshots to and from the JSON backup document.
type Codec struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

// Encode stamps the snapshot with the current time. Photo references are
// written as given; rewriting them is the packager's job.
func (c Codec) Encode(expenses []core.Expense, categories []core.Category) Document {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return Document{
		ExportTimestamp: now().UnixMilli(),
		Expenses:        expenses,
		Categories:      categories,
	}
}

type documentJSON struct {
	ExportTimestampMillis *int64          `json:"exportTimestampMillis"`
	Expenses              *[]expenseJSON  `json:"expenses"`
	Categories            *[]categoryJSON `json:"categories"`
}

type expenseJSON struct {
	ID              int64           `json:"id"`
	Name            *string         `json:"name"`
	Amount          json.RawMessage `json:"amount"`
	Description     *string         `json:"description"`
	TimestampMillis *int64          `json:"timestampMillis"`
	PhotoRef        *string         `json:"photoRef"`
	Category        *string         `json:"category"`
}

type categoryJSON struct {
	Name     *string `json:"name"`
	PhotoRef *string `json:"photoRef"`
}

// Marshal renders the document as indented JSON with amounts as numbers.
func Marshal(doc Document) ([]byte, error) {
	expenses := make([]expenseJSON, len(doc.Expenses))
	for i, e := range doc.Expenses {
		e := e
		expenses[i] = expenseJSON{
			ID:              e.ID,
			Name:            &e.Name,
			Amount:          json.RawMessage(e.Amount.String()),
			Description:     &e.Description,
			TimestampMillis: &e.Timestamp,
			PhotoRef:        photoString(e.Photo),
			Category:        &e.Category,
		}
	}
	categories := make([]categoryJSON, len(doc.Categories))
	for i, c := range doc.Categories {
		c := c
		categories[i] = categoryJSON{Name: &c.Name, PhotoRef: photoString(c.Photo)}
	}

	ts := doc.ExportTimestamp
	out, err := json.MarshalIndent(documentJSON{
		ExportTimestampMillis: &ts,
		Expenses:              &expenses,
		Categories:            &categories,
	}, "", "  ")
	if err != nil {
		return nil, ioErr("marshal document", err)
	}
	return out, nil
}

// Decode parses a backup document. It fails with MalformedDocument on
// invalid JSON, wrong types or missing required fields. Business rules such
// as non-negative amounts are not checked. Unknown fields are ignored.
func Decode(data []byte) (Document, error) {
	const op = "decode document"

	var raw documentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, malformed(op, "%v", err)
	}
	if raw.ExportTimestampMillis == nil {
		return Document{}, malformed(op, "missing exportTimestampMillis")
	}
	if raw.Expenses == nil {
		return Document{}, malformed(op, "missing expenses")
	}
	if raw.Categories == nil {
		return Document{}, malformed(op, "missing categories")
	}

	doc := Document{
		ExportTimestamp: *raw.ExportTimestampMillis,
		Expenses:        make([]core.Expense, 0, len(*raw.Expenses)),
		Categories:      make([]core.Category, 0, len(*raw.Categories)),
	}

	for i, e := range *raw.Expenses {
		if e.Name == nil {
			return Document{}, malformed(op, "expense %d: missing name", i)
		}
		if e.TimestampMillis == nil {
			return Document{}, malformed(op, "expense %d: missing timestampMillis", i)
		}
		amount, err := decodeAmount(e.Amount)
		if err != nil {
			return Document{}, malformed(op, "expense %d: %v", i, err)
		}
		doc.Expenses = append(doc.Expenses, core.Expense{
			ID:          e.ID,
			Name:        *e.Name,
			Amount:      amount,
			Description: deref(e.Description),
			Category:    deref(e.Category),
			Timestamp:   *e.TimestampMillis,
			Photo:       core.ParsePhotoRef(deref(e.PhotoRef)),
		})
	}

	for i, c := range *raw.Categories {
		if c.Name == nil {
			return Document{}, malformed(op, "category %d: missing name", i)
		}
		doc.Categories = append(doc.Categories, core.Category{
			Name:  *c.Name,
			Photo: core.ParsePhotoRef(deref(c.PhotoRef)),
		})
	}

	return doc, nil
}

// decodeAmount accepts only a JSON number literal.
func decodeAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, errMissingAmount
	}
	if raw[0] == '"' {
		return decimal.Zero, errAmountType
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return decimal.Zero, errAmountType
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, errAmountType
	}
	return d, nil
}

var (
	errMissingAmount = errors.New("missing amount")
	errAmountType    = errors.New("amount must be a number")
)

func photoString(p core.PhotoRef) *string {
	if p.IsZero() {
		return nil
	}
	s := p.String()
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
