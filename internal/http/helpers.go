package http

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"

	"gastos/internal/backup"
	"gastos/internal/core"
)

type expenseJSON struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Photo       string `json:"photo,omitempty"`
}

func toExpenseJSON(e core.Expense) expenseJSON {
	return expenseJSON{
		ID:          e.ID,
		Name:        e.Name,
		Amount:      e.Amount.String(),
		Description: e.Description,
		Category:    e.Category,
		Timestamp:   e.Timestamp,
		Photo:       e.Photo.String(),
	}
}

func toExpensesJSON(es []core.Expense) []expenseJSON {
	out := make([]expenseJSON, 0, len(es))
	for _, e := range es {
		out = append(out, toExpenseJSON(e))
	}
	return out
}

type categoryJSON struct {
	Name  string `json:"name"`
	Photo string `json:"photo,omitempty"`
}

func toCategoriesJSON(cs []core.Category) []categoryJSON {
	out := make([]categoryJSON, 0, len(cs))
	for _, c := range cs {
		out = append(out, categoryJSON{Name: c.Name, Photo: c.Photo.String()})
	}
	return out
}

// amountInput accepts 12.5, "12.5" and "12,5".
type amountInput struct {
	decimal.Decimal
}

func (a *amountInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		d, err := core.ParseAmount(s)
		if err != nil {
			return err
		}
		a.Decimal = d
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return core.ErrInvalidAmount
	}
	a.Decimal = d
	return nil
}

var _ json.Unmarshaler = (*amountInput)(nil)

type createExpenseRequest struct {
	Name        string      `json:"name"`
	Amount      amountInput `json:"amount"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	// Timestamp in epoch milliseconds; zero means now.
	Timestamp int64  `json:"timestamp"`
	Photo     string `json:"photo"`
}

func (req createExpenseRequest) expense() core.Expense {
	return core.Expense{
		Name:        sanitizeInput(req.Name),
		Amount:      req.Amount.Decimal,
		Description: sanitizeInput(req.Description),
		Category:    sanitizeInput(req.Category),
		Timestamp:   req.Timestamp,
		Photo:       core.ParsePhotoRef(req.Photo),
	}
}

type createCategoryRequest struct {
	Name  string `json:"name"`
	Photo string `json:"photo"`
}

type importResponse struct {
	Success   bool   `json:"success"`
	Inserted  int    `json:"inserted"`
	Conflicts int    `json:"conflicts"`
	Message   string `json:"message,omitempty"`
}

type conflictResponse struct {
	Index    int         `json:"index"`
	Pending  int         `json:"pending"`
	Total    int         `json:"total"`
	Existing expenseJSON `json:"existing"`
	Incoming expenseJSON `json:"incoming"`
}

type decisionRequest struct {
	Decision         string `json:"decision"`
	ApplyToRemaining bool   `json:"apply_to_remaining"`
	// Index names the conflict being answered; it must still be current.
	Index *int `json:"index"`
}

type resolveRequest struct {
	Discard   []int `json:"discard"`
	Replace   []int `json:"replace"`
	Duplicate []int `json:"duplicate"`
}

type resolutionResponse struct {
	Applied    bool `json:"applied"`
	Pending    int  `json:"pending"`
	Discarded  int  `json:"discarded"`
	Replaced   int  `json:"replaced"`
	Duplicated int  `json:"duplicated"`
}

func toResolutionResponse(res backup.Resolution, applied bool, pending int) resolutionResponse {
	return resolutionResponse{
		Applied:    applied,
		Pending:    pending,
		Discarded:  res.Discarded,
		Replaced:   res.Replaced,
		Duplicated: res.Duplicated,
	}
}

type summaryResponse struct {
	Year       int              `json:"year"`
	Month      int              `json:"month"`
	Total      string           `json:"total"`
	Formatted  string           `json:"formatted"`
	Tier       core.Tier        `json:"tier"`
	Count      int              `json:"count"`
	ByCategory []categoryAmount `json:"by_category"`
	ByDay      []dayAmount      `json:"by_day"`
}

type categoryAmount struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

type dayAmount struct {
	Day    int       `json:"day"`
	Amount string    `json:"amount"`
	Tier   core.Tier `json:"tier"`
}

func toSummaryResponse(ov core.MonthOverview) summaryResponse {
	out := summaryResponse{
		Year:       ov.Year,
		Month:      ov.Month,
		Total:      ov.Total.String(),
		Formatted:  core.FormatEuros(ov.Total),
		Tier:       ov.Tier,
		Count:      ov.Count,
		ByCategory: make([]categoryAmount, 0, len(ov.ByCategory)),
		ByDay:      make([]dayAmount, 0, len(ov.ByDay)),
	}
	for _, c := range ov.ByCategory {
		out.ByCategory = append(out.ByCategory, categoryAmount{Name: c.Name, Amount: c.Amount.String()})
	}
	for _, d := range ov.ByDay {
		out.ByDay = append(out.ByDay, dayAmount{Day: d.Day, Amount: d.Amount.String(), Tier: d.Tier})
	}
	return out
}
