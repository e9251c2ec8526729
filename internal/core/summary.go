package core

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Tier is the alert colour shown for a total.
type Tier string

const (
	TierGreen Tier = "green"
	TierAmber Tier = "amber"
	TierRed   Tier = "red"
)

// dailyDivisor approximates a month as 20 spending days.
const dailyDivisor = 20

// Thresholds are the two ascending alert limits for a period.
type Thresholds struct {
	Amber decimal.Decimal
	Red   decimal.Decimal
}

// Validate checks 0 <= amber <= red.
func (t Thresholds) Validate() error {
	if t.Amber.IsNegative() || t.Red.IsNegative() {
		return errors.New("thresholds must not be negative")
	}
	if t.Amber.GreaterThan(t.Red) {
		return errors.New("amber threshold must not exceed red threshold")
	}
	return nil
}

// Daily derives per-day thresholds from monthly ones.
func (t Thresholds) Daily() Thresholds {
	div := decimal.NewFromInt(dailyDivisor)
	return Thresholds{Amber: t.Amber.Div(div), Red: t.Red.Div(div)}
}

// AlertTier classifies total against the thresholds.
func AlertTier(total decimal.Decimal, t Thresholds) Tier {
	switch {
	case total.GreaterThanOrEqual(t.Red):
		return TierRed
	case total.GreaterThanOrEqual(t.Amber):
		return TierAmber
	default:
		return TierGreen
	}
}

// Total sums the amounts of the given expenses.
func Total(expenses []Expense) decimal.Decimal {
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total
}

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// DayAmount is the spending of one calendar day with its daily tier.
type DayAmount struct {
	Day    int
	Amount decimal.Decimal
	Tier   Tier
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year       int
	Month      int // 1-12
	Total      decimal.Decimal
	Tier       Tier
	Count      int
	ByCategory []CategoryAmount
	ByDay      []DayAmount
}

// SummarizeMonth buckets the expenses falling in year/month (in loc) and
// classifies the month total and each day total.
func SummarizeMonth(expenses []Expense, year, month int, t Thresholds, loc *time.Location) MonthOverview {
	ov := MonthOverview{Year: year, Month: month, Total: decimal.Zero}
	byCat := map[string]decimal.Decimal{}
	byDay := map[int]decimal.Decimal{}

	for _, e := range expenses {
		ts := e.Time(loc)
		if ts.Year() != year || int(ts.Month()) != month {
			continue
		}
		ov.Count++
		ov.Total = ov.Total.Add(e.Amount)
		byCat[e.Category] = byCat[e.Category].Add(e.Amount)
		byDay[ts.Day()] = byDay[ts.Day()].Add(e.Amount)
	}
	ov.Tier = AlertTier(ov.Total, t)

	for name, amount := range byCat {
		ov.ByCategory = append(ov.ByCategory, CategoryAmount{Name: name, Amount: amount})
	}
	sort.Slice(ov.ByCategory, func(i, j int) bool {
		a, b := ov.ByCategory[i], ov.ByCategory[j]
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.GreaterThan(b.Amount)
		}
		return a.Name < b.Name
	})

	daily := t.Daily()
	for day, amount := range byDay {
		ov.ByDay = append(ov.ByDay, DayAmount{Day: day, Amount: amount, Tier: AlertTier(amount, daily)})
	}
	sort.Slice(ov.ByDay, func(i, j int) bool { return ov.ByDay[i].Day < ov.ByDay[j].Day })

	return ov
}
