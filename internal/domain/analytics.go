package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Period selects the aggregation window of an analytics request.
type Period string

const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"

	DefaultPeriod = PeriodMonthly
)

// ParsePeriod parses a period name. An empty string yields DefaultPeriod.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultPeriod, nil
	case PeriodWeekly, PeriodMonthly, PeriodYearly:
		return p, nil
	}
	return "", fmt.Errorf("invalid period: %q", s)
}

// BalanceSummary is the backend's aggregate over all transactions. The client
// never recomputes these values.
type BalanceSummary struct {
	TotalBalance     decimal.Decimal `json:"totalBalance"`
	TotalIncome      decimal.Decimal `json:"totalIncome"`
	TotalExpenses    decimal.Decimal `json:"totalExpenses"`
	TransactionCount int             `json:"transactionCount"`
}

// CategoryShare is one slice of the expenses-by-category chart.
// Percent is the backend's rounded share of total expenses.
type CategoryShare struct {
	Name    string `json:"name"`
	Percent int    `json:"population"`
	Color   string `json:"color,omitempty"`
}

// TrendSeries is one line of the monthly trend chart.
type TrendSeries struct {
	Data        []float64 `json:"data"`
	StrokeWidth int       `json:"strokeWidth,omitempty"`
}

// Trends holds the monthly income/expense series, aligned with Labels.
type Trends struct {
	Labels   []string      `json:"labels"`
	Datasets []TrendSeries `json:"datasets"`
	Legend   []string      `json:"legend,omitempty"`
}

// Analytics is the pre-aggregated chart data returned by the backend.
type Analytics struct {
	Categories    []CategoryShare `json:"categoryData"`
	MonthlyTrends Trends          `json:"monthlyTrends"`
}

// AnalyticsSnapshot is what gets cached locally: analytics for one period
// plus the balance summary fetched alongside it.
type AnalyticsSnapshot struct {
	Period    Period          `json:"period"`
	Analytics Analytics       `json:"analytics"`
	Summary   *BalanceSummary `json:"summary,omitempty"`
}
