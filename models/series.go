package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyCategorySeries is one (category, calendar date) bucket of summed
// sales. Dates with no orders are simply absent, the series is not
// zero-filled.
type DailyCategorySeries struct {
	Category      string          `json:"category"`
	Date          time.Time       `json:"date"`
	TotalPriceSum decimal.Decimal `json:"total_price_sum"`
}

// MonthlyCategorySeries is one (category, calendar month) bucket of summed
// sales, feeding the stacked monthly sales chart. Month is the first day of
// the month at UTC midnight.
type MonthlyCategorySeries struct {
	Category      string          `json:"category"`
	Month         time.Time       `json:"month"`
	TotalPriceSum decimal.Decimal `json:"total_price_sum"`
}

// ForecastPoint is a single forecast horizon day for one category.
// LowerBound <= PredictedValue <= UpperBound always holds.
type ForecastPoint struct {
	Category       string    `json:"category"`
	Date           time.Time `json:"date"`
	PredictedValue float64   `json:"predicted_value"`
	LowerBound     float64   `json:"lower_bound"`
	UpperBound     float64   `json:"upper_bound"`
}

// Row kinds in a combined series.
const (
	KindActual   = "actual"
	KindForecast = "forecast"
)

// CombinedRow is one chart row: an observed daily total or a forecast day.
// Bounds are only present on forecast rows.
type CombinedRow struct {
	Kind       string    `json:"kind"`
	Date       time.Time `json:"date"`
	Value      float64   `json:"value"`
	LowerBound *float64  `json:"lower_bound,omitempty"`
	UpperBound *float64  `json:"upper_bound,omitempty"`
}

// Summary aggregates sales for one category or one item.
type Summary struct {
	TotalSales    decimal.Decimal `json:"total_sales"`
	TotalQuantity int             `json:"total_quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
}

// ItemRank is a ranked row in the top-items report.
type ItemRank struct {
	ItemName string `json:"item_name"`
	Summary
}

// Metrics is the dashboard key-metrics block over a filtered batch.
type Metrics struct {
	TotalSales    decimal.Decimal `json:"total_sales"`
	TotalOrders   int             `json:"total_orders"`
	AvgOrderValue decimal.Decimal `json:"avg_order_value"`
	TotalItems    int             `json:"total_items"`
}
