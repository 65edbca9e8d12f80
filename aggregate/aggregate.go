// Package aggregate reduces cleaned order rows into the summary views the
// dashboard renders and the per-category daily series the forecast engine
// consumes. All reductions are pure.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"salesflow/models"
)

// DefaultTopN is the default size of the top-items ranking.
const DefaultTopN = 10

// SummarizeByCategory reduces records to per-category totals. AvgPrice is
// the mean unit price across rows, matching the dashboard report.
func SummarizeByCategory(records []models.CleanOrderRecord) map[string]models.Summary {
	sums := make(map[string]*accumulator)
	for _, r := range records {
		acc := sums[r.Category]
		if acc == nil {
			acc = &accumulator{}
			sums[r.Category] = acc
		}
		acc.add(r)
	}
	return finalize(sums)
}

// SummarizeByItem reduces records to per-item totals.
func SummarizeByItem(records []models.CleanOrderRecord) map[string]models.Summary {
	sums := make(map[string]*accumulator)
	for _, r := range records {
		acc := sums[r.ItemName]
		if acc == nil {
			acc = &accumulator{}
			sums[r.ItemName] = acc
		}
		acc.add(r)
	}
	return finalize(sums)
}

// TopItems ranks item summaries by total sales descending, breaking ties by
// item name ascending so the ranking is deterministic. n falls back to
// DefaultTopN when not positive.
func TopItems(summaries map[string]models.Summary, n int) []models.ItemRank {
	if n <= 0 {
		n = DefaultTopN
	}

	ranked := make([]models.ItemRank, 0, len(summaries))
	for name, s := range summaries {
		ranked = append(ranked, models.ItemRank{ItemName: name, Summary: s})
	}

	sort.Slice(ranked, func(i, j int) bool {
		cmp := ranked[i].TotalSales.Cmp(ranked[j].TotalSales)
		if cmp != 0 {
			return cmp > 0
		}
		return ranked[i].ItemName < ranked[j].ItemName
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// DailySeriesByCategory groups records into one row per (category, calendar
// date), summing total_price, ordered by date ascending. Categories without
// records are absent; days without orders are absent, not zero-filled.
func DailySeriesByCategory(records []models.CleanOrderRecord) map[string][]models.DailyCategorySeries {
	type bucket struct {
		date time.Time
		sum  decimal.Decimal
	}

	buckets := make(map[string]map[string]*bucket)
	for _, r := range records {
		day := toDay(r.Timestamp)
		key := day.Format("2006-01-02")
		byDay := buckets[r.Category]
		if byDay == nil {
			byDay = make(map[string]*bucket)
			buckets[r.Category] = byDay
		}
		b := byDay[key]
		if b == nil {
			b = &bucket{date: day}
			byDay[key] = b
		}
		b.sum = b.sum.Add(r.TotalPrice)
	}

	series := make(map[string][]models.DailyCategorySeries, len(buckets))
	for category, byDay := range buckets {
		rows := make([]models.DailyCategorySeries, 0, len(byDay))
		for _, b := range byDay {
			rows = append(rows, models.DailyCategorySeries{
				Category:      category,
				Date:          b.date,
				TotalPriceSum: b.sum,
			})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
		series[category] = rows
	}
	return series
}

// MonthlySeriesByCategory groups records into one row per (category,
// calendar month), summing total_price, ordered by month ascending. It backs
// the stacked monthly sales chart.
func MonthlySeriesByCategory(records []models.CleanOrderRecord) map[string][]models.MonthlyCategorySeries {
	type bucket struct {
		month time.Time
		sum   decimal.Decimal
	}

	buckets := make(map[string]map[string]*bucket)
	for _, r := range records {
		month := toMonth(r.Timestamp)
		key := month.Format("2006-01")
		byMonth := buckets[r.Category]
		if byMonth == nil {
			byMonth = make(map[string]*bucket)
			buckets[r.Category] = byMonth
		}
		b := byMonth[key]
		if b == nil {
			b = &bucket{month: month}
			byMonth[key] = b
		}
		b.sum = b.sum.Add(r.TotalPrice)
	}

	series := make(map[string][]models.MonthlyCategorySeries, len(buckets))
	for category, byMonth := range buckets {
		rows := make([]models.MonthlyCategorySeries, 0, len(byMonth))
		for _, b := range byMonth {
			rows = append(rows, models.MonthlyCategorySeries{
				Category:      category,
				Month:         b.month,
				TotalPriceSum: b.sum,
			})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Month.Before(rows[j].Month) })
		series[category] = rows
	}
	return series
}

// ComputeMetrics produces the dashboard key-metrics block. AvgOrderValue is
// the mean row total, not the mean per order id, matching the original
// report.
func ComputeMetrics(records []models.CleanOrderRecord) models.Metrics {
	m := models.Metrics{}
	orders := make(map[string]struct{})

	for _, r := range records {
		m.TotalSales = m.TotalSales.Add(r.TotalPrice)
		m.TotalItems += r.Quantity
		orders[r.OrderID] = struct{}{}
	}
	m.TotalOrders = len(orders)

	if len(records) > 0 {
		m.AvgOrderValue = m.TotalSales.Div(decimal.NewFromInt(int64(len(records))))
	}
	return m
}

type accumulator struct {
	totalSales    decimal.Decimal
	totalQuantity int
	unitPriceSum  decimal.Decimal
	rows          int64
}

func (a *accumulator) add(r models.CleanOrderRecord) {
	a.totalSales = a.totalSales.Add(r.TotalPrice)
	a.totalQuantity += r.Quantity
	a.unitPriceSum = a.unitPriceSum.Add(r.UnitPrice)
	a.rows++
}

func finalize(sums map[string]*accumulator) map[string]models.Summary {
	out := make(map[string]models.Summary, len(sums))
	for key, acc := range sums {
		s := models.Summary{
			TotalSales:    acc.totalSales,
			TotalQuantity: acc.totalQuantity,
		}
		if acc.rows > 0 {
			s.AvgPrice = acc.unitPriceSum.Div(decimal.NewFromInt(acc.rows))
		}
		out[key] = s
	}
	return out
}

func toDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func toMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
