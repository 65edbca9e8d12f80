// Package cleaner filters raw order rows into an analysis-ready batch:
// exact duplicates, future timestamps, blank categories and total-price
// outliers are removed before anything downstream sees the data.
package cleaner

import (
	"fmt"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"salesflow/logger"
	"salesflow/models"
)

// Outlier band percentiles over total_price. The band is computed globally
// across the whole batch, not per category; a cross-category band is what
// the reporting side has always used, so a legitimately expensive category
// can lose rows to it. Confirm intent before narrowing to per-category.
const (
	lowerPercentile = 1
	upperPercentile = 99
)

// InsufficientDataError reports that too few usable records survived the
// cleaning filters to support any downstream analysis.
type InsufficientDataError struct {
	Remaining     int
	DistinctDates int
	MinDates      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data after cleaning: %d records across %d distinct dates, need at least %d dates",
		e.Remaining, e.DistinctDates, e.MinDates)
}

var titleCaser = cases.Title(language.English)

// Clean applies the filter sequence to a raw batch. It is pure: the input
// slice is never modified and the same input always produces the same
// output. asOf is the pipeline run time; records stamped after it are
// treated as data-entry errors. minDates is the minimum number of distinct
// calendar dates that must survive, normally 2.
func Clean(records []models.RawOrderRecord, asOf time.Time, minDates int) ([]models.CleanOrderRecord, error) {
	log := logger.GetLogger().WithComponent("cleaner")

	deduped := dropDuplicates(records)
	dated := dropFutureDates(deduped, asOf)
	categorized := normalizeCategories(dated)
	cleaned := dropOutliers(categorized)

	dates := distinctDates(cleaned)
	if len(dates) < minDates {
		log.WithFields(logger.Fields{
			"remaining":      len(cleaned),
			"distinct_dates": len(dates),
			"min_dates":      minDates,
		}).Warn("batch too small after cleaning")
		return nil, &InsufficientDataError{
			Remaining:     len(cleaned),
			DistinctDates: len(dates),
			MinDates:      minDates,
		}
	}

	log.WithFields(logger.Fields{
		"raw_records":    len(records),
		"clean_records":  len(cleaned),
		"distinct_dates": len(dates),
	}).Info("batch cleaned")

	out := make([]models.CleanOrderRecord, len(cleaned))
	for i, r := range cleaned {
		out[i] = models.CleanOrderRecord(r)
	}
	return out, nil
}

// dropDuplicates removes records that are identical across every observable
// field, keeping the first occurrence.
func dropDuplicates(records []models.RawOrderRecord) []models.RawOrderRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.RawOrderRecord, 0, len(records))
	for _, r := range records {
		key := recordKey(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func recordKey(r models.RawOrderRecord) string {
	return strings.Join([]string{
		r.OrderID,
		fmt.Sprintf("%d", r.ItemID),
		r.ItemName,
		r.UnitPrice.String(),
		fmt.Sprintf("%d", r.Quantity),
		r.TotalPrice.String(),
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Category,
		r.Phone,
		r.OrderType,
	}, "\x1f")
}

func dropFutureDates(records []models.RawOrderRecord, asOf time.Time) []models.RawOrderRecord {
	out := make([]models.RawOrderRecord, 0, len(records))
	for _, r := range records {
		if r.Timestamp.After(asOf) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// normalizeCategories drops records without a category and title-cases the
// rest so "shawarma" and "SHAWARMA " group together.
func normalizeCategories(records []models.RawOrderRecord) []models.RawOrderRecord {
	out := make([]models.RawOrderRecord, 0, len(records))
	for _, r := range records {
		category := strings.TrimSpace(r.Category)
		if category == "" {
			continue
		}
		r.Category = titleCaser.String(strings.ToLower(category))
		out = append(out, r)
	}
	return out
}

// dropOutliers removes records whose total_price lies outside the [p1, p99]
// band of the batch. The band is recomputed and reapplied until it keeps
// every remaining record: once past 100 survivors with distinct prices, a
// single application still leaves the recomputed p99 below the kept maximum,
// so a later pass over the same batch would shave the extremes again. At the
// fixed point a re-clean removes nothing.
func dropOutliers(records []models.RawOrderRecord) []models.RawOrderRecord {
	for {
		kept := applyPriceBand(records)
		if len(kept) == len(records) {
			return kept
		}
		records = kept
	}
}

func applyPriceBand(records []models.RawOrderRecord) []models.RawOrderRecord {
	if len(records) == 0 {
		return records
	}

	prices := make(stats.Float64Data, len(records))
	for i, r := range records {
		prices[i] = r.TotalPrice.InexactFloat64()
	}

	p1, err := stats.PercentileNearestRank(prices, lowerPercentile)
	if err != nil {
		return records
	}
	p99, err := stats.PercentileNearestRank(prices, upperPercentile)
	if err != nil {
		return records
	}

	out := make([]models.RawOrderRecord, 0, len(records))
	for i, r := range records {
		if prices[i] < p1 || prices[i] > p99 {
			continue
		}
		out = append(out, r)
	}
	return out
}

func distinctDates(records []models.RawOrderRecord) map[string]struct{} {
	dates := make(map[string]struct{})
	for _, r := range records {
		dates[r.Timestamp.Format("2006-01-02")] = struct{}{}
	}
	return dates
}
