// Package forecast fits one univariate model per category over its daily
// sales series and extends it beyond the last observed date. The model is a
// linear trend over the day index plus a weekly seasonal component taken
// from mean weekday residuals, so gaps in the calendar are tolerated
// without zero-filling.
package forecast

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"salesflow/models"
)

// DefaultWidth is the published default confidence width: the probability
// mass captured between the lower and upper bound of each forecast point.
const DefaultWidth = 0.8

// MinHistoryDays is the minimum number of distinct observed dates required
// before a fit is attempted.
const MinHistoryDays = 2

// InsufficientHistoryError reports that a category's series has too few
// distinct dates to fit. A category can pass the batch-level cleaning guard
// and still trip this, so it is checked independently here.
type InsufficientHistoryError struct {
	Category string
	Dates    int
	MinDates int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("not enough history for category %q: %d distinct dates, need at least %d",
		e.Category, e.Dates, e.MinDates)
}

// ForecastFitError reports a numerical fit failure. No fallback forecast is
// substituted; a missing chart is safer than a fabricated trend line.
type ForecastFitError struct {
	Category string
	Reason   string
}

func (e *ForecastFitError) Error() string {
	return fmt.Sprintf("forecast fit failed for category %q: %s", e.Category, e.Reason)
}

// Engine fits and extrapolates per-category series. Width is the confidence
// width in (0, 1); the zero value is replaced with DefaultWidth.
type Engine struct {
	Width float64
}

func NewEngine(width float64) *Engine {
	if width <= 0 || width >= 1 {
		width = DefaultWidth
	}
	return &Engine{Width: width}
}

// Forecast extends the series by exactly horizonDays consecutive calendar
// dates starting the day after the last observation. The input must be one
// category's rows ordered by date ascending.
func (e *Engine) Forecast(series []models.DailyCategorySeries, horizonDays int) ([]models.ForecastPoint, error) {
	if horizonDays != 7 && horizonDays != 30 {
		return nil, fmt.Errorf("invalid horizon %d: must be 7 or 30 days", horizonDays)
	}

	category := ""
	if len(series) > 0 {
		category = series[0].Category
	}
	if len(series) < MinHistoryDays {
		return nil, &InsufficientHistoryError{
			Category: category,
			Dates:    len(series),
			MinDates: MinHistoryDays,
		}
	}

	first := toDay(series[0].Date)
	last := toDay(series[len(series)-1].Date)

	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	for i, row := range series {
		xs[i] = dayIndex(first, row.Date)
		ys[i] = row.TotalPriceSum.InexactFloat64()
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	if !isFinite(alpha) || !isFinite(beta) {
		return nil, &ForecastFitError{Category: category, Reason: "trend coefficients are not finite"}
	}

	seasonal := weekdayComponents(series, xs, ys, alpha, beta)

	sigma := residualStdDev(series, xs, ys, alpha, beta, seasonal)
	if !isFinite(sigma) {
		return nil, &ForecastFitError{Category: category, Reason: "residual deviation is not finite"}
	}

	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.5 + e.width()/2)
	halfWidth := z * sigma
	if !isFinite(halfWidth) {
		return nil, &ForecastFitError{Category: category, Reason: "interval width is not finite"}
	}

	points := make([]models.ForecastPoint, 0, horizonDays)
	for h := 1; h <= horizonDays; h++ {
		date := last.AddDate(0, 0, h)
		x := dayIndex(first, date)
		predicted := alpha + beta*x + seasonal[int(date.Weekday())]
		if !isFinite(predicted) {
			return nil, &ForecastFitError{Category: category, Reason: "predicted value is not finite"}
		}
		points = append(points, models.ForecastPoint{
			Category:       category,
			Date:           date,
			PredictedValue: predicted,
			LowerBound:     predicted - halfWidth,
			UpperBound:     predicted + halfWidth,
		})
	}
	return points, nil
}

func (e *Engine) width() float64 {
	if e.Width <= 0 || e.Width >= 1 {
		return DefaultWidth
	}
	return e.Width
}

// weekdayComponents averages trend residuals per weekday. Weekdays never
// observed contribute nothing, which keeps sparse series usable.
func weekdayComponents(series []models.DailyCategorySeries, xs, ys []float64, alpha, beta float64) [7]float64 {
	var sums [7]float64
	var counts [7]int

	for i, row := range series {
		wd := int(row.Date.Weekday())
		sums[wd] += ys[i] - (alpha + beta*xs[i])
		counts[wd]++
	}

	var components [7]float64
	for wd := range components {
		if counts[wd] > 0 {
			components[wd] = sums[wd] / float64(counts[wd])
		}
	}
	return components
}

func residualStdDev(series []models.DailyCategorySeries, xs, ys []float64, alpha, beta float64, seasonal [7]float64) float64 {
	residuals := make([]float64, len(series))
	for i, row := range series {
		residuals[i] = ys[i] - (alpha + beta*xs[i]) - seasonal[int(row.Date.Weekday())]
	}
	if len(residuals) < 2 {
		return 0
	}
	sd := stat.StdDev(residuals, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}

func dayIndex(first time.Time, date time.Time) float64 {
	return toDay(date).Sub(first).Hours() / 24
}

func toDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
