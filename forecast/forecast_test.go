package forecast

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"salesflow/models"
)

func constantSeries(category string, days int, value string) []models.DailyCategorySeries {
	start := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	v := decimal.RequireFromString(value)
	series := make([]models.DailyCategorySeries, days)
	for i := 0; i < days; i++ {
		series[i] = models.DailyCategorySeries{
			Category:      category,
			Date:          start.AddDate(0, 0, i),
			TotalPriceSum: v,
		}
	}
	return series
}

func TestForecastConstantSeries(t *testing.T) {
	series := constantSeries("Shawarma", 60, "100.00")

	points, err := NewEngine(0.8).Forecast(series, 7)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	if len(points) != 7 {
		t.Fatalf("expected 7 points, got %d", len(points))
	}

	for _, p := range points {
		if math.Abs(p.PredictedValue-100) > 1e-6 {
			t.Fatalf("predicted %f on %s, want 100", p.PredictedValue, p.Date.Format("2006-01-02"))
		}
		if p.UpperBound-p.LowerBound > 1e-6 {
			t.Fatalf("constant history must yield near-zero interval width, got %f", p.UpperBound-p.LowerBound)
		}
		lowGap := p.PredictedValue - p.LowerBound
		highGap := p.UpperBound - p.PredictedValue
		if math.Abs(lowGap-highGap) > 1e-9 {
			t.Fatalf("interval not symmetric: -%f/+%f", lowGap, highGap)
		}
	}
}

func TestForecastInsufficientHistory(t *testing.T) {
	series := constantSeries("Drinks", 1, "50.00")

	_, err := NewEngine(0.8).Forecast(series, 7)
	var insufficient *InsufficientHistoryError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientHistoryError, got %v", err)
	}
	if insufficient.Category != "Drinks" || insufficient.Dates != 1 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}
}

func TestForecastDatesExtendHistory(t *testing.T) {
	series := constantSeries("Shawarma", 14, "80.00")
	last := series[len(series)-1].Date

	for _, horizon := range []int{7, 30} {
		points, err := NewEngine(0.8).Forecast(series, horizon)
		if err != nil {
			t.Fatalf("Forecast(%d) failed: %v", horizon, err)
		}
		if len(points) != horizon {
			t.Fatalf("horizon %d produced %d points", horizon, len(points))
		}
		if !points[0].Date.Equal(last.AddDate(0, 0, 1)) {
			t.Fatalf("first forecast date %s is not the day after the last observation", points[0].Date)
		}
		for i := 1; i < len(points); i++ {
			if !points[i].Date.Equal(points[i-1].Date.AddDate(0, 0, 1)) {
				t.Fatalf("forecast dates not consecutive at index %d", i)
			}
		}
	}
}

func TestForecastInvalidHorizon(t *testing.T) {
	series := constantSeries("Shawarma", 14, "80.00")

	for _, horizon := range []int{0, -1, 14, 365} {
		if _, err := NewEngine(0.8).Forecast(series, horizon); err == nil {
			t.Fatalf("horizon %d must be rejected", horizon)
		}
	}
}

func TestForecastTrend(t *testing.T) {
	start := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	series := make([]models.DailyCategorySeries, 28)
	for i := range series {
		series[i] = models.DailyCategorySeries{
			Category:      "Shawarma",
			Date:          start.AddDate(0, 0, i),
			TotalPriceSum: decimal.NewFromInt(int64(100 + 2*i)),
		}
	}

	points, err := NewEngine(0.8).Forecast(series, 7)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}

	// a clean linear series extrapolates along the same slope
	for h, p := range points {
		want := float64(100 + 2*(28+h))
		if math.Abs(p.PredictedValue-want) > 1e-6 {
			t.Fatalf("day +%d predicted %f, want %f", h+1, p.PredictedValue, want)
		}
	}
}

func TestForecastBoundOrdering(t *testing.T) {
	start := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	values := []int64{90, 130, 85, 140, 105, 95, 150, 88, 132, 91, 145, 101, 97, 148}
	series := make([]models.DailyCategorySeries, len(values))
	for i, v := range values {
		series[i] = models.DailyCategorySeries{
			Category:      "Shawarma",
			Date:          start.AddDate(0, 0, i),
			TotalPriceSum: decimal.NewFromInt(v),
		}
	}

	points, err := NewEngine(0.8).Forecast(series, 7)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	for _, p := range points {
		if !(p.LowerBound <= p.PredictedValue && p.PredictedValue <= p.UpperBound) {
			t.Fatalf("bounds out of order: %f <= %f <= %f", p.LowerBound, p.PredictedValue, p.UpperBound)
		}
	}
}

func TestForecastWiderConfidenceWidensBounds(t *testing.T) {
	start := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	series := make([]models.DailyCategorySeries, 21)
	for i := range series {
		v := 100 + 15*(i%3)
		series[i] = models.DailyCategorySeries{
			Category:      "Shawarma",
			Date:          start.AddDate(0, 0, i),
			TotalPriceSum: decimal.NewFromInt(int64(v)),
		}
	}

	narrow, err := NewEngine(0.5).Forecast(series, 7)
	if err != nil {
		t.Fatalf("Forecast(0.5) failed: %v", err)
	}
	wide, err := NewEngine(0.95).Forecast(series, 7)
	if err != nil {
		t.Fatalf("Forecast(0.95) failed: %v", err)
	}

	narrowWidth := narrow[0].UpperBound - narrow[0].LowerBound
	wideWidth := wide[0].UpperBound - wide[0].LowerBound
	if wideWidth <= narrowWidth {
		t.Fatalf("0.95 width %f not wider than 0.5 width %f", wideWidth, narrowWidth)
	}
}

func TestForecastToleratesGaps(t *testing.T) {
	start := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	offsets := []int{0, 1, 2, 5, 6, 9, 10, 12, 14, 15}
	series := make([]models.DailyCategorySeries, len(offsets))
	for i, off := range offsets {
		series[i] = models.DailyCategorySeries{
			Category:      "Shawarma",
			Date:          start.AddDate(0, 0, off),
			TotalPriceSum: decimal.NewFromInt(100),
		}
	}

	points, err := NewEngine(0.8).Forecast(series, 7)
	if err != nil {
		t.Fatalf("Forecast over gapped series failed: %v", err)
	}
	last := series[len(series)-1].Date
	if !points[0].Date.Equal(last.AddDate(0, 0, 1)) {
		t.Fatalf("forecast must start after the last observation, got %s", points[0].Date)
	}
}

func TestNewEngineClampsWidth(t *testing.T) {
	for _, w := range []float64{0, -0.2, 1, 1.5} {
		e := NewEngine(w)
		if e.Width != DefaultWidth {
			t.Fatalf("NewEngine(%f).Width = %f, want default", w, e.Width)
		}
	}
	if e := NewEngine(0.6); e.Width != 0.6 {
		t.Fatalf("valid width overwritten: %f", e.Width)
	}
}
