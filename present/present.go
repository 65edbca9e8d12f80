// Package present merges observed daily totals with forecast output into a
// single chart-ready series: an actual line, a forecast line and a shaded
// interval.
package present

import "salesflow/models"

// Combine builds the combined series for one category. history and points
// must each be ordered by date ascending; the forecast engine only extends
// past the last observation, so the last actual row always precedes the
// first forecast row and the result is strictly date-ordered.
func Combine(history []models.DailyCategorySeries, points []models.ForecastPoint) []models.CombinedRow {
	rows := make([]models.CombinedRow, 0, len(history)+len(points))

	for _, h := range history {
		rows = append(rows, models.CombinedRow{
			Kind:  models.KindActual,
			Date:  h.Date,
			Value: h.TotalPriceSum.InexactFloat64(),
		})
	}

	for _, p := range points {
		lower, upper := p.LowerBound, p.UpperBound
		rows = append(rows, models.CombinedRow{
			Kind:       models.KindForecast,
			Date:       p.Date,
			Value:      p.PredictedValue,
			LowerBound: &lower,
			UpperBound: &upper,
		})
	}

	return rows
}
