// Package pipeline runs one dashboard/forecast request end to end:
// fetch raw orders, clean, aggregate, fit each category on a bounded worker
// pool and merge actuals with forecasts. Each run operates on its own
// freshly fetched data; nothing is cached between runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"salesflow/aggregate"
	"salesflow/cleaner"
	"salesflow/config"
	"salesflow/forecast"
	"salesflow/logger"
	"salesflow/models"
	"salesflow/present"
	"salesflow/store"
)

// OrderSource supplies raw order rows; satisfied by *store.Store.
type OrderSource interface {
	FetchOrders(ctx context.Context, f store.OrderFilter) ([]models.RawOrderRecord, error)
}

// Request describes one pipeline run. Zero AsOf means "now"; zero
// HorizonDays means "dashboard only, skip forecasting".
type Request struct {
	Filter      store.OrderFilter
	HorizonDays int
	AsOf        time.Time
}

// Result is the full output of one run. Failed holds per-category forecast
// failures (insufficient history, fit failure) keyed by category; they are
// surfaced here for the caller to present, never dropped silently.
type Result struct {
	RunID             string                                    `json:"run_id"`
	Categories        []string                                  `json:"categories"`
	Metrics           models.Metrics                            `json:"metrics"`
	CategorySummaries map[string]models.Summary                 `json:"category_summaries"`
	ItemSummaries     map[string]models.Summary                 `json:"item_summaries"`
	TopItems          []models.ItemRank                         `json:"top_items"`
	DailySeries       map[string][]models.DailyCategorySeries   `json:"daily_series"`
	MonthlySeries     map[string][]models.MonthlyCategorySeries `json:"monthly_series"`
	Combined          map[string][]models.CombinedRow           `json:"combined,omitempty"`
	Failed            map[string]string                         `json:"failed,omitempty"`
}

type Runner struct {
	source  OrderSource
	engine  *forecast.Engine
	cfg     config.PipelineConfig
	log     *logger.Log
	archive chan<- models.CleanBatch
}

func NewRunner(source OrderSource, cfg config.PipelineConfig, log *logger.Log) *Runner {
	return &Runner{
		source: source,
		engine: forecast.NewEngine(cfg.ConfidenceWidth),
		cfg:    cfg,
		log:    log,
	}
}

// SetArchiveChannel wires an optional sink that receives each run's cleaned
// batch, consumed by the archive writer. Sends never block a run.
func (r *Runner) SetArchiveChannel(ch chan<- models.CleanBatch) {
	r.archive = ch
}

// Run executes the pipeline. Fetch and cleaning errors fail the run;
// per-category forecast errors are recorded in Result.Failed.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	runID := uuid.New().String()
	log := r.log.WithComponent("pipeline").WithFields(logger.Fields{"run_id": runID})

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	start := time.Now()
	raw, err := r.source.FetchOrders(ctx, req.Filter)
	if err != nil {
		// Upstream fetch errors pass through untouched for the caller.
		return nil, err
	}
	logger.LogPerformanceEntry(log, "pipeline", "fetch_orders", time.Since(start), logger.Fields{
		"record_count": len(raw),
	})

	cleaned, err := cleaner.Clean(raw, asOf, r.cfg.MinHistoryDays)
	if err != nil {
		return nil, err
	}

	r.sendToArchive(runID, cleaned, asOf, log)

	daily := aggregate.DailySeriesByCategory(cleaned)
	categories := make([]string, 0, len(daily))
	for c := range daily {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	result := &Result{
		RunID:             runID,
		Categories:        categories,
		Metrics:           aggregate.ComputeMetrics(cleaned),
		CategorySummaries: aggregate.SummarizeByCategory(cleaned),
		ItemSummaries:     aggregate.SummarizeByItem(cleaned),
		DailySeries:       daily,
		MonthlySeries:     aggregate.MonthlySeriesByCategory(cleaned),
	}
	result.TopItems = aggregate.TopItems(result.ItemSummaries, r.cfg.TopNItems)

	if req.HorizonDays > 0 {
		combined, failed := r.forecastAll(ctx, categories, daily, req.HorizonDays, log)
		result.Combined = combined
		result.Failed = failed
	}

	log.WithFields(logger.Fields{
		"categories":  len(categories),
		"raw_records": len(raw),
		"clean":       len(cleaned),
		"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
	}).Info("pipeline run completed")

	return result, nil
}

// forecastAll fits categories in parallel on a bounded pool. Workers share
// no state between categories; results are re-joined keyed by category so
// output does not depend on scheduling order.
func (r *Runner) forecastAll(ctx context.Context, categories []string, daily map[string][]models.DailyCategorySeries, horizon int, log *logger.Entry) (map[string][]models.CombinedRow, map[string]string) {
	combined := make(map[string][]models.CombinedRow, len(categories))
	failed := make(map[string]string)

	workers := r.cfg.MaxFitWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(categories) {
		workers = len(categories)
	}

	jobs := make(chan string)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for category := range jobs {
				start := time.Now()
				points, err := r.engine.Forecast(daily[category], horizon)

				mu.Lock()
				if err != nil {
					failed[category] = err.Error()
				} else {
					combined[category] = present.Combine(daily[category], points)
				}
				mu.Unlock()

				if err != nil {
					var insufficient *forecast.InsufficientHistoryError
					var fit *forecast.ForecastFitError
					switch {
					case errors.As(err, &insufficient):
						log.WithFields(logger.Fields{"category": category}).Info(err.Error())
					case errors.As(err, &fit):
						log.WithError(err).WithFields(logger.Fields{"category": category}).Warn("forecast fit failed")
					default:
						log.WithError(err).WithFields(logger.Fields{"category": category}).Warn("forecast failed")
					}
					continue
				}

				logger.LogPerformanceEntry(log, "pipeline", "fit_category", time.Since(start), logger.Fields{
					"category":     category,
					"horizon_days": horizon,
				})
			}
		}()
	}

	for _, category := range categories {
		select {
		case jobs <- category:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return combined, failed
		}
	}
	close(jobs)
	wg.Wait()

	return combined, failed
}

func (r *Runner) sendToArchive(runID string, cleaned []models.CleanOrderRecord, asOf time.Time, log *logger.Entry) {
	if r.archive == nil {
		return
	}

	batch := models.CleanBatch{
		BatchID:   fmt.Sprintf("%s-clean", runID),
		Records:   cleaned,
		FetchedAt: asOf,
	}

	select {
	case r.archive <- batch:
		logger.LogDataFlowEntry(log, "pipeline", "archive_channel", len(cleaned), "clean_batch")
	default:
		log.Warn("archive channel is full, batch not sent")
	}
}
