package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/forecast"
	"github.com/chisanga/revpredict-go/internal/models"
)

const (
	methodEnsemble     = "trend_seasonal_ensemble"
	methodTrendOnly    = "trend_seasonal"
	methodComponentSum = "component_sum"
)

// ForecastEngineConfig holds the tunable fitting and horizon parameters.
type ForecastEngineConfig struct {
	Horizon            int           `json:"horizon"`
	FitBudget          time.Duration `json:"fit_budget"`
	MinHistoryMonths   int           `json:"min_history_months"`
	MinResidualSamples int           `json:"min_residual_samples"`
	BoostingRounds     int           `json:"boosting_rounds"`
	LearningRate       float64       `json:"learning_rate"`
	// Region scopes the modeled series; empty selects the national aggregate.
	Region string `json:"region"`
}

// DefaultForecastEngineConfig returns the documented default parameters.
func DefaultForecastEngineConfig() ForecastEngineConfig {
	return ForecastEngineConfig{
		Horizon:            12,
		FitBudget:          30 * time.Second,
		MinHistoryMonths:   forecast.DefaultMinHistoryMonths,
		MinResidualSamples: forecast.DefaultMinResidualSamples,
		BoostingRounds:     forecast.DefaultBoostingRounds,
		LearningRate:       forecast.DefaultLearningRate,
	}
}

// modelEntry is the cached, immutable result of one per-tax-type fit.
type modelEntry struct {
	ready chan struct{}

	model        *forecast.TrendSeasonalModel
	corrector    *forecast.ResidualCorrector
	observations []models.RevenueObservation
	values       []float64
	inSample     []models.ForecastPoint
	degraded     bool
	err          error
}

// ForecastEngine orchestrates per-tax-type model fitting and correction,
// aggregates the derived Total_Revenue series, and computes summaries.
// Model state is cached per tax type behind a single-flight discipline: at
// most one fit runs per tax type, and concurrent callers await and share the
// in-flight result.
type ForecastEngine struct {
	cfg      ForecastEngineConfig
	provider HistoricalSeriesProvider
	logger   *logrus.Logger

	mu      sync.Mutex
	entries map[models.TaxType]*modelEntry

	fitCount atomic.Int64
}

// NewForecastEngine creates a forecast engine over the given provider.
func NewForecastEngine(cfg ForecastEngineConfig, provider HistoricalSeriesProvider, logger *logrus.Logger) *ForecastEngine {
	def := DefaultForecastEngineConfig()
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.FitBudget <= 0 {
		cfg.FitBudget = def.FitBudget
	}
	if cfg.MinHistoryMonths <= 0 {
		cfg.MinHistoryMonths = def.MinHistoryMonths
	}
	if cfg.MinResidualSamples <= 0 {
		cfg.MinResidualSamples = def.MinResidualSamples
	}
	if cfg.BoostingRounds <= 0 {
		cfg.BoostingRounds = def.BoostingRounds
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	return &ForecastEngine{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		entries:  make(map[models.TaxType]*modelEntry),
	}
}

// GenerateForecast produces the 12-month-ahead forecast for the requested tax
// types plus their summaries. An empty request selects every component type
// and the derived Total_Revenue. A failure for one tax type never aborts the
// others; per-type outcomes are reported in Statuses.
func (e *ForecastEngine) GenerateForecast(ctx context.Context, taxTypes []models.TaxType, horizon int) (*models.ForecastBundle, error) {
	if horizon <= 0 {
		horizon = e.cfg.Horizon
	}
	components, includeTotal := normalizeRequest(taxTypes)

	bundle := &models.ForecastBundle{
		Series:      make(map[models.TaxType]*models.ForecastSeries),
		Statuses:    make(map[models.TaxType]models.TypeStatus),
		Horizon:     horizon,
		GeneratedAt: time.Now().UTC(),
	}

	for _, taxType := range components {
		entry, err := e.ensureModel(ctx, taxType)
		if err != nil {
			if ctx.Err() != nil {
				return bundle, ctx.Err()
			}
			bundle.Statuses[taxType] = statusForError(err)
			e.logger.WithFields(logrus.Fields{
				"tax_type": taxType,
				"status":   bundle.Statuses[taxType],
			}).WithError(err).Warn("Forecast skipped for tax type")
			continue
		}

		series := e.buildSeries(taxType, entry, horizon)
		bundle.Series[taxType] = series
		if entry.degraded {
			bundle.Statuses[taxType] = models.StatusDegraded
		} else {
			bundle.Statuses[taxType] = models.StatusOK
		}
		bundle.Summaries = append(bundle.Summaries, buildSummary(series))
	}

	if includeTotal {
		total, ok := deriveTotal(bundle, horizon)
		if ok {
			bundle.Series[models.TaxTypeTotalRevenue] = total
			if total.Degraded {
				bundle.Statuses[models.TaxTypeTotalRevenue] = models.StatusDegraded
			} else {
				bundle.Statuses[models.TaxTypeTotalRevenue] = models.StatusOK
			}
			bundle.Summaries = append(bundle.Summaries, buildSummary(total))
		} else {
			bundle.Statuses[models.TaxTypeTotalRevenue] = models.StatusFailed
			e.logger.Warn("Total revenue series omitted: component forecasts missing or on misaligned date axes")
		}
	}

	return bundle, nil
}

// InSample returns the historical observations and the matching in-sample
// ensemble predictions for a tax type, fitting (or reusing) the cached model.
// Total_Revenue is derived by summing the component series over their common
// dates.
func (e *ForecastEngine) InSample(ctx context.Context, taxType models.TaxType) ([]models.RevenueObservation, []models.ForecastPoint, error) {
	if taxType == models.TaxTypeTotalRevenue {
		return e.totalInSample(ctx)
	}

	entry, err := e.ensureModel(ctx, taxType)
	if err != nil {
		return nil, nil, err
	}
	return entry.observations, entry.inSample, nil
}

// Invalidate drops cached model state for the given tax types, or for all
// types when none are named. Call it when new historical observations are
// ingested so the next request refits.
func (e *ForecastEngine) Invalidate(taxTypes ...models.TaxType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(taxTypes) == 0 {
		e.entries = make(map[models.TaxType]*modelEntry)
		return
	}
	for _, t := range taxTypes {
		delete(e.entries, t)
	}
}

// FitCount reports how many model fits have executed, used to verify the
// single-flight discipline under concurrent load.
func (e *ForecastEngine) FitCount() int64 {
	return e.fitCount.Load()
}

// ensureModel returns the cached model entry for a tax type, fitting it if
// absent. Concurrent callers for the same tax type block on the in-flight fit
// and share its result instead of refitting.
func (e *ForecastEngine) ensureModel(ctx context.Context, taxType models.TaxType) (*modelEntry, error) {
	if !taxType.IsComponent() {
		return nil, fmt.Errorf("cannot model tax type %q directly", taxType)
	}

	e.mu.Lock()
	if entry, ok := e.entries[taxType]; ok {
		e.mu.Unlock()
		select {
		case <-entry.ready:
			return entry, entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	entry := &modelEntry{ready: make(chan struct{})}
	e.entries[taxType] = entry
	e.mu.Unlock()

	e.fit(taxType, entry)
	close(entry.ready)

	if entry.err != nil {
		// Failed fits are not cached; a later request retries.
		e.mu.Lock()
		if e.entries[taxType] == entry {
			delete(e.entries, taxType)
		}
		e.mu.Unlock()
		return nil, entry.err
	}
	return entry, nil
}

// fit runs the two-stage fit for one tax type within the configured budget.
func (e *ForecastEngine) fit(taxType models.TaxType, entry *modelEntry) {
	fitCtx, cancel := context.WithTimeout(context.Background(), e.cfg.FitBudget)
	defer cancel()

	e.fitCount.Add(1)
	start := time.Now()

	observations, err := e.provider.Series(fitCtx, taxType, e.cfg.Region)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			entry.err = &models.FitTimeoutError{TaxType: taxType, Budget: e.cfg.FitBudget}
			return
		}
		entry.err = fmt.Errorf("loading series for %s: %w", taxType, err)
		return
	}
	for i := range observations {
		observations[i].Date = monthStart(observations[i].Date)
	}
	sort.Slice(observations, func(i, j int) bool {
		return observations[i].Date.Before(observations[j].Date)
	})

	model := forecast.NewTrendSeasonalModel()
	model.MinHistoryMonths = e.cfg.MinHistoryMonths
	if err := model.Fit(taxType, observations); err != nil {
		entry.err = err
		return
	}

	values := make([]float64, len(observations))
	dates := make([]time.Time, len(observations))
	for i, obs := range observations {
		values[i] = obs.Amount.InexactFloat64()
		dates[i] = obs.Date
	}

	corrector := forecast.NewResidualCorrector()
	corrector.Rounds = e.cfg.BoostingRounds
	corrector.LearningRate = e.cfg.LearningRate
	corrector.MinSamples = e.cfg.MinResidualSamples

	rows := forecast.BuildInSampleFeatures(dates, values)
	residuals := model.Residuals()

	degraded := false
	if err := corrector.Fit(fitCtx, rows, residuals[forecast.FeatureOffset:]); err != nil {
		switch {
		case errors.Is(err, forecast.ErrTooFewSamples):
			degraded = true
			e.logger.WithField("tax_type", taxType).Warn("Residual corrector degraded to identity")
		case errors.Is(err, context.DeadlineExceeded):
			entry.err = &models.FitTimeoutError{TaxType: taxType, Budget: e.cfg.FitBudget}
			return
		default:
			entry.err = fmt.Errorf("fitting residual corrector for %s: %w", taxType, err)
			return
		}
	}

	// Single consistent ensemble prediction per historical date: base
	// in-sample prediction plus the learned correction where features exist.
	inSample := model.PredictInSample()
	deltas := corrector.Correct(rows)
	for i, delta := range deltas {
		idx := forecast.FeatureOffset + i
		inSample[idx] = shiftPoint(inSample[idx], delta)
	}

	entry.model = model
	entry.corrector = corrector
	entry.observations = observations
	entry.values = values
	entry.inSample = inSample
	entry.degraded = degraded

	e.logger.WithFields(logrus.Fields{
		"tax_type":    taxType,
		"months":      len(observations),
		"degraded":    degraded,
		"fit_time_ms": time.Since(start).Milliseconds(),
	}).Info("Model fit complete")
}

// buildSeries produces the ensemble forecast for a fitted tax type. Future
// corrections are computed recursively: each month's features draw on the
// historical actuals plus the ensemble predictions made so far.
func (e *ForecastEngine) buildSeries(taxType models.TaxType, entry *modelEntry, horizon int) *models.ForecastSeries {
	base := entry.model.Predict(horizon)

	combined := make([]float64, len(entry.values), len(entry.values)+horizon)
	copy(combined, entry.values)

	points := make([]models.ForecastPoint, len(base))
	for i, p := range base {
		row := forecast.NextFeatureRow(p.Date.Month(), combined)
		pt := shiftPoint(p, entry.corrector.CorrectOne(row))
		points[i] = pt
		combined = append(combined, pt.Predicted.InexactFloat64())
	}

	method := methodEnsemble
	if entry.degraded {
		method = methodTrendOnly
	}
	return &models.ForecastSeries{
		TaxType:  taxType,
		Points:   points,
		Degraded: entry.degraded,
		Method:   method,
	}
}

// totalInSample derives the Total_Revenue historical series and in-sample
// ensemble predictions by summing the components over their common dates.
func (e *ForecastEngine) totalInSample(ctx context.Context) ([]models.RevenueObservation, []models.ForecastPoint, error) {
	type aligned struct {
		actual    decimal.Decimal
		predicted decimal.Decimal
		lower     decimal.Decimal
		upper     decimal.Decimal
		count     int
	}
	byDate := make(map[time.Time]*aligned)

	components := models.ComponentTaxTypes()
	for _, taxType := range components {
		entry, err := e.ensureModel(ctx, taxType)
		if err != nil {
			return nil, nil, fmt.Errorf("deriving total revenue: %w", err)
		}
		for i, obs := range entry.observations {
			a, ok := byDate[obs.Date]
			if !ok {
				a = &aligned{}
				byDate[obs.Date] = a
			}
			a.actual = a.actual.Add(obs.Amount)
			a.predicted = a.predicted.Add(entry.inSample[i].Predicted)
			a.lower = a.lower.Add(entry.inSample[i].LowerBound)
			a.upper = a.upper.Add(entry.inSample[i].UpperBound)
			a.count++
		}
	}

	dates := make([]time.Time, 0, len(byDate))
	for date, a := range byDate {
		// Only dates covered by every component form a consistent total.
		if a.count == len(components) {
			dates = append(dates, date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	observations := make([]models.RevenueObservation, len(dates))
	predictions := make([]models.ForecastPoint, len(dates))
	for i, date := range dates {
		a := byDate[date]
		observations[i] = models.RevenueObservation{
			Date:    date,
			TaxType: models.TaxTypeTotalRevenue,
			Region:  e.cfg.Region,
			Amount:  a.actual,
		}
		predictions[i] = models.ForecastPoint{
			Date:       date,
			Predicted:  a.predicted,
			LowerBound: a.lower,
			UpperBound: a.upper,
		}
	}
	return observations, predictions, nil
}

// deriveTotal sums the component forecasts date-wise into the Total_Revenue
// series. It requires every component series to be present and on the same
// monthly date axis so the total stays additively consistent with its parts;
// component histories ending at different months shift their forecast ranges
// apart, and summing across offset dates would mislabel every total point.
func deriveTotal(bundle *models.ForecastBundle, horizon int) (*models.ForecastSeries, bool) {
	components := models.ComponentTaxTypes()
	degraded := false
	var first *models.ForecastSeries
	for _, taxType := range components {
		series, ok := bundle.Series[taxType]
		if !ok || len(series.Points) != horizon {
			return nil, false
		}
		if first == nil {
			first = series
		}
		for i, p := range series.Points {
			if !p.Date.Equal(first.Points[i].Date) {
				return nil, false
			}
		}
		degraded = degraded || series.Degraded
	}

	points := make([]models.ForecastPoint, horizon)
	for i := 0; i < horizon; i++ {
		pt := models.ForecastPoint{Date: first.Points[i].Date}
		for _, taxType := range components {
			p := bundle.Series[taxType].Points[i]
			pt.Predicted = pt.Predicted.Add(p.Predicted)
			pt.LowerBound = pt.LowerBound.Add(p.LowerBound)
			pt.UpperBound = pt.UpperBound.Add(p.UpperBound)
		}
		points[i] = pt
	}
	return &models.ForecastSeries{
		TaxType:  models.TaxTypeTotalRevenue,
		Points:   points,
		Degraded: degraded,
		Method:   methodComponentSum,
	}, true
}

// buildSummary computes the derived statistics for one series.
func buildSummary(series *models.ForecastSeries) models.ForecastSummary {
	summary := models.ForecastSummary{
		TaxType:  series.TaxType,
		Degraded: series.Degraded,
		Method:   series.Method,
	}
	if len(series.Points) == 0 {
		return summary
	}

	total := decimal.Zero
	maxMonthly := series.Points[0].Predicted
	minMonthly := series.Points[0].Predicted
	for _, p := range series.Points {
		total = total.Add(p.Predicted)
		if p.Predicted.GreaterThan(maxMonthly) {
			maxMonthly = p.Predicted
		}
		if p.Predicted.LessThan(minMonthly) {
			minMonthly = p.Predicted
		}
	}
	summary.TotalForecast = total
	summary.AverageMonthly = total.Div(decimal.NewFromInt(int64(len(series.Points))))
	summary.MaxMonthly = maxMonthly
	summary.MinMonthly = minMonthly

	first := series.Points[0].Predicted
	last := series.Points[len(series.Points)-1].Predicted
	if !first.IsZero() {
		growth, _ := last.Sub(first).Div(first).Mul(decimal.NewFromInt(100)).Float64()
		summary.GrowthRate = &growth
	}
	return summary
}

// normalizeRequest resolves the requested tax types into the component set to
// model and whether the derived total is wanted. Total_Revenue pulls in every
// component it is summed from.
func normalizeRequest(taxTypes []models.TaxType) ([]models.TaxType, bool) {
	if len(taxTypes) == 0 {
		return models.ComponentTaxTypes(), true
	}

	includeTotal := false
	wanted := make(map[models.TaxType]bool)
	for _, t := range taxTypes {
		if t == models.TaxTypeTotalRevenue {
			includeTotal = true
			continue
		}
		if t.IsComponent() {
			wanted[t] = true
		}
	}
	if includeTotal {
		return models.ComponentTaxTypes(), true
	}

	components := make([]models.TaxType, 0, len(wanted))
	for _, t := range models.ComponentTaxTypes() {
		if wanted[t] {
			components = append(components, t)
		}
	}
	return components, false
}

// statusForError maps a fit failure onto the per-type status taxonomy.
func statusForError(err error) models.TypeStatus {
	var insufficient *models.InsufficientHistoryError
	if errors.As(err, &insufficient) {
		return models.StatusInsufficientHistory
	}
	var timeout *models.FitTimeoutError
	if errors.As(err, &timeout) {
		return models.StatusFitTimeout
	}
	return models.StatusFailed
}

// monthStart normalizes a date to the first of its month in UTC so series
// from different components align.
func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// shiftPoint applies an additive correction to a forecast point, clamping at
// zero while preserving lower <= predicted <= upper.
func shiftPoint(p models.ForecastPoint, delta float64) models.ForecastPoint {
	pred := p.Predicted.InexactFloat64() + delta
	lower := p.LowerBound.InexactFloat64() + delta
	upper := p.UpperBound.InexactFloat64() + delta

	if pred < 0 {
		pred = 0
	}
	if lower < 0 {
		lower = 0
	}
	if lower > pred {
		lower = pred
	}
	if upper < pred {
		upper = pred
	}
	return models.ForecastPoint{
		Date:       p.Date,
		Predicted:  decimal.NewFromFloat(pred),
		LowerBound: decimal.NewFromFloat(lower),
		UpperBound: decimal.NewFromFloat(upper),
	}
}
