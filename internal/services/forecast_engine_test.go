package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chisanga/revpredict-go/internal/models"
)

// stubProvider serves canned series per tax type and counts calls.
type stubProvider struct {
	mu     sync.Mutex
	series map[models.TaxType][]models.RevenueObservation
	errs   map[models.TaxType]error
	calls  map[models.TaxType]int
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		series: make(map[models.TaxType][]models.RevenueObservation),
		errs:   make(map[models.TaxType]error),
		calls:  make(map[models.TaxType]int),
	}
}

func (p *stubProvider) Series(_ context.Context, taxType models.TaxType, _ string) ([]models.RevenueObservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[taxType]++
	if err, ok := p.errs[taxType]; ok {
		return nil, err
	}
	return p.series[taxType], nil
}

func (p *stubProvider) callCount(taxType models.TaxType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[taxType]
}

func testSeries(taxType models.TaxType, months int, base, slope float64) []models.RevenueObservation {
	start := time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)
	series := make([]models.RevenueObservation, months)
	for i := range series {
		date := start.AddDate(0, i, 0)
		amount := base + slope*float64(i)
		if date.Month() == time.December {
			amount += base * 0.1
		}
		series[i] = models.RevenueObservation{
			Date:    date,
			TaxType: taxType,
			Amount:  decimal.NewFromFloat(amount),
		}
	}
	return series
}

func seedAllComponents(p *stubProvider, months int) {
	for i, taxType := range models.ComponentTaxTypes() {
		p.series[taxType] = testSeries(taxType, months, 1000*float64(i+1), 10)
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestForecastEngine_GenerateForecastAllTypes(t *testing.T) {
	provider := newStubProvider()
	seedAllComponents(provider, 36)
	engine := NewForecastEngine(ForecastEngineConfig{}, provider, testLogger())

	bundle, err := engine.GenerateForecast(context.Background(), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 12, bundle.Horizon)
	assert.Len(t, bundle.Series, 8)
	assert.Len(t, bundle.Summaries, 8)

	for _, taxType := range models.AllTaxTypes() {
		require.Contains(t, bundle.Series, taxType)
		assert.Equal(t, models.StatusOK, bundle.Statuses[taxType])

		series := bundle.Series[taxType]
		require.Len(t, series.Points, 12)
		for i, p := range series.Points {
			assert.True(t, p.LowerBound.LessThanOrEqual(p.Predicted), "%s point %d", taxType, i)
			assert.True(t, p.Predicted.LessThanOrEqual(p.UpperBound), "%s point %d", taxType, i)
			if i > 0 {
				assert.True(t, p.Date.After(series.Points[i-1].Date))
			}
		}
	}
	assert.Equal(t, methodComponentSum, bundle.Series[models.TaxTypeTotalRevenue].Method)
}

func TestForecastEngine_TotalIsExactComponentSum(t *testing.T) {
	provider := newStubProvider()
	seedAllComponents(provider, 40)
	engine := NewForecastEngine(ForecastEngineConfig{}, provider, testLogger())

	bundle, err := engine.GenerateForecast(context.Background(), nil, 12)
	require.NoError(t, err)

	total := bundle.Series[models.TaxTypeTotalRevenue]
	require.NotNil(t, total)
	for i := range total.Points {
		sum := decimal.Zero
		lower := decimal.Zero
		upper := decimal.Zero
		for _, taxType := range models.ComponentTaxTypes() {
			p := bundle.Series[taxType].Points[i]
			sum = sum.Add(p.Predicted)
			lower = lower.Add(p.LowerBound)
			upper = upper.Add(p.UpperBound)
		}
		assert.True(t, total.Points[i].Predicted.Equal(sum), "month %d predicted mismatch", i)
		assert.True(t, total.Points[i].LowerBound.Equal(lower), "month %d lower mismatch", i)
		assert.True(t, total.Points[i].UpperBound.Equal(upper), "month %d upper mismatch", i)
	}
}

func TestForecastEngine_SingleFlightFitting(t *testing.T) {
	provider := newStubProvider()
	seedAllComponents(provider, 36)
	engine := NewForecastEngine(ForecastEngineConfig{}, provider, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.GenerateForecast(context.Background(), []models.TaxType{models.TaxTypeVAT}, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), engine.FitCount())
	assert.Equal(t, 1, provider.callCount(models.TaxTypeVAT))
}

func TestForecastEngine_PartialFailure(t *testing.T) {
	provider := newStubProvider()
	seedAllComponents(provider, 36)
	provider.series[models.TaxTypeVAT] = testSeries(models.TaxTypeVAT, 10, 1000, 10)

	engine := NewForecastEngine(ForecastEngineConfig{}, provider, testLogger())
	bundle, err := engine.GenerateForecast(context.Background(), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, models.StatusInsufficientHistory, bundle.Statuses[models.TaxTypeVAT])
	assert.NotContains(t, bundle.Series, models.TaxTypeVAT)

	// The other components still forecast; the derived total cannot.
	assert.Equal(t, models.StatusOK, bundle.Statuses[models.TaxTypePAYE])
	assert.Contains(t, bundle.Series, models.TaxTypePAYE)
	assert.Equal(t, models.StatusFailed, bundle.Statuses[models.TaxTypeTotalRevenue])
	assert.NotContains(t, bundle.Series, models.TaxTypeTotalRevenue)
}

func TestForecastEngine_StaggeredHistoriesOmitTotal(t *testing.T) {
	provider := newStubProvider()
	seedAllComponents(provider, 36)
	// VAT reports three months behind the other categories, so its forecast
	// range starts three months earlier.
	provider.series[models.TaxTypeVAT] = testSeries(models.TaxTypeVAT, 33, 1000, 10)

	engine := NewForecastEngine(ForecastEngineConfig{}, provider, testLogger())
	bundle, err := engine.GenerateForecast(context.Background(), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, models.StatusOK, bundle.Statuses[models.TaxTypeVAT])
	vatStart := bundle.Series[models.TaxTypeVAT].Points[0].Date
	payeStart := bundle.Series[models.TaxTypePAYE].Points[0].Date
	require.False(t, vatStart.Equal(payeStart), "fixture must produce offset forecast ranges")

	// Summing offset months would mislabel every total point, so the derived
	// total is reported failed instead.
	assert.Equal(t, models.StatusFailed, bundle.Statuses[models.TaxTypeTotalRevenue])
	assert.NotContains(t, bundle.Series, models.TaxTypeTotalRevenue)
}

func TestForecastEngine_ProviderErrorNotCached(t *testing.T) {
	provider := newStubProvider()
	seedAllComponents(provider, 36)
	provider.errs[models.TaxTypeVAT] = errors.New("connection refused")

	engine := NewForecastEngine(ForecastEngineConfig{}, provider, testLogger())

	bundle, err := engine.GenerateForecast(context.Background(), []models.TaxType{models.TaxTypeVAT}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, bundle.Statuses[models.TaxTypeVAT])

	// A failed fit is retried on the next request once the provider recovers.
	delete(provider.errs, models.TaxTypeVAT)
	bundle, err = engine.GenerateForecast(context.Background(), []models.TaxType{models.TaxTypeVAT}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, bundle.Statuses[models.TaxTypeVAT])
	assert.Equal(t, 2, provider.callCount(models.TaxTypeVAT))
}

func TestForecastEngine_InvalidateForcesRefit(t *testing.T) {
	provider := newStubProvider()
	seedAllComponents(provider, 36)
	engine := NewForecastEngine(ForecastEngineConfig{}, provider, testLogger())

	_, err := engine.GenerateForecast(context.Background(), []models.TaxType{models.TaxTypeVAT}, 0)
	require.NoError(t, err)
	_, err = engine.GenerateForecast(context.Background(), []models.TaxType{models.TaxTypeVAT}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.callCount(models.TaxTypeVAT))

	engine.Invalidate(models.TaxTypeVAT)
	_, err = engine.GenerateForecast(context.Background(), []models.TaxType{models.TaxTypeVAT}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount(models.TaxTypeVAT))
}

func TestForecastEngine_DegradedWithoutResidualSamples(t *testing.T) {
	provider := newStubProvider()
	seedAllComponents(provider, 24)

	// 24 months leaves only 12 feature rows; demanding more degrades the
	// corrector to the identity.
	engine := NewForecastEngine(ForecastEngineConfig{MinResidualSamples: 20}, provider, testLogger())
	bundle, err := engine.GenerateForecast(context.Background(), []models.TaxType{models.TaxTypeVAT}, 0)
	require.NoError(t, err)

	assert.Equal(t, models.StatusDegraded, bundle.Statuses[models.TaxTypeVAT])
	series := bundle.Series[models.TaxTypeVAT]
	require.NotNil(t, series)
	assert.True(t, series.Degraded)
	assert.Equal(t, methodTrendOnly, series.Method)
	require.Len(t, bundle.Summaries, 1)
	assert.True(t, bundle.Summaries[0].Degraded)
}

func TestForecastEngine_TotalRequestPullsComponents(t *testing.T) {
	provider := newStubProvider()
	seedAllComponents(provider, 36)
	engine := NewForecastEngine(ForecastEngineConfig{}, provider, testLogger())

	bundle, err := engine.GenerateForecast(context.Background(), []models.TaxType{models.TaxTypeTotalRevenue}, 0)
	require.NoError(t, err)
	assert.Len(t, bundle.Series, 8)
	assert.Contains(t, bundle.Series, models.TaxTypeTotalRevenue)
}

func TestForecastEngine_InSampleTotalAlignment(t *testing.T) {
	provider := newStubProvider()
	seedAllComponents(provider, 36)
	engine := NewForecastEngine(ForecastEngineConfig{}, provider, testLogger())

	observations, predictions, err := engine.InSample(context.Background(), models.TaxTypeTotalRevenue)
	require.NoError(t, err)
	require.Len(t, observations, 36)
	require.Len(t, predictions, 36)

	for i, obs := range observations {
		assert.Equal(t, models.TaxTypeTotalRevenue, obs.TaxType)
		assert.True(t, obs.Date.Equal(predictions[i].Date))

		sum := decimal.Zero
		for _, taxType := range models.ComponentTaxTypes() {
			sum = sum.Add(provider.series[taxType][i].Amount)
		}
		assert.True(t, obs.Amount.Equal(sum), "month %d actual total mismatch", i)
	}
}

func TestForecastEngine_UnsortedObservations(t *testing.T) {
	provider := newStubProvider()
	seedAllComponents(provider, 36)

	series := provider.series[models.TaxTypeVAT]
	series[0], series[35] = series[35], series[0]
	series[5], series[20] = series[20], series[5]

	engine := NewForecastEngine(ForecastEngineConfig{}, provider, testLogger())
	bundle, err := engine.GenerateForecast(context.Background(), []models.TaxType{models.TaxTypeVAT}, 0)
	require.NoError(t, err)

	points := bundle.Series[models.TaxTypeVAT].Points
	require.Len(t, points, 12)
	first := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, points[0].Date.Equal(first), "forecast should start after the latest observation, got %s", points[0].Date)
}

func TestBuildSummary(t *testing.T) {
	mk := func(v float64) models.ForecastPoint {
		return models.ForecastPoint{Predicted: decimal.NewFromFloat(v)}
	}
	series := &models.ForecastSeries{
		TaxType: models.TaxTypeVAT,
		Points:  []models.ForecastPoint{mk(100), mk(150), mk(50), mk(120)},
		Method:  methodEnsemble,
	}

	summary := buildSummary(series)
	assert.True(t, summary.TotalForecast.Equal(decimal.NewFromInt(420)))
	assert.True(t, summary.AverageMonthly.Equal(decimal.NewFromInt(105)))
	assert.True(t, summary.MaxMonthly.Equal(decimal.NewFromInt(150)))
	assert.True(t, summary.MinMonthly.Equal(decimal.NewFromInt(50)))
	require.NotNil(t, summary.GrowthRate)
	assert.InDelta(t, 20.0, *summary.GrowthRate, 1e-9)
}

func TestBuildSummary_FlatSeriesGrowthIsZero(t *testing.T) {
	points := make([]models.ForecastPoint, 12)
	for i := range points {
		points[i] = models.ForecastPoint{Predicted: decimal.NewFromInt(900)}
	}
	summary := buildSummary(&models.ForecastSeries{TaxType: models.TaxTypePAYE, Points: points})
	require.NotNil(t, summary.GrowthRate)
	assert.Equal(t, 0.0, *summary.GrowthRate)
}

func TestBuildSummary_ZeroBaseMonth(t *testing.T) {
	series := &models.ForecastSeries{
		TaxType: models.TaxTypeExciseTax,
		Points: []models.ForecastPoint{
			{Predicted: decimal.Zero},
			{Predicted: decimal.NewFromInt(80)},
		},
	}
	summary := buildSummary(series)
	assert.Nil(t, summary.GrowthRate, "growth rate undefined on a zero base month")
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, models.StatusInsufficientHistory,
		statusForError(&models.InsufficientHistoryError{TaxType: models.TaxTypeVAT, Months: 3, Required: 24}))
	assert.Equal(t, models.StatusFitTimeout,
		statusForError(&models.FitTimeoutError{TaxType: models.TaxTypeVAT, Budget: time.Second}))
	assert.Equal(t, models.StatusFailed, statusForError(errors.New("boom")))
}

func TestShiftPoint(t *testing.T) {
	p := models.ForecastPoint{
		Predicted:  decimal.NewFromInt(100),
		LowerBound: decimal.NewFromInt(80),
		UpperBound: decimal.NewFromInt(120),
	}

	shifted := shiftPoint(p, 10)
	assert.InDelta(t, 110, shifted.Predicted.InexactFloat64(), 1e-9)
	assert.InDelta(t, 90, shifted.LowerBound.InexactFloat64(), 1e-9)
	assert.InDelta(t, 130, shifted.UpperBound.InexactFloat64(), 1e-9)

	// A large negative correction clamps at zero without breaking ordering.
	shifted = shiftPoint(p, -150)
	assert.True(t, shifted.Predicted.IsZero())
	assert.True(t, shifted.LowerBound.IsZero())
	assert.True(t, shifted.UpperBound.GreaterThanOrEqual(shifted.Predicted))
}
