package forecast

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chisanga/revpredict-go/internal/models"
)

const (
	// DefaultMinHistoryMonths is the minimum history required to estimate a
	// full set of monthly seasonal components with at least two observations
	// per calendar month.
	DefaultMinHistoryMonths = 24

	seasonLength = 12

	// confidenceZ scales the residual standard deviation into a ~95%
	// confidence interval.
	confidenceZ = 1.96
)

// TrendSeasonalModel decomposes a monthly revenue series into an additive
// level/trend/monthly-seasonal structure. The trend is a least-squares line
// over the time index; seasonal components are the per-calendar-month means
// of the detrended series, normalized to zero mean. Confidence bounds derive
// from the in-sample residual standard deviation and widen with the forecast
// horizon.
type TrendSeasonalModel struct {
	MinHistoryMonths int

	taxType     models.TaxType
	intercept   float64
	slope       float64
	seasonal    [seasonLength]float64
	residualStd float64

	dates  []time.Time
	values []float64
	fitted bool
}

// NewTrendSeasonalModel creates an unfitted model with default settings.
func NewTrendSeasonalModel() *TrendSeasonalModel {
	return &TrendSeasonalModel{MinHistoryMonths: DefaultMinHistoryMonths}
}

// Fit estimates the decomposition from an ordered monthly series. It returns
// an InsufficientHistoryError when fewer than MinHistoryMonths observations
// are supplied.
func (m *TrendSeasonalModel) Fit(taxType models.TaxType, series []models.RevenueObservation) error {
	n := len(series)
	if n < m.MinHistoryMonths {
		return &models.InsufficientHistoryError{TaxType: taxType, Months: n, Required: m.MinHistoryMonths}
	}

	m.taxType = taxType
	m.dates = make([]time.Time, n)
	m.values = make([]float64, n)
	for i, obs := range series {
		m.dates[i] = monthStart(obs.Date)
		m.values[i] = obs.Amount.InexactFloat64()
	}

	// Least-squares line over the time index.
	var sumT, sumY, sumTT, sumTY float64
	for i, y := range m.values {
		t := float64(i)
		sumT += t
		sumY += y
		sumTT += t * t
		sumTY += t * y
	}
	fn := float64(n)
	denom := fn*sumTT - sumT*sumT
	if denom != 0 {
		m.slope = (fn*sumTY - sumT*sumY) / denom
	}
	m.intercept = (sumY - m.slope*sumT) / fn

	// Per-calendar-month means of the detrended series.
	var seasonalSum [seasonLength]float64
	var seasonalCount [seasonLength]int
	for i, y := range m.values {
		idx := int(m.dates[i].Month()) - 1
		seasonalSum[idx] += y - (m.intercept + m.slope*float64(i))
		seasonalCount[idx]++
	}
	var mean float64
	for i := range m.seasonal {
		if seasonalCount[i] > 0 {
			m.seasonal[i] = seasonalSum[i] / float64(seasonalCount[i])
		}
		mean += m.seasonal[i]
	}
	// Normalize so seasonal effects sum to zero and the trend carries the level.
	mean /= seasonLength
	for i := range m.seasonal {
		m.seasonal[i] -= mean
	}

	// In-sample residual spread drives the confidence interval width.
	var sqSum float64
	for i, y := range m.values {
		r := y - m.inSampleValue(i)
		sqSum += r * r
	}
	if n > 1 {
		m.residualStd = math.Sqrt(sqSum / float64(n-1))
	}

	m.fitted = true
	return nil
}

// Fitted reports whether the model has been fit.
func (m *TrendSeasonalModel) Fitted() bool {
	return m.fitted
}

// Predict returns the forecast for the given number of months after the last
// historical observation. Bound width is monotonically non-decreasing with
// the horizon index.
func (m *TrendSeasonalModel) Predict(periods int) []models.ForecastPoint {
	if !m.fitted || periods <= 0 {
		return nil
	}
	n := len(m.values)
	last := m.dates[n-1]
	points := make([]models.ForecastPoint, periods)
	for h := 1; h <= periods; h++ {
		date := last.AddDate(0, h, 0)
		base := m.intercept + m.slope*float64(n-1+h) + m.seasonal[int(date.Month())-1]
		width := confidenceZ * m.residualStd * math.Sqrt(1+float64(h)/seasonLength)
		points[h-1] = boundedPoint(date, base, width)
	}
	return points
}

// PredictInSample reconstructs the model's estimate for every historical
// month, used by anomaly scoring.
func (m *TrendSeasonalModel) PredictInSample() []models.ForecastPoint {
	if !m.fitted {
		return nil
	}
	width := confidenceZ * m.residualStd
	points := make([]models.ForecastPoint, len(m.values))
	for i := range m.values {
		points[i] = boundedPoint(m.dates[i], m.inSampleValue(i), width)
	}
	return points
}

// Residuals returns actual minus in-sample prediction per historical month.
func (m *TrendSeasonalModel) Residuals() []float64 {
	if !m.fitted {
		return nil
	}
	res := make([]float64, len(m.values))
	for i, y := range m.values {
		res[i] = y - m.inSampleValue(i)
	}
	return res
}

// LastDate returns the date of the last observation used in fitting.
func (m *TrendSeasonalModel) LastDate() time.Time {
	if len(m.dates) == 0 {
		return time.Time{}
	}
	return m.dates[len(m.dates)-1]
}

func (m *TrendSeasonalModel) inSampleValue(i int) float64 {
	return m.intercept + m.slope*float64(i) + m.seasonal[int(m.dates[i].Month())-1]
}

// boundedPoint converts a raw prediction and interval width into a
// ForecastPoint, clamping revenue at zero while preserving
// lower <= predicted <= upper.
func boundedPoint(date time.Time, base, width float64) models.ForecastPoint {
	pred := math.Max(base, 0)
	lower := math.Max(base-width, 0)
	if lower > pred {
		lower = pred
	}
	upper := base + width
	if upper < pred {
		upper = pred
	}
	return models.ForecastPoint{
		Date:       date,
		Predicted:  decimal.NewFromFloat(pred),
		LowerBound: decimal.NewFromFloat(lower),
		UpperBound: decimal.NewFromFloat(upper),
	}
}

// monthStart normalizes an observation date to the first of its month in UTC.
func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
