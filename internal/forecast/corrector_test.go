package forecast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func featureRows(n int) []FeatureRow {
	rows := make([]FeatureRow, n)
	for i := range rows {
		rows[i] = FeatureRow{
			Month:    float64(i%12 + 1),
			Lag1:     100 + float64(i),
			Lag12:    90 + float64(i),
			Rolling3: 95 + float64(i),
		}
	}
	return rows
}

func TestResidualCorrector_TooFewSamples(t *testing.T) {
	corrector := NewResidualCorrector()

	err := corrector.Fit(context.Background(), featureRows(5), []float64{1, 2, 3, 4, 5})
	require.ErrorIs(t, err, ErrTooFewSamples)
	assert.True(t, corrector.Identity())

	deltas := corrector.Correct(featureRows(3))
	require.Len(t, deltas, 3)
	for _, d := range deltas {
		assert.Zero(t, d)
	}
	assert.Zero(t, corrector.CorrectOne(FeatureRow{Month: 6, Lag1: 100}))
}

func TestResidualCorrector_MismatchedInputs(t *testing.T) {
	corrector := NewResidualCorrector()
	err := corrector.Fit(context.Background(), featureRows(12), []float64{1, 2, 3})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTooFewSamples)
}

func TestResidualCorrector_LearnsConstantBias(t *testing.T) {
	rows := featureRows(24)
	residuals := make([]float64, len(rows))
	for i := range residuals {
		residuals[i] = 42.5
	}

	corrector := NewResidualCorrector()
	require.NoError(t, corrector.Fit(context.Background(), rows, residuals))
	assert.False(t, corrector.Identity())

	// A constant bias is captured entirely by the base prediction.
	for _, row := range rows {
		assert.InDelta(t, 42.5, corrector.CorrectOne(row), 1e-9)
	}
}

func TestResidualCorrector_LearnsMonthPattern(t *testing.T) {
	rows := featureRows(36)
	residuals := make([]float64, len(rows))
	for i, row := range rows {
		if row.Month == 12 {
			residuals[i] = 200
		} else {
			residuals[i] = 0
		}
	}

	corrector := NewResidualCorrector()
	require.NoError(t, corrector.Fit(context.Background(), rows, residuals))

	december := corrector.CorrectOne(FeatureRow{Month: 12, Lag1: 100, Lag12: 90, Rolling3: 95})
	june := corrector.CorrectOne(FeatureRow{Month: 6, Lag1: 100, Lag12: 90, Rolling3: 95})
	assert.Greater(t, december, june, "December correction should exceed June's")
	assert.Greater(t, december, 100.0)
}

func TestResidualCorrector_Deterministic(t *testing.T) {
	rows := featureRows(30)
	residuals := make([]float64, len(rows))
	for i := range residuals {
		residuals[i] = float64((i*7)%13) - 6
	}

	first := NewResidualCorrector()
	second := NewResidualCorrector()
	require.NoError(t, first.Fit(context.Background(), rows, residuals))
	require.NoError(t, second.Fit(context.Background(), rows, residuals))

	for _, row := range rows {
		assert.Equal(t, first.CorrectOne(row), second.CorrectOne(row))
	}
}

func TestResidualCorrector_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows := featureRows(24)
	residuals := make([]float64, len(rows))
	for i := range residuals {
		residuals[i] = float64(i)
	}

	corrector := NewResidualCorrector()
	err := corrector.Fit(ctx, rows, residuals)
	require.ErrorIs(t, err, context.Canceled)
}

func TestResidualCorrector_DeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	corrector := NewResidualCorrector()
	err := corrector.Fit(ctx, featureRows(24), make([]float64, 24))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildInSampleFeatures(t *testing.T) {
	start := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	n := 20
	dates := make([]time.Time, n)
	values := make([]float64, n)
	for i := range values {
		dates[i] = start.AddDate(0, i, 0)
		values[i] = float64(100 + i*10)
	}

	rows := BuildInSampleFeatures(dates, values)
	require.Len(t, rows, n-FeatureOffset)

	for j, row := range rows {
		i := FeatureOffset + j
		assert.Equal(t, float64(dates[i].Month()), row.Month)
		assert.Equal(t, values[i-1], row.Lag1)
		assert.Equal(t, values[i-12], row.Lag12)
		expected := (values[i-1] + values[i-2] + values[i-3]) / 3
		assert.InDelta(t, expected, row.Rolling3, 1e-9)
	}
}

func TestBuildInSampleFeatures_TooShort(t *testing.T) {
	start := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	dates := []time.Time{start, start.AddDate(0, 1, 0)}
	assert.Nil(t, BuildInSampleFeatures(dates, []float64{1, 2}))
}

func TestNextFeatureRow(t *testing.T) {
	combined := make([]float64, 15)
	for i := range combined {
		combined[i] = float64(i + 1)
	}

	row := NextFeatureRow(time.April, combined)
	assert.Equal(t, float64(4), row.Month)
	assert.Equal(t, 15.0, row.Lag1)
	assert.Equal(t, 4.0, row.Lag12)
	assert.InDelta(t, 14.0, row.Rolling3, 1e-9)
}
