package forecast

import (
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
)

const (
	featureMonth = iota
	featureLag1
	featureLag12
	featureRolling3
	featureCount
)

const rollingWindow = 3

// FeatureRow holds the engineered calendar/lag regressors for one month:
// calendar month, previous-month value, same-month-last-year value, and the
// rolling average of the preceding three months.
type FeatureRow struct {
	Month    float64
	Lag1     float64
	Lag12    float64
	Rolling3 float64
}

func (r FeatureRow) at(i int) float64 {
	switch i {
	case featureMonth:
		return r.Month
	case featureLag1:
		return r.Lag1
	case featureLag12:
		return r.Lag12
	default:
		return r.Rolling3
	}
}

// BuildInSampleFeatures derives feature rows for the historical series. Rows
// exist only from index FeatureOffset onward, where a lag-12 value is
// available; the returned slice aligns with values[FeatureOffset:].
func BuildInSampleFeatures(dates []time.Time, values []float64) []FeatureRow {
	if len(values) <= FeatureOffset {
		return nil
	}

	sma := trend.NewSmaWithPeriod[float64](rollingWindow)
	// avgs[j] is the mean of values[j..j+2], i.e. the trailing average ending
	// two positions after j.
	avgs := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))

	rows := make([]FeatureRow, 0, len(values)-FeatureOffset)
	for i := FeatureOffset; i < len(values); i++ {
		rows = append(rows, FeatureRow{
			Month:    float64(dates[i].Month()),
			Lag1:     values[i-1],
			Lag12:    values[i-seasonLength],
			Rolling3: avgs[i-rollingWindow],
		})
	}
	return rows
}

// FeatureOffset is the first historical index with a complete feature row.
const FeatureOffset = seasonLength

// NextFeatureRow builds the regressors for the month that follows the
// combined series of historical values and ensemble predictions produced so
// far. The combined slice must hold at least a full season.
func NextFeatureRow(month time.Month, combined []float64) FeatureRow {
	n := len(combined)
	var rolling float64
	for i := n - rollingWindow; i < n; i++ {
		rolling += combined[i]
	}
	return FeatureRow{
		Month:    float64(month),
		Lag1:     combined[n-1],
		Lag12:    combined[n-seasonLength],
		Rolling3: rolling / rollingWindow,
	}
}
