package services

import (
	"context"
	"math"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/models"
)

// TrendAnalyzer computes descriptive statistics over the historical series:
// latest value, month-over-month growth, growth volatility, and per-month
// seasonal averages. It reads directly from the provider and holds no state.
type TrendAnalyzer struct {
	provider HistoricalSeriesProvider
	region   string
	logger   *logrus.Logger
}

// NewTrendAnalyzer creates an analyzer over the given provider.
func NewTrendAnalyzer(provider HistoricalSeriesProvider, region string, logger *logrus.Logger) *TrendAnalyzer {
	return &TrendAnalyzer{provider: provider, region: region, logger: logger}
}

// RevenueTrends summarizes the trajectory of each requested tax type. An
// empty request covers all component types.
func (a *TrendAnalyzer) RevenueTrends(ctx context.Context, taxTypes []models.TaxType) ([]models.TrendStats, error) {
	if len(taxTypes) == 0 {
		taxTypes = models.ComponentTaxTypes()
	}

	stats := make([]models.TrendStats, 0, len(taxTypes))
	for _, taxType := range taxTypes {
		series, err := a.provider.Series(ctx, taxType, a.region)
		if err != nil {
			return nil, err
		}
		if len(series) < 2 {
			a.logger.WithField("tax_type", taxType).Warn("Trend analysis skipped: fewer than two observations")
			continue
		}

		growthRates := make([]float64, 0, len(series)-1)
		for i := 1; i < len(series); i++ {
			prev := series[i-1].Amount
			if prev.IsZero() {
				continue
			}
			rate := series[i].Amount.Sub(prev).Div(prev).Mul(decimalHundred).InexactFloat64()
			growthRates = append(growthRates, rate)
		}

		entry := models.TrendStats{
			TaxType:      taxType,
			CurrentValue: series[len(series)-1].Amount,
			Volatility:   stddev(growthRates),
		}
		if len(growthRates) > 0 {
			entry.GrowthRate = growthRates[len(growthRates)-1]
		}
		if first := series[0].Amount; !first.IsZero() {
			entry.TotalGrowth = series[len(series)-1].Amount.Sub(first).Div(first).Mul(decimalHundred).InexactFloat64()
		}
		stats = append(stats, entry)
	}
	return stats, nil
}

// SeasonalPatterns averages each tax type's observations per calendar month
// and reports the peak and trough months.
func (a *TrendAnalyzer) SeasonalPatterns(ctx context.Context, taxTypes []models.TaxType) ([]models.SeasonalPattern, error) {
	if len(taxTypes) == 0 {
		taxTypes = models.ComponentTaxTypes()
	}

	patterns := make([]models.SeasonalPattern, 0, len(taxTypes))
	for _, taxType := range taxTypes {
		series, err := a.provider.Series(ctx, taxType, a.region)
		if err != nil {
			return nil, err
		}
		if len(series) == 0 {
			continue
		}

		var sums [12]decimal.Decimal
		var counts [12]int64
		for _, obs := range series {
			idx := int(obs.Date.Month()) - 1
			sums[idx] = sums[idx].Add(obs.Amount)
			counts[idx]++
		}

		pattern := models.SeasonalPattern{TaxType: taxType}
		peak, trough := -1, -1
		for m := 0; m < 12; m++ {
			if counts[m] == 0 {
				continue
			}
			avg := sums[m].Div(decimal.NewFromInt(counts[m]))
			pattern.Months = append(pattern.Months, m+1)
			pattern.Averages = append(pattern.Averages, avg)
			if peak < 0 || avg.GreaterThan(pattern.Averages[peak]) {
				peak = len(pattern.Averages) - 1
			}
			if trough < 0 || avg.LessThan(pattern.Averages[trough]) {
				trough = len(pattern.Averages) - 1
			}
		}
		if peak >= 0 {
			pattern.PeakMonth = pattern.Months[peak]
			pattern.TroughMonth = pattern.Months[trough]
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)-1))
}
