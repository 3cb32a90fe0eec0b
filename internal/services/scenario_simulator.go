package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/models"
)

var decimalHundred = decimal.NewFromInt(100)

// RateRange bounds a valid tax rate in percent.
type RateRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r RateRange) contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// ScenarioConfig holds the policy parameters of the simulator: valid rate
// ranges, the statutory base rates the elasticities are anchored to, and the
// per-tax elasticity coefficients. All are domain-calibrated configuration,
// not derivable from the data.
type ScenarioConfig struct {
	VATRange       RateRange `json:"vat_range"`
	CorporateRange RateRange `json:"corporate_range"`
	IncomeRange    RateRange `json:"income_range"`

	BaseVATRate       float64 `json:"base_vat_rate"`
	BaseCorporateRate float64 `json:"base_corporate_rate"`
	BaseIncomeRate    float64 `json:"base_income_rate"`

	Elasticities map[models.TaxType]float64 `json:"elasticities"`

	Horizon int `json:"horizon"`
}

// DefaultScenarioConfig returns the documented policy defaults: VAT base 16%
// within 5-25, corporate base 35% within 15-45, income base 37.5% within
// 20-50, elasticities VAT 1.0, Corporate_Tax 0.8, Income_Tax 0.6.
func DefaultScenarioConfig() ScenarioConfig {
	return ScenarioConfig{
		VATRange:          RateRange{Min: 5, Max: 25},
		CorporateRange:    RateRange{Min: 15, Max: 45},
		IncomeRange:       RateRange{Min: 20, Max: 50},
		BaseVATRate:       16,
		BaseCorporateRate: 35,
		BaseIncomeRate:    37.5,
		Elasticities: map[models.TaxType]float64{
			models.TaxTypeVAT:          1.0,
			models.TaxTypeCorporateTax: 0.8,
			models.TaxTypeIncomeTax:    0.6,
		},
		Horizon: 12,
	}
}

// ScenarioSimulator projects revenue under hypothetical VAT/corporate/income
// tax rates by applying elasticity coefficients to the engine's baseline
// forecast. It is read-only against cached model state; results are
// request-scoped and never persisted. Current and projected revenue are
// evaluated at the first forecast month.
type ScenarioSimulator struct {
	engine *ForecastEngine
	cfg    ScenarioConfig
	logger *logrus.Logger
}

// NewScenarioSimulator creates a simulator over the engine's baseline.
func NewScenarioSimulator(engine *ForecastEngine, cfg ScenarioConfig, logger *logrus.Logger) *ScenarioSimulator {
	def := DefaultScenarioConfig()
	if cfg.Elasticities == nil {
		cfg.Elasticities = def.Elasticities
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	zero := RateRange{}
	if cfg.VATRange == zero {
		cfg.VATRange = def.VATRange
	}
	if cfg.CorporateRange == zero {
		cfg.CorporateRange = def.CorporateRange
	}
	if cfg.IncomeRange == zero {
		cfg.IncomeRange = def.IncomeRange
	}
	if cfg.BaseVATRate == 0 {
		cfg.BaseVATRate = def.BaseVATRate
	}
	if cfg.BaseCorporateRate == 0 {
		cfg.BaseCorporateRate = def.BaseCorporateRate
	}
	if cfg.BaseIncomeRate == 0 {
		cfg.BaseIncomeRate = def.BaseIncomeRate
	}
	return &ScenarioSimulator{engine: engine, cfg: cfg, logger: logger}
}

// Simulate validates the scenario rates and projects per-type and total
// revenue against the current baseline. Out-of-range rates are rejected with
// a ValidationError before any simulation runs.
func (s *ScenarioSimulator) Simulate(ctx context.Context, input models.ScenarioInput) (*models.ScenarioResult, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}

	bundle, err := s.engine.GenerateForecast(ctx, nil, s.cfg.Horizon)
	if err != nil {
		return nil, fmt.Errorf("loading baseline forecast: %w", err)
	}
	horizon := s.cfg.Horizon
	for _, taxType := range models.ComponentTaxTypes() {
		series, ok := bundle.Series[taxType]
		if !ok {
			return nil, fmt.Errorf("baseline forecast unavailable for %s (status %s)", taxType, bundle.Statuses[taxType])
		}
		if len(series.Points) != horizon {
			return nil, fmt.Errorf("baseline forecast for %s has %d months, want %d", taxType, len(series.Points), horizon)
		}
	}

	multipliers := s.multipliers(input)

	chart := models.ScenarioChartData{
		Dates:    make([]time.Time, horizon),
		Baseline: make([]decimal.Decimal, horizon),
		Scenario: make([]decimal.Decimal, horizon),
	}
	// The first component fixes the shared date axis; every other component
	// must land on the same months or the chart would mix calendar months.
	reference := bundle.Series[models.ComponentTaxTypes()[0]]
	for i, p := range reference.Points {
		chart.Dates[i] = p.Date
		chart.Baseline[i] = decimal.Zero
		chart.Scenario[i] = decimal.Zero
	}

	breakdown := make(map[models.TaxType]decimal.Decimal, len(models.ComponentTaxTypes()))
	current := decimal.Zero
	projected := decimal.Zero

	for _, taxType := range models.ComponentTaxTypes() {
		series := bundle.Series[taxType]
		mult := multipliers[taxType]

		for i, p := range series.Points {
			if !p.Date.Equal(chart.Dates[i]) {
				return nil, fmt.Errorf("baseline forecasts misaligned: %s covers %s where the chart axis has %s",
					taxType, p.Date.Format("2006-01"), chart.Dates[i].Format("2006-01"))
			}
			scenarioValue := p.Predicted.Mul(mult)
			if i == 0 {
				current = current.Add(p.Predicted)
				projected = projected.Add(scenarioValue)
				breakdown[taxType] = scenarioValue
			}
			chart.Baseline[i] = chart.Baseline[i].Add(p.Predicted)
			chart.Scenario[i] = chart.Scenario[i].Add(scenarioValue)
		}
	}

	change := projected.Sub(current)
	impact := 0.0
	if !current.IsZero() {
		impact = change.Div(current).Mul(decimalHundred).InexactFloat64()
	}

	result := &models.ScenarioResult{
		CurrentRevenue:   current,
		ProjectedRevenue: projected,
		RevenueChange:    change,
		ImpactPercentage: impact,
		TaxBreakdown:     breakdown,
		ChartData:        chart,
		EvaluationMonth:  chart.Dates[0],
		RatesApplied:     input,
	}

	s.logger.WithFields(logrus.Fields{
		"vat_rate":          input.VATRate,
		"corporate_rate":    input.CorporateTaxRate,
		"income_rate":       input.IncomeTaxRate,
		"impact_percentage": impact,
	}).Info("Scenario simulation complete")
	return result, nil
}

// validate rejects rates outside the configured valid ranges.
func (s *ScenarioSimulator) validate(input models.ScenarioInput) error {
	if !s.cfg.VATRange.contains(input.VATRate) {
		return &models.ValidationError{
			Field:   "vat_rate",
			Message: fmt.Sprintf("%.1f outside valid range %.1f-%.1f", input.VATRate, s.cfg.VATRange.Min, s.cfg.VATRange.Max),
		}
	}
	if !s.cfg.CorporateRange.contains(input.CorporateTaxRate) {
		return &models.ValidationError{
			Field:   "corporate_tax_rate",
			Message: fmt.Sprintf("%.1f outside valid range %.1f-%.1f", input.CorporateTaxRate, s.cfg.CorporateRange.Min, s.cfg.CorporateRange.Max),
		}
	}
	if !s.cfg.IncomeRange.contains(input.IncomeTaxRate) {
		return &models.ValidationError{
			Field:   "income_tax_rate",
			Message: fmt.Sprintf("%.1f outside valid range %.1f-%.1f", input.IncomeTaxRate, s.cfg.IncomeRange.Min, s.cfg.IncomeRange.Max),
		}
	}
	return nil
}

// multipliers computes the per-type scenario factor
// 1 + E * (new_rate - base_rate) / base_rate. Tax types without a rate lever
// pass through the baseline unchanged.
func (s *ScenarioSimulator) multipliers(input models.ScenarioInput) map[models.TaxType]decimal.Decimal {
	one := decimal.NewFromInt(1)
	multipliers := make(map[models.TaxType]decimal.Decimal, len(models.ComponentTaxTypes()))
	for _, taxType := range models.ComponentTaxTypes() {
		multipliers[taxType] = one
	}

	levers := []struct {
		taxType  models.TaxType
		newRate  float64
		baseRate float64
	}{
		{models.TaxTypeVAT, input.VATRate, s.cfg.BaseVATRate},
		{models.TaxTypeCorporateTax, input.CorporateTaxRate, s.cfg.BaseCorporateRate},
		{models.TaxTypeIncomeTax, input.IncomeTaxRate, s.cfg.BaseIncomeRate},
	}
	for _, lever := range levers {
		elasticity := s.cfg.Elasticities[lever.taxType]
		factor := 1 + elasticity*(lever.newRate-lever.baseRate)/lever.baseRate
		multipliers[lever.taxType] = decimal.NewFromFloat(factor)
	}
	return multipliers
}
