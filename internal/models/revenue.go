package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TaxType identifies a revenue category tracked by the engine.
type TaxType string

const (
	TaxTypeVAT            TaxType = "VAT"
	TaxTypeIncomeTax      TaxType = "Income_Tax"
	TaxTypeCustomsDuties  TaxType = "Customs_Duties"
	TaxTypeExciseTax      TaxType = "Excise_Tax"
	TaxTypeCorporateTax   TaxType = "Corporate_Tax"
	TaxTypeMineralRoyalty TaxType = "Mineral_Royalty"
	TaxTypePAYE           TaxType = "PAYE"
	// TaxTypeTotalRevenue is derived by summing the component types and is
	// never modeled independently.
	TaxTypeTotalRevenue TaxType = "Total_Revenue"
)

// ComponentTaxTypes returns the directly observed tax types, excluding the
// derived Total_Revenue.
func ComponentTaxTypes() []TaxType {
	return []TaxType{
		TaxTypeVAT,
		TaxTypeIncomeTax,
		TaxTypeCustomsDuties,
		TaxTypeExciseTax,
		TaxTypeCorporateTax,
		TaxTypeMineralRoyalty,
		TaxTypePAYE,
	}
}

// AllTaxTypes returns the component types plus Total_Revenue.
func AllTaxTypes() []TaxType {
	return append(ComponentTaxTypes(), TaxTypeTotalRevenue)
}

// Valid reports whether t is one of the known tax types.
func (t TaxType) Valid() bool {
	switch t {
	case TaxTypeVAT, TaxTypeIncomeTax, TaxTypeCustomsDuties, TaxTypeExciseTax,
		TaxTypeCorporateTax, TaxTypeMineralRoyalty, TaxTypePAYE, TaxTypeTotalRevenue:
		return true
	}
	return false
}

// IsComponent reports whether t is a directly observed component type.
func (t TaxType) IsComponent() bool {
	return t.Valid() && t != TaxTypeTotalRevenue
}

// RevenueObservation is a single historical monthly revenue record for a
// (tax type, region) pair. Observations are immutable once ingested and are
// owned by the data-access layer.
type RevenueObservation struct {
	Date    time.Time       `json:"date" db:"date"`
	TaxType TaxType         `json:"tax_type" db:"tax_type"`
	Region  string          `json:"region" db:"region"`
	Amount  decimal.Decimal `json:"amount" db:"amount"`
}

// ForecastPoint is one month of a forecast with its confidence interval.
// Invariant: LowerBound <= Predicted <= UpperBound.
type ForecastPoint struct {
	Date       time.Time       `json:"date"`
	Predicted  decimal.Decimal `json:"predicted_value"`
	LowerBound decimal.Decimal `json:"lower_bound"`
	UpperBound decimal.Decimal `json:"upper_bound"`
}

// ForecastSeries is the 12-month-ahead forecast for a single tax type.
// Points are strictly increasing by one month, starting the month after the
// last historical observation.
type ForecastSeries struct {
	TaxType  TaxType         `json:"tax_type"`
	Points   []ForecastPoint `json:"points"`
	Degraded bool            `json:"degraded"`
	Method   string          `json:"method"`
}

// ForecastSummary holds derived statistics for one forecast series. It is
// recomputed on every forecast generation and never persisted independently.
type ForecastSummary struct {
	TaxType        TaxType         `json:"tax_type"`
	TotalForecast  decimal.Decimal `json:"total_forecast"`
	AverageMonthly decimal.Decimal `json:"average_monthly"`
	MaxMonthly     decimal.Decimal `json:"max_monthly"`
	MinMonthly     decimal.Decimal `json:"min_monthly"`
	// GrowthRate is the percentage change between the first and last
	// forecasted month. Nil when the base month is zero.
	GrowthRate *float64 `json:"growth_rate"`
	Degraded   bool     `json:"degraded"`
	Method     string   `json:"method"`
}

// TypeStatus reports the per-tax-type outcome of a forecast generation.
type TypeStatus string

const (
	StatusOK                  TypeStatus = "ok"
	StatusDegraded            TypeStatus = "degraded"
	StatusInsufficientHistory TypeStatus = "insufficient_history"
	StatusFitTimeout          TypeStatus = "fit_timeout"
	StatusFailed              TypeStatus = "failed"
)

// ForecastBundle is the aggregate output of a forecast generation. A failure
// for one tax type never aborts the others; Statuses records the per-type
// outcome.
type ForecastBundle struct {
	Series      map[TaxType]*ForecastSeries `json:"series"`
	Summaries   []ForecastSummary           `json:"summaries"`
	Statuses    map[TaxType]TypeStatus      `json:"statuses"`
	Horizon     int                         `json:"horizon"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// Severity is the qualitative band assigned to an anomaly.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// AnomalyRecord is a historical actual that deviates from the in-sample
// ensemble prediction beyond the noise floor. Identity key is
// (date, tax_type, region); re-detection with unchanged inputs reproduces the
// same record.
type AnomalyRecord struct {
	Date         time.Time       `json:"date"`
	TaxType      TaxType         `json:"tax_type"`
	Region       string          `json:"region"`
	Actual       decimal.Decimal `json:"actual"`
	Predicted    decimal.Decimal `json:"predicted"`
	DeviationPct float64         `json:"deviation_pct"`
	Severity     Severity        `json:"severity"`
}

// Key returns the identity key for the record.
func (r AnomalyRecord) Key() string {
	return AnomalyKey(r.Date, r.TaxType, r.Region)
}

// AnomalyKey builds the (date, tax_type, region) identity key used for
// reviewer annotations.
func AnomalyKey(date time.Time, taxType TaxType, region string) string {
	return fmt.Sprintf("%s|%s|%s", date.Format("2006-01"), taxType, region)
}

// AnomalyReport is the output of a detection run.
type AnomalyReport struct {
	Anomalies      []AnomalyRecord  `json:"anomalies"`
	SeverityCounts map[Severity]int `json:"severity_counts"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// FlagAnnotation is a reviewer note recorded against an anomaly identity key.
type FlagAnnotation struct {
	ID        string    `json:"id"`
	Date      time.Time `json:"date"`
	TaxType   TaxType   `json:"tax_type"`
	Region    string    `json:"region"`
	Action    string    `json:"action"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// ScenarioInput holds the hypothetical tax rates for a what-if simulation.
// Rates are percentages and must fall within the configured valid ranges;
// out-of-range values are rejected, never clamped.
type ScenarioInput struct {
	VATRate          float64 `json:"vat_rate" binding:"required"`
	CorporateTaxRate float64 `json:"corporate_tax_rate" binding:"required"`
	IncomeTaxRate    float64 `json:"income_tax_rate" binding:"required"`
}

// ScenarioChartData carries the monthly baseline and scenario total-revenue
// series for visualization.
type ScenarioChartData struct {
	Dates    []time.Time       `json:"dates"`
	Baseline []decimal.Decimal `json:"baseline"`
	Scenario []decimal.Decimal `json:"scenario"`
}

// ScenarioResult is the stateless, request-scoped outcome of a simulation.
// Current and projected revenue are evaluated at the first forecast month.
type ScenarioResult struct {
	CurrentRevenue   decimal.Decimal             `json:"current_revenue"`
	ProjectedRevenue decimal.Decimal             `json:"projected_revenue"`
	RevenueChange    decimal.Decimal             `json:"revenue_change"`
	ImpactPercentage float64                     `json:"impact_percentage"`
	TaxBreakdown     map[TaxType]decimal.Decimal `json:"tax_breakdown"`
	ChartData        ScenarioChartData           `json:"chart_data"`
	EvaluationMonth  time.Time                   `json:"evaluation_month"`
	RatesApplied     ScenarioInput               `json:"tax_rates_applied"`
}

// TrendStats summarizes the historical trajectory of one tax type.
type TrendStats struct {
	TaxType      TaxType         `json:"tax_type"`
	CurrentValue decimal.Decimal `json:"current_value"`
	GrowthRate   float64         `json:"growth_rate"`
	Volatility   float64         `json:"volatility"`
	TotalGrowth  float64         `json:"total_growth"`
}

// SeasonalPattern summarizes per-calendar-month averages for one tax type.
type SeasonalPattern struct {
	TaxType     TaxType           `json:"tax_type"`
	Months      []int             `json:"months"`
	Averages    []decimal.Decimal `json:"values"`
	PeakMonth   int               `json:"peak_month"`
	TroughMonth int               `json:"trough_month"`
}
