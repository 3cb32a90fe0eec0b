package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaxTypeSets(t *testing.T) {
	components := ComponentTaxTypes()
	assert.Len(t, components, 7)
	assert.NotContains(t, components, TaxTypeTotalRevenue)

	all := AllTaxTypes()
	assert.Len(t, all, 8)
	assert.Contains(t, all, TaxTypeTotalRevenue)
}

func TestTaxTypeValidity(t *testing.T) {
	for _, taxType := range AllTaxTypes() {
		assert.True(t, taxType.Valid(), "%s should be valid", taxType)
	}
	assert.False(t, TaxType("Wealth_Tax").Valid())
	assert.False(t, TaxType("").Valid())

	assert.True(t, TaxTypeVAT.IsComponent())
	assert.False(t, TaxTypeTotalRevenue.IsComponent())
	assert.False(t, TaxType("Wealth_Tax").IsComponent())
}

func TestAnomalyKey(t *testing.T) {
	date := time.Date(2023, time.July, 14, 9, 30, 0, 0, time.UTC)
	key := AnomalyKey(date, TaxTypePAYE, "Lusaka")
	assert.Equal(t, "2023-07|PAYE|Lusaka", key)

	record := AnomalyRecord{Date: date, TaxType: TaxTypePAYE, Region: "Lusaka"}
	assert.Equal(t, key, record.Key())

	// Days within the month collapse onto the same identity.
	other := AnomalyKey(time.Date(2023, time.July, 1, 0, 0, 0, 0, time.UTC), TaxTypePAYE, "Lusaka")
	assert.Equal(t, key, other)
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &InsufficientHistoryError{TaxType: TaxTypeVAT, Months: 9, Required: 24}
	var insufficient *InsufficientHistoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Contains(t, err.Error(), "VAT")
	assert.Contains(t, err.Error(), "9")
	assert.Contains(t, err.Error(), "24")

	err = &FitTimeoutError{TaxType: TaxTypeExciseTax, Budget: 30 * time.Second}
	var timeout *FitTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Contains(t, err.Error(), "30s")

	err = &ValidationError{Field: "vat_rate", Message: "30.0 outside valid range 5.0-25.0"}
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "vat_rate", validation.Field)

	// The kinds never alias each other.
	var other *FitTimeoutError
	assert.False(t, errors.As(err, &other))
}
