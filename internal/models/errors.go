package models

import (
	"fmt"
	"time"
)

// InsufficientHistoryError indicates a tax type has too few monthly
// observations to fit a model. The failure is local to the tax type; other
// types proceed.
type InsufficientHistoryError struct {
	TaxType  TaxType
	Months   int
	Required int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for %s: have %d months, need %d", e.TaxType, e.Months, e.Required)
}

// FitTimeoutError indicates model fitting exceeded its time budget.
type FitTimeoutError struct {
	TaxType TaxType
	Budget  time.Duration
}

func (e *FitTimeoutError) Error() string {
	return fmt.Sprintf("model fit for %s exceeded budget of %s", e.TaxType, e.Budget)
}

// ValidationError indicates a request parameter outside its configured valid
// range. The request is rejected before any partial result is produced.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}
