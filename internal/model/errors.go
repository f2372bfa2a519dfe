package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrRiskLimitViolation     = errors.New("risk limit violation")
	ErrInsufficientMarketData = errors.New("insufficient market data")
	ErrBreakerTripped         = errors.New("circuit breaker tripped")
	ErrBreakerResetDenied     = errors.New("circuit breaker reset denied")
	ErrPersistence            = errors.New("persistence error")

	ErrPortfolioNotFound = errors.New("portfolio not found")
	ErrPortfolioExists   = errors.New("portfolio already exists")
	ErrPortfolioInactive = errors.New("portfolio is deactivated")
)

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

type RiskLimitViolation struct {
	Rule   RiskRule
	Reason string
	Value  float64
	Limit  float64
}

func (e *RiskLimitViolation) Error() string {
	return fmt.Sprintf("%s: %s", ErrRiskLimitViolation, e.Reason)
}

func (e *RiskLimitViolation) Unwrap() error {
	return ErrRiskLimitViolation
}

type BreakerTrippedError struct {
	Reason string
}

func (e *BreakerTrippedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBreakerTripped, e.Reason)
}

func (e *BreakerTrippedError) Unwrap() error {
	return ErrBreakerTripped
}

type BreakerResetDeniedError struct {
	Reason string
}

func (e *BreakerResetDeniedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBreakerResetDenied, e.Reason)
}

func (e *BreakerResetDeniedError) Unwrap() error {
	return ErrBreakerResetDenied
}

// PersistenceError wraps a storage failure. Both ErrPersistence and the cause match errors.Is.
type PersistenceError struct {
	Op  string
	Err error
}

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}
