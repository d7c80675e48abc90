/*
errors.go - Centralized error types for the prediction engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (jobs, api) match with errors.Is and decide whether to retry,
  degrade the account, or abort the cycle.

ERROR CATEGORIES:
  1. Per-account errors - degrade that account's row, never abort the batch
  2. Write conflicts - one retry against fresh state, then surfaced
  3. Systemic errors - abort the whole cycle, retried at the job level
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDataInsufficient is returned when an account has fewer than two
	// distinct historical order days. The forecast is withheld, not guessed.
	ErrDataInsufficient = errors.New("insufficient purchase history")

	// ErrInvalidRecord is returned for a malformed transaction. The record
	// is skipped and logged; ingestion continues.
	ErrInvalidRecord = errors.New("invalid transaction record")

	// ErrConcurrentUpdate is returned when an optimistic version check
	// fails on a prediction row write.
	ErrConcurrentUpdate = errors.New("concurrent update conflict")

	// ErrAccountNotFound is returned when a referenced account has no
	// prediction row.
	ErrAccountNotFound = errors.New("account not found")

	// ErrIllegalTransition is returned for any reminder state change
	// outside NULL -> SENT -> PURCHASED.
	ErrIllegalTransition = errors.New("illegal reminder transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DataInsufficientError reports how much history an account actually had.
type DataInsufficientError struct {
	Account   AccountCode
	OrderDays int
}

func (e *DataInsufficientError) Error() string {
	if e.Account == "" {
		return fmt.Sprintf("%d distinct order days, need at least 2", e.OrderDays)
	}
	return fmt.Sprintf("account %s: %d distinct order days, need at least 2", e.Account, e.OrderDays)
}

func (e *DataInsufficientError) Unwrap() error { return ErrDataInsufficient }

// InvalidRecordError identifies the offending record and field.
type InvalidRecordError struct {
	Account AccountCode
	Field   string
	Detail  string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid record for %s: %s (%s)", e.Account, e.Field, e.Detail)
}

func (e *InvalidRecordError) Unwrap() error { return ErrInvalidRecord }

// TransitionError reports a rejected reminder state change.
type TransitionError struct {
	Account AccountCode
	From    ReminderState
	To      ReminderState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("account %s: reminder transition %q -> %q not allowed", e.Account, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed against fresh state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate)
}

// DegradesAccount returns true for errors that degrade one account's row
// without aborting the batch.
func DegradesAccount(err error) bool {
	return errors.Is(err, ErrDataInsufficient) || errors.Is(err, ErrInvalidRecord)
}
