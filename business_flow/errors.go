// Package businessflow contains the core business logic for the clinical
// workflow: identifier allocation, check-in, encounter completion, and
// compensation recovery.
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Identifier allocation errors
	ErrAllocationUnavailable = errors.New("sequence allocation unavailable")
	ErrUnknownEntityKind     = errors.New("unknown entity kind")

	// Encounter errors
	ErrEncounterNotFound      = errors.New("encounter not found")
	ErrEncounterCancelled     = errors.New("encounter is cancelled")
	ErrInvalidStateTransition = errors.New("invalid encounter state transition")

	// Appointment errors
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrAppointmentCancelled = errors.New("appointment is cancelled")

	// Inventory errors
	ErrInsufficientStock = errors.New("insufficient stock")

	// Link errors
	ErrLinkAmbiguous = errors.New("entity link is ambiguous, manual reconciliation required")

	// Billing errors
	ErrBillingRecordNotFound = errors.New("billing record not found")

	// Saga errors
	ErrSagaIncomplete = errors.New("saga exceeded timeout in started state")
)

// InsufficientStockError identifies the item that blocked a reservation so
// the caller can surface it.
type InsufficientStockError struct {
	ItemID    uint
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d (requested %d)", e.ItemID, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// AmbiguousLinkError carries both conflicting references for manual
// reconciliation.
type AmbiguousLinkError struct {
	AppointmentID       uint
	ForwardEncounterID  uint // appointment -> encounter
	BackwardEncounterID uint // encounter claiming this appointment
}

func (e *AmbiguousLinkError) Error() string {
	return fmt.Sprintf("appointment %d links encounter %d but encounter %d claims it",
		e.AppointmentID, e.ForwardEncounterID, e.BackwardEncounterID)
}

func (e *AmbiguousLinkError) Unwrap() error { return ErrLinkAmbiguous }

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func IsAllocationUnavailable(err error) bool {
	return errors.Is(err, ErrAllocationUnavailable)
}

func IsUnknownEntityKind(err error) bool {
	return errors.Is(err, ErrUnknownEntityKind)
}

func IsEncounterNotFound(err error) bool {
	return errors.Is(err, ErrEncounterNotFound)
}

func IsEncounterCancelled(err error) bool {
	return errors.Is(err, ErrEncounterCancelled)
}

func IsInvalidStateTransition(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition)
}

func IsAppointmentNotFound(err error) bool {
	return errors.Is(err, ErrAppointmentNotFound)
}

func IsAppointmentCancelled(err error) bool {
	return errors.Is(err, ErrAppointmentCancelled)
}

func IsInsufficientStock(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

func IsLinkAmbiguous(err error) bool {
	return errors.Is(err, ErrLinkAmbiguous)
}

func IsBillingRecordNotFound(err error) bool {
	return errors.Is(err, ErrBillingRecordNotFound)
}

func IsSagaIncomplete(err error) bool {
	return errors.Is(err, ErrSagaIncomplete)
}
