// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/parsclinic/clinic-core/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// SequenceCounterRepository owns identifier allocation. Next is the only way
// to obtain a sequence value; it performs a single atomic increment-and-fetch
// against the counter row and fails closed when the store is unreachable.
type SequenceCounterRepository interface {
	Next(ctx context.Context, scopeKey string, resetPeriod models.ResetPeriod) (int64, error)
	Get(ctx context.Context, scopeKey string) (*models.SequenceCounter, error)
	PurgeExpired(ctx context.Context, updatedBefore time.Time) (int64, error)
}

// AppointmentRepository defines operations for scheduling records
type AppointmentRepository interface {
	Repository[models.Appointment, models.AppointmentFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Appointment, error)
	ByEncounterID(ctx context.Context, encounterID uint) (*models.Appointment, error)
	Update(ctx context.Context, appointment *models.Appointment) error
	SetEncounterRef(ctx context.Context, appointmentID uint, encounterID *uint) error
}

// EncounterRepository defines operations for clinical encounters
type EncounterRepository interface {
	Repository[models.Encounter, models.EncounterFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Encounter, error)
	ByIDWithLineItems(ctx context.Context, id uint) (*models.Encounter, error)
	ByAppointmentID(ctx context.Context, appointmentID uint) (*models.Encounter, error)
	Update(ctx context.Context, encounter *models.Encounter) error
	SetAppointmentRef(ctx context.Context, encounterID uint, appointmentID *uint) error
	// TransitionStatus updates the status only when the current status
	// matches expected; returns false when another writer got there first.
	TransitionStatus(ctx context.Context, encounterID uint, expected, target models.EncounterStatus, reason string) (bool, error)
}

// BillingRecordRepository defines operations for billing records
type BillingRecordRepository interface {
	Repository[models.BillingRecord, models.BillingRecordFilter]
	ByDisplayID(ctx context.Context, displayID string) (*models.BillingRecord, error)
	ByEncounterID(ctx context.Context, encounterID uint) (*models.BillingRecord, error)
	// BySagaID finds the record created by one workflow run.
	BySagaID(ctx context.Context, sagaID uuid.UUID) (*models.BillingRecord, error)
	Update(ctx context.Context, record *models.BillingRecord) error
	// DeleteDraft removes a draft record during compensation; the row is
	// deleted for real so the per-encounter unique index frees up for a
	// retry. Issued records are never deleted.
	DeleteDraft(ctx context.Context, id uint) error
}

// InventoryRepository defines operations for stock and reservations.
// ReserveStock and ReleaseReservation are the only stock mutations; each
// decrement or restore is a single conditional UPDATE statement.
type InventoryRepository interface {
	ItemByID(ctx context.Context, id uint) (*models.InventoryItem, error)
	ItemsByFilter(ctx context.Context, filter models.InventoryItemFilter, limit, offset int) ([]*models.InventoryItem, error)
	SaveItem(ctx context.Context, item *models.InventoryItem) error
	// ReserveStock atomically decrements stock when enough is available and
	// records the reservation. Returns false (no mutation) on short stock.
	ReserveStock(ctx context.Context, reservation *models.InventoryReservation) (bool, error)
	// ReleaseReservation restores the held quantity and marks the
	// reservation released. Idempotent: releasing a non-held reservation is
	// a no-op.
	ReleaseReservation(ctx context.Context, reservationID uint) error
	CommitReservation(ctx context.Context, reservationID uint) error
	ReservationsBySagaID(ctx context.Context, sagaID uuid.UUID) ([]*models.InventoryReservation, error)
	ReservationsByEncounterID(ctx context.Context, encounterID uint) ([]*models.InventoryReservation, error)
}

// SagaLogRepository defines operations for the append-only compensation log
type SagaLogRepository interface {
	Append(ctx context.Context, entry *models.SagaLog) error
	// MarkStatus moves a step's recorded status forward in place. A nil
	// payload leaves the existing payload untouched.
	MarkStatus(ctx context.Context, sagaID uuid.UUID, step models.SagaStep, status models.SagaStepStatus, payload json.RawMessage) error
	BySagaID(ctx context.Context, sagaID uuid.UUID) ([]*models.SagaLog, error)
	// ListStuckSagas returns saga ids whose newest entry is still started
	// and older than the cutoff.
	ListStuckSagas(ctx context.Context, startedBefore time.Time) ([]uuid.UUID, error)
}
