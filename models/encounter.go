package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EncounterStatus represents the status of a clinical encounter
type EncounterStatus string

const (
	EncounterStatusScheduled EncounterStatus = "scheduled"  // Created ahead of the visit
	EncounterStatusCheckedIn EncounterStatus = "checked_in" // Patient arrived at the clinic
	EncounterStatusActive    EncounterStatus = "active"     // Visit in progress
	EncounterStatusCompleted EncounterStatus = "completed"  // Terminal; billing issued
	EncounterStatusCancelled EncounterStatus = "cancelled"  // Terminal; reachable from any non-completed state
)

// Encounter is the clinical record driven through the completion workflow.
// Completion is one-way: a completed encounter never leaves that state and
// re-completing it is a no-op.
type Encounter struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID      uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	DisplayID string    `gorm:"type:varchar(32);uniqueIndex" json:"display_id"` // e.g. ENC202511200001

	PatientRef      string `gorm:"type:varchar(64);not null;index" json:"patient_ref"`
	PractitionerRef string `gorm:"type:varchar(64)" json:"practitioner_ref"`

	// Backward link to the scheduling record that spawned this encounter
	AppointmentID *uint `gorm:"index" json:"appointment_id"`

	// Set once the completion workflow commits
	BillingRecordID *uint `gorm:"index" json:"billing_record_id"`

	Status       EncounterStatus `gorm:"type:varchar(20);not null;default:'scheduled';index" json:"status"`
	StatusReason string          `gorm:"type:text" json:"status_reason"`

	CheckedInAt *time.Time `json:"checked_in_at"`
	CompletedAt *time.Time `json:"completed_at"`

	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// Dispensable items consumed during the visit
	LineItems []EncounterLineItem `gorm:"foreignKey:EncounterID" json:"line_items,omitempty"`
}

func (Encounter) TableName() string { return "encounters" }

// BeforeCreate ensures the UUID is set
func (e *Encounter) BeforeCreate(tx *gorm.DB) error {
	if e.UUID == uuid.Nil {
		e.UUID = uuid.New()
	}
	return nil
}

// IsFinal returns true if the encounter is in a terminal state
func (e *Encounter) IsFinal() bool {
	return e.Status == EncounterStatusCompleted || e.Status == EncounterStatusCancelled
}

// IsCompleted returns true if the completion workflow already committed
func (e *Encounter) IsCompleted() bool {
	return e.Status == EncounterStatusCompleted
}

// IsLinked returns true if the encounter references an appointment
func (e *Encounter) IsLinked() bool {
	return e.AppointmentID != nil && *e.AppointmentID != 0
}

// CanTransitionTo reports whether moving to the target status is legal.
// Cancellation is reachable from every non-completed state; all other
// transitions follow scheduled -> checked_in -> active -> completed.
func (e *Encounter) CanTransitionTo(target EncounterStatus) bool {
	if e.Status == target {
		return false
	}
	switch target {
	case EncounterStatusCancelled:
		return e.Status != EncounterStatusCompleted
	case EncounterStatusCheckedIn:
		return e.Status == EncounterStatusScheduled
	case EncounterStatusActive:
		return e.Status == EncounterStatusCheckedIn
	case EncounterStatusCompleted:
		return e.Status == EncounterStatusActive
	default:
		return false
	}
}

// EncounterLineItem is one dispensable item consumed during an encounter.
// Quantity is reserved against inventory when the encounter completes.
type EncounterLineItem struct {
	ID              uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	EncounterID     uint   `gorm:"not null;index" json:"encounter_id"`
	InventoryItemID uint   `gorm:"not null;index" json:"inventory_item_id"`
	Quantity        int64  `gorm:"not null" json:"quantity"`
	UnitPrice       int64  `gorm:"not null" json:"unit_price"` // Tomans
	Description     string `gorm:"type:text" json:"description"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (EncounterLineItem) TableName() string { return "encounter_line_items" }

// EncounterFilter represents filter criteria for encounter queries
type EncounterFilter struct {
	ID            *uint            `json:"id,omitempty"`
	UUID          *uuid.UUID       `json:"uuid,omitempty"`
	PatientRef    *string          `json:"patient_ref,omitempty"`
	AppointmentID *uint            `json:"appointment_id,omitempty"`
	Status        *EncounterStatus `json:"status,omitempty"`
	CreatedAfter  *time.Time       `json:"created_after,omitempty"`
	CreatedBefore *time.Time       `json:"created_before,omitempty"`
}
