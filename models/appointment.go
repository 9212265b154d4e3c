package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AppointmentStatus represents the status of a scheduling record
type AppointmentStatus string

const (
	AppointmentStatusBooked    AppointmentStatus = "booked"    // Appointment created, patient not yet arrived
	AppointmentStatusCheckedIn AppointmentStatus = "checked_in" // Patient arrived, encounter created
	AppointmentStatusClosed    AppointmentStatus = "closed"     // Linked encounter completed
	AppointmentStatusCancelled AppointmentStatus = "cancelled"  // Appointment cancelled before check-in
)

// Appointment is the scheduling record. Once an encounter is created from it
// the EncounterID reference must agree with the encounter's AppointmentID;
// the link manager owns that invariant.
type Appointment struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID          uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	DisplayID     string    `gorm:"type:varchar(32);uniqueIndex" json:"display_id"` // e.g. APT202511200001
	PatientRef    string    `gorm:"type:varchar(64);not null;index" json:"patient_ref"`
	PractitionerRef string  `gorm:"type:varchar(64)" json:"practitioner_ref"`
	ScheduledAt   time.Time `gorm:"not null;index" json:"scheduled_at"`

	// Forward link to the clinical encounter, set at check-in
	EncounterID *uint `gorm:"index" json:"encounter_id"`

	Status    AppointmentStatus `gorm:"type:varchar(20);not null;default:'booked';index" json:"status"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt gorm.DeletedAt    `gorm:"index" json:"deleted_at,omitempty"`
}

func (Appointment) TableName() string { return "appointments" }

// BeforeCreate ensures the UUID is set
func (a *Appointment) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	return nil
}

// IsLinked returns true if the appointment references an encounter
func (a *Appointment) IsLinked() bool {
	return a.EncounterID != nil && *a.EncounterID != 0
}

// AppointmentFilter represents filter criteria for appointment queries
type AppointmentFilter struct {
	ID              *uint              `json:"id,omitempty"`
	UUID            *uuid.UUID         `json:"uuid,omitempty"`
	PatientRef      *string            `json:"patient_ref,omitempty"`
	EncounterID     *uint              `json:"encounter_id,omitempty"`
	Status          *AppointmentStatus `json:"status,omitempty"`
	ScheduledAfter  *time.Time         `json:"scheduled_after,omitempty"`
	ScheduledBefore *time.Time         `json:"scheduled_before,omitempty"`
}
