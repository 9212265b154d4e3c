package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BillingRecordStatus represents the status of a billing record
type BillingRecordStatus string

const (
	BillingRecordStatusDraft  BillingRecordStatus = "draft"  // Created mid-saga, not yet referenced by the encounter
	BillingRecordStatusIssued BillingRecordStatus = "issued" // Completion committed; immutable except payment sub-fields
	BillingRecordStatusVoided BillingRecordStatus = "voided" // Draft removed by compensation
)

// BillingRecord is created exactly once per completed encounter. Its display
// identifier is drawn from the monthly billing scope and never reused.
type BillingRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID      uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	DisplayID string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"display_id"` // e.g. INV202511000042

	EncounterID uint   `gorm:"not null;uniqueIndex" json:"encounter_id"`
	PatientRef  string `gorm:"type:varchar(64);not null;index" json:"patient_ref"`

	// Workflow run that created the record. Compensation resolves its own
	// draft through this id, so it can never touch a concurrent run's record.
	SagaID uuid.UUID `gorm:"type:uuid;not null;index" json:"saga_id"`

	Subtotal decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"subtotal"`
	TaxTotal decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"tax_total"`
	Total    decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"total"`
	Currency string          `gorm:"type:varchar(3);not null;default:'TMN'" json:"currency"`

	// Snapshot of the reserved line items at issue time
	Lines json.RawMessage `gorm:"type:jsonb;default:'[]'" json:"lines"`

	Status    BillingRecordStatus `gorm:"type:varchar(10);not null;default:'draft';index" json:"status"`
	IssuedAt  *time.Time          `json:"issued_at"`
	CreatedAt time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt gorm.DeletedAt      `gorm:"index" json:"deleted_at,omitempty"`
}

func (BillingRecord) TableName() string { return "billing_records" }

// BeforeCreate ensures the UUID is set
func (b *BillingRecord) BeforeCreate(tx *gorm.DB) error {
	if b.UUID == uuid.Nil {
		b.UUID = uuid.New()
	}
	return nil
}

// IsIssued returns true once the record is immutable
func (b *BillingRecord) IsIssued() bool {
	return b.Status == BillingRecordStatusIssued
}

// BillingRecordFilter represents filter criteria for billing record queries
type BillingRecordFilter struct {
	ID          *uint                `json:"id,omitempty"`
	UUID        *uuid.UUID           `json:"uuid,omitempty"`
	DisplayID   *string              `json:"display_id,omitempty"`
	EncounterID *uint                `json:"encounter_id,omitempty"`
	PatientRef  *string              `json:"patient_ref,omitempty"`
	Status      *BillingRecordStatus `json:"status,omitempty"`
}
