package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SagaStep names one step of the encounter-completion saga, in execution order.
type SagaStep string

const (
	SagaStepReserveInventory SagaStep = "reserve_inventory"
	SagaStepCreateBilling    SagaStep = "create_billing"
	SagaStepEstablishLinks   SagaStep = "establish_links"
	SagaStepCommitEncounter  SagaStep = "commit_encounter"
)

// SagaStepStatus represents the recorded status of a saga step
type SagaStepStatus string

const (
	SagaStepStatusStarted     SagaStepStatus = "started"
	SagaStepStatusDone        SagaStepStatus = "done"
	SagaStepStatusCompensated SagaStepStatus = "compensated"
)

// SagaLog is the append-only compensation log. A step is written with status
// started before it executes and done after; a crash leaves the last step in
// started, which the recovery pass detects and compensates.
type SagaLog struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SagaID      uuid.UUID `gorm:"type:uuid;index;not null" json:"saga_id"`
	EncounterID uint      `gorm:"not null;index" json:"encounter_id"`

	Step   SagaStep       `gorm:"type:varchar(32);not null" json:"step"`
	Status SagaStepStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	// Step-specific data needed to compensate (reservation ids, billing id)
	Payload json.RawMessage `gorm:"type:jsonb;default:'{}'" json:"payload"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (SagaLog) TableName() string { return "saga_logs" }

// SagaLogFilter represents filter criteria for saga log queries
type SagaLogFilter struct {
	SagaID        *uuid.UUID      `json:"saga_id,omitempty"`
	EncounterID   *uint           `json:"encounter_id,omitempty"`
	Step          *SagaStep       `json:"step,omitempty"`
	Status        *SagaStepStatus `json:"status,omitempty"`
	CreatedBefore *time.Time      `json:"created_before,omitempty"`
}
