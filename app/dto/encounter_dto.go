package dto

// CompleteEncounterRequest is the payload for completing a clinical encounter
type CompleteEncounterRequest struct {
	EncounterID uint `json:"encounter_id" validate:"required,min=1"`
}

// CompleteEncounterResponse reports the outcome of a completion attempt.
// BillingRecordID is always populated when a billing record exists for the
// encounter, including the idempotent re-invocation case, so the caller can
// navigate straight to it.
type CompleteEncounterResponse struct {
	Message              string   `json:"message"`
	EncounterStatus      string   `json:"encounter_status"`
	BillingRecordID      *string  `json:"billing_record_id"`
	IdentifiersAllocated []string `json:"identifiers_allocated"`
	AlreadyCompleted     bool     `json:"already_completed"`
}

// StartEncounterRequest moves a checked-in encounter into the active state
type StartEncounterRequest struct {
	EncounterID uint `json:"encounter_id" validate:"required,min=1"`
}

// StartEncounterResponse reports the encounter state after activation
type StartEncounterResponse struct {
	Message         string `json:"message"`
	EncounterStatus string `json:"encounter_status"`
}

// CancelEncounterRequest cancels a non-completed encounter
type CancelEncounterRequest struct {
	EncounterID uint   `json:"encounter_id" validate:"required,min=1"`
	Reason      string `json:"reason" validate:"omitempty,max=500"`
}

// CancelEncounterResponse reports the encounter state after cancellation
type CancelEncounterResponse struct {
	Message         string `json:"message"`
	EncounterStatus string `json:"encounter_status"`
}

// GetEncounterRequest fetches one encounter
type GetEncounterRequest struct {
	EncounterID uint `json:"encounter_id" validate:"required,min=1"`
}

// EncounterLineItemDTO is one dispensable item on an encounter
type EncounterLineItemDTO struct {
	InventoryItemID uint   `json:"inventory_item_id"`
	Quantity        int64  `json:"quantity"`
	UnitPrice       int64  `json:"unit_price"`
	Description     string `json:"description,omitempty"`
}

// EncounterDTO is the external representation of an encounter
type EncounterDTO struct {
	ID              uint                   `json:"id"`
	UUID            string                 `json:"uuid"`
	DisplayID       string                 `json:"display_id"`
	PatientRef      string                 `json:"patient_ref"`
	Status          string                 `json:"status"`
	AppointmentID   *uint                  `json:"appointment_id"`
	BillingRecordID *uint                  `json:"billing_record_id"`
	LineItems       []EncounterLineItemDTO `json:"line_items,omitempty"`
	CreatedAt       string                 `json:"created_at"`
}

// BillingRecordDTO is the external representation of a billing record
type BillingRecordDTO struct {
	ID          uint   `json:"id"`
	UUID        string `json:"uuid"`
	DisplayID   string `json:"display_id"`
	EncounterID uint   `json:"encounter_id"`
	Subtotal    string `json:"subtotal"`
	TaxTotal    string `json:"tax_total"`
	Total       string `json:"total"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	IssuedAt    string `json:"issued_at,omitempty"`
}
