package dto

// CheckInRequest establishes the check-in for a scheduling record
type CheckInRequest struct {
	AppointmentID uint `json:"appointment_id" validate:"required,min=1"`
}

// CheckInResponse always carries the scheduling id and the linked encounter
// id together; returning one without the other is the integration defect
// this contract exists to prevent.
type CheckInResponse struct {
	Message            string `json:"message"`
	AppointmentID      uint   `json:"appointment_id"`
	EncounterID        uint   `json:"encounter_id"`
	EncounterDisplayID string `json:"encounter_display_id"`
	AlreadyCheckedIn   bool   `json:"already_checked_in"`
}

// RepairLinkRequest runs the link repair pass for one appointment
type RepairLinkRequest struct {
	AppointmentID uint `json:"appointment_id" validate:"required,min=1"`
}

// RepairLinkResponse reports whether a repair write was needed
type RepairLinkResponse struct {
	Message    string `json:"message"`
	Repaired   bool   `json:"repaired"`
	Consistent bool   `json:"consistent"`
}
