package businessflow

import (
	"context"

	"github.com/parsclinic/clinic-core/models"
	"github.com/parsclinic/clinic-core/repository"
)

// ClientMetadata holds client-related information for tracing workflow calls
type ClientMetadata struct {
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	RequestID  string            `json:"request_id,omitempty"`
	Additional map[string]string `json:"additional,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Additional: make(map[string]string),
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// getEncounter loads an encounter or fails with the typed not-found error
func getEncounter(ctx context.Context, repo repository.EncounterRepository, id uint) (*models.Encounter, error) {
	encounter, err := repo.ByIDWithLineItems(ctx, id)
	if err != nil {
		return nil, err
	}
	if encounter == nil {
		return nil, ErrEncounterNotFound
	}
	return encounter, nil
}

// getAppointment loads an appointment or fails with the typed not-found error
func getAppointment(ctx context.Context, repo repository.AppointmentRepository, id uint) (*models.Appointment, error) {
	appointment, err := repo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appointment == nil {
		return nil, ErrAppointmentNotFound
	}
	return appointment, nil
}

// checkDeadline reports a caller-supplied deadline between workflow steps.
// A step that has begun always runs to completion or explicit compensation;
// the deadline is only honored at step boundaries.
func checkDeadline(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
