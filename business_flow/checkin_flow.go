package businessflow

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/parsclinic/clinic-core/app/dto"
	"github.com/parsclinic/clinic-core/models"
	"github.com/parsclinic/clinic-core/repository"
	"github.com/parsclinic/clinic-core/utils"
	"gorm.io/gorm"
)

// CheckInFlow turns a booked scheduling record into a linked clinical
// encounter when the patient arrives.
type CheckInFlow interface {
	EstablishCheckIn(ctx context.Context, req *dto.CheckInRequest, metadata *ClientMetadata) (*dto.CheckInResponse, error)
	RepairLink(ctx context.Context, req *dto.RepairLinkRequest, metadata *ClientMetadata) (*dto.RepairLinkResponse, error)
}

// LinkAlertNotifier reports links that cannot be repaired automatically.
// Implementations must not block the request on delivery.
type LinkAlertNotifier interface {
	NotifyAmbiguousLink(ctx context.Context, appointmentID, forwardEncounterID, backwardEncounterID uint) error
}

// CheckInFlowImpl implements the check-in business flow
type CheckInFlowImpl struct {
	appointmentRepo repository.AppointmentRepository
	encounterRepo   repository.EncounterRepository
	allocator       *IdentifierAllocator
	linkManager     *LinkManager
	notifier        LinkAlertNotifier
	db              *gorm.DB
}

// NewCheckInFlow creates a new check-in flow. The notifier is optional.
func NewCheckInFlow(
	appointmentRepo repository.AppointmentRepository,
	encounterRepo repository.EncounterRepository,
	allocator *IdentifierAllocator,
	linkManager *LinkManager,
	notifier LinkAlertNotifier,
	db *gorm.DB,
) CheckInFlow {
	return &CheckInFlowImpl{
		appointmentRepo: appointmentRepo,
		encounterRepo:   encounterRepo,
		allocator:       allocator,
		linkManager:     linkManager,
		notifier:        notifier,
		db:              db,
	}
}

// EstablishCheckIn creates the encounter for an appointment and links the two
// records in the same transaction, so no reader ever observes one reference
// without the other. Re-invoking it for an already checked-in appointment
// returns the existing pair. The response always carries both ids.
func (f *CheckInFlowImpl) EstablishCheckIn(ctx context.Context, req *dto.CheckInRequest, metadata *ClientMetadata) (*dto.CheckInResponse, error) {
	appointment, err := getAppointment(ctx, f.appointmentRepo, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if appointment.Status == models.AppointmentStatusCancelled {
		return nil, NewBusinessError("APPOINTMENT_CANCELLED", "cannot check in a cancelled appointment", ErrAppointmentCancelled)
	}

	// A half-written link from an earlier crash is repaired before we decide
	// whether an encounter already exists.
	if _, err := f.linkManager.Repair(ctx, appointment.ID); err != nil {
		f.alertIfAmbiguous(ctx, err)
		return nil, err
	}
	appointment, err = getAppointment(ctx, f.appointmentRepo, req.AppointmentID)
	if err != nil {
		return nil, err
	}

	if appointment.IsLinked() {
		encounter, err := getEncounter(ctx, f.encounterRepo, *appointment.EncounterID)
		if err != nil {
			return nil, err
		}
		return &dto.CheckInResponse{
			Message:            "Appointment already checked in",
			AppointmentID:      appointment.ID,
			EncounterID:        encounter.ID,
			EncounterDisplayID: encounter.DisplayID,
			AlreadyCheckedIn:   true,
		}, nil
	}

	// Allocation happens before the transaction; an abort leaves a gap in the
	// daily sequence, never a duplicate.
	displayID, _, err := f.allocator.Allocate(ctx, EntityKindEncounter, IdentifierContext{Date: utils.UTCNow()})
	if err != nil {
		return nil, err
	}
	identifiersAllocatedTotal.WithLabelValues(EntityKindEncounter).Inc()

	encounter := &models.Encounter{
		DisplayID:       displayID,
		PatientRef:      appointment.PatientRef,
		PractitionerRef: appointment.PractitionerRef,
		Status:          models.EncounterStatusCheckedIn,
		CheckedInAt:     utils.UTCNowPtr(),
	}

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.encounterRepo.Save(txCtx, encounter); err != nil {
			return err
		}
		if err := f.linkManager.Establish(txCtx, appointment.ID, encounter.ID); err != nil {
			return err
		}
		appointment.Status = models.AppointmentStatusCheckedIn
		return f.appointmentRepo.Update(txCtx, appointment)
	})
	if err != nil {
		return nil, fmt.Errorf("check-in failed for appointment %d: %w", appointment.ID, err)
	}

	return &dto.CheckInResponse{
		Message:            "Checked in",
		AppointmentID:      appointment.ID,
		EncounterID:        encounter.ID,
		EncounterDisplayID: encounter.DisplayID,
	}, nil
}

// RepairLink runs the link repair pass for one appointment and reports the
// resulting consistency.
func (f *CheckInFlowImpl) RepairLink(ctx context.Context, req *dto.RepairLinkRequest, metadata *ClientMetadata) (*dto.RepairLinkResponse, error) {
	repaired, err := f.linkManager.Repair(ctx, req.AppointmentID)
	if err != nil {
		f.alertIfAmbiguous(ctx, err)
		return nil, err
	}
	consistent, err := f.linkManager.Verify(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}

	message := "Link is consistent"
	if repaired {
		message = "Link repaired"
	}
	return &dto.RepairLinkResponse{
		Message:    message,
		Repaired:   repaired,
		Consistent: consistent,
	}, nil
}

// alertIfAmbiguous pushes an admin alert when a repair found both sides set
// and disagreeing, the one link failure needing a human.
func (f *CheckInFlowImpl) alertIfAmbiguous(ctx context.Context, err error) {
	var ambErr *AmbiguousLinkError
	if f.notifier == nil || !errors.As(err, &ambErr) {
		return
	}
	if nerr := f.notifier.NotifyAmbiguousLink(ctx, ambErr.AppointmentID, ambErr.ForwardEncounterID, ambErr.BackwardEncounterID); nerr != nil {
		log.Printf("ambiguous link alert for appointment %d failed: %v", ambErr.AppointmentID, nerr)
	}
}
