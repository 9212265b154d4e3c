package businessflow

import (
	"context"

	"github.com/parsclinic/clinic-core/repository"
	"gorm.io/gorm"
)

// LinkManager owns the appointment<->encounter invariant: if either side of
// the pair holds a reference, the other side must agree once the surrounding
// workflow step commits. More than one code path can create an encounter
// from an appointment (check-in and the manual start-again path), so the
// invariant lives here instead of in every caller.
type LinkManager struct {
	appointmentRepo repository.AppointmentRepository
	encounterRepo   repository.EncounterRepository
	db              *gorm.DB
}

// NewLinkManager creates a new link manager
func NewLinkManager(
	appointmentRepo repository.AppointmentRepository,
	encounterRepo repository.EncounterRepository,
	db *gorm.DB,
) *LinkManager {
	return &LinkManager{
		appointmentRepo: appointmentRepo,
		encounterRepo:   encounterRepo,
		db:              db,
	}
}

// Establish sets both sides of the link in one logical operation. When the
// caller already runs inside a transaction the writes join it; otherwise a
// dedicated transaction wraps them.
func (m *LinkManager) Establish(ctx context.Context, appointmentID, encounterID uint) error {
	write := func(txCtx context.Context) error {
		if err := m.appointmentRepo.SetEncounterRef(txCtx, appointmentID, &encounterID); err != nil {
			return err
		}
		return m.encounterRepo.SetAppointmentRef(txCtx, encounterID, &appointmentID)
	}

	if tx, ok := ctx.Value(repository.TxContextKey).(*gorm.DB); ok && tx != nil {
		return write(ctx)
	}
	return repository.WithTransaction(ctx, m.db, write)
}

// Verify returns true iff both sides of the link agree: either both empty,
// or the appointment's forward reference matches the encounter that claims
// the appointment.
func (m *LinkManager) Verify(ctx context.Context, appointmentID uint) (bool, error) {
	appointment, err := getAppointment(ctx, m.appointmentRepo, appointmentID)
	if err != nil {
		return false, err
	}

	back, err := m.encounterRepo.ByAppointmentID(ctx, appointmentID)
	if err != nil {
		return false, err
	}

	if !appointment.IsLinked() {
		return back == nil, nil
	}
	if back == nil {
		return false, nil
	}
	return back.ID == *appointment.EncounterID, nil
}

// Repair makes the weaker side consistent with the stronger. The side whose
// reference resolves to an existing counterpart is authoritative. Both sides
// empty is a no-op. Both sides set but disagreeing cannot be repaired
// automatically and surfaces as an ambiguous-link error. Repair is
// idempotent and safe to run speculatively before any link-dependent read.
// Returns true when a write was performed.
func (m *LinkManager) Repair(ctx context.Context, appointmentID uint) (bool, error) {
	repaired := false

	err := repository.WithTransaction(ctx, m.db, func(txCtx context.Context) error {
		appointment, err := getAppointment(txCtx, m.appointmentRepo, appointmentID)
		if err != nil {
			return err
		}

		back, err := m.encounterRepo.ByAppointmentID(txCtx, appointmentID)
		if err != nil {
			return err
		}

		switch {
		case !appointment.IsLinked() && back == nil:
			// Nothing on either side; not an error.
			return nil

		case appointment.IsLinked() && back != nil:
			if back.ID == *appointment.EncounterID {
				return nil // already consistent
			}
			return &AmbiguousLinkError{
				AppointmentID:       appointmentID,
				ForwardEncounterID:  *appointment.EncounterID,
				BackwardEncounterID: back.ID,
			}

		case appointment.IsLinked():
			// Forward only: the appointment is authoritative if its
			// reference resolves; a dangling reference is cleared instead.
			encounter, err := m.encounterRepo.ByID(txCtx, *appointment.EncounterID)
			if err != nil {
				return err
			}
			if encounter == nil {
				repaired = true
				return m.appointmentRepo.SetEncounterRef(txCtx, appointmentID, nil)
			}
			repaired = true
			return m.encounterRepo.SetAppointmentRef(txCtx, encounter.ID, &appointmentID)

		default:
			// Backward only: the encounter claiming the appointment is
			// authoritative.
			repaired = true
			return m.appointmentRepo.SetEncounterRef(txCtx, appointmentID, &back.ID)
		}
	})
	if err != nil {
		return false, err
	}

	return repaired, nil
}
