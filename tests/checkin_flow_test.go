// Package tests contains test cases for models, repositories, and business
// flows to avoid circular imports
package tests

import (
	"context"
	"testing"

	"github.com/parsclinic/clinic-core/app/dto"
	businessflow "github.com/parsclinic/clinic-core/business_flow"
	"github.com/parsclinic/clinic-core/models"
	"github.com/parsclinic/clinic-core/repository"
	testingutil "github.com/parsclinic/clinic-core/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckInFlow(testDB *testingutil.TestDB, notifier businessflow.LinkAlertNotifier) businessflow.CheckInFlow {
	db := testDB.DB
	appointmentRepo := repository.NewAppointmentRepository(db)
	encounterRepo := repository.NewEncounterRepository(db)
	seqRepo := repository.NewSequenceCounterRepository(db)

	allocator := businessflow.NewIdentifierAllocator(seqRepo)
	linkManager := businessflow.NewLinkManager(appointmentRepo, encounterRepo, db)

	return businessflow.NewCheckInFlow(appointmentRepo, encounterRepo, allocator, linkManager, notifier, db)
}

// recordedLinkAlert captures one NotifyAmbiguousLink call
type recordedLinkAlert struct {
	AppointmentID       uint
	ForwardEncounterID  uint
	BackwardEncounterID uint
}

type recordingLinkNotifier struct {
	alerts []recordedLinkAlert
}

func (n *recordingLinkNotifier) NotifyAmbiguousLink(ctx context.Context, appointmentID, forwardEncounterID, backwardEncounterID uint) error {
	n.alerts = append(n.alerts, recordedLinkAlert{
		AppointmentID:       appointmentID,
		ForwardEncounterID:  forwardEncounterID,
		BackwardEncounterID: backwardEncounterID,
	})
	return nil
}

func TestEstablishCheckIn(t *testing.T) {
	withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		flow := newCheckInFlow(testDB, nil)
		ctx := context.Background()
		metadata := businessflow.NewClientMetadata("127.0.0.1", "test-agent")

		t.Run("CreatesLinkedPair", func(t *testing.T) {
			appointment, err := fixtures.CreateTestAppointment()
			require.NoError(t, err)

			resp, err := flow.EstablishCheckIn(ctx, &dto.CheckInRequest{AppointmentID: appointment.ID}, metadata)
			require.NoError(t, err)
			assert.False(t, resp.AlreadyCheckedIn)
			assert.Equal(t, appointment.ID, resp.AppointmentID)
			assert.NotZero(t, resp.EncounterID)
			assert.Contains(t, resp.EncounterDisplayID, "ENC")

			var loadedAppointment models.Appointment
			require.NoError(t, testDB.DB.First(&loadedAppointment, appointment.ID).Error)
			var loadedEncounter models.Encounter
			require.NoError(t, testDB.DB.First(&loadedEncounter, resp.EncounterID).Error)

			// Both sides of the link must agree
			require.NotNil(t, loadedAppointment.EncounterID)
			require.NotNil(t, loadedEncounter.AppointmentID)
			assert.Equal(t, loadedEncounter.ID, *loadedAppointment.EncounterID)
			assert.Equal(t, loadedAppointment.ID, *loadedEncounter.AppointmentID)

			assert.Equal(t, models.AppointmentStatusCheckedIn, loadedAppointment.Status)
			assert.Equal(t, models.EncounterStatusCheckedIn, loadedEncounter.Status)
			assert.NotNil(t, loadedEncounter.CheckedInAt)
			assert.Equal(t, appointment.PatientRef, loadedEncounter.PatientRef)
		})

		t.Run("RecheckInReturnsExistingPair", func(t *testing.T) {
			appointment, err := fixtures.CreateTestAppointment()
			require.NoError(t, err)

			first, err := flow.EstablishCheckIn(ctx, &dto.CheckInRequest{AppointmentID: appointment.ID}, metadata)
			require.NoError(t, err)
			second, err := flow.EstablishCheckIn(ctx, &dto.CheckInRequest{AppointmentID: appointment.ID}, metadata)
			require.NoError(t, err)

			assert.True(t, second.AlreadyCheckedIn)
			assert.Equal(t, first.EncounterID, second.EncounterID)
			assert.Equal(t, first.EncounterDisplayID, second.EncounterDisplayID)

			// Exactly one encounter exists for the appointment
			var count int64
			require.NoError(t, testDB.DB.Model(&models.Encounter{}).
				Where("appointment_id = ?", appointment.ID).Count(&count).Error)
			assert.Equal(t, int64(1), count)
		})

		t.Run("CancelledAppointmentRejected", func(t *testing.T) {
			appointment, err := fixtures.CreateTestAppointment()
			require.NoError(t, err)
			require.NoError(t, testDB.DB.Model(&models.Appointment{}).
				Where("id = ?", appointment.ID).
				Update("status", models.AppointmentStatusCancelled).Error)

			_, err = flow.EstablishCheckIn(ctx, &dto.CheckInRequest{AppointmentID: appointment.ID}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsAppointmentCancelled(err))
		})

		t.Run("UnknownAppointment", func(t *testing.T) {
			_, err := flow.EstablishCheckIn(ctx, &dto.CheckInRequest{AppointmentID: 999999}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsAppointmentNotFound(err))
		})

		t.Run("HalfLinkFromCrashIsAdopted", func(t *testing.T) {
			// Only the backward reference survived: the encounter claims the
			// appointment but the appointment does not point back. Check-in
			// must adopt that encounter instead of creating a second one.
			appointment, err := fixtures.CreateTestAppointment()
			require.NoError(t, err)
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusCheckedIn)
			require.NoError(t, err)
			require.NoError(t, testDB.DB.Model(&models.Encounter{}).
				Where("id = ?", encounter.ID).
				Update("appointment_id", appointment.ID).Error)

			resp, err := flow.EstablishCheckIn(ctx, &dto.CheckInRequest{AppointmentID: appointment.ID}, metadata)
			require.NoError(t, err)
			assert.True(t, resp.AlreadyCheckedIn)
			assert.Equal(t, encounter.ID, resp.EncounterID)
		})
	})
}

func TestRepairLink(t *testing.T) {
	withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		notifier := &recordingLinkNotifier{}
		flow := newCheckInFlow(testDB, notifier)
		ctx := context.Background()
		metadata := businessflow.NewClientMetadata("127.0.0.1", "test-agent")

		t.Run("ConsistentPairIsNoOp", func(t *testing.T) {
			appointment, _, err := fixtures.CreateLinkedPair()
			require.NoError(t, err)

			resp, err := flow.RepairLink(ctx, &dto.RepairLinkRequest{AppointmentID: appointment.ID}, metadata)
			require.NoError(t, err)
			assert.False(t, resp.Repaired)
			assert.True(t, resp.Consistent)
		})

		t.Run("UnlinkedPairIsConsistent", func(t *testing.T) {
			appointment, err := fixtures.CreateTestAppointment()
			require.NoError(t, err)

			resp, err := flow.RepairLink(ctx, &dto.RepairLinkRequest{AppointmentID: appointment.ID}, metadata)
			require.NoError(t, err)
			assert.False(t, resp.Repaired)
			assert.True(t, resp.Consistent)
		})

		t.Run("ForwardOnlyRestoresBackwardRef", func(t *testing.T) {
			appointment, err := fixtures.CreateTestAppointment()
			require.NoError(t, err)
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusCheckedIn)
			require.NoError(t, err)
			require.NoError(t, testDB.DB.Model(&models.Appointment{}).
				Where("id = ?", appointment.ID).
				Update("encounter_id", encounter.ID).Error)

			resp, err := flow.RepairLink(ctx, &dto.RepairLinkRequest{AppointmentID: appointment.ID}, metadata)
			require.NoError(t, err)
			assert.True(t, resp.Repaired)
			assert.True(t, resp.Consistent)

			var loaded models.Encounter
			require.NoError(t, testDB.DB.First(&loaded, encounter.ID).Error)
			require.NotNil(t, loaded.AppointmentID)
			assert.Equal(t, appointment.ID, *loaded.AppointmentID)
		})

		t.Run("DanglingForwardRefIsCleared", func(t *testing.T) {
			appointment, err := fixtures.CreateTestAppointment()
			require.NoError(t, err)
			require.NoError(t, testDB.DB.Model(&models.Appointment{}).
				Where("id = ?", appointment.ID).
				Update("encounter_id", 999999).Error)

			resp, err := flow.RepairLink(ctx, &dto.RepairLinkRequest{AppointmentID: appointment.ID}, metadata)
			require.NoError(t, err)
			assert.True(t, resp.Repaired)
			assert.True(t, resp.Consistent)

			var loaded models.Appointment
			require.NoError(t, testDB.DB.First(&loaded, appointment.ID).Error)
			assert.Nil(t, loaded.EncounterID)
		})

		t.Run("BackwardOnlyRestoresForwardRef", func(t *testing.T) {
			appointment, err := fixtures.CreateTestAppointment()
			require.NoError(t, err)
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusCheckedIn)
			require.NoError(t, err)
			require.NoError(t, testDB.DB.Model(&models.Encounter{}).
				Where("id = ?", encounter.ID).
				Update("appointment_id", appointment.ID).Error)

			resp, err := flow.RepairLink(ctx, &dto.RepairLinkRequest{AppointmentID: appointment.ID}, metadata)
			require.NoError(t, err)
			assert.True(t, resp.Repaired)
			assert.True(t, resp.Consistent)

			var loaded models.Appointment
			require.NoError(t, testDB.DB.First(&loaded, appointment.ID).Error)
			require.NotNil(t, loaded.EncounterID)
			assert.Equal(t, encounter.ID, *loaded.EncounterID)
		})

		t.Run("ConflictingSidesAreAmbiguous", func(t *testing.T) {
			appointment, err := fixtures.CreateTestAppointment()
			require.NoError(t, err)
			claimed, err := fixtures.CreateTestEncounter(models.EncounterStatusCheckedIn)
			require.NoError(t, err)
			claimant, err := fixtures.CreateTestEncounter(models.EncounterStatusCheckedIn)
			require.NoError(t, err)

			require.NoError(t, testDB.DB.Model(&models.Appointment{}).
				Where("id = ?", appointment.ID).
				Update("encounter_id", claimed.ID).Error)
			require.NoError(t, testDB.DB.Model(&models.Encounter{}).
				Where("id = ?", claimant.ID).
				Update("appointment_id", appointment.ID).Error)

			_, err = flow.RepairLink(ctx, &dto.RepairLinkRequest{AppointmentID: appointment.ID}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsLinkAmbiguous(err))

			// The admin is alerted with both conflicting references
			require.Len(t, notifier.alerts, 1)
			assert.Equal(t, appointment.ID, notifier.alerts[0].AppointmentID)
			assert.Equal(t, claimed.ID, notifier.alerts[0].ForwardEncounterID)
			assert.Equal(t, claimant.ID, notifier.alerts[0].BackwardEncounterID)
		})
	})
}
