// Package tests contains test cases for models, repositories, and business
// flows to avoid circular imports
package tests

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parsclinic/clinic-core/app/dto"
	businessflow "github.com/parsclinic/clinic-core/business_flow"
	"github.com/parsclinic/clinic-core/config"
	"github.com/parsclinic/clinic-core/models"
	"github.com/parsclinic/clinic-core/repository"
	testingutil "github.com/parsclinic/clinic-core/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedNotification captures one NotifySagaRecovery call
type recordedNotification struct {
	SagaID      uuid.UUID
	EncounterID uint
	Outcome     string
}

// recordingNotifier is an in-memory AdminNotifier for asserting on recovery
// notifications.
type recordingNotifier struct {
	mu       sync.Mutex
	calls    []recordedNotification
	failWith error
}

func (n *recordingNotifier) NotifySagaRecovery(ctx context.Context, sagaID uuid.UUID, encounterID uint, outcome, detail string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, recordedNotification{SagaID: sagaID, EncounterID: encounterID, Outcome: outcome})
	return n.failWith
}

func (n *recordingNotifier) recorded() []recordedNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]recordedNotification, len(n.calls))
	copy(out, n.calls)
	return out
}

func newRecoveryFlow(testDB *testingutil.TestDB, notifier businessflow.AdminNotifier) businessflow.RecoveryFlow {
	db := testDB.DB
	cfg := config.WorkflowConfig{
		StuckSagaAge:       30 * time.Minute,
		RecoveryMaxElapsed: 2 * time.Second,
	}
	return businessflow.NewRecoveryFlow(
		repository.NewSagaLogRepository(db),
		repository.NewEncounterRepository(db),
		repository.NewBillingRecordRepository(db),
		repository.NewInventoryRepository(db),
		notifier,
		cfg)
}

// appendSagaStep writes one saga log row and backdates it past the stuck-saga
// cutoff so the recovery scan picks it up.
func appendSagaStep(t *testing.T, testDB *testingutil.TestDB, sagaID uuid.UUID, encounterID uint, step models.SagaStep, status models.SagaStepStatus, payload json.RawMessage) {
	t.Helper()

	repo := repository.NewSagaLogRepository(testDB.DB)
	require.NoError(t, repo.Append(context.Background(), &models.SagaLog{
		SagaID:      sagaID,
		EncounterID: encounterID,
		Step:        step,
		Status:      status,
		Payload:     payload,
	}))
	require.NoError(t, testDB.DB.Model(&models.SagaLog{}).
		Where("saga_id = ?", sagaID).
		Update("created_at", time.Now().UTC().Add(-time.Hour)).Error)
}

func TestRecoverStuckSagas(t *testing.T) {
	withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		t.Run("CompensatesSagaStuckBeforeCommit", func(t *testing.T) {
			// A completion attempt died after reserving stock and drafting the
			// billing record. Recovery must roll everything back.
			encounter, item, err := fixtures.CreateActiveEncounterWithStock(10, 2, 5000)
			require.NoError(t, err)

			sagaID := uuid.New()
			inventoryRepo := repository.NewInventoryRepository(testDB.DB)
			ok, err := inventoryRepo.ReserveStock(ctx, &models.InventoryReservation{
				SagaID:          sagaID,
				EncounterID:     encounter.ID,
				InventoryItemID: item.ID,
				Quantity:        2,
			})
			require.NoError(t, err)
			require.True(t, ok)

			billing := &models.BillingRecord{
				DisplayID:   "INV202511000900",
				EncounterID: encounter.ID,
				PatientRef:  encounter.PatientRef,
				SagaID:      sagaID,
				Status:      models.BillingRecordStatusDraft,
			}
			require.NoError(t, testDB.DB.Create(billing).Error)
			require.NoError(t, testDB.DB.Model(&models.Encounter{}).
				Where("id = ?", encounter.ID).
				Update("billing_record_id", billing.ID).Error)

			appendSagaStep(t, testDB, sagaID, encounter.ID, models.SagaStepReserveInventory, models.SagaStepStatusDone, nil)
			appendSagaStep(t, testDB, sagaID, encounter.ID, models.SagaStepCreateBilling, models.SagaStepStatusStarted, nil)

			notifier := &recordingNotifier{}
			report, err := newRecoveryFlow(testDB, notifier).RecoverStuckSagas(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Scanned)
			assert.Equal(t, 1, report.Compensated)
			assert.Equal(t, 0, report.ForwardRecovered)
			assert.Equal(t, 0, report.Failed)

			// Stock is back, the draft is gone, the encounter no longer
			// references it, and the encounter itself is untouched.
			var loadedItem models.InventoryItem
			require.NoError(t, testDB.DB.First(&loadedItem, item.ID).Error)
			assert.Equal(t, int64(10), loadedItem.StockQty)

			// The row must be gone for real: a soft-deleted draft would keep
			// occupying the unique index on encounter_id and block any retry.
			var billingCount int64
			require.NoError(t, testDB.DB.Unscoped().Model(&models.BillingRecord{}).Where("id = ?", billing.ID).Count(&billingCount).Error)
			assert.Equal(t, int64(0), billingCount)

			var loadedEncounter models.Encounter
			require.NoError(t, testDB.DB.First(&loadedEncounter, encounter.ID).Error)
			assert.Nil(t, loadedEncounter.BillingRecordID)
			assert.Equal(t, models.EncounterStatusActive, loadedEncounter.Status)

			calls := notifier.recorded()
			require.Len(t, calls, 1)
			assert.Equal(t, sagaID, calls[0].SagaID)
			assert.Equal(t, encounter.ID, calls[0].EncounterID)
			assert.Equal(t, "compensated", calls[0].Outcome)

			// Retrying the completion after compensation must succeed.
			retry, err := newCompletionFlow(testDB, true).CompleteEncounter(ctx,
				&dto.CompleteEncounterRequest{EncounterID: encounter.ID},
				businessflow.NewClientMetadata("127.0.0.1", "test-agent"))
			require.NoError(t, err)
			assert.False(t, retry.AlreadyCompleted)
			require.NotNil(t, retry.BillingRecordID)

			require.NoError(t, testDB.DB.First(&loadedEncounter, encounter.ID).Error)
			assert.Equal(t, models.EncounterStatusCompleted, loadedEncounter.Status)
			require.NoError(t, testDB.DB.First(&loadedItem, item.ID).Error)
			assert.Equal(t, int64(8), loadedItem.StockQty)
		})

		t.Run("CompensationLeavesConcurrentRunsDraftAlone", func(t *testing.T) {
			// Two completions of the same encounter overlapped across
			// processes. The losing run's compensation must only remove its
			// own work, never the winning run's in-flight draft.
			encounter, item, err := fixtures.CreateActiveEncounterWithStock(10, 2, 5000)
			require.NoError(t, err)

			winnerSagaID := uuid.New()
			winnerDraft := &models.BillingRecord{
				DisplayID:   "INV202511000902",
				EncounterID: encounter.ID,
				PatientRef:  encounter.PatientRef,
				SagaID:      winnerSagaID,
				Status:      models.BillingRecordStatusDraft,
			}
			require.NoError(t, testDB.DB.Create(winnerDraft).Error)
			require.NoError(t, testDB.DB.Model(&models.Encounter{}).
				Where("id = ?", encounter.ID).
				Update("billing_record_id", winnerDraft.ID).Error)

			// The loser reserved stock, then died creating its billing record
			// (the unique index on encounter_id rejected the second draft).
			loserSagaID := uuid.New()
			inventoryRepo := repository.NewInventoryRepository(testDB.DB)
			ok, err := inventoryRepo.ReserveStock(ctx, &models.InventoryReservation{
				SagaID:          loserSagaID,
				EncounterID:     encounter.ID,
				InventoryItemID: item.ID,
				Quantity:        2,
			})
			require.NoError(t, err)
			require.True(t, ok)

			appendSagaStep(t, testDB, loserSagaID, encounter.ID, models.SagaStepReserveInventory, models.SagaStepStatusDone, nil)
			appendSagaStep(t, testDB, loserSagaID, encounter.ID, models.SagaStepCreateBilling, models.SagaStepStatusStarted, nil)

			notifier := &recordingNotifier{}
			report, err := newRecoveryFlow(testDB, notifier).RecoverStuckSagas(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Compensated)
			assert.Equal(t, 0, report.Failed)

			// The loser's reservation is released...
			var loadedItem models.InventoryItem
			require.NoError(t, testDB.DB.First(&loadedItem, item.ID).Error)
			assert.Equal(t, int64(10), loadedItem.StockQty)

			// ...while the winner's draft and the encounter's reference to it
			// survive untouched.
			var loadedDraft models.BillingRecord
			require.NoError(t, testDB.DB.First(&loadedDraft, winnerDraft.ID).Error)
			assert.Equal(t, models.BillingRecordStatusDraft, loadedDraft.Status)

			var loadedEncounter models.Encounter
			require.NoError(t, testDB.DB.First(&loadedEncounter, encounter.ID).Error)
			require.NotNil(t, loadedEncounter.BillingRecordID)
			assert.Equal(t, winnerDraft.ID, *loadedEncounter.BillingRecordID)
		})

		t.Run("RollsForwardCommittedSaga", func(t *testing.T) {
			// The commit transaction landed but the writer died before
			// recording the done entry. The encounter is completed, so
			// recovery must finish the tail instead of compensating.
			encounter, item, err := fixtures.CreateActiveEncounterWithStock(10, 2, 5000)
			require.NoError(t, err)

			sagaID := uuid.New()
			inventoryRepo := repository.NewInventoryRepository(testDB.DB)
			ok, err := inventoryRepo.ReserveStock(ctx, &models.InventoryReservation{
				SagaID:          sagaID,
				EncounterID:     encounter.ID,
				InventoryItemID: item.ID,
				Quantity:        2,
			})
			require.NoError(t, err)
			require.True(t, ok)

			billing := &models.BillingRecord{
				DisplayID:   "INV202511000901",
				EncounterID: encounter.ID,
				PatientRef:  encounter.PatientRef,
				SagaID:      sagaID,
				Status:      models.BillingRecordStatusDraft,
			}
			require.NoError(t, testDB.DB.Create(billing).Error)
			require.NoError(t, testDB.DB.Model(&models.Encounter{}).
				Where("id = ?", encounter.ID).
				Updates(map[string]any{
					"billing_record_id": billing.ID,
					"status":            models.EncounterStatusCompleted,
				}).Error)

			appendSagaStep(t, testDB, sagaID, encounter.ID, models.SagaStepReserveInventory, models.SagaStepStatusDone, nil)
			appendSagaStep(t, testDB, sagaID, encounter.ID, models.SagaStepCreateBilling, models.SagaStepStatusDone, nil)
			appendSagaStep(t, testDB, sagaID, encounter.ID, models.SagaStepEstablishLinks, models.SagaStepStatusDone, nil)
			appendSagaStep(t, testDB, sagaID, encounter.ID, models.SagaStepCommitEncounter, models.SagaStepStatusStarted, nil)

			notifier := &recordingNotifier{}
			report, err := newRecoveryFlow(testDB, notifier).RecoverStuckSagas(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Scanned)
			assert.Equal(t, 1, report.ForwardRecovered)
			assert.Equal(t, 0, report.Compensated)
			assert.Equal(t, 0, report.Failed)

			var loadedBilling models.BillingRecord
			require.NoError(t, testDB.DB.First(&loadedBilling, billing.ID).Error)
			assert.Equal(t, models.BillingRecordStatusIssued, loadedBilling.Status)
			assert.NotNil(t, loadedBilling.IssuedAt)

			var reservations []models.InventoryReservation
			require.NoError(t, testDB.DB.Where("saga_id = ?", sagaID).Find(&reservations).Error)
			require.Len(t, reservations, 1)
			assert.Equal(t, models.ReservationStatusCommitted, reservations[0].Status)

			// The deduction stays permanent
			var loadedItem models.InventoryItem
			require.NoError(t, testDB.DB.First(&loadedItem, item.ID).Error)
			assert.Equal(t, int64(8), loadedItem.StockQty)

			var commitLog models.SagaLog
			require.NoError(t, testDB.DB.
				Where("saga_id = ? AND step = ?", sagaID, models.SagaStepCommitEncounter).
				First(&commitLog).Error)
			assert.Equal(t, models.SagaStepStatusDone, commitLog.Status)

			calls := notifier.recorded()
			require.Len(t, calls, 1)
			assert.Equal(t, "forward", calls[0].Outcome)
		})

		t.Run("FreshSagasAreLeftAlone", func(t *testing.T) {
			// A saga inside the stuck-saga age is still running; the scan must
			// not touch it.
			encounter, item, err := fixtures.CreateActiveEncounterWithStock(10, 2, 5000)
			require.NoError(t, err)

			sagaID := uuid.New()
			inventoryRepo := repository.NewInventoryRepository(testDB.DB)
			ok, err := inventoryRepo.ReserveStock(ctx, &models.InventoryReservation{
				SagaID:          sagaID,
				EncounterID:     encounter.ID,
				InventoryItemID: item.ID,
				Quantity:        2,
			})
			require.NoError(t, err)
			require.True(t, ok)

			sagaLogRepo := repository.NewSagaLogRepository(testDB.DB)
			require.NoError(t, sagaLogRepo.Append(ctx, &models.SagaLog{
				SagaID:      sagaID,
				EncounterID: encounter.ID,
				Step:        models.SagaStepReserveInventory,
				Status:      models.SagaStepStatusStarted,
			}))

			notifier := &recordingNotifier{}
			report, err := newRecoveryFlow(testDB, notifier).RecoverStuckSagas(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, report.Scanned)
			assert.Empty(t, notifier.recorded())

			var reservation models.InventoryReservation
			require.NoError(t, testDB.DB.Where("saga_id = ?", sagaID).First(&reservation).Error)
			assert.Equal(t, models.ReservationStatusHeld, reservation.Status)
		})

		t.Run("NotifierFailureDoesNotFailThePass", func(t *testing.T) {
			encounter, item, err := fixtures.CreateActiveEncounterWithStock(10, 2, 5000)
			require.NoError(t, err)

			sagaID := uuid.New()
			inventoryRepo := repository.NewInventoryRepository(testDB.DB)
			ok, err := inventoryRepo.ReserveStock(ctx, &models.InventoryReservation{
				SagaID:          sagaID,
				EncounterID:     encounter.ID,
				InventoryItemID: item.ID,
				Quantity:        2,
			})
			require.NoError(t, err)
			require.True(t, ok)

			appendSagaStep(t, testDB, sagaID, encounter.ID, models.SagaStepReserveInventory, models.SagaStepStatusStarted, nil)

			notifier := &recordingNotifier{failWith: errors.New("sms gateway down")}
			report, err := newRecoveryFlow(testDB, notifier).RecoverStuckSagas(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Compensated)
			assert.Equal(t, 0, report.Failed)

			var loadedItem models.InventoryItem
			require.NoError(t, testDB.DB.First(&loadedItem, item.ID).Error)
			assert.Equal(t, int64(10), loadedItem.StockQty)
		})
	})
}
