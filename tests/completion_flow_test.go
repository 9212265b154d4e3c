// Package tests contains test cases for models, repositories, and business
// flows to avoid circular imports
package tests

import (
	"context"
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
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCompletionFlow wires a completion flow against the test database. The
// redis client is nil, so the completion lock is per-process, which is exactly
// what the concurrency tests below exercise.
func newCompletionFlow(testDB *testingutil.TestDB, useSaga bool) businessflow.CompletionFlow {
	db := testDB.DB
	encounterRepo := repository.NewEncounterRepository(db)
	appointmentRepo := repository.NewAppointmentRepository(db)
	billingRepo := repository.NewBillingRecordRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	sagaLogRepo := repository.NewSagaLogRepository(db)
	seqRepo := repository.NewSequenceCounterRepository(db)

	allocator := businessflow.NewIdentifierAllocator(seqRepo)
	linkManager := businessflow.NewLinkManager(appointmentRepo, encounterRepo, db)

	cfg := config.WorkflowConfig{
		UseSagaCompensation: useSaga,
		SagaTimeout:         30 * time.Second,
		TaxRatePercent:      10,
	}
	return businessflow.NewCompletionFlow(
		encounterRepo, appointmentRepo, billingRepo, inventoryRepo, sagaLogRepo,
		allocator, linkManager, nil, cfg, db)
}

// Both orchestration modes must produce identical observable outcomes, so
// every completion scenario runs under each.
func TestCompleteEncounter(t *testing.T) {
	modes := []struct {
		name    string
		useSaga bool
	}{
		{"Transactional", false},
		{"Saga", true},
	}

	for _, mode := range modes {
		mode := mode
		t.Run(mode.name, func(t *testing.T) {
			withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
				fixtures := testingutil.NewTestFixtures(testDB)
				flow := newCompletionFlow(testDB, mode.useSaga)
				ctx := context.Background()
				metadata := businessflow.NewClientMetadata("127.0.0.1", "test-agent")

				t.Run("HappyPath", func(t *testing.T) {
					encounter, item, err := fixtures.CreateActiveEncounterWithStock(10, 2, 5000)
					require.NoError(t, err)

					resp, err := flow.CompleteEncounter(ctx, &dto.CompleteEncounterRequest{EncounterID: encounter.ID}, metadata)
					require.NoError(t, err)
					require.NotNil(t, resp.BillingRecordID)
					assert.Equal(t, string(models.EncounterStatusCompleted), resp.EncounterStatus)
					assert.False(t, resp.AlreadyCompleted)
					assert.Contains(t, *resp.BillingRecordID, "INV")
					assert.Equal(t, []string{*resp.BillingRecordID}, resp.IdentifiersAllocated)

					var loaded models.Encounter
					require.NoError(t, testDB.DB.First(&loaded, encounter.ID).Error)
					assert.Equal(t, models.EncounterStatusCompleted, loaded.Status)
					assert.NotNil(t, loaded.CompletedAt)
					require.NotNil(t, loaded.BillingRecordID)

					var billing models.BillingRecord
					require.NoError(t, testDB.DB.First(&billing, *loaded.BillingRecordID).Error)
					assert.Equal(t, models.BillingRecordStatusIssued, billing.Status)
					assert.Equal(t, *resp.BillingRecordID, billing.DisplayID)
					assert.NotNil(t, billing.IssuedAt)
					// 2 x 5000 at 10% tax
					assert.True(t, billing.Subtotal.Equal(decimal.NewFromInt(10000)), "subtotal %s", billing.Subtotal)
					assert.True(t, billing.TaxTotal.Equal(decimal.NewFromInt(1000)), "tax %s", billing.TaxTotal)
					assert.True(t, billing.Total.Equal(decimal.NewFromInt(11000)), "total %s", billing.Total)

					var loadedItem models.InventoryItem
					require.NoError(t, testDB.DB.First(&loadedItem, item.ID).Error)
					assert.Equal(t, int64(8), loadedItem.StockQty)

					var reservations []models.InventoryReservation
					require.NoError(t, testDB.DB.Where("encounter_id = ?", encounter.ID).Find(&reservations).Error)
					require.Len(t, reservations, 1)
					assert.Equal(t, models.ReservationStatusCommitted, reservations[0].Status)
				})

				t.Run("IdempotentRetry", func(t *testing.T) {
					encounter, item, err := fixtures.CreateActiveEncounterWithStock(10, 1, 3000)
					require.NoError(t, err)

					first, err := flow.CompleteEncounter(ctx, &dto.CompleteEncounterRequest{EncounterID: encounter.ID}, metadata)
					require.NoError(t, err)
					second, err := flow.CompleteEncounter(ctx, &dto.CompleteEncounterRequest{EncounterID: encounter.ID}, metadata)
					require.NoError(t, err)

					assert.True(t, second.AlreadyCompleted)
					require.NotNil(t, second.BillingRecordID)
					assert.Equal(t, *first.BillingRecordID, *second.BillingRecordID)

					// The retry must not touch stock again
					var loadedItem models.InventoryItem
					require.NoError(t, testDB.DB.First(&loadedItem, item.ID).Error)
					assert.Equal(t, int64(9), loadedItem.StockQty)
				})

				t.Run("InsufficientStockLeavesNoResidue", func(t *testing.T) {
					encounter, item, err := fixtures.CreateActiveEncounterWithStock(1, 3, 5000)
					require.NoError(t, err)

					_, err = flow.CompleteEncounter(ctx, &dto.CompleteEncounterRequest{EncounterID: encounter.ID}, metadata)
					require.Error(t, err)
					assert.True(t, businessflow.IsInsufficientStock(err))

					var loaded models.Encounter
					require.NoError(t, testDB.DB.First(&loaded, encounter.ID).Error)
					assert.Equal(t, models.EncounterStatusActive, loaded.Status)
					assert.Nil(t, loaded.BillingRecordID)

					var loadedItem models.InventoryItem
					require.NoError(t, testDB.DB.First(&loadedItem, item.ID).Error)
					assert.Equal(t, int64(1), loadedItem.StockQty)

					var billingCount int64
					require.NoError(t, testDB.DB.Model(&models.BillingRecord{}).Where("encounter_id = ?", encounter.ID).Count(&billingCount).Error)
					assert.Equal(t, int64(0), billingCount)

					var heldCount int64
					require.NoError(t, testDB.DB.Model(&models.InventoryReservation{}).
						Where("encounter_id = ? AND status = ?", encounter.ID, models.ReservationStatusHeld).
						Count(&heldCount).Error)
					assert.Equal(t, int64(0), heldCount)
				})

				t.Run("PartialReservationRolledBack", func(t *testing.T) {
					// First line item reservable, second short. Nothing may stick.
					encounter, first, err := fixtures.CreateActiveEncounterWithStock(10, 2, 5000)
					require.NoError(t, err)
					short, err := fixtures.CreateTestInventoryItem(1, 2000)
					require.NoError(t, err)
					_, err = fixtures.AddLineItem(encounter.ID, short.ID, 5, 2000)
					require.NoError(t, err)

					_, err = flow.CompleteEncounter(ctx, &dto.CompleteEncounterRequest{EncounterID: encounter.ID}, metadata)
					require.Error(t, err)
					assert.True(t, businessflow.IsInsufficientStock(err))

					var loadedFirst models.InventoryItem
					require.NoError(t, testDB.DB.First(&loadedFirst, first.ID).Error)
					assert.Equal(t, int64(10), loadedFirst.StockQty)
					var loadedShort models.InventoryItem
					require.NoError(t, testDB.DB.First(&loadedShort, short.ID).Error)
					assert.Equal(t, int64(1), loadedShort.StockQty)
				})

				t.Run("CancelledEncounterRejected", func(t *testing.T) {
					encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusCancelled)
					require.NoError(t, err)

					_, err = flow.CompleteEncounter(ctx, &dto.CompleteEncounterRequest{EncounterID: encounter.ID}, metadata)
					require.Error(t, err)
					assert.True(t, businessflow.IsEncounterCancelled(err))
				})

				t.Run("CheckedInEncounterRejected", func(t *testing.T) {
					encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusCheckedIn)
					require.NoError(t, err)

					_, err = flow.CompleteEncounter(ctx, &dto.CompleteEncounterRequest{EncounterID: encounter.ID}, metadata)
					require.Error(t, err)
					assert.True(t, businessflow.IsInvalidStateTransition(err))
				})

				t.Run("UnknownEncounter", func(t *testing.T) {
					_, err := flow.CompleteEncounter(ctx, &dto.CompleteEncounterRequest{EncounterID: 999999}, metadata)
					require.Error(t, err)
					assert.True(t, businessflow.IsEncounterNotFound(err))
				})

				t.Run("ClosesLinkedAppointment", func(t *testing.T) {
					appointment, encounter, err := fixtures.CreateLinkedPair()
					require.NoError(t, err)
					require.NoError(t, testDB.DB.Model(&models.Encounter{}).
						Where("id = ?", encounter.ID).
						Update("status", models.EncounterStatusActive).Error)
					item, err := fixtures.CreateTestInventoryItem(5, 4000)
					require.NoError(t, err)
					_, err = fixtures.AddLineItem(encounter.ID, item.ID, 1, 4000)
					require.NoError(t, err)

					_, err = flow.CompleteEncounter(ctx, &dto.CompleteEncounterRequest{EncounterID: encounter.ID}, metadata)
					require.NoError(t, err)

					var loaded models.Appointment
					require.NoError(t, testDB.DB.First(&loaded, appointment.ID).Error)
					assert.Equal(t, models.AppointmentStatusClosed, loaded.Status)
				})

				t.Run("ConcurrentCompletionHasOneWinner", func(t *testing.T) {
					encounter, item, err := fixtures.CreateActiveEncounterWithStock(10, 2, 5000)
					require.NoError(t, err)

					const attempts = 5
					responses := make(chan *dto.CompleteEncounterResponse, attempts)
					var wg sync.WaitGroup
					for i := 0; i < attempts; i++ {
						wg.Add(1)
						go func() {
							defer wg.Done()
							resp, err := flow.CompleteEncounter(ctx, &dto.CompleteEncounterRequest{EncounterID: encounter.ID}, metadata)
							if assert.NoError(t, err) {
								responses <- resp
							}
						}()
					}
					wg.Wait()
					close(responses)

					winners := 0
					for resp := range responses {
						if !resp.AlreadyCompleted {
							winners++
						}
						require.NotNil(t, resp.BillingRecordID)
					}
					assert.Equal(t, 1, winners)

					// Stock deducted exactly once, one billing record issued
					var loadedItem models.InventoryItem
					require.NoError(t, testDB.DB.First(&loadedItem, item.ID).Error)
					assert.Equal(t, int64(8), loadedItem.StockQty)

					var billingCount int64
					require.NoError(t, testDB.DB.Model(&models.BillingRecord{}).Where("encounter_id = ?", encounter.ID).Count(&billingCount).Error)
					assert.Equal(t, int64(1), billingCount)
				})
			})
		})
	}
}

func TestStartEncounter(t *testing.T) {
	withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		flow := newCompletionFlow(testDB, false)
		ctx := context.Background()
		metadata := businessflow.NewClientMetadata("127.0.0.1", "test-agent")

		t.Run("CheckedInBecomesActive", func(t *testing.T) {
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusCheckedIn)
			require.NoError(t, err)

			resp, err := flow.StartEncounter(ctx, &dto.StartEncounterRequest{EncounterID: encounter.ID}, metadata)
			require.NoError(t, err)
			assert.Equal(t, string(models.EncounterStatusActive), resp.EncounterStatus)

			var loaded models.Encounter
			require.NoError(t, testDB.DB.First(&loaded, encounter.ID).Error)
			assert.Equal(t, models.EncounterStatusActive, loaded.Status)
		})

		t.Run("ScheduledCannotStart", func(t *testing.T) {
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusScheduled)
			require.NoError(t, err)

			_, err = flow.StartEncounter(ctx, &dto.StartEncounterRequest{EncounterID: encounter.ID}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsInvalidStateTransition(err))
		})

		t.Run("ActiveCannotStartAgain", func(t *testing.T) {
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusActive)
			require.NoError(t, err)

			_, err = flow.StartEncounter(ctx, &dto.StartEncounterRequest{EncounterID: encounter.ID}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsInvalidStateTransition(err))
		})
	})
}

func TestCancelEncounter(t *testing.T) {
	withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		flow := newCompletionFlow(testDB, false)
		ctx := context.Background()
		metadata := businessflow.NewClientMetadata("127.0.0.1", "test-agent")

		t.Run("ActiveBecomesCancelled", func(t *testing.T) {
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusActive)
			require.NoError(t, err)

			resp, err := flow.CancelEncounter(ctx, &dto.CancelEncounterRequest{EncounterID: encounter.ID, Reason: "patient left"}, metadata)
			require.NoError(t, err)
			assert.Equal(t, string(models.EncounterStatusCancelled), resp.EncounterStatus)
		})

		t.Run("CancelIsIdempotent", func(t *testing.T) {
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusCancelled)
			require.NoError(t, err)

			resp, err := flow.CancelEncounter(ctx, &dto.CancelEncounterRequest{EncounterID: encounter.ID}, metadata)
			require.NoError(t, err)
			assert.Equal(t, "Encounter already cancelled", resp.Message)
		})

		t.Run("CompletedCannotBeCancelled", func(t *testing.T) {
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusCompleted)
			require.NoError(t, err)

			_, err = flow.CancelEncounter(ctx, &dto.CancelEncounterRequest{EncounterID: encounter.ID}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsInvalidStateTransition(err))
		})

		t.Run("ReleasesHeldReservations", func(t *testing.T) {
			encounter, item, err := fixtures.CreateActiveEncounterWithStock(10, 2, 5000)
			require.NoError(t, err)

			// Leave a held reservation behind, as an interrupted completion would
			inventoryRepo := repository.NewInventoryRepository(testDB.DB)
			ok, err := inventoryRepo.ReserveStock(ctx, &models.InventoryReservation{
				SagaID:          uuid.New(),
				EncounterID:     encounter.ID,
				InventoryItemID: item.ID,
				Quantity:        2,
			})
			require.NoError(t, err)
			require.True(t, ok)

			_, err = flow.CancelEncounter(ctx, &dto.CancelEncounterRequest{EncounterID: encounter.ID, Reason: "no-show"}, metadata)
			require.NoError(t, err)

			var loadedItem models.InventoryItem
			require.NoError(t, testDB.DB.First(&loadedItem, item.ID).Error)
			assert.Equal(t, int64(10), loadedItem.StockQty)

			var heldCount int64
			require.NoError(t, testDB.DB.Model(&models.InventoryReservation{}).
				Where("encounter_id = ? AND status = ?", encounter.ID, models.ReservationStatusHeld).
				Count(&heldCount).Error)
			assert.Equal(t, int64(0), heldCount)
		})
	})
}
