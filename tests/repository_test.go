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
	"github.com/parsclinic/clinic-core/models"
	"github.com/parsclinic/clinic-core/repository"
	testingutil "github.com/parsclinic/clinic-core/testing"
	"github.com/parsclinic/clinic-core/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceCounterRepository(t *testing.T) {
	withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		repo := repository.NewSequenceCounterRepository(testDB.DB)
		ctx := testingutil.CreateTestContext()

		t.Run("NextStartsAtOne", func(t *testing.T) {
			value, err := repo.Next(ctx, "encounter-20251120", models.ResetPeriodDaily)
			require.NoError(t, err)
			assert.Equal(t, int64(1), value)
		})

		t.Run("NextIncrements", func(t *testing.T) {
			first, err := repo.Next(ctx, "billing-record-202511", models.ResetPeriodMonthly)
			require.NoError(t, err)
			second, err := repo.Next(ctx, "billing-record-202511", models.ResetPeriodMonthly)
			require.NoError(t, err)
			assert.Equal(t, first+1, second)
		})

		t.Run("ScopesAreIndependent", func(t *testing.T) {
			a, err := repo.Next(ctx, "encounter-20250101", models.ResetPeriodDaily)
			require.NoError(t, err)
			b, err := repo.Next(ctx, "encounter-20250102", models.ResetPeriodDaily)
			require.NoError(t, err)
			assert.Equal(t, int64(1), a)
			assert.Equal(t, int64(1), b)
		})

		t.Run("NoDuplicatesUnderConcurrency", func(t *testing.T) {
			const workers = 50
			results := make(chan int64, workers)
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					value, err := repo.Next(ctx, "concurrent-scope", models.ResetPeriodNone)
					assert.NoError(t, err)
					results <- value
				}()
			}
			wg.Wait()
			close(results)

			seen := make(map[int64]bool, workers)
			for value := range results {
				assert.False(t, seen[value], "duplicate sequence value %d", value)
				seen[value] = true
			}
			assert.Len(t, seen, workers)
		})

		t.Run("PurgeExpiredKeepsUnscoped", func(t *testing.T) {
			_, err := repo.Next(ctx, "device-item-MED", models.ResetPeriodNone)
			require.NoError(t, err)
			_, err = repo.Next(ctx, "encounter-20200101", models.ResetPeriodDaily)
			require.NoError(t, err)

			// Make the daily counter look stale
			require.NoError(t, testDB.DB.Exec(
				"UPDATE sequence_counters SET updated_at = ? WHERE scope_key = ?",
				utils.UTCNow().Add(-120*24*time.Hour), "encounter-20200101").Error)

			deleted, err := repo.PurgeExpired(ctx, utils.UTCNow().Add(-90*24*time.Hour))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, deleted, int64(1))

			// Unscoped counters are never purged
			counter, err := repo.Get(ctx, "device-item-MED")
			require.NoError(t, err)
			assert.NotNil(t, counter)

			purged, err := repo.Get(ctx, "encounter-20200101")
			require.NoError(t, err)
			assert.Nil(t, purged)
		})
	})
}

func TestEncounterRepositoryTransitionStatus(t *testing.T) {
	withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		repo := repository.NewEncounterRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		t.Run("MovesWhenExpectedMatches", func(t *testing.T) {
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusActive)
			require.NoError(t, err)

			moved, err := repo.TransitionStatus(ctx, encounter.ID, models.EncounterStatusActive, models.EncounterStatusCompleted, "")
			require.NoError(t, err)
			assert.True(t, moved)

			reloaded, err := repo.ByID(ctx, encounter.ID)
			require.NoError(t, err)
			assert.Equal(t, models.EncounterStatusCompleted, reloaded.Status)
			assert.NotNil(t, reloaded.CompletedAt)
		})

		t.Run("RejectsStaleExpectation", func(t *testing.T) {
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusCheckedIn)
			require.NoError(t, err)

			moved, err := repo.TransitionStatus(ctx, encounter.ID, models.EncounterStatusActive, models.EncounterStatusCompleted, "")
			require.NoError(t, err)
			assert.False(t, moved)

			reloaded, err := repo.ByID(ctx, encounter.ID)
			require.NoError(t, err)
			assert.Equal(t, models.EncounterStatusCheckedIn, reloaded.Status)
		})

		t.Run("OnlyOneWriterWins", func(t *testing.T) {
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusActive)
			require.NoError(t, err)

			const writers = 10
			wins := make(chan bool, writers)
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					moved, err := repo.TransitionStatus(ctx, encounter.ID, models.EncounterStatusActive, models.EncounterStatusCompleted, "")
					assert.NoError(t, err)
					wins <- moved
				}()
			}
			wg.Wait()
			close(wins)

			winners := 0
			for moved := range wins {
				if moved {
					winners++
				}
			}
			assert.Equal(t, 1, winners)
		})
	})
}

func TestInventoryRepository(t *testing.T) {
	withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		repo := repository.NewInventoryRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		t.Run("ReserveDecrementsStock", func(t *testing.T) {
			item, err := fixtures.CreateTestInventoryItem(10, 5000)
			require.NoError(t, err)

			reservation := &models.InventoryReservation{
				SagaID:          uuid.New(),
				EncounterID:     1,
				InventoryItemID: item.ID,
				Quantity:        3,
			}
			ok, err := repo.ReserveStock(ctx, reservation)
			require.NoError(t, err)
			assert.True(t, ok)

			reloaded, err := repo.ItemByID(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(7), reloaded.StockQty)
		})

		t.Run("ShortStockLeavesNoTrace", func(t *testing.T) {
			item, err := fixtures.CreateTestInventoryItem(5, 5000)
			require.NoError(t, err)

			sagaID := uuid.New()
			reservation := &models.InventoryReservation{
				SagaID:          sagaID,
				EncounterID:     1,
				InventoryItemID: item.ID,
				Quantity:        6,
			}
			ok, err := repo.ReserveStock(ctx, reservation)
			require.NoError(t, err)
			assert.False(t, ok)

			reloaded, err := repo.ItemByID(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(5), reloaded.StockQty)

			reservations, err := repo.ReservationsBySagaID(ctx, sagaID)
			require.NoError(t, err)
			assert.Empty(t, reservations)
		})

		t.Run("ReleaseRestoresStock", func(t *testing.T) {
			item, err := fixtures.CreateTestInventoryItem(10, 5000)
			require.NoError(t, err)

			reservation := &models.InventoryReservation{
				SagaID:          uuid.New(),
				EncounterID:     1,
				InventoryItemID: item.ID,
				Quantity:        4,
			}
			ok, err := repo.ReserveStock(ctx, reservation)
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, repo.ReleaseReservation(ctx, reservation.ID))

			reloaded, err := repo.ItemByID(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(10), reloaded.StockQty)

			// Releasing again must not double-restore
			require.NoError(t, repo.ReleaseReservation(ctx, reservation.ID))
			reloaded, err = repo.ItemByID(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(10), reloaded.StockQty)
		})

		t.Run("CommitMakesDeductionPermanent", func(t *testing.T) {
			item, err := fixtures.CreateTestInventoryItem(10, 5000)
			require.NoError(t, err)

			reservation := &models.InventoryReservation{
				SagaID:          uuid.New(),
				EncounterID:     1,
				InventoryItemID: item.ID,
				Quantity:        2,
			}
			ok, err := repo.ReserveStock(ctx, reservation)
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, repo.CommitReservation(ctx, reservation.ID))

			// Releasing a committed reservation is a no-op
			require.NoError(t, repo.ReleaseReservation(ctx, reservation.ID))
			reloaded, err := repo.ItemByID(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(8), reloaded.StockQty)
		})

		t.Run("ReserveRollsBackWithAmbientTransaction", func(t *testing.T) {
			item, err := fixtures.CreateTestInventoryItem(10, 5000)
			require.NoError(t, err)

			sagaID := uuid.New()
			cause := errors.New("later step failed")
			err = repository.WithTransaction(ctx, testDB.DB, func(txCtx context.Context) error {
				ok, err := repo.ReserveStock(txCtx, &models.InventoryReservation{
					SagaID:          sagaID,
					EncounterID:     1,
					InventoryItemID: item.ID,
					Quantity:        4,
				})
				require.NoError(t, err)
				require.True(t, ok)
				return cause
			})
			require.ErrorIs(t, err, cause)

			// The decrement and the reservation row revert together; a
			// half-applied reserve would be invisible to compensation.
			reloaded, err := repo.ItemByID(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(10), reloaded.StockQty)

			reservations, err := repo.ReservationsBySagaID(ctx, sagaID)
			require.NoError(t, err)
			assert.Empty(t, reservations)
		})

		t.Run("ConcurrentReservesNeverOversell", func(t *testing.T) {
			item, err := fixtures.CreateTestInventoryItem(5, 5000)
			require.NoError(t, err)

			const workers = 10
			granted := make(chan bool, workers)
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					reservation := &models.InventoryReservation{
						SagaID:          uuid.New(),
						EncounterID:     1,
						InventoryItemID: item.ID,
						Quantity:        1,
					}
					ok, err := repo.ReserveStock(ctx, reservation)
					assert.NoError(t, err)
					granted <- ok
				}()
			}
			wg.Wait()
			close(granted)

			wins := 0
			for ok := range granted {
				if ok {
					wins++
				}
			}
			assert.Equal(t, 5, wins)

			reloaded, err := repo.ItemByID(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(0), reloaded.StockQty)
		})
	})
}

func TestBillingRecordRepository(t *testing.T) {
	withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		repo := repository.NewBillingRecordRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		t.Run("DeleteDraftFreesEncounterForRetry", func(t *testing.T) {
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusActive)
			require.NoError(t, err)

			draft := &models.BillingRecord{
				DisplayID:   "INV202511000800",
				EncounterID: encounter.ID,
				PatientRef:  encounter.PatientRef,
				SagaID:      uuid.New(),
				Status:      models.BillingRecordStatusDraft,
			}
			require.NoError(t, repo.Save(ctx, draft))
			require.NoError(t, repo.DeleteDraft(ctx, draft.ID))

			// The unique index on encounter_id only frees up on a real
			// delete; a retry must be able to insert a fresh record.
			replacement := &models.BillingRecord{
				DisplayID:   "INV202511000801",
				EncounterID: encounter.ID,
				PatientRef:  encounter.PatientRef,
				SagaID:      uuid.New(),
				Status:      models.BillingRecordStatusDraft,
			}
			require.NoError(t, repo.Save(ctx, replacement))
		})

		t.Run("DeleteDraftNeverRemovesIssued", func(t *testing.T) {
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusCompleted)
			require.NoError(t, err)

			issued := &models.BillingRecord{
				DisplayID:   "INV202511000802",
				EncounterID: encounter.ID,
				PatientRef:  encounter.PatientRef,
				SagaID:      uuid.New(),
				Status:      models.BillingRecordStatusIssued,
				IssuedAt:    utils.UTCNowPtr(),
			}
			require.NoError(t, repo.Save(ctx, issued))
			require.NoError(t, repo.DeleteDraft(ctx, issued.ID))

			reloaded, err := repo.ByID(ctx, issued.ID)
			require.NoError(t, err)
			require.NotNil(t, reloaded)
			assert.Equal(t, models.BillingRecordStatusIssued, reloaded.Status)
		})

		t.Run("BySagaIDScopesToOneRun", func(t *testing.T) {
			encounter, err := fixtures.CreateTestEncounter(models.EncounterStatusActive)
			require.NoError(t, err)

			sagaID := uuid.New()
			draft := &models.BillingRecord{
				DisplayID:   "INV202511000803",
				EncounterID: encounter.ID,
				PatientRef:  encounter.PatientRef,
				SagaID:      sagaID,
				Status:      models.BillingRecordStatusDraft,
			}
			require.NoError(t, repo.Save(ctx, draft))

			found, err := repo.BySagaID(ctx, sagaID)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, draft.ID, found.ID)

			missing, err := repo.BySagaID(ctx, uuid.New())
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	})
}

func TestSagaLogRepository(t *testing.T) {
	withTestDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		repo := repository.NewSagaLogRepository(testDB.DB)
		ctx := testingutil.CreateTestContext()

		t.Run("AppendAndMarkStatus", func(t *testing.T) {
			sagaID := uuid.New()
			entry := &models.SagaLog{
				SagaID:      sagaID,
				EncounterID: 1,
				Step:        models.SagaStepReserveInventory,
				Status:      models.SagaStepStatusStarted,
			}
			require.NoError(t, repo.Append(ctx, entry))

			payload, _ := json.Marshal(map[string]any{"reservation_ids": []uint{1, 2}})
			require.NoError(t, repo.MarkStatus(ctx, sagaID, models.SagaStepReserveInventory, models.SagaStepStatusDone, payload))

			entries, err := repo.BySagaID(ctx, sagaID)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, models.SagaStepStatusDone, entries[0].Status)
			assert.JSONEq(t, string(payload), string(entries[0].Payload))
		})

		t.Run("MarkStatusNilPayloadKeepsExisting", func(t *testing.T) {
			sagaID := uuid.New()
			payload, _ := json.Marshal(map[string]any{"billing_record_id": 9})
			entry := &models.SagaLog{
				SagaID:      sagaID,
				EncounterID: 2,
				Step:        models.SagaStepCreateBilling,
				Status:      models.SagaStepStatusStarted,
				Payload:     payload,
			}
			require.NoError(t, repo.Append(ctx, entry))

			require.NoError(t, repo.MarkStatus(ctx, sagaID, models.SagaStepCreateBilling, models.SagaStepStatusCompensated, nil))

			entries, err := repo.BySagaID(ctx, sagaID)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, models.SagaStepStatusCompensated, entries[0].Status)
			assert.JSONEq(t, string(payload), string(entries[0].Payload))
		})

		t.Run("ListStuckSagas", func(t *testing.T) {
			stuckID := uuid.New()
			healthyID := uuid.New()

			require.NoError(t, repo.Append(ctx, &models.SagaLog{
				SagaID:      stuckID,
				EncounterID: 3,
				Step:        models.SagaStepReserveInventory,
				Status:      models.SagaStepStatusStarted,
			}))
			require.NoError(t, repo.Append(ctx, &models.SagaLog{
				SagaID:      healthyID,
				EncounterID: 4,
				Step:        models.SagaStepReserveInventory,
				Status:      models.SagaStepStatusStarted,
			}))
			require.NoError(t, repo.MarkStatus(ctx, healthyID, models.SagaStepReserveInventory, models.SagaStepStatusDone, nil))

			// Age the stuck entry past the cutoff
			require.NoError(t, testDB.DB.Exec(
				"UPDATE saga_logs SET created_at = ? WHERE saga_id = ?",
				utils.UTCNow().Add(-time.Hour), stuckID).Error)

			stuck, err := repo.ListStuckSagas(ctx, utils.UTCNow().Add(-5*time.Minute))
			require.NoError(t, err)
			assert.Contains(t, stuck, stuckID)
			assert.NotContains(t, stuck, healthyID)
		})
	})
}
