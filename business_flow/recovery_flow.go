package businessflow

import (
	"context"
	"fmt"
	"log"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/parsclinic/clinic-core/config"
	"github.com/parsclinic/clinic-core/models"
	"github.com/parsclinic/clinic-core/repository"
	"github.com/parsclinic/clinic-core/utils"
)

// AdminNotifier reports recovery outcomes to operations staff. Implementations
// must not block the recovery pass on delivery.
type AdminNotifier interface {
	NotifySagaRecovery(ctx context.Context, sagaID uuid.UUID, encounterID uint, outcome, detail string) error
}

// RecoveryReport summarizes one pass over the compensation log
type RecoveryReport struct {
	Scanned          int `json:"scanned"`
	ForwardRecovered int `json:"forward_recovered"`
	Compensated      int `json:"compensated"`
	Failed           int `json:"failed"`
}

// RecoveryFlow resolves sagas whose newest log entry has been sitting in the
// started state past the stuck-saga age: a step began and its writer died
// before recording the outcome.
type RecoveryFlow interface {
	RecoverStuckSagas(ctx context.Context) (*RecoveryReport, error)
}

// RecoveryFlowImpl implements the recovery business flow
type RecoveryFlowImpl struct {
	sagaLogRepo   repository.SagaLogRepository
	encounterRepo repository.EncounterRepository
	billingRepo   repository.BillingRecordRepository
	inventoryRepo repository.InventoryRepository
	compensator   *sagaCompensator
	notifier      AdminNotifier
	cfg           config.WorkflowConfig
}

// NewRecoveryFlow creates a new recovery flow
func NewRecoveryFlow(
	sagaLogRepo repository.SagaLogRepository,
	encounterRepo repository.EncounterRepository,
	billingRepo repository.BillingRecordRepository,
	inventoryRepo repository.InventoryRepository,
	notifier AdminNotifier,
	cfg config.WorkflowConfig,
) RecoveryFlow {
	return &RecoveryFlowImpl{
		sagaLogRepo:   sagaLogRepo,
		encounterRepo: encounterRepo,
		billingRepo:   billingRepo,
		inventoryRepo: inventoryRepo,
		compensator: &sagaCompensator{
			encounterRepo: encounterRepo,
			billingRepo:   billingRepo,
			inventoryRepo: inventoryRepo,
			sagaLogRepo:   sagaLogRepo,
		},
		notifier: notifier,
		cfg:      cfg,
	}
}

// RecoverStuckSagas scans for sagas stuck in started and resolves each one.
// A saga whose encounter already committed is rolled forward; everything else
// is compensated. Individual failures are retried with exponential backoff
// and a failing saga never blocks the rest of the pass.
func (f *RecoveryFlowImpl) RecoverStuckSagas(ctx context.Context) (*RecoveryReport, error) {
	cutoff := utils.UTCNow().Add(-f.cfg.StuckSagaAge)
	sagaIDs, err := f.sagaLogRepo.ListStuckSagas(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck sagas: %w", err)
	}

	report := &RecoveryReport{Scanned: len(sagaIDs)}
	for _, sagaID := range sagaIDs {
		outcome, err := f.recoverWithRetry(ctx, sagaID)
		switch {
		case err != nil:
			report.Failed++
			sagaRecoveredTotal.WithLabelValues("failed").Inc()
			log.Printf("recovery: saga %s could not be resolved: %v", sagaID, err)
		case outcome == "forward":
			report.ForwardRecovered++
			sagaRecoveredTotal.WithLabelValues("forward").Inc()
		default:
			report.Compensated++
			sagaRecoveredTotal.WithLabelValues("compensated").Inc()
		}
	}
	return report, nil
}

func (f *RecoveryFlowImpl) recoverWithRetry(ctx context.Context, sagaID uuid.UUID) (string, error) {
	var outcome string

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = f.cfg.RecoveryMaxElapsed

	err := backoff.Retry(func() error {
		var err error
		outcome, err = f.recoverSaga(ctx, sagaID)
		return err
	}, backoff.WithContext(policy, ctx))

	return outcome, err
}

// recoverSaga resolves one stuck saga and notifies operations of the outcome.
func (f *RecoveryFlowImpl) recoverSaga(ctx context.Context, sagaID uuid.UUID) (string, error) {
	entries, err := f.sagaLogRepo.BySagaID(ctx, sagaID)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: saga %s has no log entries", ErrSagaIncomplete, sagaID)
	}
	encounterID := entries[0].EncounterID

	encounter, err := f.encounterRepo.ByID(ctx, encounterID)
	if err != nil {
		return "", err
	}

	// The commit transaction flips the encounter to completed as its first
	// write. A completed encounter with a stuck commit step means the commit
	// landed and only the done entry is missing: roll forward. Any other
	// shape means the saga died before its commit point: roll back.
	if encounter != nil && encounter.IsCompleted() && lastStartedStep(entries) == models.SagaStepCommitEncounter {
		if err := f.rollForward(ctx, sagaID, encounterID); err != nil {
			return "", err
		}
		f.notify(ctx, sagaID, encounterID, "forward", "commit had landed; log entries completed")
		return "forward", nil
	}

	if err := f.compensator.compensate(ctx, sagaID, encounterID); err != nil {
		return "", err
	}
	sagaCompensatedTotal.Inc()
	f.notify(ctx, sagaID, encounterID, "compensated",
		fmt.Sprintf("saga stuck at step %s; all effects rolled back", lastStartedStep(entries)))
	return "compensated", nil
}

// rollForward finishes the tail of a saga whose commit point already landed:
// issue a still-draft billing record, commit held reservations, and close the
// log.
func (f *RecoveryFlowImpl) rollForward(ctx context.Context, sagaID uuid.UUID, encounterID uint) error {
	billing, err := f.billingRepo.ByEncounterID(ctx, encounterID)
	if err != nil {
		return err
	}
	if billing != nil && billing.Status == models.BillingRecordStatusDraft {
		billing.Status = models.BillingRecordStatusIssued
		billing.IssuedAt = utils.UTCNowPtr()
		if err := f.billingRepo.Update(ctx, billing); err != nil {
			return err
		}
	}

	reservations, err := f.inventoryRepo.ReservationsBySagaID(ctx, sagaID)
	if err != nil {
		return err
	}
	for _, r := range reservations {
		if r.Status != models.ReservationStatusHeld {
			continue
		}
		if err := f.inventoryRepo.CommitReservation(ctx, r.ID); err != nil {
			return err
		}
	}

	return f.sagaLogRepo.MarkStatus(ctx, sagaID, models.SagaStepCommitEncounter, models.SagaStepStatusDone, nil)
}

func (f *RecoveryFlowImpl) notify(ctx context.Context, sagaID uuid.UUID, encounterID uint, outcome, detail string) {
	if f.notifier == nil {
		return
	}
	if err := f.notifier.NotifySagaRecovery(ctx, sagaID, encounterID, outcome, detail); err != nil {
		log.Printf("recovery: notification for saga %s failed: %v", sagaID, err)
	}
}

// lastStartedStep returns the furthest step whose recorded status is still
// started. Each step keeps a single log row that is flipped in place from
// started to done or compensated, so the status per step decides.
func lastStartedStep(entries []*models.SagaLog) models.SagaStep {
	latest := make(map[models.SagaStep]models.SagaStepStatus, 4)
	for _, e := range entries {
		latest[e.Step] = e.Status
	}

	order := []models.SagaStep{
		models.SagaStepCommitEncounter,
		models.SagaStepEstablishLinks,
		models.SagaStepCreateBilling,
		models.SagaStepReserveInventory,
	}
	for _, step := range order {
		if latest[step] == models.SagaStepStatusStarted {
			return step
		}
	}
	if len(entries) > 0 {
		return entries[len(entries)-1].Step
	}
	return ""
}
