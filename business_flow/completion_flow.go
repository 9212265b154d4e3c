package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/parsclinic/clinic-core/app/dto"
	"github.com/parsclinic/clinic-core/config"
	"github.com/parsclinic/clinic-core/models"
	"github.com/parsclinic/clinic-core/repository"
	"github.com/parsclinic/clinic-core/utils"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CompletionFlow drives a clinical encounter to its completed state: reserve
// the dispensed inventory, issue the billing record, link everything, and
// commit the status transition. Either all of it commits or none of it does.
type CompletionFlow interface {
	CompleteEncounter(ctx context.Context, req *dto.CompleteEncounterRequest, metadata *ClientMetadata) (*dto.CompleteEncounterResponse, error)
	StartEncounter(ctx context.Context, req *dto.StartEncounterRequest, metadata *ClientMetadata) (*dto.StartEncounterResponse, error)
	CancelEncounter(ctx context.Context, req *dto.CancelEncounterRequest, metadata *ClientMetadata) (*dto.CancelEncounterResponse, error)
}

// CompletionFlowImpl implements the completion business flow
type CompletionFlowImpl struct {
	encounterRepo   repository.EncounterRepository
	appointmentRepo repository.AppointmentRepository
	billingRepo     repository.BillingRecordRepository
	inventoryRepo   repository.InventoryRepository
	sagaLogRepo     repository.SagaLogRepository
	allocator       *IdentifierAllocator
	linkManager     *LinkManager
	locks           *completionLocks
	compensator     *sagaCompensator
	cfg             config.WorkflowConfig
	db              *gorm.DB
}

// NewCompletionFlow creates a new completion flow. The redis client is
// optional; without it the completion lock degrades to per-process.
func NewCompletionFlow(
	encounterRepo repository.EncounterRepository,
	appointmentRepo repository.AppointmentRepository,
	billingRepo repository.BillingRecordRepository,
	inventoryRepo repository.InventoryRepository,
	sagaLogRepo repository.SagaLogRepository,
	allocator *IdentifierAllocator,
	linkManager *LinkManager,
	rc *redis.Client,
	cfg config.WorkflowConfig,
	db *gorm.DB,
) CompletionFlow {
	return &CompletionFlowImpl{
		encounterRepo:   encounterRepo,
		appointmentRepo: appointmentRepo,
		billingRepo:     billingRepo,
		inventoryRepo:   inventoryRepo,
		sagaLogRepo:     sagaLogRepo,
		allocator:       allocator,
		linkManager:     linkManager,
		locks:           newCompletionLocks(rc),
		compensator: &sagaCompensator{
			encounterRepo: encounterRepo,
			billingRepo:   billingRepo,
			inventoryRepo: inventoryRepo,
			sagaLogRepo:   sagaLogRepo,
		},
		cfg: cfg,
		db:  db,
	}
}

// reservationPayload is the compensation data recorded for the inventory step
type reservationPayload struct {
	ReservationIDs []uint `json:"reservation_ids"`
}

// billingPayload is the compensation data recorded for the billing step
type billingPayload struct {
	BillingRecordID uint   `json:"billing_record_id"`
	DisplayID       string `json:"display_id"`
}

// CompleteEncounter performs the completion workflow. Re-invoking it on a
// completed encounter returns the existing billing record instead of failing,
// so clients can retry blindly after a timeout.
func (f *CompletionFlowImpl) CompleteEncounter(ctx context.Context, req *dto.CompleteEncounterRequest, metadata *ClientMetadata) (*dto.CompleteEncounterResponse, error) {
	if f.cfg.SagaTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.SagaTimeout)
		defer cancel()
	}

	release := f.locks.acquire(ctx, req.EncounterID)
	defer release()

	encounter, err := getEncounter(ctx, f.encounterRepo, req.EncounterID)
	if err != nil {
		return nil, err
	}

	switch encounter.Status {
	case models.EncounterStatusCompleted:
		return f.alreadyCompletedResponse(ctx, encounter)
	case models.EncounterStatusCancelled:
		return nil, NewBusinessError("ENCOUNTER_CANCELLED", "cannot complete a cancelled encounter", ErrEncounterCancelled)
	case models.EncounterStatusActive:
		// proceed
	default:
		return nil, NewBusinessError("INVALID_STATE",
			fmt.Sprintf("encounter must be active to complete, is %s", encounter.Status),
			ErrInvalidStateTransition)
	}

	// Identifier allocation happens outside any transaction. A later failure
	// discards the value; sequence gaps are acceptable, reuse is not.
	invoiceID, _, err := f.allocator.Allocate(ctx, EntityKindBilling, IdentifierContext{Date: utils.UTCNow()})
	if err != nil {
		return nil, err
	}
	identifiersAllocatedTotal.WithLabelValues(EntityKindBilling).Inc()

	subtotal, taxTotal, total := f.computeTotals(encounter.LineItems)

	if f.cfg.UseSagaCompensation {
		return f.completeWithSaga(ctx, encounter, invoiceID, subtotal, taxTotal, total)
	}
	return f.completeTransactional(ctx, encounter, invoiceID, subtotal, taxTotal, total)
}

// computeTotals prices the dispensed line items. Unit prices are stored in
// whole Tomans; the tax rate comes from configuration.
func (f *CompletionFlowImpl) computeTotals(items []models.EncounterLineItem) (subtotal, taxTotal, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, item := range items {
		line := decimal.NewFromInt(item.UnitPrice).Mul(decimal.NewFromInt(item.Quantity))
		subtotal = subtotal.Add(line)
	}
	taxRate := decimal.NewFromFloat(f.cfg.TaxRatePercent).Div(decimal.NewFromInt(100))
	taxTotal = subtotal.Mul(taxRate).Round(2)
	total = subtotal.Add(taxTotal)
	return subtotal, taxTotal, total
}

// completeTransactional runs every workflow step inside one database
// transaction. This is the default deployment mode: a single Postgres behind
// the workflow makes the saga machinery unnecessary.
func (f *CompletionFlowImpl) completeTransactional(ctx context.Context, encounter *models.Encounter, invoiceID string, subtotal, taxTotal, total decimal.Decimal) (*dto.CompleteEncounterResponse, error) {
	sagaID := uuid.New()
	var billing *models.BillingRecord

	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.reserveLineItems(txCtx, sagaID, encounter); err != nil {
			return err
		}

		var err error
		billing, err = f.createBilling(txCtx, sagaID, encounter, invoiceID, subtotal, taxTotal, total)
		if err != nil {
			return err
		}

		if err := f.establishLinks(txCtx, encounter, billing); err != nil {
			return err
		}

		return f.commitEncounter(txCtx, sagaID, encounter)
	})
	if err != nil {
		if errors.Is(err, errConcurrentCompletion) {
			return f.reloadCompleted(ctx, encounter.ID)
		}
		return nil, err
	}

	sagaCommittedTotal.Inc()
	displayID := billing.DisplayID
	return &dto.CompleteEncounterResponse{
		Message:              "Encounter completed",
		EncounterStatus:      string(models.EncounterStatusCompleted),
		BillingRecordID:      &displayID,
		IdentifiersAllocated: []string{displayID},
	}, nil
}

// completeWithSaga runs the workflow as a logged saga: each step writes a
// started entry before executing and a done entry after, and a failure
// compensates every completed step in reverse order.
func (f *CompletionFlowImpl) completeWithSaga(ctx context.Context, encounter *models.Encounter, invoiceID string, subtotal, taxTotal, total decimal.Decimal) (*dto.CompleteEncounterResponse, error) {
	sagaID := uuid.New()
	sagaStartedTotal.Inc()

	fail := func(step models.SagaStep, cause error) (*dto.CompleteEncounterResponse, error) {
		if cerr := f.compensator.compensate(ctx, sagaID, encounter.ID); cerr != nil {
			log.Printf("saga %s: compensation after failed step %s also failed: %v", sagaID, step, cerr)
			return nil, fmt.Errorf("step %s failed (%v); compensation incomplete: %w", step, cause, cerr)
		}
		sagaCompensatedTotal.Inc()
		return nil, cause
	}

	// Step 1: reserve inventory for every dispensed line item.
	if err := f.logStarted(ctx, sagaID, encounter.ID, models.SagaStepReserveInventory); err != nil {
		return nil, err
	}
	if err := f.reserveLineItems(ctx, sagaID, encounter); err != nil {
		return fail(models.SagaStepReserveInventory, err)
	}
	reservations, err := f.inventoryRepo.ReservationsBySagaID(ctx, sagaID)
	if err != nil {
		return fail(models.SagaStepReserveInventory, err)
	}
	resIDs := make([]uint, 0, len(reservations))
	for _, r := range reservations {
		resIDs = append(resIDs, r.ID)
	}
	if err := f.logDone(ctx, sagaID, models.SagaStepReserveInventory, reservationPayload{ReservationIDs: resIDs}); err != nil {
		return fail(models.SagaStepReserveInventory, err)
	}

	if err := checkDeadline(ctx); err != nil {
		return fail(models.SagaStepReserveInventory, err)
	}

	// Step 2: create the billing record as a draft.
	if err := f.logStarted(ctx, sagaID, encounter.ID, models.SagaStepCreateBilling); err != nil {
		return fail(models.SagaStepReserveInventory, err)
	}
	billing, err := f.createBilling(ctx, sagaID, encounter, invoiceID, subtotal, taxTotal, total)
	if err != nil {
		return fail(models.SagaStepCreateBilling, err)
	}
	if err := f.logDone(ctx, sagaID, models.SagaStepCreateBilling, billingPayload{BillingRecordID: billing.ID, DisplayID: billing.DisplayID}); err != nil {
		return fail(models.SagaStepCreateBilling, err)
	}

	if err := checkDeadline(ctx); err != nil {
		return fail(models.SagaStepCreateBilling, err)
	}

	// Step 3: wire the cross-entity references.
	if err := f.logStarted(ctx, sagaID, encounter.ID, models.SagaStepEstablishLinks); err != nil {
		return fail(models.SagaStepCreateBilling, err)
	}
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		return f.establishLinks(txCtx, encounter, billing)
	})
	if err != nil {
		return fail(models.SagaStepEstablishLinks, err)
	}
	if err := f.logDone(ctx, sagaID, models.SagaStepEstablishLinks, nil); err != nil {
		return fail(models.SagaStepEstablishLinks, err)
	}

	if err := checkDeadline(ctx); err != nil {
		return fail(models.SagaStepEstablishLinks, err)
	}

	// Step 4: the commit point. One small transaction flips the encounter to
	// completed, issues the billing record, and commits the reservations.
	if err := f.logStarted(ctx, sagaID, encounter.ID, models.SagaStepCommitEncounter); err != nil {
		return fail(models.SagaStepEstablishLinks, err)
	}
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		return f.commitEncounter(txCtx, sagaID, encounter)
	})
	if err != nil {
		if errors.Is(err, errConcurrentCompletion) {
			// Lost the commit race. Our own reservations and draft are
			// rolled back; the winner's committed state is untouched.
			if cerr := f.compensator.compensate(ctx, sagaID, encounter.ID); cerr != nil {
				log.Printf("saga %s: compensation after lost commit race failed: %v", sagaID, cerr)
			}
			sagaCompensatedTotal.Inc()
			return f.reloadCompleted(ctx, encounter.ID)
		}
		return fail(models.SagaStepCommitEncounter, err)
	}
	if err := f.logDone(ctx, sagaID, models.SagaStepCommitEncounter, nil); err != nil {
		// The commit already happened; a missing done entry is repaired by
		// forward recovery, not by compensation.
		log.Printf("saga %s: committed but failed to record done entry: %v", sagaID, err)
	}

	sagaCommittedTotal.Inc()
	displayID := billing.DisplayID
	return &dto.CompleteEncounterResponse{
		Message:              "Encounter completed",
		EncounterStatus:      string(models.EncounterStatusCompleted),
		BillingRecordID:      &displayID,
		IdentifiersAllocated: []string{displayID},
	}, nil
}

// errConcurrentCompletion signals that the compare-and-set status transition
// lost to another writer.
var errConcurrentCompletion = errors.New("encounter was completed concurrently")

// reserveLineItems holds stock for every line item. The decrement is a single
// conditional UPDATE per item, so two workflows dispensing different items
// never contend and two dispensing the same item serialize on the row.
func (f *CompletionFlowImpl) reserveLineItems(ctx context.Context, sagaID uuid.UUID, encounter *models.Encounter) error {
	for _, item := range encounter.LineItems {
		if item.Quantity <= 0 {
			continue
		}
		reservation := &models.InventoryReservation{
			SagaID:          sagaID,
			EncounterID:     encounter.ID,
			InventoryItemID: item.InventoryItemID,
			Quantity:        item.Quantity,
		}
		ok, err := f.inventoryRepo.ReserveStock(ctx, reservation)
		if err != nil {
			return err
		}
		if !ok {
			return &InsufficientStockError{ItemID: item.InventoryItemID, Requested: item.Quantity}
		}
	}
	return nil
}

// createBilling persists the draft billing record with the pre-allocated
// display identifier and a snapshot of the dispensed lines. The record is
// stamped with the saga id so compensation can tell its own draft apart from
// one created by a concurrent completion.
func (f *CompletionFlowImpl) createBilling(ctx context.Context, sagaID uuid.UUID, encounter *models.Encounter, invoiceID string, subtotal, taxTotal, total decimal.Decimal) (*models.BillingRecord, error) {
	lines := make([]dto.EncounterLineItemDTO, 0, len(encounter.LineItems))
	for _, item := range encounter.LineItems {
		lines = append(lines, dto.EncounterLineItemDTO{
			InventoryItemID: item.InventoryItemID,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			Description:     item.Description,
		})
	}
	snapshot, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot billing lines: %w", err)
	}

	billing := &models.BillingRecord{
		DisplayID:   invoiceID,
		EncounterID: encounter.ID,
		SagaID:      sagaID,
		PatientRef:  encounter.PatientRef,
		Subtotal:    subtotal,
		TaxTotal:    taxTotal,
		Total:       total,
		Currency:    utils.TomanCurrency,
		Lines:       snapshot,
		Status:      models.BillingRecordStatusDraft,
	}
	if err := f.billingRepo.Save(ctx, billing); err != nil {
		return nil, err
	}
	return billing, nil
}

// establishLinks points the encounter at its billing record and closes the
// scheduling record if one is linked.
func (f *CompletionFlowImpl) establishLinks(ctx context.Context, encounter *models.Encounter, billing *models.BillingRecord) error {
	encounter.BillingRecordID = &billing.ID
	if err := f.encounterRepo.Update(ctx, encounter); err != nil {
		return err
	}

	if !encounter.IsLinked() {
		return nil
	}
	appointment, err := getAppointment(ctx, f.appointmentRepo, *encounter.AppointmentID)
	if err != nil {
		return err
	}
	appointment.Status = models.AppointmentStatusClosed
	return f.appointmentRepo.Update(ctx, appointment)
}

// commitEncounter is the atomic commit point: the compare-and-set transition
// from active to completed decides the winner under concurrency, and the
// billing record and reservations become permanent in the same transaction.
func (f *CompletionFlowImpl) commitEncounter(ctx context.Context, sagaID uuid.UUID, encounter *models.Encounter) error {
	ok, err := f.encounterRepo.TransitionStatus(ctx, encounter.ID,
		models.EncounterStatusActive, models.EncounterStatusCompleted, "completion workflow committed")
	if err != nil {
		return err
	}
	if !ok {
		return errConcurrentCompletion
	}

	billing, err := f.billingRepo.ByEncounterID(ctx, encounter.ID)
	if err != nil {
		return err
	}
	if billing == nil {
		return ErrBillingRecordNotFound
	}
	billing.Status = models.BillingRecordStatusIssued
	billing.IssuedAt = utils.UTCNowPtr()
	if err := f.billingRepo.Update(ctx, billing); err != nil {
		return err
	}

	reservations, err := f.inventoryRepo.ReservationsBySagaID(ctx, sagaID)
	if err != nil {
		return err
	}
	for _, r := range reservations {
		if err := f.inventoryRepo.CommitReservation(ctx, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// alreadyCompletedResponse builds the idempotent success response for an
// encounter whose completion already committed.
func (f *CompletionFlowImpl) alreadyCompletedResponse(ctx context.Context, encounter *models.Encounter) (*dto.CompleteEncounterResponse, error) {
	resp := &dto.CompleteEncounterResponse{
		Message:              "Encounter already completed",
		EncounterStatus:      string(models.EncounterStatusCompleted),
		IdentifiersAllocated: []string{},
		AlreadyCompleted:     true,
	}
	billing, err := f.billingRepo.ByEncounterID(ctx, encounter.ID)
	if err != nil {
		return nil, err
	}
	if billing != nil {
		displayID := billing.DisplayID
		resp.BillingRecordID = &displayID
	}
	return resp, nil
}

// reloadCompleted re-reads the encounter after losing the commit race. Only a
// concurrent completion can steal the transition out of active, so anything
// other than completed here is a bug worth surfacing.
func (f *CompletionFlowImpl) reloadCompleted(ctx context.Context, encounterID uint) (*dto.CompleteEncounterResponse, error) {
	encounter, err := getEncounter(ctx, f.encounterRepo, encounterID)
	if err != nil {
		return nil, err
	}
	if !encounter.IsCompleted() {
		return nil, NewBusinessError("INVALID_STATE",
			fmt.Sprintf("lost completion race but encounter is %s", encounter.Status),
			ErrInvalidStateTransition)
	}
	return f.alreadyCompletedResponse(ctx, encounter)
}

// StartEncounter moves a checked-in encounter to active when the practitioner
// begins the visit.
func (f *CompletionFlowImpl) StartEncounter(ctx context.Context, req *dto.StartEncounterRequest, metadata *ClientMetadata) (*dto.StartEncounterResponse, error) {
	encounter, err := getEncounter(ctx, f.encounterRepo, req.EncounterID)
	if err != nil {
		return nil, err
	}
	if !encounter.CanTransitionTo(models.EncounterStatusActive) {
		return nil, NewBusinessError("INVALID_STATE",
			fmt.Sprintf("encounter must be checked in to start, is %s", encounter.Status),
			ErrInvalidStateTransition)
	}

	ok, err := f.encounterRepo.TransitionStatus(ctx, encounter.ID,
		encounter.Status, models.EncounterStatusActive, "visit started")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewBusinessError("INVALID_STATE", "encounter state changed concurrently", ErrInvalidStateTransition)
	}

	return &dto.StartEncounterResponse{
		Message:         "Encounter started",
		EncounterStatus: string(models.EncounterStatusActive),
	}, nil
}

// CancelEncounter cancels any non-completed encounter and releases held
// reservations left by an interrupted completion attempt.
func (f *CompletionFlowImpl) CancelEncounter(ctx context.Context, req *dto.CancelEncounterRequest, metadata *ClientMetadata) (*dto.CancelEncounterResponse, error) {
	release := f.locks.acquire(ctx, req.EncounterID)
	defer release()

	encounter, err := getEncounter(ctx, f.encounterRepo, req.EncounterID)
	if err != nil {
		return nil, err
	}
	if encounter.Status == models.EncounterStatusCancelled {
		return &dto.CancelEncounterResponse{
			Message:         "Encounter already cancelled",
			EncounterStatus: string(models.EncounterStatusCancelled),
		}, nil
	}
	if !encounter.CanTransitionTo(models.EncounterStatusCancelled) {
		return nil, NewBusinessError("INVALID_STATE", "completed encounters cannot be cancelled", ErrInvalidStateTransition)
	}

	reason := req.Reason
	if reason == "" {
		reason = "cancelled by operator"
	}
	ok, err := f.encounterRepo.TransitionStatus(ctx, encounter.ID, encounter.Status, models.EncounterStatusCancelled, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewBusinessError("INVALID_STATE", "encounter state changed concurrently", ErrInvalidStateTransition)
	}

	reservations, err := f.inventoryRepo.ReservationsByEncounterID(ctx, encounter.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range reservations {
		if r.Status != models.ReservationStatusHeld {
			continue
		}
		if err := f.inventoryRepo.ReleaseReservation(ctx, r.ID); err != nil {
			return nil, err
		}
	}

	return &dto.CancelEncounterResponse{
		Message:         "Encounter cancelled",
		EncounterStatus: string(models.EncounterStatusCancelled),
	}, nil
}

// logStarted appends the step's log row before it executes
func (f *CompletionFlowImpl) logStarted(ctx context.Context, sagaID uuid.UUID, encounterID uint, step models.SagaStep) error {
	return f.sagaLogRepo.Append(ctx, &models.SagaLog{
		SagaID:      sagaID,
		EncounterID: encounterID,
		Step:        step,
		Status:      models.SagaStepStatusStarted,
	})
}

// logDone flips the step's row to done, recording compensation data when the
// step produced any.
func (f *CompletionFlowImpl) logDone(ctx context.Context, sagaID uuid.UUID, step models.SagaStep, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal saga payload: %w", err)
		}
	}
	return f.sagaLogRepo.MarkStatus(ctx, sagaID, step, models.SagaStepStatusDone, raw)
}

// sagaCompensator undoes the effects of an incomplete saga in reverse step
// order. Every undo is idempotent, so compensating twice (an in-line failure
// path racing the recovery pass) is harmless.
type sagaCompensator struct {
	encounterRepo repository.EncounterRepository
	billingRepo   repository.BillingRecordRepository
	inventoryRepo repository.InventoryRepository
	sagaLogRepo   repository.SagaLogRepository
}

func (c *sagaCompensator) compensate(ctx context.Context, sagaID uuid.UUID, encounterID uint) error {
	// The draft is resolved through the saga's own id, never through the
	// encounter. Two completions of the same encounter can overlap across
	// processes, and an encounter-scoped lookup here would let the losing
	// run delete the winning run's in-flight draft.
	billing, err := c.billingRepo.BySagaID(ctx, sagaID)
	if err != nil {
		return err
	}
	if billing != nil && billing.Status != models.BillingRecordStatusDraft {
		billing = nil // issued records are never touched here
	}

	// Undo links: drop the encounter's billing reference if it points at the
	// draft about to be deleted.
	encounter, err := c.encounterRepo.ByID(ctx, encounterID)
	if err != nil {
		return err
	}
	if encounter != nil && encounter.BillingRecordID != nil && billing != nil && *encounter.BillingRecordID == billing.ID {
		encounter.BillingRecordID = nil
		if err := c.encounterRepo.Update(ctx, encounter); err != nil {
			return err
		}
	}
	if err := c.sagaLogRepo.MarkStatus(ctx, sagaID, models.SagaStepEstablishLinks, models.SagaStepStatusCompensated, nil); err != nil {
		return err
	}

	// Undo billing: this saga's draft is removed.
	if billing != nil {
		if err := c.billingRepo.DeleteDraft(ctx, billing.ID); err != nil {
			return err
		}
	}
	if err := c.sagaLogRepo.MarkStatus(ctx, sagaID, models.SagaStepCreateBilling, models.SagaStepStatusCompensated, nil); err != nil {
		return err
	}

	// Undo reservations: release everything still held for this saga.
	reservations, err := c.inventoryRepo.ReservationsBySagaID(ctx, sagaID)
	if err != nil {
		return err
	}
	for _, r := range reservations {
		if r.Status != models.ReservationStatusHeld {
			continue
		}
		if err := c.inventoryRepo.ReleaseReservation(ctx, r.ID); err != nil {
			return err
		}
	}
	return c.sagaLogRepo.MarkStatus(ctx, sagaID, models.SagaStepReserveInventory, models.SagaStepStatusCompensated, nil)
}
