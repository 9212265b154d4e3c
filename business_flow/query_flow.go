package businessflow

import (
	"context"
	"time"

	"github.com/parsclinic/clinic-core/app/dto"
	"github.com/parsclinic/clinic-core/repository"
)

// QueryFlow serves the read side: encounter and billing lookups for the API.
type QueryFlow interface {
	GetEncounter(ctx context.Context, encounterID uint) (*dto.EncounterDTO, error)
	GetBillingRecord(ctx context.Context, displayID string) (*dto.BillingRecordDTO, error)
}

// QueryFlowImpl implements the query business flow
type QueryFlowImpl struct {
	encounterRepo repository.EncounterRepository
	billingRepo   repository.BillingRecordRepository
}

// NewQueryFlow creates a new query flow
func NewQueryFlow(
	encounterRepo repository.EncounterRepository,
	billingRepo repository.BillingRecordRepository,
) QueryFlow {
	return &QueryFlowImpl{
		encounterRepo: encounterRepo,
		billingRepo:   billingRepo,
	}
}

// GetEncounter returns one encounter with its line items
func (f *QueryFlowImpl) GetEncounter(ctx context.Context, encounterID uint) (*dto.EncounterDTO, error) {
	encounter, err := getEncounter(ctx, f.encounterRepo, encounterID)
	if err != nil {
		return nil, err
	}

	lineItems := make([]dto.EncounterLineItemDTO, 0, len(encounter.LineItems))
	for _, item := range encounter.LineItems {
		lineItems = append(lineItems, dto.EncounterLineItemDTO{
			InventoryItemID: item.InventoryItemID,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			Description:     item.Description,
		})
	}

	return &dto.EncounterDTO{
		ID:              encounter.ID,
		UUID:            encounter.UUID.String(),
		DisplayID:       encounter.DisplayID,
		PatientRef:      encounter.PatientRef,
		Status:          string(encounter.Status),
		AppointmentID:   encounter.AppointmentID,
		BillingRecordID: encounter.BillingRecordID,
		LineItems:       lineItems,
		CreatedAt:       encounter.CreatedAt.Format(time.RFC3339),
	}, nil
}

// GetBillingRecord returns one billing record by its display identifier
func (f *QueryFlowImpl) GetBillingRecord(ctx context.Context, displayID string) (*dto.BillingRecordDTO, error) {
	billing, err := f.billingRepo.ByDisplayID(ctx, displayID)
	if err != nil {
		return nil, err
	}
	if billing == nil {
		return nil, ErrBillingRecordNotFound
	}

	out := &dto.BillingRecordDTO{
		ID:          billing.ID,
		UUID:        billing.UUID.String(),
		DisplayID:   billing.DisplayID,
		EncounterID: billing.EncounterID,
		Subtotal:    billing.Subtotal.StringFixed(2),
		TaxTotal:    billing.TaxTotal.StringFixed(2),
		Total:       billing.Total.StringFixed(2),
		Currency:    billing.Currency,
		Status:      string(billing.Status),
	}
	if billing.IssuedAt != nil {
		out.IssuedAt = billing.IssuedAt.Format(time.RFC3339)
	}
	return out, nil
}
