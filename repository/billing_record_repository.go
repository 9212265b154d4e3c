package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/parsclinic/clinic-core/models"
	"gorm.io/gorm"
)

// BillingRecordRepositoryImpl implements BillingRecordRepository interface
type BillingRecordRepositoryImpl struct {
	*BaseRepository[models.BillingRecord, models.BillingRecordFilter]
}

// NewBillingRecordRepository creates a new billing record repository
func NewBillingRecordRepository(db *gorm.DB) BillingRecordRepository {
	return &BillingRecordRepositoryImpl{
		BaseRepository: NewBaseRepository[models.BillingRecord, models.BillingRecordFilter](db),
	}
}

// ByDisplayID finds a billing record by its display identifier
func (r *BillingRecordRepositoryImpl) ByDisplayID(ctx context.Context, displayID string) (*models.BillingRecord, error) {
	db := r.getDB(ctx)
	var record models.BillingRecord
	err := db.Where("display_id = ?", displayID).Last(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ByEncounterID finds the billing record for an encounter. The unique index
// on encounter_id guarantees at most one row exists.
func (r *BillingRecordRepositoryImpl) ByEncounterID(ctx context.Context, encounterID uint) (*models.BillingRecord, error) {
	db := r.getDB(ctx)
	var record models.BillingRecord
	err := db.Where("encounter_id = ?", encounterID).Last(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// BySagaID finds the record created by one workflow run
func (r *BillingRecordRepositoryImpl) BySagaID(ctx context.Context, sagaID uuid.UUID) (*models.BillingRecord, error) {
	db := r.getDB(ctx)
	var record models.BillingRecord
	err := db.Where("saga_id = ?", sagaID).Last(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Update persists changes to a billing record
func (r *BillingRecordRepositoryImpl) Update(ctx context.Context, record *models.BillingRecord) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	err = db.Save(record).Error
	return err
}

// DeleteDraft removes a draft billing record during compensation. The status
// guard means an already-issued record can never be deleted by a stale
// compensation run. The delete is unscoped: a soft-deleted row would keep
// occupying the unique index on encounter_id and block every retry of the
// completion.
func (r *BillingRecordRepositoryImpl) DeleteDraft(ctx context.Context, id uint) error {
	db := r.getDB(ctx)
	res := db.Unscoped().
		Where("id = ? AND status = ?", id, models.BillingRecordStatusDraft).
		Delete(&models.BillingRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete draft billing record %d: %w", id, res.Error)
	}
	return nil
}

// ByFilter retrieves billing records based on filter criteria
func (r *BillingRecordRepositoryImpl) ByFilter(ctx context.Context, filter models.BillingRecordFilter, orderBy string, limit, offset int) ([]*models.BillingRecord, error) {
	db := r.getDB(ctx)
	var records []*models.BillingRecord

	query := db.Model(&models.BillingRecord{})
	query = r.applyFilter(query, filter)

	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of billing records matching the filter
func (r *BillingRecordRepositoryImpl) Count(ctx context.Context, filter models.BillingRecordFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64

	query := db.Model(&models.BillingRecord{})
	query = r.applyFilter(query, filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any billing record matching the filter exists
func (r *BillingRecordRepositoryImpl) Exists(ctx context.Context, filter models.BillingRecordFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyFilter applies the filter to the query
func (r *BillingRecordRepositoryImpl) applyFilter(query *gorm.DB, filter models.BillingRecordFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.DisplayID != nil {
		query = query.Where("display_id = ?", *filter.DisplayID)
	}
	if filter.EncounterID != nil {
		query = query.Where("encounter_id = ?", *filter.EncounterID)
	}
	if filter.PatientRef != nil {
		query = query.Where("patient_ref = ?", *filter.PatientRef)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	return query
}
