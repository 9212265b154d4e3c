package repository

import (
	"context"
	"errors"

	"github.com/parsclinic/clinic-core/models"
	"github.com/parsclinic/clinic-core/utils"
	"gorm.io/gorm"
)

// EncounterRepositoryImpl implements EncounterRepository interface
type EncounterRepositoryImpl struct {
	*BaseRepository[models.Encounter, models.EncounterFilter]
}

// NewEncounterRepository creates a new encounter repository
func NewEncounterRepository(db *gorm.DB) EncounterRepository {
	return &EncounterRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Encounter, models.EncounterFilter](db),
	}
}

// ByUUID finds an encounter by UUID
func (r *EncounterRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Encounter, error) {
	db := r.getDB(ctx)
	var encounter models.Encounter
	err := db.Where("uuid = ?", uuid).Last(&encounter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &encounter, nil
}

// ByIDWithLineItems loads an encounter together with its dispensable items
func (r *EncounterRepositoryImpl) ByIDWithLineItems(ctx context.Context, id uint) (*models.Encounter, error) {
	db := r.getDB(ctx)
	var encounter models.Encounter
	err := db.Preload("LineItems").Last(&encounter, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &encounter, nil
}

// ByAppointmentID finds the encounter referencing the given appointment
func (r *EncounterRepositoryImpl) ByAppointmentID(ctx context.Context, appointmentID uint) (*models.Encounter, error) {
	db := r.getDB(ctx)
	var encounter models.Encounter
	err := db.Where("appointment_id = ?", appointmentID).Last(&encounter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &encounter, nil
}

// Update persists changes to an encounter
func (r *EncounterRepositoryImpl) Update(ctx context.Context, encounter *models.Encounter) error {
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

	err = db.Save(encounter).Error
	return err
}

// SetAppointmentRef updates only the backward link column
func (r *EncounterRepositoryImpl) SetAppointmentRef(ctx context.Context, encounterID uint, appointmentID *uint) error {
	db := r.getDB(ctx)
	return db.Model(&models.Encounter{}).
		Where("id = ?", encounterID).
		Updates(map[string]any{
			"appointment_id": appointmentID,
			"updated_at":     utils.UTCNow(),
		}).Error
}

// TransitionStatus performs a compare-and-set status change. The WHERE clause
// carries the expected status so a concurrent transition loses cleanly
// instead of overwriting.
func (r *EncounterRepositoryImpl) TransitionStatus(ctx context.Context, encounterID uint, expected, target models.EncounterStatus, reason string) (bool, error) {
	db := r.getDB(ctx)
	updates := map[string]any{
		"status":        target,
		"status_reason": reason,
		"updated_at":    utils.UTCNow(),
	}
	if target == models.EncounterStatusCompleted {
		updates["completed_at"] = utils.UTCNow()
	}
	res := db.Model(&models.Encounter{}).
		Where("id = ? AND status = ?", encounterID, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ByFilter retrieves encounters based on filter criteria
func (r *EncounterRepositoryImpl) ByFilter(ctx context.Context, filter models.EncounterFilter, orderBy string, limit, offset int) ([]*models.Encounter, error) {
	db := r.getDB(ctx)
	var encounters []*models.Encounter

	query := db.Model(&models.Encounter{})
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

	err := query.Find(&encounters).Error
	if err != nil {
		return nil, err
	}
	return encounters, nil
}

// Count returns the number of encounters matching the filter
func (r *EncounterRepositoryImpl) Count(ctx context.Context, filter models.EncounterFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64

	query := db.Model(&models.Encounter{})
	query = r.applyFilter(query, filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any encounter matching the filter exists
func (r *EncounterRepositoryImpl) Exists(ctx context.Context, filter models.EncounterFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyFilter applies the filter to the query
func (r *EncounterRepositoryImpl) applyFilter(query *gorm.DB, filter models.EncounterFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.PatientRef != nil {
		query = query.Where("patient_ref = ?", *filter.PatientRef)
	}
	if filter.AppointmentID != nil {
		query = query.Where("appointment_id = ?", *filter.AppointmentID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}
