package repository

import (
	"context"
	"errors"

	"github.com/parsclinic/clinic-core/models"
	"github.com/parsclinic/clinic-core/utils"
	"gorm.io/gorm"
)

// AppointmentRepositoryImpl implements AppointmentRepository interface
type AppointmentRepositoryImpl struct {
	*BaseRepository[models.Appointment, models.AppointmentFilter]
}

// NewAppointmentRepository creates a new appointment repository
func NewAppointmentRepository(db *gorm.DB) AppointmentRepository {
	return &AppointmentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Appointment, models.AppointmentFilter](db),
	}
}

// ByUUID finds an appointment by UUID
func (r *AppointmentRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Appointment, error) {
	db := r.getDB(ctx)
	var appointment models.Appointment
	err := db.Where("uuid = ?", uuid).Last(&appointment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &appointment, nil
}

// ByEncounterID finds the appointment referencing the given encounter
func (r *AppointmentRepositoryImpl) ByEncounterID(ctx context.Context, encounterID uint) (*models.Appointment, error) {
	db := r.getDB(ctx)
	var appointment models.Appointment
	err := db.Where("encounter_id = ?", encounterID).Last(&appointment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &appointment, nil
}

// Update persists changes to an appointment
func (r *AppointmentRepositoryImpl) Update(ctx context.Context, appointment *models.Appointment) error {
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

	err = db.Save(appointment).Error
	return err
}

// SetEncounterRef updates only the forward link column
func (r *AppointmentRepositoryImpl) SetEncounterRef(ctx context.Context, appointmentID uint, encounterID *uint) error {
	db := r.getDB(ctx)
	return db.Model(&models.Appointment{}).
		Where("id = ?", appointmentID).
		Updates(map[string]any{
			"encounter_id": encounterID,
			"updated_at":   utils.UTCNow(),
		}).Error
}

// ByFilter retrieves appointments based on filter criteria
func (r *AppointmentRepositoryImpl) ByFilter(ctx context.Context, filter models.AppointmentFilter, orderBy string, limit, offset int) ([]*models.Appointment, error) {
	db := r.getDB(ctx)
	var appointments []*models.Appointment

	query := db.Model(&models.Appointment{})
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

	err := query.Find(&appointments).Error
	if err != nil {
		return nil, err
	}
	return appointments, nil
}

// Count returns the number of appointments matching the filter
func (r *AppointmentRepositoryImpl) Count(ctx context.Context, filter models.AppointmentFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64

	query := db.Model(&models.Appointment{})
	query = r.applyFilter(query, filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any appointment matching the filter exists
func (r *AppointmentRepositoryImpl) Exists(ctx context.Context, filter models.AppointmentFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyFilter applies the filter to the query
func (r *AppointmentRepositoryImpl) applyFilter(query *gorm.DB, filter models.AppointmentFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.PatientRef != nil {
		query = query.Where("patient_ref = ?", *filter.PatientRef)
	}
	if filter.EncounterID != nil {
		query = query.Where("encounter_id = ?", *filter.EncounterID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ScheduledAfter != nil {
		query = query.Where("scheduled_at > ?", *filter.ScheduledAfter)
	}
	if filter.ScheduledBefore != nil {
		query = query.Where("scheduled_at < ?", *filter.ScheduledBefore)
	}
	return query
}
