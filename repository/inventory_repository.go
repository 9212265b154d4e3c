package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/parsclinic/clinic-core/models"
	"github.com/parsclinic/clinic-core/utils"
	"gorm.io/gorm"
)

// InventoryRepositoryImpl implements InventoryRepository interface
type InventoryRepositoryImpl struct {
	db *gorm.DB
}

// NewInventoryRepository creates a new inventory repository
func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &InventoryRepositoryImpl{db: db}
}

func (r *InventoryRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

// ItemByID finds an inventory item by ID
func (r *InventoryRepositoryImpl) ItemByID(ctx context.Context, id uint) (*models.InventoryItem, error) {
	db := r.getDB(ctx)
	var item models.InventoryItem
	err := db.Last(&item, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// ItemsByFilter retrieves inventory items based on filter criteria
func (r *InventoryRepositoryImpl) ItemsByFilter(ctx context.Context, filter models.InventoryItemFilter, limit, offset int) ([]*models.InventoryItem, error) {
	db := r.getDB(ctx)
	var items []*models.InventoryItem

	query := db.Model(&models.InventoryItem{})
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.TypeCode != nil {
		query = query.Where("type_code = ?", *filter.TypeCode)
	}
	if filter.Name != nil {
		query = query.Where("name ILIKE ?", "%"+*filter.Name+"%")
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SaveItem inserts a new inventory item
func (r *InventoryRepositoryImpl) SaveItem(ctx context.Context, item *models.InventoryItem) error {
	db := r.getDB(ctx)
	return db.Create(item).Error
}

// ReserveStock decrements stock and records the reservation. The decrement
// is conditional on sufficient stock in the same UPDATE that performs it,
// the same shape as the sequence allocation upsert: check and mutate are one
// statement, so concurrent reservations on the same item cannot both pass a
// stale check. Returns false without side effects when stock is short.
//
// The decrement and the reservation row must land together: a crash between
// them would leak stock that neither release nor recovery could ever find,
// since both enumerate reservation rows. Without an ambient transaction a
// dedicated one wraps the pair.
func (r *InventoryRepositoryImpl) ReserveStock(ctx context.Context, reservation *models.InventoryReservation) (bool, error) {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); !ok || tx == nil {
		var reserved bool
		err := WithTransaction(ctx, r.db, func(txCtx context.Context) error {
			var err error
			reserved, err = r.reserveStock(txCtx, reservation)
			return err
		})
		return reserved, err
	}
	return r.reserveStock(ctx, reservation)
}

func (r *InventoryRepositoryImpl) reserveStock(ctx context.Context, reservation *models.InventoryReservation) (bool, error) {
	db := r.getDB(ctx)

	res := db.Model(&models.InventoryItem{}).
		Where("id = ? AND stock_qty >= ?", reservation.InventoryItemID, reservation.Quantity).
		Updates(map[string]any{
			"stock_qty":  gorm.Expr("stock_qty - ?", reservation.Quantity),
			"updated_at": utils.UTCNow(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to decrement stock for item %d: %w", reservation.InventoryItemID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	reservation.Status = models.ReservationStatusHeld
	if err := db.Create(reservation).Error; err != nil {
		return false, fmt.Errorf("failed to record reservation for item %d: %w", reservation.InventoryItemID, err)
	}

	return true, nil
}

// ReleaseReservation restores the held quantity and marks the reservation
// released. The status guard on the reservation row makes a second release a
// no-op, so compensation retries never restore stock twice. The status flip
// and the stock restore land in one transaction; a crash between them would
// strand the quantity with the guard blocking any retry.
func (r *InventoryRepositoryImpl) ReleaseReservation(ctx context.Context, reservationID uint) error {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); !ok || tx == nil {
		return WithTransaction(ctx, r.db, func(txCtx context.Context) error {
			return r.releaseReservation(txCtx, reservationID)
		})
	}
	return r.releaseReservation(ctx, reservationID)
}

func (r *InventoryRepositoryImpl) releaseReservation(ctx context.Context, reservationID uint) error {
	db := r.getDB(ctx)

	var reservation models.InventoryReservation
	err := db.Last(&reservation, reservationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	res := db.Model(&models.InventoryReservation{}).
		Where("id = ? AND status = ?", reservationID, models.ReservationStatusHeld).
		Updates(map[string]any{
			"status":     models.ReservationStatusReleased,
			"updated_at": utils.UTCNow(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil // already released or committed
	}

	return db.Model(&models.InventoryItem{}).
		Where("id = ?", reservation.InventoryItemID).
		Updates(map[string]any{
			"stock_qty":  gorm.Expr("stock_qty + ?", reservation.Quantity),
			"updated_at": utils.UTCNow(),
		}).Error
}

// CommitReservation converts a held reservation into a permanent deduction
func (r *InventoryRepositoryImpl) CommitReservation(ctx context.Context, reservationID uint) error {
	db := r.getDB(ctx)
	return db.Model(&models.InventoryReservation{}).
		Where("id = ? AND status = ?", reservationID, models.ReservationStatusHeld).
		Updates(map[string]any{
			"status":     models.ReservationStatusCommitted,
			"updated_at": utils.UTCNow(),
		}).Error
}

// ReservationsBySagaID lists reservations created by one saga
func (r *InventoryRepositoryImpl) ReservationsBySagaID(ctx context.Context, sagaID uuid.UUID) ([]*models.InventoryReservation, error) {
	db := r.getDB(ctx)
	var reservations []*models.InventoryReservation
	err := db.Where("saga_id = ?", sagaID).Order("id ASC").Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

// ReservationsByEncounterID lists reservations for one encounter
func (r *InventoryRepositoryImpl) ReservationsByEncounterID(ctx context.Context, encounterID uint) ([]*models.InventoryReservation, error) {
	db := r.getDB(ctx)
	var reservations []*models.InventoryReservation
	err := db.Where("encounter_id = ?", encounterID).Order("id ASC").Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}
