package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/parsclinic/clinic-core/models"
	"github.com/parsclinic/clinic-core/utils"
	"gorm.io/gorm"
)

// SagaLogRepositoryImpl implements SagaLogRepository interface
type SagaLogRepositoryImpl struct {
	db *gorm.DB
}

// NewSagaLogRepository creates a new saga log repository
func NewSagaLogRepository(db *gorm.DB) SagaLogRepository {
	return &SagaLogRepositoryImpl{db: db}
}

func (r *SagaLogRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

// Append writes one log entry. Entries are never updated in place except by
// MarkStatus; the log stays append-only otherwise.
func (r *SagaLogRepositoryImpl) Append(ctx context.Context, entry *models.SagaLog) error {
	db := r.getDB(ctx)
	return db.Create(entry).Error
}

// MarkStatus moves a step's recorded status forward
func (r *SagaLogRepositoryImpl) MarkStatus(ctx context.Context, sagaID uuid.UUID, step models.SagaStep, status models.SagaStepStatus, payload json.RawMessage) error {
	db := r.getDB(ctx)
	updates := map[string]any{
		"status":     status,
		"updated_at": utils.UTCNow(),
	}
	if payload != nil {
		updates["payload"] = payload
	}
	return db.Model(&models.SagaLog{}).
		Where("saga_id = ? AND step = ?", sagaID, step).
		Updates(updates).Error
}

// BySagaID returns all entries for one saga in execution order
func (r *SagaLogRepositoryImpl) BySagaID(ctx context.Context, sagaID uuid.UUID) ([]*models.SagaLog, error) {
	db := r.getDB(ctx)
	var entries []*models.SagaLog
	err := db.Where("saga_id = ?", sagaID).Order("id ASC").Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ListStuckSagas returns saga ids that still have a step in started older
// than the cutoff. Sagas whose every step reached done or compensated are
// healthy and excluded.
func (r *SagaLogRepositoryImpl) ListStuckSagas(ctx context.Context, startedBefore time.Time) ([]uuid.UUID, error) {
	db := r.getDB(ctx)
	var ids []uuid.UUID
	err := db.Model(&models.SagaLog{}).
		Distinct("saga_id").
		Where("status = ? AND created_at < ?", models.SagaStepStatusStarted, startedBefore).
		Pluck("saga_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
