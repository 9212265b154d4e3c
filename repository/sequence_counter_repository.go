package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parsclinic/clinic-core/models"
	"gorm.io/gorm"
)

// SequenceCounterRepositoryImpl implements SequenceCounterRepository interface
type SequenceCounterRepositoryImpl struct {
	db *gorm.DB
}

// NewSequenceCounterRepository creates a new sequence counter repository
func NewSequenceCounterRepository(db *gorm.DB) SequenceCounterRepository {
	return &SequenceCounterRepositoryImpl{db: db}
}

func (r *SequenceCounterRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

// Next allocates the next value for a scope key. The upsert creates the row
// on first use and increments it afterwards, all in one statement, so two
// concurrent first-callers cannot double-create the counter and two
// concurrent increments cannot observe the same value. There is deliberately
// no read-then-write fallback: if this statement fails the allocation fails.
func (r *SequenceCounterRepositoryImpl) Next(ctx context.Context, scopeKey string, resetPeriod models.ResetPeriod) (int64, error) {
	if scopeKey == "" {
		return 0, fmt.Errorf("scope key is empty")
	}

	db := r.getDB(ctx)

	var value int64
	err := db.Raw(`
		INSERT INTO sequence_counters (scope_key, current_value, reset_period, created_at, updated_at)
		VALUES (?, 1, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (scope_key) DO UPDATE
		SET current_value = sequence_counters.current_value + 1,
			updated_at = CURRENT_TIMESTAMP
		RETURNING current_value`,
		scopeKey, string(resetPeriod)).Scan(&value).Error
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence value for scope %s: %w", scopeKey, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("no sequence value returned for scope %s", scopeKey)
	}

	return value, nil
}

// Get returns the counter row for a scope key, nil when it was never used
func (r *SequenceCounterRepositoryImpl) Get(ctx context.Context, scopeKey string) (*models.SequenceCounter, error) {
	db := r.getDB(ctx)
	var counter models.SequenceCounter
	err := db.Where("scope_key = ?", scopeKey).First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &counter, nil
}

// PurgeExpired deletes time-bucketed counters not touched since the cutoff.
// Counters with reset period none are retained forever.
func (r *SequenceCounterRepositoryImpl) PurgeExpired(ctx context.Context, updatedBefore time.Time) (int64, error) {
	db := r.getDB(ctx)
	res := db.Where("reset_period IN ? AND updated_at < ?",
		[]string{string(models.ResetPeriodDaily), string(models.ResetPeriodMonthly)}, updatedBefore).
		Delete(&models.SequenceCounter{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
