package models

import "time"

// ResetPeriod describes how a counter's scope key is time-bucketed.
// The bucket is embedded in the scope key itself, so counters never need an
// in-place reset; a new period simply starts a new row.
type ResetPeriod string

const (
	ResetPeriodNone    ResetPeriod = "none"
	ResetPeriodDaily   ResetPeriod = "daily"
	ResetPeriodMonthly ResetPeriod = "monthly"
	ResetPeriodYearly  ResetPeriod = "yearly"
)

// SequenceCounter stores the high-water mark for one scope key.
// CurrentValue never decreases; increments are performed as a single atomic
// upsert statement in the repository layer.
type SequenceCounter struct {
	ScopeKey     string      `gorm:"primaryKey;size:64" json:"scope_key"`
	CurrentValue int64       `gorm:"not null;default:0" json:"current_value"`
	ResetPeriod  ResetPeriod `gorm:"type:varchar(10);not null;default:'none'" json:"reset_period"`
	CreatedAt    time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (SequenceCounter) TableName() string { return "sequence_counters" }

// SequenceCounterFilter represents filter criteria for counter queries
type SequenceCounterFilter struct {
	ScopeKey      *string      `json:"scope_key,omitempty"`
	ScopePrefix   *string      `json:"scope_prefix,omitempty"`
	ResetPeriod   *ResetPeriod `json:"reset_period,omitempty"`
	UpdatedBefore *time.Time   `json:"updated_before,omitempty"`
}
