package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InventoryItem is one dispensable stock line. StockQty is only ever mutated
// through the repository's conditional decrement/increment statements; two
// sagas touching different items never contend.
type InventoryItem struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID     uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	DisplayID string `gorm:"type:varchar(32);uniqueIndex" json:"display_id"` // e.g. MED0001
	TypeCode string `gorm:"type:varchar(3);not null;index" json:"type_code"` // 3-letter device/item type
	Name     string `gorm:"type:varchar(128);not null" json:"name"`
	StockQty int64  `gorm:"not null;default:0" json:"stock_qty"`
	UnitPrice int64 `gorm:"not null;default:0" json:"unit_price"` // Tomans

	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (InventoryItem) TableName() string { return "inventory_items" }

// BeforeCreate ensures the UUID is set
func (i *InventoryItem) BeforeCreate(tx *gorm.DB) error {
	if i.UUID == uuid.Nil {
		i.UUID = uuid.New()
	}
	return nil
}

// ReservationStatus represents the lifecycle of an inventory reservation
type ReservationStatus string

const (
	ReservationStatusHeld      ReservationStatus = "held"      // Stock decremented, saga in flight
	ReservationStatusCommitted ReservationStatus = "committed" // Saga committed; deduction permanent
	ReservationStatusReleased  ReservationStatus = "released"  // Compensated; stock restored
)

// InventoryReservation records one held quantity for an in-flight or
// committed completion saga.
type InventoryReservation struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID            uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	SagaID          uuid.UUID `gorm:"type:uuid;index;not null" json:"saga_id"`
	EncounterID     uint      `gorm:"not null;index" json:"encounter_id"`
	InventoryItemID uint      `gorm:"not null;index" json:"inventory_item_id"`
	Quantity        int64     `gorm:"not null" json:"quantity"`

	Status    ReservationStatus `gorm:"type:varchar(10);not null;default:'held';index" json:"status"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (InventoryReservation) TableName() string { return "inventory_reservations" }

// BeforeCreate ensures the UUID is set
func (r *InventoryReservation) BeforeCreate(tx *gorm.DB) error {
	if r.UUID == uuid.Nil {
		r.UUID = uuid.New()
	}
	return nil
}

// InventoryItemFilter represents filter criteria for inventory item queries
type InventoryItemFilter struct {
	ID       *uint   `json:"id,omitempty"`
	TypeCode *string `json:"type_code,omitempty"`
	Name     *string `json:"name,omitempty"`
}

// InventoryReservationFilter represents filter criteria for reservation queries
type InventoryReservationFilter struct {
	ID          *uint              `json:"id,omitempty"`
	SagaID      *uuid.UUID         `json:"saga_id,omitempty"`
	EncounterID *uint              `json:"encounter_id,omitempty"`
	Status      *ReservationStatus `json:"status,omitempty"`
}
