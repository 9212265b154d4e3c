// Package testing provides test utilities and database setup for testing the clinic workflow service
package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/parsclinic/clinic-core/models"
	"github.com/parsclinic/clinic-core/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestAppointment creates a booked appointment scheduled for today
func (tf *TestFixtures) CreateTestAppointment() (*models.Appointment, error) {
	appointment := &models.Appointment{
		DisplayID:       fmt.Sprintf("APT%s%04d", utils.UTCNow().Format("20060102"), rand.Intn(10000)),
		PatientRef:      fmt.Sprintf("patient-%06d", rand.Intn(1000000)),
		PractitionerRef: "dr-ahmadi",
		ScheduledAt:     utils.UTCNow().Add(time.Hour),
		Status:          models.AppointmentStatusBooked,
	}

	if err := tf.DB.DB.Create(appointment).Error; err != nil {
		return nil, fmt.Errorf("failed to create test appointment: %w", err)
	}

	return appointment, nil
}

// CreateTestEncounter creates an encounter in the given status with no line items
func (tf *TestFixtures) CreateTestEncounter(status models.EncounterStatus) (*models.Encounter, error) {
	encounter := &models.Encounter{
		DisplayID:       fmt.Sprintf("ENC%s%04d", utils.UTCNow().Format("20060102"), rand.Intn(10000)),
		PatientRef:      fmt.Sprintf("patient-%06d", rand.Intn(1000000)),
		PractitionerRef: "dr-ahmadi",
		Status:          status,
	}
	if status == models.EncounterStatusCheckedIn || status == models.EncounterStatusActive {
		encounter.CheckedInAt = utils.UTCNowPtr()
	}

	if err := tf.DB.DB.Create(encounter).Error; err != nil {
		return nil, fmt.Errorf("failed to create test encounter: %w", err)
	}

	return encounter, nil
}

// CreateTestInventoryItem creates a stock line with the given quantity and unit price
func (tf *TestFixtures) CreateTestInventoryItem(stockQty, unitPrice int64) (*models.InventoryItem, error) {
	item := &models.InventoryItem{
		DisplayID: fmt.Sprintf("MED%04d", rand.Intn(10000)),
		TypeCode:  "MED",
		Name:      fmt.Sprintf("Test Item %d", rand.Intn(100000)),
		StockQty:  stockQty,
		UnitPrice: unitPrice,
	}

	if err := tf.DB.DB.Create(item).Error; err != nil {
		return nil, fmt.Errorf("failed to create test inventory item: %w", err)
	}

	return item, nil
}

// AddLineItem attaches a line item to an encounter
func (tf *TestFixtures) AddLineItem(encounterID, inventoryItemID uint, quantity, unitPrice int64) (*models.EncounterLineItem, error) {
	item := &models.EncounterLineItem{
		EncounterID:     encounterID,
		InventoryItemID: inventoryItemID,
		Quantity:        quantity,
		UnitPrice:       unitPrice,
		Description:     "test dispensed item",
	}

	if err := tf.DB.DB.Create(item).Error; err != nil {
		return nil, fmt.Errorf("failed to create test line item: %w", err)
	}

	return item, nil
}

// CreateLinkedPair creates a checked-in appointment and its encounter with
// both link references set, the state check-in leaves behind.
func (tf *TestFixtures) CreateLinkedPair() (*models.Appointment, *models.Encounter, error) {
	appointment, err := tf.CreateTestAppointment()
	if err != nil {
		return nil, nil, err
	}

	encounter, err := tf.CreateTestEncounter(models.EncounterStatusCheckedIn)
	if err != nil {
		return nil, nil, err
	}
	encounter.PatientRef = appointment.PatientRef

	appointment.Status = models.AppointmentStatusCheckedIn
	appointment.EncounterID = &encounter.ID
	encounter.AppointmentID = &appointment.ID

	if err := tf.DB.DB.Save(appointment).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to link test appointment: %w", err)
	}
	if err := tf.DB.DB.Save(encounter).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to link test encounter: %w", err)
	}

	return appointment, encounter, nil
}

// CreateActiveEncounterWithStock creates an active encounter carrying one
// line item backed by an inventory item with the given stock.
func (tf *TestFixtures) CreateActiveEncounterWithStock(stockQty, quantity, unitPrice int64) (*models.Encounter, *models.InventoryItem, error) {
	encounter, err := tf.CreateTestEncounter(models.EncounterStatusActive)
	if err != nil {
		return nil, nil, err
	}

	item, err := tf.CreateTestInventoryItem(stockQty, unitPrice)
	if err != nil {
		return nil, nil, err
	}

	if _, err := tf.AddLineItem(encounter.ID, item.ID, quantity, unitPrice); err != nil {
		return nil, nil, err
	}

	// Reload with line items
	if err := tf.DB.DB.Preload("LineItems").First(encounter, encounter.ID).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to reload test encounter: %w", err)
	}

	return encounter, item, nil
}
