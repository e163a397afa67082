package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/mes_backend/config"
	"github.com/mmdatafocus/mes_backend/models"
	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Every ledger operation row-locks the inventory line, appends exactly one
// immutable movement and updates the line inside the caller's transaction.
// State transitions are restricted: only AVAILABLE lines may be consumed,
// blocked or reserved; only BLOCKED lines may be released; SCRAPPED is
// terminal.

// ConsumeInventory debits a line for one confirmation. Fails with
// ErrInsufficientQuantity when the request exceeds the available balance;
// the line never goes negative.
func ConsumeInventory(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, inventoryId int, qty decimal.Decimal, docType string, docId int) (*models.InventoryLine, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("consume quantity must be positive")
	}
	line, err := models.GetInventoryLineForUpdate(tx, plantId, inventoryId)
	if err != nil {
		config.LogError(logger, "inventoryLedger.go", "ConsumeInventory", "GetInventoryLineForUpdate", inventoryId, err)
		return nil, err
	}
	if line.State != models.InventoryStateAvailable {
		return nil, fmt.Errorf("inventory line %d is %s, only AVAILABLE lines can be consumed", line.ID, line.State)
	}
	if qty.GreaterThan(line.Quantity) {
		return nil, utils.ErrInsufficientQuantity
	}

	newQty := line.Quantity.Sub(qty)
	if err := updateLine(tx, line, map[string]interface{}{
		"quantity": newQty,
		"version":  line.Version + 1,
	}); err != nil {
		config.LogError(logger, "inventoryLedger.go", "ConsumeInventory", "updateLine", line.ID, err)
		return nil, err
	}
	if err := appendMovement(ctx, tx, line, models.MovementTypeConsume, qty.Neg(), docType, docId, ""); err != nil {
		config.LogError(logger, "inventoryLedger.go", "ConsumeInventory", "appendMovement", line.ID, err)
		return nil, err
	}
	line.Quantity = newQty
	line.Version++
	return line, nil
}

// ProduceInventory credits a fresh inventory line for a newly created batch.
func ProduceInventory(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, materialId int, qty decimal.Decimal, batchId int, locationId int, docType string, docId int) (*models.InventoryLine, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("produce quantity must be positive")
	}
	now := time.Now()
	line := models.InventoryLine{
		PlantId:    plantId,
		MaterialId: materialId,
		BatchId:    &batchId,
		State:      models.InventoryStateAvailable,
		Quantity:   qty,
		LocationId: locationId,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.Create(&line).Error; err != nil {
		config.LogError(logger, "inventoryLedger.go", "ProduceInventory", "Create line", materialId, err)
		return nil, err
	}
	if err := appendMovement(ctx, tx, &line, models.MovementTypeProduce, qty, docType, docId, ""); err != nil {
		config.LogError(logger, "inventoryLedger.go", "ProduceInventory", "appendMovement", line.ID, err)
		return nil, err
	}
	return &line, nil
}

// RestoreInventory is the compensating credit used by the rejection path: it
// adds quantity back onto an existing line and returns it to AVAILABLE.
func RestoreInventory(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, inventoryId int, qty decimal.Decimal, docId int, reason string) error {
	line, err := models.GetInventoryLineForUpdate(tx, plantId, inventoryId)
	if err != nil {
		config.LogError(logger, "inventoryLedger.go", "RestoreInventory", "GetInventoryLineForUpdate", inventoryId, err)
		return err
	}
	if line.State == models.InventoryStateScrapped {
		return fmt.Errorf("inventory line %d is SCRAPPED and cannot be restored", line.ID)
	}
	if err := updateLine(tx, line, map[string]interface{}{
		"quantity": line.Quantity.Add(qty),
		"state":    models.InventoryStateAvailable,
		"version":  line.Version + 1,
	}); err != nil {
		return err
	}
	return appendMovement(ctx, tx, line, models.MovementTypeProduce, qty, models.MovementDocRejection, docId, reason)
}

// DrainInventory is the compensating debit used by the rejection path: it
// removes the produced quantity from a line created by the rejected
// confirmation.
func DrainInventory(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, inventoryId int, qty decimal.Decimal, docId int, reason string) error {
	line, err := models.GetInventoryLineForUpdate(tx, plantId, inventoryId)
	if err != nil {
		config.LogError(logger, "inventoryLedger.go", "DrainInventory", "GetInventoryLineForUpdate", inventoryId, err)
		return err
	}
	newQty := line.Quantity.Sub(qty)
	if newQty.IsNegative() {
		newQty = decimal.Zero
	}
	if err := updateLine(tx, line, map[string]interface{}{
		"quantity": newQty,
		"version":  line.Version + 1,
	}); err != nil {
		return err
	}
	return appendMovement(ctx, tx, line, models.MovementTypeConsume, qty.Neg(), models.MovementDocRejection, docId, reason)
}

// ReserveInventory marks an AVAILABLE line RESERVED (order staging).
// Reservation covers the whole line; carve off a separate line first to
// reserve part of a quantity.
func ReserveInventory(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, inventoryId int, docType string, docId int) error {
	line, err := models.GetInventoryLineForUpdate(tx, plantId, inventoryId)
	if err != nil {
		return err
	}
	if line.State != models.InventoryStateAvailable {
		return fmt.Errorf("inventory line %d is %s, only AVAILABLE lines can be reserved", line.ID, line.State)
	}
	if err := updateLine(tx, line, map[string]interface{}{
		"state":   models.InventoryStateReserved,
		"version": line.Version + 1,
	}); err != nil {
		return err
	}
	return appendMovement(ctx, tx, line, models.MovementTypeHold, decimal.Zero, docType, docId, "reserved")
}

// BlockInventory places an AVAILABLE line on hold.
func BlockInventory(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, inventoryId int, docType string, docId int, reason string) error {
	line, err := models.GetInventoryLineForUpdate(tx, plantId, inventoryId)
	if err != nil {
		return err
	}
	if line.State != models.InventoryStateAvailable {
		return fmt.Errorf("inventory line %d is %s, only AVAILABLE lines can be blocked", line.ID, line.State)
	}
	if err := updateLine(tx, line, map[string]interface{}{
		"state":   models.InventoryStateBlocked,
		"version": line.Version + 1,
	}); err != nil {
		return err
	}
	return appendMovement(ctx, tx, line, models.MovementTypeHold, decimal.Zero, docType, docId, reason)
}

// ReleaseInventory returns a BLOCKED line to AVAILABLE.
func ReleaseInventory(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, inventoryId int, docType string, docId int) error {
	line, err := models.GetInventoryLineForUpdate(tx, plantId, inventoryId)
	if err != nil {
		return err
	}
	if line.State != models.InventoryStateBlocked {
		return fmt.Errorf("inventory line %d is %s, only BLOCKED lines can be released", line.ID, line.State)
	}
	if err := updateLine(tx, line, map[string]interface{}{
		"state":   models.InventoryStateAvailable,
		"version": line.Version + 1,
	}); err != nil {
		return err
	}
	return appendMovement(ctx, tx, line, models.MovementTypeRelease, decimal.Zero, docType, docId, "")
}

// ScrapInventory terminally scraps a line. Also used for the scrap portion of
// a confirmation, where the scrapped quantity never becomes a traceable batch.
func ScrapInventory(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, inventoryId int, docType string, docId int, reason string) error {
	line, err := models.GetInventoryLineForUpdate(tx, plantId, inventoryId)
	if err != nil {
		return err
	}
	if line.State == models.InventoryStateScrapped {
		return fmt.Errorf("inventory line %d is already SCRAPPED", line.ID)
	}
	if err := updateLine(tx, line, map[string]interface{}{
		"state":   models.InventoryStateScrapped,
		"version": line.Version + 1,
	}); err != nil {
		return err
	}
	return appendMovement(ctx, tx, line, models.MovementTypeScrap, line.Quantity.Neg(), docType, docId, reason)
}

// RecordScrapMovement writes the SCRAP movement for scrap produced by a
// confirmation. No inventory line backs it: scrap is weighed and discarded.
func RecordScrapMovement(ctx context.Context, tx *gorm.DB, plantId string, materialId int, qty decimal.Decimal, docId int) error {
	movement := models.InventoryMovement{
		ID:            uuid.NewString(),
		PlantId:       plantId,
		MaterialId:    materialId,
		MovementType:  models.MovementTypeScrap,
		QtyDelta:      qty.Neg(),
		DocType:       models.MovementDocConfirmation,
		DocId:         docId,
		Reason:        "production scrap",
		CorrelationId: correlationIdFromContext(ctx),
	}
	return tx.Create(&movement).Error
}

func updateLine(tx *gorm.DB, line *models.InventoryLine, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	// Optimistic guard on version: the FOR UPDATE lock makes this a no-op in
	// practice, but a mismatch here means something bypassed the lock.
	result := tx.Model(&models.InventoryLine{}).
		Where("id = ? AND version = ?", line.ID, line.Version).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrConflict
	}
	return nil
}

func appendMovement(ctx context.Context, tx *gorm.DB, line *models.InventoryLine, movementType models.MovementType, qtyDelta decimal.Decimal, docType string, docId int, reason string) error {
	movement := models.InventoryMovement{
		ID:              uuid.NewString(),
		PlantId:         line.PlantId,
		InventoryLineId: line.ID,
		MaterialId:      line.MaterialId,
		MovementType:    movementType,
		QtyDelta:        qtyDelta,
		DocType:         docType,
		DocId:           docId,
		Reason:          reason,
		CorrelationId:   correlationIdFromContext(ctx),
	}
	return tx.Create(&movement).Error
}

func correlationIdFromContext(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
