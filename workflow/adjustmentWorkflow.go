package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/mes_backend/config"
	"github.com/mmdatafocus/mes_backend/models"
	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AdjustBatchQuantity applies a manual quantity correction to a batch: an
// append-only adjustment record with the old/new snapshot, a ledger movement
// on the backing inventory line, and an audit event, all in one transaction.
// The new quantity may not be negative and may not undercut live allocations.
func AdjustBatchQuantity(ctx context.Context, logger *logrus.Logger, batchId int, newQty decimal.Decimal, adjustmentType models.AdjustmentType, reason string) (*models.BatchQuantityAdjustment, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id missing from context")
	}
	if reason == "" {
		return nil, errors.New("adjustment reason is required")
	}
	if newQty.IsNegative() {
		return nil, utils.ErrNegativeResult
	}

	db := config.GetDB()
	var adjustment *models.BatchQuantityAdjustment
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := models.GetBatchForUpdate(tx, plantId, batchId)
		if err != nil {
			config.LogError(logger, "adjustmentWorkflow.go", "AdjustBatchQuantity", "GetBatchForUpdate", batchId, err)
			return err
		}

		allocated, err := models.GetAllocatedTotal(tx, plantId, batchId)
		if err != nil {
			return err
		}
		if newQty.LessThan(allocated) {
			return utils.ErrInsufficientAvailable
		}

		delta := newQty.Sub(batch.Quantity)
		if delta.IsZero() {
			return errors.New("new quantity equals current quantity")
		}

		now := time.Now()
		userName, _ := utils.GetUserNameFromContext(ctx)
		adjustment = &models.BatchQuantityAdjustment{
			PlantId:        plantId,
			BatchId:        batchId,
			OldQuantity:    batch.Quantity,
			NewQuantity:    newQty,
			Reason:         reason,
			AdjustmentType: adjustmentType,
			AdjustedBy:     userName,
			CorrelationId:  correlationIdFromContext(ctx),
			CreatedAt:      now,
		}
		if err := tx.Create(adjustment).Error; err != nil {
			config.LogError(logger, "adjustmentWorkflow.go", "AdjustBatchQuantity", "Create adjustment", batchId, err)
			return err
		}

		if err := tx.Model(&models.Batch{}).
			Where("plant_id = ? AND id = ?", plantId, batchId).
			Updates(map[string]interface{}{"quantity": newQty, "updated_at": now}).Error; err != nil {
			return err
		}

		// Mirror the correction on the backing inventory line so the ledger
		// still sums to the physical truth.
		if err := adjustBackingLine(ctx, tx, logger, plantId, batchId, delta, adjustment.ID); err != nil {
			return err
		}

		return models.EmitAudit(ctx, tx, plantId, models.AuditEventAdjustment, models.MovementDocAdjustment, adjustment.ID, adjustment)
	})
	if err != nil {
		return nil, err
	}
	return adjustment, nil
}

func adjustBackingLine(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, batchId int, delta decimal.Decimal, adjustmentId int) error {
	lines, err := models.GetInventoryLinesForBatch(tx, plantId, batchId)
	if err != nil {
		return err
	}
	for _, candidate := range lines {
		if candidate.State == models.InventoryStateScrapped {
			continue
		}
		line, err := models.GetInventoryLineForUpdate(tx, plantId, candidate.ID)
		if err != nil {
			return err
		}
		newLineQty := line.Quantity.Add(delta)
		if newLineQty.IsNegative() {
			return utils.ErrNegativeResult
		}
		if err := updateLine(tx, line, map[string]interface{}{
			"quantity": newLineQty,
			"version":  line.Version + 1,
		}); err != nil {
			config.LogError(logger, "adjustmentWorkflow.go", "adjustBackingLine", "updateLine", line.ID, err)
			return err
		}
		movementType := models.MovementTypeProduce
		if delta.IsNegative() {
			movementType = models.MovementTypeConsume
		}
		return appendMovement(ctx, tx, line, movementType, delta, models.MovementDocAdjustment, adjustmentId, "quantity adjustment")
	}
	// Batch with no live backing line: the adjustment record alone carries
	// the correction.
	return nil
}
