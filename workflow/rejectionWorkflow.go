package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/mes_backend/config"
	"github.com/mmdatafocus/mes_backend/models"
	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RejectConfirmation reverses a confirmed posting with compensating ledger
// entries. Nothing is deleted: consumed lines are credited back to AVAILABLE,
// produced lines are drained, the output batches flip to CONSUMED and the
// operation returns to READY so a corrected confirmation can be posted.
func RejectConfirmation(ctx context.Context, logger *logrus.Logger, confirmationId int, reason string) (*models.ProductionConfirmation, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id missing from context")
	}
	if reason == "" {
		return nil, errors.New("rejection reason is required")
	}

	db := config.GetDB()
	var confirmation *models.ProductionConfirmation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		confirmation, txErr = postRejection(ctx, tx, logger, plantId, confirmationId, reason)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	config.ConfirmationsTotal.WithLabelValues("rejected").Inc()
	return confirmation, nil
}

func postRejection(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, confirmationId int, reason string) (*models.ProductionConfirmation, error) {
	confirmation, err := models.GetConfirmation(tx, plantId, confirmationId)
	if err != nil {
		config.LogError(logger, "rejectionWorkflow.go", "postRejection", "GetConfirmation", confirmationId, err)
		return nil, err
	}

	// Same serialization point as the confirmation itself.
	if err := AcquireOperationPostingLock(tx, plantId, confirmation.OperationId); err != nil {
		return nil, err
	}
	defer ReleaseOperationPostingLock(tx, plantId, confirmation.OperationId)

	// Re-read the header under lock; a concurrent rejection may have won.
	var header models.ProductionConfirmation
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ? AND id = ?", plantId, confirmationId).
		First(&header).Error; err != nil {
		return nil, err
	}
	if header.Status == models.ConfirmationStatusRejected {
		return nil, fmt.Errorf("confirmation %d is already rejected", confirmationId)
	}

	// Credit every consumed quantity back. The compensating movement carries
	// the RJ doc type so the ledger reads as reversal, not as new production.
	for _, line := range confirmation.ConsumedLines {
		if err := RestoreInventory(ctx, tx, logger, plantId, line.InventoryLineId, line.Quantity, confirmationId, reason); err != nil {
			config.LogError(logger, "rejectionWorkflow.go", "postRejection", "RestoreInventory", line.InventoryLineId, err)
			return nil, err
		}
	}

	// Drain what the confirmation produced and retire the batches. The batch
	// rows and genealogy edges stay for traceability.
	for _, line := range confirmation.OutputLines {
		if line.Kind != models.OutputLineKindOutput || line.BatchId == nil {
			continue
		}
		backing, err := models.GetInventoryLinesForBatch(tx, plantId, *line.BatchId)
		if err != nil {
			return nil, err
		}
		for _, inv := range backing {
			if inv.Quantity.IsPositive() {
				if err := DrainInventory(ctx, tx, logger, plantId, inv.ID, inv.Quantity, confirmationId, reason); err != nil {
					config.LogError(logger, "rejectionWorkflow.go", "postRejection", "DrainInventory", inv.ID, err)
					return nil, err
				}
			}
		}
		if err := tx.Model(&models.Batch{}).
			Where("plant_id = ? AND id = ?", plantId, *line.BatchId).
			Updates(map[string]interface{}{"status": models.BatchStatusConsumed, "updated_at": time.Now()}).Error; err != nil {
			return nil, err
		}
	}

	now := time.Now()
	if err := tx.Model(&models.ProductionConfirmation{}).
		Where("plant_id = ? AND id = ?", plantId, confirmationId).
		Updates(map[string]interface{}{
			"status":          models.ConfirmationStatusRejected,
			"rejected_reason": reason,
			"rejected_at":     now,
			"updated_at":      now,
		}).Error; err != nil {
		return nil, err
	}

	operation, err := models.GetOperationForUpdate(tx, plantId, confirmation.OperationId)
	if err != nil {
		return nil, err
	}
	if operation.Status == models.OperationStatusConfirmed {
		if err := TransitionOperation(tx, operation, models.OperationStatusReady); err != nil {
			return nil, err
		}
	}
	// A completed process reopens when one of its confirmations falls.
	if err := tx.Model(&models.Process{}).
		Where("plant_id = ? AND id = ? AND status = ?", plantId, operation.ProcessId, models.ProcessStatusCompleted).
		Updates(map[string]interface{}{"status": models.ProcessStatusInProgress, "updated_at": now}).Error; err != nil {
		return nil, err
	}

	if err := models.EmitAudit(ctx, tx, plantId, models.AuditEventRejection, models.MovementDocRejection, confirmationId, map[string]interface{}{
		"confirmation_id": confirmationId,
		"reason":          reason,
	}); err != nil {
		config.LogError(logger, "rejectionWorkflow.go", "postRejection", "EmitAudit", confirmationId, err)
		return nil, err
	}

	return models.GetConfirmation(tx, plantId, confirmationId)
}
