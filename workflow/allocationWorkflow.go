package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/mes_backend/config"
	"github.com/mmdatafocus/mes_backend/models"
	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BatchAvailability is the allocation headroom of one batch.
type BatchAvailability struct {
	BatchId   int             `json:"batch_id"`
	Total     decimal.Decimal `json:"total"`
	Allocated decimal.Decimal `json:"allocated"`
	Available decimal.Decimal `json:"available"`
}

// AllocateBatch commits quantity of a batch to an order line. The batch row
// lock plus the in-transaction sum keep concurrent allocations from jointly
// exceeding the batch quantity.
func AllocateBatch(ctx context.Context, logger *logrus.Logger, batchId int, orderLineId int, qty decimal.Decimal) (*models.BatchOrderAllocation, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id missing from context")
	}
	if !qty.IsPositive() {
		return nil, errors.New("allocation quantity must be positive")
	}

	db := config.GetDB()
	var allocation *models.BatchOrderAllocation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := models.GetBatchForUpdate(tx, plantId, batchId)
		if err != nil {
			config.LogError(logger, "allocationWorkflow.go", "AllocateBatch", "GetBatchForUpdate", batchId, err)
			return err
		}
		if batch.Status != models.BatchStatusAvailable {
			return fmt.Errorf("batch %d is %s, only AVAILABLE batches can be allocated", batchId, batch.Status)
		}
		if _, err := models.GetOrderLine(tx, plantId, orderLineId); err != nil {
			config.LogError(logger, "allocationWorkflow.go", "AllocateBatch", "GetOrderLine", orderLineId, err)
			return err
		}

		allocated, err := models.GetAllocatedTotal(tx, plantId, batchId)
		if err != nil {
			return err
		}
		available := batch.Quantity.Sub(allocated)
		if qty.GreaterThan(available) {
			return utils.ErrInsufficientAvailable
		}

		now := time.Now()
		allocation = &models.BatchOrderAllocation{
			PlantId:       plantId,
			BatchId:       batchId,
			OrderLineId:   orderLineId,
			Quantity:      qty,
			Status:        models.AllocationStatusAllocated,
			CorrelationId: correlationIdFromContext(ctx),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(allocation).Error; err != nil {
			config.LogError(logger, "allocationWorkflow.go", "AllocateBatch", "Create", batchId, err)
			return err
		}

		return models.EmitAudit(ctx, tx, plantId, models.AuditEventAllocation, "ALLOC", allocation.ID, allocation)
	})
	if err != nil {
		return nil, err
	}
	return allocation, nil
}

// ReleaseAllocation returns an allocation's quantity to the batch's available
// pool. The row stays as a RELEASED record.
func ReleaseAllocation(ctx context.Context, logger *logrus.Logger, allocationId int) (*models.BatchOrderAllocation, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id missing from context")
	}

	db := config.GetDB()
	var allocation *models.BatchOrderAllocation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		allocation, err = models.GetAllocation(tx, plantId, allocationId)
		if err != nil {
			config.LogError(logger, "allocationWorkflow.go", "ReleaseAllocation", "GetAllocation", allocationId, err)
			return err
		}
		// Lock the batch so the release serializes with allocators summing
		// against it.
		if _, err := models.GetBatchForUpdate(tx, plantId, allocation.BatchId); err != nil {
			return err
		}
		if allocation.Status != models.AllocationStatusAllocated {
			return fmt.Errorf("allocation %d is %s, only ALLOCATED allocations can be released", allocationId, allocation.Status)
		}

		now := time.Now()
		if err := tx.Model(&models.BatchOrderAllocation{}).
			Where("plant_id = ? AND id = ?", plantId, allocationId).
			Updates(map[string]interface{}{"status": models.AllocationStatusReleased, "updated_at": now}).Error; err != nil {
			return err
		}
		allocation.Status = models.AllocationStatusReleased
		allocation.UpdatedAt = now

		return models.EmitAudit(ctx, tx, plantId, models.AuditEventAllocationRelease, "ALLOC", allocationId, allocation)
	})
	if err != nil {
		return nil, err
	}
	return allocation, nil
}

// GetBatchAvailability reports total, allocated and available quantity for a
// batch. Read-only; runs against committed state.
func GetBatchAvailability(ctx context.Context, batchId int) (*BatchAvailability, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id missing from context")
	}

	db := config.GetDB().WithContext(ctx)
	batch, err := models.GetBatch(db, plantId, batchId)
	if err != nil {
		return nil, err
	}
	allocated, err := models.GetAllocatedTotal(db, plantId, batchId)
	if err != nil {
		return nil, err
	}
	return &BatchAvailability{
		BatchId:   batchId,
		Total:     batch.Quantity,
		Allocated: allocated,
		Available: batch.Quantity.Sub(allocated),
	}, nil
}
