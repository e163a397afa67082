package models

import (
	"errors"
	"time"

	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BatchOrderAllocation commits quantity of a batch to an order line.
// Invariant: per batch, sum of ALLOCATED quantities <= batch.quantity.
type BatchOrderAllocation struct {
	ID            int              `gorm:"primary_key" json:"id"`
	PlantId       string           `gorm:"size:36;index;not null" json:"plant_id"`
	BatchId       int              `gorm:"index;not null" json:"batch_id"`
	OrderLineId   int              `gorm:"index;not null" json:"order_line_id"`
	Quantity      decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Status        AllocationStatus `gorm:"type:enum('ALLOCATED','RELEASED');default:ALLOCATED" json:"status"`
	CorrelationId string           `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func GetAllocation(tx *gorm.DB, plantId string, allocationId int) (*BatchOrderAllocation, error) {
	var allocation BatchOrderAllocation
	err := tx.Where("plant_id = ? AND id = ?", plantId, allocationId).First(&allocation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &allocation, nil
}

// GetAllocatedTotal sums the live allocations for a batch. Callers that
// enforce the no-over-allocation invariant must hold the batch row lock.
func GetAllocatedTotal(tx *gorm.DB, plantId string, batchId int) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := tx.Model(&BatchOrderAllocation{}).
		Select("SUM(quantity)").
		Where("plant_id = ? AND batch_id = ? AND status = ?", plantId, batchId, AllocationStatusAllocated).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
