package models

import (
	"errors"
	"time"

	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Batch is a traceable quantity of one material produced together.
// Rows are never deleted; quantity changes only through ledger movements or
// an explicit BatchQuantityAdjustment.
type Batch struct {
	ID                int             `gorm:"primary_key" json:"id"`
	PlantId           string          `gorm:"size:36;uniqueIndex:idx_batch_plant_number,priority:1;not null" json:"plant_id"`
	Number            string          `gorm:"size:100;uniqueIndex:idx_batch_plant_number,priority:2;not null" json:"number"`
	NumberWindow      string          `gorm:"size:10;uniqueIndex:idx_batch_plant_number,priority:3;default:''" json:"number_window"`
	MaterialId        int             `gorm:"index;not null" json:"material_id"`
	Quantity          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Unit              string          `gorm:"size:20" json:"unit"`
	OriginOperationId int             `gorm:"index" json:"origin_operation_id"`
	Status            BatchStatus     `gorm:"type:enum('AVAILABLE','CONSUMED','BLOCKED','SCRAPPED');default:AVAILABLE" json:"status"`
	CorrelationId     string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// BatchQuantityAdjustment records a direct quantity change with a mandatory
// reason and an old/new snapshot. Append-only.
type BatchQuantityAdjustment struct {
	ID             int             `gorm:"primary_key" json:"id"`
	PlantId        string          `gorm:"size:36;index;not null" json:"plant_id"`
	BatchId        int             `gorm:"index;not null" json:"batch_id"`
	OldQuantity    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"old_quantity"`
	NewQuantity    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"new_quantity"`
	Reason         string          `gorm:"size:500;not null" json:"reason"`
	AdjustmentType AdjustmentType  `gorm:"type:enum('CORRECTION','DAMAGE','RECOUNT');not null" json:"adjustment_type"`
	AdjustedBy     string          `gorm:"size:100" json:"adjusted_by"`
	CorrelationId  string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

func GetBatch(tx *gorm.DB, plantId string, batchId int) (*Batch, error) {
	var batch Batch
	err := tx.Where("plant_id = ? AND id = ?", plantId, batchId).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetBatchForUpdate row-locks the batch for the duration of the posting
// transaction. Allocation and adjustment writers must go through this.
func GetBatchForUpdate(tx *gorm.DB, plantId string, batchId int) (*Batch, error) {
	var batch Batch
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ? AND id = ?", plantId, batchId).
		First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}
