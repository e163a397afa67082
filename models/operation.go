package models

import (
	"errors"
	"time"

	"github.com/mmdatafocus/mes_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Process is the runtime execution context for one manufacturing order: an
// ordered sequence of operations. COMPLETED when all mandatory operations
// are CONFIRMED.
type Process struct {
	ID         int           `gorm:"primary_key" json:"id"`
	PlantId    string        `gorm:"size:36;index;not null" json:"plant_id"`
	ProductSku string        `gorm:"size:100;index" json:"product_sku"`
	Status     ProcessStatus `gorm:"type:enum('NOT_STARTED','IN_PROGRESS','COMPLETED');default:NOT_STARTED" json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Operation is one step of a process. Status is mutated exclusively by the
// orchestrator's state machine.
type Operation struct {
	ID            int             `gorm:"primary_key" json:"id"`
	PlantId       string          `gorm:"size:36;index;not null" json:"plant_id"`
	ProcessId     int             `gorm:"index;not null" json:"process_id"`
	Sequence      int             `gorm:"not null" json:"sequence"`
	Code          string          `gorm:"size:50" json:"code"`
	OperationType string          `gorm:"size:50;index" json:"operation_type"`
	MaterialId    int             `gorm:"index" json:"material_id"` // output material
	IsMandatory   *bool           `gorm:"default:true" json:"is_mandatory"`
	Status        OperationStatus `gorm:"type:enum('NOT_STARTED','READY','IN_PROGRESS','CONFIRMED','ON_HOLD','BLOCKED');default:NOT_STARTED" json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func GetOperation(tx *gorm.DB, plantId string, operationId int) (*Operation, error) {
	var operation Operation
	err := tx.Where("plant_id = ? AND id = ?", plantId, operationId).First(&operation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &operation, nil
}

// GetOperationForUpdate locks the operation row so two confirmations for the
// same operation serialize on the status check.
func GetOperationForUpdate(tx *gorm.DB, plantId string, operationId int) (*Operation, error) {
	var operation Operation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ? AND id = ?", plantId, operationId).
		First(&operation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &operation, nil
}

func GetProcess(tx *gorm.DB, plantId string, processId int) (*Process, error) {
	var process Process
	err := tx.Where("plant_id = ? AND id = ?", plantId, processId).First(&process).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &process, nil
}

// GetNextOperation returns the next operation after the given sequence, or
// nil when the process has no further steps.
func GetNextOperation(tx *gorm.DB, plantId string, processId int, afterSequence int) (*Operation, error) {
	var operation Operation
	err := tx.Where("plant_id = ? AND process_id = ? AND sequence > ?", plantId, processId, afterSequence).
		Order("sequence ASC").
		First(&operation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &operation, nil
}

// CountUnconfirmedMandatory counts mandatory operations of a process that are
// not yet CONFIRMED. Zero means the process is complete.
func CountUnconfirmedMandatory(tx *gorm.DB, plantId string, processId int) (int64, error) {
	var count int64
	err := tx.Model(&Operation{}).
		Where("plant_id = ? AND process_id = ? AND is_mandatory = 1 AND status <> ?",
			plantId, processId, OperationStatusConfirmed).
		Count(&count).Error
	return count, err
}
