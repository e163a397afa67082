package models

import (
	"errors"
	"time"

	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductionConfirmation is the aggregate record of one operation execution.
// Append-only once CONFIRMED; rejection flips status and adds compensating
// ledger rows, it never deletes anything.
type ProductionConfirmation struct {
	ID              int                          `gorm:"primary_key" json:"id"`
	PlantId         string                       `gorm:"size:36;index;not null" json:"plant_id"`
	OperationId     int                          `gorm:"index;not null" json:"operation_id"`
	ProducedQty     decimal.Decimal              `gorm:"type:decimal(20,4);not null" json:"produced_qty"`
	ScrapQty        decimal.Decimal              `gorm:"type:decimal(20,4);default:0" json:"scrap_qty"`
	StartTime       time.Time                    `gorm:"not null" json:"start_time"`
	EndTime         time.Time                    `gorm:"not null" json:"end_time"`
	Status          ConfirmationStatus           `gorm:"type:enum('CONFIRMED','REJECTED');default:CONFIRMED" json:"status"`
	RejectedReason  *string                      `gorm:"size:500" json:"rejected_reason"`
	RejectedAt      *time.Time                   `json:"rejected_at"`
	Warnings        string                       `gorm:"type:text" json:"warnings"` // JSON array of BOM tolerance warnings
	CorrelationId   string                       `gorm:"size:64;index" json:"correlation_id"`
	ConfirmedBy     string                       `gorm:"size:100" json:"confirmed_by"`
	CreatedAt       time.Time                    `json:"created_at"`
	UpdatedAt       time.Time                    `json:"updated_at"`
	ConsumedLines   []ConfirmationConsumedLine   `gorm:"foreignKey:ConfirmationId" json:"consumed_lines"`
	OutputLines     []ConfirmationOutputLine     `gorm:"foreignKey:ConfirmationId" json:"output_lines"`
	ResourceLines   []ConfirmationResourceLine   `gorm:"foreignKey:ConfirmationId" json:"resource_lines"`
	ParameterValues []ConfirmationParameterValue `gorm:"foreignKey:ConfirmationId" json:"parameter_values"`
}

type ConfirmationConsumedLine struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ConfirmationId  int             `gorm:"index;not null" json:"confirmation_id"`
	InventoryLineId int             `gorm:"not null" json:"inventory_line_id"`
	MaterialId      int             `gorm:"not null" json:"material_id"`
	BatchId         *int            `json:"batch_id"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	CreatedAt       time.Time       `json:"created_at"`
}

type ConfirmationOutputLine struct {
	ID             int             `gorm:"primary_key" json:"id"`
	ConfirmationId int             `gorm:"index;not null" json:"confirmation_id"`
	Kind           OutputLineKind  `gorm:"type:enum('OUTPUT','SCRAP');not null" json:"kind"`
	MaterialId     int             `gorm:"not null" json:"material_id"`
	BatchId        *int            `json:"batch_id"` // nil for SCRAP lines, scrap is not traceable
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	LocationId     int             `json:"location_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

type ConfirmationResourceLine struct {
	ID             int              `gorm:"primary_key" json:"id"`
	ConfirmationId int              `gorm:"index;not null" json:"confirmation_id"`
	Kind           ResourceLineKind `gorm:"type:enum('EQUIPMENT','OPERATOR');not null" json:"kind"`
	ResourceId     int              `gorm:"not null" json:"resource_id"`
	CreatedAt      time.Time        `json:"created_at"`
}

type ConfirmationParameterValue struct {
	ID             int       `gorm:"primary_key" json:"id"`
	ConfirmationId int       `gorm:"index;not null" json:"confirmation_id"`
	Name           string    `gorm:"size:100;not null" json:"name"`
	Value          string    `gorm:"size:255" json:"value"`
	Unit           string    `gorm:"size:20" json:"unit"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewConfirmation is the inbound request shape for confirmProduction.
type NewConfirmation struct {
	OperationId     int                   `json:"operation_id" binding:"required"`
	ProducedQty     decimal.Decimal       `json:"produced_qty" binding:"required"`
	ScrapQty        decimal.Decimal       `json:"scrap_qty"`
	StartTime       time.Time             `json:"start_time" binding:"required"`
	EndTime         time.Time             `json:"end_time" binding:"required"`
	ConsumedLines   []NewConsumedLine     `json:"consumed_lines" binding:"required,min=1,dive"`
	EquipmentIds    []int                 `json:"equipment_ids" binding:"required,min=1"`
	OperatorIds     []int                 `json:"operator_ids" binding:"required,min=1"`
	OutputLocation  int                   `json:"output_location"`
	ParameterValues []NewParameterValue   `json:"parameter_values" binding:"dive"`
}

type NewConsumedLine struct {
	InventoryLineId int             `json:"inventory_line_id" binding:"required"`
	Quantity        decimal.Decimal `json:"quantity" binding:"required"`
}

type NewParameterValue struct {
	Name  string `json:"name" binding:"required"`
	Value string `json:"value" binding:"required"`
	Unit  string `json:"unit"`
}

// Validate applies the shape rules the orchestrator requires before any
// write: non-empty lists, positive produced quantity, coherent time window.
func (input *NewConfirmation) Validate() error {
	if len(input.ConsumedLines) == 0 {
		return errors.New("consumed_lines must not be empty")
	}
	if len(input.EquipmentIds) == 0 {
		return errors.New("equipment_ids must not be empty")
	}
	if len(input.OperatorIds) == 0 {
		return errors.New("operator_ids must not be empty")
	}
	if !input.ProducedQty.IsPositive() {
		return errors.New("produced_qty must be positive")
	}
	if input.ScrapQty.IsNegative() {
		return errors.New("scrap_qty must not be negative")
	}
	if input.EndTime.Before(input.StartTime) {
		return errors.New("end_time must not precede start_time")
	}
	for _, line := range input.ConsumedLines {
		if !line.Quantity.IsPositive() {
			return errors.New("consumed line quantity must be positive")
		}
	}
	return nil
}

func GetConfirmation(tx *gorm.DB, plantId string, confirmationId int) (*ProductionConfirmation, error) {
	var confirmation ProductionConfirmation
	err := tx.
		Preload("ConsumedLines").
		Preload("OutputLines").
		Preload("ResourceLines").
		Preload("ParameterValues").
		Where("plant_id = ? AND id = ?", plantId, confirmationId).
		First(&confirmation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &confirmation, nil
}
