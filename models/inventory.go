package models

import (
	"errors"
	"time"

	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryLine is one physical/logical stock record. Quantity and state are
// mutated only through movement-appending ledger operations in workflow.
type InventoryLine struct {
	ID         int             `gorm:"primary_key" json:"id"`
	PlantId    string          `gorm:"size:36;index:idx_inv_plant_material,priority:1;not null" json:"plant_id"`
	MaterialId int             `gorm:"index:idx_inv_plant_material,priority:2;not null" json:"material_id"`
	BatchId    *int            `gorm:"index" json:"batch_id"`
	State      InventoryState  `gorm:"type:enum('AVAILABLE','BLOCKED','SCRAPPED','RESERVED');default:AVAILABLE" json:"state"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	LocationId int             `gorm:"index" json:"location_id"`
	Version    int             `gorm:"default:0" json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// InventoryMovement is the append-only ledger: one immutable row per
// state-changing call, causally ordered by created_at plus the owning doc.
type InventoryMovement struct {
	ID              string          `gorm:"size:36;primary_key" json:"id"` // uuid
	PlantId         string          `gorm:"index:idx_move_plant_line,priority:1;not null" json:"plant_id"`
	InventoryLineId int             `gorm:"index:idx_move_plant_line,priority:2;not null" json:"inventory_line_id"`
	MaterialId      int             `gorm:"index;not null" json:"material_id"`
	MovementType    MovementType    `gorm:"type:enum('CONSUME','PRODUCE','HOLD','RELEASE','SCRAP');not null" json:"movement_type"`
	QtyDelta        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_delta"`
	DocType         string          `gorm:"size:20;not null" json:"doc_type"` // PC (confirmation), RJ (rejection), ADJ (adjustment)
	DocId           int             `gorm:"index;not null" json:"doc_id"`
	Reason          string          `gorm:"size:500" json:"reason"`
	CorrelationId   string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// Movement doc types.
const (
	MovementDocConfirmation = "PC"
	MovementDocRejection    = "RJ"
	MovementDocAdjustment   = "ADJ"
)

func GetInventoryLine(tx *gorm.DB, plantId string, inventoryId int) (*InventoryLine, error) {
	var line InventoryLine
	err := tx.Where("plant_id = ? AND id = ?", plantId, inventoryId).First(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// GetInventoryLineForUpdate serializes contended consumption: two
// confirmations racing for the same line block here, so neither observes a
// stale balance.
func GetInventoryLineForUpdate(tx *gorm.DB, plantId string, inventoryId int) (*InventoryLine, error) {
	var line InventoryLine
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ? AND id = ?", plantId, inventoryId).
		First(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// GetInventoryLinesForBatch returns the lines backed by one batch. The
// rejection path uses this to find what a confirmation produced.
func GetInventoryLinesForBatch(tx *gorm.DB, plantId string, batchId int) ([]InventoryLine, error) {
	var lines []InventoryLine
	err := tx.Where("plant_id = ? AND batch_id = ?", plantId, batchId).Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// GetMovementsForDoc returns the ledger rows written by one document, oldest
// first. Used by the reversal path and by audits.
func GetMovementsForDoc(tx *gorm.DB, plantId string, docType string, docId int) ([]InventoryMovement, error) {
	var movements []InventoryMovement
	err := tx.Where("plant_id = ? AND doc_type = ? AND doc_id = ?", plantId, docType, docId).
		Order("created_at ASC, id ASC").
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}
