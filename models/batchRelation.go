package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BatchRelation is one directed genealogy edge: parent was consumed to make
// child. Append-only; the full edge set over a plant forms a DAG.
type BatchRelation struct {
	ID            int             `gorm:"primary_key" json:"id"`
	PlantId       string          `gorm:"size:36;index;not null" json:"plant_id"`
	ParentBatchId int             `gorm:"index:idx_rel_parent;not null" json:"parent_batch_id"`
	ChildBatchId  int             `gorm:"index:idx_rel_child;not null" json:"child_batch_id"`
	RelationType  RelationType    `gorm:"type:enum('SPLIT','MERGE','TRANSFORM');not null" json:"relation_type"`
	QtyConsumed   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_consumed"`
	OperationId   int             `gorm:"index" json:"operation_id"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

func GetParentRelations(tx *gorm.DB, plantId string, childBatchId int) ([]BatchRelation, error) {
	var relations []BatchRelation
	err := tx.Where("plant_id = ? AND child_batch_id = ?", plantId, childBatchId).
		Find(&relations).Error
	if err != nil {
		return nil, err
	}
	return relations, nil
}

func GetChildRelations(tx *gorm.DB, plantId string, parentBatchId int) ([]BatchRelation, error) {
	var relations []BatchRelation
	err := tx.Where("plant_id = ? AND parent_batch_id = ?", plantId, parentBatchId).
		Find(&relations).Error
	if err != nil {
		return nil, err
	}
	return relations, nil
}
