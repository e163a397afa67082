package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BomRequirement is a read-only BOM *value*: how much of a material one unit
// of the product should consume. Definition storage lives upstream.
type BomRequirement struct {
	ID             int             `gorm:"primary_key" json:"id"`
	PlantId        string          `gorm:"size:36;index;not null" json:"plant_id"`
	ProductSku     string          `gorm:"size:100;index;not null" json:"product_sku"`
	MaterialId     int             `gorm:"index;not null" json:"material_id"`
	QtyRequired    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_required"`
	YieldLossRatio decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"yield_loss_ratio"`
	TolerancePct   decimal.Decimal `gorm:"type:decimal(10,4);default:10" json:"tolerance_pct"`
	IsActive       *bool           `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func GetActiveRequirements(tx *gorm.DB, plantId string, productSku string) ([]BomRequirement, error) {
	var requirements []BomRequirement
	err := tx.Where("plant_id = ? AND product_sku = ? AND is_active = 1", plantId, productSku).
		Order("material_id ASC").
		Find(&requirements).Error
	if err != nil {
		return nil, err
	}
	return requirements, nil
}
