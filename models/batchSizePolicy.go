package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BatchSizePolicy bounds the size of output batches for a
// (product, material, operation type, equipment type) combination.
// Nil match fields are wildcards; the most specific active policy wins.
type BatchSizePolicy struct {
	ID            int              `gorm:"primary_key" json:"id"`
	PlantId       string           `gorm:"size:36;index;not null" json:"plant_id"`
	ProductSku    *string          `gorm:"size:100" json:"product_sku"`
	MaterialId    *int             `json:"material_id"`
	OperationType *string          `gorm:"size:50" json:"operation_type"`
	EquipmentType *string          `gorm:"size:50" json:"equipment_type"`
	MinBatchSize  *decimal.Decimal `gorm:"type:decimal(20,4)" json:"min_batch_size"`
	MaxBatchSize  *decimal.Decimal `gorm:"type:decimal(20,4)" json:"max_batch_size"`
	PreferredSize *decimal.Decimal `gorm:"type:decimal(20,4)" json:"preferred_size"`
	AllowPartial  *bool            `gorm:"default:true" json:"allow_partial"`
	Priority      int              `gorm:"default:0" json:"priority"`
	IsActive      *bool            `gorm:"default:true" json:"is_active"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ResolvedBatchSizePolicy is the effective split policy. A nil Max means
// unbounded (no splitting).
type ResolvedBatchSizePolicy struct {
	Min          decimal.Decimal
	Max          *decimal.Decimal
	Preferred    decimal.Decimal
	AllowPartial bool
}

// UnboundedBatchSizePolicy is the fallback when no active policy matches:
// one batch regardless of quantity.
func UnboundedBatchSizePolicy() ResolvedBatchSizePolicy {
	return ResolvedBatchSizePolicy{AllowPartial: true}
}

// SpecificityScore ranks a candidate: 4 for product sku, 3 for material,
// 2 for operation type, 1 for equipment type.
func (p *BatchSizePolicy) SpecificityScore() int {
	score := 0
	if p.ProductSku != nil {
		score += 4
	}
	if p.MaterialId != nil {
		score += 3
	}
	if p.OperationType != nil {
		score += 2
	}
	if p.EquipmentType != nil {
		score += 1
	}
	return score
}

// ResolveBatchSizePolicy picks the highest-scoring active candidate, breaking
// ties by explicit priority (higher wins), then by most recently updated.
func ResolveBatchSizePolicy(tx *gorm.DB, plantId string, productSku string, materialId int, operationType string, equipmentType string) (*ResolvedBatchSizePolicy, error) {
	var candidates []BatchSizePolicy
	err := tx.Where("plant_id = ? AND is_active = 1", plantId).
		Where("(product_sku IS NULL OR product_sku = ?)", productSku).
		Where("(material_id IS NULL OR material_id = ?)", materialId).
		Where("(operation_type IS NULL OR operation_type = ?)", operationType).
		Where("(equipment_type IS NULL OR equipment_type = ?)", equipmentType).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	best := PickBatchSizePolicy(candidates)
	if best == nil {
		resolved := UnboundedBatchSizePolicy()
		return &resolved, nil
	}

	resolved := ResolvedBatchSizePolicy{AllowPartial: true}
	if best.MinBatchSize != nil {
		resolved.Min = *best.MinBatchSize
	}
	resolved.Max = best.MaxBatchSize
	if best.PreferredSize != nil {
		resolved.Preferred = *best.PreferredSize
	} else if best.MaxBatchSize != nil {
		resolved.Preferred = *best.MaxBatchSize
	}
	if best.AllowPartial != nil {
		resolved.AllowPartial = *best.AllowPartial
	}
	return &resolved, nil
}

// PickBatchSizePolicy applies the ranking over pre-filtered candidates.
// Split out so the ordering rules are testable without a database.
func PickBatchSizePolicy(candidates []BatchSizePolicy) *BatchSizePolicy {
	var best *BatchSizePolicy
	for i := range candidates {
		p := &candidates[i]
		if best == nil {
			best = p
			continue
		}
		ps, bs := p.SpecificityScore(), best.SpecificityScore()
		if ps > bs {
			best = p
			continue
		}
		if ps < bs {
			continue
		}
		if p.Priority > best.Priority {
			best = p
			continue
		}
		if p.Priority < best.Priority {
			continue
		}
		if p.UpdatedAt.After(best.UpdatedAt) {
			best = p
		}
	}
	return best
}
