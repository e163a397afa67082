package models

import (
	"time"

	"github.com/mmdatafocus/mes_backend/config"
	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// QuantityPolicy resolves decimal precision, rounding rule and bounds for a
// (material, operation type, equipment type) triple. Nil match fields are
// wildcards.
type QuantityPolicy struct {
	ID            int              `gorm:"primary_key" json:"id"`
	PlantId       string           `gorm:"size:36;index;not null" json:"plant_id"`
	MaterialCode  *string          `gorm:"size:50" json:"material_code"`
	OperationType *string          `gorm:"size:50" json:"operation_type"`
	EquipmentType *string          `gorm:"size:50" json:"equipment_type"`
	Precision     int32            `gorm:"not null" json:"precision"`
	Rounding      RoundingRule     `gorm:"type:enum('HALF_UP','HALF_DOWN','CEILING','FLOOR');default:HALF_UP" json:"rounding"`
	MinQty        *decimal.Decimal `gorm:"type:decimal(20,4)" json:"min_qty"`
	MaxQty        *decimal.Decimal `gorm:"type:decimal(20,4)" json:"max_qty"`
	Unit          string           `gorm:"size:20" json:"unit"`
	IsDefault     *bool            `gorm:"default:false" json:"is_default"`
	IsActive      *bool            `gorm:"default:true" json:"is_active"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ResolvedQuantityPolicy is the effective policy applied to a confirmation.
type ResolvedQuantityPolicy struct {
	Precision int32
	Rounding  RoundingRule
	MinQty    *decimal.Decimal
	MaxQty    *decimal.Decimal
	Unit      string
}

// GlobalDefaultQuantityPolicy is the built-in fallback: precision 4, HALF_UP,
// no bounds.
func GlobalDefaultQuantityPolicy() ResolvedQuantityPolicy {
	return ResolvedQuantityPolicy{
		Precision: 4,
		Rounding:  RoundingRuleHalfUp,
	}
}

// SpecificityScore counts the pinned match fields of a candidate.
func (p *QuantityPolicy) SpecificityScore() int {
	score := 0
	if p.MaterialCode != nil {
		score++
	}
	if p.OperationType != nil {
		score++
	}
	if p.EquipmentType != nil {
		score++
	}
	return score
}

// PickQuantityPolicy applies the ranking over pre-filtered candidates: most
// pinned fields wins, ties go to the most recently updated row. Default rows
// and fully-wildcard rows never win here; they are the fallback tier.
// Split out so the ordering rules are testable without a database.
func PickQuantityPolicy(candidates []QuantityPolicy) *QuantityPolicy {
	var best *QuantityPolicy
	bestScore := 0
	for i := range candidates {
		p := &candidates[i]
		if p.IsDefault != nil && *p.IsDefault {
			continue
		}
		score := p.SpecificityScore()
		if score == 0 || score < bestScore {
			continue
		}
		if score > bestScore || best == nil || p.UpdatedAt.After(best.UpdatedAt) {
			bestScore = score
			best = p
		}
	}
	return best
}

// ResolveQuantityPolicy picks the most specific active policy: exact match on
// all three fields first, then partial matches ranked by the number of
// non-null matched fields, then the plant default row, then the built-in
// global default. ErrPolicyNotFound only when the plant runs with strict
// policy configuration and no default row exists.
func ResolveQuantityPolicy(tx *gorm.DB, plantId string, materialCode string, operationType string, equipmentType string) (*ResolvedQuantityPolicy, error) {
	var candidates []QuantityPolicy
	err := tx.Where("plant_id = ? AND is_active = 1", plantId).
		Where("(material_code IS NULL OR material_code = ?)", materialCode).
		Where("(operation_type IS NULL OR operation_type = ?)", operationType).
		Where("(equipment_type IS NULL OR equipment_type = ?)", equipmentType).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	if best := PickQuantityPolicy(candidates); best != nil {
		return resolvedFrom(best), nil
	}

	// Fall back to the plant's default policy row.
	for i := range candidates {
		p := &candidates[i]
		if p.IsDefault != nil && *p.IsDefault {
			return resolvedFrom(p), nil
		}
	}
	var defaultPolicy QuantityPolicy
	err = tx.Where("plant_id = ? AND is_active = 1 AND is_default = 1", plantId).
		First(&defaultPolicy).Error
	if err == nil {
		return resolvedFrom(&defaultPolicy), nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	if config.StrictQuantityPolicy() {
		return nil, utils.ErrPolicyNotFound
	}
	resolved := GlobalDefaultQuantityPolicy()
	return &resolved, nil
}

func resolvedFrom(p *QuantityPolicy) *ResolvedQuantityPolicy {
	return &ResolvedQuantityPolicy{
		Precision: p.Precision,
		Rounding:  p.Rounding,
		MinQty:    p.MinQty,
		MaxQty:    p.MaxQty,
		Unit:      p.Unit,
	}
}

// ApplyRounding rounds d to the policy's precision using its rule.
// Quantities are non-negative throughout the ledger, so HALF_UP maps onto
// decimal's round-half-away-from-zero and HALF_DOWN resolves ties toward zero.
func (p ResolvedQuantityPolicy) ApplyRounding(d decimal.Decimal) decimal.Decimal {
	switch p.Rounding {
	case RoundingRuleCeiling:
		return d.RoundCeil(p.Precision)
	case RoundingRuleFloor:
		return d.RoundFloor(p.Precision)
	case RoundingRuleHalfDown:
		shifted := d.Shift(p.Precision)
		floor := shifted.Floor()
		frac := shifted.Sub(floor)
		half := decimal.New(5, -1)
		if frac.GreaterThan(half) {
			floor = floor.Add(decimal.New(1, 0))
		}
		return floor.Shift(-p.Precision)
	default: // HALF_UP
		return d.Round(p.Precision)
	}
}

// CheckBounds verifies a quantity against the optional [min,max] window.
func (p ResolvedQuantityPolicy) CheckBounds(d decimal.Decimal) bool {
	if p.MinQty != nil && d.LessThan(*p.MinQty) {
		return false
	}
	if p.MaxQty != nil && d.GreaterThan(*p.MaxQty) {
		return false
	}
	return true
}
