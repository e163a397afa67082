package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// BatchNumberConfig is one naming scheme. The batch number is assembled in
// fixed token order:
//
//	[prefix][sep][operation code, truncated/padded][sep][date][sep][sequence]
//
// The scope-prefix is everything except the sequence; it bounds sequence
// uniqueness (see workflow/batchNumber.go).
type BatchNumberConfig struct {
	ID             int           `gorm:"primary_key" json:"id"`
	PlantId        string        `gorm:"size:36;index;not null" json:"plant_id"`
	ProductSku     *string       `gorm:"size:100" json:"product_sku"`
	OperationType  *string       `gorm:"size:50" json:"operation_type"`
	Prefix         string        `gorm:"size:20;not null" json:"prefix"`
	Separator      string        `gorm:"size:5;default:'-'" json:"separator"`
	OperationCodeLength int      `gorm:"default:0" json:"operation_code_length"` // 0 omits the token
	DateLayout     string        `gorm:"size:20" json:"date_layout"` // Go layout; empty omits the date token
	SequenceLength int           `gorm:"default:3;not null" json:"sequence_length"`
	SequenceReset  SequenceReset `gorm:"type:enum('NEVER','DAILY','MONTHLY','YEARLY');default:DAILY" json:"sequence_reset"`
	Priority       int           `gorm:"default:0" json:"priority"`
	IsActive       *bool         `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// BatchNumberSequence is the explicitly-locked business sequence, one row per
// (scope-prefix, reset window). Distinct from the storage engine's surrogate
// primary keys; see workflow/batchNumber.go for the locking protocol.
type BatchNumberSequence struct {
	ID          int       `gorm:"primary_key" json:"id"`
	PlantId     string    `gorm:"size:36;uniqueIndex:idx_seq_scope,priority:1;not null" json:"plant_id"`
	ScopePrefix string    `gorm:"size:120;uniqueIndex:idx_seq_scope,priority:2;not null" json:"scope_prefix"`
	WindowKey   string    `gorm:"size:10;uniqueIndex:idx_seq_scope,priority:3;default:''" json:"window_key"`
	LastValue   int       `gorm:"not null;default:0" json:"last_value"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ResolveBatchNumberConfig ranks active configs by priority, most specific
// product+operation match first. A nil result means the plant has no naming
// scheme configured, which is a configuration error at generation time.
func ResolveBatchNumberConfig(tx *gorm.DB, plantId string, productSku string, operationType string) (*BatchNumberConfig, error) {
	var candidates []BatchNumberConfig
	err := tx.Where("plant_id = ? AND is_active = 1", plantId).
		Where("(product_sku IS NULL OR product_sku = ?)", productSku).
		Where("(operation_type IS NULL OR operation_type = ?)", operationType).
		Order("priority DESC, updated_at DESC").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.New("no active batch number config for plant")
	}

	var best *BatchNumberConfig
	bestScore := -1
	for i := range candidates {
		c := &candidates[i]
		score := 0
		if c.ProductSku != nil {
			score += 2
		}
		if c.OperationType != nil {
			score += 1
		}
		// candidates are already priority-ordered, so strict > keeps the
		// highest-priority row within a score class
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best, nil
}

// ScopePrefix assembles every token except the sequence for the given
// operation code and moment in time.
func (c *BatchNumberConfig) ScopePrefix(operationCode string, now time.Time) string {
	var b strings.Builder
	b.WriteString(c.Prefix)

	if c.OperationCodeLength > 0 {
		code := operationCode
		if len(code) > c.OperationCodeLength {
			code = code[:c.OperationCodeLength]
		} else if len(code) < c.OperationCodeLength {
			code = code + strings.Repeat("0", c.OperationCodeLength-len(code))
		}
		b.WriteString(c.Separator)
		b.WriteString(code)
	}

	if c.DateLayout != "" {
		b.WriteString(c.Separator)
		b.WriteString(now.Format(c.DateLayout))
	}

	b.WriteString(c.Separator)
	return b.String()
}

// FormatNumber renders the complete batch number for a sequence value.
func (c *BatchNumberConfig) FormatNumber(operationCode string, now time.Time, sequence int) string {
	return c.ScopePrefix(operationCode, now) + fmt.Sprintf("%0*d", c.SequenceLength, sequence)
}

// MaxSequence is the largest value the configured digit width can carry.
func (c *BatchNumberConfig) MaxSequence() int {
	max := 1
	for i := 0; i < c.SequenceLength; i++ {
		max *= 10
	}
	return max - 1
}

// WindowKey identifies the reset window the sequence lives in. The window
// bounds sequence uniqueness even when the rendered number carries no date
// token (a DAILY config without a date layout restarts at 1 each day).
func (c *BatchNumberConfig) WindowKey(now time.Time) string {
	switch c.SequenceReset {
	case SequenceResetDaily:
		return now.Format("20060102")
	case SequenceResetMonthly:
		return now.Format("200601")
	case SequenceResetYearly:
		return now.Format("2006")
	default:
		return ""
	}
}
