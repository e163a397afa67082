package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/mes_backend/config"
	"github.com/mmdatafocus/mes_backend/models"
	"github.com/mmdatafocus/mes_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GeneratedBatchNumber carries the rendered number plus the reset window it
// was drawn from, which participates in the uniqueness key.
type GeneratedBatchNumber struct {
	Number string
	Window string
}

// GenerateBatchNumber draws the next number for the operation's scope-prefix.
//
// Two layers serialize concurrent generators: a best-effort redis lock on the
// scope key keeps contending confirmations from piling onto the same row, and
// the FOR UPDATE read of the sequence row inside the posting transaction is
// the actual correctness guarantee. The unique index on (plant, number,
// window) is the final backstop; a duplicate insert surfaces as a retryable
// conflict via IsDuplicateKey.
func GenerateBatchNumber(ctx context.Context, tx *gorm.DB, plantId string, productSku string, operationType string, operationCode string, now time.Time) (*GeneratedBatchNumber, error) {
	cfg, err := models.ResolveBatchNumberConfig(tx, plantId, productSku, operationType)
	if err != nil {
		return nil, err
	}

	scopePrefix := cfg.ScopePrefix(operationCode, now)
	windowKey := cfg.WindowKey(now)

	release, err := utils.ObtainLock(ctx, config.GetRedisLock(), "batchseq", plantId+":"+scopePrefix+windowKey, 30*time.Second)
	if err != nil && !errors.Is(err, utils.ErrConflict) {
		// Redis being down must not take numbering down with it; the
		// sequence row lock below still serializes correctly.
		release = nil
	} else if err != nil {
		return nil, err
	}
	if release != nil {
		defer release()
	}

	next, err := nextSequenceValue(tx, plantId, scopePrefix, windowKey)
	if err != nil {
		return nil, err
	}
	if next > cfg.MaxSequence() {
		return nil, utils.ErrSequenceExhausted
	}

	return &GeneratedBatchNumber{
		Number: cfg.FormatNumber(operationCode, now, next),
		Window: windowKey,
	}, nil
}

// nextSequenceValue locks (or creates) the sequence row for the scope and
// increments it. Runs inside the caller's posting transaction so a rollback
// also returns the consumed sequence value.
func nextSequenceValue(tx *gorm.DB, plantId string, scopePrefix string, windowKey string) (int, error) {
	var seq models.BatchNumberSequence
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ? AND scope_prefix = ? AND window_key = ?", plantId, scopePrefix, windowKey).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seq = models.BatchNumberSequence{
			PlantId:     plantId,
			ScopePrefix: scopePrefix,
			WindowKey:   windowKey,
			LastValue:   1,
		}
		if createErr := tx.Create(&seq).Error; createErr != nil {
			if IsDuplicateKey(createErr) {
				// Concurrent creator won the race within another transaction.
				return 0, utils.ErrConflict
			}
			return 0, createErr
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}

	next := seq.LastValue + 1
	if err := tx.Model(&models.BatchNumberSequence{}).
		Where("id = ?", seq.ID).
		Update("last_value", next).Error; err != nil {
		return 0, err
	}
	return next, nil
}

// IsDuplicateKey reports whether err is a MySQL 1062 duplicate-entry error.
func IsDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
