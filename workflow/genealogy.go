package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/mes_backend/config"
	"github.com/mmdatafocus/mes_backend/models"
	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreateBatch persists a new genealogy node with a freshly generated number.
// The initial quantity must equal the sum of the PRODUCE movements that will
// reference the batch; the orchestrator guarantees this by producing exactly
// one line per batch.
func CreateBatch(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, materialId int, unit string, qty decimal.Decimal, originOperationId int, number *GeneratedBatchNumber) (*models.Batch, error) {
	now := time.Now()
	batch := models.Batch{
		PlantId:           plantId,
		Number:            number.Number,
		NumberWindow:      number.Window,
		MaterialId:        materialId,
		Quantity:          qty,
		Unit:              unit,
		OriginOperationId: originOperationId,
		Status:            models.BatchStatusAvailable,
		CorrelationId:     correlationIdFromContext(ctx),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.Create(&batch).Error; err != nil {
		if IsDuplicateKey(err) {
			// Lost the uniqueness race on the number; whole confirmation is
			// safe to retry.
			return nil, utils.ErrConflict
		}
		config.LogError(logger, "genealogy.go", "CreateBatch", "Create", number.Number, err)
		return nil, err
	}
	return &batch, nil
}

// LinkConsumption writes one parent->child genealogy edge. Fails with
// ErrCycleDetected when the child already appears among the parent's
// ancestors.
func LinkConsumption(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, parentBatchId int, childBatchId int, qty decimal.Decimal, relationType models.RelationType, operationId int) error {
	if parentBatchId == childBatchId {
		return utils.ErrCycleDetected
	}
	ancestors, err := AncestorsOf(tx, plantId, parentBatchId)
	if err != nil {
		config.LogError(logger, "genealogy.go", "LinkConsumption", "AncestorsOf", parentBatchId, err)
		return err
	}
	for _, id := range ancestors {
		if id == childBatchId {
			return utils.ErrCycleDetected
		}
	}

	relation := models.BatchRelation{
		PlantId:       plantId,
		ParentBatchId: parentBatchId,
		ChildBatchId:  childBatchId,
		RelationType:  relationType,
		QtyConsumed:   qty,
		OperationId:   operationId,
		CorrelationId: correlationIdFromContext(ctx),
		CreatedAt:     time.Now(),
	}
	return tx.Create(&relation).Error
}

// AncestorsOf walks parent edges breadth-first and returns every ancestor
// batch id. Reads run against committed state; no lock required.
func AncestorsOf(tx *gorm.DB, plantId string, batchId int) ([]int, error) {
	return traverse(tx, plantId, batchId, true)
}

// DescendantsOf walks child edges breadth-first.
func DescendantsOf(tx *gorm.DB, plantId string, batchId int) ([]int, error) {
	return traverse(tx, plantId, batchId, false)
}

func traverse(tx *gorm.DB, plantId string, batchId int, up bool) ([]int, error) {
	visited := map[int]struct{}{batchId: {}}
	frontier := []int{batchId}
	var out []int

	for len(frontier) > 0 {
		var relations []models.BatchRelation
		var err error
		if up {
			err = tx.Where("plant_id = ? AND child_batch_id IN ?", plantId, frontier).
				Find(&relations).Error
		} else {
			err = tx.Where("plant_id = ? AND parent_batch_id IN ?", plantId, frontier).
				Find(&relations).Error
		}
		if err != nil {
			return nil, err
		}

		next := make([]int, 0, len(relations))
		for _, rel := range relations {
			id := rel.ParentBatchId
			if !up {
				id = rel.ChildBatchId
			}
			if _, ok := visited[id]; ok {
				continue
			}
			visited[id] = struct{}{}
			out = append(out, id)
			next = append(next, id)
		}
		frontier = next
	}
	return out, nil
}
