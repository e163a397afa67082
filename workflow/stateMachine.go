package workflow

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/mes_backend/models"
	"gorm.io/gorm"
)

// operationTransitions is the single source of truth for legal operation
// status changes. Transition rules live here, not scattered across handlers.
var operationTransitions = map[models.OperationStatus][]models.OperationStatus{
	models.OperationStatusNotStarted: {models.OperationStatusReady},
	models.OperationStatusReady: {
		models.OperationStatusInProgress,
		models.OperationStatusConfirmed,
		models.OperationStatusOnHold,
		models.OperationStatusBlocked,
	},
	models.OperationStatusInProgress: {
		models.OperationStatusConfirmed,
		models.OperationStatusOnHold,
		models.OperationStatusBlocked,
	},
	models.OperationStatusOnHold:  {models.OperationStatusInProgress},
	models.OperationStatusBlocked: {models.OperationStatusReady},
	// CONFIRMED exits only through rejection, handled explicitly.
	models.OperationStatusConfirmed: {models.OperationStatusReady},
}

// CanTransitionOperation reports whether from -> to is a legal move.
func CanTransitionOperation(from models.OperationStatus, to models.OperationStatus) bool {
	for _, allowed := range operationTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionOperation applies a legal status change.
func TransitionOperation(tx *gorm.DB, operation *models.Operation, to models.OperationStatus) error {
	if !CanTransitionOperation(operation.Status, to) {
		return fmt.Errorf("operation %d cannot move %s -> %s", operation.ID, operation.Status, to)
	}
	if err := tx.Model(&models.Operation{}).
		Where("id = ?", operation.ID).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()}).Error; err != nil {
		return err
	}
	operation.Status = to
	return nil
}

// IsConfirmable is the orchestrator's gate: a confirmation is only accepted
// when the operation is READY or IN_PROGRESS.
func IsConfirmable(status models.OperationStatus) bool {
	return status == models.OperationStatusReady || status == models.OperationStatusInProgress
}

// AdvanceProcess recomputes the process after one of its operations changed:
// when every mandatory operation is CONFIRMED the process completes,
// otherwise the next sequential operation is readied and the process is
// marked in progress.
func AdvanceProcess(tx *gorm.DB, plantId string, operation *models.Operation) error {
	remaining, err := models.CountUnconfirmedMandatory(tx, plantId, operation.ProcessId)
	if err != nil {
		return err
	}

	if remaining == 0 {
		return tx.Model(&models.Process{}).
			Where("plant_id = ? AND id = ?", plantId, operation.ProcessId).
			Updates(map[string]interface{}{"status": models.ProcessStatusCompleted, "updated_at": time.Now()}).Error
	}

	if err := tx.Model(&models.Process{}).
		Where("plant_id = ? AND id = ? AND status = ?", plantId, operation.ProcessId, models.ProcessStatusNotStarted).
		Updates(map[string]interface{}{"status": models.ProcessStatusInProgress, "updated_at": time.Now()}).Error; err != nil {
		return err
	}

	next, err := models.GetNextOperation(tx, plantId, operation.ProcessId, operation.Sequence)
	if err != nil {
		return err
	}
	if next != nil && next.Status == models.OperationStatusNotStarted {
		return TransitionOperation(tx, next, models.OperationStatusReady)
	}
	return nil
}
