package workflow

import (
	"fmt"

	"github.com/mmdatafocus/mes_backend/utils"
	"gorm.io/gorm"
)

// AcquireOperationPostingLock serializes posting per operation across
// instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that will do the posting transaction.
func AcquireOperationPostingLock(tx *gorm.DB, plantId string, operationId int) error {
	lockName := fmt.Sprintf("posting:%s:%d", plantId, operationId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return utils.ErrConflict
	}
	return nil
}

func ReleaseOperationPostingLock(tx *gorm.DB, plantId string, operationId int) {
	lockName := fmt.Sprintf("posting:%s:%d", plantId, operationId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
