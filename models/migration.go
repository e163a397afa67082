package models

import (
	"log"

	"github.com/mmdatafocus/mes_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Material{}, &Product{}, &Equipment{}, &Operator{}, &Location{}, &OrderLine{},
		&BomRequirement{},
		&Process{}, &Operation{},
		&Batch{}, &BatchQuantityAdjustment{}, &BatchRelation{},
		&InventoryLine{}, &InventoryMovement{},
		&BatchOrderAllocation{},
		&ProductionConfirmation{}, &ConfirmationConsumedLine{}, &ConfirmationOutputLine{},
		&ConfirmationResourceLine{}, &ConfirmationParameterValue{},
		&QuantityPolicy{}, &BatchSizePolicy{}, &BatchNumberConfig{}, &BatchNumberSequence{},
		&AuditRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
