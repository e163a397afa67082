package models

import (
	"fmt"
)

type BatchStatus string

const (
	BatchStatusAvailable BatchStatus = "AVAILABLE"
	BatchStatusConsumed  BatchStatus = "CONSUMED"
	BatchStatusBlocked   BatchStatus = "BLOCKED"
	BatchStatusScrapped  BatchStatus = "SCRAPPED"
)

type InventoryState string

const (
	InventoryStateAvailable InventoryState = "AVAILABLE"
	InventoryStateBlocked   InventoryState = "BLOCKED"
	InventoryStateScrapped  InventoryState = "SCRAPPED"
	InventoryStateReserved  InventoryState = "RESERVED"
)

type MovementType string

const (
	MovementTypeConsume MovementType = "CONSUME"
	MovementTypeProduce MovementType = "PRODUCE"
	MovementTypeHold    MovementType = "HOLD"
	MovementTypeRelease MovementType = "RELEASE"
	MovementTypeScrap   MovementType = "SCRAP"
)

type RelationType string

const (
	RelationTypeSplit     RelationType = "SPLIT"
	RelationTypeMerge     RelationType = "MERGE"
	RelationTypeTransform RelationType = "TRANSFORM"
)

type AllocationStatus string

const (
	AllocationStatusAllocated AllocationStatus = "ALLOCATED"
	AllocationStatusReleased  AllocationStatus = "RELEASED"
)

type ConfirmationStatus string

const (
	ConfirmationStatusConfirmed ConfirmationStatus = "CONFIRMED"
	ConfirmationStatusRejected  ConfirmationStatus = "REJECTED"
)

type OutputLineKind string

const (
	OutputLineKindOutput OutputLineKind = "OUTPUT"
	OutputLineKindScrap  OutputLineKind = "SCRAP"
)

type ResourceLineKind string

const (
	ResourceLineKindEquipment ResourceLineKind = "EQUIPMENT"
	ResourceLineKindOperator  ResourceLineKind = "OPERATOR"
)

type OperationStatus string

const (
	OperationStatusNotStarted OperationStatus = "NOT_STARTED"
	OperationStatusReady      OperationStatus = "READY"
	OperationStatusInProgress OperationStatus = "IN_PROGRESS"
	OperationStatusConfirmed  OperationStatus = "CONFIRMED"
	OperationStatusOnHold     OperationStatus = "ON_HOLD"
	OperationStatusBlocked    OperationStatus = "BLOCKED"
)

type ProcessStatus string

const (
	ProcessStatusNotStarted ProcessStatus = "NOT_STARTED"
	ProcessStatusInProgress ProcessStatus = "IN_PROGRESS"
	ProcessStatusCompleted  ProcessStatus = "COMPLETED"
)

type RoundingRule string

const (
	RoundingRuleHalfUp   RoundingRule = "HALF_UP"
	RoundingRuleHalfDown RoundingRule = "HALF_DOWN"
	RoundingRuleCeiling  RoundingRule = "CEILING"
	RoundingRuleFloor    RoundingRule = "FLOOR"
)

type SequenceReset string

const (
	SequenceResetNever   SequenceReset = "NEVER"
	SequenceResetDaily   SequenceReset = "DAILY"
	SequenceResetMonthly SequenceReset = "MONTHLY"
	SequenceResetYearly  SequenceReset = "YEARLY"
)

type AdjustmentType string

const (
	AdjustmentTypeCorrection AdjustmentType = "CORRECTION"
	AdjustmentTypeDamage     AdjustmentType = "DAMAGE"
	AdjustmentTypeRecount    AdjustmentType = "RECOUNT"
)

func ParseAdjustmentType(s string) (AdjustmentType, error) {
	switch AdjustmentType(s) {
	case AdjustmentTypeCorrection, AdjustmentTypeDamage, AdjustmentTypeRecount:
		return AdjustmentType(s), nil
	}
	return "", fmt.Errorf("invalid adjustment type %q", s)
}

// Audit event types emitted through the outbox.
type AuditEventType string

const (
	AuditEventConfirmation      AuditEventType = "PRODUCTION_CONFIRMED"
	AuditEventRejection         AuditEventType = "CONFIRMATION_REJECTED"
	AuditEventAllocation        AuditEventType = "BATCH_ALLOCATED"
	AuditEventAllocationRelease AuditEventType = "ALLOCATION_RELEASED"
	AuditEventAdjustment        AuditEventType = "BATCH_QUANTITY_ADJUSTED"
)
