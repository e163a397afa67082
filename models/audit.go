package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/mes_backend/utils"
	"gorm.io/gorm"
)

// Outbox publish states for audit records.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusPublished  = "PUBLISHED"
	OutboxPublishStatusDead       = "DEAD"
)

// AuditRecord implements the transactional outbox for the audit trail: the
// row is written inside the posting transaction, publishing happens
// asynchronously after commit (workflow/outboxDispatcher.go).
type AuditRecord struct {
	ID               int            `gorm:"primary_key" json:"id"`
	PlantId          string         `gorm:"size:36;index;not null" json:"plant_id"`
	EventType        AuditEventType `gorm:"size:50;not null" json:"event_type"`
	ReferenceId      int            `gorm:"index;not null" json:"reference_id"`
	ReferenceType    string         `gorm:"size:20;not null" json:"reference_type"`
	Payload          []byte         `gorm:"type:json" json:"payload"`
	ActorId          int            `json:"actor_id"`
	ActorName        string         `gorm:"size:100" json:"actor_name"`
	CorrelationId    string         `gorm:"size:64;index" json:"correlation_id"`
	PublishStatus    string         `gorm:"size:20;default:PENDING;index" json:"publish_status"`
	PublishAttempts  int            `gorm:"default:0" json:"publish_attempts"`
	LastPublishError *string        `gorm:"size:500" json:"last_publish_error"`
	NextAttemptAt    *time.Time     `json:"next_attempt_at"`
	LockedAt         *time.Time     `json:"locked_at"`
	LockedBy         *string        `gorm:"size:64" json:"locked_by"`
	PublishedAt      *time.Time     `json:"published_at"`
	PubSubMessageId  *string        `gorm:"size:64" json:"pub_sub_message_id"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// CountPendingAudit counts outbox rows not yet published or dead. Feeds the
// outbox depth gauge.
func CountPendingAudit(tx *gorm.DB) (int64, error) {
	var count int64
	err := tx.Model(&AuditRecord{}).
		Where("publish_status NOT IN ?", []string{OutboxPublishStatusPublished, OutboxPublishStatusDead}).
		Count(&count).Error
	return count, err
}

// EmitAudit writes one audit outbox row inside the caller's transaction.
func EmitAudit(ctx context.Context, tx *gorm.DB, plantId string, eventType AuditEventType, refType string, refId int, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	actorName, _ := utils.GetUserNameFromContext(ctx)
	actorId, _ := utils.GetUserIdFromContext(ctx)
	record := AuditRecord{
		PlantId:       plantId,
		EventType:     eventType,
		ReferenceId:   refId,
		ReferenceType: refType,
		Payload:       payloadBytes,
		ActorId:       actorId,
		ActorName:     actorName,
		CorrelationId: correlationIdFromContextOrNew(ctx),
		PublishStatus: OutboxPublishStatusPending,
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
