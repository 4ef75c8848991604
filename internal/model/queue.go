package model

import "time"

// QueueEntry is one durable inbound event. Rows are never deleted; failed
// rows stay for operator inspection.
type QueueEntry struct {
	ID              int64      `json:"id" gorm:"primaryKey;autoIncrement;index:idx_queue_claim,priority:3"`
	ExternalEventID *string    `json:"external_event_id,omitempty" gorm:"size:128;uniqueIndex"`
	Payload         string     `json:"payload" gorm:"type:text"`
	Status          string     `json:"status" gorm:"size:16;not null;default:pending;index:idx_queue_claim,priority:1"`
	Attempts        int        `json:"attempts" gorm:"not null;default:0"`
	LastError       *string    `json:"last_error,omitempty" gorm:"type:text"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty" gorm:"index:idx_queue_claim,priority:2"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"index"`
}

func (QueueEntry) TableName() string { return "queue_entries" }

const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusRetry      = "retry"
	QueueStatusDone       = "done"
	QueueStatusFailed     = "failed"
)

// QueueStatuses lists every status in lifecycle order.
var QueueStatuses = []string{
	QueueStatusPending,
	QueueStatusProcessing,
	QueueStatusRetry,
	QueueStatusDone,
	QueueStatusFailed,
}

func IsTerminalQueueStatus(status string) bool {
	return status == QueueStatusDone || status == QueueStatusFailed
}
