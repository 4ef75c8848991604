package resp

import (
	"time"

	"salesflow/internal/model"
)

type QueueEntryItem struct {
	ID              int64      `json:"id"`
	ExternalEventID string     `json:"external_event_id,omitempty"`
	Status          string     `json:"status"`
	Attempts        int        `json:"attempts"`
	LastError       string     `json:"last_error,omitempty"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	// Payload is only filled for single-entry lookups.
	Payload string `json:"payload,omitempty"`
}

func NewQueueEntryItem(e *model.QueueEntry, withPayload bool) QueueEntryItem {
	item := QueueEntryItem{
		ID:            e.ID,
		Status:        e.Status,
		Attempts:      e.Attempts,
		NextAttemptAt: e.NextAttemptAt,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
	if e.ExternalEventID != nil {
		item.ExternalEventID = *e.ExternalEventID
	}
	if e.LastError != nil {
		item.LastError = *e.LastError
	}
	if withPayload {
		item.Payload = e.Payload
	}
	return item
}

type QueueListResponse struct {
	Data  []QueueEntryItem `json:"data"`
	Total int64            `json:"total"`
}

type QueueStatsResponse struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

type LeadListResponse struct {
	Data  []model.Lead `json:"data"`
	Total int64        `json:"total"`
}

type ConversationResponse struct {
	Session  *model.Session     `json:"session"`
	Messages []model.MessageLog `json:"messages"`
}

type AuditListResponse struct {
	Data  []model.AdminAudit `json:"data"`
	Total int64              `json:"total"`
}
