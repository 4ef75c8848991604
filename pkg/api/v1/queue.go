package v1

import (
	"time"

	"salesflow/pkg/constraints"
)

// QueueEvent is one lifecycle change of a queue entry as published on the
// admin stream. Seq grows monotonically per server process.
type QueueEvent struct {
	Seq             int64              `json:"seq"`
	EntryID         int64              `json:"entry_id,omitempty"`
	ExternalEventID string             `json:"external_event_id,omitempty"`
	Action          constraints.Action `json:"action"`
	Attempts        int                `json:"attempts,omitempty"`
	Error           string             `json:"error,omitempty"`
	At              time.Time          `json:"at"`
}

// EnqueueResponse is the webhook acknowledgement.
type EnqueueResponse struct {
	ID    int64 `json:"id"`
	IsNew bool  `json:"is_new"`
}
