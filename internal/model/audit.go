package model

import "time"

const AuditActionRequeue = "requeue"

// AdminAudit records one operator action against the queue.
type AdminAudit struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Action    string    `json:"action" gorm:"size:32;index"`
	EntryID   int64     `json:"entry_id" gorm:"index"`
	Operator  string    `json:"operator" gorm:"size:64"`
	TraceID   string    `json:"trace_id" gorm:"size:36;index"`
	IP        string    `json:"ip" gorm:"size:45"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}
