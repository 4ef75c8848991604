package model

import "time"

type Lead struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	UserKey    string    `json:"user_key" gorm:"size:128;index"`
	Status     string    `json:"status" gorm:"size:16"`
	CRMEntryID string    `json:"crm_entry_id" gorm:"size:128"`
	Phone      string    `json:"phone" gorm:"size:32"`
	Brand      string    `json:"brand" gorm:"size:32"`
	Source     string    `json:"source" gorm:"size:64"`
	Error      string    `json:"error,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

func (Lead) TableName() string { return "leads" }

const (
	LeadStatusCreated = "created"
	LeadStatusFailed  = "failed"
	// LeadStatusSkipped records a completed funnel while the CRM is disabled.
	LeadStatusSkipped = "skipped"
)
