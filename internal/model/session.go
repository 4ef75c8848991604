package model

import "time"

// Session is the durable per-user funnel state. Criteria live in typed
// columns; FunnelState holds the string form of funnel.State.
type Session struct {
	ID              uint64    `json:"id" gorm:"primaryKey"`
	UserKey         string    `json:"user_key" gorm:"size:128;not null;uniqueIndex"`
	FunnelState     string    `json:"funnel_state" gorm:"size:32;not null"`
	Grade           *int      `json:"grade,omitempty"`
	Goal            *string   `json:"goal,omitempty" gorm:"size:32"`
	Subject         *string   `json:"subject,omitempty" gorm:"size:32"`
	Format          *string   `json:"format,omitempty" gorm:"size:32"`
	Brand           string    `json:"brand" gorm:"size:32;not null"`
	Contact         *string   `json:"contact,omitempty" gorm:"size:64"`
	LastSeenEventID *string   `json:"last_seen_event_id,omitempty" gorm:"size:128"`
	ChatID          int64     `json:"chat_id"`
	DisplayName     string    `json:"display_name" gorm:"size:255"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }
