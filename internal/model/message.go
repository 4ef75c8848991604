package model

import "time"

// MessageLog is one line of conversation history shown to operators.
type MessageLog struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	UserKey   string    `json:"user_key" gorm:"size:128;index"`
	Direction string    `json:"direction" gorm:"size:16"`
	Text      string    `json:"text" gorm:"type:text"`
	Meta      string    `json:"meta" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (MessageLog) TableName() string { return "message_logs" }

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)
