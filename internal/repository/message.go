package repository

import (
	"context"

	"salesflow/internal/model"

	"gorm.io/gorm"
)

type MessageInterface interface {
	Create(ctx context.Context, msg *model.MessageLog) error
	ListByUser(ctx context.Context, userKey string, limit int) ([]model.MessageLog, error)
	WithTx(tx *gorm.DB) MessageInterface
}

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.MessageLog) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// ListByUser returns the latest limit messages in chronological order.
func (r *MessageRepository) ListByUser(ctx context.Context, userKey string, limit int) ([]model.MessageLog, error) {
	var msgs []model.MessageLog
	err := r.db.WithContext(ctx).Where("user_key = ?", userKey).
		Order("id DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *MessageRepository) WithTx(tx *gorm.DB) MessageInterface {
	return &MessageRepository{db: tx}
}
