package repository

import (
	"context"

	"salesflow/internal/model"

	"gorm.io/gorm"
)

type AuditInterface interface {
	Create(ctx context.Context, audit *model.AdminAudit) error
	List(ctx context.Context, limit, offset int) ([]model.AdminAudit, int64, error)
	ListByEntry(ctx context.Context, entryID int64) ([]model.AdminAudit, error)
}

// AuditRepository stores the operator audit trail.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, audit *model.AdminAudit) error {
	return r.db.WithContext(ctx).Create(audit).Error
}

func (r *AuditRepository) List(ctx context.Context, limit, offset int) ([]model.AdminAudit, int64, error) {
	var audits []model.AdminAudit
	var total int64

	db := r.db.WithContext(ctx).Model(&model.AdminAudit{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("id DESC").Offset(offset).Limit(limit).Find(&audits).Error; err != nil {
		return nil, 0, err
	}
	return audits, total, nil
}

func (r *AuditRepository) ListByEntry(ctx context.Context, entryID int64) ([]model.AdminAudit, error) {
	var audits []model.AdminAudit
	err := r.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("id DESC").
		Find(&audits).Error
	return audits, err
}
