package repository

import (
	"context"

	"salesflow/internal/model"

	"gorm.io/gorm"
)

type LeadInterface interface {
	Create(ctx context.Context, lead *model.Lead) error
	List(ctx context.Context, limit, offset int) ([]model.Lead, int64, error)
}

type LeadRepository struct {
	db *gorm.DB
}

func NewLeadRepository(db *gorm.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

func (r *LeadRepository) Create(ctx context.Context, lead *model.Lead) error {
	return r.db.WithContext(ctx).Create(lead).Error
}

func (r *LeadRepository) List(ctx context.Context, limit, offset int) ([]model.Lead, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Lead{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var leads []model.Lead
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Offset(offset).Find(&leads).Error
	return leads, total, err
}
