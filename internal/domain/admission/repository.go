package admission

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, v *VerdictRecord) error
	GetByID(ctx context.Context, id string) (*VerdictRecord, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, v *VerdictRecord) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *repository) GetByID(ctx context.Context, id string) (*VerdictRecord, error) {
	var v VerdictRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&v).Error
	return &v, err
}
