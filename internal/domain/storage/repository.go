package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, o *StoredObject) error
	GetByPointer(ctx context.Context, pointer string) (*StoredObject, error)
	Delete(ctx context.Context, pointer string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, o *StoredObject) error {
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *repository) GetByPointer(ctx context.Context, pointer string) (*StoredObject, error) {
	var o StoredObject
	err := r.db.WithContext(ctx).Where("pointer = ?", pointer).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrObjectNotFound
	}
	return &o, err
}

func (r *repository) Delete(ctx context.Context, pointer string) error {
	return r.db.WithContext(ctx).Where("pointer = ?", pointer).Delete(&StoredObject{}).Error
}
