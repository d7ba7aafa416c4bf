package audit

import (
	"context"

	"gorm.io/gorm"
)

// GormRepo stores events in the same database as calls. It only ever inserts.
type GormRepo struct {
	db *gorm.DB
}

func NewGormRepo(db *gorm.DB) *GormRepo { return &GormRepo{db: db} }

func (r *GormRepo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Event{})
}

func (r *GormRepo) Append(ctx context.Context, e Event) error {
	return r.db.WithContext(ctx).Create(&e).Error
}

func (r *GormRepo) Recent(ctx context.Context, limit int) ([]Event, error) {
	var out []Event
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
