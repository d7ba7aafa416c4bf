package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// callRecord is the GORM row shape. The result is kept as JSON text so the same
// table works on sqlite and Postgres.
type callRecord struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	Phone          string    `gorm:"not null"`
	Strategy       string    `gorm:"not null;index"`
	ProviderCallID *string   `gorm:"column:provider_call_id"`
	Status         string    `gorm:"not null;index:idx_calls_status_updated,priority:1"`
	RawResult      *string   `gorm:"column:raw_result;type:text"`
	CreatedAt      time.Time `gorm:"not null;index;autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"not null;index:idx_calls_status_updated,priority:2;autoUpdateTime:false"`
}

func (callRecord) TableName() string { return "calls" }

// GormRepo is the local/dev store (sqlite by default).
type GormRepo struct {
	db *gorm.DB
}

func NewGormRepo(db *gorm.DB) *GormRepo { return &GormRepo{db: db} }

var _ Repository = (*GormRepo)(nil)

func (r *GormRepo) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&callRecord{}); err != nil {
		return fmt.Errorf("calls: auto migrate: %w", err)
	}
	return nil
}

func (r *GormRepo) Create(ctx context.Context, c Call) error {
	rec, err := toRecord(c)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("calls: create: %w", err)
	}
	return nil
}

func (r *GormRepo) Get(ctx context.Context, id string) (Call, error) {
	var rec callRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("calls: get: %w", err)
	}
	return fromRecord(rec), nil
}

func (r *GormRepo) List(ctx context.Context, f ListFilter) ([]Call, error) {
	f = f.withDefaults()

	q := r.db.WithContext(ctx).Model(&callRecord{})
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(f.Statuses))
	}
	if f.Strategy != "" {
		q = q.Where("strategy = ?", string(f.Strategy))
	}
	if !f.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < ?", f.UpdatedBefore.UTC())
	}

	var recs []callRecord
	if err := q.Order("created_at DESC").Order("id DESC").Limit(f.Limit).Offset(f.Offset).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("calls: list: %w", err)
	}
	out := make([]Call, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

func (r *GormRepo) SetProviderCallID(ctx context.Context, id, providerCallID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&callRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"provider_call_id": providerCallID, "updated_at": at.UTC()})
	if res.Error != nil {
		return fmt.Errorf("calls: set provider id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepo) TransitionStatus(ctx context.Context, id string, from, to CallStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&callRecord{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": at.UTC()})
	return r.conditional(ctx, id, res)
}

func (r *GormRepo) Finalize(ctx context.Context, id string, to CallStatus, result DetectionResult, at time.Time) (bool, error) {
	b, err := EncodeResult(result)
	if err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Model(&callRecord{}).
		Where("id = ? AND status NOT IN ?", id, statusStrings(TerminalStatuses())).
		Updates(map[string]any{"status": string(to), "raw_result": string(b), "updated_at": at.UTC()})
	return r.conditional(ctx, id, res)
}

func (r *GormRepo) DeleteAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("1 = 1").Delete(&callRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("calls: delete all: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *GormRepo) conditional(ctx context.Context, id string, res *gorm.DB) (bool, error) {
	if res.Error != nil {
		return false, fmt.Errorf("calls: conditional update: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func toRecord(c Call) (callRecord, error) {
	rec := callRecord{
		ID:        c.ID,
		Phone:     c.Phone,
		Strategy:  string(c.Strategy),
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
	}
	if c.ProviderCallID != "" {
		p := c.ProviderCallID
		rec.ProviderCallID = &p
	}
	if c.Result != nil {
		b, err := EncodeResult(*c.Result)
		if err != nil {
			return callRecord{}, err
		}
		s := string(b)
		rec.RawResult = &s
	}
	return rec, nil
}

func fromRecord(rec callRecord) Call {
	c := Call{
		ID:        rec.ID,
		Phone:     rec.Phone,
		Strategy:  Strategy(rec.Strategy),
		Status:    CallStatus(rec.Status),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.ProviderCallID != nil {
		c.ProviderCallID = *rec.ProviderCallID
	}
	if rec.RawResult != nil {
		res, err := DecodeResult([]byte(*rec.RawResult))
		if err != nil {
			c.ResultUndecodable = true
		} else {
			c.Result = res
		}
	}
	return c
}
