package quarantine

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	ListByState(ctx context.Context, state State, contextFilter string) ([]*Record, error)
	ListExpired(ctx context.Context, now time.Time) ([]*Record, error)
	CountReviewable(ctx context.Context) (int64, error)

	// CompareAndSetState commits expected → next only if the stored state
	// still equals expected. Zero rows updated means the caller lost the
	// race (ErrConflict) or the record is gone (ErrRecordNotFound).
	CompareAndSetState(ctx context.Context, id string, expected, next State, extra map[string]any) error

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	AuditTrail(ctx context.Context, recordID string) ([]*AuditEntry, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, rec *Record) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *repository) GetByID(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	return &rec, err
}

func (r *repository) ListByState(ctx context.Context, state State, contextFilter string) ([]*Record, error) {
	q := r.db.WithContext(ctx).Where("state = ?", string(state))
	if contextFilter != "" {
		q = q.Where("context = ?", contextFilter)
	}
	var records []*Record
	err := q.Order("created_at ASC").Find(&records).Error
	return records, err
}

func (r *repository) ListExpired(ctx context.Context, now time.Time) ([]*Record, error) {
	var records []*Record
	err := r.db.WithContext(ctx).
		Where("state IN ? AND deadline < ?", []string{string(StatePending), string(StateEscalated)}, now).
		Order("deadline ASC").
		Find(&records).Error
	return records, err
}

func (r *repository) CountReviewable(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Record{}).
		Where("state IN ?", []string{string(StatePending), string(StateEscalated)}).
		Count(&n).Error
	return n, err
}

func (r *repository) CompareAndSetState(ctx context.Context, id string, expected, next State, extra map[string]any) error {
	updates := map[string]any{
		"state":      string(next),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND state = ?", id, string(expected)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a lost race from a missing record.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (r *repository) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) AuditTrail(ctx context.Context, recordID string) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	err := r.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}
