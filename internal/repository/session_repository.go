package repository

import (
	"context"
	"errors"

	"github.com/mitchellh/mapstructure"
	pkgerrors "github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/domain"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no session record matches the id.
var ErrNotFound = errors.New("session record not found")

// SessionRepository is the durable mirror of session state.
type SessionRepository interface {
	// FindByID returns ErrNotFound when the record is absent
	FindByID(ctx context.Context, id string) (*domain.WaSession, error)

	// Upsert creates the record with the given fields or updates it in place
	Upsert(ctx context.Context, id string, fields map[string]interface{}) error

	// Update changes fields of an existing record
	Update(ctx context.Context, id string, fields map[string]interface{}) error

	Delete(ctx context.Context, id string) error

	ListAll(ctx context.Context) ([]*domain.WaSession, error)
}

// GormSessionRepository is the GORM implementation of SessionRepository
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a new GORM-based repository
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.WaSession, error) {
	var rec domain.WaSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "find session %s", id)
	}
	return &rec, nil
}

func (r *GormSessionRepository) Upsert(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.WaSession{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return pkgerrors.Wrapf(err, "lookup session %s", id)
		}
		if count > 0 {
			if len(fields) == 0 {
				return nil
			}
			return pkgerrors.Wrapf(tx.Model(&domain.WaSession{}).Where("id = ?", id).Updates(fields).Error,
				"update session %s", id)
		}

		rec := &domain.WaSession{}
		if err := mapstructure.Decode(fields, rec); err != nil {
			return pkgerrors.Wrap(err, "decode session fields")
		}
		rec.ID = id
		return pkgerrors.Wrapf(tx.Create(rec).Error, "create session %s", id)
	})
}

func (r *GormSessionRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&domain.WaSession{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return pkgerrors.Wrapf(res.Error, "update session %s", id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormSessionRepository) Delete(ctx context.Context, id string) error {
	return pkgerrors.Wrapf(r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.WaSession{}).Error,
		"delete session %s", id)
}

func (r *GormSessionRepository) ListAll(ctx context.Context) ([]*domain.WaSession, error) {
	var recs []*domain.WaSession
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "list sessions")
	}
	return recs, nil
}
