package repository

import (
	"assessment_engine/internal/model"
	"context"

	"gorm.io/gorm"
)

type ProctoringRepository struct {
	DB *gorm.DB
}

func NewProctoringRepository(db *gorm.DB) *ProctoringRepository {
	return &ProctoringRepository{DB: db}
}

func (r *ProctoringRepository) Append(ctx context.Context, rec *model.ProctoringEventRecord) error {
	return r.DB.WithContext(ctx).Create(rec).Error
}

func (r *ProctoringRepository) ListBySession(ctx context.Context, sessionID string) ([]model.ProctoringEventRecord, error) {
	var recs []model.ProctoringEventRecord
	err := r.DB.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&recs).Error
	return recs, err
}
