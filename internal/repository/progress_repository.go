package repository

import (
	"assessment_engine/internal/model"
	"context"
	"errors"

	"gorm.io/gorm"
)

type ProgressRepository struct {
	DB *gorm.DB
}

func NewProgressRepository(db *gorm.DB) *ProgressRepository {
	return &ProgressRepository{DB: db}
}

// Find returns the progress row for (enrollment, module), or nil.
func (r *ProgressRepository) Find(ctx context.Context, enrollmentID, moduleID string) (*model.EnrollmentModuleProgress, error) {
	var p model.EnrollmentModuleProgress
	err := r.DB.WithContext(ctx).
		Where("enrollment_id = ? AND module_id = ?", enrollmentID, moduleID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProgressRepository) Save(ctx context.Context, p *model.EnrollmentModuleProgress) error {
	if p.ID == "" {
		return r.DB.WithContext(ctx).Create(p).Error
	}
	return r.DB.WithContext(ctx).Save(p).Error
}

func (r *ProgressRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]model.EnrollmentModuleProgress, error) {
	var rows []model.EnrollmentModuleProgress
	err := r.DB.WithContext(ctx).Where("enrollment_id = ?", enrollmentID).Find(&rows).Error
	return rows, err
}
