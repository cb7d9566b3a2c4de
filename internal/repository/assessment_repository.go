package repository

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/util"
	"context"
	"errors"

	"gorm.io/gorm"
)

type AssessmentRepository struct {
	DB *gorm.DB
}

func NewAssessmentRepository(db *gorm.DB) *AssessmentRepository {
	return &AssessmentRepository{DB: db}
}

// FindAssessment loads the definition with its ordered questions, options and anti-fraud policy.
func (r *AssessmentRepository) FindAssessment(ctx context.Context, id string) (*model.AssessmentDefinition, error) {
	var def model.AssessmentDefinition
	err := r.DB.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index ASC")
		}).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index ASC")
		}).
		Preload("Policy").
		First(&def, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAssessmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// Save writes a full definition graph; used when the catalog pushes a new assessment version.
func (r *AssessmentRepository) Save(ctx context.Context, def *model.AssessmentDefinition) error {
	return r.DB.WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Create(def).Error
}
