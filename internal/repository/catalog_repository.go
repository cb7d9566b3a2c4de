package repository

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/util"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// CatalogRepository reads the course and enrollment copies supplied by the catalog and enrollment services.
type CatalogRepository struct {
	DB *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{DB: db}
}

func (r *CatalogRepository) FindEnrollment(ctx context.Context, id string) (*model.Enrollment, error) {
	var e model.Enrollment
	err := r.DB.WithContext(ctx).First(&e, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *CatalogRepository) FindCourse(ctx context.Context, id string) (*model.Course, error) {
	var c model.Course
	err := r.DB.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrCourseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CatalogRepository) FindModule(ctx context.Context, id string) (*model.CourseModule, error) {
	var m model.CourseModule
	err := r.DB.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrModuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *CatalogRepository) ListModules(ctx context.Context, courseID string) ([]model.CourseModule, error) {
	var modules []model.CourseModule
	err := r.DB.WithContext(ctx).Where("course_id = ?", courseID).Order("order_index ASC").Find(&modules).Error
	return modules, err
}

// MarkEnrollmentCompleted stamps CompletedAt once; false when it was already set.
func (r *CatalogRepository) MarkEnrollmentCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.Enrollment{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(map[string]interface{}{"completed_at": at, "updated_at": at})
	return res.RowsAffected == 1, res.Error
}
