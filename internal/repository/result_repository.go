package repository

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/util"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type ResultRepository struct {
	DB *gorm.DB
}

func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{DB: db}
}

func (r *ResultRepository) Create(ctx context.Context, res *model.GradedResult) error {
	return r.DB.WithContext(ctx).Create(res).Error
}

// FindBySession returns the result for a session, or nil when it has not been graded.
func (r *ResultRepository) FindBySession(ctx context.Context, sessionID string) (*model.GradedResult, error) {
	var res model.GradedResult
	err := r.DB.WithContext(ctx).First(&res, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *ResultRepository) FindByID(ctx context.Context, id string) (*model.GradedResult, error) {
	var res model.GradedResult
	err := r.DB.WithContext(ctx).First(&res, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListPending returns results awaiting manual review, oldest first. An empty assessmentID lists all.
func (r *ResultRepository) ListPending(ctx context.Context, assessmentID string, page, limit int) ([]model.GradedResult, int64, error) {
	query := r.DB.WithContext(ctx).Model(&model.GradedResult{}).
		Where("grading_method = ?", model.GradingManualReviewPending)
	if assessmentID != "" {
		query = query.Where("assessment_id = ?", assessmentID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var results []model.GradedResult
	err := query.Order("graded_at ASC").Offset((page - 1) * limit).Limit(limit).Find(&results).Error
	return results, total, err
}

// ReviewUpdate is the reviewer's verdict for a pending result.
type ReviewUpdate struct {
	Score           int
	NormalizedScore float64
	Passed          bool
	ReviewerID      string
	Comment         string
	At              time.Time
}

// Resolve moves a pending result to manual_review_resolved; false when it was not pending.
// The row stays cascade_pending until MarkCascaded confirms progress picked up the verdict.
func (r *ResultRepository) Resolve(ctx context.Context, id string, u ReviewUpdate) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.GradedResult{}).
		Where("id = ? AND grading_method = ?", id, model.GradingManualReviewPending).
		Updates(map[string]interface{}{
			"score":            u.Score,
			"normalized_score": u.NormalizedScore,
			"passed":           u.Passed,
			"grading_method":   model.GradingManualReviewResolved,
			"reviewer_id":      u.ReviewerID,
			"review_comment":   u.Comment,
			"reviewed_at":      u.At,
			"cascade_pending":  true,
			"updated_at":       u.At,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *ResultRepository) MarkCascaded(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Model(&model.GradedResult{}).
		Where("id = ?", id).
		Update("cascade_pending", false).Error
}

// ListCascadePending returns resolved reviews whose progress cascade has not completed.
func (r *ResultRepository) ListCascadePending(ctx context.Context, limit int) ([]model.GradedResult, error) {
	var results []model.GradedResult
	err := r.DB.WithContext(ctx).
		Where("cascade_pending = ?", true).
		Order("reviewed_at ASC").
		Limit(limit).
		Find(&results).Error
	return results, err
}
