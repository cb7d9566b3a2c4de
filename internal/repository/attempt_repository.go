package repository

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/util"
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

// Create inserts a new in-progress session. The (assessment, learner, active_slot) unique
// index rejects a second in-progress session even across processes.
func (r *AttemptRepository) Create(ctx context.Context, s *model.AttemptSession) error {
	err := r.DB.WithContext(ctx).Create(s).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: an attempt is already in progress", util.ErrAttemptLimitExceeded)
	}
	return err
}

func (r *AttemptRepository) FindByID(ctx context.Context, id string) (*model.AttemptSession, error) {
	var s model.AttemptSession
	err := r.DB.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindActive returns the in-progress session of a learner for an assessment, or nil.
func (r *AttemptRepository) FindActive(ctx context.Context, assessmentID, learnerID string) (*model.AttemptSession, error) {
	var s model.AttemptSession
	err := r.DB.WithContext(ctx).
		Where("assessment_id = ? AND learner_id = ? AND status = ?", assessmentID, learnerID, model.AttemptInProgress).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *AttemptRepository) CountTerminal(ctx context.Context, assessmentID, learnerID string) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.AttemptSession{}).
		Where("assessment_id = ? AND learner_id = ? AND status IN ?", assessmentID, learnerID, model.TerminalStatuses).
		Count(&count).Error
	return count, err
}

// EndSession moves an in-progress session to reason (submitted, expired or suspended).
// It reports false when the session was no longer in progress.
func (r *AttemptRepository) EndSession(ctx context.Context, id string, reason model.AttemptStatus, at time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.AttemptSession{}).
		Where("id = ? AND status = ?", id, model.AttemptInProgress).
		Updates(map[string]interface{}{
			"status":      reason,
			"end_reason":  reason,
			"ended_at":    at,
			"active_slot": nil,
			"updated_at":  at,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkGraded moves an ended session to graded.
func (r *AttemptRepository) MarkGraded(ctx context.Context, id string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.AttemptSession{}).
		Where("id = ? AND status IN ?", id, []model.AttemptStatus{model.AttemptSubmitted, model.AttemptExpired, model.AttemptSuspended}).
		Updates(map[string]interface{}{
			"status":     model.AttemptGraded,
			"updated_at": time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// ViolationUpdate is applied atomically to an in-progress session.
type ViolationUpdate struct {
	Score      int
	FlagReview bool
	Suspend    bool
	At         time.Time
}

func (r *AttemptRepository) ApplyViolation(ctx context.Context, id string, u ViolationUpdate) (bool, error) {
	updates := map[string]interface{}{
		"violation_score": u.Score,
		"updated_at":      u.At,
	}
	if u.FlagReview {
		updates["manual_review_required"] = true
	}
	if u.Suspend {
		updates["status"] = model.AttemptSuspended
		updates["end_reason"] = model.AttemptSuspended
		updates["ended_at"] = u.At
		updates["active_slot"] = nil
	}
	res := r.DB.WithContext(ctx).Model(&model.AttemptSession{}).
		Where("id = ? AND status = ?", id, model.AttemptInProgress).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// UpsertResponse overwrites any earlier response to the same question.
func (r *AttemptRepository) UpsertResponse(ctx context.Context, resp *model.AttemptResponse) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "option_ids", "text", "updated_at"}),
	}).Create(resp).Error
}

func (r *AttemptRepository) ListResponses(ctx context.Context, sessionID string) ([]model.AttemptResponse, error) {
	var rows []model.AttemptResponse
	err := r.DB.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&rows).Error
	return rows, err
}

// ListDue returns in-progress sessions whose deadline is at or before cutoff.
func (r *AttemptRepository) ListDue(ctx context.Context, cutoff time.Time, limit int) ([]model.AttemptSession, error) {
	var sessions []model.AttemptSession
	err := r.DB.WithContext(ctx).
		Where("status = ? AND deadline IS NOT NULL AND deadline <= ?", model.AttemptInProgress, cutoff).
		Order("deadline ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ListEndedUngraded returns sessions that ended but were never graded, e.g. after a crash between the two steps.
func (r *AttemptRepository) ListEndedUngraded(ctx context.Context, endedBefore time.Time, limit int) ([]model.AttemptSession, error) {
	var sessions []model.AttemptSession
	err := r.DB.WithContext(ctx).
		Where("status IN ? AND ended_at <= ?", []model.AttemptStatus{model.AttemptSubmitted, model.AttemptExpired, model.AttemptSuspended}, endedBefore).
		Order("ended_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}
