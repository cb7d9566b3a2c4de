package service

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/repository"
	"assessment_engine/internal/util"
	"assessment_engine/pkg/logger"
	"assessment_engine/pkg/monitoring"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ReviewDecision is a reviewer's manual verdict. When Passed is omitted it is derived from Score.
type ReviewDecision struct {
	Score   int    `json:"score"`
	Passed  *bool  `json:"passed"`
	Comment string `json:"comment"`
}

type ReviewService struct {
	Results ResultStore
	Banks   *BankCache
	Cascade ResultApplier
	Events  EventPublisher
	now     func() time.Time
}

func NewReviewService(results ResultStore, banks *BankCache, cascade ResultApplier, events EventPublisher) *ReviewService {
	return &ReviewService{Results: results, Banks: banks, Cascade: cascade, Events: events, now: time.Now}
}

func (s *ReviewService) ListPending(ctx context.Context, assessmentID string, page, limit int) ([]model.GradedResult, int64, error) {
	return s.Results.ListPending(ctx, assessmentID, page, limit)
}

// Resolve records the verdict once and re-runs the cascade as automatic grading would.
// A verdict whose cascade failed stays cascade-pending; resolving it again only retries the
// cascade with the stored verdict.
func (s *ReviewService) Resolve(ctx context.Context, resultID, reviewerID string, d ReviewDecision) (*model.GradedResult, error) {
	result, err := s.Results.FindByID(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if result.GradingMethod == model.GradingManualReviewResolved && result.CascadePending {
		if err := s.applyVerdict(ctx, result); err != nil {
			return nil, err
		}
		return result, nil
	}
	if result.GradingMethod != model.GradingManualReviewPending {
		return nil, util.ErrReviewNotPending
	}
	if d.Score < 0 || d.Score > result.MaxScore {
		return nil, fmt.Errorf("%w: score %d outside 0-%d", util.ErrInvalidResponse, d.Score, result.MaxScore)
	}

	bank, err := s.Banks.Load(ctx, result.AssessmentID)
	if err != nil {
		return nil, err
	}
	passed := Passes(d.Score, result.MaxScore, bank.Assessment.PassingScore)
	if d.Passed != nil {
		passed = *d.Passed
	}

	now := s.now()
	ok, err := s.Results.Resolve(ctx, resultID, repository.ReviewUpdate{
		Score:           d.Score,
		NormalizedScore: Normalize(d.Score, result.MaxScore),
		Passed:          passed,
		ReviewerID:      reviewerID,
		Comment:         d.Comment,
		At:              now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.ErrReviewNotPending
	}

	resolved, err := s.Results.FindByID(ctx, resultID)
	if err != nil {
		return nil, err
	}

	monitoring.Grades.WithLabelValues(string(resolved.GradingMethod), passedLabel(resolved.Passed)).Inc()
	logger.Session(resolved.SessionID).Info("Manual review resolved",
		zap.String("resultId", resultID),
		zap.String("reviewerId", reviewerID),
		zap.Bool("passed", passed))

	Emit(ctx, s.Events, model.EngineEvent{
		Type:         model.EventReviewResolved,
		EnrollmentID: resolved.EnrollmentID,
		ModuleID:     resolved.ModuleID,
		LearnerID:    resolved.LearnerID,
		OccurredAt:   now,
		Payload:      resolved,
	})

	if err := s.applyVerdict(ctx, resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

// applyVerdict runs the progress cascade for a resolved result and clears its pending marker.
// Transient failures leave the marker set for the next retry.
func (s *ReviewService) applyVerdict(ctx context.Context, result *model.GradedResult) error {
	if s.Cascade != nil && result.EnrollmentID != "" {
		if _, err := s.Cascade.ApplyGradedResult(ctx, result); err != nil {
			if !PermanentCascadeError(err) {
				return fmt.Errorf("progress cascade: %w", err)
			}
			logger.Session(result.SessionID).Error("Progress cascade rejected reviewed result",
				zap.String("resultId", result.ID),
				zap.String("enrollmentId", result.EnrollmentID),
				zap.Error(err))
		}
	}
	if err := s.Results.MarkCascaded(ctx, result.ID); err != nil {
		return err
	}
	result.CascadePending = false
	return nil
}

// ReapplyPendingCascades retries the cascade of reviews whose verdict was stored but not applied.
func (s *ReviewService) ReapplyPendingCascades(ctx context.Context) (int, error) {
	pending, err := s.Results.ListCascadePending(ctx, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	applied := 0
	for i := range pending {
		if err := s.applyVerdict(ctx, &pending[i]); err != nil {
			logger.Session(pending[i].SessionID).Error("Failed to re-apply review verdict",
				zap.String("resultId", pending[i].ID),
				zap.Error(err))
			continue
		}
		applied++
	}
	return applied, nil
}
