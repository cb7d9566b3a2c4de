package service

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/util"
	"assessment_engine/pkg/logger"
	"assessment_engine/pkg/monitoring"
	"assessment_engine/pkg/tracing"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GradingService turns an ended session into its single GradedResult and drives the cascade.
// Callers hold the session lock; only the winner of the terminal transition calls Finalize,
// and the sweep retries sessions that ended without being graded.
type GradingService struct {
	Attempts AttemptStore
	Results  ResultStore
	Banks    *BankCache
	Cascade  ResultApplier
	Events   EventPublisher
	now      func() time.Time
}

func NewGradingService(attempts AttemptStore, results ResultStore, banks *BankCache, cascade ResultApplier, events EventPublisher) *GradingService {
	return &GradingService{
		Attempts: attempts,
		Results:  results,
		Banks:    banks,
		Cascade:  cascade,
		Events:   events,
		now:      time.Now,
	}
}

func (s *GradingService) Finalize(ctx context.Context, sessionID string) (*model.GradedResult, error) {
	ctx, span := tracing.StartSpan(ctx, "grading.finalize", attribute.String("session.id", sessionID))
	defer span.End()

	log := logger.Session(sessionID)

	session, err := s.Attempts.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == model.AttemptInProgress {
		return nil, util.ErrSessionNotTerminal
	}

	result, err := s.Results.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if result == nil {
		bank, err := s.Banks.Load(ctx, session.AssessmentID)
		if err != nil {
			return nil, err
		}
		rows, err := s.Attempts.ListResponses(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		graded := Grade(session, bank, model.NewResponseSet(rows), s.now())
		err = s.Results.Create(ctx, graded)
		switch {
		case errors.Is(err, gorm.ErrDuplicatedKey):
			// graded concurrently elsewhere; finish the cascade against the stored row
			result, err = s.Results.FindBySession(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			if result == nil {
				return nil, fmt.Errorf("save graded result: duplicate reported for session %s but no row found", sessionID)
			}
		case err != nil:
			return nil, fmt.Errorf("save graded result: %w", err)
		default:
			result = graded
			monitoring.Grades.WithLabelValues(string(result.GradingMethod), passedLabel(result.Passed)).Inc()
			log.Info("Attempt graded",
				zap.Int("score", result.Score),
				zap.Int("maxScore", result.MaxScore),
				zap.String("gradingMethod", string(result.GradingMethod)))

			Emit(ctx, s.Events, model.EngineEvent{
				Type:         model.EventAttemptGraded,
				EnrollmentID: result.EnrollmentID,
				ModuleID:     result.ModuleID,
				LearnerID:    result.LearnerID,
				OccurredAt:   result.GradedAt,
				Payload:      result,
			})
		}
	}

	if s.Cascade != nil && result.EnrollmentID != "" {
		if _, err := s.Cascade.ApplyGradedResult(ctx, result); err != nil {
			if !PermanentCascadeError(err) {
				return nil, fmt.Errorf("progress cascade: %w", err)
			}
			// retrying cannot fix a missing or foreign enrollment; keep the grade and stop the sweep
			log.Error("Progress cascade rejected graded result",
				zap.String("resultId", result.ID),
				zap.String("enrollmentId", result.EnrollmentID),
				zap.Error(err))
		}
	}

	if session.Status != model.AttemptGraded {
		if _, err := s.Attempts.MarkGraded(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// PermanentCascadeError reports cascade failures that no retry can heal.
func PermanentCascadeError(err error) bool {
	return errors.Is(err, util.ErrEnrollmentNotFound) ||
		errors.Is(err, util.ErrModuleNotFound) ||
		errors.Is(err, util.ErrCourseNotFound) ||
		errors.Is(err, util.ErrPermissionDenied)
}

func passedLabel(p *bool) string {
	if p == nil {
		return "pending"
	}
	return strconv.FormatBool(*p)
}
