package service

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/util"
	"assessment_engine/pkg/logger"
	"assessment_engine/pkg/tracing"
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CascadeOutcome reports what one graded result or view changed.
type CascadeOutcome struct {
	Progress        *model.EnrollmentModuleProgress `json:"progress"`
	ModuleCompleted bool                            `json:"moduleCompleted"` // false -> true on this call
	Course          *model.CourseCompletion         `json:"course"`
	Certificate     *IssueResult                    `json:"certificate,omitempty"`
}

type ProgressView struct {
	Enrollment   *model.Enrollment                `json:"enrollment"`
	Course       *model.CourseCompletion          `json:"course"`
	Modules      []model.EnrollmentModuleProgress `json:"modules"`
	Certificates []model.Certificate              `json:"certificates"`
}

type ProgressService struct {
	Progress     ProgressStore
	Catalog      CatalogStore
	Banks        *BankCache
	Certificates CertificateIssuer
	Issued       CertificateStore
	Events       EventPublisher
	locks        *KeyedMutex
	now          func() time.Time
}

func NewProgressService(progress ProgressStore, catalog CatalogStore, banks *BankCache, certs CertificateIssuer, issued CertificateStore, events EventPublisher) *ProgressService {
	return &ProgressService{
		Progress:     progress,
		Catalog:      catalog,
		Banks:        banks,
		Certificates: certs,
		Issued:       issued,
		Events:       events,
		locks:        NewKeyedMutex(),
		now:          time.Now,
	}
}

func (s *ProgressService) loadRow(ctx context.Context, enrollmentID, moduleID string) (*model.EnrollmentModuleProgress, error) {
	p, err := s.Progress.Find(ctx, enrollmentID, moduleID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &model.EnrollmentModuleProgress{EnrollmentID: enrollmentID, ModuleID: moduleID}
	}
	return p, nil
}

// ApplyGradedResult folds a result into module progress, then re-evaluates the course.
// Completion never reverts and the best decided score is kept. Re-applying the same result is a no-op
// apart from picking up a review verdict.
func (s *ProgressService) ApplyGradedResult(ctx context.Context, result *model.GradedResult) (*CascadeOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "progress.apply_result",
		attribute.String("enrollment.id", result.EnrollmentID),
		attribute.String("module.id", result.ModuleID))
	defer span.End()

	if result.EnrollmentID == "" {
		return nil, fmt.Errorf("%w: result %s has no enrollment", util.ErrEnrollmentNotFound, result.ID)
	}

	unlock := s.locks.Lock(result.EnrollmentID)
	defer unlock()

	enrollment, err := s.Catalog.FindEnrollment(ctx, result.EnrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.LearnerID != result.LearnerID {
		return nil, fmt.Errorf("%w: result %s was earned by %s, enrollment %s belongs to %s",
			util.ErrPermissionDenied, result.ID, result.LearnerID, enrollment.ID, enrollment.LearnerID)
	}
	module, err := s.Catalog.FindModule(ctx, result.ModuleID)
	if err != nil {
		return nil, err
	}
	if module.CourseID != enrollment.CourseID {
		return nil, fmt.Errorf("%w: module %s is not part of course %s", util.ErrModuleNotFound, module.ID, enrollment.CourseID)
	}

	p, err := s.loadRow(ctx, result.EnrollmentID, result.ModuleID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := &CascadeOutcome{Progress: p}

	if p.LastResultID != result.ID {
		p.TimeSpent += result.TimeSpent
		p.LastResultID = result.ID
	}
	if result.Passed != nil {
		if p.Score == nil || result.NormalizedScore > *p.Score {
			score := result.NormalizedScore
			p.Score = &score
		}
	}
	if result.IsPassed() && !p.Completed {
		p.Completed = true
		p.CompletionDate = &now
		out.ModuleCompleted = true
	}

	if err := s.Progress.Save(ctx, p); err != nil {
		return nil, err
	}

	if out.ModuleCompleted {
		logger.Log.Info("Module completed",
			zap.String("enrollmentId", result.EnrollmentID),
			zap.String("moduleId", result.ModuleID))
		Emit(ctx, s.Events, model.EngineEvent{
			Type:         model.EventModuleCompleted,
			EnrollmentID: result.EnrollmentID,
			ModuleID:     result.ModuleID,
			LearnerID:    enrollment.LearnerID,
			OccurredAt:   now,
			Payload:      p,
		})
	}

	if result.IsPassed() && module.Kind == model.ModuleExam && s.Certificates != nil {
		bank, err := s.Banks.Load(ctx, result.AssessmentID)
		if err != nil {
			return nil, err
		}
		if bank.Assessment.GeneratesCertificate {
			issued, err := s.Certificates.Issue(ctx, IssueRequest{
				EnrollmentID: result.EnrollmentID,
				ModuleID:     result.ModuleID,
				CourseID:     enrollment.CourseID,
				LearnerID:    enrollment.LearnerID,
				ResultID:     result.ID,
			})
			if err != nil {
				return nil, fmt.Errorf("issue certificate: %w", err)
			}
			out.Certificate = issued
		}
	}

	out.Course, err = s.evaluate(ctx, enrollment)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkViewed completes a lesson module; assessment modules only complete through grading.
func (s *ProgressService) MarkViewed(ctx context.Context, enrollmentID, moduleID string, timeSpent int) (*CascadeOutcome, error) {
	unlock := s.locks.Lock(enrollmentID)
	defer unlock()

	enrollment, err := s.Catalog.FindEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	module, err := s.Catalog.FindModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if module.CourseID != enrollment.CourseID {
		return nil, fmt.Errorf("%w: module %s is not part of course %s", util.ErrModuleNotFound, moduleID, enrollment.CourseID)
	}
	if module.Kind != model.ModuleLesson {
		return nil, util.ErrModuleNotLesson
	}

	p, err := s.loadRow(ctx, enrollmentID, moduleID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := &CascadeOutcome{Progress: p}
	if timeSpent > 0 {
		p.TimeSpent += timeSpent
	}
	if !p.Completed {
		p.Completed = true
		p.CompletionDate = &now
		out.ModuleCompleted = true
	}
	if err := s.Progress.Save(ctx, p); err != nil {
		return nil, err
	}

	if out.ModuleCompleted {
		Emit(ctx, s.Events, model.EngineEvent{
			Type:         model.EventModuleCompleted,
			EnrollmentID: enrollmentID,
			ModuleID:     moduleID,
			LearnerID:    enrollment.LearnerID,
			OccurredAt:   now,
			Payload:      p,
		})
	}

	out.Course, err = s.evaluate(ctx, enrollment)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EvaluateCourse recomputes course completion from this enrollment's progress rows. Safe to re-run.
func (s *ProgressService) EvaluateCourse(ctx context.Context, enrollmentID string) (*model.CourseCompletion, error) {
	unlock := s.locks.Lock(enrollmentID)
	defer unlock()

	enrollment, err := s.Catalog.FindEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	return s.evaluate(ctx, enrollment)
}

func (s *ProgressService) evaluate(ctx context.Context, enrollment *model.Enrollment) (*model.CourseCompletion, error) {
	modules, err := s.Catalog.ListModules(ctx, enrollment.CourseID)
	if err != nil {
		return nil, err
	}
	rows, err := s.Progress.ListByEnrollment(ctx, enrollment.ID)
	if err != nil {
		return nil, err
	}
	completed := make(map[string]bool, len(rows))
	for _, r := range rows {
		completed[r.ModuleID] = r.Completed
	}

	cc := &model.CourseCompletion{
		EnrollmentID: enrollment.ID,
		CourseID:     enrollment.CourseID,
		CompletedAt:  enrollment.CompletedAt,
	}
	for _, m := range modules {
		if !m.IsMandatory {
			continue
		}
		cc.MandatoryModules++
		if completed[m.ID] {
			cc.CompletedModules++
		}
	}
	cc.Complete = cc.CompletedModules == cc.MandatoryModules

	if cc.Complete && enrollment.CompletedAt == nil {
		now := s.now()
		first, err := s.Catalog.MarkEnrollmentCompleted(ctx, enrollment.ID, now)
		if err != nil {
			return nil, err
		}
		if first {
			enrollment.CompletedAt = &now
			cc.CompletedAt = &now
			logger.Log.Info("Course completed",
				zap.String("enrollmentId", enrollment.ID),
				zap.String("courseId", enrollment.CourseID))
			Emit(ctx, s.Events, model.EngineEvent{
				Type:         model.EventCourseCompleted,
				EnrollmentID: enrollment.ID,
				LearnerID:    enrollment.LearnerID,
				OccurredAt:   now,
				Payload:      cc,
			})
		}
	}
	return cc, nil
}

// Owner returns the learner an enrollment belongs to.
func (s *ProgressService) Owner(ctx context.Context, enrollmentID string) (string, error) {
	enrollment, err := s.Catalog.FindEnrollment(ctx, enrollmentID)
	if err != nil {
		return "", err
	}
	return enrollment.LearnerID, nil
}

func (s *ProgressService) GetProgress(ctx context.Context, enrollmentID string) (*ProgressView, error) {
	enrollment, err := s.Catalog.FindEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	rows, err := s.Progress.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	cc, err := s.EvaluateCourse(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	view := &ProgressView{Enrollment: enrollment, Course: cc, Modules: rows}
	if s.Issued != nil {
		certs, err := s.Issued.ListByEnrollment(ctx, enrollmentID)
		if err != nil {
			return nil, err
		}
		view.Certificates = certs
	}
	return view, nil
}
