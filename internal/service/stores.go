package service

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/repository"
	"context"
	"time"
)

// Store interfaces are satisfied by the gorm repositories and by in-memory fakes in tests.

type AssessmentStore interface {
	FindAssessment(ctx context.Context, id string) (*model.AssessmentDefinition, error)
}

type AttemptStore interface {
	Create(ctx context.Context, s *model.AttemptSession) error
	FindByID(ctx context.Context, id string) (*model.AttemptSession, error)
	FindActive(ctx context.Context, assessmentID, learnerID string) (*model.AttemptSession, error)
	CountTerminal(ctx context.Context, assessmentID, learnerID string) (int64, error)
	EndSession(ctx context.Context, id string, reason model.AttemptStatus, at time.Time) (bool, error)
	MarkGraded(ctx context.Context, id string) (bool, error)
	ApplyViolation(ctx context.Context, id string, u repository.ViolationUpdate) (bool, error)
	UpsertResponse(ctx context.Context, resp *model.AttemptResponse) error
	ListResponses(ctx context.Context, sessionID string) ([]model.AttemptResponse, error)
	ListDue(ctx context.Context, cutoff time.Time, limit int) ([]model.AttemptSession, error)
	ListEndedUngraded(ctx context.Context, endedBefore time.Time, limit int) ([]model.AttemptSession, error)
}

type ResultStore interface {
	Create(ctx context.Context, res *model.GradedResult) error
	FindBySession(ctx context.Context, sessionID string) (*model.GradedResult, error)
	FindByID(ctx context.Context, id string) (*model.GradedResult, error)
	ListPending(ctx context.Context, assessmentID string, page, limit int) ([]model.GradedResult, int64, error)
	Resolve(ctx context.Context, id string, u repository.ReviewUpdate) (bool, error)
	MarkCascaded(ctx context.Context, id string) error
	ListCascadePending(ctx context.Context, limit int) ([]model.GradedResult, error)
}

type ProgressStore interface {
	Find(ctx context.Context, enrollmentID, moduleID string) (*model.EnrollmentModuleProgress, error)
	Save(ctx context.Context, p *model.EnrollmentModuleProgress) error
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]model.EnrollmentModuleProgress, error)
}

type CatalogStore interface {
	FindEnrollment(ctx context.Context, id string) (*model.Enrollment, error)
	FindCourse(ctx context.Context, id string) (*model.Course, error)
	FindModule(ctx context.Context, id string) (*model.CourseModule, error)
	ListModules(ctx context.Context, courseID string) ([]model.CourseModule, error)
	MarkEnrollmentCompleted(ctx context.Context, id string, at time.Time) (bool, error)
}

type CertificateStore interface {
	FindByNumber(ctx context.Context, number string) (*model.Certificate, error)
	Create(ctx context.Context, c *model.Certificate) error
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]model.Certificate, error)
	Revoke(ctx context.Context, number, reason string, at time.Time) (bool, error)
}

type ProctoringLog interface {
	Append(ctx context.Context, rec *model.ProctoringEventRecord) error
}

// Finalizer grades an ended session and runs the cascade it triggers.
type Finalizer interface {
	Finalize(ctx context.Context, sessionID string) (*model.GradedResult, error)
}

// ResultApplier propagates a graded result into module and course progress.
type ResultApplier interface {
	ApplyGradedResult(ctx context.Context, result *model.GradedResult) (*CascadeOutcome, error)
}

// CertificateIssuer mints certificates for passed certificate-eligible exams.
type CertificateIssuer interface {
	Issue(ctx context.Context, req IssueRequest) (*IssueResult, error)
}
