package model

import "time"

type EngineEventType string

const (
	EventAttemptGraded     EngineEventType = "attempt.graded"
	EventModuleCompleted   EngineEventType = "module.completed"
	EventCourseCompleted   EngineEventType = "course.completed"
	EventCertificateIssued EngineEventType = "certificate.issued"
	EventReviewResolved    EngineEventType = "review.resolved"
)

// EngineEvent is what the engine emits for dashboards, exports and certificate display.
type EngineEvent struct {
	Type         EngineEventType `json:"type"`
	EnrollmentID string          `json:"enrollmentId,omitempty"`
	ModuleID     string          `json:"moduleId,omitempty"`
	LearnerID    string          `json:"learnerId,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt"`
	Payload      interface{}     `json:"payload,omitempty"`
}
