package model

import (
	"time"

	"gorm.io/datatypes"
)

type GradingMethod string

const (
	GradingAutomatic            GradingMethod = "automatic"
	GradingManualReviewPending  GradingMethod = "manual_review_pending"
	GradingManualReviewResolved GradingMethod = "manual_review_resolved"
)

// GradedResult is produced exactly once per terminal session.
// The only later mutation is a reviewer resolving a manual_review_pending result.
// swagger:model GradedResult
type GradedResult struct {
	UUIDBase
	SessionID       string                             `gorm:"uniqueIndex;type:varchar(36);not null" json:"sessionId"`
	AssessmentID    string                             `gorm:"index;type:varchar(36);not null" json:"assessmentId"`
	ModuleID        string                             `gorm:"type:varchar(36)" json:"moduleId"`
	EnrollmentID    string                             `gorm:"index;type:varchar(36)" json:"enrollmentId"`
	LearnerID       string                             `gorm:"index;type:varchar(64)" json:"learnerId"`
	Score           int                                `json:"score"`
	MaxScore        int                                `json:"maxScore"`
	NormalizedScore float64                            `json:"normalizedScore"` // 0-20
	Passed          *bool                              `json:"passed"`          // nil while review is pending
	Partial         bool                               `gorm:"default:false" json:"partial"`
	GradingMethod   GradingMethod                      `gorm:"size:30;index;not null" json:"gradingMethod"`
	GradedAt        time.Time                          `json:"gradedAt"`
	TimeSpent       int                                `json:"timeSpent"` // seconds
	Breakdown       datatypes.JSONSlice[QuestionScore] `gorm:"type:json" json:"breakdown"`
	ReviewerID      string                             `gorm:"type:varchar(64)" json:"reviewerId,omitempty"`
	ReviewComment   string                             `gorm:"type:text" json:"reviewComment,omitempty"`
	ReviewedAt      *time.Time                         `json:"reviewedAt,omitempty"`
	CascadePending  bool                               `gorm:"index;default:false" json:"-"` // verdict stored, progress not yet applied
}

func (GradedResult) TableName() string {
	return "graded_results"
}

func (r *GradedResult) IsPassed() bool {
	return r.Passed != nil && *r.Passed
}

// QuestionScore is the per-question line of a graded result.
type QuestionScore struct {
	QuestionID      string       `json:"questionId"`
	Type            QuestionType `json:"type"`
	Points          int          `json:"points"`
	Earned          int          `json:"earned"`
	Answered        bool         `json:"answered"`
	NeedsReview     bool         `json:"needsReview,omitempty"`
	SuggestedPoints int          `json:"suggestedPoints,omitempty"` // rubric keyword hint for reviewers
}
