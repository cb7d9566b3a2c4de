package model

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptExpired    AttemptStatus = "expired"
	AttemptSuspended  AttemptStatus = "suspended"
	AttemptGraded     AttemptStatus = "graded"
)

// TerminalStatuses are the statuses counted against attempts_allowed.
var TerminalStatuses = []AttemptStatus{AttemptSubmitted, AttemptExpired, AttemptSuspended, AttemptGraded}

func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case AttemptSubmitted, AttemptExpired, AttemptSuspended, AttemptGraded:
		return true
	}
	return false
}

// activeSlotValue occupies the (assessment, learner, active_slot) unique index while a session is in progress.
const activeSlotValue = "active"

// AttemptSession is one learner's attempt at an assessment.
// Status only moves forward: in_progress -> {submitted, expired, suspended} -> graded.
// EndReason keeps the terminal status after the session has been graded.
// swagger:model AttemptSession
type AttemptSession struct {
	UUIDBase
	AssessmentID         string                              `gorm:"index;uniqueIndex:idx_attempt_active;type:varchar(36);not null" json:"assessmentId"`
	LearnerID            string                              `gorm:"index;uniqueIndex:idx_attempt_active;type:varchar(64);not null" json:"learnerId"`
	ActiveSlot           *string                             `gorm:"uniqueIndex:idx_attempt_active;type:varchar(8)" json:"-"`
	EnrollmentID         string                              `gorm:"index;type:varchar(36)" json:"enrollmentId"`
	AttemptNumber        int                                 `gorm:"not null" json:"attemptNumber"`
	Status               AttemptStatus                       `gorm:"size:20;index;not null" json:"status"`
	EndReason            AttemptStatus                       `gorm:"size:20" json:"endReason,omitempty"`
	StartedAt            time.Time                           `json:"startedAt"`
	Deadline             *time.Time                          `gorm:"index" json:"deadline,omitempty"`
	EndedAt              *time.Time                          `json:"endedAt,omitempty"`
	ViolationScore       int                                 `gorm:"default:0" json:"violationScore"`
	ManualReviewRequired bool                                `gorm:"default:false" json:"manualReviewRequired"`
	ClientIP             string                              `gorm:"size:64" json:"-"`
	Snapshot             datatypes.JSONType[AttemptSnapshot] `gorm:"type:json" json:"snapshot"`
}

func (AttemptSession) TableName() string {
	return "attempt_sessions"
}

func ActiveSlot() *string {
	v := activeSlotValue
	return &v
}

// Partial reports whether the response set was cut short by expiry or suspension.
func (s *AttemptSession) Partial() bool {
	return s.EndReason == AttemptExpired || s.EndReason == AttemptSuspended
}

// AttemptSnapshot freezes the question and option order shown to the learner.
type AttemptSnapshot struct {
	Questions []SnapshotQuestion `json:"questions"`
}

type SnapshotQuestion struct {
	QuestionID string   `json:"questionId"`
	OptionIDs  []string `json:"optionIds,omitempty"`
}

type ResponseKind string

const (
	ResponseChoice ResponseKind = "choice"
	ResponseText   ResponseKind = "text"
)

// ResponseValue is either a set of selected option IDs or free text, discriminated by Kind.
type ResponseValue struct {
	Kind      ResponseKind `json:"kind"`
	OptionIDs []string     `json:"optionIds,omitempty"`
	Text      string       `json:"text,omitempty"`
}

func ChoiceResponse(optionIDs ...string) ResponseValue {
	return ResponseValue{Kind: ResponseChoice, OptionIDs: optionIDs}
}

func TextResponse(text string) ResponseValue {
	return ResponseValue{Kind: ResponseText, Text: text}
}

// ResponseSet maps question ID to the latest response.
type ResponseSet map[string]ResponseValue

// AttemptResponse is one row of a session's response set, upserted on (session_id, question_id).
type AttemptResponse struct {
	BaseModel
	SessionID  string                      `gorm:"uniqueIndex:idx_response_question;type:varchar(36);not null" json:"sessionId"`
	QuestionID string                      `gorm:"uniqueIndex:idx_response_question;type:varchar(36);not null" json:"questionId"`
	Kind       ResponseKind                `gorm:"size:10;not null" json:"kind"`
	OptionIDs  datatypes.JSONSlice[string] `gorm:"type:json" json:"optionIds,omitempty"`
	Text       string                      `gorm:"type:text" json:"text,omitempty"`
}

func (AttemptResponse) TableName() string {
	return "attempt_responses"
}

func (r *AttemptResponse) Value() ResponseValue {
	return ResponseValue{Kind: r.Kind, OptionIDs: []string(r.OptionIDs), Text: r.Text}
}

func NewResponseSet(rows []AttemptResponse) ResponseSet {
	set := make(ResponseSet, len(rows))
	for i := range rows {
		set[rows[i].QuestionID] = rows[i].Value()
	}
	return set
}
