package model

import "time"

type ProctoringEventType string

const (
	EventFaceNotDetected ProctoringEventType = "face_not_detected"
	EventMultipleFaces   ProctoringEventType = "multiple_faces"
	EventTabSwitch       ProctoringEventType = "tab_switch"
	EventNetworkLoss     ProctoringEventType = "network_loss"
	EventIPMismatch      ProctoringEventType = "ip_mismatch"
)

// DefaultEventWeights is the severity weight added to a session's violation score per event type.
var DefaultEventWeights = map[ProctoringEventType]int{
	EventFaceNotDetected: 1,
	EventMultipleFaces:   3,
	EventTabSwitch:       1,
	EventNetworkLoss:     1,
	EventIPMismatch:      2,
}

// ProctoringEvent is an integrity signal from the exam-taking environment.
type ProctoringEvent struct {
	Type      ProctoringEventType `json:"type" binding:"required"`
	Severity  int                 `json:"severity"`
	Timestamp time.Time           `json:"timestamp"`
}

type EventOutcome string

const (
	OutcomeApplied   EventOutcome = "applied"
	OutcomeFlagged   EventOutcome = "flagged"
	OutcomeSuspended EventOutcome = "suspended"
	OutcomeStale     EventOutcome = "stale"
	OutcomeIgnored   EventOutcome = "ignored"
)

// ProctoringEventRecord is the audit row for every event received, applied or not.
type ProctoringEventRecord struct {
	BaseModel
	SessionID  string              `gorm:"index;type:varchar(36);not null" json:"sessionId"`
	Type       ProctoringEventType `gorm:"size:30;not null" json:"type"`
	Weight     int                 `json:"weight"`
	OccurredAt time.Time           `json:"occurredAt"`
	Outcome    EventOutcome        `gorm:"size:20" json:"outcome"`
	ScoreAfter int                 `json:"scoreAfter"`
}

func (ProctoringEventRecord) TableName() string {
	return "proctoring_events"
}
