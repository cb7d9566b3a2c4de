package model

import "gorm.io/datatypes"

type AssessmentKind string

const (
	AssessmentQuiz AssessmentKind = "quiz"
	AssessmentExam AssessmentKind = "exam"
)

type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	OpenText       QuestionType = "open_text"
)

// MaxPassingScore is the top of the 0-20 grading scale.
const MaxPassingScore = 20.0

// AssessmentDefinition is a read-only snapshot supplied by the catalog.
// A new version of an assessment always gets a new ID so graded attempts keep pointing at the questions they were graded against.
// swagger:model AssessmentDefinition
type AssessmentDefinition struct {
	UUIDBase
	ModuleID             string           `gorm:"index;type:varchar(36);not null" json:"moduleId"`
	Kind                 AssessmentKind   `gorm:"size:20;not null" json:"kind"`
	Title                string           `gorm:"size:255" json:"title"`
	TimeLimitSeconds     *int             `json:"timeLimitSeconds,omitempty"`      // nil: untimed
	AttemptsAllowed      int              `gorm:"not null" json:"attemptsAllowed"` // 0: unlimited
	PassingScore         float64          `gorm:"not null" json:"passingScore"`    // 0-20
	ShuffleQuestions     bool             `gorm:"default:false" json:"shuffleQuestions"`
	ShuffleAnswers       bool             `gorm:"default:false" json:"shuffleAnswers"`
	GeneratesCertificate bool             `gorm:"default:false" json:"generatesCertificate"`
	Questions            []Question       `gorm:"foreignKey:AssessmentID" json:"questions,omitempty"`
	Policy               *AntiFraudPolicy `gorm:"foreignKey:AssessmentID" json:"policy,omitempty"`
}

func (AssessmentDefinition) TableName() string {
	return "assessment_definitions"
}

func (a *AssessmentDefinition) Unlimited() bool {
	return a.AttemptsAllowed <= 0
}

// swagger:model Question
type Question struct {
	UUIDBase
	AssessmentID   string                      `gorm:"index:idx_question_order,unique;type:varchar(36);not null" json:"assessmentId"`
	Type           QuestionType                `gorm:"size:30;not null" json:"type"`
	Prompt         string                      `gorm:"type:text" json:"prompt"`
	Points         int                         `gorm:"not null" json:"points"`
	OrderIndex     int                         `gorm:"index:idx_question_order,unique" json:"orderIndex"`
	RubricKeywords datatypes.JSONSlice[string] `gorm:"type:json" json:"rubricKeywords,omitempty"` // open_text only
	Options        []AnswerOption              `gorm:"foreignKey:QuestionID" json:"options,omitempty"`
}

func (Question) TableName() string {
	return "assessment_questions"
}

// swagger:model AnswerOption
type AnswerOption struct {
	UUIDBase
	QuestionID string `gorm:"index;type:varchar(36);not null" json:"questionId"`
	Text       string `gorm:"type:text" json:"text"`
	IsCorrect  bool   `gorm:"default:false" json:"-"`
	OrderIndex int    `gorm:"default:0" json:"orderIndex"`
}

func (AnswerOption) TableName() string {
	return "assessment_answer_options"
}

// AntiFraudPolicy is 1:1 with an exam definition.
// swagger:model AntiFraudPolicy
type AntiFraudPolicy struct {
	UUIDBase
	AssessmentID         string `gorm:"uniqueIndex;type:varchar(36);not null" json:"assessmentId"`
	ProctoringEnabled    bool   `gorm:"default:false" json:"proctoringEnabled"`
	WebcamRequired       bool   `gorm:"default:false" json:"webcamRequired"`
	LockdownEnabled      bool   `gorm:"default:false" json:"lockdownEnabled"`
	IPRestriction        string `gorm:"type:text" json:"ipRestriction,omitempty"` // comma separated IPs / CIDRs
	TimeLimitStrict      bool   `gorm:"not null" json:"timeLimitStrict"`
	AlertThreshold       int    `gorm:"default:0" json:"alertThreshold"`
	AutoSuspend          bool   `gorm:"default:false" json:"autoSuspend"`
	ManualReviewRequired bool   `gorm:"default:false" json:"manualReviewRequired"`
}

func (AntiFraudPolicy) TableName() string {
	return "anti_fraud_policies"
}
