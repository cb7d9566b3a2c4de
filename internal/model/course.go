package model

import "time"

type ModuleKind string

const (
	ModuleLesson ModuleKind = "lesson"
	ModuleQuiz   ModuleKind = "quiz"
	ModuleExam   ModuleKind = "exam"
)

// Course, CourseModule and Enrollment are owned by the catalog and enrollment
// services; the engine keeps a read copy and only ever writes Enrollment.CompletedAt.
type Course struct {
	UUIDBase
	Title                       string         `gorm:"size:255;not null" json:"title"`
	CertificationValidityMonths *int           `json:"certificationValidityMonths,omitempty"` // nil: perpetual
	Modules                     []CourseModule `gorm:"foreignKey:CourseID" json:"modules,omitempty"`
}

func (Course) TableName() string {
	return "courses"
}

type CourseModule struct {
	UUIDBase
	CourseID     string     `gorm:"index;type:varchar(36);not null" json:"courseId"`
	Title        string     `gorm:"size:255" json:"title"`
	Kind         ModuleKind `gorm:"size:20;not null" json:"kind"`
	IsMandatory  bool       `gorm:"not null" json:"isMandatory"`
	AssessmentID *string    `gorm:"type:varchar(36)" json:"assessmentId,omitempty"`
	OrderIndex   int        `gorm:"default:0" json:"orderIndex"`
}

func (CourseModule) TableName() string {
	return "course_modules"
}

func (m *CourseModule) IsAssessment() bool {
	return m.Kind == ModuleQuiz || m.Kind == ModuleExam
}

type Enrollment struct {
	UUIDBase
	CourseID    string     `gorm:"index;type:varchar(36);not null" json:"courseId"`
	LearnerID   string     `gorm:"index;type:varchar(64);not null" json:"learnerId"`
	EnrolledAt  time.Time  `json:"enrolledAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}
