package model

import "time"

// EnrollmentModuleProgress is never deleted; Completed only moves false -> true.
// swagger:model EnrollmentModuleProgress
type EnrollmentModuleProgress struct {
	UUIDBase
	EnrollmentID   string     `gorm:"uniqueIndex:idx_progress_module;type:varchar(36);not null" json:"enrollmentId"`
	ModuleID       string     `gorm:"uniqueIndex:idx_progress_module;type:varchar(36);not null" json:"moduleId"`
	Completed      bool       `gorm:"default:false" json:"completed"`
	Score          *float64   `json:"score,omitempty"` // best normalized score, 0-20
	CompletionDate *time.Time `json:"completionDate,omitempty"`
	TimeSpent      int        `gorm:"default:0" json:"timeSpent"` // seconds
	LastResultID   string     `gorm:"type:varchar(36)" json:"lastResultId,omitempty"`
}

func (EnrollmentModuleProgress) TableName() string {
	return "enrollment_module_progress"
}

// CourseCompletion is the evaluated state of one enrollment.
type CourseCompletion struct {
	EnrollmentID     string     `json:"enrollmentId"`
	CourseID         string     `json:"courseId"`
	Complete         bool       `json:"complete"`
	MandatoryModules int        `json:"mandatoryModules"`
	CompletedModules int        `json:"completedModules"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}
