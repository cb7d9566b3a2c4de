package model

import "time"

type CertificateStatus string

const (
	CertificateActive  CertificateStatus = "active"
	CertificateRevoked CertificateStatus = "revoked"
	CertificateExpired CertificateStatus = "expired"
)

// Certificate is stored as active or revoked; expired is derived from ValidUntil.
// swagger:model Certificate
type Certificate struct {
	UUIDBase
	CertificateNumber string            `gorm:"uniqueIndex;size:64;not null" json:"certificateNumber"`
	EnrollmentID      string            `gorm:"index:idx_certificate_owner;type:varchar(36);not null" json:"enrollmentId"`
	ModuleID          string            `gorm:"index:idx_certificate_owner;type:varchar(36);not null" json:"moduleId"`
	CourseID          string            `gorm:"type:varchar(36)" json:"courseId"`
	LearnerID         string            `gorm:"index;type:varchar(64)" json:"learnerId"`
	ResultID          string            `gorm:"type:varchar(36)" json:"resultId"`
	IssuedAt          time.Time         `json:"issuedAt"`
	ValidUntil        *time.Time        `json:"validUntil,omitempty"` // nil: perpetual
	VerificationCode  string            `gorm:"size:64" json:"verificationCode"`
	Status            CertificateStatus `gorm:"size:20;default:'active'" json:"status"`
	RevokedAt         *time.Time        `json:"revokedAt,omitempty"`
	RevokeReason      string            `gorm:"type:text" json:"revokeReason,omitempty"`
}

func (Certificate) TableName() string {
	return "certificates"
}

// EffectiveStatus derives expiry against now.
func (c *Certificate) EffectiveStatus(now time.Time) CertificateStatus {
	if c.Status == CertificateRevoked {
		return CertificateRevoked
	}
	if c.ValidUntil != nil && !now.Before(*c.ValidUntil) {
		return CertificateExpired
	}
	return CertificateActive
}
