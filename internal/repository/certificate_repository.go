package repository

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/util"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type CertificateRepository struct {
	DB *gorm.DB
}

func NewCertificateRepository(db *gorm.DB) *CertificateRepository {
	return &CertificateRepository{DB: db}
}

// FindByNumber returns the certificate or util.ErrCertificateNotFound.
func (r *CertificateRepository) FindByNumber(ctx context.Context, number string) (*model.Certificate, error) {
	var c model.Certificate
	err := r.DB.WithContext(ctx).First(&c, "certificate_number = ?", number).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrCertificateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a certificate; a duplicate number is reported as util.ErrAlreadyIssued.
func (r *CertificateRepository) Create(ctx context.Context, c *model.Certificate) error {
	err := r.DB.WithContext(ctx).Create(c).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return util.ErrAlreadyIssued
	}
	return err
}

func (r *CertificateRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]model.Certificate, error) {
	var certs []model.Certificate
	err := r.DB.WithContext(ctx).Where("enrollment_id = ?", enrollmentID).Order("issued_at ASC").Find(&certs).Error
	return certs, err
}

// Revoke marks an active certificate revoked; false when it was already revoked.
func (r *CertificateRepository) Revoke(ctx context.Context, number, reason string, at time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.Certificate{}).
		Where("certificate_number = ? AND status = ?", number, model.CertificateActive).
		Updates(map[string]interface{}{
			"status":        model.CertificateRevoked,
			"revoked_at":    at,
			"revoke_reason": reason,
			"updated_at":    at,
		})
	return res.RowsAffected == 1, res.Error
}
