package service

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/util"
	"assessment_engine/pkg/logger"
	"assessment_engine/pkg/monitoring"
	"assessment_engine/pkg/tracing"
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// certificateNamespace roots the name-based UUIDs certificate numbers are derived from.
var certificateNamespace = uuid.MustParse("6f1c3f52-6a1e-4c38-9b7d-2f3f0e7c9a41")

// CertificateNumber is a pure function of (enrollment, module), so a repeated trigger finds the same record.
func CertificateNumber(enrollmentID, moduleID string) string {
	u := uuid.NewSHA1(certificateNamespace, []byte(enrollmentID+"|"+moduleID))
	return "CERT-" + strings.ToUpper(strings.ReplaceAll(u.String(), "-", ""))
}

type IssueRequest struct {
	EnrollmentID string
	ModuleID     string
	CourseID     string
	LearnerID    string
	ResultID     string
}

// IssueResult carries the certificate; Issued is false when it already existed.
type IssueResult struct {
	Certificate *model.Certificate `json:"certificate"`
	Issued      bool               `json:"issued"`
}

type VerifyResult struct {
	Certificate *model.Certificate      `json:"certificate"`
	Status      model.CertificateStatus `json:"status"`
	CodeMatches *bool                   `json:"codeMatches,omitempty"`
}

type CertificateService struct {
	Certs   CertificateStore
	Catalog CatalogStore
	Archive CertificateArchive
	Events  EventPublisher
	secret  []byte
	now     func() time.Time
}

func NewCertificateService(certs CertificateStore, catalog CatalogStore, archive CertificateArchive, events EventPublisher, secret string) *CertificateService {
	if archive == nil {
		archive = NopArchive{}
	}
	return &CertificateService{
		Certs:   certs,
		Catalog: catalog,
		Archive: archive,
		Events:  events,
		secret:  []byte(secret),
		now:     time.Now,
	}
}

func (s *CertificateService) VerificationCode(number string) (string, error) {
	return keyedDigest(s.secret, []byte(number))
}

// Issue mints the certificate for (enrollment, module) once. Repeated calls return the existing record.
func (s *CertificateService) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	ctx, span := tracing.StartSpan(ctx, "certificate.issue",
		attribute.String("enrollment.id", req.EnrollmentID),
		attribute.String("module.id", req.ModuleID))
	defer span.End()

	number := CertificateNumber(req.EnrollmentID, req.ModuleID)

	existing, err := s.Certs.FindByNumber(ctx, number)
	if err == nil {
		return &IssueResult{Certificate: existing, Issued: false}, nil
	}
	if !errors.Is(err, util.ErrCertificateNotFound) {
		return nil, err
	}

	courseID := req.CourseID
	if courseID == "" {
		enrollment, err := s.Catalog.FindEnrollment(ctx, req.EnrollmentID)
		if err != nil {
			return nil, err
		}
		courseID = enrollment.CourseID
	}
	course, err := s.Catalog.FindCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	code, err := s.VerificationCode(number)
	if err != nil {
		return nil, err
	}

	issuedAt := s.now()
	cert := &model.Certificate{
		CertificateNumber: number,
		EnrollmentID:      req.EnrollmentID,
		ModuleID:          req.ModuleID,
		CourseID:          courseID,
		LearnerID:         req.LearnerID,
		ResultID:          req.ResultID,
		IssuedAt:          issuedAt,
		VerificationCode:  code,
		Status:            model.CertificateActive,
	}
	if months := course.CertificationValidityMonths; months != nil && *months > 0 {
		until := issuedAt.AddDate(0, *months, 0)
		cert.ValidUntil = &until
	}

	if err := s.Certs.Create(ctx, cert); err != nil {
		if errors.Is(err, util.ErrAlreadyIssued) {
			// lost an insert race to another process
			existing, findErr := s.Certs.FindByNumber(ctx, number)
			if findErr != nil {
				return nil, findErr
			}
			return &IssueResult{Certificate: existing, Issued: false}, nil
		}
		return nil, err
	}

	monitoring.CertificatesIssued.Inc()
	logger.Log.Info("Certificate issued",
		zap.String("certificateNumber", number),
		zap.String("enrollmentId", req.EnrollmentID),
		zap.String("moduleId", req.ModuleID))

	if err := s.Archive.Store(ctx, cert); err != nil {
		logger.Log.Warn("Failed to archive certificate", zap.String("certificateNumber", number), zap.Error(err))
	}

	Emit(ctx, s.Events, model.EngineEvent{
		Type:         model.EventCertificateIssued,
		EnrollmentID: req.EnrollmentID,
		ModuleID:     req.ModuleID,
		LearnerID:    req.LearnerID,
		OccurredAt:   issuedAt,
		Payload:      cert,
	})

	return &IssueResult{Certificate: cert, Issued: true}, nil
}

// Verify reports the derived status. A non-empty code is compared against the stored verification code.
func (s *CertificateService) Verify(ctx context.Context, number, code string) (*VerifyResult, error) {
	cert, err := s.Certs.FindByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	res := &VerifyResult{Certificate: cert, Status: cert.EffectiveStatus(s.now())}
	if code != "" {
		ok := subtle.ConstantTimeCompare([]byte(code), []byte(cert.VerificationCode)) == 1
		res.CodeMatches = &ok
	}
	return res, nil
}

// Revoke is idempotent: revoking a revoked certificate returns it unchanged.
func (s *CertificateService) Revoke(ctx context.Context, number, reason string) (*model.Certificate, error) {
	cert, err := s.Certs.FindByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if cert.Status == model.CertificateRevoked {
		return cert, nil
	}

	if _, err := s.Certs.Revoke(ctx, number, reason, s.now()); err != nil {
		return nil, err
	}
	logger.Log.Info("Certificate revoked", zap.String("certificateNumber", number), zap.String("reason", reason))
	return s.Certs.FindByNumber(ctx, number)
}
