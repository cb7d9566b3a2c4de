package util

import "errors"

var (
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrSessionNotActive     = errors.New("session not active")
	ErrIPNotAllowed         = errors.New("ip address not allowed for this assessment")
	ErrStaleEvent           = errors.New("stale proctoring event")
	ErrAlreadyIssued        = errors.New("certificate already issued")

	ErrSessionNotFound     = errors.New("session not found")
	ErrAssessmentNotFound  = errors.New("assessment not found")
	ErrEnrollmentNotFound  = errors.New("enrollment not found")
	ErrModuleNotFound      = errors.New("module not found")
	ErrCourseNotFound      = errors.New("course not found")
	ErrResultNotFound      = errors.New("graded result not found")
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrInvalidQuestionBank = errors.New("invalid question bank")
	ErrInvalidResponse     = errors.New("invalid response")
	ErrUnknownEventType    = errors.New("unknown proctoring event type")
	ErrReviewNotPending    = errors.New("result is not awaiting manual review")
	ErrModuleNotLesson     = errors.New("module is not a lesson")
	ErrSessionNotTerminal  = errors.New("session has not ended")
)
