package util

import (
	"assessment_engine/pkg/logger"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *gin.Context) {
	Error(c, http.StatusForbidden, "Forbidden")
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context) {
	Error(c, http.StatusNotFound, "Resource not found")
}

func InternalServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "Internal server error")
}

func LogInternalError(c *gin.Context, err error) {
	logger.Log.Error("Internal server error", zap.Error(err), zap.String("path", c.FullPath()))
	InternalServerError(c)
}

// StatusFor maps engine errors to HTTP status codes. Unknown errors are 500.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrAssessmentNotFound),
		errors.Is(err, ErrEnrollmentNotFound),
		errors.Is(err, ErrModuleNotFound),
		errors.Is(err, ErrCourseNotFound),
		errors.Is(err, ErrResultNotFound),
		errors.Is(err, ErrCertificateNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAttemptLimitExceeded),
		errors.Is(err, ErrSessionNotActive),
		errors.Is(err, ErrStaleEvent),
		errors.Is(err, ErrReviewNotPending),
		errors.Is(err, ErrSessionNotTerminal):
		return http.StatusConflict
	case errors.Is(err, ErrIPNotAllowed), errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidResponse),
		errors.Is(err, ErrUnknownEventType),
		errors.Is(err, ErrInvalidQuestionBank),
		errors.Is(err, ErrModuleNotLesson):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// RespondError writes err through the envelope, logging only unexpected failures.
func RespondError(c *gin.Context, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		LogInternalError(c, err)
		return
	}
	Error(c, code, err.Error())
}
