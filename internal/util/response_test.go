package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrSessionNotFound, http.StatusNotFound},
		{ErrCourseNotFound, http.StatusNotFound},
		{ErrCertificateNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: 2 of 2 attempts used", ErrAttemptLimitExceeded), http.StatusConflict},
		{ErrSessionNotActive, http.StatusConflict},
		{ErrStaleEvent, http.StatusConflict},
		{ErrReviewNotPending, http.StatusConflict},
		{ErrIPNotAllowed, http.StatusForbidden},
		{ErrPermissionDenied, http.StatusForbidden},
		{fmt.Errorf("%w: unknown question", ErrInvalidResponse), http.StatusBadRequest},
		{ErrUnknownEventType, http.StatusBadRequest},
		{ErrModuleNotLesson, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestRespondError_WritesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondError(c, fmt.Errorf("%w: attempt abc is still in progress", ErrAttemptLimitExceeded))

	assert.Equal(t, http.StatusConflict, w.Code)
	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusConflict, body.Code)
	assert.Contains(t, body.Message, "attempt limit exceeded")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/attempts/x", nil)
	RespondError(c, errors.New("disk on fire"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Internal server error", body.Message)
}
