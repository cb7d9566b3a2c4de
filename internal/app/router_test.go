package app

import (
	"assessment_engine/internal/config"
	"assessment_engine/internal/model"
	"assessment_engine/internal/service"
	"assessment_engine/internal/util"
	"assessment_engine/pkg/database"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const routerTestSecret = "router-test-secret"

type testServer struct {
	t      *testing.T
	router *gin.Engine
	db     *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := &config.Config{
		Server:  config.ServerConfig{Mode: "debug"},
		JWT:     config.JWTConfig{Secret: routerTestSecret, ExpireTime: time.Hour},
		Storage: config.StorageConfig{Type: "none"},
		Engine: config.EngineConfig{
			CertificateSecret:     "router-test-certificate-secret",
			DefaultAlertThreshold: 5,
			EventsPerSecond:       5,
		},
	}
	a := &App{Config: cfg, DB: db}
	repos := a.initRepositories(db)
	s := a.initServices(repos, cfg, nil)
	c := a.initControllers(s, db, nil)

	router := gin.New()
	a.registerRoutes(router, c, cfg)

	seedCourse(t, db, repos)
	return &testServer{t: t, router: router, db: db}
}

// seedCourse stores a one-module course whose final exam issues a certificate.
func seedCourse(t *testing.T, db *gorm.DB, repos *repositories) {
	t.Helper()
	ctx := context.Background()

	validity := 12
	course := &model.Course{Title: "Concurrency in Go", CertificationValidityMonths: &validity}
	course.ID = "course-1"
	require.NoError(t, db.Create(course).Error)

	examID := "exam-1"
	module := &model.CourseModule{CourseID: "course-1", Title: "Final exam", Kind: model.ModuleExam, IsMandatory: true, AssessmentID: &examID}
	module.ID = "mod-exam"
	require.NoError(t, db.Create(module).Error)

	enrollment := &model.Enrollment{CourseID: "course-1", LearnerID: "learner-1", EnrolledAt: time.Now()}
	enrollment.ID = "enr-1"
	require.NoError(t, db.Create(enrollment).Error)

	limit := 600
	def := &model.AssessmentDefinition{
		ModuleID:             "mod-exam",
		Kind:                 model.AssessmentExam,
		Title:                "Final exam",
		TimeLimitSeconds:     &limit,
		AttemptsAllowed:      1,
		PassingScore:         10,
		GeneratesCertificate: true,
	}
	def.ID = examID
	q1 := model.Question{Type: model.SingleChoice, Prompt: "Which primitive guards a map?", Points: 2, OrderIndex: 0}
	q1.ID = "q1"
	right := model.AnswerOption{Text: "sync.Mutex", IsCorrect: true, OrderIndex: 0}
	right.ID = "q1-a"
	wrong := model.AnswerOption{Text: "time.Ticker", OrderIndex: 1}
	wrong.ID = "q1-b"
	q1.Options = []model.AnswerOption{right, wrong}
	def.Questions = []model.Question{q1}
	require.NoError(t, repos.assessment.Save(ctx, def))
}

func (s *testServer) token(userID string, role model.UserRole) string {
	tok, err := util.GenerateJWT(userID, role, routerTestSecret, time.Hour)
	require.NoError(s.t, err)
	return tok
}

// do sends a request and decodes the envelope's data into out when out is non-nil.
func (s *testServer) do(method, path, token string, body interface{}, out interface{}) int {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if out != nil && w.Code < http.StatusBadRequest {
		envelope := struct {
			Data json.RawMessage `json:"data"`
		}{}
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &envelope))
		require.NoError(s.t, json.Unmarshal(envelope.Data, out))
	}
	return w.Code
}

func TestRoutes_ExamToVerifiedCertificate(t *testing.T) {
	s := newTestServer(t)
	learner := s.token("learner-1", model.Learner)
	other := s.token("learner-2", model.Learner)
	admin := s.token("admin-1", model.Admin)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/assessments/exam-1/attempts", "", nil, nil))
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/assessments/exam-1/attempts", other, gin.H{"enrollmentId": "enr-1"}, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/assessments/exam-1/attempts", learner, gin.H{"enrollmentId": "enr-missing"}, nil))

	var opened service.AttemptView
	code := s.do(http.MethodPost, "/api/assessments/exam-1/attempts", learner, gin.H{"enrollmentId": "enr-1"}, &opened)
	require.Equal(t, http.StatusCreated, code)
	require.NotNil(t, opened.Session)
	require.Len(t, opened.Questions, 1)
	sessionID := opened.Session.ID
	base := "/api/attempts/" + sessionID

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, base, other, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/attempts/missing", learner, nil, nil))

	code = s.do(http.MethodPut, base+"/responses/q1", learner, model.ChoiceResponse("q1-a"), nil)
	require.Equal(t, http.StatusOK, code)
	code = s.do(http.MethodPut, base+"/responses/q9", learner, model.ChoiceResponse("q1-a"), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var submitted service.SubmitOutcome
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/submit", learner, nil, &submitted))
	assert.True(t, submitted.Transitioned)
	require.NotNil(t, submitted.Result)
	require.NotNil(t, submitted.Result.Passed)
	assert.True(t, *submitted.Result.Passed)
	assert.InDelta(t, 20.0, submitted.Result.NormalizedScore, 1e-9)

	// a second submit reports the existing outcome
	var again service.SubmitOutcome
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/submit", learner, nil, &again))
	assert.False(t, again.Transitioned)

	// the only attempt is used up
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/assessments/exam-1/attempts", learner, nil, nil))

	var progress service.ProgressView
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/enrollments/enr-1/progress", learner, nil, &progress))
	require.NotNil(t, progress.Course)
	assert.True(t, progress.Course.Complete)
	require.Len(t, progress.Certificates, 1)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/enrollments/enr-1/progress", other, nil, nil))

	cert := progress.Certificates[0]
	verifyPath := "/api/certificates/" + cert.CertificateNumber + "/verify"

	var verified service.VerifyResult
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, verifyPath+"?code="+cert.VerificationCode, "", nil, &verified))
	assert.Equal(t, model.CertificateActive, verified.Status)
	require.NotNil(t, verified.CodeMatches)
	assert.True(t, *verified.CodeMatches)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/certificates/CERT-UNKNOWN/verify", "", nil, nil))

	// review and revocation are staff only
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/review/pending", learner, nil, nil))
	revokePath := "/api/certificates/" + cert.CertificateNumber + "/revoke"
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, revokePath, learner, gin.H{"reason": "fraud"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, revokePath, admin, gin.H{}, nil))
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, revokePath, admin, gin.H{"reason": "fraud"}, nil))

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, verifyPath, "", nil, &verified))
	assert.Equal(t, model.CertificateRevoked, verified.Status)
}

func TestRoutes_HealthAndProctoringOwnership(t *testing.T) {
	s := newTestServer(t)
	learner := s.token("learner-1", model.Learner)
	other := s.token("learner-2", model.Learner)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/health", "", nil, nil))

	var opened service.AttemptView
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/assessments/exam-1/attempts", learner, nil, &opened))
	path := "/api/attempts/" + opened.Session.ID + "/proctoring-events"

	event := gin.H{"type": string(model.EventTabSwitch)}
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, path, other, event, nil))

	// proctoring is disabled on this exam, so the event is accepted and ignored
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, path, learner, event, nil))
}
