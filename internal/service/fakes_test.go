package service

import (
	"assessment_engine/internal/config"
	"assessment_engine/internal/model"
	"assessment_engine/internal/repository"
	"assessment_engine/internal/util"
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ---- assessments ----

type fakeAssessments struct {
	mu   sync.Mutex
	defs map[string]*model.AssessmentDefinition
}

func (f *fakeAssessments) FindAssessment(_ context.Context, id string) (*model.AssessmentDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.defs[id]
	if !ok {
		return nil, util.ErrAssessmentNotFound
	}
	return def, nil
}

func (f *fakeAssessments) put(def *model.AssessmentDefinition) {
	f.mu.Lock()
	f.defs[def.ID] = def
	f.mu.Unlock()
}

// ---- attempts ----

type fakeAttempts struct {
	mu        sync.Mutex
	sessions  map[string]*model.AttemptSession
	responses map[string]map[string]model.AttemptResponse
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{
		sessions:  make(map[string]*model.AttemptSession),
		responses: make(map[string]map[string]model.AttemptResponse),
	}
}

func copySession(s *model.AttemptSession) *model.AttemptSession {
	c := *s
	return &c
}

func (f *fakeAttempts) Create(_ context.Context, s *model.AttemptSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sessions {
		if existing.AssessmentID == s.AssessmentID && existing.LearnerID == s.LearnerID && existing.Status == model.AttemptInProgress {
			return fmt.Errorf("%w: an attempt is already in progress", util.ErrAttemptLimitExceeded)
		}
	}
	if s.ID == "" {
		s.ID = model.GenerateUUID()
	}
	f.sessions[s.ID] = copySession(s)
	return nil
}

func (f *fakeAttempts) put(s *model.AttemptSession) {
	f.mu.Lock()
	f.sessions[s.ID] = copySession(s)
	f.mu.Unlock()
}

func (f *fakeAttempts) FindByID(_ context.Context, id string) (*model.AttemptSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, util.ErrSessionNotFound
	}
	return copySession(s), nil
}

func (f *fakeAttempts) FindActive(_ context.Context, assessmentID, learnerID string) (*model.AttemptSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.AssessmentID == assessmentID && s.LearnerID == learnerID && s.Status == model.AttemptInProgress {
			return copySession(s), nil
		}
	}
	return nil, nil
}

func (f *fakeAttempts) CountTerminal(_ context.Context, assessmentID, learnerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.sessions {
		if s.AssessmentID == assessmentID && s.LearnerID == learnerID && s.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (f *fakeAttempts) EndSession(_ context.Context, id string, reason model.AttemptStatus, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != model.AttemptInProgress {
		return false, nil
	}
	s.Status = reason
	s.EndReason = reason
	s.EndedAt = &at
	s.ActiveSlot = nil
	return true, nil
}

func (f *fakeAttempts) MarkGraded(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return false, nil
	}
	switch s.Status {
	case model.AttemptSubmitted, model.AttemptExpired, model.AttemptSuspended:
		s.Status = model.AttemptGraded
		return true, nil
	}
	return false, nil
}

func (f *fakeAttempts) ApplyViolation(_ context.Context, id string, u repository.ViolationUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != model.AttemptInProgress {
		return false, nil
	}
	s.ViolationScore = u.Score
	if u.FlagReview {
		s.ManualReviewRequired = true
	}
	if u.Suspend {
		at := u.At
		s.Status = model.AttemptSuspended
		s.EndReason = model.AttemptSuspended
		s.EndedAt = &at
		s.ActiveSlot = nil
	}
	return true, nil
}

func (f *fakeAttempts) UpsertResponse(_ context.Context, resp *model.AttemptResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.responses[resp.SessionID]
	if !ok {
		set = make(map[string]model.AttemptResponse)
		f.responses[resp.SessionID] = set
	}
	set[resp.QuestionID] = *resp
	return nil
}

func (f *fakeAttempts) ListResponses(_ context.Context, sessionID string) ([]model.AttemptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []model.AttemptResponse
	for _, r := range f.responses[sessionID] {
		rows = append(rows, r)
	}
	return rows, nil
}

func (f *fakeAttempts) ListDue(_ context.Context, cutoff time.Time, limit int) ([]model.AttemptSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AttemptSession
	for _, s := range f.sessions {
		if s.Status == model.AttemptInProgress && s.Deadline != nil && !s.Deadline.After(cutoff) {
			out = append(out, *s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAttempts) ListEndedUngraded(_ context.Context, endedBefore time.Time, limit int) ([]model.AttemptSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AttemptSession
	for _, s := range f.sessions {
		switch s.Status {
		case model.AttemptSubmitted, model.AttemptExpired, model.AttemptSuspended:
			if s.EndedAt != nil && !s.EndedAt.After(endedBefore) {
				out = append(out, *s)
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAttempts) countStatus(status model.AttemptStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.Status == status {
			n++
		}
	}
	return n
}

// ---- results ----

type fakeResults struct {
	mu        sync.Mutex
	byID      map[string]*model.GradedResult
	bySession map[string]string
	creates   int
	// raceOnCreate stores the row as if another grader inserted it first, then reports the duplicate
	raceOnCreate bool
}

func newFakeResults() *fakeResults {
	return &fakeResults{byID: make(map[string]*model.GradedResult), bySession: make(map[string]string)}
}

func copyResult(r *model.GradedResult) *model.GradedResult {
	c := *r
	if r.Passed != nil {
		p := *r.Passed
		c.Passed = &p
	}
	return &c
}

func (f *fakeResults) Create(_ context.Context, res *model.GradedResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.bySession[res.SessionID]; dup {
		return gorm.ErrDuplicatedKey
	}
	if f.raceOnCreate {
		f.raceOnCreate = false
		winner := copyResult(res)
		winner.ID = "winner"
		f.byID[winner.ID] = winner
		f.bySession[res.SessionID] = winner.ID
		return gorm.ErrDuplicatedKey
	}
	if res.ID == "" {
		res.ID = model.GenerateUUID()
	}
	f.byID[res.ID] = copyResult(res)
	f.bySession[res.SessionID] = res.ID
	f.creates++
	return nil
}

func (f *fakeResults) FindBySession(_ context.Context, sessionID string) (*model.GradedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.bySession[sessionID]
	if !ok {
		return nil, nil
	}
	return copyResult(f.byID[id]), nil
}

func (f *fakeResults) FindByID(_ context.Context, id string) (*model.GradedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return nil, util.ErrResultNotFound
	}
	return copyResult(r), nil
}

func (f *fakeResults) ListPending(_ context.Context, assessmentID string, _, _ int) ([]model.GradedResult, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.GradedResult
	for _, r := range f.byID {
		if r.GradingMethod != model.GradingManualReviewPending {
			continue
		}
		if assessmentID != "" && r.AssessmentID != assessmentID {
			continue
		}
		out = append(out, *copyResult(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GradedAt.Before(out[j].GradedAt) })
	return out, int64(len(out)), nil
}

func (f *fakeResults) Resolve(_ context.Context, id string, u repository.ReviewUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok || r.GradingMethod != model.GradingManualReviewPending {
		return false, nil
	}
	passed := u.Passed
	at := u.At
	r.Score = u.Score
	r.NormalizedScore = u.NormalizedScore
	r.Passed = &passed
	r.GradingMethod = model.GradingManualReviewResolved
	r.ReviewerID = u.ReviewerID
	r.ReviewComment = u.Comment
	r.ReviewedAt = &at
	r.CascadePending = true
	return true, nil
}

func (f *fakeResults) MarkCascaded(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.byID[id]; ok {
		r.CascadePending = false
	}
	return nil
}

func (f *fakeResults) ListCascadePending(_ context.Context, limit int) ([]model.GradedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.GradedResult
	for _, r := range f.byID {
		if r.CascadePending {
			out = append(out, *copyResult(r))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeResults) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// ---- progress ----

type fakeProgress struct {
	mu   sync.Mutex
	rows map[string]*model.EnrollmentModuleProgress
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{rows: make(map[string]*model.EnrollmentModuleProgress)}
}

func progressKey(enrollmentID, moduleID string) string {
	return enrollmentID + "|" + moduleID
}

func (f *fakeProgress) Find(_ context.Context, enrollmentID, moduleID string) (*model.EnrollmentModuleProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[progressKey(enrollmentID, moduleID)]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (f *fakeProgress) Save(_ context.Context, p *model.EnrollmentModuleProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = model.GenerateUUID()
	}
	c := *p
	f.rows[progressKey(p.EnrollmentID, p.ModuleID)] = &c
	return nil
}

func (f *fakeProgress) ListByEnrollment(_ context.Context, enrollmentID string) ([]model.EnrollmentModuleProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.EnrollmentModuleProgress
	for _, p := range f.rows {
		if p.EnrollmentID == enrollmentID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeProgress) get(enrollmentID, moduleID string) *model.EnrollmentModuleProgress {
	p, _ := f.Find(context.Background(), enrollmentID, moduleID)
	return p
}

// ---- catalog ----

type fakeCatalog struct {
	mu          sync.Mutex
	courses     map[string]*model.Course
	modules     map[string]*model.CourseModule
	enrollments map[string]*model.Enrollment
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		courses:     make(map[string]*model.Course),
		modules:     make(map[string]*model.CourseModule),
		enrollments: make(map[string]*model.Enrollment),
	}
}

func (f *fakeCatalog) addCourse(id string, validityMonths *int, modules ...model.CourseModule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &model.Course{Title: id, CertificationValidityMonths: validityMonths}
	c.ID = id
	f.courses[id] = c
	for i := range modules {
		m := modules[i]
		m.CourseID = id
		f.modules[m.ID] = &m
	}
}

func (f *fakeCatalog) enroll(id, courseID, learnerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &model.Enrollment{CourseID: courseID, LearnerID: learnerID}
	e.ID = id
	f.enrollments[id] = e
}

func (f *fakeCatalog) FindEnrollment(_ context.Context, id string) (*model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[id]
	if !ok {
		return nil, util.ErrEnrollmentNotFound
	}
	c := *e
	return &c, nil
}

func (f *fakeCatalog) FindCourse(_ context.Context, id string) (*model.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.courses[id]
	if !ok {
		return nil, util.ErrCourseNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCatalog) FindModule(_ context.Context, id string) (*model.CourseModule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.modules[id]
	if !ok {
		return nil, util.ErrModuleNotFound
	}
	c := *m
	return &c, nil
}

func (f *fakeCatalog) ListModules(_ context.Context, courseID string) ([]model.CourseModule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CourseModule
	for _, m := range f.modules {
		if m.CourseID == courseID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (f *fakeCatalog) MarkEnrollmentCompleted(_ context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[id]
	if !ok || e.CompletedAt != nil {
		return false, nil
	}
	e.CompletedAt = &at
	return true, nil
}

// ---- certificates ----

type fakeCerts struct {
	mu    sync.Mutex
	certs map[string]*model.Certificate
	// raceOnCreate simulates another process inserting the same number first
	raceOnCreate bool
}

func newFakeCerts() *fakeCerts {
	return &fakeCerts{certs: make(map[string]*model.Certificate)}
}

func (f *fakeCerts) FindByNumber(_ context.Context, number string) (*model.Certificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.certs[number]
	if !ok {
		return nil, util.ErrCertificateNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCerts) Create(_ context.Context, c *model.Certificate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raceOnCreate {
		f.raceOnCreate = false
		winner := *c
		winner.ID = "winner"
		f.certs[c.CertificateNumber] = &winner
		return util.ErrAlreadyIssued
	}
	if _, dup := f.certs[c.CertificateNumber]; dup {
		return util.ErrAlreadyIssued
	}
	if c.ID == "" {
		c.ID = model.GenerateUUID()
	}
	cp := *c
	f.certs[c.CertificateNumber] = &cp
	return nil
}

func (f *fakeCerts) ListByEnrollment(_ context.Context, enrollmentID string) ([]model.Certificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Certificate
	for _, c := range f.certs {
		if c.EnrollmentID == enrollmentID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCerts) Revoke(_ context.Context, number, reason string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.certs[number]
	if !ok || c.Status != model.CertificateActive {
		return false, nil
	}
	c.Status = model.CertificateRevoked
	c.RevokedAt = &at
	c.RevokeReason = reason
	return true, nil
}

func (f *fakeCerts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.certs)
}

// ---- proctoring log ----

type fakeProctoringLog struct {
	mu      sync.Mutex
	records []model.ProctoringEventRecord
}

func (f *fakeProctoringLog) Append(_ context.Context, rec *model.ProctoringEventRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeProctoringLog) outcomes() []model.EventOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.EventOutcome, len(f.records))
	for i, r := range f.records {
		out[i] = r.Outcome
	}
	return out
}

// ---- events ----

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.EngineEvent
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, ev model.EngineEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count(t model.EngineEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// ---- engine wiring ----

type testEngine struct {
	clock       *testClock
	assessments *fakeAssessments
	attempts    *fakeAttempts
	results     *fakeResults
	progress    *fakeProgress
	catalog     *fakeCatalog
	certs       *fakeCerts
	proctorLog  *fakeProctoringLog
	events      *recordingPublisher
	settings    *EngineSettings

	attemptSvc  *AttemptService
	antifraud   *AntiFraudService
	grading     *GradingService
	progressSvc *ProgressService
	certSvc     *CertificateService
	review      *ReviewService
}

func newTestEngine(t *testing.T, engineCfg config.EngineConfig, defs ...*model.AssessmentDefinition) *testEngine {
	t.Helper()

	e := &testEngine{
		clock:       newTestClock(),
		assessments: &fakeAssessments{defs: make(map[string]*model.AssessmentDefinition)},
		attempts:    newFakeAttempts(),
		results:     newFakeResults(),
		progress:    newFakeProgress(),
		catalog:     newFakeCatalog(),
		certs:       newFakeCerts(),
		proctorLog:  &fakeProctoringLog{},
		events:      &recordingPublisher{},
	}
	for _, def := range defs {
		e.assessments.put(def)
	}

	e.settings = NewEngineSettings(engineCfg)
	banks := NewBankCache(e.assessments)
	locks := NewKeyedMutex()

	e.certSvc = NewCertificateService(e.certs, e.catalog, nil, e.events, "test-certificate-secret")
	e.certSvc.now = e.clock.Now
	e.progressSvc = NewProgressService(e.progress, e.catalog, banks, e.certSvc, e.certs, e.events)
	e.progressSvc.now = e.clock.Now
	e.grading = NewGradingService(e.attempts, e.results, banks, e.progressSvc, e.events)
	e.grading.now = e.clock.Now
	e.attemptSvc = NewAttemptService(e.attempts, e.results, e.catalog, banks, e.grading, e.settings, locks)
	e.attemptSvc.now = e.clock.Now
	e.antifraud = NewAntiFraudService(e.attempts, banks, e.proctorLog, e.grading, e.settings, locks)
	e.antifraud.now = e.clock.Now
	e.review = NewReviewService(e.results, banks, e.progressSvc, e.events)
	e.review.now = e.clock.Now
	return e
}

// ---- fixtures ----

func intPtr(v int) *int { return &v }

func choiceQuestion(id string, typ model.QuestionType, points, order int, correct []string, wrong ...string) model.Question {
	q := model.Question{Type: typ, Prompt: "prompt " + id, Points: points, OrderIndex: order}
	q.ID = id
	i := 0
	for _, c := range correct {
		o := model.AnswerOption{QuestionID: id, Text: c, IsCorrect: true, OrderIndex: i}
		o.ID = c
		q.Options = append(q.Options, o)
		i++
	}
	for _, w := range wrong {
		o := model.AnswerOption{QuestionID: id, Text: w, OrderIndex: i}
		o.ID = w
		q.Options = append(q.Options, o)
		i++
	}
	return q
}

func openQuestion(id string, points, order int, keywords ...string) model.Question {
	q := model.Question{Type: model.OpenText, Prompt: "explain " + id, Points: points, OrderIndex: order, RubricKeywords: keywords}
	q.ID = id
	return q
}

// examDefinition is two single_choice questions worth 2 and one multiple_choice worth 3 with two correct options.
func examDefinition(id, moduleID string) *model.AssessmentDefinition {
	def := &model.AssessmentDefinition{
		ModuleID:         moduleID,
		Kind:             model.AssessmentExam,
		Title:            "Final exam",
		TimeLimitSeconds: intPtr(600),
		AttemptsAllowed:  2,
		PassingScore:     14,
		Questions: []model.Question{
			choiceQuestion("q1", model.SingleChoice, 2, 1, []string{"q1-a"}, "q1-b", "q1-c"),
			choiceQuestion("q2", model.SingleChoice, 2, 2, []string{"q2-b"}, "q2-a"),
			choiceQuestion("q3", model.MultipleChoice, 3, 3, []string{"q3-a", "q3-c"}, "q3-b", "q3-d"),
		},
		Policy: &model.AntiFraudPolicy{AssessmentID: id, TimeLimitStrict: true},
	}
	def.ID = id
	return def
}

func allCorrect() map[string]model.ResponseValue {
	return map[string]model.ResponseValue{
		"q1": model.ChoiceResponse("q1-a"),
		"q2": model.ChoiceResponse("q2-b"),
		"q3": model.ChoiceResponse("q3-a", "q3-c"),
	}
}

func (e *testEngine) open(t *testing.T, assessmentID, learnerID, enrollmentID string) *model.AttemptSession {
	t.Helper()
	view, err := e.attemptSvc.Open(context.Background(), OpenRequest{
		AssessmentID: assessmentID,
		LearnerID:    learnerID,
		EnrollmentID: enrollmentID,
		ClientIP:     "10.0.0.7",
	})
	if err != nil {
		t.Fatalf("open attempt: %v", err)
	}
	return view.Session
}

func (e *testEngine) answer(t *testing.T, session *model.AttemptSession, responses map[string]model.ResponseValue) {
	t.Helper()
	for qid, v := range responses {
		if err := e.attemptSvc.RecordResponse(context.Background(), session.ID, session.LearnerID, qid, v); err != nil {
			t.Fatalf("record response %s: %v", qid, err)
		}
	}
}

func (e *testEngine) session(t *testing.T, id string) *model.AttemptSession {
	t.Helper()
	s, err := e.attempts.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	return s
}
