package service

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/util"
	"assessment_engine/pkg/logger"
	"assessment_engine/pkg/monitoring"
	"assessment_engine/pkg/tracing"
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const sweepBatchSize = 100

// ungradedGrace keeps the sweep from racing a finalize that is still running in the request path.
const ungradedGrace = 30 * time.Second

type OpenRequest struct {
	AssessmentID string
	LearnerID    string
	EnrollmentID string
	ClientIP     string
}

type PresentedOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type PresentedQuestion struct {
	ID      string             `json:"id"`
	Type    model.QuestionType `json:"type"`
	Prompt  string             `json:"prompt"`
	Points  int                `json:"points"`
	Options []PresentedOption  `json:"options,omitempty"`
}

// AttemptView is what the learner sees: questions in snapshot order, never the answer key.
type AttemptView struct {
	Session          *model.AttemptSession `json:"session"`
	Questions        []PresentedQuestion   `json:"questions"`
	Responses        model.ResponseSet     `json:"responses"`
	RemainingSeconds *int                  `json:"remainingSeconds,omitempty"`
}

type SubmitOutcome struct {
	Session      *model.AttemptSession `json:"session"`
	Transitioned bool                  `json:"transitioned"` // false when the session had already ended
	Result       *model.GradedResult   `json:"result,omitempty"`
}

type AttemptService struct {
	Attempts AttemptStore
	Results  ResultStore
	Catalog  CatalogStore
	Banks    *BankCache
	Grader   Finalizer
	settings *EngineSettings
	locks    *KeyedMutex
	now      func() time.Time
}

// NewAttemptService shares locks with the anti-fraud monitor so both serialize on the same session key.
func NewAttemptService(attempts AttemptStore, results ResultStore, catalog CatalogStore, banks *BankCache, grader Finalizer, settings *EngineSettings, locks *KeyedMutex) *AttemptService {
	return &AttemptService{
		Attempts: attempts,
		Results:  results,
		Catalog:  catalog,
		Banks:    banks,
		Grader:   grader,
		settings: settings,
		locks:    locks,
		now:      time.Now,
	}
}

func openKey(assessmentID, learnerID string) string {
	return "open:" + assessmentID + ":" + learnerID
}

// expiryCutoff is the instant after which the session is forcibly expired.
// Lenient policies get the configured grace period on top of the deadline.
func (s *AttemptService) expiryCutoff(session *model.AttemptSession, policy model.AntiFraudPolicy) *time.Time {
	if session.Deadline == nil {
		return nil
	}
	cutoff := *session.Deadline
	if !policy.TimeLimitStrict {
		cutoff = cutoff.Add(s.settings.GracePeriod())
	}
	return &cutoff
}

// checkEnrollment binds an attempt to the learner's own enrollment in the course that owns the assessment.
func (s *AttemptService) checkEnrollment(ctx context.Context, enrollmentID, learnerID string, def *model.AssessmentDefinition) error {
	enrollment, err := s.Catalog.FindEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if enrollment.LearnerID != learnerID {
		return fmt.Errorf("%w: enrollment %s belongs to another learner", util.ErrPermissionDenied, enrollmentID)
	}
	module, err := s.Catalog.FindModule(ctx, def.ModuleID)
	if err != nil {
		return err
	}
	if module.CourseID != enrollment.CourseID {
		return fmt.Errorf("%w: assessment %s is not part of course %s", util.ErrPermissionDenied, def.ID, enrollment.CourseID)
	}
	return nil
}

// Open starts a new attempt. Checks run in order: assessment, enrollment, IP restriction, active attempt, attempt limit.
// An empty EnrollmentID opens a practice attempt that never touches progress.
func (s *AttemptService) Open(ctx context.Context, req OpenRequest) (*AttemptView, error) {
	ctx, span := tracing.StartSpan(ctx, "attempt.open",
		attribute.String("assessment.id", req.AssessmentID),
		attribute.String("learner.id", req.LearnerID))
	defer span.End()

	unlock := s.locks.Lock(openKey(req.AssessmentID, req.LearnerID))
	defer unlock()

	bank, err := s.Banks.Load(ctx, req.AssessmentID)
	if err != nil {
		return nil, err
	}
	def := bank.Assessment
	policy := bank.Policy()

	if req.EnrollmentID != "" {
		if err := s.checkEnrollment(ctx, req.EnrollmentID, req.LearnerID, def); err != nil {
			logger.Log.Warn("Attempt rejected by enrollment check",
				zap.String("assessmentId", req.AssessmentID),
				zap.String("learnerId", req.LearnerID),
				zap.String("enrollmentId", req.EnrollmentID),
				zap.Error(err))
			return nil, err
		}
	}

	if !ipAllowed(req.ClientIP, policy.IPRestriction) {
		logger.Log.Warn("Attempt rejected by IP restriction",
			zap.String("assessmentId", req.AssessmentID),
			zap.String("learnerId", req.LearnerID),
			zap.String("clientIp", req.ClientIP))
		return nil, util.ErrIPNotAllowed
	}

	active, err := s.Attempts.FindActive(ctx, req.AssessmentID, req.LearnerID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		// an abandoned attempt past its cutoff is expired here rather than waiting for the sweep
		expired, err := s.Expire(ctx, active.ID)
		if err != nil {
			return nil, err
		}
		if !expired {
			return nil, fmt.Errorf("%w: attempt %s is still in progress", util.ErrAttemptLimitExceeded, active.ID)
		}
	}

	used, err := s.Attempts.CountTerminal(ctx, req.AssessmentID, req.LearnerID)
	if err != nil {
		return nil, err
	}
	if !def.Unlimited() && used >= int64(def.AttemptsAllowed) {
		return nil, fmt.Errorf("%w: %d of %d attempts used", util.ErrAttemptLimitExceeded, used, def.AttemptsAllowed)
	}

	now := s.now()
	session := &model.AttemptSession{
		AssessmentID:  req.AssessmentID,
		LearnerID:     req.LearnerID,
		ActiveSlot:    model.ActiveSlot(),
		EnrollmentID:  req.EnrollmentID,
		AttemptNumber: int(used) + 1,
		Status:        model.AttemptInProgress,
		StartedAt:     now,
		ClientIP:      req.ClientIP,
	}
	session.ID = model.GenerateUUID()
	if def.TimeLimitSeconds != nil {
		deadline := now.Add(time.Duration(*def.TimeLimitSeconds) * time.Second)
		session.Deadline = &deadline
	}
	session.Snapshot = datatypes.NewJSONType(bank.Snapshot(session.ID))

	if err := s.Attempts.Create(ctx, session); err != nil {
		return nil, err
	}

	monitoring.AttemptsOpened.Inc()
	logger.Session(session.ID).Info("Attempt opened",
		zap.String("assessmentId", req.AssessmentID),
		zap.String("learnerId", req.LearnerID),
		zap.Int("attemptNumber", session.AttemptNumber))

	return s.view(session, bank, model.ResponseSet{}, now), nil
}

func (s *AttemptService) loadOwned(ctx context.Context, sessionID, learnerID string) (*model.AttemptSession, error) {
	session, err := s.Attempts.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if learnerID != "" && session.LearnerID != learnerID {
		return nil, util.ErrPermissionDenied
	}
	return session, nil
}

// CheckOwner fails with util.ErrPermissionDenied when learnerID does not own the session.
func (s *AttemptService) CheckOwner(ctx context.Context, sessionID, learnerID string) error {
	_, err := s.loadOwned(ctx, sessionID, learnerID)
	return err
}

// Get returns the resume view. An empty learnerID skips the ownership check for staff callers.
func (s *AttemptService) Get(ctx context.Context, sessionID, learnerID string) (*AttemptView, error) {
	session, err := s.loadOwned(ctx, sessionID, learnerID)
	if err != nil {
		return nil, err
	}
	if session.Status == model.AttemptInProgress {
		if expired, err := s.Expire(ctx, sessionID); err != nil {
			return nil, err
		} else if expired {
			if session, err = s.Attempts.FindByID(ctx, sessionID); err != nil {
				return nil, err
			}
		}
	}

	bank, err := s.Banks.Load(ctx, session.AssessmentID)
	if err != nil {
		return nil, err
	}
	rows, err := s.Attempts.ListResponses(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.view(session, bank, model.NewResponseSet(rows), s.now()), nil
}

func (s *AttemptService) view(session *model.AttemptSession, bank *QuestionBank, responses model.ResponseSet, now time.Time) *AttemptView {
	v := &AttemptView{Session: session, Responses: responses}
	for _, sq := range session.Snapshot.Data().Questions {
		q, ok := bank.Question(sq.QuestionID)
		if !ok {
			continue
		}
		pq := PresentedQuestion{ID: q.ID, Type: q.Type, Prompt: q.Prompt, Points: q.Points}
		text := make(map[string]string, len(q.Options))
		for _, o := range q.Options {
			text[o.ID] = o.Text
		}
		for _, id := range sq.OptionIDs {
			pq.Options = append(pq.Options, PresentedOption{ID: id, Text: text[id]})
		}
		v.Questions = append(v.Questions, pq)
	}
	if session.Status == model.AttemptInProgress && session.Deadline != nil {
		remaining := int(session.Deadline.Sub(now) / time.Second)
		if remaining < 0 {
			remaining = 0
		}
		v.RemainingSeconds = &remaining
	}
	return v
}

// RecordResponse overwrites the learner's answer to one question. It never touches scoring.
func (s *AttemptService) RecordResponse(ctx context.Context, sessionID, learnerID, questionID string, value model.ResponseValue) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.loadOwned(ctx, sessionID, learnerID)
	if err != nil {
		return err
	}
	now := s.now()
	if session.Status != model.AttemptInProgress {
		return util.ErrSessionNotActive
	}
	if session.Deadline != nil && !now.Before(*session.Deadline) {
		return fmt.Errorf("%w: deadline passed", util.ErrSessionNotActive)
	}

	bank, err := s.Banks.Load(ctx, session.AssessmentID)
	if err != nil {
		return err
	}
	resp, err := buildResponse(bank, sessionID, questionID, value)
	if err != nil {
		return err
	}
	return s.Attempts.UpsertResponse(ctx, resp)
}

func buildResponse(bank *QuestionBank, sessionID, questionID string, value model.ResponseValue) (*model.AttemptResponse, error) {
	q, ok := bank.Question(questionID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown question %s", util.ErrInvalidResponse, questionID)
	}
	resp := &model.AttemptResponse{SessionID: sessionID, QuestionID: questionID, Kind: value.Kind}

	switch q.Type {
	case model.OpenText:
		if value.Kind != model.ResponseText {
			return nil, fmt.Errorf("%w: question %s expects text", util.ErrInvalidResponse, questionID)
		}
		resp.Text = value.Text
	case model.SingleChoice, model.MultipleChoice:
		if value.Kind != model.ResponseChoice {
			return nil, fmt.Errorf("%w: question %s expects selected options", util.ErrInvalidResponse, questionID)
		}
		seen := make(map[string]struct{}, len(value.OptionIDs))
		ids := make([]string, 0, len(value.OptionIDs))
		for _, id := range value.OptionIDs {
			if !bank.HasOption(questionID, id) {
				return nil, fmt.Errorf("%w: option %s does not belong to question %s", util.ErrInvalidResponse, id, questionID)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if q.Type == model.SingleChoice && len(ids) > 1 {
			return nil, fmt.Errorf("%w: question %s accepts one option", util.ErrInvalidResponse, questionID)
		}
		resp.OptionIDs = ids
	}
	return resp, nil
}

// Submit ends the attempt. Calling it on an ended session returns the existing state without regrading.
// After the deadline it succeeds only inside the grace window of a lenient policy; otherwise the session expires.
func (s *AttemptService) Submit(ctx context.Context, sessionID, learnerID string) (*SubmitOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "attempt.submit", attribute.String("session.id", sessionID))
	defer span.End()

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.loadOwned(ctx, sessionID, learnerID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.AttemptInProgress {
		return s.existingOutcome(ctx, session)
	}

	bank, err := s.Banks.Load(ctx, session.AssessmentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	reason := model.AttemptSubmitted
	if cutoff := s.expiryCutoff(session, bank.Policy()); cutoff != nil && !now.Before(*cutoff) {
		reason = model.AttemptExpired
	}
	return s.end(ctx, session, reason, now)
}

func (s *AttemptService) existingOutcome(ctx context.Context, session *model.AttemptSession) (*SubmitOutcome, error) {
	out := &SubmitOutcome{Session: session}
	if s.Results != nil {
		res, err := s.Results.FindBySession(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		out.Result = res
	}
	return out, nil
}

// end performs the compare-and-set into a terminal status and, for the winner only, grades.
// Callers hold the session lock.
func (s *AttemptService) end(ctx context.Context, session *model.AttemptSession, reason model.AttemptStatus, now time.Time) (*SubmitOutcome, error) {
	log := logger.Session(session.ID)

	won, err := s.Attempts.EndSession(ctx, session.ID, reason, now)
	if err != nil {
		return nil, err
	}
	current, err := s.Attempts.FindByID(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		log.Debug("Terminal transition lost", zap.String("attempted", string(reason)), zap.String("status", string(current.Status)))
		return s.existingOutcome(ctx, current)
	}

	monitoring.AttemptTransitions.WithLabelValues(string(reason)).Inc()
	log.Info("Attempt ended", zap.String("status", string(reason)))

	out := &SubmitOutcome{Session: current, Transitioned: true}
	result, err := s.Grader.Finalize(ctx, session.ID)
	if err != nil {
		// the sweep picks up ended sessions without a result
		log.Error("Failed to finalize attempt", zap.Error(err))
		return out, nil
	}
	out.Result = result
	if current, err = s.Attempts.FindByID(ctx, session.ID); err == nil {
		out.Session = current
	}
	return out, nil
}

// Expire ends the session if its cutoff has passed. It reports whether this call expired it.
func (s *AttemptService) Expire(ctx context.Context, sessionID string) (bool, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.Attempts.FindByID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session.Status != model.AttemptInProgress {
		return false, nil
	}
	bank, err := s.Banks.Load(ctx, session.AssessmentID)
	if err != nil {
		return false, err
	}
	now := s.now()
	cutoff := s.expiryCutoff(session, bank.Policy())
	if cutoff == nil || now.Before(*cutoff) {
		return false, nil
	}

	out, err := s.end(ctx, session, model.AttemptExpired, now)
	if err != nil {
		return false, err
	}
	return out.Transitioned, nil
}

// SweepExpired expires due sessions and retries grading of sessions that ended without a result.
func (s *AttemptService) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.Attempts.ListDue(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, session := range due {
		ok, err := s.Expire(ctx, session.ID)
		if err != nil {
			logger.Session(session.ID).Error("Failed to expire attempt", zap.Error(err))
			continue
		}
		if ok {
			expired++
		}
	}

	ungraded, err := s.Attempts.ListEndedUngraded(ctx, now.Add(-ungradedGrace), sweepBatchSize)
	if err != nil {
		return expired, err
	}
	for _, session := range ungraded {
		s.refinalize(ctx, session.ID)
	}
	return expired, nil
}

func (s *AttemptService) refinalize(ctx context.Context, sessionID string) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	if _, err := s.Grader.Finalize(ctx, sessionID); err != nil {
		logger.Session(sessionID).Error("Failed to re-finalize attempt", zap.Error(err))
	}
}

// Result returns the graded result of a learner's session.
func (s *AttemptService) Result(ctx context.Context, sessionID, learnerID string) (*model.GradedResult, error) {
	session, err := s.loadOwned(ctx, sessionID, learnerID)
	if err != nil {
		return nil, err
	}
	res, err := s.Results.FindBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		if session.Status == model.AttemptInProgress {
			return nil, util.ErrSessionNotTerminal
		}
		return nil, util.ErrResultNotFound
	}
	return res, nil
}
