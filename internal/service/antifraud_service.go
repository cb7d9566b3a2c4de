package service

import (
	"assessment_engine/internal/model"
	"assessment_engine/internal/repository"
	"assessment_engine/internal/util"
	"assessment_engine/pkg/logger"
	"assessment_engine/pkg/monitoring"
	"assessment_engine/pkg/tracing"
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// EventResult is the monitor's verdict on one proctoring event.
type EventResult struct {
	Outcome              model.EventOutcome  `json:"outcome"`
	Weight               int                 `json:"weight"`
	ViolationScore       int                 `json:"violationScore"`
	Status               model.AttemptStatus `json:"status"`
	ManualReviewRequired bool                `json:"manualReviewRequired"`
}

// AntiFraudService accumulates proctoring violations and escalates at the policy threshold.
type AntiFraudService struct {
	Attempts AttemptStore
	Banks    *BankCache
	Log      ProctoringLog
	Grader   Finalizer
	settings *EngineSettings
	locks    *KeyedMutex
	now      func() time.Time
}

func NewAntiFraudService(attempts AttemptStore, banks *BankCache, log ProctoringLog, grader Finalizer, settings *EngineSettings, locks *KeyedMutex) *AntiFraudService {
	return &AntiFraudService{
		Attempts: attempts,
		Banks:    banks,
		Log:      log,
		Grader:   grader,
		settings: settings,
		locks:    locks,
		now:      time.Now,
	}
}

// ApplyEvent applies one event under the session lock.
// Events for sessions that are no longer in progress come back with util.ErrStaleEvent alongside
// a stale EventResult; they are recorded for audit and change nothing.
func (s *AntiFraudService) ApplyEvent(ctx context.Context, sessionID string, ev model.ProctoringEvent) (*EventResult, error) {
	ctx, span := tracing.StartSpan(ctx, "antifraud.apply_event",
		attribute.String("session.id", sessionID),
		attribute.String("event.type", string(ev.Type)))
	defer span.End()

	weight, ok := s.settings.Weight(ev.Type)
	if !ok {
		return nil, util.ErrUnknownEventType
	}
	now := s.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	log := logger.Session(sessionID)

	session, err := s.Attempts.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res := &EventResult{
		Weight:               weight,
		ViolationScore:       session.ViolationScore,
		Status:               session.Status,
		ManualReviewRequired: session.ManualReviewRequired,
	}

	if session.Status != model.AttemptInProgress || ev.Timestamp.Before(session.StartedAt) {
		return s.stale(ctx, session, ev, res)
	}

	bank, err := s.Banks.Load(ctx, session.AssessmentID)
	if err != nil {
		return nil, err
	}
	policy := bank.Policy()
	if !policy.ProctoringEnabled {
		res.Outcome = model.OutcomeIgnored
		res.Weight = 0
		s.record(ctx, session.ID, ev, res)
		return res, nil
	}

	update := repository.ViolationUpdate{Score: session.ViolationScore + weight, At: now}
	res.Outcome = model.OutcomeApplied
	if threshold := s.settings.Threshold(policy); threshold > 0 && update.Score >= threshold {
		if policy.AutoSuspend {
			update.Suspend = true
			res.Outcome = model.OutcomeSuspended
		} else {
			update.FlagReview = true
			res.Outcome = model.OutcomeFlagged
		}
	}

	applied, err := s.Attempts.ApplyViolation(ctx, session.ID, update)
	if err != nil {
		return nil, err
	}
	if !applied {
		// ended by another process between the read and the update
		return s.stale(ctx, session, ev, res)
	}

	res.ViolationScore = update.Score
	if update.FlagReview {
		res.ManualReviewRequired = true
		if !session.ManualReviewRequired {
			log.Warn("Attempt flagged for manual review", zap.Int("violationScore", update.Score))
		}
	}
	s.record(ctx, session.ID, ev, res)

	if update.Suspend {
		res.Status = model.AttemptSuspended
		monitoring.AttemptTransitions.WithLabelValues(string(model.AttemptSuspended)).Inc()
		log.Warn("Attempt suspended", zap.Int("violationScore", update.Score), zap.String("trigger", string(ev.Type)))
		if _, err := s.Grader.Finalize(ctx, session.ID); err != nil {
			log.Error("Failed to finalize suspended attempt", zap.Error(err))
		} else {
			res.Status = model.AttemptGraded
		}
	}
	return res, nil
}

func (s *AntiFraudService) stale(ctx context.Context, session *model.AttemptSession, ev model.ProctoringEvent, res *EventResult) (*EventResult, error) {
	res.Outcome = model.OutcomeStale
	res.Weight = 0
	logger.Session(session.ID).Warn("Stale proctoring event",
		zap.String("type", string(ev.Type)),
		zap.String("status", string(session.Status)),
		zap.Time("occurredAt", ev.Timestamp))
	s.record(ctx, session.ID, ev, res)
	return res, util.ErrStaleEvent
}

func (s *AntiFraudService) record(ctx context.Context, sessionID string, ev model.ProctoringEvent, res *EventResult) {
	monitoring.ProctoringEvents.WithLabelValues(string(ev.Type), string(res.Outcome)).Inc()
	if s.Log == nil {
		return
	}
	rec := &model.ProctoringEventRecord{
		SessionID:  sessionID,
		Type:       ev.Type,
		Weight:     res.Weight,
		OccurredAt: ev.Timestamp,
		Outcome:    res.Outcome,
		ScoreAfter: res.ViolationScore,
	}
	if err := s.Log.Append(ctx, rec); err != nil {
		logger.Session(sessionID).Warn("Failed to record proctoring event", zap.Error(err))
	}
}
