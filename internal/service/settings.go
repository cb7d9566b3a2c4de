package service

import (
	"assessment_engine/internal/config"
	"assessment_engine/internal/model"
	"assessment_engine/pkg/logger"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EngineSettings holds the tunables that can change while the engine runs.
type EngineSettings struct {
	mu               sync.RWMutex
	gracePeriod      time.Duration
	weights          map[model.ProctoringEventType]int
	defaultThreshold int
}

func NewEngineSettings(cfg config.EngineConfig) *EngineSettings {
	s := &EngineSettings{}
	s.Apply(cfg)
	return s
}

// Apply replaces the current tunables. Unknown weight keys are ignored.
func (s *EngineSettings) Apply(cfg config.EngineConfig) {
	weights := make(map[model.ProctoringEventType]int, len(model.DefaultEventWeights))
	for t, w := range model.DefaultEventWeights {
		weights[t] = w
	}
	for name, w := range cfg.ProctoringWeights {
		t := model.ProctoringEventType(name)
		if _, ok := weights[t]; !ok {
			logger.Log.Warn("Ignoring weight for unknown proctoring event type", zap.String("type", name))
			continue
		}
		if w < 0 {
			w = 0
		}
		weights[t] = w
	}

	grace := time.Duration(cfg.GracePeriodSeconds) * time.Second
	if grace < 0 {
		grace = 0
	}

	s.mu.Lock()
	s.gracePeriod = grace
	s.weights = weights
	s.defaultThreshold = cfg.DefaultAlertThreshold
	s.mu.Unlock()
}

func (s *EngineSettings) GracePeriod() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gracePeriod
}

func (s *EngineSettings) Weight(t model.ProctoringEventType) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.weights[t]
	return w, ok
}

// Threshold returns the policy threshold, or the configured default when the policy leaves it unset.
func (s *EngineSettings) Threshold(policy model.AntiFraudPolicy) int {
	if policy.AlertThreshold > 0 {
		return policy.AlertThreshold
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultThreshold
}
