package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	AttemptsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_attempts_opened_total",
			Help: "Attempt sessions opened",
		},
	)

	AttemptTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_attempt_transitions_total",
			Help: "Terminal transitions of attempt sessions by resulting status",
		},
		[]string{"status"},
	)

	ProctoringEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_proctoring_events_total",
			Help: "Proctoring events received by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	Grades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_grades_total",
			Help: "Graded results by grading method and verdict",
		},
		[]string{"method", "passed"},
	)

	CertificatesIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_certificates_issued_total",
			Help: "Certificates minted",
		},
	)

	EventPublishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_event_publish_failures_total",
			Help: "Outbound engine events that failed to publish",
		},
		[]string{"sink"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			AttemptsOpened,
			AttemptTransitions,
			ProctoringEvents,
			Grades,
			CertificatesIssued,
			EventPublishFailures,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
