package service

import (
	"assessment_engine/internal/config"
	"assessment_engine/internal/model"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedHook struct {
	body      []byte
	eventType string
	signature string
}

// hookServer records every delivery and answers with status.
func hookServer(t *testing.T, status int) (*httptest.Server, func() []capturedHook) {
	t.Helper()
	var mu sync.Mutex
	var hooks []capturedHook
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		hooks = append(hooks, capturedHook{
			body:      body,
			eventType: r.Header.Get("X-Engine-Event"),
			signature: r.Header.Get("X-Engine-Signature"),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedHook {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedHook(nil), hooks...)
	}
}

func moduleCompletedEvent() model.EngineEvent {
	return model.EngineEvent{
		Type:         model.EventModuleCompleted,
		EnrollmentID: "enr-1",
		ModuleID:     "mod-exam",
		LearnerID:    "learner-1",
		OccurredAt:   time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestWebhookPublisher_SignsBody(t *testing.T) {
	srv, hooks := hookServer(t, http.StatusNoContent)
	pub := NewWebhookPublisher(config.WebhookConfig{URLs: []string{srv.URL}, Secret: "hook-secret", Timeout: 2 * time.Second})

	require.NoError(t, pub.Publish(context.Background(), moduleCompletedEvent()))

	got := hooks()
	require.Len(t, got, 1)
	assert.Equal(t, string(model.EventModuleCompleted), got[0].eventType)

	var decoded model.EngineEvent
	require.NoError(t, json.Unmarshal(got[0].body, &decoded))
	assert.Equal(t, model.EventModuleCompleted, decoded.Type)
	assert.Equal(t, "enr-1", decoded.EnrollmentID)
	assert.Equal(t, "learner-1", decoded.LearnerID)

	want, err := keyedDigest([]byte("hook-secret"), got[0].body)
	require.NoError(t, err)
	assert.Equal(t, want, got[0].signature)
	assert.Len(t, got[0].signature, 64)

	other, err := keyedDigest([]byte("another-secret"), got[0].body)
	require.NoError(t, err)
	assert.NotEqual(t, other, got[0].signature)
}

func TestWebhookPublisher_UnsignedWithoutSecret(t *testing.T) {
	srv, hooks := hookServer(t, http.StatusOK)
	pub := NewWebhookPublisher(config.WebhookConfig{URLs: []string{srv.URL}, Timeout: 2 * time.Second})

	require.NoError(t, pub.Publish(context.Background(), moduleCompletedEvent()))
	got := hooks()
	require.Len(t, got, 1)
	assert.Empty(t, got[0].signature)
}

func TestWebhookPublisher_ErrorStatusFailsButOtherURLsStillReceive(t *testing.T) {
	broken, brokenHooks := hookServer(t, http.StatusInternalServerError)
	healthy, healthyHooks := hookServer(t, http.StatusOK)
	pub := NewWebhookPublisher(config.WebhookConfig{URLs: []string{broken.URL, healthy.URL}, Timeout: 2 * time.Second})

	err := pub.Publish(context.Background(), moduleCompletedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.Len(t, brokenHooks(), 1)
	assert.Len(t, healthyHooks(), 1)
}

func TestKeyedDigest_LongSecret(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = byte(i)
	}
	a, err := keyedDigest(long, []byte("payload"))
	require.NoError(t, err)
	b, err := keyedDigest(long, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := keyedDigest(long, []byte("payload!"))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

type failingPublisher struct{}

func (failingPublisher) Name() string { return "failing" }

func (failingPublisher) Publish(context.Context, model.EngineEvent) error {
	return errors.New("sink unavailable")
}

func TestMultiPublisher_OneSinkFailingDoesNotBlockOthers(t *testing.T) {
	rec := &recordingPublisher{}
	multi := MultiPublisher{failingPublisher{}, rec, NopPublisher{}}

	require.NoError(t, multi.Publish(context.Background(), moduleCompletedEvent()))
	assert.Equal(t, 1, rec.count(model.EventModuleCompleted))
}

func TestRedisPublisher_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	pub := NewRedisPublisher(client, "engine-events")
	assert.Equal(t, "redis", pub.Name())
	assert.Error(t, pub.Publish(context.Background(), moduleCompletedEvent()))

	// Emit swallows the failure
	assert.NotPanics(t, func() { Emit(context.Background(), pub, moduleCompletedEvent()) })
}
