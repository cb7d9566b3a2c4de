package service

import (
	"assessment_engine/internal/config"
	"assessment_engine/internal/model"
	"assessment_engine/pkg/logger"
	"assessment_engine/pkg/monitoring"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// EventPublisher delivers engine events to outside collaborators.
type EventPublisher interface {
	Name() string
	Publish(ctx context.Context, event model.EngineEvent) error
}

// Emit publishes and swallows failures: a dashboard being down never fails an attempt.
func Emit(ctx context.Context, pub EventPublisher, event model.EngineEvent) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, event); err != nil {
		monitoring.EventPublishFailures.WithLabelValues(pub.Name()).Inc()
		logger.Log.Warn("Failed to publish engine event",
			zap.String("sink", pub.Name()),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

type NopPublisher struct{}

func (NopPublisher) Name() string { return "nop" }

func (NopPublisher) Publish(context.Context, model.EngineEvent) error { return nil }

// MultiPublisher fans an event out to every sink; each sink fails independently.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Name() string { return "multi" }

func (m MultiPublisher) Publish(ctx context.Context, event model.EngineEvent) error {
	for _, p := range m {
		Emit(ctx, p, event)
	}
	return nil
}

type RedisPublisher struct {
	Client  *redis.Client
	Channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{Client: client, Channel: channel}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, event model.EngineEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Client.Publish(ctx, p.Channel, payload).Err()
}

// WebhookPublisher POSTs each event as JSON to the configured URLs.
// When a secret is set the body is signed with keyed blake2b-256 in X-Engine-Signature.
type WebhookPublisher struct {
	client *resty.Client
	urls   []string
	secret []byte
}

func NewWebhookPublisher(cfg config.WebhookConfig) *WebhookPublisher {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("Content-Type", "application/json")
	return &WebhookPublisher{client: client, urls: cfg.URLs, secret: []byte(cfg.Secret)}
}

func (p *WebhookPublisher) Name() string { return "webhook" }

func (p *WebhookPublisher) Publish(ctx context.Context, event model.EngineEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	headers := map[string]string{"X-Engine-Event": string(event.Type)}
	if len(p.secret) > 0 {
		sig, err := keyedDigest(p.secret, body)
		if err != nil {
			return err
		}
		headers["X-Engine-Signature"] = sig
	}

	// every URL gets the event even when an earlier one fails
	var errs []error
	for _, url := range p.urls {
		resp, err := p.client.R().SetContext(ctx).SetHeaders(headers).SetBody(body).Post(url)
		if err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", url, err))
			continue
		}
		if resp.IsError() {
			errs = append(errs, fmt.Errorf("webhook %s: unexpected status %d", url, resp.StatusCode()))
		}
	}
	return errors.Join(errs...)
}

// keyedDigest is hex(blake2b-256) keyed by secret; secrets longer than a blake2b key are hashed first.
func keyedDigest(secret, data []byte) (string, error) {
	key := secret
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
