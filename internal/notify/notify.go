// Package notify delivers job completion callbacks as signed CloudEvents.
package notify

import (
	"context"
	"log/slog"
	"multimodal/internal/config"
	"multimodal/internal/job"
	"multimodal/pkg/backoff"
	"multimodal/pkg/circuitbreaker"
	"multimodal/pkg/cloudevent"
	"net/url"
	"time"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
)

// Config holds callback delivery settings.
type Config struct {
	Timeout    time.Duration // Per-request timeout (default: 10s)
	MaxRetries int           // Retries after the first attempt (default: 3)
	Backoff    backoff.Config
	Breaker    circuitbreaker.Config
}

// LoadConfigFromEnv loads callback settings from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Timeout:    config.GetDurationEnv("CALLBACK_TIMEOUT", defaultTimeout),
		MaxRetries: config.GetIntEnv("CALLBACK_MAX_RETRIES", defaultMaxRetries),
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// MetricsRecorder records callback delivery outcomes.
type MetricsRecorder interface {
	RecordCallback(ctx context.Context, eventType string, success bool)
}

// Notifier sends a CloudEvent to the job's callback URL when it finishes.
// Delivery problems are logged and never affect the job.
type Notifier struct {
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	config   Config
	metrics  MetricsRecorder
	logger   *slog.Logger
}

// New creates a notifier. metrics may be nil.
func New(cfg Config, metrics MetricsRecorder) *Notifier {
	cfg = cfg.withDefaults()
	return &Notifier{
		sender:   cloudevent.NewSender(cfg.Timeout),
		breakers: circuitbreaker.NewRegistry(cfg.Breaker),
		config:   cfg,
		metrics:  metrics,
		logger:   slog.With("component", "notify"),
	}
}

// Notify delivers the terminal event for j. Jobs without a callback or not
// yet finished are ignored.
func (n *Notifier) Notify(ctx context.Context, j *job.Job) {
	if j.Callback == nil || j.Callback.URL == "" {
		return
	}
	event := job.TerminalEvent(j)
	if event == nil {
		return
	}

	host := extractHost(j.Callback.URL)
	logger := n.logger.With("jobId", j.ID, "destination", host, "type", event.Type)

	breaker := n.breakers.Get(host)
	if !breaker.Allow() {
		n.record(ctx, event.Type, false)
		logger.Warn("Callback skipped, circuit open", "retryAfter", breaker.RetryAfter())
		return
	}

	if err := n.sendWithRetry(ctx, j.Callback, event); err != nil {
		breaker.RecordFailure()
		n.record(ctx, event.Type, false)
		logger.Warn("Callback delivery failed", "error", err)
		return
	}
	breaker.RecordSuccess()
	n.record(ctx, event.Type, true)
	logger.Debug("Callback delivered")
}

func (n *Notifier) sendWithRetry(ctx context.Context, cb *job.Callback, event *cloudevent.CloudEvent) error {
	var lastErr error
	for attempt := range n.config.MaxRetries + 1 {
		if attempt > 0 {
			if err := backoff.Sleep(ctx, backoff.Exponential(attempt, &n.config.Backoff)); err != nil {
				return err
			}
		}

		lastErr = n.sender.Send(ctx, cb.URL, event, cb.Key)
		if lastErr == nil {
			return nil
		}
		if cloudevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (n *Notifier) record(ctx context.Context, eventType string, success bool) {
	if n.metrics != nil {
		n.metrics.RecordCallback(ctx, eventType, success)
	}
}

// Breakers returns breaker statistics per callback host.
func (n *Notifier) Breakers() circuitbreaker.Stats {
	return n.breakers.Stats()
}

// extractHost extracts the host from a URL for circuit breaker keying.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
