package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"multimodal/internal/apperrors"
	"multimodal/internal/storage"
	"multimodal/pkg/backoff"
	"multimodal/pkg/circuitbreaker"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	maxResponseBytes = 64 << 20 // provider payloads (images, audio)
	maxInputBytes    = 32 << 20 // referenced inputs
	maxErrorSnippet  = 200
)

// ArtifactStore persists provider output and resolves references this system
// produced. *storage.Local implements it.
type ArtifactStore interface {
	Put(ctx context.Context, data []byte, kind storage.Kind) (string, error)
	Owns(ref string) bool
	ReadFile(ref string) ([]byte, error)
}

// Client is the provider transport shared by all adapters. It bounds every
// call with a timeout, guards each provider host with a circuit breaker,
// retries a warming-up provider once and classifies responses into the
// apperrors taxonomy.
type Client struct {
	http     *http.Client
	input    *http.Client
	breakers *circuitbreaker.Registry
	store    ArtifactStore
	cfg      Config
	logger   *slog.Logger
}

// NewClient creates a provider client.
func NewClient(cfg Config, store ArtifactStore) *Client {
	cfg = cfg.withDefaults()
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		http:  &http.Client{Transport: transport},
		input: &http.Client{Transport: transport, Timeout: cfg.InputTimeout},
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
		}),
		store:  store,
		cfg:    cfg,
		logger: slog.With("component", "worker"),
	}
}

// Breakers exposes the per-host breaker registry.
func (c *Client) Breakers() *circuitbreaker.Registry { return c.breakers }

// outbound describes one provider request. The body is replayed on retry.
type outbound struct {
	method      string
	url         string
	header      http.Header
	body        []byte
	contentType string
}

func jsonCall(method, rawURL string, payload any, header http.Header) (outbound, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return outbound{}, fmt.Errorf("marshal request: %w", err)
		}
	}
	return outbound{method: method, url: rawURL, header: header, body: body, contentType: "application/json"}, nil
}

// reply is a successful (2xx) provider response.
type reply struct {
	status int
	header http.Header
	body   []byte
}

// send performs the call. A 503 is treated as a provider warming up: the
// client waits the provider's estimate (or the default), clamped to
// WarmupMaxWait, and retries exactly once.
func (c *Client) send(ctx context.Context, provider string, out outbound) (*reply, error) {
	host := hostOf(out.url)
	breaker := c.breakers.Get(host)
	if !breaker.Allow() {
		return nil, apperrors.Provider(provider, 0,
			fmt.Sprintf("circuit open for %s, retry in %s", host, breaker.RetryAfter().Round(time.Second)))
	}

	rep, err := c.attempt(ctx, provider, out)
	if err != nil && apperrors.IsRetryable(err) {
		wait := c.cfg.WarmupDefaultWait
		if est := estimatedTime(err); est > 0 {
			wait = est
		}
		wait = backoff.Clamp(wait, 0, c.cfg.WarmupMaxWait)
		c.logger.Info("Model loading, retrying", "provider", provider, "host", host, "wait", wait)

		if serr := backoff.Sleep(ctx, wait); serr != nil {
			err = apperrors.Timeout(provider, "canceled while waiting for model warm-up", serr)
		} else {
			rep, err = c.attempt(ctx, provider, out)
			err = apperrors.RetryExhausted(err)
		}
	}

	if hostFault(err) {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}
	return rep, err
}

func (c *Client) attempt(ctx context.Context, provider string, out outbound) (*reply, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	defer cancel()

	var body io.Reader
	if out.body != nil {
		body = bytes.NewReader(out.body)
	}
	req, err := http.NewRequestWithContext(callCtx, out.method, out.url, body)
	if err != nil {
		return nil, apperrors.Configuration(provider, fmt.Sprintf("invalid provider URL %q: %v", out.url, err))
	}
	for k, vs := range out.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if out.body != nil && out.contentType != "" {
		req.Header.Set("Content-Type", out.contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError(provider, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &reply{status: resp.StatusCode, header: resp.Header, body: data}, nil
	}
	return nil, classify(provider, resp.StatusCode, data)
}

func (c *Client) transportError(provider string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.Timeout(provider, fmt.Sprintf("no response within %s", c.cfg.ProviderTimeout), err)
	}
	return apperrors.Provider(provider, 0, fmt.Sprintf("request failed: %v", err))
}

// classify maps a non-2xx provider response onto the failure taxonomy.
func classify(provider string, status int, body []byte) error {
	detail := errorDetail(body)
	switch {
	case status == http.StatusServiceUnavailable:
		err := apperrors.Transient(provider, status, withDetail("model loading", detail))
		if est, ok := parseEstimatedTime(body); ok {
			return &warmup{error: err, estimate: est}
		}
		return err
	case status == http.StatusNotFound || status == http.StatusGone:
		return apperrors.ModelGone(provider, status, withDetail(fmt.Sprintf("model unavailable (HTTP %d)", status), detail))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.Provider(provider, status, fmt.Sprintf("authentication failed (HTTP %d)", status))
	case status == http.StatusTooManyRequests:
		return apperrors.Provider(provider, status, "rate limited (HTTP 429)")
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return apperrors.Timeout(provider, fmt.Sprintf("provider timed out (HTTP %d)", status), nil)
	case status >= 400 && status < 500:
		return apperrors.Provider(provider, status, withDetail(fmt.Sprintf("request rejected (HTTP %d)", status), detail))
	default:
		return apperrors.Provider(provider, status, withDetail(fmt.Sprintf("server error (HTTP %d)", status), detail))
	}
}

// warmup carries the provider's estimated loading time alongside a transient error.
type warmup struct {
	error
	estimate time.Duration
}

func (w *warmup) Unwrap() error { return w.error }

func estimatedTime(err error) time.Duration {
	var w *warmup
	if errors.As(err, &w) {
		return w.estimate
	}
	return 0
}

func parseEstimatedTime(body []byte) (time.Duration, bool) {
	var payload struct {
		EstimatedTime *float64 `json:"estimated_time"`
	}
	if json.Unmarshal(body, &payload) != nil || payload.EstimatedTime == nil {
		return 0, false
	}
	d := backoff.Seconds(*payload.EstimatedTime)
	return d, d > 0
}

// errorDetail pulls a short human-readable reason out of an error body.
func errorDetail(body []byte) string {
	var payload struct {
		Error  any    `json:"error"`
		Detail any    `json:"detail"`
		Msg    string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		for _, v := range []any{payload.Error, payload.Detail, payload.Msg} {
			switch s := v.(type) {
			case string:
				if s != "" {
					return truncate(s)
				}
			case map[string]any:
				if m, ok := s["message"].(string); ok && m != "" {
					return truncate(m)
				}
			}
		}
	}
	return truncate(strings.TrimSpace(string(body)))
}

func withDetail(msg, detail string) string {
	if detail == "" {
		return msg
	}
	return msg + ": " + detail
}

func truncate(s string) string {
	if len(s) > maxErrorSnippet {
		return s[:maxErrorSnippet] + "..."
	}
	return s
}

// hostFault reports whether err says something about the provider host's
// health. Client-side rejections and missing models do not count.
func hostFault(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, apperrors.ErrTimeout), errors.Is(err, apperrors.ErrTransient):
		return true
	case errors.Is(err, apperrors.ErrProvider):
		status := apperrors.StatusCode(err)
		return status == 0 || status >= 500
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// FetchInput verifies a referenced input is reachable and returns its bytes.
// References produced by this system are read from storage; anything else
// must be an http(s) URL. Every failure here is a client-input failure.
func (c *Client) FetchInput(ctx context.Context, field, ref string) ([]byte, error) {
	if ref == "" {
		return nil, apperrors.Validation(field, field+" is required")
	}
	if c.store != nil && c.store.Owns(ref) {
		data, err := c.store.ReadFile(ref)
		if err != nil {
			return nil, apperrors.InputUnreachable(field, ref, err)
		}
		if len(data) == 0 {
			return nil, apperrors.InputUnreachable(field, ref, errors.New("empty file"))
		}
		return data, nil
	}

	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperrors.InputUnreachable(field, ref, errors.New("not an http(s) URL"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, apperrors.InputUnreachable(field, ref, err)
	}
	resp, err := c.input.Do(req)
	if err != nil {
		return nil, apperrors.InputUnreachable(field, ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.InputUnreachable(field, ref, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInputBytes))
	if err != nil {
		return nil, apperrors.InputUnreachable(field, ref, err)
	}
	if len(data) == 0 {
		return nil, apperrors.InputUnreachable(field, ref, errors.New("empty body"))
	}
	return data, nil
}

// storeArtifact validates provider output and stores it. Payloads below
// MinArtifactBytes are invalid output even with a 2xx status.
func (c *Client) storeArtifact(ctx context.Context, provider string, data []byte, kind storage.Kind) (string, error) {
	if len(data) < c.cfg.MinArtifactBytes {
		return "", apperrors.InvalidOutput(provider,
			fmt.Sprintf("%s payload too small (%d bytes, minimum %d)", kind, len(data), c.cfg.MinArtifactBytes))
	}
	if c.store == nil {
		return "", apperrors.Configuration(provider, "no artifact storage configured")
	}
	ref, err := c.store.Put(ctx, data, kind)
	if err != nil {
		return "", apperrors.Internal("storage.put", err)
	}
	return ref, nil
}
