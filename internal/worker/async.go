package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"multimodal/internal/apperrors"
	"multimodal/internal/storage"
	"multimodal/pkg/backoff"
	"net/http"
	"strings"
	"time"
)

// handledOptions are interpreted by the adapter; everything else is passed
// to the provider as input extras.
var handledOptions = []string{"model", "style", "quality", "language", "voice", "temperature", "max_tokens"}

// AsyncPredictor drives a prediction-style provider: the job is submitted,
// then its status URL is polled until it reports a terminal state or the poll
// budget runs out. It serves either the image or the transform role.
type AsyncPredictor struct {
	client      *Client
	role        Role
	baseURL     string
	apiKey      string
	model       string
	minInterval time.Duration
	maxInterval time.Duration
	maxPolls    int
	logger      *slog.Logger
}

// NewAsyncPredictor creates a polling adapter for role (RoleImage or RoleTransform).
func NewAsyncPredictor(client *Client, cfg Config, role Role) *AsyncPredictor {
	cfg = cfg.withDefaults()
	return &AsyncPredictor{
		client:      client,
		role:        role,
		baseURL:     strings.TrimRight(cfg.AsyncBaseURL, "/"),
		apiKey:      cfg.AsyncAPIKey,
		model:       cfg.AsyncModel,
		minInterval: cfg.PollMinInterval,
		maxInterval: cfg.PollMaxInterval,
		maxPolls:    cfg.PollMaxAttempts,
		logger:      slog.With("component", "worker", "adapter", "async-"+string(role)),
	}
}

func (a *AsyncPredictor) Name() string { return "async-" + string(a.role) }

type prediction struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Output        json.RawMessage `json:"output"`
	Error         any             `json:"error"`
	EstimatedTime *float64        `json:"estimated_time"`
	URLs          struct {
		Get string `json:"get"`
	} `json:"urls"`
}

type predictionState int

const (
	statePending predictionState = iota
	stateSucceeded
	stateFailed
)

func (p *prediction) state() predictionState {
	switch strings.ToLower(p.Status) {
	case "succeeded", "completed", "success":
		return stateSucceeded
	case "failed", "error", "canceled", "cancelled":
		return stateFailed
	default:
		return statePending
	}
}

// Invoke submits a prediction and polls it to completion.
func (a *AsyncPredictor) Invoke(ctx context.Context, req Request) (*Result, error) {
	const provider = "async"
	if a.apiKey == "" {
		return nil, apperrors.Configuration(a.Name(), "ASYNC_API_KEY not configured")
	}

	input, err := a.buildInput(ctx, req)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.apiKey)

	model := req.Options.String("model", a.model)
	out, err := jsonCall(http.MethodPost, a.baseURL+"/predictions", map[string]any{"model": model, "input": input}, header)
	if err != nil {
		return nil, apperrors.Internal("async.request", err)
	}
	rep, err := a.client.send(ctx, provider, out)
	if err != nil {
		return nil, err
	}
	p, err := decodePrediction(provider, rep.body)
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, apperrors.InvalidOutput(provider, "prediction has no id")
	}

	for polls := 0; ; polls++ {
		switch p.state() {
		case stateSucceeded:
			return a.collect(ctx, provider, model, p)
		case stateFailed:
			return nil, apperrors.Provider(provider, 0, fmt.Sprintf("prediction %s %s: %s", p.ID, p.Status, predictionError(p.Error)))
		}
		if polls >= a.maxPolls {
			return nil, apperrors.Timeout(provider,
				fmt.Sprintf("prediction %s still %s after %d polls", p.ID, p.Status, polls), nil)
		}

		wait := a.nextWait(p, polls+1)
		a.logger.Debug("Prediction pending", "prediction", p.ID, "status", p.Status, "poll", polls+1, "wait", wait)
		if err := backoff.Sleep(ctx, wait); err != nil {
			return nil, apperrors.Timeout(provider, fmt.Sprintf("canceled while polling prediction %s", p.ID), err)
		}

		pollURL := p.URLs.Get
		if pollURL == "" {
			pollURL = a.baseURL + "/predictions/" + p.ID
		}
		poll, _ := jsonCall(http.MethodGet, pollURL, nil, header)
		rep, err := a.client.send(ctx, provider, poll)
		if err != nil {
			return nil, err
		}
		if p, err = decodePrediction(provider, rep.body); err != nil {
			return nil, err
		}
	}
}

func (a *AsyncPredictor) buildInput(ctx context.Context, req Request) (map[string]any, error) {
	input := req.Options.Without(handledOptions...)
	switch a.role {
	case RoleTransform:
		image, err := a.client.FetchInput(ctx, "image_url", req.ImageURL)
		if err != nil {
			return nil, err
		}
		input["image"] = "data:" + mediaType(image, "image/png") + ";base64," + base64.StdEncoding.EncodeToString(image)
		if style := req.Options.String("style", ""); style != "" {
			input["prompt"] = style
		}
	default:
		if strings.TrimSpace(req.Text) == "" {
			return nil, apperrors.Validation("text", "prompt is required")
		}
		input["prompt"] = stylePrompt(req.Text, req.Options)
		if _, ok := input["aspect_ratio"]; !ok {
			input["aspect_ratio"] = "1:1"
		}
	}
	return input, nil
}

// nextWait honors the provider's estimate when given, otherwise backs off
// exponentially. Both are clamped to [minInterval, maxInterval].
func (a *AsyncPredictor) nextWait(p *prediction, poll int) time.Duration {
	if p.EstimatedTime != nil {
		if est := backoff.Seconds(*p.EstimatedTime); est > 0 {
			return backoff.Clamp(est, a.minInterval, a.maxInterval)
		}
	}
	d := backoff.Exponential(poll, &backoff.Config{Initial: a.minInterval, Max: a.maxInterval})
	return backoff.Clamp(d, a.minInterval, a.maxInterval)
}

func (a *AsyncPredictor) collect(ctx context.Context, provider, model string, p *prediction) (*Result, error) {
	outURL := predictionOutput(p.Output)
	if outURL == "" {
		return nil, apperrors.InvalidOutput(provider, fmt.Sprintf("prediction %s produced no output", p.ID))
	}

	var data []byte
	if strings.HasPrefix(outURL, "data:") {
		decoded, err := decodeDataURI(outURL)
		if err != nil {
			return nil, apperrors.InvalidOutput(provider, "malformed data URI output")
		}
		data = decoded
	} else {
		get, _ := jsonCall(http.MethodGet, outURL, nil, nil)
		rep, err := a.client.send(ctx, provider, get)
		if err != nil {
			return nil, err
		}
		data = rep.body
	}

	ref, err := a.client.storeArtifact(ctx, provider, data, storage.KindImage)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: OutputImage, Ref: ref, Provider: model}, nil
}

func decodePrediction(provider string, body []byte) (*prediction, error) {
	var p prediction
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperrors.InvalidOutput(provider, "prediction response is not valid JSON")
	}
	return &p, nil
}

// predictionOutput accepts a URL string or a list whose first non-empty
// string is used.
func predictionOutput(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var list []any
	if json.Unmarshal(raw, &list) == nil {
		for _, v := range list {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func predictionError(v any) string {
	switch e := v.(type) {
	case nil:
		return "no reason given"
	case string:
		if e == "" {
			return "no reason given"
		}
		return truncate(e)
	default:
		b, _ := json.Marshal(e)
		return truncate(string(b))
	}
}

func decodeDataURI(uri string) ([]byte, error) {
	_, payload, ok := strings.Cut(uri, ",")
	if !ok || !strings.Contains(uri[:len(uri)-len(payload)], ";base64") {
		return nil, fmt.Errorf("unsupported data URI")
	}
	return base64.StdEncoding.DecodeString(payload)
}
