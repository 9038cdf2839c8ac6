package job

import (
	"context"
	"fmt"
	"log/slog"
	"multimodal/internal/apperrors"
	"multimodal/internal/observability"
	"multimodal/internal/worker"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Validation limits
const (
	maxTextLength     = 10000
	maxRefLength      = 2048
	maxOptions        = 32
	maxOptionKeyLen   = 64
	maxOptionValueLen = 1024
	defaultListLimit  = 100
	maxListLimit      = 500
)

// Option defaults resolved at creation time.
var optionDefaults = map[string]any{
	"language":     "en",
	"quality":      "high",
	"aspect_ratio": "1:1",
}

// Service creates and reads jobs for the request-facing surface.
//
// Create stores the job and hands its identifier to the dispatcher; it never
// waits for execution.
type Service struct {
	store         Store
	dispatcher    Dispatcher
	metrics       *observability.Metrics
	storagePrefix string
	now           func() time.Time
}

// NewService creates a new job service. storagePrefix is the URL prefix of
// artifacts this system serves; such references are accepted as inputs.
func NewService(store Store, dispatcher Dispatcher, metrics *observability.Metrics, storagePrefix string) *Service {
	return &Service{
		store:         store,
		dispatcher:    dispatcher,
		metrics:       metrics,
		storagePrefix: strings.TrimRight(storagePrefix, "/"),
		now:           time.Now,
	}
}

// Create validates the request, stores a queued job and dispatches it.
//
// When the dispatcher refuses the job it is marked failed with the
// dispatcher's message and the dispatcher error is returned.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*Job, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	j := &Job{
		ID:       uuid.NewString(),
		Pipeline: req.Pipeline,
		Inputs:   trimInputs(req.Inputs),
		Options:  applyDefaults(req.Options),
		Status:   StatusQueued,
		Metadata: Metadata{CreatedAt: s.now().UTC()},
		Callback: req.Callback,
	}

	logger := slog.With("jobId", j.ID, "pipeline", j.Pipeline)

	if err := s.store.Create(ctx, j); err != nil {
		logger.Error("Job could not be stored", "error", err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordJobCreated(ctx, string(j.Pipeline))
	}

	if err := s.dispatcher.Dispatch(j.ID); err != nil {
		logger.Warn("Job dispatch refused", "error", err)
		s.failUndispatched(ctx, j, err)
		return nil, err
	}

	logger.Info("Job created")
	return j.Public(), nil
}

// failUndispatched records a job that never reached the worker pool.
func (s *Service) failUndispatched(ctx context.Context, j *Job, cause error) {
	if err := j.Transition(StatusFailed); err != nil {
		return
	}
	now := s.now().UTC()
	j.Metadata.CompletedAt = &now
	j.Metadata.ErrorMessage = cause.Error()
	if err := s.store.Update(ctx, j); err != nil {
		slog.Error("Failed to record dispatch failure", "jobId", j.ID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordDispatchRejected(ctx, string(j.Pipeline))
	}
}

// Get returns a job by ID.
func (s *Service) Get(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, apperrors.Validation("jobId", "job ID is required")
	}
	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return j.Public(), nil
}

// List returns a page of jobs, newest first. A non-positive limit selects the
// default page size; limits above the maximum are capped.
func (s *Service) List(ctx context.Context, limit, offset int) (*ListResponse, error) {
	if offset < 0 {
		return nil, apperrors.Validation("offset", "offset must not be negative")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	jobs, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	for i, j := range jobs {
		jobs[i] = j.Public()
	}
	return &ListResponse{Jobs: jobs, Limit: limit, Offset: offset}, nil
}

// applyDefaults returns a copy of opts with the creation-time defaults filled in.
func applyDefaults(opts worker.Options) worker.Options {
	out := opts.Clone()
	for k, v := range optionDefaults {
		if out.String(k, "") == "" {
			out[k] = v
		}
	}
	return out
}

func trimInputs(in Inputs) Inputs {
	return Inputs{
		Text:     strings.TrimSpace(in.Text),
		ImageURL: strings.TrimSpace(in.ImageURL),
		AudioURL: strings.TrimSpace(in.AudioURL),
	}
}

// validate validates a creation request. Does not modify the request.
func (s *Service) validate(req *CreateRequest) error {
	if req == nil {
		return apperrors.Validation("pipeline", "request body is required")
	}
	if req.Pipeline == "" {
		return apperrors.Validation("pipeline", "pipeline is required")
	}
	if !req.Pipeline.Valid() {
		return apperrors.Validation("pipeline", fmt.Sprintf("unsupported pipeline %q", req.Pipeline))
	}

	in := trimInputs(req.Inputs)
	switch req.Pipeline {
	case TextToText, TextToImage, TextToSpeech:
		if in.Text == "" {
			return apperrors.Validation("inputs.text", "Text input required for this pipeline")
		}
	case SpeechToText, SpeechToImage:
		if in.AudioURL == "" {
			return apperrors.Validation("inputs.audio_url", "Audio input required for this pipeline")
		}
	case ImageToImage:
		if in.ImageURL == "" {
			return apperrors.Validation("inputs.image_url", "Image input required for this pipeline")
		}
	}

	if utf8.RuneCountInString(in.Text) > maxTextLength {
		return apperrors.Validation("inputs.text", fmt.Sprintf("text exceeds maximum length of %d characters", maxTextLength))
	}
	if err := s.validateRef("inputs.image_url", in.ImageURL); err != nil {
		return err
	}
	if err := s.validateRef("inputs.audio_url", in.AudioURL); err != nil {
		return err
	}

	if err := validateOptions(req.Options); err != nil {
		return err
	}

	if req.Callback != nil {
		if req.Callback.URL == "" {
			return apperrors.Validation("callback.url", "callback URL is required")
		}
		if err := validateURL(req.Callback.URL); err != nil {
			return apperrors.Validation("callback.url", fmt.Sprintf("invalid callback URL: %v", err))
		}
	}

	return nil
}

// validateRef accepts an empty reference, an http(s) URL or a reference to an
// artifact served by this system.
func (s *Service) validateRef(field, ref string) error {
	if ref == "" {
		return nil
	}
	if len(ref) > maxRefLength {
		return apperrors.Validation(field, fmt.Sprintf("reference exceeds maximum length of %d", maxRefLength))
	}
	if s.storagePrefix != "" && strings.HasPrefix(ref, s.storagePrefix+"/") {
		return nil
	}
	if err := validateURL(ref); err != nil {
		return apperrors.Validation(field, fmt.Sprintf("invalid input reference: %v", err))
	}
	return nil
}

func validateOptions(opts worker.Options) error {
	if len(opts) > maxOptions {
		return apperrors.Validation("options", fmt.Sprintf("options exceed maximum of %d entries", maxOptions))
	}
	for k, v := range opts {
		if k == "" || len(k) > maxOptionKeyLen {
			return apperrors.Validation("options", fmt.Sprintf("option key must be 1 to %d characters", maxOptionKeyLen))
		}
		if s, ok := v.(string); ok && len(s) > maxOptionValueLen {
			return apperrors.Validation("options."+k, fmt.Sprintf("option value exceeds maximum length of %d", maxOptionValueLen))
		}
	}
	if err := opts.Validate(); err != nil {
		return apperrors.Validation("options", err.Error())
	}
	return nil
}

func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
