package worker

import (
	"context"
	"fmt"
	"log/slog"
	"multimodal/internal/apperrors"
	"sync"
	"time"
)

// Recorder observes adapter invocations. *observability.Metrics implements it.
type Recorder interface {
	RecordAdapterCall(ctx context.Context, adapter string, duration time.Duration, err error)
}

// Registry resolves the adapter serving each role. Implementations are
// chosen by configuration so callers never branch on provider.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Role]Adapter
	problems map[Role]error
	recorder Recorder
	client   *Client
}

// NewRegistry builds the adapters described by cfg. A role whose provider
// setting is unknown resolves to a configuration error.
func NewRegistry(cfg Config, store ArtifactStore, recorder Recorder) *Registry {
	cfg = cfg.withDefaults()
	client := NewClient(cfg, store)

	r := &Registry{
		adapters: make(map[Role]Adapter),
		problems: make(map[Role]error),
		recorder: recorder,
		client:   client,
	}
	r.Register(RoleLanguage, NewLanguageModel(client, cfg))
	r.Register(RoleSpeech, NewSpeechSynthesizer(client, cfg))
	r.Register(RoleTranscribe, NewTranscriber(client, cfg))

	switch cfg.ImageProvider {
	case ProviderHuggingFace:
		r.Register(RoleImage, NewImageGenerator(client, cfg))
	case ProviderAsync:
		r.Register(RoleImage, NewAsyncPredictor(client, cfg, RoleImage))
	default:
		r.problems[RoleImage] = apperrors.Configuration("worker.registry",
			fmt.Sprintf("unknown IMAGE_PROVIDER %q", cfg.ImageProvider))
	}

	switch cfg.TransformProvider {
	case ProviderHuggingFace:
		r.Register(RoleTransform, NewImageTransformer(client, cfg))
	case ProviderAsync:
		r.Register(RoleTransform, NewAsyncPredictor(client, cfg, RoleTransform))
	default:
		r.problems[RoleTransform] = apperrors.Configuration("worker.registry",
			fmt.Sprintf("unknown TRANSFORM_PROVIDER %q", cfg.TransformProvider))
	}
	return r
}

// NewEmptyRegistry returns a registry without adapters.
func NewEmptyRegistry(recorder Recorder) *Registry {
	return &Registry{
		adapters: make(map[Role]Adapter),
		problems: make(map[Role]error),
		recorder: recorder,
	}
}

// Register installs a for role, replacing any previous adapter.
func (r *Registry) Register(role Role, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[role] = &instrumented{
		Adapter:  a,
		recorder: r.recorder,
		logger:   slog.With("component", "worker", "adapter", a.Name()),
	}
	delete(r.problems, role)
}

// Adapter returns the adapter for role.
func (r *Registry) Adapter(role Role) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[role]; ok {
		return a, nil
	}
	if err, ok := r.problems[role]; ok {
		return nil, err
	}
	return nil, apperrors.Configuration("worker.registry", fmt.Sprintf("no adapter configured for role %q", role))
}

// Names maps each configured role to its adapter name.
func (r *Registry) Names() map[Role]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Role]string, len(r.adapters))
	for role, a := range r.adapters {
		out[role] = a.Name()
	}
	return out
}

// OpenCircuits lists provider hosts whose circuit breaker is open.
func (r *Registry) OpenCircuits() []string {
	if r.client == nil {
		return nil
	}
	return r.client.Breakers().Stats().OpenKeys
}

// instrumented records duration and outcome of every invocation.
type instrumented struct {
	Adapter
	recorder Recorder
	logger   *slog.Logger
}

func (i *instrumented) Invoke(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := i.Adapter.Invoke(ctx, req)
	duration := time.Since(start)

	if i.recorder != nil {
		i.recorder.RecordAdapterCall(ctx, i.Name(), duration, err)
	}
	if err != nil {
		i.logger.Warn("Adapter call failed",
			"kind", apperrors.Kind(err),
			"status", apperrors.StatusCode(err),
			"duration", duration,
			"error", err,
		)
		return nil, err
	}
	i.logger.Debug("Adapter call succeeded", "provider", res.Provider, "duration", duration)
	return res, nil
}
