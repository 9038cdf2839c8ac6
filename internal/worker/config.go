package worker

import (
	"multimodal/internal/config"
	"time"
)

const (
	ProviderHuggingFace = "huggingface"
	ProviderAsync       = "async"
)

// Default endpoints. Hugging Face models are addressed by full URL so fallbacks
// can point at any model.
const (
	DefaultLLMBaseURL        = "https://openrouter.ai/api/v1"
	DefaultLLMModel          = "openai/gpt-3.5-turbo"
	DefaultImageModelURL     = "https://router.huggingface.co/hf-inference/models/stabilityai/stable-diffusion-xl-base-1.0"
	DefaultSTTModelURL       = "https://router.huggingface.co/hf-inference/models/openai/whisper-large-v3"
	DefaultTransformModelURL = "https://router.huggingface.co/hf-inference/models/CompVis/stable-diffusion-v1-4"
	DefaultTTSBaseURL        = "https://api.elevenlabs.io"
	DefaultTTSModel          = "eleven_turbo_v2_5"
	DefaultAsyncBaseURL      = "https://api.replicate.com/v1"
	DefaultAsyncModel        = "black-forest-labs/flux-schnell"
)

// DefaultImageFallbackURLs are tried in order after the primary image model.
var DefaultImageFallbackURLs = []string{
	"https://router.huggingface.co/hf-inference/models/runwayml/stable-diffusion-v1-5",
	"https://router.huggingface.co/hf-inference/models/stabilityai/stable-diffusion-2-1",
}

// Config holds provider endpoints, credentials and call budgets.
type Config struct {
	// Language model (OpenAI-compatible chat completions)
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	// Hugging Face inference
	HFAPIKey          string
	ImageModelURL     string
	ImageFallbackURLs []string
	STTModelURL       string
	TransformModelURL string

	// Speech synthesis (ElevenLabs)
	TTSAPIKey  string
	TTSBaseURL string
	TTSModel   string

	// Asynchronous prediction provider
	AsyncAPIKey  string
	AsyncBaseURL string
	AsyncModel   string

	ImageProvider     string // huggingface or async
	TransformProvider string // huggingface or async

	ProviderTimeout   time.Duration // Per outbound provider call (default: 180s)
	InputTimeout      time.Duration // Input accessibility precheck (default: 60s)
	WarmupDefaultWait time.Duration // Wait when a loading provider gives no estimate (default: 20s)
	WarmupMaxWait     time.Duration // Ceiling on any warm-up wait (default: 30s)
	PollMinInterval   time.Duration // default: 1s
	PollMaxInterval   time.Duration // default: 10s
	PollMaxAttempts   int           // default: 60
	MinArtifactBytes  int           // Smaller payloads are invalid output (default: 100)

	BreakerThreshold int           // default: 5
	BreakerCooldown  time.Duration // default: 30s
}

// LoadConfigFromEnv loads adapter configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		LLMAPIKey:  config.GetSecret("OPENROUTER_API_KEY"),
		LLMBaseURL: config.GetEnv("LLM_BASE_URL", DefaultLLMBaseURL),
		LLMModel:   config.GetEnv("LLM_MODEL", DefaultLLMModel),

		HFAPIKey:          config.GetSecret("HUGGINGFACE_API_KEY"),
		ImageModelURL:     config.GetEnv("IMAGE_MODEL_URL", DefaultImageModelURL),
		ImageFallbackURLs: config.GetListEnv("IMAGE_FALLBACK_URLS", DefaultImageFallbackURLs),
		STTModelURL:       config.GetEnv("STT_MODEL_URL", DefaultSTTModelURL),
		TransformModelURL: config.GetEnv("TRANSFORM_MODEL_URL", DefaultTransformModelURL),

		TTSAPIKey:  config.GetSecret("ELEVENLABS_API_KEY"),
		TTSBaseURL: config.GetEnv("TTS_BASE_URL", DefaultTTSBaseURL),
		TTSModel:   config.GetEnv("TTS_MODEL", DefaultTTSModel),

		AsyncAPIKey:  config.GetSecret("ASYNC_API_KEY"),
		AsyncBaseURL: config.GetEnv("ASYNC_BASE_URL", DefaultAsyncBaseURL),
		AsyncModel:   config.GetEnv("ASYNC_MODEL", DefaultAsyncModel),

		ImageProvider:     config.GetEnv("IMAGE_PROVIDER", ProviderHuggingFace),
		TransformProvider: config.GetEnv("TRANSFORM_PROVIDER", ProviderHuggingFace),

		ProviderTimeout:   config.GetDurationEnv("PROVIDER_TIMEOUT", 180*time.Second),
		InputTimeout:      config.GetDurationEnv("INPUT_TIMEOUT", 60*time.Second),
		WarmupDefaultWait: config.GetDurationEnv("WARMUP_DEFAULT_WAIT", 20*time.Second),
		WarmupMaxWait:     config.GetDurationEnv("WARMUP_MAX_WAIT", 30*time.Second),
		PollMinInterval:   config.GetDurationEnv("POLL_MIN_INTERVAL", time.Second),
		PollMaxInterval:   config.GetDurationEnv("POLL_MAX_INTERVAL", 10*time.Second),
		PollMaxAttempts:   config.GetIntEnv("POLL_MAX_ATTEMPTS", 60),
		MinArtifactBytes:  config.GetIntEnv("MIN_ARTIFACT_BYTES", 100),

		BreakerThreshold: config.GetIntEnv("BREAKER_THRESHOLD", 5),
		BreakerCooldown:  config.GetDurationEnv("BREAKER_COOLDOWN", 30*time.Second),
	}
}

func (c Config) withDefaults() Config {
	if c.LLMBaseURL == "" {
		c.LLMBaseURL = DefaultLLMBaseURL
	}
	if c.LLMModel == "" {
		c.LLMModel = DefaultLLMModel
	}
	if c.ImageModelURL == "" {
		c.ImageModelURL = DefaultImageModelURL
	}
	if c.STTModelURL == "" {
		c.STTModelURL = DefaultSTTModelURL
	}
	if c.TransformModelURL == "" {
		c.TransformModelURL = DefaultTransformModelURL
	}
	if c.TTSBaseURL == "" {
		c.TTSBaseURL = DefaultTTSBaseURL
	}
	if c.TTSModel == "" {
		c.TTSModel = DefaultTTSModel
	}
	if c.AsyncBaseURL == "" {
		c.AsyncBaseURL = DefaultAsyncBaseURL
	}
	if c.AsyncModel == "" {
		c.AsyncModel = DefaultAsyncModel
	}
	if c.ImageProvider == "" {
		c.ImageProvider = ProviderHuggingFace
	}
	if c.TransformProvider == "" {
		c.TransformProvider = ProviderHuggingFace
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 180 * time.Second
	}
	if c.InputTimeout <= 0 {
		c.InputTimeout = 60 * time.Second
	}
	if c.WarmupDefaultWait <= 0 {
		c.WarmupDefaultWait = 20 * time.Second
	}
	if c.WarmupMaxWait <= 0 {
		c.WarmupMaxWait = 30 * time.Second
	}
	if c.PollMinInterval <= 0 {
		c.PollMinInterval = time.Second
	}
	if c.PollMaxInterval < c.PollMinInterval {
		c.PollMaxInterval = max(10*time.Second, c.PollMinInterval)
	}
	if c.PollMaxAttempts <= 0 {
		c.PollMaxAttempts = 60
	}
	if c.MinArtifactBytes <= 0 {
		c.MinArtifactBytes = 100
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}
