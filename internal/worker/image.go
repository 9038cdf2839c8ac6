package worker

import (
	"context"
	"fmt"
	"log/slog"
	"multimodal/internal/apperrors"
	"multimodal/internal/storage"
	"net/http"
	"net/url"
	"strings"
)

// qualitySteps maps the quality tier to diffusion steps.
var qualitySteps = map[string]int{
	"low":    20,
	"medium": 40,
	"high":   50,
}

// aspectSizes maps an aspect ratio to output width and height.
var aspectSizes = map[string][2]int{
	"1:1":  {1024, 1024},
	"16:9": {1344, 768},
	"9:16": {768, 1344},
	"4:3":  {1152, 896},
	"3:4":  {896, 1152},
}

// ImageGenerator calls Hugging Face text-to-image models, walking the
// configured fallback chain.
type ImageGenerator struct {
	client     *Client
	apiKey     string
	candidates []string
	logger     *slog.Logger
}

// NewImageGenerator creates the text-to-image adapter. The primary model URL
// is tried first, then each fallback in order.
func NewImageGenerator(client *Client, cfg Config) *ImageGenerator {
	cfg = cfg.withDefaults()
	candidates := append([]string{cfg.ImageModelURL}, cfg.ImageFallbackURLs...)
	return &ImageGenerator{
		client:     client,
		apiKey:     cfg.HFAPIKey,
		candidates: candidates,
		logger:     slog.With("component", "worker", "adapter", "image"),
	}
}

func (a *ImageGenerator) Name() string { return "image" }

type imageParameters struct {
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
}

type imageRequest struct {
	Inputs     string          `json:"inputs"`
	Parameters imageParameters `json:"parameters"`
}

// Invoke generates an image. Options: style (prompt prefix), quality
// (low|medium|high), aspect_ratio, guidance_scale.
func (a *ImageGenerator) Invoke(ctx context.Context, req Request) (*Result, error) {
	if a.apiKey == "" {
		return nil, apperrors.Configuration("image", "HUGGINGFACE_API_KEY not configured")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperrors.Validation("text", "prompt is required")
	}

	payload := imageRequest{
		Inputs:     stylePrompt(req.Text, req.Options),
		Parameters: diffusionParameters(req.Options),
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.apiKey)
	header.Set("Accept", "image/png")

	return runFallback(ctx, a.logger, a.Name(), a.candidates, func(ctx context.Context, modelURL string) (*Result, error) {
		out, err := jsonCall(http.MethodPost, modelURL, payload, header)
		if err != nil {
			return nil, apperrors.Internal("image.request", err)
		}
		rep, err := a.client.send(ctx, ProviderHuggingFace, out)
		if err != nil {
			return nil, err
		}
		ref, err := a.client.storeArtifact(ctx, ProviderHuggingFace, rep.body, storage.KindImage)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: OutputImage, Ref: ref, Provider: modelName(modelURL)}, nil
	})
}

func stylePrompt(prompt string, opts Options) string {
	if style := opts.String("style", ""); style != "" {
		return fmt.Sprintf("%s style, %s", style, prompt)
	}
	return prompt
}

func diffusionParameters(opts Options) imageParameters {
	steps, ok := qualitySteps[strings.ToLower(opts.String("quality", "high"))]
	if !ok {
		steps = qualitySteps["high"]
	}
	size, ok := aspectSizes[opts.String("aspect_ratio", "1:1")]
	if !ok {
		size = aspectSizes["1:1"]
	}
	return imageParameters{
		NumInferenceSteps: steps,
		GuidanceScale:     opts.Float("guidance_scale", 7.5, 1, 20),
		Width:             size[0],
		Height:            size[1],
	}
}

// modelName shortens a model URL to "<owner>/<model>" for provenance.
func modelName(modelURL string) string {
	u, err := url.Parse(modelURL)
	if err != nil {
		return modelURL
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	return u.Host + u.Path
}
