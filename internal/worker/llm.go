package worker

import (
	"context"
	"encoding/json"
	"multimodal/internal/apperrors"
	"net/http"
	"strings"
)

// LanguageModel calls an OpenAI-compatible chat completions endpoint
// (OpenRouter by default).
type LanguageModel struct {
	client  *Client
	baseURL string
	apiKey  string
	model   string
}

// NewLanguageModel creates the language model adapter.
func NewLanguageModel(client *Client, cfg Config) *LanguageModel {
	cfg = cfg.withDefaults()
	return &LanguageModel{
		client:  client,
		baseURL: strings.TrimRight(cfg.LLMBaseURL, "/"),
		apiKey:  cfg.LLMAPIKey,
		model:   cfg.LLMModel,
	}
}

func (a *LanguageModel) Name() string { return "llm" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Invoke generates text. Options: model, temperature (0..2, default 0.7),
// max_tokens (1..4096, default 500).
func (a *LanguageModel) Invoke(ctx context.Context, req Request) (*Result, error) {
	const provider = "openrouter"
	if a.apiKey == "" {
		return nil, apperrors.Configuration("llm", "OPENROUTER_API_KEY not configured")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperrors.Validation("text", "text is required")
	}

	payload := chatRequest{
		Model:       req.Options.String("model", a.model),
		Messages:    []chatMessage{{Role: "user", Content: req.Text}},
		Temperature: req.Options.Float("temperature", 0.7, 0, 2),
		MaxTokens:   req.Options.Int("max_tokens", 500, 1, 4096),
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.apiKey)
	header.Set("X-Title", "Multimodal AI Platform")

	out, err := jsonCall(http.MethodPost, a.baseURL+"/chat/completions", payload, header)
	if err != nil {
		return nil, apperrors.Internal("llm.request", err)
	}
	rep, err := a.client.send(ctx, provider, out)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(rep.body, &resp); err != nil {
		return nil, apperrors.InvalidOutput(provider, "response is not valid JSON")
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, apperrors.InvalidOutput(provider, "response contained no text")
	}

	model := resp.Model
	if model == "" {
		model = payload.Model
	}
	return &Result{
		Kind:     OutputText,
		Text:     strings.TrimSpace(resp.Choices[0].Message.Content),
		Provider: model,
	}, nil
}
