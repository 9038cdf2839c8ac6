package worker

import (
	"context"
	"encoding/json"
	"multimodal/internal/apperrors"
	"multimodal/internal/storage"
	"net/http"
	"strings"
)

// Transcriber calls a Hugging Face speech recognition model (Whisper by default).
type Transcriber struct {
	client   *Client
	apiKey   string
	modelURL string
}

// NewTranscriber creates the transcription adapter.
func NewTranscriber(client *Client, cfg Config) *Transcriber {
	cfg = cfg.withDefaults()
	return &Transcriber{client: client, apiKey: cfg.HFAPIKey, modelURL: cfg.STTModelURL}
}

func (a *Transcriber) Name() string { return "stt" }

// Invoke transcribes the audio behind req.AudioURL. Options: language.
func (a *Transcriber) Invoke(ctx context.Context, req Request) (*Result, error) {
	if a.apiKey == "" {
		return nil, apperrors.Configuration("stt", "HUGGINGFACE_API_KEY not configured")
	}
	audio, err := a.client.FetchInput(ctx, "audio_url", req.AudioURL)
	if err != nil {
		return nil, err
	}

	ct := mediaType(audio, "audio/wav")
	fields := map[string]string{}
	if lang := req.Options.String("language", ""); lang != "" {
		fields["language"] = lang
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.apiKey)

	out, err := multipartCall(a.modelURL, header, filePart{
		field:       "file",
		filename:    "audio" + storage.Extension(audio, storage.KindAudio),
		contentType: ct,
		data:        audio,
	}, fields)
	if err != nil {
		return nil, apperrors.Internal("stt.request", err)
	}
	rep, err := a.client.send(ctx, ProviderHuggingFace, out)
	if err != nil {
		return nil, err
	}

	text, err := transcriptText(rep.body)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: OutputText, Text: text, Provider: modelName(a.modelURL)}, nil
}

// transcriptText accepts {"text": "..."} or a bare JSON string.
func transcriptText(body []byte) (string, error) {
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &obj); err == nil {
		if t := strings.TrimSpace(obj.Text); t != "" {
			return t, nil
		}
		return "", apperrors.InvalidOutput(ProviderHuggingFace, "empty transcription result")
	}
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		if t := strings.TrimSpace(s); t != "" {
			return t, nil
		}
		return "", apperrors.InvalidOutput(ProviderHuggingFace, "empty transcription result")
	}
	return "", apperrors.InvalidOutput(ProviderHuggingFace, "unrecognized transcription response")
}
