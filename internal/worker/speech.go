package worker

import (
	"context"
	"multimodal/internal/apperrors"
	"multimodal/internal/storage"
	"net/http"
	"strings"
)

// voices maps voice names to ElevenLabs voice IDs.
var voices = map[string]string{
	"rachel": "21m00Tcm4TlvDq8ikWAM",
	"domi":   "AZnzlk1XvdvUeBnXmlld",
	"bella":  "EXAVITQu4vr4xnSDxMaL",
	"antoni": "ErXwobaYiN019PkySvjV",
	"josh":   "TxGEqnHWrfWFTfGW9XjX",
	"arnold": "VR6AewLTigWG4xSOukaG",
	"adam":   "pNInz6obpgDQGcFmaJgB",
	"sam":    "yoZ06aMxZJJ28mfd3POQ",
}

const defaultVoice = "rachel"

// SpeechSynthesizer calls the ElevenLabs text-to-speech API.
type SpeechSynthesizer struct {
	client  *Client
	baseURL string
	apiKey  string
	model   string
}

// NewSpeechSynthesizer creates the text-to-speech adapter.
func NewSpeechSynthesizer(client *Client, cfg Config) *SpeechSynthesizer {
	cfg = cfg.withDefaults()
	return &SpeechSynthesizer{
		client:  client,
		baseURL: strings.TrimRight(cfg.TTSBaseURL, "/"),
		apiKey:  cfg.TTSAPIKey,
		model:   cfg.TTSModel,
	}
}

func (a *SpeechSynthesizer) Name() string { return "tts" }

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Invoke synthesizes req.Text. Options: voice (name, default rachel),
// stability (0..1, default 0.5), similarity_boost (0..1, default 0.75).
func (a *SpeechSynthesizer) Invoke(ctx context.Context, req Request) (*Result, error) {
	const provider = "elevenlabs"
	if a.apiKey == "" {
		return nil, apperrors.Configuration("tts", "ELEVENLABS_API_KEY not configured")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperrors.Validation("text", "text is required")
	}

	voiceID, ok := voices[strings.ToLower(req.Options.String("voice", defaultVoice))]
	if !ok {
		voiceID = voices[defaultVoice]
	}
	payload := speechRequest{
		Text:    req.Text,
		ModelID: a.model,
		VoiceSettings: voiceSettings{
			Stability:       req.Options.Float("stability", 0.5, 0, 1),
			SimilarityBoost: req.Options.Float("similarity_boost", 0.75, 0, 1),
		},
	}
	header := http.Header{}
	header.Set("xi-api-key", a.apiKey)
	header.Set("Accept", "audio/mpeg")

	out, err := jsonCall(http.MethodPost, a.baseURL+"/v1/text-to-speech/"+voiceID, payload, header)
	if err != nil {
		return nil, apperrors.Internal("tts.request", err)
	}
	rep, err := a.client.send(ctx, provider, out)
	if err != nil {
		return nil, err
	}

	ref, err := a.client.storeArtifact(ctx, provider, rep.body, storage.KindAudio)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: OutputAudio, Ref: ref, Provider: provider + "/" + a.model}, nil
}
