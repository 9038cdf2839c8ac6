package worker

import (
	"bytes"
	"multimodal/internal/storage"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fakePNG is a payload above the minimum artifact size.
var fakePNG = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x42}, 256)...)

// fakeMP3 is an ID3-tagged payload above the minimum artifact size.
var fakeMP3 = append([]byte("ID3\x03\x00\x00\x00"), bytes.Repeat([]byte{0x11}, 256)...)

func testConfig() Config {
	return Config{
		LLMAPIKey:         "llm-key",
		HFAPIKey:          "hf-key",
		TTSAPIKey:         "tts-key",
		AsyncAPIKey:       "async-key",
		ProviderTimeout:   2 * time.Second,
		InputTimeout:      2 * time.Second,
		WarmupDefaultWait: 10 * time.Millisecond,
		WarmupMaxWait:     50 * time.Millisecond,
		PollMinInterval:   time.Millisecond,
		PollMaxInterval:   5 * time.Millisecond,
		PollMaxAttempts:   5,
		MinArtifactBytes:  100,
		BreakerThreshold:  5,
		BreakerCooldown:   time.Minute,
	}
}

func newTestStore(t *testing.T) *storage.Local {
	t.Helper()
	s, err := storage.NewLocal(storage.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.NewLocal() error = %v", err)
	}
	return s
}

func newTestClient(t *testing.T, cfg Config) (*Client, *storage.Local) {
	t.Helper()
	store := newTestStore(t)
	return NewClient(cfg, store), store
}

// countingServer wraps h and counts requests.
func countingServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
