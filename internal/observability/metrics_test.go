package observability

import (
	"context"
	"io"
	"multimodal/internal/apperrors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	if metrics == nil {
		t.Fatal("Expected metrics to be non-nil")
	}

	if handler == nil {
		t.Fatal("Expected handler to be non-nil")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "GET", "/livez", 200, 0.001)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/jobs", 201, 0.050)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/jobs/abc123", 200, 0.010)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/jobs/xyz789", 404, 0.005)
	metrics.RecordHTTPRequest(ctx, "GET", "/storage/a.png", 200, 0.002)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/jobs", 503, 0.001)
}

func TestRecordJobMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordJobCreated(ctx, "text_to_image")
	metrics.RecordJobCreated(ctx, "speech_to_text")
	metrics.RecordJobCreated(ctx, "text_to_text")
	metrics.RecordDispatchRejected(ctx, "text_to_text")
	metrics.RecordJobStarted(ctx, "text_to_image")
	metrics.RecordJobStarted(ctx, "speech_to_text")
	metrics.RecordJobCompleted(ctx, "text_to_image", true, 5.5)
	metrics.RecordJobCompleted(ctx, "speech_to_text", false, 12.0)
	metrics.RecordDispatcherDropped(ctx)
	metrics.RecordDispatcherQueueSize(ctx, 3)
	metrics.RecordCallback(ctx, "multimodal.job.completed", true)
}

func TestRecordAdapterCall_ExportsFailureKind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	metrics.RecordAdapterCall(ctx, "llm", 150*time.Millisecond, nil)
	metrics.RecordAdapterCall(ctx, "image", 2*time.Second, apperrors.Transient("sdxl", 503, "model loading"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{"adapter_calls_total", "adapter_failures_total", `kind="transient"`, `adapter="image"`} {
		if !strings.Contains(out, want) {
			t.Errorf("exported metrics missing %q", want)
		}
	}
}

func TestNewMetrics_InstancesScrapeIndependently(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	first, firstHandler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	second, secondHandler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	first.RecordAdapterCall(ctx, "llm", time.Second, nil)
	second.RecordAdapterCall(ctx, "tts", time.Second, nil)

	scrape := func(h http.Handler) string {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("scrape status = %d, body = %s", rec.Code, rec.Body.String())
		}
		return rec.Body.String()
	}

	out := scrape(secondHandler)
	if !strings.Contains(out, `adapter="tts"`) {
		t.Errorf("second scrape missing its own adapter call")
	}
	if strings.Contains(out, `adapter="llm"`) {
		t.Errorf("second scrape includes the first instance's adapter call")
	}
	if out := scrape(firstHandler); !strings.Contains(out, `adapter="llm"`) {
		t.Errorf("first scrape missing its own adapter call")
	}
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
	}{
		{"/livez", "/livez"},
		{"/metrics", "/metrics"},
		{"/v1/jobs", "/v1/jobs"},
		{"/v1/jobs/", "/v1/jobs/"},
		{"/v1/jobs/abc123", "/v1/jobs/{jobId}"},
		{"/v1/jobs/xyz-789-def", "/v1/jobs/{jobId}"},
		{"/v1/pipelines", "/v1/pipelines"},
		{"/storage/1f2e.png", "/storage/{file}"},
		{"/other/path", "/other/path"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
