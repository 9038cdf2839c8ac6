//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"multimodal/internal/api"
	"multimodal/internal/dispatcher"
	"multimodal/internal/health"
	"multimodal/internal/job"
	"multimodal/internal/jobstore"
	"multimodal/internal/notify"
	"multimodal/internal/pipeline"
	"multimodal/internal/storage"
	"multimodal/internal/testutil"
	"multimodal/internal/worker"
	"multimodal/pkg/cloudevent"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProviders stands in for the language model and text-to-image APIs.
type fakeProviders struct {
	server     *httptest.Server
	llmCalls   atomic.Int64
	imageCalls atomic.Int64
}

func newFakeProviders(t testing.TB) *fakeProviders {
	t.Helper()
	p := &fakeProviders{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		p.llmCalls.Add(1)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		reply := "rewritten prompt"
		if n := len(req.Messages); n > 0 && !strings.HasPrefix(req.Messages[n-1].Content, "Rewrite") {
			reply = "generated: " + req.Messages[n-1].Content
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "test/llm",
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
	})
	mux.HandleFunc("POST /models/test/sdxl", func(w http.ResponseWriter, r *http.Request) {
		p.imageCalls.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{1}, 512)...))
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

type testGateway struct {
	url  string
	pool *dispatcher.Pool
}

func newTestGateway(t testing.TB, providers *fakeProviders, poolCfg dispatcher.Config) *testGateway {
	t.Helper()
	dir := t.TempDir()

	store, err := jobstore.OpenSQLite(context.Background(), filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	artifacts, err := storage.NewLocal(storage.Config{Root: filepath.Join(dir, "artifacts"), URLPrefix: "/storage"})
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	registry := worker.NewRegistry(worker.Config{
		LLMAPIKey:     "llm-key",
		LLMBaseURL:    providers.server.URL + "/v1",
		HFAPIKey:      "hf-key",
		ImageModelURL: providers.server.URL + "/models/test/sdxl",
		ImageProvider: worker.ProviderHuggingFace,
	}, artifacts, nil)

	executor := pipeline.NewExecutor(store, pipeline.NewRouter(registry),
		notify.New(notify.Config{Timeout: 5 * time.Second, MaxRetries: 1}, nil), nil)
	pool := dispatcher.NewPool(poolCfg, executor.Execute, nil)

	server := httptest.NewServer(api.NewRouter(api.RouterConfig{
		JobService:    job.NewService(store, pool, nil, artifacts.Prefix()),
		HealthChecker: health.NewChecker(store, registry),
		Artifacts:     artifacts.Handler(),
		StoragePrefix: artifacts.Prefix(),
	}))

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = pool.Close(ctx)
		store.Close()
	})
	return &testGateway{url: server.URL, pool: pool}
}

func (g *testGateway) submit(t *testing.T, body string) (*job.Job, int) {
	t.Helper()
	resp, err := http.Post(g.url+"/v1/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/jobs error = %v", err)
	}
	defer resp.Body.Close()
	var j job.Job
	_ = json.NewDecoder(resp.Body).Decode(&j)
	return &j, resp.StatusCode
}

func (g *testGateway) get(t *testing.T, id string) *job.Job {
	t.Helper()
	resp, err := http.Get(g.url + "/v1/jobs/" + id)
	if err != nil {
		t.Fatalf("GET job error = %v", err)
	}
	defer resp.Body.Close()
	var j job.Job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return &j
}

func (g *testGateway) waitTerminal(t *testing.T, id string) *job.Job {
	t.Helper()
	var j *job.Job
	testutil.MustWaitFor(t, func() bool {
		j = g.get(t, id)
		return j.Status.Terminal()
	}, testutil.WithTimeout(20*time.Second), testutil.WithInterval(20*time.Millisecond))
	return j
}

func TestE2E_TextToImageWithStyle(t *testing.T) {
	providers := newFakeProviders(t)
	g := newTestGateway(t, providers, dispatcher.Config{BufferSize: 10, Workers: 2})

	created, status := g.submit(t, `{"pipeline":"text_to_image","inputs":{"text":"a lighthouse"},"options":{"style":"watercolor"}}`)
	if status != http.StatusCreated {
		t.Fatalf("status = %d", status)
	}

	final := g.waitTerminal(t, created.ID)
	if final.Status != job.StatusCompleted {
		t.Fatalf("status = %s, error = %q", final.Status, final.Metadata.ErrorMessage)
	}
	if final.Metadata.WorkerUsed != "llm,image" || final.Metadata.Provider != "test/sdxl" {
		t.Errorf("provenance = %q / %q", final.Metadata.WorkerUsed, final.Metadata.Provider)
	}
	if providers.llmCalls.Load() != 1 || providers.imageCalls.Load() != 1 {
		t.Errorf("provider calls llm=%d image=%d", providers.llmCalls.Load(), providers.imageCalls.Load())
	}

	// The artifact is served by the gateway itself.
	if !strings.HasPrefix(final.Outputs.ImageURL, "/storage/") {
		t.Fatalf("image_url = %q", final.Outputs.ImageURL)
	}
	resp, err := http.Get(g.url + final.Outputs.ImageURL)
	if err != nil {
		t.Fatalf("GET artifact error = %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Errorf("artifact status = %d, %d bytes", resp.StatusCode, len(data))
	}
}

func TestE2E_CallbackDelivered(t *testing.T) {
	providers := newFakeProviders(t)
	g := newTestGateway(t, providers, dispatcher.Config{BufferSize: 10, Workers: 1})

	type delivery struct {
		body      []byte
		signature string
	}
	received := make(chan delivery, 1)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- delivery{body, r.Header.Get(cloudevent.SignatureHeader)}
	}))
	defer receiver.Close()

	created, status := g.submit(t, fmt.Sprintf(
		`{"pipeline":"text_to_text","inputs":{"text":"hello"},"callback":{"url":%q,"key":"s3cret"}}`, receiver.URL))
	if status != http.StatusCreated {
		t.Fatalf("status = %d", status)
	}
	if created.Callback == nil || created.Callback.Key != "" {
		t.Errorf("callback key must not be echoed: %+v", created.Callback)
	}

	select {
	case d := <-received:
		if !cloudevent.Verify(d.body, d.signature, "s3cret") {
			t.Error("callback signature does not verify")
		}
		var event struct {
			Type string        `json:"type"`
			Data job.EventData `json:"data"`
		}
		if err := json.Unmarshal(d.body, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.Type != job.EventTypeCompleted || event.Data.Outputs.Text != "generated: hello" {
			t.Errorf("event = %s %+v", event.Type, event.Data.Outputs)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("callback not received")
	}
}

func TestE2E_ConcurrentSubmissions(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}
	const numJobs = 200

	providers := newFakeProviders(t)
	g := newTestGateway(t, providers, dispatcher.Config{BufferSize: numJobs, Workers: 16})

	var (
		mu  sync.Mutex
		ids []string
		wg  sync.WaitGroup
	)
	start := time.Now()
	for i := range numJobs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(g.url+"/v1/jobs", "application/json",
				strings.NewReader(fmt.Sprintf(`{"pipeline":"text_to_text","inputs":{"text":"prompt %d"}}`, i)))
			if err != nil {
				t.Errorf("job %d: %v", i, err)
				return
			}
			defer resp.Body.Close()
			var j job.Job
			if resp.StatusCode != http.StatusCreated || json.NewDecoder(resp.Body).Decode(&j) != nil {
				t.Errorf("job %d status = %d", i, resp.StatusCode)
				return
			}
			mu.Lock()
			ids = append(ids, j.ID)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	testutil.MustWaitFor(t, func() bool {
		st := g.pool.Stats()
		return st.Completed+st.Failed == numJobs
	}, testutil.WithTimeout(60*time.Second), testutil.WithInterval(50*time.Millisecond))
	elapsed := time.Since(start)

	for _, id := range ids {
		if j := g.get(t, id); j.Status != job.StatusCompleted {
			t.Errorf("job %s status = %s (%s)", id, j.Status, j.Metadata.ErrorMessage)
		}
	}
	t.Logf("%d jobs completed in %v (%.0f jobs/s)", numJobs, elapsed, float64(numJobs)/elapsed.Seconds())
}

func TestE2E_Backpressure(t *testing.T) {
	providers := newFakeProviders(t)
	// One worker and one slot; a fast burst overflows them.
	g := newTestGateway(t, providers, dispatcher.Config{BufferSize: 1, Workers: 1})

	var rejected int
	for i := range 50 {
		_, status := g.submit(t, fmt.Sprintf(`{"pipeline":"text_to_image","inputs":{"text":"burst %d"}}`, i))
		switch status {
		case http.StatusCreated:
		case http.StatusServiceUnavailable:
			rejected++
		default:
			t.Fatalf("unexpected status %d", status)
		}
	}
	if rejected == 0 {
		t.Skip("pool drained faster than the burst; no rejection observed")
	}
	if st := g.pool.Stats(); st.Dropped != int64(rejected) {
		t.Errorf("Dropped = %d, want %d", st.Dropped, rejected)
	}
}

func BenchmarkCreateJob(b *testing.B) {
	providers := newFakeProviders(b)
	g := newTestGateway(b, providers, dispatcher.Config{BufferSize: b.N + 1, Workers: 8})

	b.ResetTimer()
	for i := range b.N {
		resp, err := http.Post(g.url+"/v1/jobs", "application/json",
			strings.NewReader(fmt.Sprintf(`{"pipeline":"text_to_text","inputs":{"text":"bench %d"}}`, i)))
		if err != nil {
			b.Fatal(err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
