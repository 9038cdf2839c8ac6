package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"multimodal/internal/apperrors"
	"multimodal/internal/job"
	"multimodal/internal/jobstore"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseOptions(t *testing.T) {
	t.Parallel()
	opts, err := parseOptions([]string{"style=watercolor", "temperature=0.2", "upscale=true", "prompt=a=b"})
	if err != nil {
		t.Fatalf("parseOptions() error = %v", err)
	}
	if opts["style"] != "watercolor" || opts["temperature"] != 0.2 || opts["upscale"] != true || opts["prompt"] != "a=b" {
		t.Errorf("parseOptions() = %v", opts)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseOptions([]string{bad}); err == nil {
			t.Errorf("parseOptions(%q) expected error", bad)
		}
	}
}

func TestPipelinesCommand(t *testing.T) {
	t.Parallel()
	out, err := execute(t, "pipelines")
	if err != nil {
		t.Fatalf("pipelines error = %v", err)
	}
	for _, p := range job.PipelineTypes() {
		if !strings.Contains(out, string(p)) {
			t.Errorf("output missing %s:\n%s", p, out)
		}
	}
	if !strings.Contains(out, "style-rewrite (optional)") {
		t.Errorf("output missing optional step:\n%s", out)
	}
}

func TestRunCommand_TextToText(t *testing.T) {
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"test-model","choices":[{"message":{"role":"assistant","content":"Hello there"}}]}`))
	}))
	defer llm.Close()

	t.Setenv("OPENROUTER_API_KEY", "test-key")
	t.Setenv("LLM_BASE_URL", llm.URL)
	t.Setenv("STORAGE_PATH", t.TempDir())

	out, err := execute(t, "run", "--pipeline", "text_to_text", "--text", "say hello", "--opt", "max_tokens=50")
	if err != nil {
		t.Fatalf("run error = %v, output:\n%s", err, out)
	}

	var j job.Job
	if err := json.Unmarshal([]byte(out), &j); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if j.Status != job.StatusCompleted || j.Outputs.Text != "Hello there" {
		t.Errorf("job = %s %+v", j.Status, j.Outputs)
	}
	if j.Metadata.StartedAt == nil || j.Metadata.CompletedAt == nil {
		t.Errorf("timestamps missing: %+v", j.Metadata)
	}
}

func TestRunCommand_ValidationError(t *testing.T) {
	t.Setenv("STORAGE_PATH", t.TempDir())

	_, err := execute(t, "run", "--pipeline", "speech_to_text")
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("run error = %v, want validation error", err)
	}
}

func TestJobsCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("DB_PATH", dbPath)

	store, err := jobstore.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"job-old", "job-new"} {
		j := &job.Job{
			ID:       id,
			Pipeline: job.TextToImage,
			Inputs:   job.Inputs{Text: "a red fox"},
			Status:   job.StatusQueued,
			Metadata: job.Metadata{CreatedAt: base.Add(time.Duration(i) * time.Minute)},
			Callback: &job.Callback{URL: "https://example.com/hook", Key: "secret"},
		}
		if err := store.Create(context.Background(), j); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	store.Close()

	out, err := execute(t, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list error = %v", err)
	}
	if strings.Index(out, "job-new") > strings.Index(out, "job-old") {
		t.Errorf("jobs not newest first:\n%s", out)
	}

	out, err = execute(t, "jobs", "list", "--limit", "1", "--offset", "1", "--json")
	if err != nil {
		t.Fatalf("jobs list --json error = %v", err)
	}
	var page job.ListResponse
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Jobs) != 1 || page.Jobs[0].ID != "job-old" {
		t.Errorf("page = %+v", page.Jobs)
	}

	out, err = execute(t, "jobs", "get", "job-new")
	if err != nil {
		t.Fatalf("jobs get error = %v", err)
	}
	if strings.Contains(out, "secret") {
		t.Errorf("callback key leaked:\n%s", out)
	}

	if _, err := execute(t, "jobs", "get", "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("jobs get missing error = %v, want not found", err)
	}
}
