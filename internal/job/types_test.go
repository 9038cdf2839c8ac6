package job

import (
	"errors"
	"multimodal/internal/apperrors"
	"testing"
	"time"
)

func TestStatus_CanTransition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCompleted, false},
		{StatusRunning, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusQueued, false},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusRunning, false},
		{StatusFailed, StatusCompleted, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestJob_TransitionFromTerminalIsConflict(t *testing.T) {
	t.Parallel()
	j := &Job{ID: "j1", Status: StatusCompleted}
	err := j.Transition(StatusRunning)
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("Transition() error = %v, want conflict", err)
	}
	if j.Status != StatusCompleted {
		t.Errorf("status changed to %s", j.Status)
	}
}

func TestPipelineType(t *testing.T) {
	t.Parallel()
	for _, p := range PipelineTypes() {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
		if p.Description() == "Unknown pipeline" {
			t.Errorf("%s has no description", p)
		}
	}
	if PipelineType("text_to_video").Valid() {
		t.Error("unknown pipeline reported valid")
	}
}

func TestOutputs_MergeNeverClears(t *testing.T) {
	t.Parallel()
	out := Outputs{Text: "a red bicycle"}
	out.Merge(Outputs{ImageURL: "/storage/images/x.png"})
	out.Merge(Outputs{})
	if out.Text != "a red bicycle" || out.ImageURL != "/storage/images/x.png" {
		t.Errorf("Merge() = %+v", out)
	}
}

func TestJob_CloneIsDeep(t *testing.T) {
	t.Parallel()
	started := time.Now()
	j := &Job{
		ID:       "j1",
		Options:  map[string]any{"style": "noir"},
		Metadata: Metadata{StartedAt: &started},
		Callback: &Callback{URL: "https://example.com", Key: "k"},
	}
	c := j.Clone()
	c.Options["style"] = "pop"
	*c.Metadata.StartedAt = started.Add(time.Hour)
	c.Callback.Key = ""

	if j.Options["style"] != "noir" || !j.Metadata.StartedAt.Equal(started) || j.Callback.Key != "k" {
		t.Error("Clone() shares state with the original")
	}
	if j.Public().Callback.Key != "" {
		t.Error("Public() must drop the callback key")
	}
}

func TestTerminalEvent(t *testing.T) {
	t.Parallel()
	done := time.Now().UTC()
	tests := []struct {
		status   Status
		wantType string
	}{
		{StatusCompleted, EventTypeCompleted},
		{StatusFailed, EventTypeFailed},
		{StatusRunning, ""},
		{StatusQueued, ""},
	}
	for _, tt := range tests {
		j := &Job{ID: "j1", Pipeline: TextToText, Status: tt.status, Metadata: Metadata{CompletedAt: &done}}
		ev := TerminalEvent(j)
		if tt.wantType == "" {
			if ev != nil {
				t.Errorf("%s: expected no event", tt.status)
			}
			continue
		}
		if ev == nil || ev.Type != tt.wantType || ev.Subject != "j1" {
			t.Fatalf("%s: unexpected event %+v", tt.status, ev)
		}
		if err := ev.Validate(); err != nil {
			t.Errorf("%s: invalid event: %v", tt.status, err)
		}
		data, ok := ev.Data.(EventData)
		if !ok || data.JobID != "j1" || data.Status != tt.status {
			t.Errorf("%s: unexpected data %+v", tt.status, ev.Data)
		}
	}
}
