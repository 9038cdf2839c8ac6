package job

import (
	"fmt"
	"multimodal/internal/apperrors"
	"multimodal/internal/worker"
	"time"
)

// PipelineType names an ordered sequence of worker roles. The string tag is
// what gets persisted and exposed over the API.
type PipelineType string

// Supported pipelines.
const (
	TextToText    PipelineType = "text_to_text"
	TextToImage   PipelineType = "text_to_image"
	TextToSpeech  PipelineType = "text_to_speech"
	SpeechToText  PipelineType = "speech_to_text"
	SpeechToImage PipelineType = "speech_to_image"
	ImageToImage  PipelineType = "image_to_image"
)

var pipelineDescriptions = map[PipelineType]string{
	TextToText:    "Generate text from text input",
	TextToImage:   "Generate image from text prompt",
	TextToSpeech:  "Generate speech audio from text",
	SpeechToText:  "Transcribe speech audio to text",
	SpeechToImage: "Generate image from speech (transcribe, enhance, image)",
	ImageToImage:  "Transform image style",
}

// PipelineTypes returns every supported pipeline in a stable order.
func PipelineTypes() []PipelineType {
	return []PipelineType{TextToText, TextToImage, TextToSpeech, SpeechToText, SpeechToImage, ImageToImage}
}

// Valid reports whether p is one of the supported pipelines.
func (p PipelineType) Valid() bool {
	_, ok := pipelineDescriptions[p]
	return ok
}

// Description returns a human-readable summary of the pipeline.
func (p PipelineType) Description() string {
	if d, ok := pipelineDescriptions[p]; ok {
		return d
	}
	return "Unknown pipeline"
}

// Status is the job state. Transitions only move forward.
type Status string

// Job states.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s may move to next. Running to Running is
// allowed so that a job left Running by an interrupted execution can resume.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusRunning || next.Terminal()
	default:
		return false
	}
}

// Inputs holds the pipeline inputs. Only the fields the pipeline needs are required.
type Inputs struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

// Outputs holds what the pipeline produced so far.
type Outputs struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

// Merge copies the non-empty fields of o into out. Fields already set are
// overwritten only by non-empty values, so outputs never get cleared.
func (out *Outputs) Merge(o Outputs) {
	if o.Text != "" {
		out.Text = o.Text
	}
	if o.ImageURL != "" {
		out.ImageURL = o.ImageURL
	}
	if o.AudioURL != "" {
		out.AudioURL = o.AudioURL
	}
}

// Metadata records provenance, timing and the failure message.
type Metadata struct {
	Provider     string     `json:"provider,omitempty"`
	WorkerUsed   string     `json:"worker_used,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Callback configures the terminal-state notification for a job.
type Callback struct {
	URL string `json:"url"`
	Key string `json:"key,omitempty"` // HMAC signing key
}

// Job is the durable record of one generation request.
type Job struct {
	ID       string         `json:"job_id"`
	Pipeline PipelineType   `json:"pipeline"`
	Inputs   Inputs         `json:"inputs"`
	Options  worker.Options `json:"options"`
	Status   Status         `json:"status"`
	Outputs  Outputs        `json:"outputs"`
	Metadata Metadata       `json:"metadata"`
	Callback *Callback      `json:"callback,omitempty"`
}

// Transition moves the job to next, refusing moves out of a terminal state.
func (j *Job) Transition(next Status) error {
	if !j.Status.CanTransition(next) {
		return apperrors.Conflict("job", j.ID, fmt.Sprintf("job %s cannot move from %s to %s", j.ID, j.Status, next))
	}
	j.Status = next
	return nil
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	c := *j
	c.Options = j.Options.Clone()
	if j.Metadata.StartedAt != nil {
		t := *j.Metadata.StartedAt
		c.Metadata.StartedAt = &t
	}
	if j.Metadata.CompletedAt != nil {
		t := *j.Metadata.CompletedAt
		c.Metadata.CompletedAt = &t
	}
	if j.Callback != nil {
		cb := *j.Callback
		c.Callback = &cb
	}
	return &c
}

// Public returns a copy safe to hand to API callers: the callback signing key is removed.
func (j *Job) Public() *Job {
	c := j.Clone()
	if c.Callback != nil {
		c.Callback.Key = ""
	}
	return c
}

// CreateRequest is the body of a job creation call.
type CreateRequest struct {
	Pipeline PipelineType   `json:"pipeline"`
	Inputs   Inputs         `json:"inputs"`
	Options  worker.Options `json:"options,omitempty"`
	Callback *Callback      `json:"callback,omitempty"`
}

// ListResponse is a page of jobs, newest first.
type ListResponse struct {
	Jobs   []*Job `json:"jobs"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}
