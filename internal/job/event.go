package job

import (
	"multimodal/pkg/cloudevent"
	"time"

	"github.com/google/uuid"
)

// Event types for terminal job callbacks
const (
	EventTypeCompleted = "multimodal.job.completed"
	EventTypeFailed    = "multimodal.job.failed"
)

// EventSource is the CloudEvent source of job callbacks.
const EventSource = "/multimodal/gateway"

// EventData is the payload of a terminal job event.
type EventData struct {
	JobID       string       `json:"jobId"`
	Pipeline    PipelineType `json:"pipeline"`
	Status      Status       `json:"status"`
	Outputs     Outputs      `json:"outputs"`
	WorkerUsed  string       `json:"workerUsed,omitempty"`
	Provider    string       `json:"provider,omitempty"`
	Error       string       `json:"error,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// TerminalEvent builds the callback event for a job in a terminal state.
// It returns nil for jobs that are still queued or running.
func TerminalEvent(j *Job) *cloudevent.CloudEvent {
	var eventType string
	switch j.Status {
	case StatusCompleted:
		eventType = EventTypeCompleted
	case StatusFailed:
		eventType = EventTypeFailed
	default:
		return nil
	}

	data := EventData{
		JobID:       j.ID,
		Pipeline:    j.Pipeline,
		Status:      j.Status,
		Outputs:     j.Outputs,
		WorkerUsed:  j.Metadata.WorkerUsed,
		Provider:    j.Metadata.Provider,
		Error:       j.Metadata.ErrorMessage,
		CompletedAt: j.Metadata.CompletedAt,
	}
	return cloudevent.New(eventType, EventSource, j.ID, uuid.NewString(), data)
}
