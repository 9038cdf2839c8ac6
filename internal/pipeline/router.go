// Package pipeline maps pipeline types to worker steps and drives jobs
// through their state machine.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"multimodal/internal/apperrors"
	"multimodal/internal/job"
	"multimodal/internal/worker"
	"strings"
)

// Prompts for the optional language-model steps.
const (
	styleRewritePrompt  = "Rewrite this prompt in a %s style: %s"
	promptCleanupPrompt = "Transform this transcription into a clear image generation prompt: %s"
)

// state is the data threaded between the steps of one run.
type state struct {
	text    string // current prompt or transcript
	image   string
	audio   string
	options worker.Options
	outputs job.Outputs
}

// Step is one adapter invocation in a pipeline.
type Step struct {
	Role worker.Role
	// Name describes the step in listings.
	Name string
	// Optional steps degrade to the unmodified input on failure.
	Optional bool

	// request builds the adapter request; skip reports that the step does not apply.
	request func(st *state) (req worker.Request, skip bool)
	// apply threads the result into the state.
	apply func(st *state, res *worker.Result)
}

var pipelines = map[job.PipelineType][]Step{
	job.TextToText:    {generateText},
	job.TextToImage:   {styleRewrite, generateImage},
	job.TextToSpeech:  {synthesizeSpeech},
	job.SpeechToText:  {transcribe},
	job.SpeechToImage: {transcribe, promptCleanup, generateImage},
	job.ImageToImage:  {transformImage},
}

var (
	generateText = Step{
		Role: worker.RoleLanguage,
		Name: "llm",
		request: func(st *state) (worker.Request, bool) {
			return worker.Request{Text: st.text, Options: st.options}, false
		},
		apply: func(st *state, res *worker.Result) {
			st.outputs.Text = res.Text
		},
	}

	styleRewrite = Step{
		Role:     worker.RoleLanguage,
		Name:     "style-rewrite",
		Optional: true,
		request: func(st *state) (worker.Request, bool) {
			style := st.options.String("style", "")
			if style == "" {
				return worker.Request{}, true
			}
			return worker.Request{
				Text:    fmt.Sprintf(styleRewritePrompt, style, st.text),
				Options: worker.Options{"max_tokens": 200.0, "temperature": 0.7},
			}, false
		},
		apply: replacePrompt,
	}

	promptCleanup = Step{
		Role:     worker.RoleLanguage,
		Name:     "prompt-cleanup",
		Optional: true,
		request: func(st *state) (worker.Request, bool) {
			if st.text == "" {
				return worker.Request{}, true
			}
			return worker.Request{
				Text:    fmt.Sprintf(promptCleanupPrompt, st.text),
				Options: worker.Options{"max_tokens": 150.0, "temperature": 0.7},
			}, false
		},
		apply: replacePrompt,
	}

	generateImage = Step{
		Role: worker.RoleImage,
		Name: "image",
		request: func(st *state) (worker.Request, bool) {
			return worker.Request{Text: st.text, Options: st.options}, false
		},
		apply: func(st *state, res *worker.Result) {
			st.outputs.ImageURL = res.Ref
		},
	}

	synthesizeSpeech = Step{
		Role: worker.RoleSpeech,
		Name: "tts",
		request: func(st *state) (worker.Request, bool) {
			return worker.Request{Text: st.text, Options: st.options}, false
		},
		apply: func(st *state, res *worker.Result) {
			st.outputs.AudioURL = res.Ref
		},
	}

	transcribe = Step{
		Role: worker.RoleTranscribe,
		Name: "stt",
		request: func(st *state) (worker.Request, bool) {
			return worker.Request{AudioURL: st.audio, Options: st.options}, false
		},
		apply: func(st *state, res *worker.Result) {
			// The transcript is an output even when later steps fail.
			st.outputs.Text = res.Text
			st.text = res.Text
		},
	}

	transformImage = Step{
		Role: worker.RoleTransform,
		Name: "img2img",
		request: func(st *state) (worker.Request, bool) {
			return worker.Request{ImageURL: st.image, Options: st.options}, false
		},
		apply: func(st *state, res *worker.Result) {
			st.outputs.ImageURL = res.Ref
		},
	}
)

func replacePrompt(st *state, res *worker.Result) {
	if text := strings.TrimSpace(res.Text); text != "" {
		st.text = text
	}
}

// Steps returns the ordered steps of p, or a configuration error when p is unsupported.
func Steps(p job.PipelineType) ([]Step, error) {
	steps, ok := pipelines[p]
	if !ok {
		return nil, apperrors.Configuration("pipeline.steps", fmt.Sprintf("unsupported pipeline: %s", p))
	}
	return steps, nil
}

// Info describes a pipeline for listings.
type Info struct {
	Type        job.PipelineType `json:"type"`
	Description string           `json:"description"`
	Steps       []string         `json:"steps"`
}

// Catalog lists every supported pipeline.
func Catalog() []Info {
	types := job.PipelineTypes()
	out := make([]Info, 0, len(types))
	for _, p := range types {
		info := Info{Type: p, Description: p.Description()}
		for _, s := range pipelines[p] {
			name := s.Name
			if s.Optional {
				name += " (optional)"
			}
			info.Steps = append(info.Steps, name)
		}
		out = append(out, info)
	}
	return out
}

// Outcome is what a run produced. It is returned even when the run fails so
// that outputs produced before the failure (a transcript) are kept.
type Outcome struct {
	Outputs  job.Outputs
	Workers  []string // adapters whose results were used, in order
	Provider string   // provider of the last successful step
}

// Router runs a job's pipeline against the adapters in a registry.
type Router struct {
	registry *worker.Registry
}

// NewRouter creates a router resolving adapters from registry.
func NewRouter(registry *worker.Registry) *Router {
	return &Router{registry: registry}
}

// Run executes the steps of j's pipeline in order. The first hard failure is
// returned unchanged; optional steps never fail the run.
func (r *Router) Run(ctx context.Context, j *job.Job) (*Outcome, error) {
	outcome := &Outcome{}
	steps, err := Steps(j.Pipeline)
	if err != nil {
		return outcome, err
	}

	// Resolve every required adapter before invoking any of them.
	adapters := make([]worker.Adapter, len(steps))
	for i, s := range steps {
		a, err := r.registry.Adapter(s.Role)
		if err != nil && !s.Optional {
			return outcome, err
		}
		adapters[i] = a
	}

	logger := slog.With("jobId", j.ID, "pipeline", j.Pipeline)
	st := &state{
		text:    j.Inputs.Text,
		image:   j.Inputs.ImageURL,
		audio:   j.Inputs.AudioURL,
		options: j.Options,
	}

	for i, s := range steps {
		req, skip := s.request(st)
		if skip {
			continue
		}
		a := adapters[i]
		if a == nil {
			logger.Warn("Optional step has no adapter, skipping", "step", s.Name)
			continue
		}

		res, err := a.Invoke(ctx, req)
		if err != nil {
			if s.Optional {
				logger.Warn("Optional step failed, using unmodified input", "step", s.Name, "error", err)
				continue
			}
			outcome.Outputs = st.outputs
			return outcome, err
		}

		s.apply(st, res)
		outcome.Workers = append(outcome.Workers, a.Name())
		outcome.Provider = res.Provider
		logger.Debug("Step completed", "step", s.Name, "adapter", a.Name(), "provider", res.Provider)
	}

	outcome.Outputs = st.outputs
	return outcome, nil
}
