// Package worker defines the uniform adapter contract for inference providers and
// the adapters that implement it.
//
// Every adapter turns one Request into one Result or a classified
// *apperrors.Error. Warm-up retries, polling and fallback chains stay inside
// the adapter; callers only ever see hard failures.
package worker

import "context"

// Role is the capability a pipeline step needs from an adapter.
type Role string

const (
	RoleLanguage   Role = "language"
	RoleImage      Role = "image"
	RoleSpeech     Role = "speech"
	RoleTranscribe Role = "transcribe"
	RoleTransform  Role = "transform"
)

// Roles lists every role in a stable order.
func Roles() []Role {
	return []Role{RoleLanguage, RoleImage, RoleSpeech, RoleTranscribe, RoleTransform}
}

// OutputKind is the kind of payload a Result carries.
type OutputKind string

const (
	OutputText  OutputKind = "text"
	OutputImage OutputKind = "image"
	OutputAudio OutputKind = "audio"
)

// Request carries exactly the inputs one modality needs plus the options bag.
type Request struct {
	Text     string
	ImageURL string
	AudioURL string
	Options  Options
}

// Result is a successful invocation. Text is set for text output, Ref (a
// storage reference) for image and audio output.
type Result struct {
	Kind     OutputKind
	Text     string
	Ref      string
	Provider string // Model or endpoint that produced the output
}

// Adapter performs one inference call against an external provider.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, req Request) (*Result, error)
}
