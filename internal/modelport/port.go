package modelport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// PromptSpec describes a structured-text generation request. The engine
// never inspects provider responses beyond the returned JSON payload.
type PromptSpec struct {
	System string         // system/persona instruction
	Prompt string         // task content, including any appended feedback
	Schema map[string]any // JSON Schema hint for the expected output shape
}

// ImageSpec describes an image generation request.
type ImageSpec struct {
	Prompt      string
	Seed        *int64 // nil lets the backend pick one
	Reference   []byte // optional conditioning image (PNG bytes)
	AspectRatio string // e.g. "16:9"; empty uses backend default
}

// Port is the model invocation capability the engine depends on.
// Implementations are collaborators: a langchaingo-backed text model,
// an HTTP image backend, or a scripted stand-in for tests.
type Port interface {
	GenerateStructured(ctx context.Context, spec PromptSpec) (json.RawMessage, error)
	GenerateImage(ctx context.Context, spec ImageSpec) ([]byte, error)
}

// TransientError marks a collaborator failure (timeout, unavailable,
// malformed response) that is worth retrying with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient invocation failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for the given operation.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// split combines independent text and image backends into one Port.
type split struct {
	text   StructuredGenerator
	images ImageGenerator
}

// StructuredGenerator is the text half of the port.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, spec PromptSpec) (json.RawMessage, error)
}

// ImageGenerator is the image half of the port.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, spec ImageSpec) ([]byte, error)
}

// Split builds a Port out of separate text and image backends. Either
// half may be nil, in which case calls to it fail with a TransientError
// so the supervisor surfaces a structured cause instead of panicking.
func Split(text StructuredGenerator, images ImageGenerator) Port {
	return &split{text: text, images: images}
}

func (s *split) GenerateStructured(ctx context.Context, spec PromptSpec) (json.RawMessage, error) {
	if s.text == nil {
		return nil, Transient("generate_structured", errors.New("no text backend configured"))
	}
	return s.text.GenerateStructured(ctx, spec)
}

func (s *split) GenerateImage(ctx context.Context, spec ImageSpec) ([]byte, error) {
	if s.images == nil {
		return nil, Transient("generate_image", errors.New("no image backend configured"))
	}
	return s.images.GenerateImage(ctx, spec)
}
