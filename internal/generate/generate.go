// Package generate provides the text generators pipeline steps call: a
// deterministic stub, Gemini through the genai SDK, and wrappers that
// rate-limit and meter calls.
package generate

import (
	"context"
	"fmt"

	"contentmill/internal/pipeline"
)

// Factory returns the generator bound to one step.
type Factory func(step pipeline.StepDescriptor) pipeline.Generator

// Shared binds the same generator to every step.
func Shared(g pipeline.Generator) Factory {
	return func(pipeline.StepDescriptor) pipeline.Generator { return g }
}

// Backend names accepted by New.
const (
	BackendStub   = "stub"
	BackendGemini = "gemini"
)

// UnknownBackendError reports a backend name New does not recognize.
type UnknownBackendError struct{ Name string }

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown generation backend %q (available: %s, %s)", e.Name, BackendStub, BackendGemini)
}

// New returns the factory for backend. The Gemini client is created once
// and shared by every step.
func New(ctx context.Context, backend string, gemini GeminiConfig) (Factory, error) {
	switch backend {
	case "", BackendStub:
		return StubFactory(nil), nil
	case BackendGemini:
		g, err := NewGemini(ctx, gemini)
		if err != nil {
			return nil, err
		}
		return Shared(g), nil
	default:
		return nil, &UnknownBackendError{Name: backend}
	}
}
