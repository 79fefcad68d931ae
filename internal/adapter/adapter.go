// Package adapter abstracts the model backends a deliberation can invoke.
//
// Two implementations exist: a CLI adapter that shells out to a local
// agent binary, and an HTTP adapter speaking the OpenAI-compatible chat
// completions protocol. Adapters are configured through a JSON tagged
// union and resolved per participant via the catalog.
package adapter

import (
	"context"
	"errors"
)

// ErrTimeout reports that the backend did not answer within the adapter's
// configured timeout.
var ErrTimeout = errors.New("adapter: invocation timed out")

// ErrInvocation reports a non-timeout failure: non-zero exit, transport
// error, or a malformed response.
var ErrInvocation = errors.New("adapter: invocation failed")

// InvokeRequest carries one prompt to a backend.
type InvokeRequest struct {
	Prompt string
	Model  string

	// Context is accumulated debate context prepended to the prompt.
	Context string

	// IsDeliberation marks multi-round debate calls, letting adapters
	// pick deliberation-specific flags or system prompts.
	IsDeliberation bool

	// WorkingDirectory is the client project root. Side processes must
	// resolve paths against it, never against the server's cwd.
	WorkingDirectory string
}

// Adapter is a single model backend.
type Adapter interface {
	// Invoke sends the request and returns the response text. Failures
	// wrap ErrTimeout or ErrInvocation.
	Invoke(ctx context.Context, req InvokeRequest) (string, error)

	// Name is the backend identifier used in participant specs
	// ("model@name").
	Name() string

	// Models lists the model identifiers this backend accepts.
	Models() []string

	// DefaultModel is used when a participant names only the backend.
	DefaultModel() string
}
