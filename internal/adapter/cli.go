package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CLISpec configures a CLI adapter.
type CLISpec struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	// Args are passed before the prompt. The placeholder {model} is
	// replaced with the resolved model; {prompt} with the full prompt.
	// Without a {prompt} placeholder the prompt is appended as the last
	// argument.
	Args           []string      `json:"args,omitempty"`
	Models         []string      `json:"models,omitempty"`
	Default        string        `json:"default_model,omitempty"`
	TimeoutSeconds int           `json:"timeout_seconds,omitempty"`
	timeout        time.Duration `json:"-"`
}

// CLIAdapter invokes a local agent binary once per prompt.
type CLIAdapter struct {
	spec CLISpec
}

// NewCLIAdapter validates the spec and applies the default timeout (120s).
func NewCLIAdapter(spec CLISpec) (*CLIAdapter, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("adapter: cli spec missing name")
	}
	if spec.Command == "" {
		return nil, fmt.Errorf("adapter: cli spec %q missing command", spec.Name)
	}
	spec.timeout = 120 * time.Second
	if spec.TimeoutSeconds > 0 {
		spec.timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}
	return &CLIAdapter{spec: spec}, nil
}

func (a *CLIAdapter) Name() string     { return a.spec.Name }
func (a *CLIAdapter) Models() []string { return a.spec.Models }

func (a *CLIAdapter) DefaultModel() string {
	if a.spec.Default != "" {
		return a.spec.Default
	}
	if len(a.spec.Models) > 0 {
		return a.spec.Models[0]
	}
	return ""
}

// Invoke runs the configured command with the request's working directory
// as cmd.Dir. stderr is folded into the error, never the response.
func (a *CLIAdapter) Invoke(ctx context.Context, req InvokeRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.spec.timeout)
	defer cancel()

	prompt := req.Prompt
	if req.Context != "" {
		prompt = req.Context + "\n\n" + req.Prompt
	}

	args, promptPlaced := expandArgs(a.spec.Args, req.Model, prompt)
	if !promptPlaced {
		args = append(args, prompt)
	}

	cmd := exec.CommandContext(ctx, a.spec.Command, args...)
	cmd.Dir = req.WorkingDirectory

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%w: %s after %s", ErrTimeout, a.spec.Name, a.spec.timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: %s exit %d: %s",
				ErrInvocation, a.spec.Name, exitErr.ExitCode(), firstLine(stderr.String()))
		}
		return "", fmt.Errorf("%w: %s: %v", ErrInvocation, a.spec.Name, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// expandArgs substitutes {model} and {prompt} placeholders. Returns
// whether the prompt was placed by a placeholder.
func expandArgs(args []string, model, prompt string) ([]string, bool) {
	out := make([]string, len(args))
	placed := false
	for i, a := range args {
		a = strings.ReplaceAll(a, "{model}", model)
		if strings.Contains(a, "{prompt}") {
			a = strings.ReplaceAll(a, "{prompt}", prompt)
			placed = true
		}
		out[i] = a
	}
	return out, placed
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
