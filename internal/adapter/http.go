package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSpec configures an HTTP adapter speaking the OpenAI-compatible chat
// completions protocol.
type HTTPSpec struct {
	Name           string   `json:"name"`
	BaseURL        string   `json:"base_url"`
	APIKeyEnv      string   `json:"api_key_env,omitempty"`
	APIKey         string   `json:"-"`
	Models         []string `json:"models,omitempty"`
	Default        string   `json:"default_model,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// HTTPAdapter posts chat completion requests to an OpenAI-compatible
// endpoint (OpenAI itself, Ollama's /v1, vLLM, llama.cpp server).
type HTTPAdapter struct {
	spec       HTTPSpec
	httpClient *http.Client
}

// NewHTTPAdapter validates the spec and applies the default timeout (120s).
func NewHTTPAdapter(spec HTTPSpec) (*HTTPAdapter, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("adapter: http spec missing name")
	}
	if spec.BaseURL == "" {
		return nil, fmt.Errorf("adapter: http spec %q missing base_url", spec.Name)
	}
	timeout := 120 * time.Second
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}
	return &HTTPAdapter{
		spec:       spec,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (a *HTTPAdapter) Name() string     { return a.spec.Name }
func (a *HTTPAdapter) Models() []string { return a.spec.Models }

func (a *HTTPAdapter) DefaultModel() string {
	if a.spec.Default != "" {
		return a.spec.Default
	}
	if len(a.spec.Models) > 0 {
		return a.spec.Models[0]
	}
	return ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Invoke posts one chat completion. The debate context rides as a system
// message so the backend sees it separated from the participant prompt.
func (a *HTTPAdapter) Invoke(ctx context.Context, req InvokeRequest) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.Context != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.Context})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{Model: req.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("%w: %s: marshal request: %v", ErrInvocation, a.spec.Name, err)
	}

	url := strings.TrimRight(a.spec.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %s: create request: %v", ErrInvocation, a.spec.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.spec.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.spec.APIKey)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return "", fmt.Errorf("%w: %s", ErrTimeout, a.spec.Name)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrInvocation, a.spec.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: %s: status %d: %s", ErrInvocation, a.spec.Name, resp.StatusCode, string(snippet))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: %s: decode response: %v", ErrInvocation, a.spec.Name, err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("%w: %s: %s", ErrInvocation, a.spec.Name, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: %s: empty choices", ErrInvocation, a.spec.Name)
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// isClientTimeout matches net/http's client-side timeout error, which
// arrives as a url.Error wrapping a timeout rather than a context error.
func isClientTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
