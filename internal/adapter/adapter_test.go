package adapter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shingi-ai/shingi/internal/adapter"
)

func TestParseSpecs_TaggedUnion(t *testing.T) {
	raw := `[
		{"type": "cli", "name": "claude", "command": "claude", "args": ["--model", "{model}", "-p", "{prompt}"], "models": ["opus", "sonnet"], "default_model": "sonnet"},
		{"type": "http", "name": "openai", "base_url": "https://api.openai.com/v1", "models": ["gpt-4o"], "default_model": "gpt-4o"}
	]`
	adapters, err := adapter.ParseSpecs(raw)
	require.NoError(t, err)
	require.Len(t, adapters, 2)
	assert.Equal(t, "claude", adapters[0].Name())
	assert.Equal(t, "sonnet", adapters[0].DefaultModel())
	assert.Equal(t, "openai", adapters[1].Name())
}

func TestParseSpecs_Empty(t *testing.T) {
	adapters, err := adapter.ParseSpecs("  ")
	assert.NoError(t, err)
	assert.Nil(t, adapters)
}

func TestParseSpecs_UnknownType(t *testing.T) {
	_, err := adapter.ParseSpecs(`[{"type": "grpc", "name": "x"}]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestParseSpecs_MissingCommand(t *testing.T) {
	_, err := adapter.ParseSpecs(`[{"type": "cli", "name": "broken"}]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing command")
}

func newCatalog(t *testing.T) *adapter.Catalog {
	t.Helper()
	adapters, err := adapter.ParseSpecs(`[
		{"type": "cli", "name": "claude", "command": "claude", "models": ["opus", "sonnet"], "default_model": "sonnet"},
		{"type": "cli", "name": "open", "command": "open-agent"}
	]`)
	require.NoError(t, err)
	c, err := adapter.NewCatalog(adapters)
	require.NoError(t, err)
	return c
}

func TestNewCatalog_DuplicateName(t *testing.T) {
	adapters, err := adapter.ParseSpecs(`[
		{"type": "cli", "name": "claude", "command": "a"},
		{"type": "cli", "name": "claude", "command": "b"}
	]`)
	require.NoError(t, err)
	_, err = adapter.NewCatalog(adapters)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestResolve_Forms(t *testing.T) {
	c := newCatalog(t)

	// Bare backend uses the default model.
	a, model, err := c.Resolve("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", a.Name())
	assert.Equal(t, "sonnet", model)

	// model@backend form.
	_, model, err = c.Resolve("opus@claude")
	require.NoError(t, err)
	assert.Equal(t, "opus", model)

	// Allowlist enforcement.
	_, _, err = c.Resolve("gpt-4o@claude")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allowlist")

	// Empty allowlist accepts any model.
	_, model, err = c.Resolve("anything@open")
	require.NoError(t, err)
	assert.Equal(t, "anything", model)

	// No default model and no explicit model is an error.
	_, _, err = c.Resolve("open")
	assert.Error(t, err)

	_, _, err = c.Resolve("nobody")
	assert.Error(t, err)
}

func TestSessionOverrides(t *testing.T) {
	c := newCatalog(t)

	require.NoError(t, c.SetSessionModel("claude", "opus"))
	_, model, err := c.Resolve("claude")
	require.NoError(t, err)
	assert.Equal(t, "opus", model)

	// Explicit model@backend wins over the override.
	_, model, err = c.Resolve("sonnet@claude")
	require.NoError(t, err)
	assert.Equal(t, "sonnet", model)

	// Clearing restores the default.
	require.NoError(t, c.SetSessionModel("claude", ""))
	_, model, err = c.Resolve("claude")
	require.NoError(t, err)
	assert.Equal(t, "sonnet", model)

	// Overrides respect the allowlist.
	err = c.SetSessionModel("claude", "gpt-4o")
	assert.Error(t, err)
	err = c.SetSessionModel("nobody", "x")
	assert.Error(t, err)
}

func TestListModels(t *testing.T) {
	c := newCatalog(t)
	require.NoError(t, c.SetSessionModel("claude", "opus"))

	infos, err := c.ListModels("")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "claude", infos[0].Adapter)
	assert.Equal(t, "opus", infos[0].SessionModel)

	infos, err = c.ListModels("open")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Empty(t, infos[0].Models)

	_, err = c.ListModels("nobody")
	assert.Error(t, err)
}

func TestCLIAdapter_Invoke(t *testing.T) {
	a, err := adapter.NewCLIAdapter(adapter.CLISpec{
		Name:    "echo",
		Command: "echo",
		Args:    []string{"model={model}", "{prompt}"},
	})
	require.NoError(t, err)

	out, err := a.Invoke(context.Background(), adapter.InvokeRequest{
		Prompt: "hello world",
		Model:  "m1",
	})
	require.NoError(t, err)
	assert.Equal(t, "model=m1 hello world", out)
}

func TestCLIAdapter_ContextPrepended(t *testing.T) {
	a, err := adapter.NewCLIAdapter(adapter.CLISpec{Name: "echo", Command: "echo"})
	require.NoError(t, err)

	out, err := a.Invoke(context.Background(), adapter.InvokeRequest{
		Prompt:  "the question",
		Context: "prior decisions",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "prior decisions")
	assert.Contains(t, out, "the question")
}

func TestCLIAdapter_ExitFailure(t *testing.T) {
	a, err := adapter.NewCLIAdapter(adapter.CLISpec{Name: "fail", Command: "false"})
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), adapter.InvokeRequest{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, adapter.ErrInvocation)
}

func TestCLIAdapter_Timeout(t *testing.T) {
	a, err := adapter.NewCLIAdapter(adapter.CLISpec{
		Name:           "slow",
		Command:        "sleep",
		Args:           []string{"5"},
		TimeoutSeconds: 1,
	})
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), adapter.InvokeRequest{Prompt: "5"})
	require.Error(t, err)
	assert.ErrorIs(t, err, adapter.ErrTimeout)
}
