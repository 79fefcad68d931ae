package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// specEnvelope is the tagged union wrapper for adapter configuration.
type specEnvelope struct {
	Type string `json:"type"`
}

// ParseSpecs decodes the SHINGI_ADAPTERS JSON array of tagged adapter
// specs ({"type": "cli", ...} or {"type": "http", ...}) into constructed
// adapters. An unknown type is a configuration error.
func ParseSpecs(raw string) ([]Adapter, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var envelopes []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &envelopes); err != nil {
		return nil, fmt.Errorf("adapter: parse specs: %w", err)
	}

	adapters := make([]Adapter, 0, len(envelopes))
	for i, msg := range envelopes {
		var env specEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			return nil, fmt.Errorf("adapter: spec %d: %w", i, err)
		}
		switch env.Type {
		case "cli":
			var spec CLISpec
			if err := json.Unmarshal(msg, &spec); err != nil {
				return nil, fmt.Errorf("adapter: spec %d (cli): %w", i, err)
			}
			a, err := NewCLIAdapter(spec)
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, a)
		case "http":
			var spec HTTPSpec
			if err := json.Unmarshal(msg, &spec); err != nil {
				return nil, fmt.Errorf("adapter: spec %d (http): %w", i, err)
			}
			if spec.APIKeyEnv != "" {
				spec.APIKey = os.Getenv(spec.APIKeyEnv)
			}
			a, err := NewHTTPAdapter(spec)
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, a)
		default:
			return nil, fmt.Errorf("adapter: spec %d has unknown type %q", i, env.Type)
		}
	}
	return adapters, nil
}

// Catalog resolves participant specs to (adapter, model) pairs and holds
// per-session model overrides.
type Catalog struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	overrides map[string]string // adapter name -> session model
}

// NewCatalog indexes adapters by name. A duplicate name is a
// configuration error.
func NewCatalog(adapters []Adapter) (*Catalog, error) {
	byName := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		if _, dup := byName[a.Name()]; dup {
			return nil, fmt.Errorf("adapter: duplicate adapter name %q", a.Name())
		}
		byName[a.Name()] = a
	}
	return &Catalog{adapters: byName, overrides: make(map[string]string)}, nil
}

// Names returns the registered adapter names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.adapters))
	for n := range c.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ModelInfo describes one backend's model surface for list_models.
type ModelInfo struct {
	Adapter      string   `json:"adapter"`
	Models       []string `json:"models"`
	DefaultModel string   `json:"default_model,omitempty"`
	SessionModel string   `json:"session_model,omitempty"`
}

// ListModels reports the model allowlist per backend. A non-empty name
// restricts the listing to that backend.
func (c *Catalog) ListModels(name string) ([]ModelInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if name != "" {
		a, ok := c.adapters[name]
		if !ok {
			return nil, fmt.Errorf("adapter: unknown adapter %q", name)
		}
		return []ModelInfo{c.infoLocked(a)}, nil
	}

	infos := make([]ModelInfo, 0, len(c.adapters))
	for _, n := range c.namesLocked() {
		infos = append(infos, c.infoLocked(c.adapters[n]))
	}
	return infos, nil
}

// SetSessionModel overrides the model used for a backend for the rest of
// the session. An empty model clears the override. The model must be on
// the backend's allowlist when one exists.
func (c *Catalog) SetSessionModel(name, model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.adapters[name]
	if !ok {
		return fmt.Errorf("adapter: unknown adapter %q", name)
	}
	if model == "" {
		delete(c.overrides, name)
		return nil
	}
	if !allowed(a, model) {
		return fmt.Errorf("adapter: model %q not in %s allowlist", model, name)
	}
	c.overrides[name] = model
	return nil
}

// Resolve maps a participant spec to its adapter and model. Accepted
// forms: "backend" (session override or default model) and
// "model@backend". The model must pass the backend allowlist.
func (c *Catalog) Resolve(participant string) (Adapter, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := participant
	model := ""
	if at := strings.LastIndex(participant, "@"); at >= 0 {
		model, name = participant[:at], participant[at+1:]
	}

	a, ok := c.adapters[name]
	if !ok {
		return nil, "", fmt.Errorf("adapter: unknown adapter %q in participant %q", name, participant)
	}

	if model == "" {
		if override, ok := c.overrides[name]; ok {
			return a, override, nil
		}
		model = a.DefaultModel()
		if model == "" {
			return nil, "", fmt.Errorf("adapter: %s has no default model, participant must use model@%s", name, name)
		}
		return a, model, nil
	}

	if !allowed(a, model) {
		return nil, "", fmt.Errorf("adapter: model %q not in %s allowlist", model, name)
	}
	return a, model, nil
}

func (c *Catalog) namesLocked() []string {
	names := make([]string, 0, len(c.adapters))
	for n := range c.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) infoLocked(a Adapter) ModelInfo {
	return ModelInfo{
		Adapter:      a.Name(),
		Models:       a.Models(),
		DefaultModel: a.DefaultModel(),
		SessionModel: c.overrides[a.Name()],
	}
}

// allowed reports whether model passes the backend's allowlist. An empty
// allowlist accepts any model.
func allowed(a Adapter, model string) bool {
	models := a.Models()
	if len(models) == 0 {
		return true
	}
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
