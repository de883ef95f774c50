// Package models loads the model and prompt registries (models.yml and prompts.yml).
package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/codalotl/driveqa/internal/types"
)

type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// Model is one selectable completion model. The first entry of models.yml is the default.
type Model struct {
	Name          string   `yaml:"name"`
	Provider      Provider `yaml:"provider"`
	Model         string   `yaml:"model"`
	InputPerMTok  float64  `yaml:"input-per-mtok"`
	OutputPerMTok float64  `yaml:"output-per-mtok"`
}

// Prompt is a named system-prompt configuration. The first two entries of prompts.yml are compared by default.
type Prompt struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	System      string `yaml:"system"`
}

type modelFile struct {
	Models []Model `yaml:"models"`
}

type promptFile struct {
	Prompts []Prompt `yaml:"prompts"`
}

type Registry struct {
	Models  []Model
	Prompts []Prompt
}

// LoadRegistry reads models.yml and prompts.yml from root.
func LoadRegistry(root string) (*Registry, error) {
	modelPath := filepath.Join(root, "models.yml")
	promptPath := filepath.Join(root, "prompts.yml")
	var mf modelFile
	if err := readYAML(modelPath, &mf); err != nil {
		return nil, err
	}
	var pf promptFile
	if err := readYAML(promptPath, &pf); err != nil {
		return nil, err
	}
	reg := &Registry{Models: mf.Models, Prompts: pf.Prompts}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

func readYAML(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (r *Registry) validate() error {
	seen := map[string]bool{}
	for _, m := range r.Models {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("model with empty name in models.yml")
		}
		if seen[m.Name] {
			return fmt.Errorf("model %q defined twice in models.yml", m.Name)
		}
		seen[m.Name] = true
		switch m.Provider {
		case ProviderAnthropic, ProviderGemini:
		default:
			return fmt.Errorf("model %q has unknown provider %q", m.Name, m.Provider)
		}
	}
	seen = map[string]bool{}
	for _, p := range r.Prompts {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if key == "" {
			return fmt.Errorf("prompt with empty name in prompts.yml")
		}
		if seen[key] {
			return fmt.Errorf("prompt %q defined twice in prompts.yml", p.Name)
		}
		seen[key] = true
	}
	return nil
}

// Model finds a model by registry name or by provider model ID.
func (r *Registry) Model(name string) (Model, bool) {
	name = strings.TrimSpace(name)
	for _, m := range r.Models {
		if m.Name == name || m.Model == name {
			return m, true
		}
	}
	return Model{}, false
}

// ResolveModel returns the named model, or the default model when name is empty. Unknown names are an error; only
// registered models may be used.
func (r *Registry) ResolveModel(name string) (Model, error) {
	if strings.TrimSpace(name) == "" {
		if len(r.Models) == 0 {
			return Model{}, fmt.Errorf("models.yml defines no models")
		}
		return r.Models[0], nil
	}
	m, ok := r.Model(name)
	if !ok {
		return Model{}, fmt.Errorf("unknown model %q (known: %s)", name, strings.Join(r.modelNames(), ", "))
	}
	return m, nil
}

func (r *Registry) modelNames() []string {
	names := make([]string, 0, len(r.Models))
	for _, m := range r.Models {
		names = append(names, m.Name)
	}
	return names
}

// Prompt finds a prompt by name, ignoring case.
func (r *Registry) Prompt(name string) (Prompt, bool) {
	for _, p := range r.Prompts {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, true
		}
	}
	return Prompt{}, false
}

// ComparedPrompts returns the prompts evaluated when none is selected: the first two.
func (r *Registry) ComparedPrompts() ([]Prompt, error) {
	if len(r.Prompts) < 2 {
		return nil, fmt.Errorf("prompts.yml must define at least two prompts to compare, found %d", len(r.Prompts))
	}
	return r.Prompts[:2], nil
}

// Cost prices usage in USD.
func (m Model) Cost(u types.UsageTally) float64 {
	return (float64(u.InputTokens)*m.InputPerMTok + float64(u.OutputTokens)*m.OutputPerMTok) / 1e6
}

// Cost prices usage for a model name or ID. ok is false for unknown or unpriced models.
func (r *Registry) Cost(model string, u types.UsageTally) (float64, bool) {
	m, found := r.Model(model)
	if !found || (m.InputPerMTok == 0 && m.OutputPerMTok == 0) {
		return 0, false
	}
	return m.Cost(u), true
}
