package llm

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

// DefaultCoderModel is assigned the CODER role when no model holds it yet.
const DefaultCoderModel = "gpt-4.1-mini-2025-04-14"

// ModelSpec is one registry entry. ContextWindow is the hard maximum a user
// may configure for the model.
type ModelSpec struct {
	Name          string `yaml:"name"`
	Provider      string `yaml:"provider"`
	ContextWindow int64  `yaml:"context_window"`
	VisualName    string `yaml:"visual_name"`
}

type modelFile struct {
	Models []ModelSpec `yaml:"models"`
}

var (
	registryOnce sync.Once
	registryList []ModelSpec
	registryByID map[string]ModelSpec
	registryErr  error
)

func loadRegistry() {
	var parsed modelFile
	if err := yaml.Unmarshal(modelsYAML, &parsed); err != nil {
		registryErr = fmt.Errorf("parse embedded model registry: %w", err)
		return
	}
	registryByID = make(map[string]ModelSpec, len(parsed.Models))
	for _, m := range parsed.Models {
		if m.Name == "" || m.Provider == "" || m.ContextWindow <= 0 {
			registryErr = fmt.Errorf("invalid model registry entry %q", m.Name)
			return
		}
		registryByID[m.Name] = m
	}
	registryList = parsed.Models
}

// Models returns every registry entry in file order.
func Models() ([]ModelSpec, error) {
	registryOnce.Do(loadRegistry)
	if registryErr != nil {
		return nil, registryErr
	}
	out := make([]ModelSpec, len(registryList))
	copy(out, registryList)
	return out, nil
}

// LookupModel resolves a model name against the embedded registry.
func LookupModel(name string) (ModelSpec, error) {
	registryOnce.Do(loadRegistry)
	if registryErr != nil {
		return ModelSpec{}, registryErr
	}
	spec, ok := registryByID[name]
	if !ok {
		return ModelSpec{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return spec, nil
}
