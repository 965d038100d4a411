package workflow

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/luminetic/ensemble/types"
)

// stepDef is the YAML shape of a step definition.
type stepDef struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Kind      string         `yaml:"kind"`
	Backend   string         `yaml:"backend"`
	Prompt    string         `yaml:"prompt"`
	Options   map[string]any `yaml:"options"`
	DependsOn []string       `yaml:"depends_on"`
	OutputKey string         `yaml:"output_key"`
}

// workflowDef is the YAML shape of a workflow definition file.
type workflowDef struct {
	ID    string    `yaml:"id"`
	Name  string    `yaml:"name"`
	Steps []stepDef `yaml:"steps"`
}

// Parse decodes a YAML workflow definition and validates it. A missing ID
// gets a fresh UUID.
func Parse(data []byte) (*Workflow, error) {
	var def workflowDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}

	wf := New(def.Name)
	wf.ID = def.ID
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	wf.Steps = make([]Step, 0, len(def.Steps))
	for _, sd := range def.Steps {
		var opts types.Map
		if len(sd.Options) > 0 {
			m, err := types.MapFromAny(sd.Options)
			if err != nil {
				return nil, fmt.Errorf("step %q options: %w", sd.ID, err)
			}
			opts = m
		}
		wf.Steps = append(wf.Steps, Step{
			ID:             sd.ID,
			Name:           sd.Name,
			Kind:           Kind(sd.Kind),
			BackendRef:     sd.Backend,
			PromptTemplate: sd.Prompt,
			Options:        opts,
			DependsOn:      sd.DependsOn,
			OutputKey:      sd.OutputKey,
		})
	}
	if err := Validate(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// LoadFile reads and parses a YAML workflow definition from disk.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definition: %w", err)
	}
	return Parse(data)
}
