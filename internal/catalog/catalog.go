// Package catalog loads step definitions and their prompt templates from
// YAML and turns them into a pipeline registry.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"contentmill/internal/generate"
	"contentmill/internal/pipeline"
)

//go:embed default.yaml
var defaultYAML []byte

// Catalog is a named set of steps plus the seed keys a run must supply.
type Catalog struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Seed        []pipeline.Key `yaml:"seed" json:"seed"`
	Steps       []Step         `yaml:"steps" json:"steps"`
}

// Step is a descriptor with an optional text/template prompt. An empty
// prompt falls back to pipeline.DefaultPrompt.
type Step struct {
	pipeline.StepDescriptor `yaml:",inline"`
	Prompt                  string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads a catalog file. An empty path loads the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes catalog YAML and checks that every prompt template parses.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Steps) == 0 {
		return nil, fmt.Errorf("catalog %q has no steps", c.Name)
	}
	for _, s := range c.Steps {
		if s.Prompt == "" {
			continue
		}
		if _, err := newTemplate(s.Name, s.Prompt); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// Build registers every step against the catalog's seed keys, binding each
// to the generator the factory returns for it.
func (c *Catalog) Build(gens generate.Factory) (*pipeline.Registry, error) {
	bindings := make([]pipeline.Binding, 0, len(c.Steps))
	for _, s := range c.Steps {
		b := pipeline.Binding{Step: s.StepDescriptor, Generator: gens(s.StepDescriptor)}
		if s.Prompt != "" {
			tmpl, err := newTemplate(s.Name, s.Prompt)
			if err != nil {
				return nil, err
			}
			b.Prompt = render(tmpl)
		}
		bindings = append(bindings, b)
	}
	reg, err := pipeline.NewRegistry(c.Seed, bindings...)
	if err != nil {
		return nil, fmt.Errorf("catalog %q: %w", c.Name, err)
	}
	return reg, nil
}

// Validate builds the catalog against stub generators.
func (c *Catalog) Validate() error {
	_, err := c.Build(generate.StubFactory(nil))
	return err
}

// PromptData is what a step template executes against.
type PromptData struct {
	Step pipeline.StepDescriptor
	// Inputs holds decoded values by key. Unusable inputs appear as their
	// raw text.
	Inputs map[string]any
	// Unusable lists required keys whose upstream output failed to parse.
	Unusable []string
}

func newTemplate(name, text string) (*template.Template, error) {
	funcMap := template.FuncMap{
		"sub":  func(a, b int) int { return a - b },
		"add":  func(a, b int) int { return a + b },
		"join": strings.Join,
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
		"list": func(v any) []any {
			switch t := v.(type) {
			case nil:
				return nil
			case []any:
				return t
			default:
				return []any{t}
			}
		},
	}
	tmpl, err := template.New(name).Funcs(funcMap).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template) pipeline.PromptFunc {
	return func(step pipeline.StepDescriptor, inputs map[pipeline.Key]pipeline.Value) (string, error) {
		data := PromptData{Step: step, Inputs: make(map[string]any, len(inputs))}
		for _, k := range step.Requires {
			v, ok := inputs[k]
			if !ok {
				continue
			}
			if !v.Usable {
				data.Inputs[string(k)] = v.Raw
				data.Unusable = append(data.Unusable, string(k))
				continue
			}
			var decoded any
			if err := json.Unmarshal(v.Data, &decoded); err != nil {
				decoded = string(v.Data)
			}
			data.Inputs[string(k)] = decoded
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("execute template %s: %w", tmpl.Name(), err)
		}
		return buf.String(), nil
	}
}
