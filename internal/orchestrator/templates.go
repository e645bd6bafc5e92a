package orchestrator

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentco/agentco/pkg/models"
)

// GrandchildTemplate describes one atomic unit of work to create.
type GrandchildTemplate struct {
	Title              string   `yaml:"title"`
	Description        string   `yaml:"description,omitempty"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria,omitempty"`
}

// ChildTemplate describes one functional slice to create. WorkerType
// is optional; when empty the keyword selector assigns one from the
// title and description.
type ChildTemplate struct {
	Title         string               `yaml:"title"`
	Description   string               `yaml:"description,omitempty"`
	WorkerType    string               `yaml:"worker_type,omitempty"`
	Grandchildren []GrandchildTemplate `yaml:"grandchildren"`
}

// Template is one named decomposition shape, applied when any of its
// match keywords appears in the intake instruction. Titles and
// descriptions may reference the instruction with {instruction}.
type Template struct {
	Name     string          `yaml:"name"`
	Match    []string        `yaml:"match,omitempty"`
	Children []ChildTemplate `yaml:"children"`
}

// TemplateSet is an ordered collection of decomposition templates.
type TemplateSet struct {
	Templates []Template `yaml:"templates"`
}

// LoadTemplates reads a template set from a YAML file.
func LoadTemplates(path string) (*TemplateSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	ts := &TemplateSet{}
	if err := yaml.Unmarshal(data, ts); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if err := ts.validate(); err != nil {
		return nil, err
	}
	return ts, nil
}

// validate checks every template has a name and at least one child
// with at least one grandchild, and that declared worker types exist.
func (ts *TemplateSet) validate() error {
	for _, t := range ts.Templates {
		if t.Name == "" {
			return fmt.Errorf("template without a name")
		}
		if len(t.Children) == 0 {
			return fmt.Errorf("template %s: no children", t.Name)
		}
		for _, c := range t.Children {
			if c.Title == "" {
				return fmt.Errorf("template %s: child without a title", t.Name)
			}
			if c.WorkerType != "" && !models.WorkerType(c.WorkerType).Valid() {
				return fmt.Errorf("template %s: unknown worker type %q", t.Name, c.WorkerType)
			}
			if len(c.Grandchildren) == 0 {
				return fmt.Errorf("template %s: child %s has no grandchildren", t.Name, c.Title)
			}
		}
	}
	return nil
}

// Select returns the first template whose match keywords appear in the
// instruction, falling back to the first keywordless template.
func (ts *TemplateSet) Select(instruction string) *Template {
	lower := strings.ToLower(instruction)
	for i := range ts.Templates {
		for _, keyword := range ts.Templates[i].Match {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				return &ts.Templates[i]
			}
		}
	}
	for i := range ts.Templates {
		if len(ts.Templates[i].Match) == 0 {
			return &ts.Templates[i]
		}
	}
	return nil
}

// expand substitutes the {instruction} placeholder.
func expand(text, instruction string) string {
	return strings.ReplaceAll(text, "{instruction}", instruction)
}

// DefaultTemplates returns the built-in decomposition: design the
// slice, implement it, and verify it, each with a single reviewable
// unit of work.
func DefaultTemplates() *TemplateSet {
	return &TemplateSet{
		Templates: []Template{
			{
				Name: "default",
				Children: []ChildTemplate{
					{
						Title:      "Design: {instruction}",
						WorkerType: string(models.WorkerDesign),
						Grandchildren: []GrandchildTemplate{
							{
								Title:              "Draft technical approach for: {instruction}",
								AcceptanceCriteria: []string{"approach covers the full instruction"},
							},
						},
					},
					{
						Title:      "Implement: {instruction}",
						WorkerType: string(models.WorkerDeveloper),
						Grandchildren: []GrandchildTemplate{
							{
								Title:              "Implement: {instruction}",
								AcceptanceCriteria: []string{"implementation matches the approved approach"},
							},
						},
					},
					{
						Title:      "Verify: {instruction}",
						WorkerType: string(models.WorkerTest),
						Grandchildren: []GrandchildTemplate{
							{
								Title:              "Write tests covering: {instruction}",
								AcceptanceCriteria: []string{"tests cover the acceptance criteria"},
							},
						},
					},
				},
			},
		},
	}
}
