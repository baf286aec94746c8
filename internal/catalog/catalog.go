// Package catalog holds the declared artifact pipelines and their field schemas.
// The set is fixed at start-up; runs cannot add pipelines.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/courseware-agent/internal/types"
)

//go:embed pipelines.yaml
var defaultPipelines []byte

// FileHint boosts a pipeline's routing score when an attached document matches.
type FileHint struct {
	Kind         types.MediaKind `yaml:"kind,omitempty"`
	Origin       types.Origin    `yaml:"origin,omitempty"`
	NameContains string          `yaml:"name_contains,omitempty"`
	Boost        float64         `yaml:"boost"`
}

// Matches reports whether doc satisfies every criterion set on the hint.
func (h FileHint) Matches(doc types.SourceDocument) bool {
	if h.Kind != "" && h.Kind != doc.Kind {
		return false
	}
	if h.Origin != "" && h.Origin != doc.Origin {
		return false
	}
	if h.NameContains != "" && !strings.Contains(strings.ToLower(doc.Name), strings.ToLower(h.NameContains)) {
		return false
	}
	return h.Kind != "" || h.Origin != "" || h.NameContains != ""
}

// FieldGroup is one extraction task template.
type FieldGroup struct {
	Name          string            `yaml:"name"`
	PreferredKind types.MediaKind   `yaml:"preferred_kind,omitempty"`
	Fields        []types.FieldSpec `yaml:"fields"`
}

// Pipeline is a declared artifact pipeline.
type Pipeline struct {
	Name        types.ArtifactType `yaml:"name"`
	Title       string             `yaml:"title"`
	Description string             `yaml:"description"`
	Keywords    []string           `yaml:"keywords"`
	FileHints   []FileHint         `yaml:"file_hints,omitempty"`
	Groups      []FieldGroup       `yaml:"groups"`
}

// Catalog is the immutable set of pipelines.
type Catalog struct {
	Pipelines []Pipeline `yaml:"pipelines"`
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultPipelines)
}

// MustDefault returns the built-in catalog, panicking if it is invalid.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(fmt.Sprintf("invalid built-in catalog: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var validFieldTypes = map[types.FieldType]bool{
	types.FieldString:     true,
	types.FieldDate:       true,
	types.FieldCurrency:   true,
	types.FieldEnum:       true,
	types.FieldIdentifier: true,
	types.FieldList:       true,
}

// Validate checks names, types and patterns.
func (c *Catalog) Validate() error {
	if len(c.Pipelines) == 0 {
		return fmt.Errorf("catalog error: no pipelines declared")
	}
	seen := make(map[types.ArtifactType]bool)
	for _, p := range c.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("catalog error: pipeline without name")
		}
		if seen[p.Name] {
			return fmt.Errorf("catalog error: duplicate pipeline %q", p.Name)
		}
		seen[p.Name] = true

		if len(p.Groups) == 0 {
			return fmt.Errorf("catalog error: pipeline %q has no field groups", p.Name)
		}
		fields := make(map[string]bool)
		for _, g := range p.Groups {
			if g.Name == "" {
				return fmt.Errorf("catalog error: pipeline %q has an unnamed group", p.Name)
			}
			for _, f := range g.Fields {
				if err := validateField(f); err != nil {
					return fmt.Errorf("catalog error: pipeline %q group %q: %w", p.Name, g.Name, err)
				}
				if fields[f.Name] {
					return fmt.Errorf("catalog error: pipeline %q declares field %q twice", p.Name, f.Name)
				}
				fields[f.Name] = true
			}
		}
	}
	return nil
}

func validateField(f types.FieldSpec) error {
	if f.Name == "" {
		return fmt.Errorf("field without name")
	}
	if !validFieldTypes[f.Type] {
		return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
	}
	if f.Type == types.FieldEnum && len(f.Enum) == 0 {
		return fmt.Errorf("enum field %q has no options", f.Name)
	}
	if f.Type == types.FieldIdentifier && f.Identifier == types.IdentifierNone {
		return fmt.Errorf("identifier field %q has no identifier kind", f.Name)
	}
	if f.Pattern != "" {
		if _, err := regexp.Compile(f.Pattern); err != nil {
			return fmt.Errorf("field %q has invalid pattern: %w", f.Name, err)
		}
	}
	return nil
}

// Pipeline looks up a pipeline by name.
func (c *Catalog) Pipeline(name types.ArtifactType) (Pipeline, bool) {
	for _, p := range c.Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return Pipeline{}, false
}

// Names returns the pipeline names in declaration order.
func (c *Catalog) Names() []types.ArtifactType {
	names := make([]types.ArtifactType, len(c.Pipelines))
	for i, p := range c.Pipelines {
		names[i] = p.Name
	}
	return names
}

// Fields returns every field spec of the pipeline in declaration order.
func (p Pipeline) Fields() []types.FieldSpec {
	var out []types.FieldSpec
	for _, g := range p.Groups {
		out = append(out, g.Fields...)
	}
	return out
}

// Tasks builds one extraction task per field group, bound to every document.
// The primary document is the first document flagged primary, else the first
// upload of the group's preferred kind, else the first document.
func (p Pipeline) Tasks(docs []types.SourceDocument) []types.ExtractionTask {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}

	tasks := make([]types.ExtractionTask, 0, len(p.Groups))
	for _, g := range p.Groups {
		fields := make([]types.FieldSpec, len(g.Fields))
		copy(fields, g.Fields)
		tasks = append(tasks, types.ExtractionTask{
			Name:            g.Name,
			Artifact:        p.Name,
			Fields:          fields,
			Documents:       append([]string(nil), ids...),
			PrimaryDocument: primaryDocument(docs, g.PreferredKind),
		})
	}
	return tasks
}

func primaryDocument(docs []types.SourceDocument, preferred types.MediaKind) string {
	if len(docs) == 0 {
		return ""
	}
	for _, d := range docs {
		if d.Primary {
			return d.ID
		}
	}
	if preferred != "" {
		for _, d := range docs {
			if d.Kind == preferred && d.Origin != types.OriginScrape {
				return d.ID
			}
		}
		for _, d := range docs {
			if d.Kind == preferred {
				return d.ID
			}
		}
	}
	return docs[0].ID
}
