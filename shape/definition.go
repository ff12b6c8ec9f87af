package shape

import (
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/reoring/shapekit/issues"
)

// Definition is the persisted, JSON-Schema-like form of a Shape.
type Definition struct {
	ID           string          `json:"id,omitempty" yaml:"id,omitempty"`
	Namespace    string          `json:"namespace" yaml:"namespace"`
	Name         string          `json:"name" yaml:"name"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	Version      int64           `json:"version,omitempty" yaml:"version,omitempty"`
	MultiTenancy string          `json:"multiTenancy,omitempty" yaml:"multiTenancy,omitempty"`
	Closed       bool            `json:"closed,omitempty" yaml:"closed,omitempty"`
	Schema       *NodeDefinition `json:"schema" yaml:"schema"`
}

// NodeDefinition is the persisted form of a Node. Type is "object", "array"
// or a primitive kind name.
type NodeDefinition struct {
	Type       string                     `json:"type" yaml:"type"`
	Properties map[string]*NodeDefinition `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items      *NodeDefinition            `json:"items,omitempty" yaml:"items,omitempty"`
	Decorators []DecoratorDefinition      `json:"decorators,omitempty" yaml:"decorators,omitempty"`
}

// DecoratorDefinition is the persisted form of a Decorator.
type DecoratorDefinition struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// ToDefinition converts a shape into its persisted form.
func ToDefinition(s *Shape) Definition {
	return Definition{
		ID:           s.ID,
		Namespace:    s.Namespace,
		Name:         s.Name,
		Description:  s.Description,
		Version:      s.Version,
		MultiTenancy: s.MultiTenancy.String(),
		Closed:       s.Closed,
		Schema:       nodeDefinition(s.Root),
	}
}

func nodeDefinition(n *Node) *NodeDefinition {
	d := &NodeDefinition{}
	for _, dec := range n.decorators {
		d.Decorators = append(d.Decorators, DecoratorDefinition{Type: string(dec.Kind), Params: dec.clone().Params})
	}
	switch n.kind {
	case NodeObject:
		d.Type = "object"
		d.Properties = make(map[string]*NodeDefinition, len(n.fields))
		for _, f := range n.fields {
			d.Properties[f.Name] = nodeDefinition(f.Node)
		}
	case NodeArray:
		d.Type = "array"
		d.Items = nodeDefinition(n.elem)
	default:
		d.Type = string(n.prim)
	}
	return d
}

// FromDefinition builds and validates a Shape from its persisted form.
// Object properties are ordered by name.
func FromDefinition(d Definition) (*Shape, error) {
	if d.Schema == nil {
		return nil, issues.At("", issues.CodeInvalidShape, "definition has no schema")
	}
	root, err := nodeFromDefinition(d.Schema, "")
	if err != nil {
		return nil, err
	}
	tenancy, err := ParseMultiTenancy(d.MultiTenancy)
	if err != nil {
		return nil, issues.At("", issues.CodeInvalidShape, "%v", err)
	}
	opts := []Option{WithDescription(d.Description), WithTenancy(tenancy)}
	if d.Version > 0 {
		opts = append(opts, WithVersion(d.Version))
	}
	if d.Closed {
		opts = append(opts, Closed())
	}
	return New(d.Namespace, d.Name, root, opts...)
}

func nodeFromDefinition(d *NodeDefinition, path string) (*Node, error) {
	if d == nil {
		return nil, issues.At(path, issues.CodeInvalidShape, "missing node definition")
	}
	decs := make([]Decorator, 0, len(d.Decorators))
	for _, dd := range d.Decorators {
		decs = append(decs, Decorator{Kind: DecoratorKind(dd.Type), Params: dd.Params})
	}
	switch d.Type {
	case "object":
		names := make([]string, 0, len(d.Properties))
		for name := range d.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		b := NewObject().Decorate(decs...)
		for _, name := range names {
			child, err := nodeFromDefinition(d.Properties[name], JoinPath(path, name))
			if err != nil {
				return nil, err
			}
			b.Field(name, child)
		}
		return b.Build()
	case "array":
		elem, err := nodeFromDefinition(d.Items, path)
		if err != nil {
			return nil, err
		}
		return Array(elem, decs...), nil
	default:
		k := PrimitiveKind(d.Type)
		if !k.Valid() {
			return nil, issues.At(path, issues.CodeInvalidShape, "unknown type %q", d.Type)
		}
		return Primitive(k, decs...), nil
	}
}

// MarshalDefinition encodes a shape as JSON.
func MarshalDefinition(s *Shape) ([]byte, error) {
	return json.Marshal(ToDefinition(s))
}

// ParseDefinition decodes a JSON shape definition.
func ParseDefinition(b []byte) (*Shape, error) {
	var d Definition
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, issues.Issues{{Code: issues.CodeParseError, Message: fmt.Sprintf("shape definition: %v", err), Cause: err}}
	}
	return FromDefinition(d)
}

// ParseDefinitionYAML decodes a YAML shape definition.
func ParseDefinitionYAML(b []byte) (*Shape, error) {
	var d Definition
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, issues.Issues{{Code: issues.CodeParseError, Message: fmt.Sprintf("shape definition: %v", err), Cause: err}}
	}
	return FromDefinition(d)
}
