package jsonschema

import (
	"maps"
	"slices"

	json "github.com/goccy/go-json"
)

// Draft is the JSON Schema dialect emitted for root schemas.
const Draft = "http://json-schema.org/draft-07/schema#"

// Schema is a minimal JSON Schema representation used for export.
// Keep this struct small and extend incrementally.
type Schema struct {
	// Core
	SchemaURI   string `json:"$schema,omitempty"`
	ID          string `json:"$id,omitempty"`
	Ref         string `json:"$ref,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Format      string `json:"format,omitempty"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	ReadOnly    bool   `json:"readOnly,omitempty"`

	// String
	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`

	// Number
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	// Object
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	AdditionalProperties any                `json:"additionalProperties,omitempty"`

	// Array
	Items    *Schema `json:"items,omitempty"`
	MinItems *int    `json:"minItems,omitempty"`
	MaxItems *int    `json:"maxItems,omitempty"`

	// Union
	OneOf []*Schema `json:"oneOf,omitempty"`

	// Extensions carries x- keywords such as the decorators of a field.
	Extensions map[string]any `json:"-"`
}

// Ptr is a helper for the optional numeric keywords.
func Ptr[T any](v T) *T { return &v }

// Clone deep-copies the schema tree. Extension values are copied shallowly.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := *s
	out.Enum = slices.Clone(s.Enum)
	out.Required = slices.Clone(s.Required)
	out.Extensions = maps.Clone(s.Extensions)
	if s.Properties != nil {
		out.Properties = make(map[string]*Schema, len(s.Properties))
		for k, p := range s.Properties {
			out.Properties[k] = p.Clone()
		}
	}
	out.Items = s.Items.Clone()
	if s.OneOf != nil {
		out.OneOf = make([]*Schema, len(s.OneOf))
		for i, o := range s.OneOf {
			out.OneOf[i] = o.Clone()
		}
	}
	if ap, ok := s.AdditionalProperties.(*Schema); ok {
		out.AdditionalProperties = ap.Clone()
	}
	return &out
}

// AddRequired appends name to Required keeping it sorted and unique.
func (s *Schema) AddRequired(name string) {
	i, found := slices.BinarySearch(s.Required, name)
	if !found {
		s.Required = slices.Insert(s.Required, i, name)
	}
}

// MarshalJSON inlines Extensions next to the regular keywords.
func (s *Schema) MarshalJSON() ([]byte, error) {
	type plain Schema
	b, err := json.Marshal((*plain)(s))
	if err != nil || len(s.Extensions) == 0 {
		return b, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range s.Extensions {
		m[k] = v
	}
	return json.Marshal(m)
}
