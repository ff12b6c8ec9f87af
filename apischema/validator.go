package apischema

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/jsonschema"
)

// Validator checks request bodies against an input schema. It is used to
// reject undeclared fields of closed shapes before the upsert transform.
type Validator struct {
	one  *gojsonschema.Schema
	many *gojsonschema.Schema
}

// NewValidator compiles s for single entities and for arrays of them.
func NewValidator(s *jsonschema.Schema) (*Validator, error) {
	one, err := load(s)
	if err != nil {
		return nil, err
	}
	many, err := load(&jsonschema.Schema{Type: "array", Items: s})
	if err != nil {
		return nil, err
	}
	return &Validator{one: one, many: many}, nil
}

// AcceptReadOnly returns a copy of input that also declares, as optional
// properties, the read-only fields full has and input omits. A client that
// writes back an entity it read then passes on closed shapes.
func AcceptReadOnly(input, full *jsonschema.Schema) *jsonschema.Schema {
	out := input.Clone()
	mergeReadOnly(out, full)
	return out
}

func mergeReadOnly(dst, full *jsonschema.Schema) {
	if dst == nil || full == nil {
		return
	}
	for name, fp := range full.Properties {
		dp, ok := dst.Properties[name]
		if ok {
			mergeReadOnly(dp, fp)
			continue
		}
		if readOnly(fp) {
			if dst.Properties == nil {
				dst.Properties = map[string]*jsonschema.Schema{}
			}
			dst.Properties[name] = fp.Clone()
		}
	}
	mergeReadOnly(dst.Items, full.Items)
}

func readOnly(s *jsonschema.Schema) bool {
	for ; s != nil; s = s.Items {
		if s.ReadOnly {
			return true
		}
	}
	return false
}

func load(s *jsonschema.Schema) (*gojsonschema.Schema, error) {
	root := s.Clone()
	root.SchemaURI = jsonschema.Draft
	b, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("apischema: encode schema: %w", err)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return nil, fmt.Errorf("apischema: compile schema: %w", err)
	}
	return compiled, nil
}

// Validate checks a single JSON entity.
func (v *Validator) Validate(doc []byte) error { return validate(v.one, doc) }

// ValidateArray checks a JSON array of entities.
func (v *Validator) ValidateArray(doc []byte) error { return validate(v.many, doc) }

func validate(s *gojsonschema.Schema, doc []byte) error {
	res, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return issues.Issues{{Code: issues.CodeParseError, Message: fmt.Sprintf("malformed JSON: %v", err), Cause: err}}
	}
	if res.Valid() {
		return nil
	}
	var iss issues.Issues
	for _, re := range res.Errors() {
		iss = issues.Append(iss, toIssue(re))
	}
	return iss
}

func toIssue(re gojsonschema.ResultError) issues.Issue {
	path := re.Field()
	if path == "(root)" {
		path = ""
	}
	path = strings.TrimPrefix(path, "(root).")
	code := issues.CodeInvalidType
	if re.Type() == "additional_property_not_allowed" {
		code = issues.CodeUnknownKey
		if p, ok := re.Details()["property"].(string); ok {
			if path == "" {
				path = p
			} else {
				path += "." + p
			}
		}
	}
	return issues.Issue{
		Path:    path,
		Code:    code,
		Message: re.Description(),
		Params:  map[string]any{"rule": re.Type()},
	}
}
