// Package apischema compiles shapes into the JSON Schemas clients see, and
// assembles them into an OpenAPI document.
//
// Two variants exist per shape. Full describes stored entities. Input
// describes request bodies and omits system-managed fields.
package apischema

import (
	"fmt"

	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/jsonschema"
	"github.com/reoring/shapekit/registry"
	"github.com/reoring/shapekit/shape"
)

// Variant selects which client-facing schema is compiled.
type Variant int

const (
	Full Variant = iota
	Input
)

func (v Variant) String() string {
	if v == Input {
		return "input"
	}
	return "full"
}

// Context is handed to a processor for one decorated field.
type Context struct {
	Shape   *shape.Shape
	Path    string
	Node    *shape.Node
	Variant Variant

	c        *compiler
	required bool
}

// Default compiles the node as if it carried no schema decorator.
func (c *Context) Default() (*jsonschema.Schema, error) { return c.c.defaultFor(c.Node, c.Path) }

// MarkRequired lists the field in its parent's required keywords.
func (c *Context) MarkRequired() { c.required = true }

// Processor produces the schema of a decorated field. A nil schema omits the
// field from the variant. Array fields are unwrapped first: Node is the
// innermost element and the result is wrapped back into the array.
type Processor interface {
	Process(ctx *Context, dec shape.Decorator) (*jsonschema.Schema, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx *Context, dec shape.Decorator) (*jsonschema.Schema, error)

func (f ProcessorFunc) Process(ctx *Context, dec shape.Decorator) (*jsonschema.Schema, error) {
	return f(ctx, dec)
}

// BuildRegistry builds the API schema registry for sh from table.
func BuildRegistry(sh *shape.Shape, table registry.Table[Processor], opts ...registry.Option) *registry.Registry[Processor] {
	return registry.Build(sh, registry.APISchema, table, opts...)
}

type compiler struct {
	sh      *shape.Shape
	reg     *registry.Registry[Processor]
	variant Variant
}

// Compile produces the variant schema for sh. Output is deterministic for a
// given shape version and registry.
func Compile(sh *shape.Shape, reg *registry.Registry[Processor], variant Variant) (*jsonschema.Schema, error) {
	if reg.ShapeID() != sh.ID || reg.Version() != sh.Version {
		return nil, fmt.Errorf("apischema: registry for %s@%d does not match shape %s@%d",
			reg.ShapeID(), reg.Version(), sh.ID, sh.Version)
	}
	c := &compiler{sh: sh, reg: reg, variant: variant}
	s, err := c.object(sh.Root, "")
	if err != nil {
		return nil, err
	}
	s.Title = sh.Name
	if variant == Input {
		s.Title = sh.Name + "Input"
	}
	s.Description = sh.Description
	return s, nil
}

func (c *compiler) object(n *shape.Node, path string) (*jsonschema.Schema, error) {
	s := &jsonschema.Schema{Type: "object", Properties: map[string]*jsonschema.Schema{}}
	if c.sh.Closed {
		s.AdditionalProperties = false
	}
	for _, f := range n.Fields() {
		fp := shape.JoinPath(path, f.Name)
		if c.variant == Input && systemManaged(f.Node) {
			continue
		}
		ps, required, err := c.field(f.Node, fp)
		if err != nil {
			return nil, err
		}
		if ps == nil {
			continue
		}
		s.Properties[f.Name] = ps
		if required {
			s.AddRequired(f.Name)
		}
	}
	return s, nil
}

func (c *compiler) field(n *shape.Node, path string) (*jsonschema.Schema, bool, error) {
	entry, ok := c.reg.Lookup(path)
	if !ok {
		s, err := c.defaultFor(n, path)
		return s, false, err
	}
	ctx := &Context{Shape: c.sh, Path: path, Node: innermost(n), Variant: c.variant, c: c}
	s, err := entry.Processor.Process(ctx, entry.Decorator)
	if err != nil {
		if iss, ok := issues.AsIssues(err); ok {
			return nil, false, iss
		}
		iss := issues.At(path, issues.CodeProcessor, "%s schema: %v", entry.Decorator.Kind, err)
		iss[0].Cause = err
		return nil, false, iss
	}
	if s == nil {
		return nil, false, nil
	}
	for w := n; w.Kind() == shape.NodeArray; w = w.Elem() {
		s = &jsonschema.Schema{Type: "array", Items: s}
	}
	return s, ctx.required, nil
}

func (c *compiler) defaultFor(n *shape.Node, path string) (*jsonschema.Schema, error) {
	switch n.Kind() {
	case shape.NodeArray:
		items, err := c.defaultFor(n.Elem(), path)
		if err != nil {
			return nil, err
		}
		return &jsonschema.Schema{Type: "array", Items: items}, nil
	case shape.NodeObject:
		return c.object(n, path)
	default:
		s, ok := primitiveSchema(n.PrimitiveKind())
		if !ok {
			return nil, issues.At(path, issues.CodeInvalidType, "no schema type for %s", n.PrimitiveKind())
		}
		return s, nil
	}
}

func primitiveSchema(k shape.PrimitiveKind) (*jsonschema.Schema, bool) {
	switch k {
	case shape.Boolean:
		return &jsonschema.Schema{Type: "boolean"}, true
	case shape.Byte, shape.Short, shape.Int:
		return &jsonschema.Schema{Type: "integer", Format: "int32"}, true
	case shape.Long:
		return &jsonschema.Schema{Type: "integer", Format: "int64"}, true
	case shape.Float:
		return &jsonschema.Schema{Type: "number", Format: "float"}, true
	case shape.Double:
		return &jsonschema.Schema{Type: "number", Format: "double"}, true
	case shape.Char:
		return &jsonschema.Schema{Type: "string", MinLength: jsonschema.Ptr(1), MaxLength: jsonschema.Ptr(1)}, true
	case shape.String, shape.Keyword, shape.FullText:
		return &jsonschema.Schema{Type: "string"}, true
	case shape.Date:
		// dates are stored as epoch milliseconds
		return &jsonschema.Schema{Type: "integer", Format: "int64"}, true
	}
	return nil, false
}

func systemManaged(n *shape.Node) bool {
	for {
		for _, d := range n.Decorators() {
			if d.SystemManaged() {
				return true
			}
		}
		if n.Kind() != shape.NodeArray {
			return false
		}
		n = n.Elem()
	}
}

func innermost(n *shape.Node) *shape.Node {
	for n.Kind() == shape.NodeArray {
		n = n.Elem()
	}
	return n
}
