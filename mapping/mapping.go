// Package mapping compiles shapes into Elasticsearch-style index mappings.
//
// Every node compiles to a native default (objects to object properties,
// arrays to their element, primitives through a fixed type table). A field
// registered for the mapping purpose is instead handed to its processor,
// which may start from the default through Context.Default.
package mapping

import (
	"fmt"
	"log/slog"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/registry"
	"github.com/reoring/shapekit/shape"
)

// Dynamic mapping modes.
const (
	DynamicStrict = "strict"
	DynamicFalse  = "false"
)

// DefaultIndexPrefix is prepended to shape ids to name their index.
const DefaultIndexPrefix = "struct_"

// LowercaseNormalizer is the normalizer used for case-insensitive keywords.
const LowercaseNormalizer = "lowercase"

// Property is one field mapping.
type Property struct {
	Type       string               `json:"type,omitempty"`
	Format     string               `json:"format,omitempty"`
	Index      *bool                `json:"index,omitempty"`
	Enabled    *bool                `json:"enabled,omitempty"`
	Normalizer string               `json:"normalizer,omitempty"`
	Dynamic    string               `json:"dynamic,omitempty"`
	Properties map[string]*Property `json:"properties,omitempty"`
	Fields     map[string]*Property `json:"fields,omitempty"`
}

// Mapping is the root of an index mapping.
type Mapping struct {
	Dynamic    string               `json:"dynamic"`
	Properties map[string]*Property `json:"properties"`

	normalizers map[string]struct{}
}

// Normalizers lists the custom normalizers the mapping refers to, sorted.
func (m *Mapping) Normalizers() []string {
	out := make([]string, 0, len(m.normalizers))
	for n := range m.normalizers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// JSON encodes the mapping.
func (m *Mapping) JSON() ([]byte, error) { return json.Marshal(m) }

// Context is handed to a processor for one decorated field.
type Context struct {
	Shape *shape.Shape
	Path  string
	Node  *shape.Node

	c *compiler
}

// Default compiles the node as if it carried no mapping decorator. Children
// of objects are still compiled with their own decorators.
func (c *Context) Default() (*Property, error) {
	return c.c.defaultFor(c.Node, c.Path)
}

// UseNormalizer records that the mapping refers to a custom normalizer.
func (c *Context) UseNormalizer(name string) { c.c.normalizers[name] = struct{}{} }

// Processor produces the mapping of a decorated field. Array fields are
// unwrapped first: Node is the innermost element type.
type Processor interface {
	Process(ctx *Context, dec shape.Decorator) (*Property, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx *Context, dec shape.Decorator) (*Property, error)

func (f ProcessorFunc) Process(ctx *Context, dec shape.Decorator) (*Property, error) {
	return f(ctx, dec)
}

// Options configures Compile.
type Options struct {
	// TenantIDField is added as a keyword to shared multi-tenancy shapes.
	TenantIDField string
	Logger        *slog.Logger
}

// BuildRegistry builds the mapping registry for sh from table.
func BuildRegistry(sh *shape.Shape, table registry.Table[Processor], opts ...registry.Option) *registry.Registry[Processor] {
	return registry.Build(sh, registry.MappingCompilation, table, opts...)
}

type compiler struct {
	sh          *shape.Shape
	reg         *registry.Registry[Processor]
	normalizers map[string]struct{}
}

// Compile produces the storage mapping for sh. The result depends only on
// the shape version and the registry, so callers may cache it.
func Compile(sh *shape.Shape, reg *registry.Registry[Processor], opts Options) (*Mapping, error) {
	if reg.ShapeID() != sh.ID || reg.Version() != sh.Version {
		return nil, fmt.Errorf("mapping: registry for %s@%d does not match shape %s@%d",
			reg.ShapeID(), reg.Version(), sh.ID, sh.Version)
	}
	c := &compiler{sh: sh, reg: reg, normalizers: make(map[string]struct{})}
	props, err := c.fields(sh.Root, "")
	if err != nil {
		return nil, err
	}
	if sh.Shared() {
		name := opts.TenantIDField
		if name == "" {
			name = "structuresTenantId"
		}
		if _, clash := props[name]; clash {
			return nil, issues.At(name, issues.CodeDuplicateField, "field collides with the tenant id field")
		}
		props[name] = &Property{Type: "keyword"}
	}
	m := &Mapping{Dynamic: DynamicFalse, Properties: props, normalizers: c.normalizers}
	if sh.Closed {
		m.Dynamic = DynamicStrict
	}
	return m, nil
}

func (c *compiler) fields(obj *shape.Node, path string) (map[string]*Property, error) {
	props := make(map[string]*Property)
	for _, f := range obj.Fields() {
		p, err := c.field(f.Node, shape.JoinPath(path, f.Name))
		if err != nil {
			return nil, err
		}
		props[f.Name] = p
	}
	return props, nil
}

func (c *compiler) field(n *shape.Node, path string) (*Property, error) {
	entry, ok := c.reg.Lookup(path)
	if !ok {
		return c.defaultFor(n, path)
	}
	ctx := &Context{Shape: c.sh, Path: path, Node: innermost(n), c: c}
	p, err := entry.Processor.Process(ctx, entry.Decorator)
	if err != nil {
		if iss, ok := issues.AsIssues(err); ok {
			return nil, iss
		}
		iss := issues.At(path, issues.CodeProcessor, "%s mapping: %v", entry.Decorator.Kind, err)
		iss[0].Cause = err
		return nil, iss
	}
	if p == nil {
		return nil, issues.At(path, issues.CodeProcessor, "%s mapping produced no property", entry.Decorator.Kind)
	}
	return p, nil
}

func (c *compiler) defaultFor(n *shape.Node, path string) (*Property, error) {
	switch n.Kind() {
	case shape.NodeArray:
		return c.defaultFor(innermost(n), path)
	case shape.NodeObject:
		props, err := c.fields(n, path)
		if err != nil {
			return nil, err
		}
		return &Property{Type: "object", Properties: props}, nil
	default:
		t, ok := primitiveTypes[n.PrimitiveKind()]
		if !ok {
			return nil, issues.At(path, issues.CodeInvalidType, "no storage type for %s", n.PrimitiveKind())
		}
		p := &Property{Type: t}
		if t == "date" {
			p.Format = DateFormat
		}
		return p, nil
	}
}

// DateFormat accepts epoch milliseconds and ISO-8601 strings.
const DateFormat = "epoch_millis||strict_date_optional_time"

var primitiveTypes = map[shape.PrimitiveKind]string{
	shape.Boolean:  "boolean",
	shape.Byte:     "byte",
	shape.Short:    "short",
	shape.Int:      "integer",
	shape.Long:     "long",
	shape.Float:    "float",
	shape.Double:   "double",
	shape.Char:     "keyword",
	shape.String:   "keyword",
	shape.Keyword:  "keyword",
	shape.FullText: "text",
	shape.Date:     "date",
}

func innermost(n *shape.Node) *shape.Node {
	for n.Kind() == shape.NodeArray {
		n = n.Elem()
	}
	return n
}

// IndexName returns the index a shape's entities are stored in.
func IndexName(prefix, shapeID string) string {
	if prefix == "" {
		prefix = DefaultIndexPrefix
	}
	return prefix + shapeID
}
