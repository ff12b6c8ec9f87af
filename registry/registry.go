// Package registry builds per-purpose decorator processor registries.
//
// A registry maps the dotted FieldPath of every decorated field in a shape to
// the decorator found there and the processor a purpose-specific Table
// resolves for its kind. Kinds with no processor for the purpose are skipped.
// Registries are immutable once built and are shared by concurrent readers; a
// shape change builds a new registry instead of mutating the old one.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/reoring/shapekit/shape"
)

// Purpose is the consumer context a registry is built for.
type Purpose int

const (
	MappingCompilation Purpose = iota
	APISchema
	UpsertPreprocessing
	ReadPostprocessing
	SearchFiltering
)

func (p Purpose) String() string {
	switch p {
	case MappingCompilation:
		return "mapping"
	case APISchema:
		return "api-schema"
	case UpsertPreprocessing:
		return "upsert"
	case ReadPostprocessing:
		return "read"
	case SearchFiltering:
		return "search"
	default:
		return fmt.Sprintf("purpose(%d)", int(p))
	}
}

// Table resolves decorator kinds to processors for one purpose.
type Table[P any] map[shape.DecoratorKind]P

// Register adds or replaces the processor for kind and returns the table.
func (t Table[P]) Register(kind shape.DecoratorKind, p P) Table[P] {
	t[kind] = p
	return t
}

// Lookup returns the processor registered for kind.
func (t Table[P]) Lookup(kind shape.DecoratorKind) (P, bool) {
	p, ok := t[kind]
	return p, ok
}

// Clone copies the table so callers can extend a default table safely.
func (t Table[P]) Clone() Table[P] {
	out := make(Table[P], len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Entry binds a decorated field to its processor.
type Entry[P any] struct {
	Path      string
	Field     string
	Decorator shape.Decorator
	Node      *shape.Node
	Processor P
	// InContainer is true when the field sits below an array or the
	// decorator was declared on an array element type.
	InContainer bool
}

// Registry is the immutable FieldPath -> Entry mapping for one purpose.
type Registry[P any] struct {
	purpose            Purpose
	shapeID            string
	version            int64
	byPath             map[string]Entry[P]
	identityPath       string
	containerDecorated bool
	warnings           []string
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger *slog.Logger
}

// WithLogger routes build warnings to logger.
func WithLogger(l *slog.Logger) Option { return func(o *buildOptions) { o.logger = l } }

// Build walks the shape depth-first and registers every decorator whose kind
// resolves in table. Nested identity decorators are rejected with a warning,
// as are extra processors on one field. Identity decorators take the field
// first; otherwise the first in declaration order wins.
func Build[P any](sh *shape.Shape, purpose Purpose, table Table[P], opts ...Option) *Registry[P] {
	bo := buildOptions{}
	for _, o := range opts {
		o(&bo)
	}
	if bo.logger == nil {
		bo.logger = slog.Default()
	}
	r := &Registry[P]{
		purpose: purpose,
		shapeID: sh.ID,
		version: sh.Version,
		byPath:  make(map[string]Entry[P]),
	}
	warn := func(msg string, args ...any) {
		r.warnings = append(r.warnings, fmt.Sprintf(msg, args...))
	}

	var topLevelIDs []string
	_ = shape.Walk(sh.Root, func(v shape.Visit) error {
		decs := fieldDecorators(v.Node)
		if len(decs) == 0 {
			return nil
		}
		if v.Node.IsContainer() || v.InContainer {
			r.containerDecorated = true
		}
		registered := false
		for _, fd := range decs {
			d := fd.dec
			inContainer := v.InContainer || fd.fromElem
			if d.IsIdentity() {
				if shape.IsNestedPath(v.Path) || inContainer {
					warn("identity decorator %s at nested path %q ignored", d.Kind, v.Path)
					continue
				}
				topLevelIDs = append(topLevelIDs, v.Path)
			}
			p, ok := table.Lookup(d.Kind)
			if !ok {
				continue
			}
			if registered {
				warn("field %q: decorator %s ignored, another %s processor is already registered", v.Path, d.Kind, purpose)
				continue
			}
			r.byPath[v.Path] = Entry[P]{
				Path:        v.Path,
				Field:       v.Name,
				Decorator:   d,
				Node:        v.Node,
				Processor:   p,
				InContainer: inContainer,
			}
			registered = true
		}
		return nil
	})

	switch len(topLevelIDs) {
	case 0:
	case 1:
		r.identityPath = topLevelIDs[0]
	default:
		r.identityPath = topLevelIDs[0]
		warn("shape declares %d top-level identity fields %v", len(topLevelIDs), topLevelIDs)
	}

	for _, w := range r.warnings {
		bo.logger.Warn("registry build", "shape", sh.ID, "version", sh.Version, "purpose", purpose.String(), "warning", w)
	}
	return r
}

type fieldDecorator struct {
	dec      shape.Decorator
	fromElem bool
}

// fieldDecorators lists the decorators of a field node followed by those of
// its array element types, outermost first, with identity decorators moved
// to the front. Arrays add no path segment, so element decorators belong to
// the same FieldPath.
func fieldDecorators(n *shape.Node) []fieldDecorator {
	var out []fieldDecorator
	for _, d := range n.Decorators() {
		out = append(out, fieldDecorator{dec: d})
	}
	for n.Kind() == shape.NodeArray {
		n = n.Elem()
		for _, d := range n.Decorators() {
			out = append(out, fieldDecorator{dec: d, fromElem: true})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].dec.IsIdentity() && !out[j].dec.IsIdentity() })
	return out
}

// Lookup returns the entry registered at path.
func (r *Registry[P]) Lookup(path string) (Entry[P], bool) {
	e, ok := r.byPath[path]
	return e, ok
}

// Entries returns all entries ordered by path.
func (r *Registry[P]) Entries() []Entry[P] {
	out := make([]Entry[P], 0, len(r.byPath))
	for _, e := range r.byPath {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len returns the number of registered fields.
func (r *Registry[P]) Len() int { return len(r.byPath) }

// IdentityPath returns the top-level identity field, if the shape has one.
// Nested identity decorators never qualify.
func (r *Registry[P]) IdentityPath() (string, bool) {
	return r.identityPath, r.identityPath != ""
}

// ContainerDecorated reports whether any decorated field is an object or
// array, or sits inside an array. Consumers use it to decide whether
// container-level handling is needed.
func (r *Registry[P]) ContainerDecorated() bool { return r.containerDecorated }

// Warnings returns the non-fatal problems found while building.
func (r *Registry[P]) Warnings() []string { return append([]string(nil), r.warnings...) }

func (r *Registry[P]) Purpose() Purpose { return r.purpose }
func (r *Registry[P]) ShapeID() string  { return r.shapeID }
func (r *Registry[P]) Version() int64   { return r.version }
