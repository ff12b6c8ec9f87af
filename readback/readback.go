// Package readback prepares stored entities for clients: it hides entities
// that belong to another tenant and removes fields clients never see.
package readback

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/registry"
	"github.com/reoring/shapekit/shape"
	"github.com/reoring/shapekit/upsert"
)

// ErrHidden is returned by a processor when the caller may not see the
// entity. Present turns it into a not-found error.
var ErrHidden = errors.New("readback: entity hidden from caller")

// Context is handed to a processor for one decorated field.
type Context struct {
	Shape *shape.Shape
	Path  string
	Node  *shape.Node
	Exec  *upsert.Context
}

// Processor rewrites a stored value. Returning keep=false drops the field.
type Processor interface {
	Process(ctx *Context, dec shape.Decorator, value any) (out any, keep bool, err error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx *Context, dec shape.Decorator, value any) (any, bool, error)

func (f ProcessorFunc) Process(ctx *Context, dec shape.Decorator, value any) (any, bool, error) {
	return f(ctx, dec, value)
}

func tenantScoped(ctx *Context, _ shape.Decorator, value any) (any, bool, error) {
	if ctx.Exec == nil || ctx.Exec.TenantID == "" || value != ctx.Exec.TenantID {
		return nil, false, ErrHidden
	}
	return value, true, nil
}

// DefaultTable returns the built-in read processors.
func DefaultTable() registry.Table[Processor] {
	return registry.Table[Processor]{}.
		Register(shape.KindTenantScoped, ProcessorFunc(tenantScoped))
}

// BuildRegistry builds the read postprocessing registry for sh from table.
func BuildRegistry(sh *shape.Shape, table registry.Table[Processor], opts ...registry.Option) *registry.Registry[Processor] {
	return registry.Build(sh, registry.ReadPostprocessing, table, opts...)
}

// Options configures New.
type Options struct {
	// Default: upsert.DefaultTenantIDField
	TenantIDField string
}

// Reader is bound to one shape version. It is safe for concurrent use.
type Reader struct {
	sh        *shape.Shape
	reg       *registry.Registry[Processor]
	tenantKey string
}

// New binds a reader to sh and its read postprocessing registry.
func New(sh *shape.Shape, reg *registry.Registry[Processor], opts Options) (*Reader, error) {
	if sh == nil || reg == nil {
		return nil, fmt.Errorf("readback: shape and registry are required")
	}
	if reg.ShapeID() != sh.ID || reg.Version() != sh.Version {
		return nil, fmt.Errorf("readback: registry for %s@%d does not match shape %s@%d",
			reg.ShapeID(), reg.Version(), sh.ID, sh.Version)
	}
	if reg.Purpose() != registry.ReadPostprocessing {
		return nil, fmt.Errorf("readback: registry purpose is %s", reg.Purpose())
	}
	r := &Reader{sh: sh, reg: reg, tenantKey: opts.TenantIDField}
	if r.tenantKey == "" {
		r.tenantKey = upsert.DefaultTenantIDField
	}
	return r, nil
}

// Present returns the client view of a stored entity. The input is not
// modified. An entity of another tenant yields a not-found error so its
// existence is not revealed.
func (r *Reader) Present(id string, doc map[string]any, ectx *upsert.Context) (map[string]any, error) {
	out := maps.Clone(doc)
	if out == nil {
		out = map[string]any{}
	}
	if r.sh.Shared() {
		if ectx == nil || ectx.TenantID == "" {
			return nil, issues.At("", issues.CodeMissingTenant, "tenant id is required for shared multi-tenancy shape %s", r.sh.ID)
		}
		if out[r.tenantKey] != ectx.TenantID {
			return nil, &issues.NotFoundError{Kind: "entity", ID: id}
		}
		delete(out, r.tenantKey)
	}
	for _, e := range r.reg.Entries() {
		if e.InContainer {
			continue
		}
		v, ok := lookup(out, e.Path)
		if !ok {
			continue
		}
		nv, keep, err := e.Processor.Process(&Context{Shape: r.sh, Path: e.Path, Node: e.Node, Exec: ectx}, e.Decorator, v)
		if errors.Is(err, ErrHidden) {
			return nil, &issues.NotFoundError{Kind: "entity", ID: id}
		}
		if err != nil {
			return nil, issues.At(e.Path, issues.CodeProcessor, "%s processor: %v", e.Decorator.Kind, err)
		}
		out = store(out, strings.Split(e.Path, shape.PathSeparator), nv, keep)
	}
	return out, nil
}

func lookup(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, shape.PathSeparator)
	cur := doc
	for i, p := range parts {
		v, ok := cur[p]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		if cur, ok = v.(map[string]any); !ok {
			return nil, false
		}
	}
	return nil, false
}

// store writes or deletes the value at parts, copying every map on the way
// so maps shared with the caller's input stay untouched.
func store(doc map[string]any, parts []string, v any, keep bool) map[string]any {
	out := maps.Clone(doc)
	if len(parts) == 1 {
		if keep {
			out[parts[0]] = v
		} else {
			delete(out, parts[0])
		}
		return out
	}
	child, _ := out[parts[0]].(map[string]any)
	out[parts[0]] = store(child, parts[1:], v, keep)
	return out
}
