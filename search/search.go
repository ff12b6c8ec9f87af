// Package search builds the filter clauses that scope queries on a shape to
// one caller. Clauses use the Elasticsearch query DSL and are meant to be
// placed in the filter context of a bool query.
package search

import (
	"fmt"

	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/registry"
	"github.com/reoring/shapekit/shape"
	"github.com/reoring/shapekit/upsert"
)

// Clause is one query DSL object.
type Clause map[string]any

// Term matches documents whose field equals value exactly.
func Term(field string, value any) Clause {
	return Clause{"term": map[string]any{field: value}}
}

// Context is handed to a processor for one decorated field.
type Context struct {
	Shape *shape.Shape
	Path  string
	Node  *shape.Node
	Exec  *upsert.Context
}

// Processor produces the filter clause of a decorated field. A nil clause
// adds nothing.
type Processor interface {
	Filter(ctx *Context, dec shape.Decorator) (Clause, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx *Context, dec shape.Decorator) (Clause, error)

func (f ProcessorFunc) Filter(ctx *Context, dec shape.Decorator) (Clause, error) { return f(ctx, dec) }

func tenantTerm(ctx *Context, dec shape.Decorator) (Clause, error) {
	if ctx.Exec == nil || ctx.Exec.TenantID == "" {
		return nil, issues.At(ctx.Path, issues.CodeMissingTenant, "%s field requires a tenant id to search %s", dec.Kind, ctx.Shape.ID)
	}
	return Term(ctx.Path, ctx.Exec.TenantID), nil
}

// DefaultTable returns the built-in search filtering processors.
func DefaultTable() registry.Table[Processor] {
	return registry.Table[Processor]{}.
		Register(shape.KindTenantScoped, ProcessorFunc(tenantTerm))
}

// BuildRegistry builds the search filtering registry for sh from table.
func BuildRegistry(sh *shape.Shape, table registry.Table[Processor], opts ...registry.Option) *registry.Registry[Processor] {
	return registry.Build(sh, registry.SearchFiltering, table, opts...)
}

// Options configures New.
type Options struct {
	// TenantIDField is the field shared shapes are filtered on.
	// Default: upsert.DefaultTenantIDField
	TenantIDField string
}

// Filter is bound to one shape version. It is safe for concurrent use.
type Filter struct {
	sh        *shape.Shape
	reg       *registry.Registry[Processor]
	tenantKey string
}

// New binds a filter to sh and its search filtering registry.
func New(sh *shape.Shape, reg *registry.Registry[Processor], opts Options) (*Filter, error) {
	if sh == nil || reg == nil {
		return nil, fmt.Errorf("search: shape and registry are required")
	}
	if reg.ShapeID() != sh.ID || reg.Version() != sh.Version {
		return nil, fmt.Errorf("search: registry for %s@%d does not match shape %s@%d",
			reg.ShapeID(), reg.Version(), sh.ID, sh.Version)
	}
	if reg.Purpose() != registry.SearchFiltering {
		return nil, fmt.Errorf("search: registry purpose is %s", reg.Purpose())
	}
	f := &Filter{sh: sh, reg: reg, tenantKey: opts.TenantIDField}
	if f.tenantKey == "" {
		f.tenantKey = upsert.DefaultTenantIDField
	}
	return f, nil
}

// Clauses returns the filters for one caller, ordered by field path. Shared
// shapes always filter on the tenant field first.
func (f *Filter) Clauses(ectx *upsert.Context) ([]Clause, error) {
	var out []Clause
	if f.sh.Shared() {
		if ectx == nil || ectx.TenantID == "" {
			return nil, issues.At("", issues.CodeMissingTenant, "tenant id is required for shared multi-tenancy shape %s", f.sh.ID)
		}
		out = append(out, Term(f.tenantKey, ectx.TenantID))
	}
	for _, e := range f.reg.Entries() {
		c, err := e.Processor.Filter(&Context{Shape: f.sh, Path: e.Path, Node: e.Node, Exec: ectx}, e.Decorator)
		if err != nil {
			return nil, err
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// Scope wraps query in a bool query carrying the caller's filters. A nil
// query matches every document the caller may see.
func (f *Filter) Scope(query Clause, ectx *upsert.Context) (Clause, error) {
	clauses, err := f.Clauses(ectx)
	if err != nil {
		return nil, err
	}
	if len(clauses) == 0 {
		if query == nil {
			return Clause{"match_all": map[string]any{}}, nil
		}
		return query, nil
	}
	b := map[string]any{"filter": clauses}
	if query != nil {
		b["must"] = []Clause{query}
	}
	return Clause{"bool": b}, nil
}
