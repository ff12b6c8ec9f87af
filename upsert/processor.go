package upsert

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reoring/shapekit/registry"
	"github.com/reoring/shapekit/shape"
)

// Representation selects how a field value is decoded before it reaches a
// processor.
type Representation int

const (
	// AcceptString decodes scalars to their string form. Objects and arrays
	// are rejected.
	AcceptString Representation = iota
	// AcceptAny decodes the value to map[string]any, []any, string,
	// json.Number, bool or nil.
	AcceptAny
)

// Context carries per-call values available to processors.
type Context struct {
	// TenantID is required for shapes using shared multi-tenancy.
	TenantID string
	Values   map[string]any
}

// Processor rewrites the value of a decorated field during upsert. A nil
// result is written as an explicit JSON null.
type Processor interface {
	Accepts() Representation
	Process(ctx context.Context, sh *shape.Shape, field string, dec shape.Decorator, value any, ectx *Context) (any, error)
}

// AbsentInjector is implemented by processors that supply a value when a
// top-level field is missing from the entity. Inject runs just before the
// entity's outermost object closes; a nil result writes nothing.
type AbsentInjector interface {
	Inject(ctx context.Context, sh *shape.Shape, field string, dec shape.Decorator, ectx *Context) (any, error)
}

// Func adapts a plain function into a Processor.
func Func(rep Representation, fn func(ctx context.Context, sh *shape.Shape, field string, dec shape.Decorator, value any, ectx *Context) (any, error)) Processor {
	return funcProcessor{rep: rep, fn: fn}
}

type funcProcessor struct {
	rep Representation
	fn  func(context.Context, *shape.Shape, string, shape.Decorator, any, *Context) (any, error)
}

func (f funcProcessor) Accepts() Representation { return f.rep }
func (f funcProcessor) Process(ctx context.Context, sh *shape.Shape, field string, dec shape.Decorator, value any, ectx *Context) (any, error) {
	return f.fn(ctx, sh, field, dec, value, ectx)
}

// IdentityProcessor passes the id value through. The transformer enforces
// that it is a non-blank string.
type IdentityProcessor struct{}

func (IdentityProcessor) Accepts() Representation { return AcceptString }

func (IdentityProcessor) Process(_ context.Context, _ *shape.Shape, _ string, _ shape.Decorator, value any, _ *Context) (any, error) {
	return value, nil
}

// AutoGeneratedIdentityProcessor fills a null or blank id with a generated one.
type AutoGeneratedIdentityProcessor struct {
	NewID func() string
}

func (AutoGeneratedIdentityProcessor) Accepts() Representation { return AcceptString }

func (p AutoGeneratedIdentityProcessor) Process(_ context.Context, _ *shape.Shape, _ string, _ shape.Decorator, value any, _ *Context) (any, error) {
	if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
		return s, nil
	}
	if p.NewID != nil {
		return p.NewID(), nil
	}
	return uuid.NewString(), nil
}

// TimestampProcessor writes epoch milliseconds. With Always unset a value the
// client supplied is kept, which gives created-time semantics across
// read-modify-write cycles.
type TimestampProcessor struct {
	Always bool
	Now    func() time.Time
}

func (TimestampProcessor) Accepts() Representation { return AcceptAny }

func (p TimestampProcessor) Process(_ context.Context, _ *shape.Shape, _ string, _ shape.Decorator, value any, _ *Context) (any, error) {
	if !p.Always && value != nil {
		return value, nil
	}
	return p.millis(), nil
}

func (p TimestampProcessor) Inject(context.Context, *shape.Shape, string, shape.Decorator, *Context) (any, error) {
	return p.millis(), nil
}

func (p TimestampProcessor) millis() int64 {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().UnixMilli()
}

// TableOption configures DefaultTable.
type TableOption func(*tableConfig)

type tableConfig struct {
	now   func() time.Time
	newID func() string
}

// WithClock sets the time source used by timestamp processors.
func WithClock(now func() time.Time) TableOption { return func(c *tableConfig) { c.now = now } }

// WithIDGenerator sets the generator used for blank auto-generated ids.
func WithIDGenerator(fn func() string) TableOption { return func(c *tableConfig) { c.newID = fn } }

// DefaultTable returns the built-in upsert processors. Callers may Clone and
// Register additional kinds.
func DefaultTable(opts ...TableOption) registry.Table[Processor] {
	cfg := tableConfig{now: time.Now, newID: uuid.NewString}
	for _, o := range opts {
		o(&cfg)
	}
	return registry.Table[Processor]{}.
		Register(shape.KindIdentity, IdentityProcessor{}).
		Register(shape.KindAutoGeneratedIdentity, AutoGeneratedIdentityProcessor{NewID: cfg.newID}).
		Register(shape.KindCreatedTime, TimestampProcessor{Now: cfg.now}).
		Register(shape.KindUpdatedTime, TimestampProcessor{Always: true, Now: cfg.now})
}

// BuildRegistry builds the upsert registry for sh from table.
func BuildRegistry(sh *shape.Shape, table registry.Table[Processor], opts ...registry.Option) *registry.Registry[Processor] {
	return registry.Build(sh, registry.UpsertPreprocessing, table, opts...)
}
