// Package upsert rewrites raw JSON entities on their way into the store.
//
// A Transformer walks the input token by token, hands the value of every
// field registered for the upsert purpose to its processor, copies all other
// tokens through, and cuts the stream into one EntityHolder per top-level
// object. The input is never materialized as a tree; only values of
// registered fields are decoded.
package upsert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reoring/shapekit/internal/engine"
	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/registry"
	"github.com/reoring/shapekit/shape"
)

// DefaultTenantIDField is the field injected into entities of shared
// multi-tenancy shapes.
const DefaultTenantIDField = "structuresTenantId"

// EntityHolder is one transformed entity and the id it is stored under.
type EntityHolder struct {
	ID   string
	Body []byte
}

// Limits bounds the accepted input. Zero values disable a check.
type Limits struct {
	MaxDepth int
	MaxBytes int64
	// RejectDuplicateKeys fails the call when an object repeats a key.
	RejectDuplicateKeys bool
}

// Options configures a Transformer.
type Options struct {
	TenantIDField string
	Limits        Limits
	Logger        *slog.Logger
}

// Transformer is bound to one shape version and its upsert registry. It holds
// no per-call state and is safe for concurrent use.
type Transformer struct {
	sh         *shape.Shape
	reg        *registry.Registry[Processor]
	injectors  []registry.Entry[Processor]
	tenantKey  string
	limits     engine.Limits
	logger     *slog.Logger
	identityOK bool
}

// New binds a transformer to sh. The registry must have been built for the
// same shape version and for the upsert purpose.
func New(sh *shape.Shape, reg *registry.Registry[Processor], opts Options) (*Transformer, error) {
	if sh == nil || reg == nil {
		return nil, fmt.Errorf("upsert: shape and registry are required")
	}
	if reg.ShapeID() != sh.ID || reg.Version() != sh.Version {
		return nil, fmt.Errorf("upsert: registry for %s@%d does not match shape %s@%d",
			reg.ShapeID(), reg.Version(), sh.ID, sh.Version)
	}
	if reg.Purpose() != registry.UpsertPreprocessing {
		return nil, fmt.Errorf("upsert: registry purpose is %s", reg.Purpose())
	}
	t := &Transformer{
		sh:        sh,
		reg:       reg,
		tenantKey: opts.TenantIDField,
		limits: engine.Limits{
			MaxDepth:            opts.Limits.MaxDepth,
			MaxBytes:            opts.Limits.MaxBytes,
			RejectDuplicateKeys: opts.Limits.RejectDuplicateKeys,
		},
		logger: opts.Logger,
	}
	if t.tenantKey == "" {
		t.tenantKey = DefaultTenantIDField
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	_, t.identityOK = reg.IdentityPath()
	for _, e := range reg.Entries() {
		if _, ok := e.Processor.(AbsentInjector); ok && !shape.IsNestedPath(e.Path) && !e.InContainer {
			t.injectors = append(t.injectors, e)
		}
	}
	return t, nil
}

// Shape returns the shape version the transformer is bound to.
func (t *Transformer) Shape() *shape.Shape { return t.sh }

// Transform rewrites a single JSON object and returns its holder.
func (t *Transformer) Transform(ctx context.Context, input []byte, ectx *Context) (EntityHolder, error) {
	holders, err := t.run(ctx, input, ectx, false)
	if err != nil {
		return EntityHolder{}, err
	}
	if len(holders) != 1 {
		return EntityHolder{}, issues.At("", issues.CodeInvalidType, "expected exactly one entity, found %d", len(holders))
	}
	return holders[0], nil
}

// TransformArray rewrites a JSON array of objects. Holders are returned in
// input order. Any failure aborts the whole call.
func (t *Transformer) TransformArray(ctx context.Context, input []byte, ectx *Context) ([]EntityHolder, error) {
	return t.run(ctx, input, ectx, true)
}

func (t *Transformer) run(ctx context.Context, input []byte, ectx *Context, arrayMode bool) ([]EntityHolder, error) {
	if !t.identityOK {
		return nil, issues.At("", issues.CodeNoIDField, "no id field found for shape %s", t.sh.ID)
	}
	if ectx == nil {
		ectx = &Context{}
	}
	if t.sh.Shared() && ectx.TenantID == "" {
		return nil, issues.At("", issues.CodeMissingTenant, "tenant id is required for shared multi-tenancy shape %s", t.sh.ID)
	}
	if t.limits.MaxBytes > 0 && int64(len(input)) > t.limits.MaxBytes {
		return nil, issues.At("", issues.CodeTruncated, "input of %d bytes exceeds limit of %d", len(input), t.limits.MaxBytes)
	}
	m := newMachine(ctx, t, engine.WithLimits(engine.NewBytes(input), t.limits), ectx, arrayMode)
	holders, err := m.run()
	if err != nil {
		t.logger.Debug("upsert transform failed", "shape", t.sh.ID, "version", t.sh.Version, "entities", len(m.holders), "error", err)
		return nil, err
	}
	return holders, nil
}
