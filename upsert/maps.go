package upsert

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/shape"
)

// MapEntity is an already-decoded entity and its id.
type MapEntity struct {
	ID  string
	Doc map[string]any
}

// TransformMap applies the top-level upsert processors to an entity that is
// already decoded. The input map is not modified. Identity processors run
// even when the field is absent so generated ids work for maps too.
func (t *Transformer) TransformMap(ctx context.Context, doc map[string]any, ectx *Context) (MapEntity, error) {
	if !t.identityOK {
		return MapEntity{}, issues.At("", issues.CodeNoIDField, "no id field found for shape %s", t.sh.ID)
	}
	if ectx == nil {
		ectx = &Context{}
	}
	if t.sh.Shared() && ectx.TenantID == "" {
		return MapEntity{}, issues.At("", issues.CodeMissingTenant, "tenant id is required for shared multi-tenancy shape %s", t.sh.ID)
	}
	out := maps.Clone(doc)
	if out == nil {
		out = map[string]any{}
	}
	if t.sh.Shared() {
		if v, ok := out[t.tenantKey]; ok && v != ectx.TenantID {
			return MapEntity{}, issues.At(t.tenantKey, issues.CodeTenantMismatch, "field %q must match the caller's tenant", t.tenantKey)
		}
	}
	var id string
	for _, e := range t.reg.Entries() {
		if shape.IsNestedPath(e.Path) || e.InContainer {
			continue
		}
		raw, present := out[e.Path]
		if !present && !e.Decorator.IsIdentity() {
			inj, ok := e.Processor.(AbsentInjector)
			if !ok {
				continue
			}
			v, err := inj.Inject(ctx, t.sh, e.Field, e.Decorator, ectx)
			if err != nil {
				return MapEntity{}, issues.At(e.Path, issues.CodeProcessor, "%s processor: %v", e.Decorator.Kind, err)
			}
			if v != nil {
				out[e.Path] = v
			}
			continue
		}
		input, err := mapValue(e.Processor.Accepts(), raw)
		if err != nil {
			return MapEntity{}, issues.At(e.Path, issues.CodeInvalidType, "%v", err)
		}
		v, err := e.Processor.Process(ctx, t.sh, e.Field, e.Decorator, input, ectx)
		if err != nil {
			if iss, ok := issues.AsIssues(err); ok {
				return MapEntity{}, iss
			}
			return MapEntity{}, issues.At(e.Path, issues.CodeProcessor, "%s processor: %v", e.Decorator.Kind, err)
		}
		out[e.Path] = v
		if e.Decorator.IsIdentity() {
			s, _ := v.(string)
			if strings.TrimSpace(s) == "" {
				return MapEntity{}, issues.At(e.Path, issues.CodeBlankID, "id field %q cannot be null or blank", e.Path)
			}
			if id != "" {
				return MapEntity{}, issues.At(e.Path, issues.CodeDuplicateID, "found multiple id fields in entity")
			}
			id = s
		}
	}
	if id == "" {
		return MapEntity{}, issues.At("", issues.CodeMissingID, "could not find id for entity")
	}
	if t.sh.Shared() {
		out[t.tenantKey] = ectx.TenantID
		id = ectx.TenantID + "-" + id
	}
	return MapEntity{ID: id, Doc: out}, nil
}

// TransformMaps applies TransformMap to each entity; any failure aborts.
func (t *Transformer) TransformMaps(ctx context.Context, docs []map[string]any, ectx *Context) ([]MapEntity, error) {
	out := make([]MapEntity, 0, len(docs))
	for i, d := range docs {
		e, err := t.TransformMap(ctx, d, ectx)
		if err != nil {
			if iss, ok := issues.AsIssues(err); ok {
				iss[0].Params = map[string]any{"entity": i}
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func mapValue(rep Representation, v any) (any, error) {
	if rep == AcceptAny {
		return v, nil
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case json.Number:
		return string(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		return nil, fmt.Errorf("expected a scalar value, found %T", v)
	}
}
