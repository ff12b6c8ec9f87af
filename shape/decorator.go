package shape

// DecoratorKind names a decorator behavior.
type DecoratorKind string

// Built-in decorator kinds.
const (
	KindIdentity              DecoratorKind = "Identity"
	KindAutoGeneratedIdentity DecoratorKind = "AutoGeneratedIdentity"
	KindCaseInsensitive       DecoratorKind = "CaseInsensitive"
	KindText                  DecoratorKind = "Text"
	KindNotIndexed            DecoratorKind = "NotIndexed"
	KindFlattened             DecoratorKind = "Flattened"
	KindCreatedTime           DecoratorKind = "CreatedTime"
	KindUpdatedTime           DecoratorKind = "UpdatedTime"
	KindTenantScoped          DecoratorKind = "TenantScoped"
)

// Decorator tags a field with a behavior kind plus kind-specific parameters.
// A Decorator is owned by the node declaring it; params are copied on attach.
type Decorator struct {
	Kind   DecoratorKind
	Params map[string]any
}

// Identity marks the entity id field.
func Identity() Decorator { return Decorator{Kind: KindIdentity} }

// AutoGeneratedIdentity marks an id field whose value is generated when blank.
func AutoGeneratedIdentity() Decorator { return Decorator{Kind: KindAutoGeneratedIdentity} }

// CaseInsensitive marks a field matched exactly but ignoring case.
func CaseInsensitive() Decorator { return Decorator{Kind: KindCaseInsensitive} }

// Text marks a full-text field.
func Text() Decorator { return Decorator{Kind: KindText} }

// NotIndexed marks a field stored but not searchable.
func NotIndexed() Decorator { return Decorator{Kind: KindNotIndexed} }

// Flattened stores an object as a flat keyword map.
func Flattened() Decorator { return Decorator{Kind: KindFlattened} }

// CreatedTime is set once, on the first write of an entity.
func CreatedTime() Decorator { return Decorator{Kind: KindCreatedTime} }

// UpdatedTime is set on every write of an entity.
func UpdatedTime() Decorator { return Decorator{Kind: KindUpdatedTime} }

// TenantScoped restricts searches on the field to the caller's tenant.
func TenantScoped() Decorator { return Decorator{Kind: KindTenantScoped} }

// Custom builds a decorator of an arbitrary kind.
func Custom(kind DecoratorKind, params map[string]any) Decorator {
	return Decorator{Kind: kind, Params: params}
}

// IsIdentity reports whether the decorator designates the entity id.
func (d Decorator) IsIdentity() bool {
	return d.Kind == KindIdentity || d.Kind == KindAutoGeneratedIdentity
}

// SystemManaged reports whether the field value is owned by the system rather
// than the client.
func (d Decorator) SystemManaged() bool {
	return d.Kind == KindCreatedTime || d.Kind == KindUpdatedTime
}

// Param returns a parameter value.
func (d Decorator) Param(name string) (any, bool) {
	v, ok := d.Params[name]
	return v, ok
}

// clone deep-copies params so the decorator is not shared with the caller.
func (d Decorator) clone() Decorator {
	if d.Params == nil {
		return d
	}
	return Decorator{Kind: d.Kind, Params: copyValue(d.Params).(map[string]any)}
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = copyValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = copyValue(e)
		}
		return s
	default:
		return v
	}
}
