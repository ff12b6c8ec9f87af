package shapekit

import (
	"context"

	"github.com/reoring/shapekit/upsert"
)

// ctxKey is a unique key per type parameter T for context storage.
type ctxKey[T any] struct{}

func withValue[T any](ctx context.Context, v T) context.Context {
	return context.WithValue(ctx, ctxKey[T]{}, v)
}

func valueOf[T any](ctx context.Context) (T, bool) {
	v, ok := ctx.Value(ctxKey[T]{}).(T)
	return v, ok
}

type tenantID string

// WithTenant stores the caller's tenant id in ctx. Service calls given a nil
// *upsert.Context build one from it.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return withValue(ctx, tenantID(tenant))
}

// Tenant returns the tenant id stored by WithTenant.
func Tenant(ctx context.Context) (string, bool) {
	t, ok := valueOf[tenantID](ctx)
	return string(t), ok
}

// WithExecContext stores a full execution context in ctx. It takes
// precedence over WithTenant.
func WithExecContext(ctx context.Context, ectx *upsert.Context) context.Context {
	return withValue(ctx, ectx)
}

// execContext resolves the execution context of a call: explicit argument,
// then WithExecContext, then WithTenant.
func execContext(ctx context.Context, ectx *upsert.Context) *upsert.Context {
	if ectx != nil {
		return ectx
	}
	if e, ok := valueOf[*upsert.Context](ctx); ok && e != nil {
		return e
	}
	t, _ := Tenant(ctx)
	return &upsert.Context{TenantID: t}
}
