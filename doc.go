// Package shapekit ingests and describes records of operator-defined shapes.
//
// A shape (package shape) is a named, versioned tree of fields whose nodes
// carry decorators such as Identity, CaseInsensitive or CreatedTime. For each
// purpose a registry (package registry) maps decorated field paths to the
// processor that handles them, and the engines consume those registries:
//
//   - upsert rewrites raw JSON in a single streaming pass into (id, body) pairs
//   - mapping compiles the storage index mapping
//   - apischema compiles client-facing JSON Schemas and the OpenAPI document
//   - search scopes queries to the caller's tenant
//   - readback turns stored entities into the client view
//   - bulk batches transformed entities per shape into a Sink
//
// Service ties them together around a copy-on-write shape table with
// compiled artifacts memoized per shape version:
//
//	svc, _ := shapekit.New(shapekit.Options{Sink: sink})
//	_ = svc.PutShape(sh)
//	h, err := svc.Upsert(shapekit.WithTenant(ctx, "acme"), sh.ID, body, nil)
package shapekit
