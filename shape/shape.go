// Package shape defines the TypeNode model: immutable trees of object, array
// and primitive nodes whose fields carry decorators, and the Shape that names
// and versions such a tree.
//
// Trees are validated when built and never mutated afterwards, so compilers
// and transformers may share them freely across goroutines. Editing a shape
// yields a new Shape with a bumped version that shares unchanged subtrees.
package shape

import (
	"fmt"
	"strings"

	"github.com/reoring/shapekit/issues"
)

// MultiTenancy selects how entities are scoped to tenants.
type MultiTenancy int

const (
	TenancyNone MultiTenancy = iota
	// TenancyShared stores every tenant in one index, injecting the tenant id
	// into each entity and prefixing derived ids with it.
	TenancyShared
)

func (m MultiTenancy) String() string {
	if m == TenancyShared {
		return "shared"
	}
	return "none"
}

// ParseMultiTenancy parses "none" or "shared" (case-insensitive, empty is none).
func ParseMultiTenancy(s string) (MultiTenancy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TenancyNone, nil
	case "shared":
		return TenancyShared, nil
	}
	return TenancyNone, fmt.Errorf("shape: unknown multi-tenancy %q", s)
}

// Shape is a named, versioned field set.
type Shape struct {
	ID           string
	Namespace    string
	Name         string
	Description  string
	Version      int64
	MultiTenancy MultiTenancy
	// Closed shapes reject fields that are not declared.
	Closed bool
	Root   *Node
}

// Option configures New.
type Option func(*Shape)

func WithDescription(d string) Option { return func(s *Shape) { s.Description = d } }
func WithVersion(v int64) Option      { return func(s *Shape) { s.Version = v } }
func WithTenancy(m MultiTenancy) Option {
	return func(s *Shape) { s.MultiTenancy = m }
}

// Closed rejects undeclared fields on upsert.
func Closed() Option { return func(s *Shape) { s.Closed = true } }

// New validates root and returns a Shape. The id is the lower-cased
// "namespace.name".
func New(namespace, name string, root *Node, opts ...Option) (*Shape, error) {
	var iss issues.Issues
	for _, v := range []struct{ what, val string }{{"namespace", namespace}, {"name", name}} {
		if err := ValidateFieldName(v.val); err != nil {
			iss = issues.Append(iss, issues.Issue{Code: issues.CodeInvalidShape, Message: "invalid " + v.what + ": " + err.Error()})
		}
	}
	if root == nil || root.kind != NodeObject {
		iss = issues.Append(iss, issues.Issue{Code: issues.CodeInvalidShape, Message: "shape root must be an object"})
	} else if err := Validate(root); err != nil {
		it, _ := issues.AsIssues(err)
		iss = issues.Append(iss, it...)
	}
	if len(iss) > 0 {
		return nil, iss
	}
	s := &Shape{
		ID:        MakeID(namespace, name),
		Namespace: namespace,
		Name:      name,
		Version:   1,
		Root:      root,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// MakeID builds a shape id from its namespace and name.
func MakeID(namespace, name string) string {
	return strings.ToLower(namespace + PathSeparator + name)
}

// Shared reports whether the shape uses shared multi-tenancy.
func (s *Shape) Shared() bool { return s.MultiTenancy == TenancyShared }

// WithRoot returns the next version of the shape with a new root.
func (s *Shape) WithRoot(root *Node) (*Shape, error) {
	if root == nil || root.kind != NodeObject {
		return nil, issues.At("", issues.CodeInvalidShape, "shape root must be an object")
	}
	if err := Validate(root); err != nil {
		return nil, err
	}
	next := *s
	next.Root = root
	next.Version = s.Version + 1
	return &next, nil
}

// AddField returns the next version of the shape with child placed at path.
func (s *Shape) AddField(path string, child *Node) (*Shape, error) {
	root, err := SetField(s.Root, path, child)
	if err != nil {
		return nil, err
	}
	return s.WithRoot(root)
}

// RemoveField returns the next version of the shape without a top-level field.
func (s *Shape) RemoveField(name string) (*Shape, error) {
	return s.WithRoot(s.Root.WithoutField(name))
}
