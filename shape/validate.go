package shape

import (
	"strings"
	"unicode"

	"github.com/reoring/shapekit/issues"
)

// PathSeparator joins field names into a FieldPath.
const PathSeparator = "."

// JoinPath appends name to a dotted parent path.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + PathSeparator + name
}

// IsNestedPath reports whether a FieldPath points below the top level.
func IsNestedPath(path string) bool { return strings.Contains(path, PathSeparator) }

// ValidateFieldName rejects names that are empty, contain the path separator
// or contain whitespace.
func ValidateFieldName(name string) error {
	if name == "" {
		return issues.At("", issues.CodeInvalidFieldName, "field name must not be empty")
	}
	if strings.Contains(name, PathSeparator) {
		return issues.At(name, issues.CodeInvalidFieldName, "field name %q must not contain %q", name, PathSeparator)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return issues.At(name, issues.CodeInvalidFieldName, "field name %q must not contain whitespace", name)
	}
	return nil
}

// Validate checks a subtree: field names, duplicate fields, duplicate
// decorator kinds and primitive kinds. All problems are reported together.
func Validate(n *Node) error {
	var iss issues.Issues
	validateNode(n, "", &iss)
	if len(iss) > 0 {
		return iss
	}
	return nil
}

func validateNode(n *Node, path string, iss *issues.Issues) {
	if n == nil {
		*iss = issues.Append(*iss, issues.Issue{Path: path, Code: issues.CodeInvalidShape, Message: "nil node"})
		return
	}
	seen := make(map[DecoratorKind]struct{}, len(n.decorators))
	for _, d := range n.decorators {
		if d.Kind == "" {
			*iss = issues.Append(*iss, issues.Issue{Path: path, Code: issues.CodeInvalidShape, Message: "decorator kind must not be empty"})
			continue
		}
		if _, dup := seen[d.Kind]; dup {
			*iss = issues.Append(*iss, issues.Issue{
				Path:    path,
				Code:    issues.CodeDuplicateDecorator,
				Message: "decorator " + string(d.Kind) + " declared more than once",
				Params:  map[string]any{"kind": string(d.Kind)},
			})
			continue
		}
		seen[d.Kind] = struct{}{}
	}
	switch n.kind {
	case NodePrimitive:
		if !n.prim.Valid() {
			*iss = issues.Append(*iss, issues.Issue{Path: path, Code: issues.CodeInvalidShape, Message: "unknown primitive kind " + string(n.prim)})
		}
	case NodeArray:
		validateNode(n.elem, path, iss)
	case NodeObject:
		names := make(map[string]struct{}, len(n.fields))
		for _, f := range n.fields {
			if err := ValidateFieldName(f.Name); err != nil {
				it, _ := issues.AsIssues(err)
				for _, e := range it {
					e.Path = JoinPath(path, f.Name)
					*iss = issues.Append(*iss, e)
				}
				continue
			}
			if _, dup := names[f.Name]; dup {
				*iss = issues.Append(*iss, issues.Issue{Path: JoinPath(path, f.Name), Code: issues.CodeDuplicateField, Message: "field declared more than once"})
				continue
			}
			names[f.Name] = struct{}{}
			validateNode(f.Node, JoinPath(path, f.Name), iss)
		}
	}
}
