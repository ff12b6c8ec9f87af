package shape

import (
	"strings"

	"github.com/reoring/shapekit/issues"
)

// WithField returns a copy of an object node with the named field added or
// replaced. Sibling subtrees are shared with the receiver.
func (n *Node) WithField(name string, child *Node) (*Node, error) {
	if n.kind != NodeObject {
		return nil, issues.At(name, issues.CodeInvalidShape, "cannot add field to %s node", n.kind)
	}
	if err := ValidateFieldName(name); err != nil {
		return nil, err
	}
	if err := Validate(child); err != nil {
		return nil, err
	}
	out := n.shallow()
	for i, f := range out.fields {
		if f.Name == name {
			out.fields[i] = Field{Name: name, Node: child}
			return out, nil
		}
	}
	out.fields = append(out.fields, Field{Name: name, Node: child})
	return out, nil
}

// WithoutField returns a copy of an object node without the named field.
func (n *Node) WithoutField(name string) *Node {
	out := n.shallow()
	out.fields = out.fields[:0]
	for _, f := range n.fields {
		if f.Name != name {
			out.fields = append(out.fields, f)
		}
	}
	return out
}

// WithDecorators returns a copy of the node carrying exactly decorators.
func (n *Node) WithDecorators(decorators ...Decorator) (*Node, error) {
	out := n.shallow()
	out.decorators = cloneDecorators(decorators)
	probe := &Node{kind: NodePrimitive, prim: Keyword, decorators: out.decorators}
	if err := Validate(probe); err != nil {
		return nil, err
	}
	return out, nil
}

// SetField places child at a dotted path below root, creating a new spine of
// nodes from root to the parent of the target. Arrays along the path are
// traversed through their element type.
func SetField(root *Node, path string, child *Node) (*Node, error) {
	if path == "" {
		return nil, issues.At("", issues.CodeInvalidFieldName, "empty path")
	}
	return setField(root, strings.Split(path, PathSeparator), child, "")
}

func setField(n *Node, segs []string, child *Node, walked string) (*Node, error) {
	switch n.kind {
	case NodeArray:
		elem, err := setField(n.elem, segs, child, walked)
		if err != nil {
			return nil, err
		}
		out := n.shallow()
		out.elem = elem
		return out, nil
	case NodeObject:
		head := segs[0]
		if len(segs) == 1 {
			return n.WithField(head, child)
		}
		next, ok := n.Field(head)
		if !ok {
			return nil, issues.At(JoinPath(walked, head), issues.CodeInvalidShape, "no such field")
		}
		replaced, err := setField(next, segs[1:], child, JoinPath(walked, head))
		if err != nil {
			return nil, err
		}
		return n.WithField(head, replaced)
	default:
		return nil, issues.At(walked, issues.CodeInvalidShape, "cannot descend into %s node", n.kind)
	}
}

// shallow copies the node header; the field slice is copied, children are not.
func (n *Node) shallow() *Node {
	out := *n
	out.fields = append([]Field(nil), n.fields...)
	return &out
}
