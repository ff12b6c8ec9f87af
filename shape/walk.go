package shape

// Visit describes one object field reached by Walk.
type Visit struct {
	Path string // dotted FieldPath from the root
	Name string // the field name
	Node *Node
	// InContainer is true when the field sits below an array.
	InContainer bool
}

// Walk visits every object field below root depth-first, in declaration
// order. Arrays do not add a path segment; fields reached through an array
// element are flagged InContainer. Returning an error stops the walk.
func Walk(root *Node, fn func(Visit) error) error {
	w := walker{fn: fn}
	return w.node(root, false)
}

type walker struct {
	stack []string
	fn    func(Visit) error
}

func (w *walker) node(n *Node, inContainer bool) error {
	switch n.kind {
	case NodeArray:
		return w.node(n.elem, true)
	case NodeObject:
		for _, f := range n.fields {
			path := f.Name
			if len(w.stack) > 0 {
				path = JoinPath(w.stack[len(w.stack)-1], f.Name)
			}
			w.stack = append(w.stack, path)
			if err := w.fn(Visit{Path: path, Name: f.Name, Node: f.Node, InContainer: inContainer}); err != nil {
				return err
			}
			if err := w.node(f.Node, inContainer); err != nil {
				return err
			}
			w.stack = w.stack[:len(w.stack)-1]
		}
	}
	return nil
}
