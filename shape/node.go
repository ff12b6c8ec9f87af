package shape

// NodeKind identifies a TypeNode variant.
type NodeKind int

const (
	NodePrimitive NodeKind = iota
	NodeArray
	NodeObject
)

func (k NodeKind) String() string {
	switch k {
	case NodePrimitive:
		return "primitive"
	case NodeArray:
		return "array"
	case NodeObject:
		return "object"
	default:
		return "unknown"
	}
}

// PrimitiveKind names a scalar type.
type PrimitiveKind string

const (
	Boolean  PrimitiveKind = "boolean"
	Byte     PrimitiveKind = "byte"
	Short    PrimitiveKind = "short"
	Int      PrimitiveKind = "int"
	Long     PrimitiveKind = "long"
	Float    PrimitiveKind = "float"
	Double   PrimitiveKind = "double"
	Char     PrimitiveKind = "char"
	String   PrimitiveKind = "string"
	Keyword  PrimitiveKind = "keyword"
	FullText PrimitiveKind = "text"
	Date     PrimitiveKind = "date"
)

// Valid reports whether k is a known primitive kind.
func (k PrimitiveKind) Valid() bool {
	switch k {
	case Boolean, Byte, Short, Int, Long, Float, Double, Char, String, Keyword, FullText, Date:
		return true
	}
	return false
}

// Node is an immutable TypeNode: an object, an array or a primitive, each
// carrying zero or more decorators. Nodes are safe for concurrent reads; edits
// return new nodes that share unchanged subtrees.
type Node struct {
	kind       NodeKind
	prim       PrimitiveKind
	elem       *Node
	fields     []Field
	decorators []Decorator
}

// Field is a named member of an object node.
type Field struct {
	Name string
	Node *Node
}

// Primitive creates a primitive node.
func Primitive(kind PrimitiveKind, decorators ...Decorator) *Node {
	return &Node{kind: NodePrimitive, prim: kind, decorators: cloneDecorators(decorators)}
}

// Array creates an array node of elem.
func Array(elem *Node, decorators ...Decorator) *Node {
	return &Node{kind: NodeArray, elem: elem, decorators: cloneDecorators(decorators)}
}

// Convenience constructors for common primitives.
func BooleanField(d ...Decorator) *Node { return Primitive(Boolean, d...) }
func IntField(d ...Decorator) *Node     { return Primitive(Int, d...) }
func LongField(d ...Decorator) *Node    { return Primitive(Long, d...) }
func DoubleField(d ...Decorator) *Node  { return Primitive(Double, d...) }
func StringField(d ...Decorator) *Node  { return Primitive(String, d...) }
func KeywordField(d ...Decorator) *Node { return Primitive(Keyword, d...) }
func TextField(d ...Decorator) *Node    { return Primitive(FullText, d...) }
func DateField(d ...Decorator) *Node    { return Primitive(Date, d...) }

func (n *Node) Kind() NodeKind { return n.kind }

// PrimitiveKind returns the scalar kind of a primitive node.
func (n *Node) PrimitiveKind() PrimitiveKind { return n.prim }

// Elem returns the element type of an array node, nil otherwise.
func (n *Node) Elem() *Node { return n.elem }

// Fields returns the object's fields in declaration order.
func (n *Node) Fields() []Field {
	out := make([]Field, len(n.fields))
	copy(out, n.fields)
	return out
}

// Field looks up a field of an object node.
func (n *Node) Field(name string) (*Node, bool) {
	for _, f := range n.fields {
		if f.Name == name {
			return f.Node, true
		}
	}
	return nil, false
}

// Decorators returns the node's decorators in declaration order.
func (n *Node) Decorators() []Decorator {
	return cloneDecorators(n.decorators)
}

// HasDecorators reports whether the node carries any decorator.
func (n *Node) HasDecorators() bool { return len(n.decorators) > 0 }

// Decorator returns the decorator of the given kind.
func (n *Node) Decorator(kind DecoratorKind) (Decorator, bool) {
	for _, d := range n.decorators {
		if d.Kind == kind {
			return d.clone(), true
		}
	}
	return Decorator{}, false
}

// IsContainer reports whether the node is an object or an array.
func (n *Node) IsContainer() bool { return n.kind == NodeObject || n.kind == NodeArray }

func cloneDecorators(in []Decorator) []Decorator {
	if len(in) == 0 {
		return nil
	}
	out := make([]Decorator, len(in))
	for i, d := range in {
		out[i] = d.clone()
	}
	return out
}

// ObjectBuilder assembles an object node.
type ObjectBuilder struct {
	fields     []Field
	decorators []Decorator
}

// NewObject starts a new object node.
func NewObject() *ObjectBuilder { return &ObjectBuilder{} }

// Field appends a field. Names are validated by Build.
func (b *ObjectBuilder) Field(name string, n *Node) *ObjectBuilder {
	b.fields = append(b.fields, Field{Name: name, Node: n})
	return b
}

// Decorate attaches decorators to the object node itself.
func (b *ObjectBuilder) Decorate(d ...Decorator) *ObjectBuilder {
	b.decorators = append(b.decorators, d...)
	return b
}

// Build validates the subtree and returns the object node.
func (b *ObjectBuilder) Build() (*Node, error) {
	n := &Node{
		kind:       NodeObject,
		fields:     append([]Field(nil), b.fields...),
		decorators: cloneDecorators(b.decorators),
	}
	if err := Validate(n); err != nil {
		return nil, err
	}
	return n, nil
}

// MustBuild is Build that panics on error. Intended for static shapes in
// tests and examples.
func (b *ObjectBuilder) MustBuild() *Node {
	n, err := b.Build()
	if err != nil {
		panic(err)
	}
	return n
}
