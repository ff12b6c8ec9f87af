package mapping

import (
	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/registry"
	"github.com/reoring/shapekit/shape"
)

func boolPtr(b bool) *bool { return &b }

func stringLike(n *shape.Node) bool {
	if n.Kind() != shape.NodePrimitive {
		return false
	}
	switch n.PrimitiveKind() {
	case shape.String, shape.Keyword, shape.Char, shape.FullText:
		return true
	}
	return false
}

// keyword maps identity fields to exact-match keywords.
func keyword(ctx *Context, dec shape.Decorator) (*Property, error) {
	if ctx.Node.Kind() != shape.NodePrimitive {
		return nil, issues.At(ctx.Path, issues.CodeInvalidType, "%s requires a primitive field", dec.Kind)
	}
	return &Property{Type: "keyword"}, nil
}

func caseInsensitive(ctx *Context, dec shape.Decorator) (*Property, error) {
	if !stringLike(ctx.Node) {
		return nil, issues.At(ctx.Path, issues.CodeInvalidType, "%s requires a string field", dec.Kind)
	}
	ctx.UseNormalizer(LowercaseNormalizer)
	return &Property{Type: "keyword", Normalizer: LowercaseNormalizer}, nil
}

// text maps to full-text with a keyword sub-field for sorting and
// aggregations.
func text(ctx *Context, dec shape.Decorator) (*Property, error) {
	if !stringLike(ctx.Node) {
		return nil, issues.At(ctx.Path, issues.CodeInvalidType, "%s requires a string field", dec.Kind)
	}
	return &Property{
		Type:   "text",
		Fields: map[string]*Property{"keyword": {Type: "keyword"}},
	}, nil
}

func notIndexed(ctx *Context, _ shape.Decorator) (*Property, error) {
	if ctx.Node.Kind() == shape.NodeObject {
		return &Property{Type: "object", Enabled: boolPtr(false)}, nil
	}
	p, err := ctx.Default()
	if err != nil {
		return nil, err
	}
	p.Index = boolPtr(false)
	return p, nil
}

func flattened(ctx *Context, dec shape.Decorator) (*Property, error) {
	if ctx.Node.Kind() != shape.NodeObject {
		return nil, issues.At(ctx.Path, issues.CodeInvalidType, "%s requires an object field", dec.Kind)
	}
	return &Property{Type: "flattened"}, nil
}

func timestamp(ctx *Context, dec shape.Decorator) (*Property, error) {
	if ctx.Node.Kind() != shape.NodePrimitive {
		return nil, issues.At(ctx.Path, issues.CodeInvalidType, "%s requires a primitive field", dec.Kind)
	}
	return &Property{Type: "date", Format: "epoch_millis"}, nil
}

// DefaultTable returns the built-in mapping processors.
func DefaultTable() registry.Table[Processor] {
	return registry.Table[Processor]{}.
		Register(shape.KindIdentity, ProcessorFunc(keyword)).
		Register(shape.KindAutoGeneratedIdentity, ProcessorFunc(keyword)).
		Register(shape.KindCaseInsensitive, ProcessorFunc(caseInsensitive)).
		Register(shape.KindText, ProcessorFunc(text)).
		Register(shape.KindNotIndexed, ProcessorFunc(notIndexed)).
		Register(shape.KindFlattened, ProcessorFunc(flattened)).
		Register(shape.KindCreatedTime, ProcessorFunc(timestamp)).
		Register(shape.KindUpdatedTime, ProcessorFunc(timestamp))
}
