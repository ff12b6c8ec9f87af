package apischema

import (
	"github.com/reoring/shapekit/jsonschema"
	"github.com/reoring/shapekit/registry"
	"github.com/reoring/shapekit/shape"
)

func identity(ctx *Context, _ shape.Decorator) (*jsonschema.Schema, error) {
	s, err := ctx.Default()
	if err != nil {
		return nil, err
	}
	ctx.MarkRequired()
	return s, nil
}

// autoIdentity is optional on input and always present once stored.
func autoIdentity(ctx *Context, _ shape.Decorator) (*jsonschema.Schema, error) {
	s, err := ctx.Default()
	if err != nil {
		return nil, err
	}
	if ctx.Variant == Full {
		ctx.MarkRequired()
	}
	return s, nil
}

func timestamp(ctx *Context, _ shape.Decorator) (*jsonschema.Schema, error) {
	if ctx.Variant == Input {
		return nil, nil
	}
	return &jsonschema.Schema{Type: "integer", Format: "int64", ReadOnly: true}, nil
}

func flattened(ctx *Context, _ shape.Decorator) (*jsonschema.Schema, error) {
	return &jsonschema.Schema{Type: "object", AdditionalProperties: true}, nil
}

// DefaultTable returns the built-in API schema processors.
func DefaultTable() registry.Table[Processor] {
	return registry.Table[Processor]{}.
		Register(shape.KindIdentity, ProcessorFunc(identity)).
		Register(shape.KindAutoGeneratedIdentity, ProcessorFunc(autoIdentity)).
		Register(shape.KindCreatedTime, ProcessorFunc(timestamp)).
		Register(shape.KindUpdatedTime, ProcessorFunc(timestamp)).
		Register(shape.KindFlattened, ProcessorFunc(flattened))
}
