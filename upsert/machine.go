package upsert

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/reoring/shapekit/internal/engine"
	"github.com/reoring/shapekit/internal/jsonw"
	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/shape"
)

// machine holds the state of one transform call.
//
// pathStack mirrors object nesting: while a field value is being read the
// stack holds one entry per open object, the top being the current field's
// dotted path. A new key at the same depth replaces its sibling and closing
// an object drops the path of its last field.
type machine struct {
	ctx       context.Context
	t         *Transformer
	src       engine.TokenSource
	ectx      *Context
	arrayMode bool

	out         *jsonw.Writer
	pathStack   []string
	objectDepth int
	arrayDepth  int
	sawWrapper  bool

	currentID string
	seen      map[string]struct{}
	holders   []EntityHolder
}

func newMachine(ctx context.Context, t *Transformer, src engine.TokenSource, ectx *Context, arrayMode bool) *machine {
	return &machine{
		ctx:       ctx,
		t:         t,
		src:       src,
		ectx:      ectx,
		arrayMode: arrayMode,
		out:       jsonw.New(),
		seen:      make(map[string]struct{}),
	}
}

func (m *machine) run() ([]EntityHolder, error) {
	for {
		tok, err := m.src.NextToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, m.parseError(err)
		}
		if tok.Kind == engine.KindKey {
			err = m.key(tok)
		} else {
			err = m.structural(tok)
		}
		if err != nil {
			return nil, err
		}
	}
	if m.objectDepth != 0 || m.arrayDepth != 0 {
		return nil, issues.At(m.currentPath(), issues.CodeParseError, "unexpected end of input")
	}
	if m.arrayMode && !m.sawWrapper {
		return nil, issues.At("", issues.CodeInvalidType, "expected a JSON array of entities")
	}
	if m.holders == nil {
		m.holders = []EntityHolder{}
	}
	return m.holders, nil
}

func (m *machine) structural(tok engine.Token) error {
	switch {
	case tok.Kind == engine.KindBeginObject && m.objectDepth == 0:
		if m.arrayMode && m.arrayDepth == 0 {
			return issues.At("", issues.CodeInvalidType, "expected a JSON array of entities")
		}
		m.out.BeginObject()
		if m.t.sh.Shared() {
			if err := m.out.Key(m.t.tenantKey); err != nil {
				return err
			}
			if err := m.out.Value(m.ectx.TenantID); err != nil {
				return err
			}
		}
	case tok.Kind == engine.KindEndObject && m.objectDepth == 1:
		if err := m.finishEntity(); err != nil {
			return err
		}
	case m.objectDepth == 0:
		// Between entities only the array wrapper is allowed.
		switch {
		case tok.Kind == engine.KindBeginArray && m.arrayMode && m.arrayDepth == 0 && !m.sawWrapper:
			m.sawWrapper = true
		case tok.Kind == engine.KindEndArray && m.arrayDepth == 1:
		case m.arrayMode:
			return m.entityError(issues.CodeInvalidType, "array element must be an object, found %s", tok.Kind)
		default:
			return issues.At("", issues.CodeInvalidType, "expected a JSON object, found %s", tok.Kind)
		}
	default:
		if err := m.out.Token(tok); err != nil {
			return err
		}
	}

	switch tok.Kind {
	case engine.KindBeginObject:
		m.objectDepth++
	case engine.KindEndObject:
		if len(m.pathStack) == m.objectDepth {
			m.pathStack = m.pathStack[:len(m.pathStack)-1]
		}
		m.objectDepth--
	case engine.KindBeginArray:
		m.arrayDepth++
	case engine.KindEndArray:
		m.arrayDepth--
	}
	return nil
}

func (m *machine) key(tok engine.Token) error {
	name := tok.String
	if len(m.pathStack) == m.objectDepth {
		m.pathStack = m.pathStack[:len(m.pathStack)-1]
	}
	path := name
	if n := len(m.pathStack); n > 0 {
		path = shape.JoinPath(m.pathStack[n-1], name)
	}
	m.pathStack = append(m.pathStack, path)

	if m.objectDepth == 1 && m.t.sh.Shared() && name == m.t.tenantKey {
		return m.tenantField(path)
	}

	entry, ok := m.t.reg.Lookup(path)
	if !ok {
		return m.out.Key(name)
	}

	vt, err := m.src.NextToken()
	if err != nil {
		return m.parseError(err)
	}
	input, err := m.decode(entry.Processor.Accepts(), vt, path)
	if err != nil {
		return err
	}
	value, err := entry.Processor.Process(m.ctx, m.t.sh, name, entry.Decorator, input, m.ectx)
	if err != nil {
		return m.processorError(path, entry.Decorator, err)
	}
	if err := m.out.Key(name); err != nil {
		return err
	}
	if value == nil {
		m.out.Null()
	} else if err := m.out.Value(value); err != nil {
		return m.processorError(path, entry.Decorator, err)
	}
	if m.objectDepth == 1 {
		m.seen[path] = struct{}{}
	}

	if entry.Decorator.IsIdentity() {
		id, _ := value.(string)
		if strings.TrimSpace(id) == "" {
			return m.entityError(issues.CodeBlankID, "id field %q cannot be null or blank", path)
		}
		if m.currentID != "" {
			return m.entityError(issues.CodeDuplicateID, "found multiple id fields in entity")
		}
		if m.t.sh.Shared() {
			id = m.ectx.TenantID + "-" + id
		}
		m.currentID = id
	}
	return nil
}

// tenantField consumes a client-supplied tenant field. The field was already
// written from the caller's tenant, so a matching value is dropped and any
// other value is rejected.
func (m *machine) tenantField(path string) error {
	vt, err := m.src.NextToken()
	if err != nil {
		return m.parseError(err)
	}
	if vt.Kind == engine.KindString && vt.String == m.ectx.TenantID {
		return nil
	}
	return m.entityError(issues.CodeTenantMismatch, "field %q must match the caller's tenant", path)
}

// decode reads the value starting at tok in the processor's representation.
func (m *machine) decode(rep Representation, tok engine.Token, path string) (any, error) {
	if rep == AcceptAny {
		v, err := engine.DecodeValue(m.src, tok)
		if err != nil {
			return nil, m.parseError(err)
		}
		return v, nil
	}
	switch tok.Kind {
	case engine.KindString:
		return tok.String, nil
	case engine.KindNumber:
		return tok.Number, nil
	case engine.KindBool:
		if tok.Bool {
			return "true", nil
		}
		return "false", nil
	case engine.KindNull:
		return nil, nil
	default:
		return nil, m.entityErrorAt(path, issues.CodeInvalidType, "expected a scalar value, found %s", tok.Kind)
	}
}

func (m *machine) finishEntity() error {
	for _, inj := range m.t.injectors {
		if _, ok := m.seen[inj.Path]; ok {
			continue
		}
		v, err := inj.Processor.(AbsentInjector).Inject(m.ctx, m.t.sh, inj.Field, inj.Decorator, m.ectx)
		if err != nil {
			return m.processorError(inj.Path, inj.Decorator, err)
		}
		if v == nil {
			continue
		}
		if err := m.out.Key(inj.Field); err != nil {
			return err
		}
		if err := m.out.Value(v); err != nil {
			return m.processorError(inj.Path, inj.Decorator, err)
		}
	}
	if m.currentID == "" {
		return m.entityErrorAt("", issues.CodeMissingID, "could not find id for entity")
	}
	m.out.EndObject()
	m.holders = append(m.holders, EntityHolder{ID: m.currentID, Body: m.out.Bytes()})
	m.out.Reset()
	m.currentID = ""
	clear(m.seen)
	return m.ctx.Err()
}

func (m *machine) currentPath() string {
	if n := len(m.pathStack); n > 0 {
		return m.pathStack[n-1]
	}
	return ""
}

func (m *machine) entityError(code, format string, args ...any) error {
	return m.entityErrorAt(m.currentPath(), code, format, args...)
}

// entityErrorAt tags the issue with the entity index in array mode.
func (m *machine) entityErrorAt(path, code, format string, args ...any) error {
	iss := issues.At(path, code, format, args...)
	if m.arrayMode {
		iss[0].Params = map[string]any{"entity": len(m.holders)}
	}
	return iss
}

func (m *machine) processorError(path string, dec shape.Decorator, err error) error {
	if iss, ok := issues.AsIssues(err); ok {
		return iss
	}
	iss := issues.At(path, issues.CodeProcessor, "%s processor: %v", dec.Kind, err)
	iss[0].Cause = err
	return iss
}

func (m *machine) parseError(err error) error {
	if iss, ok := issues.AsIssues(err); ok {
		return iss
	}
	iss := issues.At(m.currentPath(), issues.CodeParseError, "malformed JSON: %v", err)
	iss[0].Cause = err
	return iss
}
