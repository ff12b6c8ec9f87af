package engine

import (
	"github.com/reoring/shapekit/issues"
)

// Limits bounds what a token stream may contain. Zero values disable a check.
type Limits struct {
	MaxDepth int
	MaxBytes int64
	// RejectDuplicateKeys fails on a key repeated within one object.
	RejectDuplicateKeys bool
}

type limitFrame struct {
	kind         containerKind
	keys         map[string]struct{}
	expectingKey bool
	path         string
	pendingKey   string
}

// WithLimits returns a TokenSource that enforces lim while streaming. Errors
// are issues.Issues carrying the dotted field path where the limit tripped.
func WithLimits(inner TokenSource, lim Limits) TokenSource {
	if lim == (Limits{}) {
		return inner
	}
	return &limitedSource{inner: inner, lim: lim}
}

type limitedSource struct {
	inner TokenSource
	lim   Limits
	stack []limitFrame
}

func (l *limitedSource) NextToken() (Token, error) {
	tok, err := l.inner.NextToken()
	if err != nil {
		return Token{}, err
	}

	switch tok.Kind {
	case KindBeginObject, KindBeginArray:
		path := l.valuePath()
		f := limitFrame{kind: kindArray, path: path}
		if tok.Kind == KindBeginObject {
			f = limitFrame{kind: kindObject, expectingKey: true, path: path}
			if l.lim.RejectDuplicateKeys {
				f.keys = make(map[string]struct{})
			}
		}
		l.stack = append(l.stack, f)
		if l.lim.MaxDepth > 0 && len(l.stack) > l.lim.MaxDepth {
			return Token{}, issues.At(path, issues.CodeParseError, "max depth %d exceeded", l.lim.MaxDepth)
		}
	case KindEndObject, KindEndArray:
		if n := len(l.stack); n > 0 {
			l.stack = l.stack[:n-1]
		}
		l.valueEnded()
	case KindKey:
		if n := len(l.stack); n > 0 {
			top := &l.stack[n-1]
			if top.keys != nil {
				if _, dup := top.keys[tok.String]; dup {
					return Token{}, issues.At(joinDotted(top.path, tok.String), issues.CodeDuplicateKey, "key %q duplicated", tok.String)
				}
				top.keys[tok.String] = struct{}{}
			}
			top.expectingKey = false
			top.pendingKey = tok.String
		}
	default:
		l.valueEnded()
	}

	if l.lim.MaxBytes > 0 {
		if off := l.inner.Location(); off > l.lim.MaxBytes {
			return Token{}, issues.At(l.currentPath(), issues.CodeTruncated, "max bytes %d exceeded", l.lim.MaxBytes)
		}
	}
	return tok, nil
}

// valuePath is the dotted path of a value about to start.
func (l *limitedSource) valuePath() string {
	if n := len(l.stack); n > 0 {
		top := l.stack[n-1]
		if top.kind == kindObject {
			return joinDotted(top.path, top.pendingKey)
		}
		return top.path
	}
	return ""
}

func (l *limitedSource) currentPath() string {
	if n := len(l.stack); n > 0 {
		return l.stack[n-1].path
	}
	return ""
}

// valueEnded marks the parent object as waiting for its next key.
func (l *limitedSource) valueEnded() {
	if n := len(l.stack); n > 0 {
		top := &l.stack[n-1]
		if top.kind == kindObject && !top.expectingKey {
			top.expectingKey = true
			top.pendingKey = ""
		}
	}
}

func (l *limitedSource) Location() int64 { return l.inner.Location() }

func joinDotted(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
