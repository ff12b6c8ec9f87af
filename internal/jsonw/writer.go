// Package jsonw is a minimal streaming JSON writer. It tracks separators with
// a container stack so callers emit structure token by token.
package jsonw

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/reoring/shapekit/internal/engine"
)

// Writer appends JSON to an in-memory buffer.
type Writer struct {
	buf      bytes.Buffer
	counts   []int // members written per open container
	afterKey bool
}

// New returns an empty writer.
func New() *Writer { return &Writer{} }

func (w *Writer) prefix() {
	if w.afterKey {
		w.afterKey = false
		return
	}
	if n := len(w.counts); n > 0 {
		if w.counts[n-1] > 0 {
			w.buf.WriteByte(',')
		}
		w.counts[n-1]++
	}
}

func (w *Writer) BeginObject() {
	w.prefix()
	w.buf.WriteByte('{')
	w.counts = append(w.counts, 0)
}

func (w *Writer) EndObject() {
	w.counts = w.counts[:len(w.counts)-1]
	w.buf.WriteByte('}')
}

func (w *Writer) BeginArray() {
	w.prefix()
	w.buf.WriteByte('[')
	w.counts = append(w.counts, 0)
}

func (w *Writer) EndArray() {
	w.counts = w.counts[:len(w.counts)-1]
	w.buf.WriteByte(']')
}

// Key writes an object member name followed by the colon.
func (w *Writer) Key(name string) error {
	w.prefix()
	if err := w.encode(name); err != nil {
		return err
	}
	w.buf.WriteByte(':')
	w.afterKey = true
	return nil
}

// Value encodes v as a complete JSON value.
func (w *Writer) Value(v any) error {
	w.prefix()
	return w.encode(v)
}

func (w *Writer) Null() {
	w.prefix()
	w.buf.WriteString("null")
}

// Token copies a scalar or structural token through unchanged.
func (w *Writer) Token(tok engine.Token) error {
	switch tok.Kind {
	case engine.KindBeginObject:
		w.BeginObject()
	case engine.KindEndObject:
		w.EndObject()
	case engine.KindBeginArray:
		w.BeginArray()
	case engine.KindEndArray:
		w.EndArray()
	case engine.KindKey:
		return w.Key(tok.String)
	case engine.KindString:
		return w.Value(tok.String)
	case engine.KindNumber:
		w.prefix()
		w.buf.WriteString(tok.Number)
	case engine.KindBool:
		return w.Value(tok.Bool)
	case engine.KindNull:
		w.Null()
	default:
		return fmt.Errorf("jsonw: cannot write token %s", tok.Kind)
	}
	return nil
}

func (w *Writer) encode(v any) error {
	b, err := json.MarshalNoEscape(v)
	if err != nil {
		return fmt.Errorf("jsonw: %w", err)
	}
	w.buf.Write(b)
	return nil
}

// Depth is the number of open containers.
func (w *Writer) Depth() int { return len(w.counts) }

// Bytes returns a copy of the written document.
func (w *Writer) Bytes() []byte { return bytes.Clone(w.buf.Bytes()) }

func (w *Writer) Len() int { return w.buf.Len() }

// Reset discards all output and container state.
func (w *Writer) Reset() {
	w.buf.Reset()
	w.counts = w.counts[:0]
	w.afterKey = false
}
