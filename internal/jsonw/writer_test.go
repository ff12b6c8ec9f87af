package jsonw_test

import (
	"errors"
	"io"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reoring/shapekit/internal/engine"
	"github.com/reoring/shapekit/internal/jsonw"
)

func TestWriter_Structure(t *testing.T) {
	w := jsonw.New()
	w.BeginObject()
	require.NoError(t, w.Key("a"))
	require.NoError(t, w.Value("x<y"))
	require.NoError(t, w.Key("b"))
	w.BeginArray()
	require.NoError(t, w.Value(1))
	w.Null()
	w.BeginObject()
	w.EndObject()
	w.EndArray()
	require.NoError(t, w.Key("c"))
	require.NoError(t, w.Value(json.Number("1.50")))
	w.EndObject()

	assert.Equal(t, `{"a":"x<y","b":[1,null,{}],"c":1.50}`, string(w.Bytes()))
	assert.Equal(t, 0, w.Depth())
}

func TestWriter_TokenCopyIsIdentity(t *testing.T) {
	in := `{"s":"a\"b","n":-1.5e3,"t":true,"z":null,"arr":[[],{"k":[1,2]}],"o":{}}`
	src := engine.NewBytes([]byte(in))
	w := jsonw.New()
	for {
		tok, err := src.NextToken()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, w.Token(tok))
	}
	assert.Equal(t, in, string(w.Bytes()))
}

func TestWriter_Reset(t *testing.T) {
	w := jsonw.New()
	w.BeginObject()
	require.NoError(t, w.Key("a"))
	w.Reset()
	w.BeginArray()
	w.EndArray()
	assert.Equal(t, `[]`, string(w.Bytes()))
}
