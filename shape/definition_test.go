package shape_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/shape"
)

func TestDefinition_JSONRoundTrip(t *testing.T) {
	s, err := shape.New("acme", "device", deviceRoot(t),
		shape.WithTenancy(shape.TenancyShared), shape.WithDescription("network devices"), shape.Closed())
	require.NoError(t, err)

	b, err := shape.MarshalDefinition(s)
	require.NoError(t, err)

	got, err := shape.ParseDefinition(b)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, shape.TenancyShared, got.MultiTenancy)
	assert.True(t, got.Closed)
	assert.Equal(t, "network devices", got.Description)

	mac, ok := got.Root.Field("mac")
	require.True(t, ok)
	_, ok = mac.Decorator(shape.KindIdentity)
	assert.True(t, ok)

	ports, ok := got.Root.Field("ports")
	require.True(t, ok)
	assert.Equal(t, shape.NodeArray, ports.Kind())
	assert.Equal(t, shape.Int, ports.Elem().PrimitiveKind())
}

func TestDefinition_YAML(t *testing.T) {
	doc := `
namespace: acme
name: device
multiTenancy: shared
schema:
  type: object
  properties:
    mac:
      type: keyword
      decorators:
        - type: Identity
    ip:
      type: keyword
    tags:
      type: array
      items:
        type: keyword
        decorators:
          - type: CaseInsensitive
`
	s, err := shape.ParseDefinitionYAML([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "acme.device", s.ID)
	assert.True(t, s.Shared())

	var names []string
	for _, f := range s.Root.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"ip", "mac", "tags"}, names)
}

func TestDefinition_Errors(t *testing.T) {
	_, err := shape.ParseDefinition([]byte(`{"namespace":"a","name":"b","schema":{"type":"object","properties":{"x":{"type":"nope"}}}}`))
	assert.ErrorIs(t, err, issues.ErrValidation)

	_, err = shape.ParseDefinition([]byte(`{"namespace":"a","name":"b"}`))
	assert.True(t, issues.HasCode(err, issues.CodeInvalidShape))

	_, err = shape.ParseDefinition([]byte(`{`))
	assert.True(t, issues.HasCode(err, issues.CodeParseError))

	_, err = shape.ParseDefinition([]byte(`{"namespace":"a","name":"b","schema":{"type":"object","properties":{"a.b":{"type":"keyword"}}}}`))
	assert.True(t, issues.HasCode(err, issues.CodeInvalidFieldName))
}
