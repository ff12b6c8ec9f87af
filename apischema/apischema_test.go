package apischema_test

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reoring/shapekit/apischema"
	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/jsonschema"
	"github.com/reoring/shapekit/shape"
)

func deviceShape(t *testing.T, opts ...shape.Option) *shape.Shape {
	t.Helper()
	root := shape.NewObject().
		Field("mac", shape.KeywordField(shape.Identity())).
		Field("ip", shape.KeywordField()).
		Field("ports", shape.Array(shape.IntField())).
		Field("location", shape.NewObject().
			Field("site", shape.KeywordField(shape.CaseInsensitive())).
			Field("rack", shape.Primitive(shape.Short)).
			MustBuild()).
		Field("created", shape.LongField(shape.CreatedTime())).
		Field("updated", shape.DateField(shape.UpdatedTime())).
		MustBuild()
	sh, err := shape.New("acme", "Device", root, append([]shape.Option{shape.WithDescription("network devices")}, opts...)...)
	require.NoError(t, err)
	return sh
}

func compile(t *testing.T, sh *shape.Shape, v apischema.Variant) *jsonschema.Schema {
	t.Helper()
	s, err := apischema.Compile(sh, apischema.BuildRegistry(sh, apischema.DefaultTable()), v)
	require.NoError(t, err)
	return s
}

func TestCompile_Full(t *testing.T) {
	s := compile(t, deviceShape(t), apischema.Full)

	want := &jsonschema.Schema{
		Title:       "Device",
		Description: "network devices",
		Type:        "object",
		Required:    []string{"mac"},
		Properties: map[string]*jsonschema.Schema{
			"mac":   {Type: "string"},
			"ip":    {Type: "string"},
			"ports": {Type: "array", Items: &jsonschema.Schema{Type: "integer", Format: "int32"}},
			"location": {Type: "object", Properties: map[string]*jsonschema.Schema{
				"site": {Type: "string"},
				"rack": {Type: "integer", Format: "int32"},
			}},
			"created": {Type: "integer", Format: "int64", ReadOnly: true},
			"updated": {Type: "integer", Format: "int64", ReadOnly: true},
		},
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Fatalf("schema mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile_InputOmitsSystemManaged(t *testing.T) {
	s := compile(t, deviceShape(t), apischema.Input)
	assert.Equal(t, "DeviceInput", s.Title)
	assert.NotContains(t, s.Properties, "created")
	assert.NotContains(t, s.Properties, "updated")
	assert.Contains(t, s.Properties, "mac")
	assert.Equal(t, []string{"mac"}, s.Required)
}

func TestCompile_ClosedShapeForbidsAdditional(t *testing.T) {
	s := compile(t, deviceShape(t, shape.Closed()), apischema.Input)
	assert.Equal(t, false, s.AdditionalProperties)
	assert.Equal(t, false, s.Properties["location"].AdditionalProperties)

	open := compile(t, deviceShape(t), apischema.Input)
	assert.Nil(t, open.AdditionalProperties)
}

func TestCompile_AutoIdentityOptionalOnInput(t *testing.T) {
	root := shape.NewObject().Field("id", shape.KeywordField(shape.AutoGeneratedIdentity())).MustBuild()
	sh, err := shape.New("acme", "thing", root)
	require.NoError(t, err)

	assert.Empty(t, compile(t, sh, apischema.Input).Required)
	assert.Equal(t, []string{"id"}, compile(t, sh, apischema.Full).Required)
}

func TestCompile_ProcessorOmitsAndWrapsArrays(t *testing.T) {
	root := shape.NewObject().
		Field("id", shape.KeywordField(shape.Identity())).
		Field("secret", shape.KeywordField(shape.Custom("Hidden", nil))).
		Field("tags", shape.Array(shape.KeywordField(shape.Custom("Enum", map[string]any{"values": []any{"a", "b"}})))).
		MustBuild()
	sh, err := shape.New("acme", "thing", root)
	require.NoError(t, err)

	table := apischema.DefaultTable().Clone().
		Register("Hidden", apischema.ProcessorFunc(func(*apischema.Context, shape.Decorator) (*jsonschema.Schema, error) {
			return nil, nil
		})).
		Register("Enum", apischema.ProcessorFunc(func(ctx *apischema.Context, d shape.Decorator) (*jsonschema.Schema, error) {
			s, err := ctx.Default()
			if err != nil {
				return nil, err
			}
			vals, _ := d.Param("values")
			s.Enum = vals.([]any)
			return s, nil
		}))
	s, err := apischema.Compile(sh, apischema.BuildRegistry(sh, table), apischema.Full)
	require.NoError(t, err)

	assert.NotContains(t, s.Properties, "secret")
	tags := s.Properties["tags"]
	require.Equal(t, "array", tags.Type)
	assert.Equal(t, []any{"a", "b"}, tags.Items.Enum)
}

func TestCompile_Deterministic(t *testing.T) {
	sh := deviceShape(t)
	a, err := json.Marshal(compile(t, sh, apischema.Full))
	require.NoError(t, err)
	b, err := json.Marshal(compile(t, sh, apischema.Full))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestValidator_ClosedShape(t *testing.T) {
	sh := deviceShape(t, shape.Closed())
	v, err := apischema.NewValidator(compile(t, sh, apischema.Input))
	require.NoError(t, err)

	require.NoError(t, v.Validate([]byte(`{"mac":"m","ip":"1","location":{"site":"x"}}`)))

	err = v.Validate([]byte(`{"mac":"m","bogus":1}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, issues.ErrValidation)
	iss, _ := issues.AsIssues(err)
	assert.Equal(t, issues.CodeUnknownKey, iss[0].Code)
	assert.Equal(t, "bogus", iss[0].Path)

	err = v.Validate([]byte(`{"mac":"m","location":{"floor":2}}`))
	iss, _ = issues.AsIssues(err)
	require.NotEmpty(t, iss)
	assert.Equal(t, "location.floor", iss[0].Path)

	err = v.Validate([]byte(`{"ip":"1"}`))
	assert.True(t, issues.HasCode(err, issues.CodeInvalidType))

	require.NoError(t, v.ValidateArray([]byte(`[{"mac":"a"},{"mac":"b"}]`)))
	assert.True(t, issues.HasCode(v.ValidateArray([]byte(`[{"mac":"a","x":1}]`)), issues.CodeUnknownKey))
}

func TestValidator_AcceptsReadOnlyFields(t *testing.T) {
	sh := deviceShape(t, shape.Closed())
	in := compile(t, sh, apischema.Input)
	full := compile(t, sh, apischema.Full)

	strict, err := apischema.NewValidator(in)
	require.NoError(t, err)
	assert.True(t, issues.HasCode(strict.Validate([]byte(`{"mac":"m","created":1}`)), issues.CodeUnknownKey))

	merged := apischema.AcceptReadOnly(in, full)
	assert.NotContains(t, in.Properties, "created", "input schema is not modified")
	assert.Contains(t, merged.Properties, "created")
	assert.NotContains(t, merged.Required, "created")

	v, err := apischema.NewValidator(merged)
	require.NoError(t, err)
	require.NoError(t, v.Validate([]byte(`{"mac":"m","created":1,"updated":2}`)))
	require.NoError(t, v.Validate([]byte(`{"mac":"m"}`)))
	assert.True(t, issues.HasCode(v.Validate([]byte(`{"mac":"m","bogus":1}`)), issues.CodeUnknownKey))
	assert.True(t, issues.HasCode(v.Validate([]byte(`{"mac":"m","created":"yesterday"}`)), issues.CodeInvalidType))
}

func TestBuildOpenAPI(t *testing.T) {
	sh := deviceShape(t)
	doc := apischema.BuildOpenAPI("acme", []apischema.ShapeSchemas{{
		Shape: sh,
		Full:  compile(t, sh, apischema.Full),
		Input: compile(t, sh, apischema.Input),
	}}, apischema.OpenAPIOptions{Security: apischema.SecurityBearer})

	assert.Equal(t, "acme Structures API", doc.Info.Title)
	assert.Contains(t, doc.Components.Schemas, "Device")
	assert.Contains(t, doc.Components.Schemas, "DeviceInput")
	assert.Equal(t, apischema.SecurityScheme{Type: "http", Scheme: "bearer"}, doc.Components.SecuritySchemes["BearerAuth"])

	for _, p := range []string{"/api/acme.device", "/api/acme.device/{id}", "/api/acme.device/search", "/api/acme.device/searchWithSort", "/api/acme.device/bulk-upsert"} {
		assert.Contains(t, doc.Paths, p)
	}
	upsert := doc.Paths["/api/acme.device"].Post
	require.NotNil(t, upsert)
	assert.Equal(t, "upsertDevice", upsert.OperationID)
	assert.Equal(t, "#/components/schemas/DeviceInput", upsert.RequestBody.Content["application/json"].Schema.Ref)
	for _, code := range []string{"200", "400", "401", "403", "404", "500"} {
		assert.Contains(t, upsert.Responses, code)
	}
	assert.Equal(t, []map[string][]string{{"BearerAuth": {}}}, upsert.Security)

	bulk := doc.Paths["/api/acme.device/bulk-upsert"].Post
	assert.Equal(t, "array", bulk.RequestBody.Content["application/json"].Schema.Type)

	_, err := json.Marshal(doc)
	require.NoError(t, err)
}

func TestParseSecurityType(t *testing.T) {
	st, err := apischema.ParseSecurityType("Basic")
	require.NoError(t, err)
	assert.Equal(t, apischema.SecurityBasic, st)
	st, err = apischema.ParseSecurityType("")
	require.NoError(t, err)
	assert.Equal(t, apischema.SecurityNone, st)
	_, err = apischema.ParseSecurityType("oauth")
	assert.Error(t, err)
}
