package mapping_test

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/mapping"
	"github.com/reoring/shapekit/shape"
)

func falsePtr() *bool { return new(bool) }

func compile(t *testing.T, root *shape.Node, opts ...shape.Option) (*mapping.Mapping, error) {
	t.Helper()
	sh, err := shape.New("acme", "device", root, opts...)
	require.NoError(t, err)
	return mapping.Compile(sh, mapping.BuildRegistry(sh, mapping.DefaultTable()), mapping.Options{})
}

func TestCompile_Defaults(t *testing.T) {
	root := shape.NewObject().
		Field("b", shape.BooleanField()).
		Field("i", shape.IntField()).
		Field("l", shape.LongField()).
		Field("d", shape.DoubleField()).
		Field("s", shape.StringField()).
		Field("k", shape.KeywordField()).
		Field("t", shape.TextField()).
		Field("at", shape.DateField()).
		Field("c", shape.Primitive(shape.Char)).
		Field("loc", shape.NewObject().Field("site", shape.KeywordField()).MustBuild()).
		Field("ports", shape.Array(shape.IntField())).
		Field("items", shape.Array(shape.NewObject().Field("n", shape.Primitive(shape.Short)).MustBuild())).
		MustBuild()

	m, err := compile(t, root)
	require.NoError(t, err)
	assert.Equal(t, mapping.DynamicFalse, m.Dynamic)

	want := map[string]*mapping.Property{
		"b":     {Type: "boolean"},
		"i":     {Type: "integer"},
		"l":     {Type: "long"},
		"d":     {Type: "double"},
		"s":     {Type: "keyword"},
		"k":     {Type: "keyword"},
		"t":     {Type: "text"},
		"at":    {Type: "date", Format: mapping.DateFormat},
		"c":     {Type: "keyword"},
		"loc":   {Type: "object", Properties: map[string]*mapping.Property{"site": {Type: "keyword"}}},
		"ports": {Type: "integer"},
		"items": {Type: "object", Properties: map[string]*mapping.Property{"n": {Type: "short"}}},
	}
	if diff := cmp.Diff(want, m.Properties); diff != "" {
		t.Fatalf("mapping mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile_Decorators(t *testing.T) {
	root := shape.NewObject().
		Field("mac", shape.StringField(shape.Identity())).
		Field("name", shape.KeywordField(shape.CaseInsensitive())).
		Field("bio", shape.StringField(shape.Text())).
		Field("raw", shape.IntField(shape.NotIndexed())).
		Field("blob", shape.NewObject().Decorate(shape.NotIndexed()).Field("x", shape.IntField()).MustBuild()).
		Field("labels", shape.NewObject().Decorate(shape.Flattened()).MustBuild()).
		Field("created", shape.LongField(shape.CreatedTime())).
		Field("notes", shape.Array(shape.KeywordField(shape.Text()))).
		Field("scope", shape.KeywordField(shape.TenantScoped())).
		MustBuild()

	m, err := compile(t, root, shape.Closed())
	require.NoError(t, err)
	assert.Equal(t, mapping.DynamicStrict, m.Dynamic)

	textWithKeyword := &mapping.Property{Type: "text", Fields: map[string]*mapping.Property{"keyword": {Type: "keyword"}}}
	want := map[string]*mapping.Property{
		"mac":     {Type: "keyword"},
		"name":    {Type: "keyword", Normalizer: mapping.LowercaseNormalizer},
		"bio":     textWithKeyword,
		"raw":     {Type: "integer", Index: falsePtr()},
		"blob":    {Type: "object", Enabled: falsePtr()},
		"labels":  {Type: "flattened"},
		"created": {Type: "date", Format: "epoch_millis"},
		"notes":   textWithKeyword,
		"scope":   {Type: "keyword"},
	}
	if diff := cmp.Diff(want, m.Properties); diff != "" {
		t.Fatalf("mapping mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{mapping.LowercaseNormalizer}, m.Normalizers())
}

func TestCompile_SharedTenancy(t *testing.T) {
	root := shape.NewObject().Field("mac", shape.KeywordField(shape.Identity())).MustBuild()
	m, err := compile(t, root, shape.WithTenancy(shape.TenancyShared))
	require.NoError(t, err)
	assert.Equal(t, &mapping.Property{Type: "keyword"}, m.Properties["structuresTenantId"])

	clash := shape.NewObject().Field("structuresTenantId", shape.KeywordField()).MustBuild()
	_, err = compile(t, clash, shape.WithTenancy(shape.TenancyShared))
	assert.True(t, issues.HasCode(err, issues.CodeDuplicateField))
}

func TestCompile_InvalidDecoratorUse(t *testing.T) {
	cases := []struct {
		name string
		node *shape.Node
	}{
		{"flattened primitive", shape.KeywordField(shape.Flattened())},
		{"case insensitive number", shape.IntField(shape.CaseInsensitive())},
		{"text on object", shape.NewObject().Decorate(shape.Text()).MustBuild()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := compile(t, shape.NewObject().Field("x", tc.node).MustBuild())
			require.Error(t, err)
			iss, ok := issues.AsIssues(err)
			require.True(t, ok)
			assert.Equal(t, "x", iss[0].Path)
			assert.Equal(t, issues.CodeInvalidType, iss[0].Code)
		})
	}
}

func TestCompile_Deterministic(t *testing.T) {
	root := shape.NewObject().
		Field("z", shape.KeywordField(shape.CaseInsensitive())).
		Field("a", shape.NewObject().Field("y", shape.IntField()).Field("b", shape.TextField()).MustBuild()).
		MustBuild()
	m1, err := compile(t, root)
	require.NoError(t, err)
	m2, err := compile(t, root)
	require.NoError(t, err)

	b1, err := m1.JSON()
	require.NoError(t, err)
	b2, err := m2.JSON()
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestCompile_CustomProcessorUsesDefault(t *testing.T) {
	root := shape.NewObject().
		Field("loc", shape.NewObject().
			Decorate(shape.Custom("Dynamic", nil)).
			Field("site", shape.KeywordField(shape.CaseInsensitive())).
			MustBuild()).
		MustBuild()
	sh, err := shape.New("acme", "device", root)
	require.NoError(t, err)
	table := mapping.DefaultTable().Clone().Register("Dynamic", mapping.ProcessorFunc(
		func(ctx *mapping.Context, _ shape.Decorator) (*mapping.Property, error) {
			p, err := ctx.Default()
			if err != nil {
				return nil, err
			}
			p.Dynamic = "true"
			return p, nil
		}))

	m, err := mapping.Compile(sh, mapping.BuildRegistry(sh, table), mapping.Options{})
	require.NoError(t, err)
	want := &mapping.Property{
		Type:       "object",
		Dynamic:    "true",
		Properties: map[string]*mapping.Property{"site": {Type: "keyword", Normalizer: mapping.LowercaseNormalizer}},
	}
	if diff := cmp.Diff(want, m.Properties["loc"]); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestNewIndex(t *testing.T) {
	root := shape.NewObject().Field("name", shape.KeywordField(shape.CaseInsensitive())).MustBuild()
	m, err := compile(t, root)
	require.NoError(t, err)

	idx := mapping.NewIndex("", "acme.device", m)
	assert.Equal(t, "struct_acme.device", idx.Name)

	b, err := json.Marshal(idx)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"settings":{"analysis":{"normalizer":{"lowercase":{"type":"custom","filter":["lowercase"]}}}},
		"mappings":{"dynamic":"false","properties":{"name":{"type":"keyword","normalizer":"lowercase"}}}
	}`, string(b))
}
