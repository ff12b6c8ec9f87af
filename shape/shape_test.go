package shape_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/shape"
)

func deviceRoot(t *testing.T) *shape.Node {
	t.Helper()
	root, err := shape.NewObject().
		Field("ip", shape.KeywordField()).
		Field("mac", shape.KeywordField(shape.Identity())).
		Field("location", shape.NewObject().
			Field("site", shape.KeywordField(shape.CaseInsensitive())).
			MustBuild()).
		Field("ports", shape.Array(shape.IntField())).
		Build()
	require.NoError(t, err)
	return root
}

func TestBuild_InvalidFieldNames(t *testing.T) {
	cases := []struct {
		name  string
		field string
	}{
		{"empty", ""},
		{"separator", "a.b"},
		{"whitespace", "a b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := shape.NewObject().Field(tc.field, shape.KeywordField()).Build()
			require.Error(t, err)
			assert.ErrorIs(t, err, issues.ErrValidation)
			assert.True(t, issues.HasCode(err, issues.CodeInvalidFieldName))
		})
	}
}

func TestBuild_DuplicateDecoratorKind(t *testing.T) {
	_, err := shape.NewObject().
		Field("id", shape.KeywordField(shape.Identity(), shape.Identity())).
		Build()
	require.Error(t, err)
	iss, ok := issues.AsIssues(err)
	require.True(t, ok)
	assert.Equal(t, issues.CodeDuplicateDecorator, iss[0].Code)
	assert.Equal(t, "id", iss[0].Path)
}

func TestBuild_ArrayElementErrors(t *testing.T) {
	_, err := shape.NewObject().
		Field("tags", shape.Array(shape.Primitive("nope"))).
		Field("ids", shape.Array(shape.KeywordField(shape.Text(), shape.Text()))).
		Build()
	require.Error(t, err)
	iss, ok := issues.AsIssues(err)
	require.True(t, ok)
	require.Len(t, iss, 2)
	assert.Equal(t, "tags", iss[0].Path)
	assert.Equal(t, issues.CodeInvalidShape, iss[0].Code)
	assert.Equal(t, "ids", iss[1].Path)
	assert.Equal(t, issues.CodeDuplicateDecorator, iss[1].Code)
}

func TestBuild_DuplicateField(t *testing.T) {
	_, err := shape.NewObject().
		Field("x", shape.KeywordField()).
		Field("x", shape.IntField()).
		Build()
	assert.True(t, issues.HasCode(err, issues.CodeDuplicateField))
}

func TestDecoratorsAreNotShared(t *testing.T) {
	params := map[string]any{"length": 10}
	d := shape.Custom("Truncate", params)
	n := shape.KeywordField(d)
	params["length"] = 99

	got, ok := n.Decorator("Truncate")
	require.True(t, ok)
	assert.Equal(t, 10, got.Params["length"])

	got.Params["length"] = 1
	again, _ := n.Decorator("Truncate")
	assert.Equal(t, 10, again.Params["length"])
}

func TestNew_RequiresObjectRoot(t *testing.T) {
	_, err := shape.New("acme", "device", shape.KeywordField())
	require.Error(t, err)
	assert.ErrorIs(t, err, issues.ErrValidation)
}

func TestNew_ID(t *testing.T) {
	s, err := shape.New("Acme", "Device", deviceRoot(t), shape.WithTenancy(shape.TenancyShared))
	require.NoError(t, err)
	assert.Equal(t, "acme.device", s.ID)
	assert.Equal(t, int64(1), s.Version)
	assert.True(t, s.Shared())
}

func TestAddField_StructuralSharing(t *testing.T) {
	s, err := shape.New("acme", "device", deviceRoot(t))
	require.NoError(t, err)

	next, err := s.AddField("location.rack", shape.IntField())
	require.NoError(t, err)

	assert.Equal(t, s.Version+1, next.Version)

	// the original tree is untouched
	loc, _ := s.Root.Field("location")
	_, has := loc.Field("rack")
	assert.False(t, has)

	// new tree has the field
	nloc, _ := next.Root.Field("location")
	_, has = nloc.Field("rack")
	assert.True(t, has)

	// unchanged siblings are shared
	oldPorts, _ := s.Root.Field("ports")
	newPorts, _ := next.Root.Field("ports")
	assert.Same(t, oldPorts, newPorts)
	oldSite, _ := loc.Field("site")
	newSite, _ := nloc.Field("site")
	assert.Same(t, oldSite, newSite)
}

func TestAddField_Errors(t *testing.T) {
	s, err := shape.New("acme", "device", deviceRoot(t))
	require.NoError(t, err)

	_, err = s.AddField("missing.child", shape.IntField())
	assert.ErrorIs(t, err, issues.ErrValidation)

	_, err = s.AddField("ip.child", shape.IntField())
	assert.ErrorIs(t, err, issues.ErrValidation)

	_, err = s.AddField("bad name", shape.IntField())
	assert.True(t, issues.HasCode(err, issues.CodeInvalidFieldName))
}

func TestRemoveField(t *testing.T) {
	s, err := shape.New("acme", "device", deviceRoot(t))
	require.NoError(t, err)
	next, err := s.RemoveField("ip")
	require.NoError(t, err)
	_, has := next.Root.Field("ip")
	assert.False(t, has)
	_, has = s.Root.Field("ip")
	assert.True(t, has)
}

func TestWalk_PathsAndContainers(t *testing.T) {
	root := shape.NewObject().
		Field("a", shape.KeywordField()).
		Field("b", shape.NewObject().Field("c", shape.KeywordField()).MustBuild()).
		Field("items", shape.Array(shape.NewObject().Field("d", shape.IntField()).MustBuild())).
		Field("e", shape.KeywordField()).
		MustBuild()

	var paths []string
	containers := map[string]bool{}
	err := shape.Walk(root, func(v shape.Visit) error {
		paths = append(paths, v.Path)
		containers[v.Path] = v.InContainer
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "b.c", "items", "items.d", "e"}, paths)
	assert.True(t, containers["items.d"])
	assert.False(t, containers["b.c"])
}

func TestIsNestedPath(t *testing.T) {
	assert.False(t, shape.IsNestedPath("mac"))
	assert.True(t, shape.IsNestedPath("a.mac"))
}
