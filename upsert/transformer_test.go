package upsert_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reoring/shapekit/issues"
	"github.com/reoring/shapekit/shape"
	"github.com/reoring/shapekit/upsert"
)

const upperKind shape.DecoratorKind = "Upper"

func upper() upsert.Processor {
	return upsert.Func(upsert.AcceptString, func(_ context.Context, _ *shape.Shape, _ string, _ shape.Decorator, v any, _ *upsert.Context) (any, error) {
		s, _ := v.(string)
		return strings.ToUpper(s), nil
	})
}

func transformer(t *testing.T, root *shape.Node, opts ...shape.Option) *upsert.Transformer {
	t.Helper()
	sh, err := shape.New("acme", "device", root, opts...)
	require.NoError(t, err)
	table := upsert.DefaultTable(
		upsert.WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
		upsert.WithIDGenerator(func() string { return "generated" }),
	).Clone().Register(upperKind, upper())
	tr, err := upsert.New(sh, upsert.BuildRegistry(sh, table), upsert.Options{})
	require.NoError(t, err)
	return tr
}

func deviceRoot() *shape.Node {
	return shape.NewObject().
		Field("ip", shape.KeywordField()).
		Field("mac", shape.KeywordField(shape.Identity())).
		MustBuild()
}

func TestTransform_Identity(t *testing.T) {
	tr := transformer(t, deviceRoot())
	in := `{"ip":"10.0.0.1","mac":"000000000001"}`

	h, err := tr.Transform(context.Background(), []byte(in), nil)
	require.NoError(t, err)
	assert.Equal(t, "000000000001", h.ID)
	assert.JSONEq(t, in, string(h.Body))
	assert.Equal(t, in, string(h.Body))
}

func TestTransform_SharedTenancy(t *testing.T) {
	tr := transformer(t, deviceRoot(), shape.WithTenancy(shape.TenancyShared))

	h, err := tr.Transform(context.Background(), []byte(`{"ip":"10.0.0.1","mac":"000000000001"}`), &upsert.Context{TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme-000000000001", h.ID)
	assert.Equal(t, `{"structuresTenantId":"acme","ip":"10.0.0.1","mac":"000000000001"}`, string(h.Body))
}

func TestTransform_SharedTenancyClientTenantField(t *testing.T) {
	tr := transformer(t, deviceRoot(), shape.WithTenancy(shape.TenancyShared))
	ectx := &upsert.Context{TenantID: "acme"}

	h, err := tr.Transform(context.Background(), []byte(`{"structuresTenantId":"acme","mac":"1"}`), ectx)
	require.NoError(t, err)
	assert.Equal(t, `{"structuresTenantId":"acme","mac":"1"}`, string(h.Body))

	_, err = tr.Transform(context.Background(), []byte(`{"structuresTenantId":"evil","mac":"1"}`), ectx)
	require.Error(t, err)
	iss, ok := issues.AsIssues(err)
	require.True(t, ok)
	assert.Equal(t, issues.CodeTenantMismatch, iss[0].Code)
	assert.Equal(t, "structuresTenantId", iss[0].Path)

	_, err = tr.Transform(context.Background(), []byte(`{"structuresTenantId":{"id":"acme"},"mac":"1"}`), ectx)
	assert.True(t, issues.HasCode(err, issues.CodeTenantMismatch))

	h, err = tr.Transform(context.Background(), []byte(`{"mac":"1","meta":{"structuresTenantId":"other"}}`), ectx)
	require.NoError(t, err)
	assert.Equal(t, `{"structuresTenantId":"acme","mac":"1","meta":{"structuresTenantId":"other"}}`, string(h.Body))
}

func TestTransform_IdentitySharingFieldWithTimestamp(t *testing.T) {
	root := shape.NewObject().
		Field("mac", shape.KeywordField(shape.CreatedTime(), shape.Identity())).
		MustBuild()
	tr := transformer(t, root, shape.WithTenancy(shape.TenancyShared))
	ectx := &upsert.Context{TenantID: "acme"}

	h, err := tr.Transform(context.Background(), []byte(`{"mac":"1"}`), ectx)
	require.NoError(t, err)
	assert.Equal(t, "acme-1", h.ID)

	e, err := tr.TransformMap(context.Background(), map[string]any{"mac": "1"}, ectx)
	require.NoError(t, err)
	assert.Equal(t, "acme-1", e.ID)
}

func TestTransform_SharedTenancyRequiresTenant(t *testing.T) {
	tr := transformer(t, deviceRoot(), shape.WithTenancy(shape.TenancyShared))
	_, err := tr.Transform(context.Background(), []byte(`{"mac":"1"}`), &upsert.Context{})
	assert.True(t, issues.HasCode(err, issues.CodeMissingTenant))
}

func TestTransform_CustomTenantField(t *testing.T) {
	sh, err := shape.New("acme", "device", deviceRoot(), shape.WithTenancy(shape.TenancyShared))
	require.NoError(t, err)
	tr, err := upsert.New(sh, upsert.BuildRegistry(sh, upsert.DefaultTable()), upsert.Options{TenantIDField: "tenant"})
	require.NoError(t, err)

	h, err := tr.Transform(context.Background(), []byte(`{"mac":"m"}`), &upsert.Context{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, `{"tenant":"t1","mac":"m"}`, string(h.Body))
}

func TestTransformArray_PreservesOrder(t *testing.T) {
	tr := transformer(t, deviceRoot())
	in := `[{"mac":"a","ip":"1"},{"mac":"b"},{"ip":"3","mac":"c"}]`

	hs, err := tr.TransformArray(context.Background(), []byte(in), nil)
	require.NoError(t, err)
	require.Len(t, hs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{hs[0].ID, hs[1].ID, hs[2].ID})
	assert.Equal(t, `{"mac":"a","ip":"1"}`, string(hs[0].Body))
	assert.Equal(t, `{"mac":"b"}`, string(hs[1].Body))
	assert.Equal(t, `{"ip":"3","mac":"c"}`, string(hs[2].Body))
}

func TestTransformArray_WhitespaceAndEmpty(t *testing.T) {
	tr := transformer(t, deviceRoot())

	hs, err := tr.TransformArray(context.Background(), []byte(" [ {\"mac\" : \"a\"} ,\n {\"mac\":\"b\"} ] "), nil)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, `{"mac":"b"}`, string(hs[1].Body))

	hs, err = tr.TransformArray(context.Background(), []byte(`[]`), nil)
	require.NoError(t, err)
	assert.Empty(t, hs)
}

func TestTransformArray_NestedArraysPassThrough(t *testing.T) {
	root := shape.NewObject().
		Field("mac", shape.KeywordField(shape.Identity())).
		Field("ports", shape.Array(shape.Array(shape.IntField()))).
		Field("items", shape.Array(shape.NewObject().Field("d", shape.KeywordField(shape.Custom(upperKind, nil))).MustBuild())).
		MustBuild()
	tr := transformer(t, root)

	in := `[{"mac":"a","ports":[[1,2],[],[3]],"items":[{"d":"x"},{"d":"y","e":[{"d":"z"}]}]}]`
	hs, err := tr.TransformArray(context.Background(), []byte(in), nil)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, `{"mac":"a","ports":[[1,2],[],[3]],"items":[{"d":"X"},{"d":"Y","e":[{"d":"z"}]}]}`, string(hs[0].Body))
}

func TestTransform_PathTracking(t *testing.T) {
	root := shape.NewObject().
		Field("mac", shape.KeywordField(shape.Identity())).
		Field("a", shape.NewObject().
			Field("b", shape.KeywordField(shape.Custom(upperKind, nil))).
			MustBuild()).
		Field("b", shape.KeywordField()).
		MustBuild()
	tr := transformer(t, root)

	in := `{"a":{"x":{"b":"deep"},"empty":{},"b":"hit"},"b":"top","mac":"m"}`
	h, err := tr.Transform(context.Background(), []byte(in), nil)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":{"b":"deep"},"empty":{},"b":"HIT"},"b":"top","mac":"m"}`, string(h.Body))
}

func TestTransform_IdentityErrors(t *testing.T) {
	cases := []struct {
		name string
		root *shape.Node
		in   string
		code string
	}{
		{"missing", deviceRoot(), `{"ip":"1"}`, issues.CodeMissingID},
		{"null", deviceRoot(), `{"mac":null}`, issues.CodeBlankID},
		{"blank", deviceRoot(), `{"mac":"  "}`, issues.CodeBlankID},
		{"object value", deviceRoot(), `{"mac":{"a":1}}`, issues.CodeInvalidType},
		{
			"two identity fields",
			shape.NewObject().
				Field("a", shape.KeywordField(shape.Identity())).
				Field("b", shape.KeywordField(shape.Identity())).
				MustBuild(),
			`{"a":"1","b":"2"}`,
			issues.CodeDuplicateID,
		},
		{
			"no identity in shape",
			shape.NewObject().Field("ip", shape.KeywordField()).MustBuild(),
			`{"ip":"1"}`,
			issues.CodeNoIDField,
		},
		{
			"only nested identity",
			shape.NewObject().
				Field("owner", shape.NewObject().Field("id", shape.KeywordField(shape.Identity())).MustBuild()).
				MustBuild(),
			`{"owner":{"id":"1"}}`,
			issues.CodeNoIDField,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := transformer(t, tc.root)
			_, err := tr.Transform(context.Background(), []byte(tc.in), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, issues.ErrValidation)
			assert.True(t, issues.HasCode(err, tc.code), "got %v", err)
		})
	}
}

func TestTransform_NumericIdentityIsTextual(t *testing.T) {
	tr := transformer(t, deviceRoot())
	h, err := tr.Transform(context.Background(), []byte(`{"mac":42}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "42", h.ID)
	assert.Equal(t, `{"mac":"42"}`, string(h.Body))
}

func TestTransformArray_AllOrNothing(t *testing.T) {
	tr := transformer(t, deviceRoot())
	hs, err := tr.TransformArray(context.Background(), []byte(`[{"mac":"a"},{"ip":"no id"},{"mac":"c"}]`), nil)
	require.Error(t, err)
	assert.Nil(t, hs)
	iss, ok := issues.AsIssues(err)
	require.True(t, ok)
	assert.Equal(t, issues.CodeMissingID, iss[0].Code)
	assert.Equal(t, 1, iss[0].Params["entity"])
}

func TestTransform_ShapeOfInput(t *testing.T) {
	tr := transformer(t, deviceRoot())
	ctx := context.Background()

	_, err := tr.Transform(ctx, []byte(`[{"mac":"a"}]`), nil)
	assert.True(t, issues.HasCode(err, issues.CodeInvalidType))

	_, err = tr.Transform(ctx, []byte(`{"mac":"a"}{"mac":"b"}`), nil)
	assert.True(t, issues.HasCode(err, issues.CodeInvalidType))

	_, err = tr.TransformArray(ctx, []byte(`{"mac":"a"}`), nil)
	assert.True(t, issues.HasCode(err, issues.CodeInvalidType))

	_, err = tr.TransformArray(ctx, []byte(`[{"mac":"a"},1]`), nil)
	assert.True(t, issues.HasCode(err, issues.CodeInvalidType))

	_, err = tr.TransformArray(ctx, []byte(`[[{"mac":"a"}]]`), nil)
	assert.True(t, issues.HasCode(err, issues.CodeInvalidType))

	_, err = tr.Transform(ctx, []byte(`{"mac":"a"`), nil)
	assert.True(t, issues.HasCode(err, issues.CodeParseError))
}

func TestTransform_AutoGeneratedIdentity(t *testing.T) {
	root := shape.NewObject().
		Field("id", shape.KeywordField(shape.AutoGeneratedIdentity())).
		Field("name", shape.StringField()).
		MustBuild()
	tr := transformer(t, root)

	h, err := tr.Transform(context.Background(), []byte(`{"id":"","name":"x"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "generated", h.ID)
	assert.Equal(t, `{"id":"generated","name":"x"}`, string(h.Body))

	h, err = tr.Transform(context.Background(), []byte(`{"id":null}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "generated", h.ID)

	h, err = tr.Transform(context.Background(), []byte(`{"id":"given"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "given", h.ID)
}

func TestAutoGeneratedIdentity_DefaultsToUUID(t *testing.T) {
	v, err := upsert.AutoGeneratedIdentityProcessor{}.Process(context.Background(), nil, "id", shape.AutoGeneratedIdentity(), nil, nil)
	require.NoError(t, err)
	assert.Len(t, v.(string), 36)
}

func TestTransform_Timestamps(t *testing.T) {
	root := shape.NewObject().
		Field("id", shape.KeywordField(shape.Identity())).
		Field("created", shape.LongField(shape.CreatedTime())).
		Field("updated", shape.LongField(shape.UpdatedTime())).
		MustBuild()
	tr := transformer(t, root)

	h, err := tr.Transform(context.Background(), []byte(`{"id":"a"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a","created":1700000000000,"updated":1700000000000}`, string(h.Body))

	h, err = tr.Transform(context.Background(), []byte(`{"id":"a","created":5,"updated":5}`), nil)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a","created":5,"updated":1700000000000}`, string(h.Body))
}

func TestTransform_ProcessorErrorKeepsCause(t *testing.T) {
	boom := errors.New("boom")
	root := shape.NewObject().
		Field("id", shape.KeywordField(shape.Identity())).
		Field("x", shape.KeywordField(shape.Custom("Fail", nil))).
		MustBuild()
	sh, err := shape.New("acme", "device", root)
	require.NoError(t, err)
	table := upsert.DefaultTable().Clone().Register("Fail", upsert.Func(upsert.AcceptAny,
		func(context.Context, *shape.Shape, string, shape.Decorator, any, *upsert.Context) (any, error) {
			return nil, boom
		}))
	tr, err := upsert.New(sh, upsert.BuildRegistry(sh, table), upsert.Options{})
	require.NoError(t, err)

	_, err = tr.Transform(context.Background(), []byte(`{"id":"a","x":[1]}`), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, issues.HasCode(err, issues.CodeProcessor))
}

func TestTransform_Limits(t *testing.T) {
	sh, err := shape.New("acme", "device", deviceRoot())
	require.NoError(t, err)
	tr, err := upsert.New(sh, upsert.BuildRegistry(sh, upsert.DefaultTable()), upsert.Options{
		Limits: upsert.Limits{MaxDepth: 3, MaxBytes: 128},
	})
	require.NoError(t, err)

	_, err = tr.Transform(context.Background(), []byte(`{"mac":"a","x":{"y":{"z":{}}}}`), nil)
	assert.True(t, issues.HasCode(err, issues.CodeParseError))

	_, err = tr.Transform(context.Background(), []byte(`{"mac":"`+strings.Repeat("a", 200)+`"}`), nil)
	assert.True(t, issues.HasCode(err, issues.CodeTruncated))
}

func TestNew_RejectsMismatchedRegistry(t *testing.T) {
	sh, err := shape.New("acme", "device", deviceRoot())
	require.NoError(t, err)
	next, err := sh.AddField("extra", shape.KeywordField())
	require.NoError(t, err)

	_, err = upsert.New(next, upsert.BuildRegistry(sh, upsert.DefaultTable()), upsert.Options{})
	assert.Error(t, err)
}

func TestTransform_ConcurrentCalls(t *testing.T) {
	tr := transformer(t, deviceRoot())
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mac := fmt.Sprintf("%012d", i)
			h, err := tr.Transform(context.Background(), []byte(`{"mac":"`+mac+`"}`), nil)
			if err == nil && h.ID != mac {
				err = fmt.Errorf("id %q, want %q", h.ID, mac)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}
