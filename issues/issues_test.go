package issues_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reoring/shapekit/issues"
)

func TestIssues_ErrorSummary(t *testing.T) {
	iss := issues.Issues{
		{Path: "a", Code: issues.CodeInvalidType, Message: "x"},
		{Path: "b", Code: issues.CodeUnknownKey, Message: "y"},
		{Path: "", Code: issues.CodeMissingID, Message: "z"},
		{Path: "d", Code: issues.CodeBlankID, Message: "w"},
	}
	s := iss.Error()
	assert.Contains(t, s, "invalid_type at a: x")
	assert.Contains(t, s, "missing_id at <root>")
	assert.Contains(t, s, "(total 4)")
}

func TestCategories(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		target error
	}{
		{"validation", issues.At("f", issues.CodeBlankID, "blank"), issues.ErrValidation},
		{"not found", &issues.NotFoundError{Kind: "shape", ID: "x"}, issues.ErrNotFound},
		{"state", &issues.StateError{Op: "close", ShapeID: "x", Reason: "not open"}, issues.ErrState},
		{"transient", &issues.TransientStoreError{ShapeID: "x", BatchSize: 3, Attempts: 2, Err: errors.New("boom")}, issues.ErrTransientStore},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			assert.ErrorIs(t, wrapped, tc.target)
		})
	}
}

func TestAsIssuesAndHasCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", issues.At("mac", issues.CodeDuplicateID, "dup"))
	iss, ok := issues.AsIssues(err)
	require.True(t, ok)
	require.Len(t, iss, 1)
	assert.Equal(t, "mac", iss[0].Path)
	assert.True(t, issues.HasCode(err, issues.CodeDuplicateID))
	assert.False(t, issues.HasCode(err, issues.CodeBlankID))
	assert.False(t, issues.HasCode(errors.New("plain"), issues.CodeBlankID))
}

func TestTransientStoreError_Unwrap(t *testing.T) {
	cause := errors.New("throttled")
	err := &issues.TransientStoreError{ShapeID: "s", BatchSize: 10, Attempts: 3, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "batch of 10")
}
