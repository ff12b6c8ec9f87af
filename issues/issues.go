// Package issues defines the error model shared by every shapekit package.
//
// Validation failures are reported as [Issues], a list of coded entries that
// implements error. The remaining failure categories (missing shapes or
// sessions, transient store failures and misuse of session state) have their
// own error types. Every category matches a sentinel through errors.Is:
//
//	errors.Is(err, issues.ErrValidation)
//	errors.Is(err, issues.ErrNotFound)
//	errors.Is(err, issues.ErrTransientStore)
//	errors.Is(err, issues.ErrState)
package issues

import (
	"errors"
	"fmt"
	"strings"
)

// Issue codes.
const (
	CodeInvalidFieldName   = "invalid_field_name"
	CodeDuplicateField     = "duplicate_field"
	CodeDuplicateDecorator = "duplicate_decorator"
	CodeInvalidShape       = "invalid_shape"
	CodeInvalidType        = "invalid_type"
	CodeMissingID          = "missing_id"
	CodeBlankID            = "blank_id"
	CodeDuplicateID        = "duplicate_id"
	CodeNoIDField          = "no_id_field"
	CodeMissingTenant      = "missing_tenant"
	CodeTenantMismatch     = "tenant_mismatch"
	CodeUnknownKey         = "unknown_key"
	CodeDuplicateKey       = "duplicate_key"
	CodeParseError         = "parse_error"
	CodeTruncated          = "truncated"
	CodeProcessor          = "processor_error"
)

// Sentinels for the four error categories.
var (
	ErrValidation     = errors.New("shapekit: validation failed")
	ErrNotFound       = errors.New("shapekit: not found")
	ErrTransientStore = errors.New("shapekit: transient store failure")
	ErrState          = errors.New("shapekit: invalid state")
)

// Issue represents a single validation entry.
type Issue struct {
	Path    string // dotted field path, empty for the document root
	Code    string // one of the Code constants
	Message string
	// Params carries structured parameters for observability.
	Params map[string]any
	Cause  error
}

// Issues is a collection of validation errors that implements error.
type Issues []Issue

// Error summarizes the first few issues.
func (iss Issues) Error() string {
	if len(iss) == 0 {
		return ""
	}
	const maxShown = 3
	b := &strings.Builder{}
	n := len(iss)
	lim := n
	if lim > maxShown {
		lim = maxShown
	}
	for i := 0; i < lim; i++ {
		if i > 0 {
			b.WriteString("; ")
		}
		it := iss[i]
		path := it.Path
		if path == "" {
			path = "<root>"
		}
		fmt.Fprintf(b, "%s at %s: %s", it.Code, path, it.Message)
	}
	if n > lim {
		fmt.Fprintf(b, "; ... (total %d)", n)
	}
	return b.String()
}

// Is reports ErrValidation so callers can branch on the category.
func (iss Issues) Is(target error) bool { return target == ErrValidation }

// Unwrap exposes issue causes to errors.Is/As.
func (iss Issues) Unwrap() []error {
	var out []error
	for _, it := range iss {
		if it.Cause != nil {
			out = append(out, it.Cause)
		}
	}
	return out
}

// Append appends issues to the destination, initializing the slice when
// needed.
func Append(dst Issues, more ...Issue) Issues {
	if dst == nil {
		dst = Issues{}
	}
	return append(dst, more...)
}

// At builds a single-issue Issues value.
func At(path, code, format string, args ...any) Issues {
	return Issues{{Path: path, Code: code, Message: fmt.Sprintf(format, args...)}}
}

// AsIssues extracts Issues from an error using errors.As internally.
func AsIssues(err error) (Issues, bool) {
	if err == nil {
		return nil, false
	}
	var iss Issues
	if errors.As(err, &iss) {
		return iss, true
	}
	return nil, false
}

// HasCode reports whether err carries an issue with the given code.
func HasCode(err error, code string) bool {
	iss, ok := AsIssues(err)
	if !ok {
		return false
	}
	for _, it := range iss {
		if it.Code == code {
			return true
		}
	}
	return false
}
