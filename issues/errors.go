package issues

import "fmt"

// NotFoundError reports a referenced shape or session that does not exist.
type NotFoundError struct {
	Kind string // "shape" or "session"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("shapekit: %s %q not found", e.Kind, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StateError reports a programming error such as pushing to a bulk session
// that was never opened, or closing one more time than it was opened.
type StateError struct {
	Op      string
	ShapeID string
	Reason  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("shapekit: %s %q: %s", e.Op, e.ShapeID, e.Reason)
}

// Is matches ErrState.
func (e *StateError) Is(target error) bool { return target == ErrState }

// TransientStoreError reports a store failure that survived the store's own
// retry policy. It carries enough context to replay the batch.
type TransientStoreError struct {
	ShapeID   string
	BatchSize int
	Attempts  int
	Err       error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("shapekit: store write for %q failed after %d attempt(s) (batch of %d): %v",
		e.ShapeID, e.Attempts, e.BatchSize, e.Err)
}

// Is matches ErrTransientStore.
func (e *TransientStoreError) Is(target error) bool { return target == ErrTransientStore }

func (e *TransientStoreError) Unwrap() error { return e.Err }
