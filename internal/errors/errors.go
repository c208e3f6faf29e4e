package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Host errors. Anything the host rejects that is not classified more
// precisely is wrapped with ErrHostUnavailable.
var (
	ErrHostUnavailable   = errors.New("host unavailable")
	ErrSheetNotFound     = errors.New("sheet not found")
	ErrSheetExists       = errors.New("sheet already exists")
	ErrInvalidSheetName  = errors.New("invalid sheet name")
	ErrLastVisibleSheet  = errors.New("at least one sheet must remain visible")
	ErrEventsUnsupported = errors.New("host does not support change notifications")
)

// Name errors.
var (
	ErrNameCollision = errors.New("a sheet with that name already exists")
	ErrEmptyName     = errors.New("name must not be empty")
)

// Structural errors. These indicate an invariant violation in the tree
// and should not be reachable from normal intent flow.
var (
	ErrParentNotFound = errors.New("parent node not found")
	ErrNodeNotFound   = errors.New("node not found")
	ErrCycleDetected  = errors.New("move would create a cycle")
	ErrDuplicateSheet = errors.New("sheet is already referenced by another node")
)

// Session errors.
var (
	ErrPersistence    = errors.New("saving tree structure failed")
	ErrPartialBatch   = errors.New("some items failed")
	ErrNotReady       = errors.New("tree is still loading")
	ErrNothingToPaste = errors.New("nothing to paste")
	ErrNothingToCopy  = errors.New("no items selected to copy")
)

// IsStructural reports whether err is one of the tree invariant errors.
func IsStructural(err error) bool {
	return errors.Is(err, ErrParentNotFound) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrDuplicateSheet)
}

// ItemError records the failure of one item in a batch operation.
type ItemError struct {
	Item string
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Item, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// BatchError is returned by multi-item operations (delete, paste) when
// some items failed. Successful items are already committed.
type BatchError struct {
	Op       string
	Total    int
	Failures []ItemError
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}

	return fmt.Sprintf("%s: %d of %d items failed: %s", e.Op, len(e.Failures), e.Total, strings.Join(parts, "; "))
}

// Is matches ErrPartialBatch so callers can test with errors.Is.
func (e *BatchError) Is(target error) bool {
	return target == ErrPartialBatch
}

// Unwrap exposes the individual item errors to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}

	return errs
}

// Add records a failed item.
func (e *BatchError) Add(item string, err error) {
	e.Failures = append(e.Failures, ItemError{Item: item, Err: err})
}

// ErrOrNil returns e when at least one item failed, nil otherwise.
func (e *BatchError) ErrOrNil() error {
	if e == nil || len(e.Failures) == 0 {
		return nil
	}

	return e
}
