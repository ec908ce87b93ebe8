package types

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Typed Errors (stable categories for programmatic handling)
// -----------------------------------------------------------------------------

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindReadOnly        ErrKind = iota + 1 // mutation attempted on a read-only document or device
	ErrKindFrozenSize                         // length change attempted on a fixed-size document or device
	ErrKindSeek                               // offset outside the addressable range
	ErrKindIO                                 // underlying storage failure
	ErrKindWriteIncomplete                    // fewer bytes persisted than requested
	ErrKindLoadLimit                          // full in-memory load larger than the configured limit
	ErrKindDocumentRead                       // device failure surfaced through a document read
	ErrKindSave                               // save could not be completed
	ErrKindOperation                          // background operation failed
	ErrKindConflict                           // device already opened with incompatible options
	ErrKindCancelled                          // cooperative cancellation observed
)

var kindNames = map[ErrKind]string{
	ErrKindReadOnly:        "ReadOnlyViolation",
	ErrKindFrozenSize:      "FrozenSizeViolation",
	ErrKindSeek:            "SeekFailure",
	ErrKindIO:              "IOFailure",
	ErrKindWriteIncomplete: "WriteIncomplete",
	ErrKindLoadLimit:       "LoadLimitExceeded",
	ErrKindDocumentRead:    "DocumentReadFailure",
	ErrKindSave:            "SaveFailure",
	ErrKindOperation:       "OperationFailure",
	ErrKindConflict:        "DeviceConflict",
	ErrKindCancelled:       "Cancelled",
}

// String implements the Stringer interface for ErrKind.
func (k ErrKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrKind(%d)", int(k))
}

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels compare by category.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e != nil && t.Kind == e.Kind
}

// Errorf builds an *Error of the given kind wrapping cause.
func Errorf(kind ErrKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the first typed error in err's chain, or 0.
func KindOf(err error) ErrKind {
	var k interface{ kind() ErrKind }
	if errors.As(err, &k) {
		return k.kind()
	}
	return 0
}

func (e *Error) kind() ErrKind { return e.Kind }

// Sentinels commonly returned by implementations.
var (
	// ErrReadOnly indicates a mutation was attempted on a read-only handle.
	ErrReadOnly = &Error{Kind: ErrKindReadOnly, Msg: "operation is not allowed: read only"}
	// ErrFrozenSize indicates an insert, remove or resize on a fixed-size handle.
	ErrFrozenSize = &Error{Kind: ErrKindFrozenSize, Msg: "operation is not allowed: size is fixed"}
	// ErrSeek indicates an offset outside the addressable range.
	ErrSeek = &Error{Kind: ErrKindSeek, Msg: "offset is out of range"}
	// ErrIO indicates a failure of the underlying storage.
	ErrIO = &Error{Kind: ErrKindIO, Msg: "device i/o failure"}
	// ErrConflict indicates the same resource is already open with incompatible options.
	ErrConflict = &Error{Kind: ErrKindConflict, Msg: "device conflicts with an already opened device"}
	// ErrCancelled is returned by checkpoints once cancellation was requested.
	ErrCancelled = &Error{Kind: ErrKindCancelled, Msg: "operation cancelled"}
)

// -----------------------------------------------------------------------------
// Errors carrying data
// -----------------------------------------------------------------------------

// WriteIncompleteError reports a write that persisted fewer bytes than requested.
type WriteIncompleteError struct {
	Offset    int64
	Written   int
	Requested int
	Err       error // optional underlying cause
}

func (e *WriteIncompleteError) Error() string {
	msg := fmt.Sprintf("write incomplete at offset %d: %d of %d bytes written", e.Offset, e.Written, e.Requested)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteIncompleteError) Unwrap() error { return e.Err }

func (e *WriteIncompleteError) Is(target error) bool { return isKind(target, ErrKindWriteIncomplete) }

func (e *WriteIncompleteError) kind() ErrKind { return ErrKindWriteIncomplete }

// LoadLimitError reports a full in-memory load larger than the configured limit.
type LoadLimitError struct {
	Requested int64
	Limit     int64
}

func (e *LoadLimitError) Error() string {
	return fmt.Sprintf("load limit exceeded: requested %s, limit %s", FormatSize(e.Requested), FormatSize(e.Limit))
}

func (e *LoadLimitError) Is(target error) bool { return isKind(target, ErrKindLoadLimit) }

func (e *LoadLimitError) kind() ErrKind { return ErrKindLoadLimit }

// DocumentReadError reports a device failure observed while reading document bytes.
type DocumentReadError struct {
	Offset int64 // logical document offset of the failing span
	Err    error
}

func (e *DocumentReadError) Error() string {
	return fmt.Sprintf("document read failed at offset %d: %v", e.Offset, e.Err)
}

func (e *DocumentReadError) Unwrap() error { return e.Err }

func (e *DocumentReadError) Is(target error) bool { return isKind(target, ErrKindDocumentRead) }

func (e *DocumentReadError) kind() ErrKind { return ErrKindDocumentRead }

// SaveError reports a failed save.
//
// Partial is true when bytes were already written to the target before the
// failure; a false value guarantees the target was left untouched.
type SaveError struct {
	Device  string // name of the device being saved to
	Span    int    // index of the span being written, -1 when no span was involved
	Offset  int64  // logical offset of that span
	Partial bool
	Err     error
}

func (e *SaveError) Error() string {
	state := "no data written"
	if e.Partial {
		state = "target partially written"
	}
	if e.Span >= 0 {
		return fmt.Sprintf("save to %q failed at span %d (offset %d, %s): %v", e.Device, e.Span, e.Offset, state, e.Err)
	}
	return fmt.Sprintf("save to %q failed (%s): %v", e.Device, state, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

func (e *SaveError) Is(target error) bool { return isKind(target, ErrKindSave) }

func (e *SaveError) kind() ErrKind { return ErrKindSave }

// OperationError reports a background operation that ended in the Failed state.
type OperationError struct {
	Title string
	Err   error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %q failed: %v", e.Title, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

func (e *OperationError) Is(target error) bool { return isKind(target, ErrKindOperation) }

func (e *OperationError) kind() ErrKind { return ErrKindOperation }

func isKind(target error, kind ErrKind) bool {
	var t *Error
	return errors.As(target, &t) && t.Kind == kind
}

// Kind-only sentinels for the data-carrying errors, usable with errors.Is.
var (
	ErrWriteIncomplete = &Error{Kind: ErrKindWriteIncomplete, Msg: "write incomplete"}
	ErrLoadLimit       = &Error{Kind: ErrKindLoadLimit, Msg: "load limit exceeded"}
	ErrDocumentRead    = &Error{Kind: ErrKindDocumentRead, Msg: "document read failed"}
	ErrSave            = &Error{Kind: ErrKindSave, Msg: "save failed"}
	ErrOperation       = &Error{Kind: ErrKindOperation, Msg: "operation failed"}
)

const sizeUnits = "KMGTPE"

// FormatSize renders a byte count with a binary unit suffix ("1.5 MiB").
func FormatSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(1024), 0
	for v := n / 1024; v >= 1024 && exp < len(sizeUnits)-1; v /= 1024 {
		div *= 1024
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), sizeUnits[exp])
}
