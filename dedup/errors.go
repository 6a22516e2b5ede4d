package dedup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/luinbytes/linkdedup/storage"
)

// ErrorKind classifies a per-file or per-path failure so callers can render
// it without inspecting OS error values.
type ErrorKind string

const (
	// Scan failures
	Unreadable       ErrorKind = "UNREADABLE"
	WalkObstructed   ErrorKind = "WALK_OBSTRUCTED"
	RootInaccessible ErrorKind = "ROOT_INACCESSIBLE"

	// Merge failures
	NotFound         ErrorKind = "NOT_FOUND"
	PermissionDenied ErrorKind = "PERMISSION_DENIED"
	CrossDevice      ErrorKind = "CROSS_DEVICE"
	ContentChanged   ErrorKind = "CONTENT_CHANGED"
	InvalidRequest   ErrorKind = "INVALID_REQUEST"
	Canceled         ErrorKind = "CANCELED"
	Other            ErrorKind = "OTHER"

	// MasterUnavailable marks redundant paths left alone because the master
	// failed verification; the wrapped error carries the master's own kind.
	MasterUnavailable ErrorKind = "MASTER_UNAVAILABLE"
)

var (
	errNotRegular   = errors.New("not a regular file")
	errSizeMismatch = errors.New("size differs from master")
)

// Error is the structured error returned by the scanner and the consolidator.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

// Error implements the error interface. OS path errors and nested errors
// already name the operation and path, so only the kind is prefixed to them.
func (e *Error) Error() string {
	var (
		pathErr *fs.PathError
		linkErr *os.LinkError
		inner   *Error
	)
	if errors.As(e.Err, &pathErr) || errors.As(e.Err, &linkErr) || errors.As(e.Err, &inner) {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Err)
	}
	msg := fmt.Sprintf("[%s] %s %s", e.Kind, e.Op, e.Path)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: NotFound})
// works regardless of op or path.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the kind carried by err. Plain OS errors are classified by
// their cause; anything unrecognised is Other.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return classify(err)
}

// IsKind checks if err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Canceled
	case errors.Is(err, fs.ErrNotExist):
		return NotFound
	case errors.Is(err, fs.ErrPermission):
		return PermissionDenied
	case storage.IsCrossDevice(err):
		return CrossDevice
	default:
		return Other
	}
}

// PathFailure reports one path that could not be processed.
type PathFailure struct {
	Path string    `json:"path"`
	Kind ErrorKind `json:"kind"`
	Err  error     `json:"-"`
}

// Message returns the underlying error text, if any.
func (f PathFailure) Message() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}

func failure(path string, err error) PathFailure {
	return PathFailure{Path: path, Kind: KindOf(err), Err: err}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
