// Package cachetypes holds the types shared by internal/recordstore,
// internal/gc, internal/workqueue, and the root blobcache package: the
// Response/Record shapes of spec.md §3, and the error taxonomy of
// spec.md §7. Keeping these in their own leaf package lets every layer
// speak the same vocabulary without an import cycle back to the facade.
package cachetypes

import (
	"fmt"

	"github.com/pkg/errors"
)

// Result is the outcome of a cache operation.
type Result int

const (
	Succeeded Result = iota
	NotFound
	OperationError
)

func (r Result) String() string {
	switch r {
	case Succeeded:
		return "Succeeded"
	case NotFound:
		return "NotFound"
	case OperationError:
		return "OperationError"
	default:
		return "Unknown"
	}
}

// Record is the payload-bearing half of a successful load Response.
type Record struct {
	Key      string
	Data     []byte
	RefCount uint32
	TTL      int64
}

// Response is what every public cache operation ultimately delivers.
type Response struct {
	Result Result
	Err    error
	Record *Record
}

// KeyResult pairs a key with its individual Response, for the per-key batch
// operations (lock/unlock/remove).
type KeyResult struct {
	Key      string
	Response Response
}

// Sentinel errors for the corrupt-file taxonomy of spec.md §7. They are
// distinct values, not wrappers: internal/recordstore translates the
// lower-level header.Err* values into these, so callers can switch on a
// single set regardless of which layer detected the corruption.
var (
	ErrMagicMismatch           = errors.New("blobcache: magic mismatch")
	ErrHeaderAlignmentMismatch = errors.New("blobcache: header alignment mismatch")
	ErrWrongHeaderSize         = errors.New("blobcache: wrong header size")
	ErrWrongPayloadSize        = errors.New("blobcache: wrong payload size")
	ErrInvalidHeaderCRC        = errors.New("blobcache: invalid header CRC")
	ErrNotEnoughDataToGetHeader = errors.New("blobcache: not enough data to get header")
	ErrRecordIsStreamAndBusy   = errors.New("blobcache: record is stream and busy")
	ErrInternalInconsistency   = errors.New("blobcache: internal inconsistency")
)

// POSIXError wraps an underlying filesystem error (a *os.PathError or
// syscall.Errno, surfaced verbatim through afero) with pkg/errors so a
// diagnostic line can report both "what we were doing" and "what errno
// said" without losing the original error for errors.Is/As.
type POSIXError struct {
	Op  string
	Err error
}

func (e *POSIXError) Error() string {
	return fmt.Sprintf("blobcache: posix error during %s: %v", e.Op, e.Err)
}

func (e *POSIXError) Unwrap() error { return e.Err }

// WrapPOSIX builds a POSIXError, or returns nil if err is nil.
func WrapPOSIX(op string, err error) error {
	if err == nil {
		return nil
	}
	return &POSIXError{Op: op, Err: errors.WithStack(err)}
}
