package zip

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies an Error.
type ErrorKind int

const (
	KindIO ErrorKind = iota
	KindUnknownRecord
	KindNewerVersionNeeded
	KindEncrypted
	KindPatched
	KindUnknownMethod
	KindUnknownDataSize
	KindDataDescriptorMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io error"
	case KindUnknownRecord:
		return "unknown record type"
	case KindNewerVersionNeeded:
		return "newer version needed"
	case KindEncrypted:
		return "file is encrypted"
	case KindPatched:
		return "file is patched"
	case KindUnknownMethod:
		return "unknown compression method"
	case KindUnknownDataSize:
		return "unknown compressed data size"
	case KindDataDescriptorMismatch:
		return "data descriptor mismatch"
	default:
		return "zip error"
	}
}

// Error describes why ForEachEntry stopped processing the stream, either
// for a single entry (passed to the caller's EntryFunc) or for the stream
// as a whole (returned from ForEachEntry).
type Error struct {
	Kind ErrorKind

	Record  uint32 // set for KindUnknownRecord
	Version uint16 // set for KindNewerVersionNeeded
	Method  uint16 // set for KindUnknownMethod

	cause error // set for KindIO
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindIO:
		return e.cause.Error()
	case KindUnknownRecord:
		return fmt.Sprintf("unknown record type %#08x", e.Record)
	case KindNewerVersionNeeded:
		return fmt.Sprintf("version needed to extract %d.%d", e.Version/10, e.Version%10)
	case KindUnknownMethod:
		return fmt.Sprintf("unknown compression method %d", e.Method)
	default:
		return e.Kind.String()
	}
}

// Cause returns the underlying I/O error for a KindIO Error, or nil.
func (e *Error) Cause() error {
	return e.cause
}

func ioError(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindIO, cause: errors.Wrap(err, "zip")}
}
