// Package wimerr defines the error-kind taxonomy surfaced by the
// capture and apply engines.
package wimerr

import "fmt"

// Kind identifies the category of a failure, mirroring the error
// numbers the WIM library has historically returned to callers.
type Kind int

const (
	// KindNone is the zero value; never returned from Wrap.
	KindNone Kind = iota
	KindNoMem
	KindRead
	KindOpen
	KindStat
	KindReadlink
	KindSpecialFile
	KindInvalidUTF8String
	KindIconvNotAvailable
	KindInvalidCaptureConfig
	KindInvalidParam
	KindImageNameCollision
	KindSplitUnsupported
	KindInvalidOverlay
	KindInvalidDentry
	KindInvalidResourceHash
	KindNTFS3G
	KindUnsupported
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindNoMem:
		return "NOMEM"
	case KindRead:
		return "READ"
	case KindOpen:
		return "OPEN"
	case KindStat:
		return "STAT"
	case KindReadlink:
		return "READLINK"
	case KindSpecialFile:
		return "SPECIAL_FILE"
	case KindInvalidUTF8String:
		return "INVALID_UTF8_STRING"
	case KindIconvNotAvailable:
		return "ICONV_NOT_AVAILABLE"
	case KindInvalidCaptureConfig:
		return "INVALID_CAPTURE_CONFIG"
	case KindInvalidParam:
		return "INVALID_PARAM"
	case KindImageNameCollision:
		return "IMAGE_NAME_COLLISION"
	case KindSplitUnsupported:
		return "SPLIT_UNSUPPORTED"
	case KindInvalidOverlay:
		return "INVALID_OVERLAY"
	case KindInvalidDentry:
		return "INVALID_DENTRY"
	case KindInvalidResourceHash:
		return "INVALID_RESOURCE_HASH"
	case KindNTFS3G:
		return "NTFS_3G"
	case KindUnsupported:
		return "UNSUPPORTED"
	case KindWrite:
		return "WRITE"
	default:
		return "NONE"
	}
}

// Error is a WIM-kind-tagged error, analogous to rclone's sentinel
// fs.Error* values but carrying an additional wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, op string) error {
	return &Error{Kind: kind, Op: op}
}

// Wrap tags err with kind and op, preserving err as the cause. Wrap
// returns nil if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WrapPath is Wrap with a path attached, used where the failing
// filesystem path is useful in the message (stat/open/read failures).
func WrapPath(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is
// an *Error, otherwise returns KindNone.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindNone
}
