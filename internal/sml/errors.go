package sml

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrChecksumMismatch is returned when a frame trailer CRC does not match
	// the frame contents.
	ErrChecksumMismatch = errors.New("sml: checksum mismatch")

	// ErrOverflow is returned when the framer buffers more than its limit
	// without finding an end sequence.
	ErrOverflow = errors.New("sml: buffer overflow")

	// ErrDecode is the parent of every DecodeError.
	ErrDecode = errors.New("sml: decode error")
)

// FrameErrorKind classifies framer failures.
type FrameErrorKind int

const (
	// KindChecksumMismatch means the frame CRC did not validate.
	KindChecksumMismatch FrameErrorKind = iota + 1
	// KindOverflow means the buffer limit was reached before a terminator.
	KindOverflow
)

func (k FrameErrorKind) String() string {
	switch k {
	case KindChecksumMismatch:
		return "checksum_mismatch"
	case KindOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// FrameError is returned by Framer.Push when buffered data had to be
// discarded. The framer stays usable after any FrameError.
type FrameError struct {
	Kind     FrameErrorKind
	Buffered int    // bytes discarded
	Want     uint16 // CRC carried in the trailer (checksum errors only)
	Got      uint16 // CRC computed over the frame (checksum errors only)
}

func (e *FrameError) Error() string {
	switch e.Kind {
	case KindChecksumMismatch:
		return fmt.Sprintf("sml: checksum mismatch: trailer 0x%04x, computed 0x%04x (%d bytes dropped)",
			e.Want, e.Got, e.Buffered)
	case KindOverflow:
		return fmt.Sprintf("sml: buffer overflow: %d bytes without end sequence", e.Buffered)
	default:
		return fmt.Sprintf("sml: frame error %s", e.Kind)
	}
}

// Is lets errors.Is match the sentinel for the error kind.
func (e *FrameError) Is(target error) bool {
	switch e.Kind {
	case KindChecksumMismatch:
		return target == ErrChecksumMismatch
	case KindOverflow:
		return target == ErrOverflow
	}
	return false
}

// DecodeError reports malformed frame contents.
type DecodeError struct {
	Offset int // byte offset into the frame payload
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("sml: decode error at offset %d: %s", e.Offset, e.Reason)
}

// Unwrap returns ErrDecode so callers can use errors.Is(err, ErrDecode).
func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

func decodeErrorf(offset int, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
