package frame

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	ErrMessageTooSmall     = errors.New("frame: message smaller than header")
	ErrInvalidMagic        = errors.New("frame: invalid magic")
	ErrUnsupportedVersion  = errors.New("frame: unsupported version")
	ErrUnknownDomain       = errors.New("frame: unknown relay domain")
	ErrUnknownSource       = errors.New("frame: unknown source")
	ErrChecksumMismatch    = errors.New("frame: checksum mismatch")
	ErrPayloadTooLarge     = errors.New("frame: payload too large")
	ErrPayloadSizeMismatch = errors.New("frame: payload_size does not match buffer")
)

type MessageTooSmallError struct {
	Need int
	Got  int
}

func (e *MessageTooSmallError) Error() string {
	return fmt.Sprintf("frame: message too small: need %d bytes, got %d", e.Need, e.Got)
}

func (e *MessageTooSmallError) Unwrap() error { return ErrMessageTooSmall }

type InvalidMagicError struct {
	Expected  uint32
	Actual    uint32
	Diagnosis string
}

func (e *InvalidMagicError) Error() string {
	return fmt.Sprintf(
		"frame: invalid magic: expected %#08x, got %#08x (%s)",
		e.Expected,
		e.Actual,
		e.Diagnosis,
	)
}

func (e *InvalidMagicError) Unwrap() error { return ErrInvalidMagic }

// DiagnoseMagic names the most likely reason a magic value is wrong.
func DiagnoseMagic(actual uint32) string {
	switch {
	case actual == 0:
		return "uninitialized buffer"
	case actual == 0xFFFFFFFF:
		return "corrupted buffer or wrong endianness"
	case bits.ReverseBytes32(actual) == Magic:
		return "byte order (endianness) mismatch"
	default:
		return "data corruption or incompatible protocol version"
	}
}

type ChecksumMismatchError struct {
	Expected    uint32
	Calculated  uint32
	MessageSize int
	LikelyCause string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf(
		"frame: checksum mismatch: header %#08x, calculated %#08x, message_size=%d (%s)",
		e.Expected,
		e.Calculated,
		e.MessageSize,
		e.LikelyCause,
	)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksumMismatch }

func checksumCause(expected, calculated uint32) string {
	switch {
	case expected == 0:
		return "message created without checksum calculation"
	case calculated == 0:
		return "checksum calculation failed or disabled"
	default:
		return "data corruption during transmission"
	}
}

type VersionError struct {
	Got  uint8
	Want uint8
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("frame: unsupported version %d (supported %d)", e.Got, e.Want)
}

func (e *VersionError) Unwrap() error { return ErrUnsupportedVersion }

type UnknownDomainError struct {
	Value uint8
}

func (e *UnknownDomainError) Error() string {
	return fmt.Sprintf("frame: unknown relay domain %d", e.Value)
}

func (e *UnknownDomainError) Unwrap() error { return ErrUnknownDomain }

type UnknownSourceError struct {
	Value uint8
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("frame: unknown source %d", e.Value)
}

func (e *UnknownSourceError) Unwrap() error { return ErrUnknownSource }

type PayloadTooLargeError struct {
	Size           int
	Limit          int
	Recommendation string
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf(
		"frame: payload of %d bytes exceeds limit %d (%s)",
		e.Size,
		e.Limit,
		e.Recommendation,
	)
}

func (e *PayloadTooLargeError) Unwrap() error { return ErrPayloadTooLarge }

func newPayloadTooLarge(size, limit int) *PayloadTooLargeError {
	rec := "consider message fragmentation or protocol upgrade"
	if limit > 0 && size > 10*limit {
		rec = "likely corrupted length field - validate TLV structure"
	}
	return &PayloadTooLargeError{Size: size, Limit: limit, Recommendation: rec}
}

type PayloadSizeMismatchError struct {
	Declared int
	Actual   int
}

func (e *PayloadSizeMismatchError) Error() string {
	return fmt.Sprintf("frame: header declares %d payload bytes, buffer holds %d", e.Declared, e.Actual)
}

func (e *PayloadSizeMismatchError) Unwrap() error { return ErrPayloadSizeMismatch }
