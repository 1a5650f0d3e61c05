package tlv

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated       = errors.New("tlv: truncated record")
	ErrInvalidExtended = errors.New("tlv: invalid extended record")
	ErrInvalidType     = errors.New("tlv: invalid type")
	ErrValueTooLarge   = errors.New("tlv: value too large")
)

// TruncatedError reports a record whose declared size runs past the buffer.
type TruncatedError struct {
	Type            uint8
	Offset          int
	BufferSize      int
	Required        int
	SuggestedAction string
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf(
		"tlv: truncated record type=%d at offset %d: need %d bytes, %d available (%s)",
		e.Type,
		e.Offset,
		e.Required,
		e.BufferSize,
		e.SuggestedAction,
	)
}

func (e *TruncatedError) Unwrap() error { return ErrTruncated }

func newTruncated(typ uint8, offset, available, required int) *TruncatedError {
	action := "incomplete message transmission - retry or increase buffer"
	switch {
	case available == 0:
		action = "check message framing and socket reads"
	case required > 2*available:
		action = "likely corrupted TLV length field"
	}
	return &TruncatedError{
		Type:            typ,
		Offset:          offset,
		BufferSize:      available,
		Required:        required,
		SuggestedAction: action,
	}
}

type InvalidExtendedError struct {
	Offset   int
	Reserved uint8
}

func (e *InvalidExtendedError) Error() string {
	return fmt.Sprintf("tlv: extended record at offset %d has reserved byte %#02x, want 0", e.Offset, e.Reserved)
}

func (e *InvalidExtendedError) Unwrap() error { return ErrInvalidExtended }

type InvalidTypeError struct {
	Type   uint8
	Offset int
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("tlv: invalid type %d at offset %d", e.Type, e.Offset)
}

func (e *InvalidTypeError) Unwrap() error { return ErrInvalidType }

type ValueTooLargeError struct {
	Type           uint8
	Size           int
	Limit          int
	Recommendation string
}

func (e *ValueTooLargeError) Error() string {
	return fmt.Sprintf(
		"tlv: type=%d value of %d bytes exceeds limit %d (%s)",
		e.Type,
		e.Size,
		e.Limit,
		e.Recommendation,
	)
}

func (e *ValueTooLargeError) Unwrap() error { return ErrValueTooLarge }
