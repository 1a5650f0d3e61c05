// Package bounds provides checked access to wire buffers and the protocol's
// hard size limits. Every offset read in the protocol packages goes through a
// View so an out-of-range access surfaces as an error instead of a panic.
package bounds

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	MaxStandardTLVValue = 255
	MaxExtendedTLVValue = 65535
	MaxMessageSize      = 1 << 20
	MaxAllocation       = 100 << 20
)

var (
	ErrOutOfBounds   = errors.New("bounds: access out of range")
	ErrSizeLimit     = errors.New("bounds: size limit exceeded")
	ErrNegativeRange = errors.New("bounds: negative offset or length")
)

// RangeError describes a rejected read against a buffer.
type RangeError struct {
	Offset     int
	Length     int
	BufferSize int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf(
		"bounds: read of %d bytes at offset %d exceeds buffer of %d bytes",
		e.Length,
		e.Offset,
		e.BufferSize,
	)
}

func (e *RangeError) Unwrap() error { return ErrOutOfBounds }

// LimitError reports a size that exceeds one of the protocol limits.
type LimitError struct {
	What  string
	Size  int
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("bounds: %s size %d exceeds limit %d", e.What, e.Size, e.Limit)
}

func (e *LimitError) Unwrap() error { return ErrSizeLimit }

// CheckAllocation guards a buffer allocation whose size came off the wire.
func CheckAllocation(size int) error {
	if size < 0 {
		return ErrNegativeRange
	}
	if size > MaxAllocation {
		return &LimitError{What: "allocation", Size: size, Limit: MaxAllocation}
	}
	return nil
}

// CheckMessageSize enforces the 1 MiB ceiling on a complete message.
func CheckMessageSize(size int) error {
	if size > MaxMessageSize {
		return &LimitError{What: "message", Size: size, Limit: MaxMessageSize}
	}
	return nil
}

// View is a read-only window over a byte slice with checked accessors.
type View struct {
	buf []byte
}

func NewView(b []byte) View {
	return View{buf: b}
}

func (v View) Len() int { return len(v.buf) }

// Remaining returns how many bytes exist at and after off.
func (v View) Remaining(off int) int {
	if off < 0 || off >= len(v.buf) {
		return 0
	}
	return len(v.buf) - off
}

func (v View) check(off, n int) error {
	if off < 0 || n < 0 {
		return ErrNegativeRange
	}
	if off > len(v.buf) || len(v.buf)-off < n {
		return &RangeError{Offset: off, Length: n, BufferSize: len(v.buf)}
	}
	return nil
}

// Slice returns buf[off:off+n] without copying.
func (v View) Slice(off, n int) ([]byte, error) {
	if err := v.check(off, n); err != nil {
		return nil, err
	}
	return v.buf[off : off+n : off+n], nil
}

// Copy returns an owned copy of buf[off:off+n].
func (v View) Copy(off, n int) ([]byte, error) {
	s, err := v.Slice(off, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s)
	return out, nil
}

func (v View) U8(off int) (uint8, error) {
	if err := v.check(off, 1); err != nil {
		return 0, err
	}
	return v.buf[off], nil
}

func (v View) U16(off int) (uint16, error) {
	if err := v.check(off, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(v.buf[off:]), nil
}

func (v View) U32(off int) (uint32, error) {
	if err := v.check(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(v.buf[off:]), nil
}

func (v View) U64(off int) (uint64, error) {
	if err := v.check(off, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(v.buf[off:]), nil
}

func (v View) I64(off int) (int64, error) {
	u, err := v.U64(off)
	return int64(u), err
}
