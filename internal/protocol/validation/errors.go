package validation

import (
	"errors"
	"fmt"

	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
)

var (
	ErrDomainMismatch = errors.New("validation: tlv domain does not match header domain")
	ErrUnknownTLVType = errors.New("validation: unknown tlv type")
	ErrRecordSize     = errors.New("validation: record size does not match its type")
)

type DomainMismatchError struct {
	HeaderDomain schema.RelayDomain
	RecordDomain schema.RelayDomain
	Type         schema.TLVType
	Offset       int
}

func (e *DomainMismatchError) Error() string {
	return fmt.Sprintf(
		"validation: record type=%d at offset %d belongs to %s, header domain is %s",
		uint8(e.Type),
		e.Offset,
		e.RecordDomain,
		e.HeaderDomain,
	)
}

func (e *DomainMismatchError) Unwrap() error { return ErrDomainMismatch }

func (e *DomainMismatchError) Category() protocol.Category { return protocol.CategorySemantic }

type UnknownTLVTypeError struct {
	Type     uint8
	Offset   int
	Reserved bool
}

func (e *UnknownTLVTypeError) Error() string {
	if e.Reserved {
		return fmt.Sprintf("validation: reserved tlv type %d at offset %d rejected in strict mode", e.Type, e.Offset)
	}
	return fmt.Sprintf("validation: tlv type %d at offset %d belongs to no domain", e.Type, e.Offset)
}

func (e *UnknownTLVTypeError) Unwrap() error { return ErrUnknownTLVType }

func (e *UnknownTLVTypeError) Category() protocol.Category { return protocol.CategoryStructural }

type RecordSizeError struct {
	Type   schema.TLVType
	Offset int
	Want   int
	Got    int
}

func (e *RecordSizeError) Error() string {
	return fmt.Sprintf("validation: %s record at offset %d is %d bytes, want %d", e.Type, e.Offset, e.Got, e.Want)
}

func (e *RecordSizeError) Unwrap() error { return ErrRecordSize }

func (e *RecordSizeError) Category() protocol.Category { return protocol.CategoryStructural }
