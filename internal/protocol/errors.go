package protocol

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/danmuck/edgerelay/internal/protocol/bounds"
	"github.com/danmuck/edgerelay/internal/protocol/frame"
	"github.com/danmuck/edgerelay/internal/protocol/tlv"
)

// Category groups errors by what went wrong, not by where.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryStructural
	CategoryIntegrity
	CategorySemantic
	CategoryTransport
	CategoryConfiguration
)

func (c Category) String() string {
	switch c {
	case CategoryStructural:
		return "structural"
	case CategoryIntegrity:
		return "integrity"
	case CategorySemantic:
		return "semantic"
	case CategoryTransport:
		return "transport"
	case CategoryConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Categorized is implemented by errors outside the wire packages that know
// their own category (pool exhaustion, invalid config, validation policy).
type Categorized interface {
	Category() Category
}

var (
	ErrEmptyMessage    = errors.New("protocol: message has no records")
	ErrMessageTooLarge = errors.New("protocol: message too large")
)

// Classify maps err onto the taxonomy. Wrapped errors are inspected.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var c Categorized
	if errors.As(err, &c) {
		return c.Category()
	}
	switch {
	case errors.Is(err, frame.ErrInvalidMagic),
		errors.Is(err, frame.ErrChecksumMismatch):
		return CategoryIntegrity
	case errors.Is(err, frame.ErrUnsupportedVersion),
		errors.Is(err, frame.ErrUnknownDomain),
		errors.Is(err, frame.ErrUnknownSource):
		return CategorySemantic
	case errors.Is(err, frame.ErrMessageTooSmall),
		errors.Is(err, frame.ErrPayloadTooLarge),
		errors.Is(err, frame.ErrPayloadSizeMismatch),
		errors.Is(err, tlv.ErrTruncated),
		errors.Is(err, tlv.ErrInvalidExtended),
		errors.Is(err, tlv.ErrInvalidType),
		errors.Is(err, tlv.ErrValueTooLarge),
		errors.Is(err, bounds.ErrOutOfBounds),
		errors.Is(err, bounds.ErrSizeLimit),
		errors.Is(err, bounds.ErrNegativeRange),
		errors.Is(err, ErrMessageTooLarge),
		errors.Is(err, ErrEmptyMessage):
		return CategoryStructural
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return CategoryTransport
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return CategoryTransport
	}
	return CategoryUnknown
}
