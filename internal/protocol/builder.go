package protocol

import (
	"fmt"
	"time"

	"github.com/danmuck/edgerelay/internal/protocol/bounds"
	"github.com/danmuck/edgerelay/internal/protocol/frame"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/protocol/tlv"
)

// Builder accumulates TLV records and produces one finalized message. The
// first failing Add is remembered and returned from Build.
type Builder struct {
	header  frame.Header
	payload []byte
	records int
	err     error
}

func NewBuilder(domain schema.RelayDomain, source schema.SourceType) *Builder {
	return &Builder{
		header:  frame.New(domain, source),
		payload: make([]byte, 0, 64),
	}
}

func (b *Builder) WithSequence(seq uint64) *Builder {
	b.header.Sequence = seq
	return b
}

func (b *Builder) WithFlags(flags uint8) *Builder {
	b.header.Flags = flags
	return b
}

func (b *Builder) WithTimestamp(ts time.Time) *Builder {
	b.header.Timestamp = uint64(ts.UnixNano())
	return b
}

// Add appends a record, choosing the extended form for values over 255 bytes.
func (b *Builder) Add(t schema.TLVType, value []byte) *Builder {
	if b.err != nil {
		return b
	}
	b.payload, b.err = tlv.Append(b.payload, t, value)
	if b.err == nil {
		b.records++
	}
	return b
}

// AddExtended appends a record in extended form regardless of size.
func (b *Builder) AddExtended(t schema.TLVType, value []byte) *Builder {
	if b.err != nil {
		return b
	}
	b.payload, b.err = tlv.AppendExtended(b.payload, t, value)
	if b.err == nil {
		b.records++
	}
	return b
}

// Build writes header and payload into one buffer, sets payload_size and
// stamps the checksum.
func (b *Builder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.records == 0 {
		return nil, ErrEmptyMessage
	}
	total := frame.HeaderLen + len(b.payload)
	if total > bounds.MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrMessageTooLarge, total, bounds.MaxMessageSize)
	}
	h := b.header
	h.PayloadSize = uint32(len(b.payload))
	h.Checksum = 0
	msg := make([]byte, total)
	frame.PutHeader(msg, h)
	copy(msg[frame.HeaderLen:], b.payload)
	if _, err := frame.CalculateChecksum(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
