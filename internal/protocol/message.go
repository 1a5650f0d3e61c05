package protocol

import (
	"github.com/danmuck/edgerelay/internal/protocol/bounds"
	"github.com/danmuck/edgerelay/internal/protocol/frame"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/protocol/tlv"
)

// Message is a parsed wire message. Records alias Raw.
type Message struct {
	Header  frame.Header
	Records []tlv.Record
	Raw     []byte
}

func (m Message) Payload() []byte {
	if len(m.Raw) < frame.HeaderLen {
		return nil
	}
	return m.Raw[frame.HeaderLen:]
}

// Find returns the first record of type t.
func (m Message) Find(t schema.TLVType) (tlv.Record, bool) {
	return tlv.Find(m.Records, t)
}

// Parse checks structure only: size limits, header fields, payload_size
// agreement and TLV framing. Checksum and domain policy live in the
// validation package.
func Parse(raw []byte) (Message, error) {
	if err := bounds.CheckMessageSize(len(raw)); err != nil {
		return Message{}, err
	}
	h, err := frame.DecodeHeader(raw)
	if err != nil {
		return Message{}, err
	}
	if err := h.Validate(); err != nil {
		return Message{}, err
	}
	if actual := len(raw) - frame.HeaderLen; int(h.PayloadSize) != actual {
		return Message{}, &frame.PayloadSizeMismatchError{Declared: int(h.PayloadSize), Actual: actual}
	}
	records, err := tlv.Parse(raw[frame.HeaderLen:])
	if err != nil {
		return Message{}, err
	}
	return Message{Header: h, Records: records, Raw: raw}, nil
}
