// Package validation decides whether a complete wire message is admissible
// under a per-domain policy.
package validation

import (
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/bounds"
	"github.com/danmuck/edgerelay/internal/protocol/frame"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/protocol/tlv"
)

// Policy is the admission policy applied by one relay domain.
type Policy struct {
	Domain         schema.RelayDomain
	VerifyChecksum bool
	MaxMessageSize int
	// Strict rejects reserved (unregistered) types inside a domain range and
	// enforces fixed record sizes.
	Strict bool
}

// DefaultPolicy returns the built-in policy for d.
func DefaultPolicy(d schema.RelayDomain) Policy {
	p := Policy{Domain: d, VerifyChecksum: true, MaxMessageSize: bounds.MaxMessageSize}
	switch d {
	case schema.DomainMarketData, schema.DomainSignal:
		p.MaxMessageSize = 64 * 1024
	case schema.DomainExecution:
		p.Strict = true
	}
	return p
}

func (p Policy) maxMessage() int {
	if p.MaxMessageSize <= 0 || p.MaxMessageSize > bounds.MaxMessageSize {
		return bounds.MaxMessageSize
	}
	return p.MaxMessageSize
}

type Validator struct {
	policy Policy
}

func New(p Policy) *Validator {
	return &Validator{policy: p}
}

func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate runs, in order: size limit, header fields, payload_size agreement,
// checksum, TLV framing, and the type/domain rules. The returned Message
// aliases raw.
func (v *Validator) Validate(raw []byte) (protocol.Message, error) {
	if limit := v.policy.maxMessage(); len(raw) > limit {
		return protocol.Message{}, &bounds.LimitError{What: "message", Size: len(raw), Limit: limit}
	}
	h, err := frame.DecodeHeader(raw)
	if err != nil {
		return protocol.Message{}, err
	}
	if err := h.Validate(); err != nil {
		return protocol.Message{}, err
	}
	if actual := len(raw) - frame.HeaderLen; int(h.PayloadSize) != actual {
		return protocol.Message{}, &frame.PayloadSizeMismatchError{Declared: int(h.PayloadSize), Actual: actual}
	}
	if v.policy.VerifyChecksum {
		if err := frame.VerifyChecksum(raw); err != nil {
			return protocol.Message{}, err
		}
	}
	records, err := tlv.Parse(raw[frame.HeaderLen:])
	if err != nil {
		return protocol.Message{}, err
	}
	if err := CheckRecords(h.Domain, records, v.policy.Strict); err != nil {
		return protocol.Message{}, err
	}
	return protocol.Message{Header: h, Records: records, Raw: raw}, nil
}

// CheckRecords enforces that every record type belongs to a domain and that
// the domain equals the header's.
func CheckRecords(domain schema.RelayDomain, records []tlv.Record, strict bool) error {
	for _, r := range records {
		owner, ok := r.Type.Domain()
		if !ok {
			return &UnknownTLVTypeError{Type: uint8(r.Type), Offset: r.Offset}
		}
		if owner != domain {
			return &DomainMismatchError{HeaderDomain: domain, RecordDomain: owner, Type: r.Type, Offset: r.Offset}
		}
		if !strict {
			continue
		}
		if !r.Type.Registered() {
			return &UnknownTLVTypeError{Type: uint8(r.Type), Offset: r.Offset, Reserved: true}
		}
		if want, fixed := r.Type.FixedSize(); fixed && len(r.Value) != want {
			return &RecordSizeError{Type: r.Type, Offset: r.Offset, Want: want, Got: len(r.Value)}
		}
	}
	return nil
}
