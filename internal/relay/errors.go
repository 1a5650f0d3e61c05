package relay

import (
	"errors"
	"fmt"

	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/bounds"
	"github.com/danmuck/edgerelay/internal/protocol/frame"
	"github.com/danmuck/edgerelay/internal/protocol/records"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/protocol/tlv"
	"github.com/danmuck/edgerelay/internal/protocol/validation"
	"github.com/danmuck/edgerelay/internal/topics"
)

var (
	ErrInvalidConfig   = errors.New("relay: invalid config")
	ErrEngineClosed    = errors.New("relay: engine closed")
	ErrNotForwardable  = errors.New("relay: message not forwardable by this relay")
	ErrInvalidControl  = errors.New("relay: invalid control message")
	ErrTooManyFailures = errors.New("relay: too many consecutive failures")

	errPeerClosed = errors.New("relay: peer closed connection")
)

type NotForwardableError struct {
	Relay  schema.RelayDomain
	Header schema.RelayDomain
}

func (e *NotForwardableError) Error() string {
	return fmt.Sprintf("relay: %s relay does not forward %s messages", e.Relay, e.Header)
}

func (e *NotForwardableError) Unwrap() error { return ErrNotForwardable }

func (e *NotForwardableError) Category() protocol.Category { return protocol.CategorySemantic }

type controlError struct {
	reason string
}

func (e *controlError) Error() string { return "relay: invalid control message: " + e.reason }

func (e *controlError) Unwrap() error { return ErrInvalidControl }

func (e *controlError) Category() protocol.Category { return protocol.CategorySemantic }

// rejectReason is a stable metrics label for a dropped message.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrInvalidMagic):
		return "invalid_magic"
	case errors.Is(err, frame.ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, frame.ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, frame.ErrUnknownDomain):
		return "unknown_domain"
	case errors.Is(err, frame.ErrUnknownSource):
		return "unknown_source"
	case errors.Is(err, frame.ErrPayloadSizeMismatch):
		return "payload_size_mismatch"
	case errors.Is(err, frame.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, frame.ErrMessageTooSmall):
		return "message_too_small"
	case errors.Is(err, bounds.ErrSizeLimit):
		return "message_too_large"
	case errors.Is(err, tlv.ErrTruncated):
		return "truncated_tlv"
	case errors.Is(err, tlv.ErrInvalidExtended):
		return "invalid_extended_tlv"
	case errors.Is(err, tlv.ErrInvalidType):
		return "invalid_tlv_type"
	case errors.Is(err, validation.ErrUnknownTLVType):
		return "unknown_tlv_type"
	case errors.Is(err, validation.ErrRecordSize):
		return "record_size"
	case errors.Is(err, validation.ErrDomainMismatch):
		return "domain_mismatch"
	case errors.Is(err, ErrNotForwardable):
		return "not_forwardable"
	case errors.Is(err, records.ErrInvalidRegistration),
		errors.Is(err, topics.ErrTooManyTopics):
		return "invalid_registration"
	case errors.Is(err, ErrInvalidControl):
		return "invalid_control"
	default:
		return "other"
	}
}

// recoverable reports whether the read loop can keep going after err.
func recoverable(err error) bool {
	return errors.Is(err, frame.ErrInvalidMagic) ||
		errors.Is(err, frame.ErrPayloadTooLarge) ||
		errors.Is(err, bounds.ErrSizeLimit)
}
