package records

import (
	"fmt"
	"unicode/utf8"

	"github.com/danmuck/edgerelay/internal/protocol/bounds"
)

// EncodeTopic validates a topic for the SignalTopic record.
func EncodeTopic(topic string) ([]byte, error) {
	if len(topic) == 0 || len(topic) > bounds.MaxStandardTLVValue {
		return nil, fmt.Errorf("%w: topic length %d outside 1..%d", ErrInvalidRecord, len(topic), bounds.MaxStandardTLVValue)
	}
	if !utf8.ValidString(topic) {
		return nil, fmt.Errorf("%w: topic is not utf-8", ErrInvalidRecord)
	}
	return []byte(topic), nil
}

func DecodeTopic(b []byte) (string, error) {
	if len(b) == 0 || !utf8.Valid(b) {
		return "", fmt.Errorf("%w: malformed topic", ErrInvalidRecord)
	}
	return string(b), nil
}
