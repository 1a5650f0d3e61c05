package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/danmuck/edgerelay/internal/protocol/bounds"
)

// Limits constrains what a Reader will allocate for one message.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: bounds.MaxMessageSize - HeaderLen}
}

// LimitsForMessageSize derives payload limits from a whole-message ceiling.
func LimitsForMessageSize(maxMessage int) Limits {
	if maxMessage <= HeaderLen || maxMessage > bounds.MaxMessageSize {
		return DefaultLimits()
	}
	return Limits{MaxPayloadBytes: maxMessage - HeaderLen}
}

// Reader splits a byte stream into complete messages (header plus payload).
// After a framing error (bad magic or an absurd payload_size) it scans forward
// to the next magic sentinel before reading again.
type Reader struct {
	br      *bufio.Reader
	limits  Limits
	resync  bool
	skipped uint64
}

func NewReader(r io.Reader, limits Limits) *Reader {
	return NewReaderSize(r, 64*1024, limits)
}

func NewReaderSize(r io.Reader, size int, limits Limits) *Reader {
	if size < HeaderLen {
		size = HeaderLen
	}
	if limits.MaxPayloadBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Reader{br: bufio.NewReaderSize(r, size), limits: limits}
}

// Skipped returns the number of bytes discarded while resynchronizing.
func (r *Reader) Skipped() uint64 {
	return r.skipped
}

// Next returns one complete message. io.EOF means the stream ended cleanly on
// a message boundary; io.ErrUnexpectedEOF means it ended mid-message.
func (r *Reader) Next() ([]byte, error) {
	if r.resync {
		if err := r.seekMagic(); err != nil {
			return nil, err
		}
		r.resync = false
	}

	hdr, err := r.br.Peek(HeaderLen)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if len(hdr) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	magic := binary.LittleEndian.Uint32(hdr[offMagic:])
	if magic != Magic {
		r.skip(1)
		r.resync = true
		return nil, &InvalidMagicError{Expected: Magic, Actual: magic, Diagnosis: DiagnoseMagic(magic)}
	}
	size := int(binary.LittleEndian.Uint32(hdr[offPayloadSize:]))
	if size > r.limits.MaxPayloadBytes {
		r.skip(1)
		r.resync = true
		return nil, newPayloadTooLarge(size, r.limits.MaxPayloadBytes)
	}

	total := HeaderLen + size
	if err := bounds.CheckAllocation(total); err != nil {
		return nil, err
	}
	msg := make([]byte, total)
	if _, err := io.ReadFull(r.br, msg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return msg, nil
}

func (r *Reader) skip(n int) {
	d, _ := r.br.Discard(n)
	r.skipped += uint64(d)
}

func (r *Reader) seekMagic() error {
	var want [4]byte
	binary.LittleEndian.PutUint32(want[:], Magic)
	for {
		b, err := r.br.Peek(4)
		if len(b) == 4 && b[0] == want[0] && b[1] == want[1] && b[2] == want[2] && b[3] == want[3] {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.skip(len(b))
				return io.EOF
			}
			return err
		}
		r.skip(1)
	}
}

// WriteMessage writes one complete message after checking that its header
// agrees with its length.
func WriteMessage(w io.Writer, msg []byte) error {
	if len(msg) < HeaderLen {
		return &MessageTooSmallError{Need: HeaderLen, Got: len(msg)}
	}
	declared := int(binary.LittleEndian.Uint32(msg[offPayloadSize:]))
	if declared != len(msg)-HeaderLen {
		return &PayloadSizeMismatchError{Declared: declared, Actual: len(msg) - HeaderLen}
	}
	_, err := w.Write(msg)
	return err
}
