// Package frame owns the fixed 32-byte message header: layout, validation,
// checksum, and reading whole messages off a byte stream.
package frame

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/danmuck/edgerelay/internal/protocol/bounds"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
)

const (
	HeaderLen        = 32
	Magic     uint32 = 0xDEADBEEF
	Version   uint8  = 1

	// ChecksumOffset is where the CRC32 lives; it is excluded from its own input.
	ChecksumOffset = 28

	// FlagControl marks a relay-local control message that is never broadcast.
	FlagControl uint8 = 0x80
)

// Header offsets, little-endian.
const (
	offMagic       = 0
	offDomain      = 4
	offVersion     = 5
	offSource      = 6
	offFlags       = 7
	offSequence    = 8
	offTimestamp   = 16
	offPayloadSize = 24
	offChecksum    = ChecksumOffset
)

// Header is the fixed wire header.
type Header struct {
	Magic       uint32
	Domain      schema.RelayDomain
	Version     uint8
	Source      schema.SourceType
	Flags       uint8
	Sequence    uint64
	Timestamp   uint64
	PayloadSize uint32
	Checksum    uint32
}

// New returns a header stamped with the current time. Sequence and checksum
// stay zero until the message is finalized.
func New(domain schema.RelayDomain, source schema.SourceType) Header {
	return Header{
		Magic:     Magic,
		Domain:    domain,
		Version:   Version,
		Source:    source,
		Timestamp: uint64(time.Now().UnixNano()),
	}
}

func (h Header) IsControl() bool {
	return h.Flags&FlagControl != 0
}

func (h Header) Time() time.Time {
	return time.Unix(0, int64(h.Timestamp))
}

// Validate checks the header fields that can be judged without the payload.
func (h Header) Validate() error {
	if h.Magic != Magic {
		return &InvalidMagicError{Expected: Magic, Actual: h.Magic, Diagnosis: DiagnoseMagic(h.Magic)}
	}
	if h.Version != Version {
		return &VersionError{Got: h.Version, Want: Version}
	}
	if !h.Domain.Valid() {
		return &UnknownDomainError{Value: uint8(h.Domain)}
	}
	if !h.Source.Valid() {
		return &UnknownSourceError{Value: uint8(h.Source)}
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)
	return buf
}

// PutHeader writes h into the first HeaderLen bytes of dst, which must be
// at least that long.
func PutHeader(dst []byte, h Header) {
	_ = dst[HeaderLen-1]
	binary.LittleEndian.PutUint32(dst[offMagic:], h.Magic)
	dst[offDomain] = uint8(h.Domain)
	dst[offVersion] = h.Version
	dst[offSource] = uint8(h.Source)
	dst[offFlags] = h.Flags
	binary.LittleEndian.PutUint64(dst[offSequence:], h.Sequence)
	binary.LittleEndian.PutUint64(dst[offTimestamp:], h.Timestamp)
	binary.LittleEndian.PutUint32(dst[offPayloadSize:], h.PayloadSize)
	binary.LittleEndian.PutUint32(dst[offChecksum:], h.Checksum)
}

// DecodeHeader reads the header from the first HeaderLen bytes of b. It does
// not validate field values.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, &MessageTooSmallError{Need: HeaderLen, Got: len(b)}
	}
	v := bounds.NewView(b[:HeaderLen])
	var h Header
	var err error
	if h.Magic, err = v.U32(offMagic); err != nil {
		return Header{}, err
	}
	domain, _ := v.U8(offDomain)
	h.Domain = schema.RelayDomain(domain)
	h.Version, _ = v.U8(offVersion)
	source, _ := v.U8(offSource)
	h.Source = schema.SourceType(source)
	h.Flags, _ = v.U8(offFlags)
	h.Sequence, _ = v.U64(offSequence)
	h.Timestamp, _ = v.U64(offTimestamp)
	h.PayloadSize, _ = v.U32(offPayloadSize)
	h.Checksum, _ = v.U32(offChecksum)
	return h, nil
}

// ComputeChecksum returns CRC32 (IEEE) over header bytes [0,28) followed by
// the payload, without modifying msg.
func ComputeChecksum(msg []byte) (uint32, error) {
	if len(msg) < HeaderLen {
		return 0, &MessageTooSmallError{Need: HeaderLen, Got: len(msg)}
	}
	sum := crc32.ChecksumIEEE(msg[:ChecksumOffset])
	return crc32.Update(sum, crc32.IEEETable, msg[HeaderLen:]), nil
}

// CalculateChecksum computes the checksum and stores it in msg.
func CalculateChecksum(msg []byte) (uint32, error) {
	sum, err := ComputeChecksum(msg)
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(msg[offChecksum:], sum)
	return sum, nil
}

// VerifyChecksum compares the stored checksum against a fresh computation.
func VerifyChecksum(msg []byte) error {
	sum, err := ComputeChecksum(msg)
	if err != nil {
		return err
	}
	stored := binary.LittleEndian.Uint32(msg[offChecksum:])
	if stored != sum {
		return &ChecksumMismatchError{
			Expected:    stored,
			Calculated:  sum,
			MessageSize: len(msg),
			LikelyCause: checksumCause(stored, sum),
		}
	}
	return nil
}

// SetSequence rewrites the sequence field of a complete message in place and
// refreshes its checksum.
func SetSequence(msg []byte, seq uint64) error {
	if len(msg) < HeaderLen {
		return &MessageTooSmallError{Need: HeaderLen, Got: len(msg)}
	}
	binary.LittleEndian.PutUint64(msg[offSequence:], seq)
	_, err := CalculateChecksum(msg)
	return err
}
