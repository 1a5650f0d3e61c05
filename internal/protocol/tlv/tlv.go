// Package tlv encodes and decodes message payloads as a sequence of
// type-length-value records in standard or extended form.
//
// Standard:  type:u8 (1..254) | length:u8 | value
// Extended:  255 | 0 | type:u8 | length:u16 LE | value
package tlv

import (
	"encoding/binary"

	"github.com/danmuck/edgerelay/internal/protocol/bounds"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
)

const (
	StandardHeaderLen = 2
	ExtendedHeaderLen = 5
)

// Record is one decoded TLV. Value aliases the parsed payload.
type Record struct {
	Type     schema.TLVType
	Value    []byte
	Extended bool
	Offset   int
}

// EncodedLen is the number of wire bytes the record occupies.
func (r Record) EncodedLen() int {
	if r.Extended {
		return ExtendedHeaderLen + len(r.Value)
	}
	return StandardHeaderLen + len(r.Value)
}

// Parse walks payload until it is exhausted. Any record that would read past
// the end fails the whole payload.
func Parse(payload []byte) ([]Record, error) {
	v := bounds.NewView(payload)
	records := make([]Record, 0, 4)
	i := 0
	for i < v.Len() {
		first, _ := v.U8(i)
		rec := Record{Offset: i}
		var hdr, length int
		switch first {
		case schema.ExtendedMarker:
			if v.Remaining(i) < ExtendedHeaderLen {
				return nil, newTruncated(first, i, v.Remaining(i), ExtendedHeaderLen)
			}
			reserved, _ := v.U8(i + 1)
			if reserved != 0 {
				return nil, &InvalidExtendedError{Offset: i, Reserved: reserved}
			}
			inner, _ := v.U8(i + 2)
			if inner == 0 || inner == schema.ExtendedMarker {
				return nil, &InvalidTypeError{Type: inner, Offset: i}
			}
			l, _ := v.U16(i + 3)
			rec.Type = schema.TLVType(inner)
			rec.Extended = true
			hdr, length = ExtendedHeaderLen, int(l)
		case 0:
			return nil, &InvalidTypeError{Type: 0, Offset: i}
		default:
			if v.Remaining(i) < StandardHeaderLen {
				return nil, newTruncated(first, i, v.Remaining(i), StandardHeaderLen)
			}
			l, _ := v.U8(i + 1)
			rec.Type = schema.TLVType(first)
			hdr, length = StandardHeaderLen, int(l)
		}

		value, err := v.Slice(i+hdr, length)
		if err != nil {
			return nil, newTruncated(uint8(rec.Type), i, v.Remaining(i), hdr+length)
		}
		rec.Value = value
		records = append(records, rec)
		i += hdr + length
	}
	return records, nil
}

// Append encodes one record onto dst, switching to the extended form when the
// value does not fit a one-byte length.
func Append(dst []byte, t schema.TLVType, value []byte) ([]byte, error) {
	if len(value) > bounds.MaxStandardTLVValue {
		return AppendExtended(dst, t, value)
	}
	if err := checkType(t); err != nil {
		return dst, err
	}
	dst = append(dst, uint8(t), uint8(len(value)))
	return append(dst, value...), nil
}

// AppendExtended always uses the extended form.
func AppendExtended(dst []byte, t schema.TLVType, value []byte) ([]byte, error) {
	if err := checkType(t); err != nil {
		return dst, err
	}
	if len(value) > bounds.MaxExtendedTLVValue {
		return dst, &ValueTooLargeError{
			Type:           uint8(t),
			Size:           len(value),
			Limit:          bounds.MaxExtendedTLVValue,
			Recommendation: "split the value across several records or messages",
		}
	}
	dst = append(dst, schema.ExtendedMarker, 0, uint8(t))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(value)))
	return append(dst, value...), nil
}

// Encode serializes records in order, honoring each record's Extended flag.
func Encode(records []Record) ([]byte, error) {
	size := 0
	for _, r := range records {
		size += r.EncodedLen()
	}
	out := make([]byte, 0, size)
	var err error
	for _, r := range records {
		if r.Extended {
			out, err = AppendExtended(out, r.Type, r.Value)
		} else {
			out, err = Append(out, r.Type, r.Value)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Find returns the first record of type t.
func Find(records []Record, t schema.TLVType) (Record, bool) {
	for _, r := range records {
		if r.Type == t {
			return r, true
		}
	}
	return Record{}, false
}

func checkType(t schema.TLVType) error {
	if t == 0 || uint8(t) == schema.ExtendedMarker {
		return &InvalidTypeError{Type: uint8(t), Offset: -1}
	}
	return nil
}
