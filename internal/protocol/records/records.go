// Package records holds typed values carried inside TLV records and the
// builders for relay control messages.
package records

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/edgerelay/internal/protocol/bounds"
)

var ErrInvalidRecord = errors.New("records: invalid record value")

// PriceScale is the fixed-point scale of Trade prices and volumes (1e-8).
const PriceScale = 100_000_000

type Side uint8

const (
	SideUnknown Side = 0
	SideBuy     Side = 1
	SideSell    Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// TradeSize is the encoded length of a Trade value.
//
//	0..4   instrument_id u32
//	4      side u8
//	5..8   reserved
//	8..16  price i64 (fixed point, PriceScale)
//	16..24 volume i64 (fixed point, PriceScale)
const TradeSize = 24

type Trade struct {
	InstrumentID uint32
	Side         Side
	Price        int64
	Volume       int64
}

func (t Trade) Encode() []byte {
	b := make([]byte, TradeSize)
	binary.LittleEndian.PutUint32(b[0:], t.InstrumentID)
	b[4] = uint8(t.Side)
	binary.LittleEndian.PutUint64(b[8:], uint64(t.Price))
	binary.LittleEndian.PutUint64(b[16:], uint64(t.Volume))
	return b
}

// PriceFloat is for display only.
func (t Trade) PriceFloat() float64 {
	return float64(t.Price) / PriceScale
}

func DecodeTrade(b []byte) (Trade, error) {
	if len(b) != TradeSize {
		return Trade{}, fmt.Errorf("%w: trade is %d bytes, want %d", ErrInvalidRecord, len(b), TradeSize)
	}
	v := bounds.NewView(b)
	id, _ := v.U32(0)
	side, _ := v.U8(4)
	price, _ := v.I64(8)
	volume, _ := v.I64(16)
	return Trade{InstrumentID: id, Side: Side(side), Price: price, Volume: volume}, nil
}

// HeartbeatSize is the encoded length of a Heartbeat value.
const HeartbeatSize = 16

type Heartbeat struct {
	TimestampNs uint64
	Sequence    uint64
}

func (h Heartbeat) Encode() []byte {
	b := make([]byte, HeartbeatSize)
	binary.LittleEndian.PutUint64(b[0:], h.TimestampNs)
	binary.LittleEndian.PutUint64(b[8:], h.Sequence)
	return b
}

func DecodeHeartbeat(b []byte) (Heartbeat, error) {
	if len(b) != HeartbeatSize {
		return Heartbeat{}, fmt.Errorf("%w: heartbeat is %d bytes, want %d", ErrInvalidRecord, len(b), HeartbeatSize)
	}
	v := bounds.NewView(b)
	ts, _ := v.U64(0)
	seq, _ := v.U64(8)
	return Heartbeat{TimestampNs: ts, Sequence: seq}, nil
}
