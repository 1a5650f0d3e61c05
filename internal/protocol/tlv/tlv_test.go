package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/testutil/testlog"
)

func TestMixedFormRoundTrip(t *testing.T) {
	testlog.Start(t)

	small := bytes.Repeat([]byte{0x11}, 24)
	large := bytes.Repeat([]byte{0x22}, 300)

	payload, err := Append(nil, schema.TypeTrade, small)
	if err != nil {
		t.Fatalf("append small: %v", err)
	}
	payload, err = Append(payload, schema.TypeOrderBook, large)
	if err != nil {
		t.Fatalf("append large: %v", err)
	}
	if want := 2 + 24 + 5 + 300; len(payload) != want {
		t.Fatalf("payload length %d want %d", len(payload), want)
	}

	recs, err := Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Type != schema.TypeTrade || recs[0].Extended || !bytes.Equal(recs[0].Value, small) {
		t.Fatalf("first record mismatch: %+v", recs[0])
	}
	if recs[1].Type != schema.TypeOrderBook || !recs[1].Extended || !bytes.Equal(recs[1].Value, large) {
		t.Fatalf("second record mismatch: type=%d extended=%v len=%d", recs[1].Type, recs[1].Extended, len(recs[1].Value))
	}
	if recs[1].Offset != 26 {
		t.Fatalf("second record offset %d", recs[1].Offset)
	}

	again, err := Encode(recs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(again, payload) {
		t.Fatalf("re-encode differs")
	}
}

func TestExtendedLayout(t *testing.T) {
	testlog.Start(t)

	out, err := AppendExtended(nil, schema.TypeSnapshot, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("append extended: %v", err)
	}
	want := []byte{255, 0, 101, 3, 0, 1, 2, 3}
	if !bytes.Equal(out, want) {
		t.Fatalf("extended bytes % x want % x", out, want)
	}
}

func TestEveryTruncationIsAnError(t *testing.T) {
	testlog.Start(t)

	payload, _ := Append(nil, schema.TypeTrade, bytes.Repeat([]byte{7}, 24))
	payload, _ = Append(payload, schema.TypeOrderBook, bytes.Repeat([]byte{8}, 300))

	for k := 1; k < len(payload); k++ {
		_, err := Parse(payload[:k])
		if k == 26 {
			// cut exactly on the record boundary
			if err != nil {
				t.Fatalf("prefix %d ends on a boundary, got %v", k, err)
			}
			continue
		}
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("prefix %d: expected ErrTruncated, got %v", k, err)
		}
	}
}

func TestTruncatedDiagnostics(t *testing.T) {
	testlog.Start(t)

	var te *TruncatedError
	_, err := Parse([]byte{1, 200, 1, 2})
	if !errors.As(err, &te) {
		t.Fatalf("expected TruncatedError, got %v", err)
	}
	if te.Required != 202 || te.BufferSize != 4 || te.SuggestedAction != "likely corrupted TLV length field" {
		t.Fatalf("unexpected detail: %+v", te)
	}

	_, err = Parse([]byte{1, 4, 1, 2, 3})
	if !errors.As(err, &te) {
		t.Fatalf("expected TruncatedError, got %v", err)
	}
	if te.SuggestedAction != "incomplete message transmission - retry or increase buffer" {
		t.Fatalf("unexpected action %q", te.SuggestedAction)
	}
}

func TestInvalidRecords(t *testing.T) {
	testlog.Start(t)

	if _, err := Parse([]byte{255, 1, 1, 0, 0}); !errors.Is(err, ErrInvalidExtended) {
		t.Fatalf("expected ErrInvalidExtended, got %v", err)
	}
	if _, err := Parse([]byte{0, 0}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType for type 0, got %v", err)
	}
	if _, err := Parse([]byte{255, 0, 0, 0, 0}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType for extended type 0, got %v", err)
	}
	if _, err := Append(nil, 0, nil); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected append to reject type 0, got %v", err)
	}
	if _, err := Append(nil, schema.TypeSnapshot, make([]byte, 70000)); !errors.Is(err, ErrValueTooLarge) {
		t.Fatalf("expected ErrValueTooLarge, got %v", err)
	}
}

func TestEmptyPayloadAndEmptyValue(t *testing.T) {
	testlog.Start(t)

	recs, err := Parse(nil)
	if err != nil || len(recs) != 0 {
		t.Fatalf("empty payload: recs=%d err=%v", len(recs), err)
	}
	recs, err = Parse([]byte{100, 0})
	if err != nil || len(recs) != 1 || len(recs[0].Value) != 0 {
		t.Fatalf("empty value: %+v err=%v", recs, err)
	}
	if r, ok := Find(recs, schema.TypeHeartbeat); !ok || r.Offset != 0 {
		t.Fatalf("find heartbeat failed")
	}
}
