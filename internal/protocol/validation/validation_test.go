package validation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/protocol/bounds"
	"github.com/danmuck/edgerelay/internal/protocol/frame"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/protocol/tlv"
	"github.com/danmuck/edgerelay/internal/testutil/testlog"
)

// seal builds a message by hand so tests can violate rules the Builder would
// not let through.
func seal(t *testing.T, domain schema.RelayDomain, payload []byte) []byte {
	t.Helper()
	h := frame.New(domain, schema.SourceBinanceCollector)
	h.PayloadSize = uint32(len(payload))
	raw := append(frame.EncodeHeader(h), payload...)
	if _, err := frame.CalculateChecksum(raw); err != nil {
		t.Fatalf("checksum: %v", err)
	}
	return raw
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	testlog.Start(t)

	raw, err := protocol.NewBuilder(schema.DomainMarketData, schema.SourceBinanceCollector).
		Add(schema.TypeTrade, make([]byte, 24)).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	msg, err := New(DefaultPolicy(schema.DomainMarketData)).Validate(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(msg.Records) != 1 || msg.Records[0].Type != schema.TypeTrade {
		t.Fatalf("unexpected records: %+v", msg.Records)
	}
}

func TestDomainIsolation(t *testing.T) {
	testlog.Start(t)

	payload, _ := tlv.Append(nil, schema.TypeSignalIdentity, []byte{1, 2})
	raw := seal(t, schema.DomainMarketData, payload)

	_, err := New(DefaultPolicy(schema.DomainMarketData)).Validate(raw)
	var de *DomainMismatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected DomainMismatchError, got %v", err)
	}
	if de.HeaderDomain != schema.DomainMarketData || de.RecordDomain != schema.DomainSignal || de.Type != schema.TypeSignalIdentity {
		t.Fatalf("unexpected detail: %+v", de)
	}
	if protocol.Classify(err) != protocol.CategorySemantic {
		t.Fatalf("domain mismatch should be semantic")
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	testlog.Start(t)

	raw := seal(t, schema.DomainMarketData, []byte{90, 1, 0})
	_, err := New(DefaultPolicy(schema.DomainMarketData)).Validate(raw)
	if !errors.Is(err, ErrUnknownTLVType) {
		t.Fatalf("expected ErrUnknownTLVType, got %v", err)
	}
	if protocol.Classify(err) != protocol.CategoryStructural {
		t.Fatalf("unknown type should be structural")
	}
}

func TestStrictPolicy(t *testing.T) {
	testlog.Start(t)

	reserved := seal(t, schema.DomainExecution, []byte{75, 1, 0})
	lenient := DefaultPolicy(schema.DomainExecution)
	lenient.Strict = false
	if _, err := New(lenient).Validate(reserved); err != nil {
		t.Fatalf("lenient policy should accept reserved in-range type: %v", err)
	}
	if _, err := New(DefaultPolicy(schema.DomainExecution)).Validate(reserved); !errors.Is(err, ErrUnknownTLVType) {
		t.Fatalf("strict policy should reject reserved type, got %v", err)
	}

	shortTrade := seal(t, schema.DomainMarketData, append([]byte{1, 8}, make([]byte, 8)...))
	strict := DefaultPolicy(schema.DomainMarketData)
	strict.Strict = true
	var rse *RecordSizeError
	if _, err := New(strict).Validate(shortTrade); !errors.As(err, &rse) || rse.Want != 24 || rse.Got != 8 {
		t.Fatalf("expected RecordSizeError 24/8, got %v", err)
	}
}

func TestChecksumPolicy(t *testing.T) {
	testlog.Start(t)

	raw := seal(t, schema.DomainMarketData, []byte{2, 1, 9})
	raw[len(raw)-1] ^= 0xFF

	if _, err := New(DefaultPolicy(schema.DomainMarketData)).Validate(raw); !errors.Is(err, frame.ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	off := DefaultPolicy(schema.DomainMarketData)
	off.VerifyChecksum = false
	if _, err := New(off).Validate(raw); err != nil {
		t.Fatalf("checksum disabled should admit: %v", err)
	}
}

func TestSizeAndHeaderChecks(t *testing.T) {
	testlog.Start(t)

	p := DefaultPolicy(schema.DomainSignal)
	p.MaxMessageSize = 40
	raw := seal(t, schema.DomainSignal, append([]byte{20, 10}, make([]byte, 10)...))
	if _, err := New(p).Validate(raw); !errors.Is(err, bounds.ErrSizeLimit) {
		t.Fatalf("expected ErrSizeLimit, got %v", err)
	}

	raw = seal(t, schema.DomainSignal, []byte{20, 0})
	binary.LittleEndian.PutUint32(raw[24:28], 3)
	if _, err := New(DefaultPolicy(schema.DomainSignal)).Validate(raw); !errors.Is(err, frame.ErrPayloadSizeMismatch) {
		t.Fatalf("expected ErrPayloadSizeMismatch, got %v", err)
	}

	raw = seal(t, schema.DomainSignal, []byte{20, 0})
	raw[5] = 9
	if _, err := New(DefaultPolicy(schema.DomainSignal)).Validate(raw); !errors.Is(err, frame.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}

	raw = seal(t, schema.DomainSignal, []byte{20, 5, 1})
	if _, err := New(DefaultPolicy(schema.DomainSignal)).Validate(bytes.Clone(raw)); !errors.Is(err, tlv.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
