package envelope_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tusquake/eventcore/pkg/eventcore/envelope"
)

func sampleEvent(version int) envelope.Event {
	return envelope.Event{
		ID:            uuid.MustParse("a2b8f0e4-1c3d-4e5f-8a9b-0c1d2e3f4a5b"),
		Type:          "patient.created",
		SubjectID:     "pat-1001",
		Payload:       []byte(`{"patientId":"pat-1001"}`),
		OccurredAt:    time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC),
		SchemaVersion: version,
	}
}

func TestRoundTrip(t *testing.T) {
	for _, version := range []int{envelope.SchemaVersionLegacy, envelope.SchemaVersionCurrent} {
		evt := sampleEvent(version)

		data, err := envelope.Encode(evt)
		if err != nil {
			t.Fatalf("encode v%d: unexpected error: %v", version, err)
		}

		got, err := envelope.Decode(data)
		if err != nil {
			t.Fatalf("decode v%d: unexpected error: %v", version, err)
		}
		if !got.Equal(evt) {
			t.Errorf("v%d round trip mismatch:\n got %+v\nwant %+v", version, got, evt)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	evt := sampleEvent(envelope.SchemaVersionCurrent)

	first, err := envelope.Encode(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := envelope.Encode(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("identical events encoded to different bytes")
	}
}

func TestRoundTripEmptyPayload(t *testing.T) {
	evt := sampleEvent(envelope.SchemaVersionCurrent)
	evt.Payload = nil

	data, err := envelope.Encode(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := envelope.Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(got.Payload))
	}
}

func TestEncodeUnsupportedVersion(t *testing.T) {
	evt := sampleEvent(3)
	if _, err := envelope.Encode(evt); err == nil {
		t.Error("expected error for unknown schema version")
	}
}

func TestEncodeLegacyPayloadCap(t *testing.T) {
	evt := sampleEvent(envelope.SchemaVersionLegacy)
	evt.Payload = make([]byte, 1<<16)

	if _, err := envelope.Encode(evt); err == nil {
		t.Error("expected error for oversized v1 payload")
	}

	// The same payload fits in the current layout.
	evt.SchemaVersion = envelope.SchemaVersionCurrent
	data, err := envelope.Encode(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := envelope.Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Payload) != 1<<16 {
		t.Errorf("expected %d payload bytes, got %d", 1<<16, len(got.Payload))
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := envelope.Encode(sampleEvent(envelope.SchemaVersionCurrent))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"single byte", []byte{0xEC}},
		{"bad magic", append([]byte{0x00}, valid[1:]...)},
		{"truncated id", valid[:10]},
		{"truncated type", valid[:20]},
		{"truncated timestamp", valid[:2+16+2+len("patient.created")+2+len("pat-1001")+4]},
		{"payload too short", valid[:len(valid)-5]},
		{"trailing garbage", append(append([]byte{}, valid...), 0xFF)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := envelope.Decode(tt.data)
			if err == nil {
				t.Fatal("expected decode error")
			}
			var decErr *envelope.DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("expected *DecodeError, got %T", err)
			}
			if decErr.Kind != envelope.KindMalformed {
				t.Errorf("expected malformed, got %s", decErr.Kind)
			}
		})
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	valid, err := envelope.Encode(sampleEvent(envelope.SchemaVersionCurrent))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	valid[1] = 99

	_, err = envelope.Decode(valid)
	var decErr *envelope.DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if decErr.Kind != envelope.KindUnsupportedVersion {
		t.Errorf("expected unsupported_version, got %s", decErr.Kind)
	}
}

func TestDecodePreservesTimestampPrecision(t *testing.T) {
	evt := sampleEvent(envelope.SchemaVersionCurrent)
	evt.OccurredAt = time.Unix(0, 1767225600123456789).UTC()

	data, err := envelope.Encode(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := envelope.Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.OccurredAt.Equal(evt.OccurredAt) {
		t.Errorf("expected %v, got %v", evt.OccurredAt, got.OccurredAt)
	}
}
