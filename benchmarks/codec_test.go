package benchmarks

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tusquake/eventcore/pkg/eventcore/envelope"
)

func benchmarkEvent(payloadSize int) envelope.Event {
	return envelope.Event{
		ID:            uuid.New(),
		Type:          "patient.created",
		SubjectID:     "pat-1001",
		Payload:       make([]byte, payloadSize),
		OccurredAt:    time.Now().UTC(),
		SchemaVersion: envelope.SchemaVersionCurrent,
	}
}

// BenchmarkEncode measures envelope serialization.
func BenchmarkEncode(b *testing.B) {
	evt := benchmarkEvent(256)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := envelope.Encode(evt); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDecode measures envelope parsing.
func BenchmarkDecode(b *testing.B) {
	data, err := envelope.Encode(benchmarkEvent(256))
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := envelope.Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEncodeLargePayload measures serialization of payloads beyond the
// legacy 64 KiB cap.
func BenchmarkEncodeLargePayload(b *testing.B) {
	evt := benchmarkEvent(1 << 20)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := envelope.Encode(evt); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRoundTrip measures a full encode/decode cycle.
func BenchmarkRoundTrip(b *testing.B) {
	evt := benchmarkEvent(256)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := envelope.Encode(evt)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := envelope.Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}
