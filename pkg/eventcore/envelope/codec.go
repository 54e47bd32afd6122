package envelope

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Wire layout (big endian throughout):
//
//	byte 0       magic (0xEC)
//	byte 1       schema version
//	bytes 2..17  event ID (raw UUID)
//	u16 + bytes  event type
//	u16 + bytes  subject ID
//	i64          occurred-at (UnixNano, UTC)
//	len + bytes  payload (u16 in v1, u32 in v2)
//
// Version 1 capped payloads at 64 KiB; version 2 widened the length prefix.
// Readers keep the v1 decoder in the dispatch table so older producers stay
// decodable.
const (
	envelopeMagic byte = 0xEC

	// SchemaVersionLegacy is the v1 layout with a 16-bit payload length.
	SchemaVersionLegacy = 1

	// SchemaVersionCurrent is the layout new events are encoded with.
	SchemaVersionCurrent = 2
)

const maxLegacyPayload = 1<<16 - 1

// DecodeKind classifies decode failures.
type DecodeKind int

const (
	// KindMalformed means the bytes are corrupt or truncated. Retrying a
	// decode never helps; the dispatcher dead-letters these immediately.
	KindMalformed DecodeKind = iota

	// KindUnsupportedVersion means the envelope version is not in this
	// reader's dispatch table.
	KindUnsupportedVersion
)

// String returns the kind name.
func (k DecodeKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindUnsupportedVersion:
		return "unsupported_version"
	default:
		return "unknown"
	}
}

// DecodeError reports a failed decode. It is never process-fatal; the caller
// decides disposition.
type DecodeError struct {
	Kind   DecodeKind
	Detail string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode envelope: %s: %s", e.Kind, e.Detail)
}

func malformed(detail string) *DecodeError {
	return &DecodeError{Kind: KindMalformed, Detail: detail}
}

// decodeFunc decodes the body that follows the magic and version bytes.
type decodeFunc func(body []byte, version int) (Event, error)

// decoders is the version-dispatch table. Adding a new layout means adding
// an entry here; removing one drops read support for that version.
var decoders = map[byte]decodeFunc{
	SchemaVersionLegacy:  decodeBody16,
	SchemaVersionCurrent: decodeBody32,
}

// Encode serializes an event into its versioned binary envelope.
// Encoding is deterministic: identical events yield identical bytes.
func Encode(e Event) ([]byte, error) {
	if len(e.Type) > 1<<16-1 {
		return nil, fmt.Errorf("encode envelope: event type exceeds %d bytes", 1<<16-1)
	}
	if len(e.SubjectID) > 1<<16-1 {
		return nil, fmt.Errorf("encode envelope: subject id exceeds %d bytes", 1<<16-1)
	}

	switch e.SchemaVersion {
	case SchemaVersionLegacy:
		if len(e.Payload) > maxLegacyPayload {
			return nil, fmt.Errorf("encode envelope: payload exceeds v1 limit of %d bytes", maxLegacyPayload)
		}
	case SchemaVersionCurrent:
		// u32 length prefix; no practical limit.
	default:
		return nil, fmt.Errorf("encode envelope: unsupported schema version %d", e.SchemaVersion)
	}

	size := 2 + 16 + 2 + len(e.Type) + 2 + len(e.SubjectID) + 8 + len(e.Payload)
	if e.SchemaVersion == SchemaVersionLegacy {
		size += 2
	} else {
		size += 4
	}

	buf := make([]byte, 0, size)
	buf = append(buf, envelopeMagic, byte(e.SchemaVersion))
	buf = append(buf, e.ID[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Type)))
	buf = append(buf, e.Type...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.SubjectID)))
	buf = append(buf, e.SubjectID...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.OccurredAt.UnixNano()))
	if e.SchemaVersion == SchemaVersionLegacy {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Payload)))
	} else {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Payload)))
	}
	buf = append(buf, e.Payload...)
	return buf, nil
}

// Decode parses a binary envelope back into an event.
// Failures are always *DecodeError; Decode never panics.
func Decode(data []byte) (Event, error) {
	if len(data) < 2 {
		return Event{}, malformed("short envelope")
	}
	if data[0] != envelopeMagic {
		return Event{}, malformed("bad magic byte")
	}

	version := data[1]
	decode, ok := decoders[version]
	if !ok {
		return Event{}, &DecodeError{
			Kind:   KindUnsupportedVersion,
			Detail: fmt.Sprintf("schema version %d", version),
		}
	}
	return decode(data[2:], int(version))
}

// decodeBody32 decodes the v2 body (u32 payload length).
func decodeBody32(body []byte, version int) (Event, error) {
	return decodeBody(body, version, 4)
}

// decodeBody16 decodes the v1 body (u16 payload length).
func decodeBody16(body []byte, version int) (Event, error) {
	return decodeBody(body, version, 2)
}

func decodeBody(body []byte, version, payloadLenBytes int) (Event, error) {
	if len(body) < 16 {
		return Event{}, malformed("truncated event id")
	}
	var id uuid.UUID
	copy(id[:], body[:16])
	body = body[16:]

	eventType, body, err := readString16(body, "event type")
	if err != nil {
		return Event{}, err
	}
	subjectID, body, err := readString16(body, "subject id")
	if err != nil {
		return Event{}, err
	}

	if len(body) < 8 {
		return Event{}, malformed("truncated timestamp")
	}
	occurredAt := time.Unix(0, int64(binary.BigEndian.Uint64(body[:8]))).UTC()
	body = body[8:]

	if len(body) < payloadLenBytes {
		return Event{}, malformed("truncated payload length")
	}
	var payloadLen int
	if payloadLenBytes == 2 {
		payloadLen = int(binary.BigEndian.Uint16(body[:2]))
	} else {
		payloadLen = int(binary.BigEndian.Uint32(body[:4]))
	}
	body = body[payloadLenBytes:]

	if len(body) != payloadLen {
		return Event{}, malformed("payload length mismatch")
	}
	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		copy(payload, body)
	}

	return Event{
		ID:            id,
		Type:          eventType,
		SubjectID:     subjectID,
		Payload:       payload,
		OccurredAt:    occurredAt,
		SchemaVersion: version,
	}, nil
}

func readString16(body []byte, field string) (string, []byte, error) {
	if len(body) < 2 {
		return "", nil, malformed("truncated " + field + " length")
	}
	n := int(binary.BigEndian.Uint16(body[:2]))
	body = body[2:]
	if len(body) < n {
		return "", nil, malformed("truncated " + field)
	}
	return string(body[:n]), body[n:], nil
}
