package directory

import (
	"encoding/binary"
	"errors"
)

// The static record envelope. The payload is opaque to the directory; the
// envelope guarantees that what an opener decodes is byte-for-byte what the
// creator committed.
//
// Layout:
//
//	0        8        12       16
//	┌────────┬────────┬────────┬─────────────┐
//	│ magic  │version │ length │ payload ... │
//	│FRYSVC\0│ uint32 │ uint32 │ len bytes   │
//	└────────┴────────┴────────┴─────────────┘
const (
	recordMagic   = "FRYSVC\x00\x00"
	recordVersion = uint32(1)
	recordHdrSize = 16
)

var (
	// ErrCorruptedRecord: the record envelope is damaged or truncated.
	ErrCorruptedRecord = errors.New("directory: corrupted static record")
	// ErrUnsupportedRecordVersion: the record was written by an
	// incompatible library version.
	ErrUnsupportedRecordVersion = errors.New("directory: unsupported static record version")
)

// EncodeStaticRecord wraps payload in the versioned record envelope.
func EncodeStaticRecord(payload []byte) []byte {
	out := make([]byte, recordHdrSize+len(payload))
	copy(out[0:8], recordMagic)
	binary.BigEndian.PutUint32(out[8:12], recordVersion)
	binary.BigEndian.PutUint32(out[12:16], uint32(len(payload)))
	copy(out[recordHdrSize:], payload)
	return out
}

// DecodeStaticRecord validates the envelope and returns the payload bytes.
func DecodeStaticRecord(record []byte) ([]byte, error) {
	if len(record) < recordHdrSize {
		return nil, ErrCorruptedRecord
	}
	if string(record[0:8]) != recordMagic {
		return nil, ErrCorruptedRecord
	}
	if binary.BigEndian.Uint32(record[8:12]) != recordVersion {
		return nil, ErrUnsupportedRecordVersion
	}
	length := binary.BigEndian.Uint32(record[12:16])
	if int(length) != len(record)-recordHdrSize {
		return nil, ErrCorruptedRecord
	}
	return record[recordHdrSize:], nil
}
