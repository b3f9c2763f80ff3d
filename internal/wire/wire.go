package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const version byte = 1

// Kind tags the envelope variant.
type Kind byte

const (
	KindValue     Kind = 1
	KindTombstone Kind = 2
	KindLogical   Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindTombstone:
		return "tombstone"
	case KindLogical:
		return "logical"
	default:
		return "unknown"
	}
}

var (
	ErrCorrupt = errors.New("cacheguard: corrupt entry")
	magic4     = [...]byte{'C', 'G', 'R', 'D'}
)

const hdrLen = 4 + 1 + 1

// Entry is the decoded form of a cached envelope.
// Payload is set for KindValue and KindLogical, ExpireAt only for KindLogical.
type Entry struct {
	Kind     Kind
	Payload  []byte
	ExpireAt time.Time
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Value: magic(4) | ver(1) | kind(1=value) | vlen(u32 be) | payload(vlen)
func EncodeValue(payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + 4 + len(payload))
	writeHeader(&buf, KindValue)
	writePayload(&buf, payload)
	return buf.Bytes()
}

// Tombstone: magic(4) | ver(1) | kind(2=tombstone)
func EncodeTombstone() []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen)
	writeHeader(&buf, KindTombstone)
	return buf.Bytes()
}

// Logical: magic(4) | ver(1) | kind(3=logical) | expireAt(i64 unix nanos be) | vlen(u32 be) | payload(vlen)
func EncodeLogical(expireAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + 8 + 4 + len(payload))
	writeHeader(&buf, KindLogical)

	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], uint64(expireAt.UnixNano()))
	buf.Write(u8[:])

	writePayload(&buf, payload)
	return buf.Bytes()
}

// Encode dispatches on e.Kind. Unknown kinds encode as nil.
func Encode(e Entry) []byte {
	switch e.Kind {
	case KindValue:
		return EncodeValue(e.Payload)
	case KindTombstone:
		return EncodeTombstone()
	case KindLogical:
		return EncodeLogical(e.ExpireAt, e.Payload)
	default:
		return nil
	}
}

// Decode parses b strictly: any header mismatch, truncation or trailing byte is ErrCorrupt.
// The returned Payload aliases b.
func Decode(b []byte) (Entry, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	kind := Kind(b[5])
	off := hdrLen

	switch kind {
	case KindTombstone:
		if len(b) != hdrLen {
			return Entry{}, ErrCorrupt
		}
		return Entry{Kind: KindTombstone}, nil

	case KindValue:
		payload, err := readPayload(b, off)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Kind: KindValue, Payload: payload}, nil

	case KindLogical:
		if off+8 > len(b) {
			return Entry{}, ErrCorrupt
		}
		nanos := int64(binary.BigEndian.Uint64(b[off : off+8]))
		off += 8
		payload, err := readPayload(b, off)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Kind: KindLogical, Payload: payload, ExpireAt: time.Unix(0, nanos)}, nil

	default:
		return Entry{}, ErrCorrupt
	}
}

func writeHeader(buf *bytes.Buffer, k Kind) {
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(k))
}

func writePayload(buf *bytes.Buffer, payload []byte) {
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])
	buf.Write(payload)
}

func readPayload(b []byte, off int) ([]byte, error) {
	if off+4 > len(b) {
		return nil, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// exact length: trailing bytes are corruption
	if vlen < 0 || vlen != len(b)-off {
		return nil, ErrCorrupt
	}
	return b[off : off+vlen], nil
}
