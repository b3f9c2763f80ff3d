// Package codec converts cached entities to and from bytes.
//
// A Codec only sees the entity payload. Envelope framing (value, tombstone,
// logical expiry) is handled by cacheguard itself, so any codec can be used
// with any reader.
package codec

// Codec encodes/decodes values V to []byte for storage.
// Implementations must be safe for concurrent use.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
