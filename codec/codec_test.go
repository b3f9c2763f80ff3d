package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type shop struct {
	ID        int64     `json:"id" msgpack:"id" cbor:"id"`
	Name      string    `json:"name" msgpack:"name" cbor:"name"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updatedAt" cbor:"updatedAt"`
}

func sampleShop() shop {
	return shop{ID: 1, Name: "A", UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)}
}

func TestCodecsPreserveEntity(t *testing.T) {
	codecs := map[string]Codec[shop]{
		"json":     JSON[shop]{},
		"msgpack":  Msgpack[shop]{},
		"cbor":     MustCBOR[shop](false),
		"cbor-det": MustCBOR[shop](true),
		"limit":    Limit[shop]{Inner: JSON[shop]{}, MaxDecode: 1 << 10},
	}
	want := sampleShop()
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			b, err := c.Encode(want)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := c.Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.ID != want.ID || got.Name != want.Name || !got.UpdatedAt.Equal(want.UpdatedAt) {
				t.Fatalf("got %+v want %+v", got, want)
			}
		})
	}
}

func TestDeterministicCBORIsStable(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	m := map[string]int{"b": 2, "a": 1, "c": 3}
	first, err := c.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, _ := c.Encode(m)
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic CBOR produced different bytes")
		}
	}
}

func TestLimitRejectsOversizedPayload(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	if _, err := c.Decode([]byte(strings.Repeat("x", 5))); err == nil {
		t.Fatalf("expected size error")
	}
	if v, err := c.Decode([]byte("xxxx")); err != nil || v != "xxxx" {
		t.Fatalf("boundary decode: v=%q err=%v", v, err)
	}
	unlimited := Limit[string]{Inner: String{}}
	if _, err := unlimited.Decode([]byte(strings.Repeat("x", 1<<16))); err != nil {
		t.Fatalf("MaxDecode=0 must disable the limit: %v", err)
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	b, err := c.Encode(wrapperspb.String("shop:1"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !proto.Equal(got, wrapperspb.String("shop:1")) {
		t.Fatalf("got %v", got)
	}

	var zero Protobuf[*wrapperspb.StringValue]
	if _, err := zero.Decode(b); err == nil {
		t.Fatalf("expected error from zero Protobuf codec")
	}
}

func TestRawCodecs(t *testing.T) {
	if b, _ := (Bytes{}).Encode([]byte{1, 2}); !bytes.Equal(b, []byte{1, 2}) {
		t.Fatalf("Bytes.Encode changed input")
	}
	if s, _ := (String{}).Decode([]byte("héllo")); s != "héllo" {
		t.Fatalf("String.Decode=%q", s)
	}
}
