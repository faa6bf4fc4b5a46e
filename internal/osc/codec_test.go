package osc

import (
	"bytes"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := &Message{
		Address: "/n_set",
		Args: []Arg{
			Int32Arg(1000),
			Float32Arg(440.5),
			StringArg("freq"),
			BoolArg(true),
			BlobArg([]byte{1, 2, 3, 4, 5}),
		},
	}

	w := GetWriter()
	defer PutWriter(w)

	encoded, err := w.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}

	// Copy since w's buffer is reused by the pool.
	buf := append([]byte(nil), encoded...)

	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got, ok := decoded.(*Message)
	if !ok {
		t.Fatalf("expected *Message, got %T", decoded)
	}
	if got.Address != msg.Address {
		t.Errorf("expected address %q, got %q", msg.Address, got.Address)
	}
	if len(got.Args) != len(msg.Args) {
		t.Fatalf("expected %d args, got %d", len(msg.Args), len(got.Args))
	}
	if got.Args[0].Int32 != 1000 {
		t.Errorf("expected int32 1000, got %d", got.Args[0].Int32)
	}
	if got.Args[1].F32 != 440.5 {
		t.Errorf("expected float32 440.5, got %v", got.Args[1].F32)
	}
	if got.Args[2].Str != "freq" {
		t.Errorf("expected string %q, got %q", "freq", got.Args[2].Str)
	}
	if got.Args[3].Type != TypeTrue {
		t.Errorf("expected bool arg type T, got %q", rune(got.Args[3].Type))
	}
	if !bytes.Equal(got.Args[4].Blob, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("expected blob round trip, got %v", got.Args[4].Blob)
	}
}

func TestBundleRoundTrip(t *testing.T) {
	inner := &Message{Address: "/s_new", Args: []Arg{StringArg("sine"), Int32Arg(2000)}}
	bundle := &Bundle{
		Seconds:  3912345678,
		Fraction: 1 << 31,
		Packets:  []Packet{inner},
	}

	w := GetWriter()
	defer PutWriter(w)

	encoded, err := w.EncodeBundle(bundle)
	if err != nil {
		t.Fatalf("EncodeBundle failed: %v", err)
	}
	buf := append([]byte(nil), encoded...)

	if !IsBundleBytes(buf) {
		t.Fatal("expected encoded bytes to be recognized as a bundle")
	}

	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	got, ok := decoded.(*Bundle)
	if !ok {
		t.Fatalf("expected *Bundle, got %T", decoded)
	}
	if got.Seconds != bundle.Seconds || got.Fraction != bundle.Fraction {
		t.Errorf("timetag mismatch: got (%d,%d), want (%d,%d)", got.Seconds, got.Fraction, bundle.Seconds, bundle.Fraction)
	}
	if len(got.Packets) != 1 {
		t.Fatalf("expected 1 nested packet, got %d", len(got.Packets))
	}
	nested, ok := got.Packets[0].(*Message)
	if !ok {
		t.Fatalf("expected nested *Message, got %T", got.Packets[0])
	}
	if nested.Address != "/s_new" {
		t.Errorf("expected nested address /s_new, got %q", nested.Address)
	}
}

func TestNestedBundleDepthLimit(t *testing.T) {
	var b *Bundle = &Bundle{Seconds: 1, Fraction: 1, Packets: []Packet{&Message{Address: "/leaf"}}}
	for i := 0; i < maxBundleDepth; i++ {
		b = &Bundle{Seconds: 1, Fraction: 1, Packets: []Packet{b}}
	}

	w := GetWriter()
	defer PutWriter(w)

	if _, err := w.EncodeBundle(b); err == nil {
		t.Fatal("expected an error encoding a bundle nested beyond the depth limit")
	}
}

func TestLargeBlobRoundTrip(t *testing.T) {
	blob := make([]byte, 3<<20)
	for i := range blob {
		blob[i] = byte(i)
	}
	msg := &Message{Address: "/b_setn", Args: []Arg{BlobArg(blob)}}

	w := GetWriter()
	defer PutWriter(w)

	encoded, err := w.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}
	buf := append([]byte(nil), encoded...)

	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	got := decoded.(*Message)
	if !bytes.Equal(got.Args[0].Blob, blob) {
		t.Error("expected 3 MiB blob to round-trip exactly")
	}
}

func TestOversizedBlobRejected(t *testing.T) {
	msg := &Message{Address: "/b_setn", Args: []Arg{BlobArg(make([]byte, MaxBlobSize+1))}}
	w := GetWriter()
	defer PutWriter(w)

	if _, err := w.EncodeMessage(msg); err == nil {
		t.Fatal("expected an error encoding a blob over MaxBlobSize")
	}
}
