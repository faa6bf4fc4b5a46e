// Package osc implements the OSC 1.0 wire format subset the engine
// speaks: messages, bundles, and the argument types spec.md §4.3 lists
// (int32, int64, float32, float64, string, blob, bool). All numeric
// fields are big-endian; strings and blobs are padded to a 4-byte
// boundary.
package osc

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	bundleTag   = "#bundle\x00"
	maxBundleDepth = 10
	// MaxBlobSize bounds a single blob argument (spec.md §8 invariant 9
	// requires round-tripping blobs of at least 3 MiB).
	MaxBlobSize = 3 << 20
)

// ArgType identifies the OSC typetag character for one argument.
type ArgType byte

const (
	TypeInt32   ArgType = 'i'
	TypeInt64   ArgType = 'h'
	TypeFloat32 ArgType = 'f'
	TypeFloat64 ArgType = 'd'
	TypeString  ArgType = 's'
	TypeBlob    ArgType = 'b'
	TypeTrue    ArgType = 'T'
	TypeFalse   ArgType = 'F'
)

// Arg is one OSC argument. Only the field matching Type is meaningful;
// Bool/True/False carry no payload bytes on the wire.
type Arg struct {
	Type  ArgType
	Int32 int32
	Int64 int64
	F32   float32
	F64   float64
	Str   string
	Blob  []byte
}

func Int32Arg(v int32) Arg     { return Arg{Type: TypeInt32, Int32: v} }
func Int64Arg(v int64) Arg     { return Arg{Type: TypeInt64, Int64: v} }
func Float32Arg(v float32) Arg { return Arg{Type: TypeFloat32, F32: v} }
func Float64Arg(v float64) Arg { return Arg{Type: TypeFloat64, F64: v} }
func StringArg(v string) Arg   { return Arg{Type: TypeString, Str: v} }
func BlobArg(v []byte) Arg     { return Arg{Type: TypeBlob, Blob: v} }
func BoolArg(v bool) Arg {
	if v {
		return Arg{Type: TypeTrue}
	}
	return Arg{Type: TypeFalse}
}

// Message is a non-bundle OSC packet: an address pattern plus arguments.
type Message struct {
	Address string
	Args    []Arg
}

// Bundle is a timetagged collection of nested packets (messages or
// further bundles), up to maxBundleDepth deep.
type Bundle struct {
	Seconds  uint32
	Fraction uint32
	Packets  []Packet
}

// Packet is either a *Message or a *Bundle.
type Packet interface {
	isPacket()
}

func (*Message) isPacket() {}
func (*Bundle) isPacket()  {}

// IsBundleBytes reports whether encoded begins with the bundle prefix,
// the same test internal/classify.Classify performs on its own copy of
// this check to stay allocation-free on the classification hot path.
func IsBundleBytes(encoded []byte) bool {
	return len(encoded) >= 8 && string(encoded[:8]) == bundleTag
}

func align4(n int) int { return (n + 3) &^ 3 }

func encodedStringLen(s string) int {
	return align4(len(s) + 1)
}

func writeString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	buf = append(buf, 0)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

func readString(b []byte) (string, int, error) {
	nul := -1
	for i, c := range b {
		if c == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return "", 0, fmt.Errorf("osc: unterminated string")
	}
	n := align4(nul + 1)
	if n > len(b) {
		return "", 0, fmt.Errorf("osc: truncated padded string")
	}
	return string(b[:nul]), n, nil
}

func typetagOf(args []Arg) string {
	tags := make([]byte, 0, len(args)+1)
	tags = append(tags, ',')
	for _, a := range args {
		tags = append(tags, byte(a.Type))
	}
	return string(tags)
}

// EncodeMessage appends msg's wire representation to w's scratch buffer
// and returns the growing slice (spec.md §4.3's single-scratch-buffer
// reuse pattern — see writer.go for the pooled scratch buffer).
func (w *Writer) EncodeMessage(msg *Message) ([]byte, error) {
	w.buf = writeString(w.buf, msg.Address)
	w.buf = writeString(w.buf, typetagOf(msg.Args))

	for _, a := range msg.Args {
		switch a.Type {
		case TypeInt32:
			w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(a.Int32))
		case TypeInt64:
			w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(a.Int64))
		case TypeFloat32:
			w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(a.F32))
		case TypeFloat64:
			w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(a.F64))
		case TypeString:
			w.buf = writeString(w.buf, a.Str)
		case TypeBlob:
			if len(a.Blob) > MaxBlobSize {
				return nil, fmt.Errorf("osc: blob of %d bytes exceeds max %d", len(a.Blob), MaxBlobSize)
			}
			w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(a.Blob)))
			w.buf = append(w.buf, a.Blob...)
			for len(w.buf)%4 != 0 {
				w.buf = append(w.buf, 0)
			}
		case TypeTrue, TypeFalse:
			// no payload bytes
		default:
			return nil, fmt.Errorf("osc: unsupported argument type %q", rune(a.Type))
		}
	}
	return w.buf, nil
}

// EncodeBundle appends bundle's wire representation, recursing into
// nested packets up to maxBundleDepth.
func (w *Writer) EncodeBundle(b *Bundle) ([]byte, error) {
	return w.encodeBundle(b, 0)
}

func (w *Writer) encodeBundle(b *Bundle, depth int) ([]byte, error) {
	if depth >= maxBundleDepth {
		return nil, fmt.Errorf("osc: bundle nesting exceeds depth %d", maxBundleDepth)
	}
	w.buf = append(w.buf, bundleTag...)
	w.buf = binary.BigEndian.AppendUint32(w.buf, b.Seconds)
	w.buf = binary.BigEndian.AppendUint32(w.buf, b.Fraction)

	for _, p := range b.Packets {
		sizeOffset := len(w.buf)
		w.buf = binary.BigEndian.AppendUint32(w.buf, 0) // placeholder

		var err error
		switch pkt := p.(type) {
		case *Message:
			_, err = w.EncodeMessage(pkt)
		case *Bundle:
			_, err = w.encodeBundle(pkt, depth+1)
		default:
			err = fmt.Errorf("osc: unknown packet type %T", p)
		}
		if err != nil {
			return nil, err
		}

		size := len(w.buf) - sizeOffset - 4
		binary.BigEndian.PutUint32(w.buf[sizeOffset:], uint32(size))
	}
	return w.buf, nil
}

// Decode parses one top-level OSC packet (message or bundle).
func Decode(data []byte) (Packet, error) {
	return decode(data, 0)
}

func decode(data []byte, depth int) (Packet, error) {
	if IsBundleBytes(data) {
		return decodeBundle(data, depth)
	}
	return decodeMessage(data)
}

func decodeMessage(data []byte) (*Message, error) {
	address, n, err := readString(data)
	if err != nil {
		return nil, fmt.Errorf("osc: address: %w", err)
	}
	data = data[n:]

	typetags, n, err := readString(data)
	if err != nil {
		return nil, fmt.Errorf("osc: typetags: %w", err)
	}
	data = data[n:]

	if len(typetags) == 0 || typetags[0] != ',' {
		return nil, fmt.Errorf("osc: typetag string must start with ','")
	}
	tags := typetags[1:]

	args := make([]Arg, 0, len(tags))
	for _, tagByte := range []byte(tags) {
		tag := ArgType(tagByte)
		switch tag {
		case TypeInt32:
			if len(data) < 4 {
				return nil, fmt.Errorf("osc: truncated int32")
			}
			args = append(args, Int32Arg(int32(binary.BigEndian.Uint32(data))))
			data = data[4:]
		case TypeInt64:
			if len(data) < 8 {
				return nil, fmt.Errorf("osc: truncated int64")
			}
			args = append(args, Int64Arg(int64(binary.BigEndian.Uint64(data))))
			data = data[8:]
		case TypeFloat32:
			if len(data) < 4 {
				return nil, fmt.Errorf("osc: truncated float32")
			}
			args = append(args, Float32Arg(math.Float32frombits(binary.BigEndian.Uint32(data))))
			data = data[4:]
		case TypeFloat64:
			if len(data) < 8 {
				return nil, fmt.Errorf("osc: truncated float64")
			}
			args = append(args, Float64Arg(math.Float64frombits(binary.BigEndian.Uint64(data))))
			data = data[8:]
		case TypeString:
			s, sn, err := readString(data)
			if err != nil {
				return nil, fmt.Errorf("osc: string arg: %w", err)
			}
			args = append(args, StringArg(s))
			data = data[sn:]
		case TypeBlob:
			if len(data) < 4 {
				return nil, fmt.Errorf("osc: truncated blob length")
			}
			blobLen := binary.BigEndian.Uint32(data)
			if blobLen > MaxBlobSize {
				return nil, fmt.Errorf("osc: blob of %d bytes exceeds max %d", blobLen, MaxBlobSize)
			}
			data = data[4:]
			padded := align4(int(blobLen))
			if len(data) < padded {
				return nil, fmt.Errorf("osc: truncated blob payload")
			}
			blob := make([]byte, blobLen)
			copy(blob, data[:blobLen])
			args = append(args, BlobArg(blob))
			data = data[padded:]
		case TypeTrue:
			args = append(args, BoolArg(true))
		case TypeFalse:
			args = append(args, BoolArg(false))
		default:
			return nil, fmt.Errorf("osc: unsupported typetag %q", rune(tag))
		}
	}

	return &Message{Address: address, Args: args}, nil
}

func decodeBundle(data []byte, depth int) (*Bundle, error) {
	if depth >= maxBundleDepth {
		return nil, fmt.Errorf("osc: bundle nesting exceeds depth %d", maxBundleDepth)
	}
	if len(data) < 16 {
		return nil, fmt.Errorf("osc: truncated bundle header")
	}
	b := &Bundle{
		Seconds:  binary.BigEndian.Uint32(data[8:12]),
		Fraction: binary.BigEndian.Uint32(data[12:16]),
	}
	data = data[16:]

	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("osc: truncated bundle element size")
		}
		size := binary.BigEndian.Uint32(data)
		data = data[4:]
		if uint32(len(data)) < size {
			return nil, fmt.Errorf("osc: truncated bundle element")
		}
		elem, err := decode(data[:size], depth+1)
		if err != nil {
			return nil, err
		}
		b.Packets = append(b.Packets, elem)
		data = data[size:]
	}
	return b, nil
}
