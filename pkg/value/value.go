// Package value holds the byte-level representation of runtime values.
// A Value is only meaningful together with the type that produced it.
package value

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrSize = errors.New("value has unexpected size")

// Value is an immutable little-endian byte string.
type Value struct {
	data []byte
}

// Unit is the zero-sized value.
var Unit = Value{}

// New returns a zero-filled value of the given size.
func New(size int) Value {
	return Value{data: make([]byte, size)}
}

// FromBytes copies b into a new value.
func FromBytes(b []byte) Value {
	if len(b) == 0 {
		return Unit
	}
	return Value{data: append([]byte(nil), b...)}
}

// Wrap takes ownership of b without copying.
func Wrap(b []byte) Value {
	return Value{data: b}
}

func (v Value) Len() int {
	return len(v.data)
}

// Bytes returns a copy of the underlying bytes.
func (v Value) Bytes() []byte {
	return append([]byte(nil), v.data...)
}

// Raw exposes the underlying bytes. Callers must not modify them.
func (v Value) Raw() []byte {
	return v.data
}

func (v Value) Equal(o Value) bool {
	if len(v.data) != len(o.data) {
		return false
	}
	for i := range v.data {
		if v.data[i] != o.data[i] {
			return false
		}
	}
	return true
}

// Slice returns the n bytes starting at off.
func (v Value) Slice(off, n int) (Value, error) {
	if off < 0 || n < 0 || off+n > len(v.data) {
		return Unit, fmt.Errorf("%w: slice [%d:%d] of %d bytes", ErrSize, off, off+n, len(v.data))
	}
	return FromBytes(v.data[off : off+n]), nil
}

// Splice returns a copy of v with part written at off.
func (v Value) Splice(off int, part Value) (Value, error) {
	if off < 0 || off+len(part.data) > len(v.data) {
		return Unit, fmt.Errorf("%w: write of %d bytes at %d into %d", ErrSize, len(part.data), off, len(v.data))
	}
	out := v.Bytes()
	copy(out[off:], part.data)
	return Wrap(out), nil
}

// Repeat concatenates n copies of v.
func (v Value) Repeat(n int) Value {
	out := make([]byte, 0, len(v.data)*n)
	for range n {
		out = append(out, v.data...)
	}
	return Wrap(out)
}

func (v Value) String() string {
	return fmt.Sprintf("%x", v.data)
}

func FromBool(b bool) Value {
	if b {
		return Value{data: []byte{1}}
	}
	return Value{data: []byte{0}}
}

// Bool decodes a one-byte boolean. Any non-zero byte is true.
func (v Value) Bool() (bool, error) {
	if len(v.data) != 1 {
		return false, fmt.Errorf("%w: bool needs 1 byte, got %d", ErrSize, len(v.data))
	}
	return v.data[0] != 0, nil
}

// FromUint encodes the low size bytes of x.
func FromUint(x uint64, size int) Value {
	out := make([]byte, size)
	for i := 0; i < size && i < 8; i++ {
		out[i] = byte(x >> (8 * i))
	}
	return Value{data: out}
}

// FromInt encodes x sign-extended to size bytes.
func FromInt(x int64, size int) Value {
	out := make([]byte, size)
	for i := range size {
		if i < 8 {
			out[i] = byte(uint64(x) >> (8 * i))
		} else if x < 0 {
			out[i] = 0xff
		}
	}
	return Value{data: out}
}

// Uint64 zero-extends up to 8 bytes. Wider values are truncated.
func (v Value) Uint64() uint64 {
	var x uint64
	for i := 0; i < len(v.data) && i < 8; i++ {
		x |= uint64(v.data[i]) << (8 * i)
	}
	return x
}

// Int64 sign-extends from the value's own width.
func (v Value) Int64() int64 {
	n := len(v.data)
	if n == 0 {
		return 0
	}
	x := v.Uint64()
	if n < 8 && v.data[n-1]&0x80 != 0 {
		x |= ^uint64(0) << (8 * n)
	}
	return int64(x)
}

func FromFloat32(f float32) Value {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, math.Float32bits(f))
	return Value{data: out}
}

func FromFloat64(f float64) Value {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, math.Float64bits(f))
	return Value{data: out}
}

func (v Value) Float32() (float32, error) {
	if len(v.data) != 4 {
		return 0, fmt.Errorf("%w: f32 needs 4 bytes, got %d", ErrSize, len(v.data))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(v.data)), nil
}

func (v Value) Float64() (float64, error) {
	if len(v.data) != 8 {
		return 0, fmt.Errorf("%w: f64 needs 8 bytes, got %d", ErrSize, len(v.data))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v.data)), nil
}

// FromAddress encodes a thin pointer.
func FromAddress(addr uint64) Value {
	return FromUint(addr, 8)
}

// FromWide encodes a wide pointer: address followed by metadata.
func FromWide(addr, meta uint64) Value {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out, addr)
	binary.LittleEndian.PutUint64(out[8:], meta)
	return Value{data: out}
}

// Address decodes the address part of a thin or wide pointer.
func (v Value) Address() (uint64, error) {
	if len(v.data) != 8 && len(v.data) != 16 {
		return 0, fmt.Errorf("%w: pointer needs 8 or 16 bytes, got %d", ErrSize, len(v.data))
	}
	return binary.LittleEndian.Uint64(v.data), nil
}

// Metadata decodes the second word of a wide pointer.
func (v Value) Metadata() (uint64, error) {
	if len(v.data) != 16 {
		return 0, fmt.Errorf("%w: wide pointer needs 16 bytes, got %d", ErrSize, len(v.data))
	}
	return binary.LittleEndian.Uint64(v.data[8:]), nil
}
