// Package cint implements EpilogLite's compressed unsigned-integer encoding
// (CInt): a variable-length 1-to-17-byte wire format used pervasively as
// row-ids, page-ids, lengths, and offsets in on-disk structures.
//
// What: a bijection between the range [0, 2^128-1] and a 1..17 byte slice.
// How: byte 0's high bit signals a multi-byte form; when set, byte 1's high
// nibble encodes the number of additional tail bytes (0..15), giving a total
// length of 2..17 bytes. See the byte-layout comment on encode for the exact
// bit packing.
package cint

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
)

// Sentinel errors surfaced by Decode/DecodeExact/DecodeReader and by the
// narrowing accessors (Uint16/Uint32/Uint64/Int16/Int32/Int64).
var (
	ErrEmpty           = errors.New("cint: empty input")
	ErrTooFew          = errors.New("cint: too few bytes")
	ErrTooLong         = errors.New("cint: too many bytes")
	ErrInvalidFormat   = errors.New("cint: invalid format")
	ErrValueOutOfRange = errors.New("cint: value out of range")
	ErrDivideByZero    = errors.New("cint: division by zero")
)

// MaxLen is the longest a CInt encoding may legally be.
const MaxLen = 17

// maxValue is 2^128 - 1, the largest value a CInt can hold.
var maxValue = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// CInt is a compressed unsigned integer. The zero value is not a valid CInt;
// construct one with FromBig, FromUint64, FromInt64, Decode, or DecodeExact.
//
// CInt stores its own canonical wire encoding (not the numeric value), so it
// is cheaply comparable with == and usable as a map key — the value is
// recomputed on demand by ToBig/Uint64/etc.
type CInt struct {
	b [MaxLen]byte
	n uint8 // encoded length, 1..17; 0 means "zero value, invalid"
}

// Bytes returns the canonical wire encoding.
func (c CInt) Bytes() []byte {
	out := make([]byte, c.n)
	copy(out, c.b[:c.n])
	return out
}

// Len returns the number of bytes the encoding occupies.
func (c CInt) Len() int { return int(c.n) }

// Equal reports whether two CInt values encode the same canonical bytes.
func (c CInt) Equal(o CInt) bool { return c == o }

func (c CInt) String() string {
	v, err := c.ToBig()
	if err != nil {
		return "cint(invalid)"
	}
	return v.String()
}

// ToBig returns the decoded value as an arbitrary-precision integer. It
// re-derives the value from the stored canonical bytes rather than caching
// it, keeping CInt a plain comparable value type.
func (c CInt) ToBig() (*big.Int, error) {
	v, _, err := decodeBytes(c.b[:c.n])
	return v, err
}

// FromBig constructs the canonically-shortest CInt encoding of v.
// v must be in [0, 2^128-1].
func FromBig(v *big.Int) (CInt, error) {
	if v.Sign() < 0 {
		return CInt{}, fmt.Errorf("%w: negative value %s", ErrValueOutOfRange, v)
	}
	if v.Cmp(maxValue) > 0 {
		return CInt{}, fmt.Errorf("%w: max %s, got %s", ErrValueOutOfRange, maxValue, v)
	}
	return encode(v), nil
}

// FromUint64 encodes an unsigned 64-bit value.
func FromUint64(x uint64) CInt {
	c, _ := FromBig(new(big.Int).SetUint64(x))
	return c
}

// FromUint32 encodes an unsigned 32-bit value.
func FromUint32(x uint32) CInt { return FromUint64(uint64(x)) }

// FromUint16 encodes an unsigned 16-bit value.
func FromUint16(x uint16) CInt { return FromUint64(uint64(x)) }

// FromInt64 reinterprets x's two's-complement bit pattern as an unsigned
// value and encodes that. This is the only sanctioned way to carry a signed
// value through CInt: it never participates in generic arithmetic, so a
// mixed-sign value can't silently reinterpret itself mid-computation the way
// the original Rust source's `From<i*>` impls did (see DESIGN.md).
func FromInt64(x int64) CInt { return FromUint64(uint64(x)) }

// FromInt32 reinterprets x's two's-complement bit pattern as unsigned.
func FromInt32(x int32) CInt { return FromUint32(uint32(x)) }

// FromInt16 reinterprets x's two's-complement bit pattern as unsigned.
func FromInt16(x int16) CInt { return FromUint16(uint16(x)) }

// Uint64 narrows the value to a uint64, failing with ErrValueOutOfRange if
// it does not fit.
func (c CInt) Uint64() (uint64, error) {
	v, err := c.ToBig()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: max %d, got %s", ErrValueOutOfRange, uint64(math.MaxUint64), v)
	}
	return v.Uint64(), nil
}

// Uint32 narrows the value to a uint32.
func (c CInt) Uint32() (uint32, error) {
	u, err := c.Uint64()
	if err != nil {
		return 0, err
	}
	if u > uint64(^uint32(0)) {
		return 0, fmt.Errorf("%w: max %d, got %d", ErrValueOutOfRange, ^uint32(0), u)
	}
	return uint32(u), nil
}

// Uint16 narrows the value to a uint16.
func (c CInt) Uint16() (uint16, error) {
	u, err := c.Uint64()
	if err != nil {
		return 0, err
	}
	if u > uint64(^uint16(0)) {
		return 0, fmt.Errorf("%w: max %d, got %d", ErrValueOutOfRange, ^uint16(0), u)
	}
	return uint16(u), nil
}

// Int64 narrows the value to a uint64 and reinterprets its bit pattern as
// int64 (bit-exact round trip with FromInt64).
func (c CInt) Int64() (int64, error) {
	u, err := c.Uint64()
	if err != nil {
		return 0, err
	}
	return int64(u), nil
}

// Int32 narrows and reinterprets as int32.
func (c CInt) Int32() (int32, error) {
	u, err := c.Uint32()
	if err != nil {
		return 0, err
	}
	return int32(u), nil
}

// Int16 narrows and reinterprets as int16.
func (c CInt) Int16() (int16, error) {
	u, err := c.Uint16()
	if err != nil {
		return 0, err
	}
	return int16(u), nil
}

// ───────────────────────────────────────────────────────────────────────────
// Encoding
// ───────────────────────────────────────────────────────────────────────────

// encode builds the canonically-shortest CInt for a value already validated
// to be in [0, 2^128-1].
//
// Byte layout:
//
//	1-byte form:  b[0] high bit clear; value = b[0] & 0x7F.           Range [0, 127]
//	2-byte form:  b[0] high bit set, b[1] high nibble == 0;
//	              value = (b[0]&0x7F) | (b[1]&0x0F)<<7.               Range [128, 2047]
//	n-byte form:  b[0] high bit set, b[1] high nibble == n-2 (n in [3,17]);
//	              value |= b[i] << ((i-2)*8 + 11)  for i in [2, n).
func encode(v *big.Int) CInt {
	var c CInt
	low7 := new(big.Int).And(v, big.NewInt(0x7F))
	rest := new(big.Int).Rsh(v, 7)

	if rest.Sign() == 0 {
		c.b[0] = byte(low7.Uint64())
		c.n = 1
		return c
	}

	c.b[0] = byte(low7.Uint64()) | 0x80

	nib := new(big.Int).And(rest, big.NewInt(0x0F))
	tail := new(big.Int).Rsh(rest, 4)

	if tail.Sign() == 0 {
		c.b[1] = byte(nib.Uint64())
		c.n = 2
		return c
	}

	var tailBytes []byte
	for tail.Sign() != 0 {
		tailBytes = append(tailBytes, byte(new(big.Int).And(tail, big.NewInt(0xFF)).Uint64()))
		tail.Rsh(tail, 8)
	}
	c.b[1] = byte(nib.Uint64()) | (byte(len(tailBytes)) << 4)
	copy(c.b[2:], tailBytes)
	c.n = uint8(2 + len(tailBytes))
	return c
}

// decodeBytes decodes the value at the front of data, returning the value
// and the number of bytes consumed. data may contain trailing bytes beyond
// the encoded value; only the declared length is consumed.
func decodeBytes(data []byte) (*big.Int, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrEmpty
	}
	b0 := data[0]
	if b0&0x80 == 0 {
		return big.NewInt(int64(b0)), 1, nil
	}
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("%w: expected 2, got 1", ErrTooFew)
	}
	b1 := data[1]
	tailBytes := int(b1&0xF0) >> 4
	n := tailBytes + 2
	if n > MaxLen {
		return nil, 0, fmt.Errorf("%w: decoded length %d exceeds %d", ErrInvalidFormat, n, MaxLen)
	}
	if len(data) < n {
		return nil, 0, fmt.Errorf("%w: expected %d, got %d", ErrTooFew, n, len(data))
	}

	v := big.NewInt(int64(b0 & 0x7F))
	v.Or(v, new(big.Int).Lsh(big.NewInt(int64(b1&0x0F)), 7))
	for i := 2; i < n; i++ {
		v.Or(v, new(big.Int).Lsh(big.NewInt(int64(data[i])), uint((i-2)*8+11)))
	}
	return v, n, nil
}

// Decode decodes a CInt occupying the front of data. data may be longer
// than the encoded value; Decode reports how many bytes it consumed so the
// caller can continue parsing a stream (mirrors a drained Vec<u8> in the
// original source).
func Decode(data []byte) (CInt, int, error) {
	v, n, err := decodeBytes(data)
	if err != nil {
		return CInt{}, 0, err
	}
	return encode(v), n, nil
}

// DecodeExact decodes a CInt that must occupy the entirety of data — no
// more, no fewer bytes.
func DecodeExact(data []byte) (CInt, error) {
	c, n, err := Decode(data)
	if err != nil {
		return CInt{}, err
	}
	if n < len(data) {
		return CInt{}, fmt.Errorf("%w: expected %d, got %d", ErrTooLong, n, len(data))
	}
	return c, nil
}

// DecodeReader decodes a single CInt from a streaming reader, reading only
// as many bytes as the encoding declares.
func DecodeReader(r io.Reader) (CInt, error) {
	var c CInt
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return CInt{}, ErrEmpty
		}
		return CInt{}, err
	}
	c.b[0] = first[0]
	if first[0]&0x80 == 0 {
		c.n = 1
		return c, nil
	}

	var second [1]byte
	if _, err := io.ReadFull(r, second[:]); err != nil {
		return CInt{}, fmt.Errorf("%w: expected 2, got 1", ErrTooFew)
	}
	c.b[1] = second[0]

	tailBytes := int(second[0]&0xF0) >> 4
	n := tailBytes + 2
	if n > MaxLen {
		return CInt{}, fmt.Errorf("%w: decoded length %d exceeds %d", ErrInvalidFormat, n, MaxLen)
	}
	if tailBytes > 0 {
		if _, err := io.ReadFull(r, c.b[2:n]); err != nil {
			return CInt{}, fmt.Errorf("%w: expected %d, got fewer", ErrTooFew, n)
		}
	}
	v, _, err := decodeBytes(c.b[:n])
	if err != nil {
		return CInt{}, err
	}
	return encode(v), nil
}

// ───────────────────────────────────────────────────────────────────────────
// Arithmetic
// ───────────────────────────────────────────────────────────────────────────
//
// Add/Sub/Mul/Div re-enter through a native arbitrary-precision type and
// fail with the same bounds-check errors a fixed-width host type would:
// ErrValueOutOfRange on overflow (Add/Mul) or underflow (Sub), and
// ErrDivideByZero for a zero divisor. Because FromInt64/Int64 are
// separately named functions rather than a generic numeric trait, a signed
// value can never be accidentally fed through these unsigned operators.

// Add returns a + b.
func Add(a, b CInt) (CInt, error) {
	av, err := a.ToBig()
	if err != nil {
		return CInt{}, err
	}
	bv, err := b.ToBig()
	if err != nil {
		return CInt{}, err
	}
	return FromBig(new(big.Int).Add(av, bv))
}

// Sub returns a - b. Underflow (b > a) fails with ErrValueOutOfRange.
func Sub(a, b CInt) (CInt, error) {
	av, err := a.ToBig()
	if err != nil {
		return CInt{}, err
	}
	bv, err := b.ToBig()
	if err != nil {
		return CInt{}, err
	}
	r := new(big.Int).Sub(av, bv)
	if r.Sign() < 0 {
		return CInt{}, fmt.Errorf("%w: %s - %s underflows", ErrValueOutOfRange, av, bv)
	}
	return FromBig(r)
}

// Mul returns a * b.
func Mul(a, b CInt) (CInt, error) {
	av, err := a.ToBig()
	if err != nil {
		return CInt{}, err
	}
	bv, err := b.ToBig()
	if err != nil {
		return CInt{}, err
	}
	return FromBig(new(big.Int).Mul(av, bv))
}

// Div returns a / b (integer division). Division by zero fails with
// ErrDivideByZero.
func Div(a, b CInt) (CInt, error) {
	av, err := a.ToBig()
	if err != nil {
		return CInt{}, err
	}
	bv, err := b.ToBig()
	if err != nil {
		return CInt{}, err
	}
	if bv.Sign() == 0 {
		return CInt{}, ErrDivideByZero
	}
	return FromBig(new(big.Int).Quo(av, bv))
}
