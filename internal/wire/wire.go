// Package wire decodes the fixed-width primitives used by every venue's
// packet and record formats: endian-aware integers and the two flavors of
// right-justified, space-padded ASCII fields found on the wire.
//
// Every reader here is total over a long-enough slice and bounds-checked
// against a short one; none of them allocate or retain the input.
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrBufferTooShort is returned whenever a read would run past the end of
// the supplied buffer.
var ErrBufferTooShort = errors.New("wire: buffer too short")

// ReadU8 reads a single byte at offset.
func ReadU8(buf []byte, offset int) (uint8, error) {
	if offset+1 > len(buf) {
		return 0, ErrBufferTooShort
	}
	return buf[offset], nil
}

// ReadU16LE reads a little-endian uint16 at offset.
func ReadU16LE(buf []byte, offset int) (uint16, error) {
	if offset+2 > len(buf) {
		return 0, ErrBufferTooShort
	}
	return binary.LittleEndian.Uint16(buf[offset:]), nil
}

// ReadU16BE reads a big-endian uint16 at offset.
func ReadU16BE(buf []byte, offset int) (uint16, error) {
	if offset+2 > len(buf) {
		return 0, ErrBufferTooShort
	}
	return binary.BigEndian.Uint16(buf[offset:]), nil
}

// ReadU32LE reads a little-endian uint32 at offset.
func ReadU32LE(buf []byte, offset int) (uint32, error) {
	if offset+4 > len(buf) {
		return 0, ErrBufferTooShort
	}
	return binary.LittleEndian.Uint32(buf[offset:]), nil
}

// ReadU32BE reads a big-endian uint32 at offset.
func ReadU32BE(buf []byte, offset int) (uint32, error) {
	if offset+4 > len(buf) {
		return 0, ErrBufferTooShort
	}
	return binary.BigEndian.Uint32(buf[offset:]), nil
}

// ReadU64LE reads a little-endian uint64 at offset.
func ReadU64LE(buf []byte, offset int) (uint64, error) {
	if offset+8 > len(buf) {
		return 0, ErrBufferTooShort
	}
	return binary.LittleEndian.Uint64(buf[offset:]), nil
}

// ReadU64BE reads a big-endian uint64 at offset.
func ReadU64BE(buf []byte, offset int) (uint64, error) {
	if offset+8 > len(buf) {
		return 0, ErrBufferTooShort
	}
	return binary.BigEndian.Uint64(buf[offset:]), nil
}

// PutU16LE, PutU16BE, PutU32LE, PutU32BE, PutU64LE, PutU64BE are the
// symmetric encoders, used by test packet builders and by the round-trip
// property tests.

func PutU16LE(buf []byte, offset int, v uint16) { binary.LittleEndian.PutUint16(buf[offset:], v) }
func PutU16BE(buf []byte, offset int, v uint16) { binary.BigEndian.PutUint16(buf[offset:], v) }
func PutU32LE(buf []byte, offset int, v uint32) { binary.LittleEndian.PutUint32(buf[offset:], v) }
func PutU32BE(buf []byte, offset int, v uint32) { binary.BigEndian.PutUint32(buf[offset:], v) }
func PutU64LE(buf []byte, offset int, v uint64) { binary.LittleEndian.PutUint64(buf[offset:], v) }
func PutU64BE(buf []byte, offset int, v uint64) { binary.BigEndian.PutUint64(buf[offset:], v) }

// ASCIIAtoi decodes a right-justified, space-padded base-10 field. Spaces
// are only meaningful when scanning from the right: the first space found
// scanning right-to-left terminates accumulation, so " 4 2" decodes to 2,
// matching legacy wire behavior rather than stripping all spaces.
func ASCIIAtoi(buf []byte) uint64 {
	end := len(buf)
	for end > 0 && buf[end-1] == ' ' {
		end--
	}
	start := end
	for start > 0 && buf[start-1] != ' ' {
		start--
	}
	var v uint64
	for _, c := range buf[start:end] {
		if c < '0' || c > '9' {
			continue
		}
		v = v*10 + uint64(c-'0')
	}
	return v
}

// ASCIIPrice10 decodes a ten-character fixed field, six whole digits
// followed by four fractional digits with no decimal point on the wire,
// returning integer units of 10^-4 (e.g. "  100 5000" -> 1,005,000).
func ASCIIPrice10(buf []byte) uint64 {
	if len(buf) > 10 {
		buf = buf[:10]
	}
	whole := buf
	var frac []byte
	if len(buf) >= 6 {
		whole = buf[:6]
		frac = buf[6:]
	}
	return ASCIIAtoi(whole)*10000 + ASCIIAtoi(frac)
}

// PutASCIIAtoi right-justifies v into buf, space-padding on the left.
func PutASCIIAtoi(buf []byte, v uint64) {
	for i := range buf {
		buf[i] = ' '
	}
	i := len(buf)
	if v == 0 {
		buf[i-1] = '0'
		return
	}
	for v > 0 && i > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
}

// PutASCIIPrice10 encodes units of 10^-4 into a ten-character
// six-whole/four-fractional fixed field with no decimal point character.
func PutASCIIPrice10(buf []byte, units uint64) {
	if len(buf) != 10 {
		panic("wire: PutASCIIPrice10 requires a 10-byte buffer")
	}
	whole := units / 10000
	frac := units % 10000
	PutASCIIAtoi(buf[:6], whole)
	// Fractional part is zero-padded on the left, not space-padded.
	for i := 9; i >= 6; i-- {
		buf[i] = byte('0' + frac%10)
		frac /= 10
	}
}
