package jsslab

import (
	"encoding/binary"
	"math"
)

// nanHead is the high 32 bits of the canonical quiet-NaN double used to
// NaN-box slab handles into an 8-byte ABI slot.
const nanHead uint32 = 0x7FF80000

// StoreValue encodes a (value, isRef) pair into its 8-byte little-endian
// tagged-slot representation: references carry the handle in the low 32
// bits under the NaN head, integers are reinjected through a double. The
// two ranges cannot collide (an integer slot never reads back as a NaN),
// so every handle, 0 included, is stored as-is.
func StoreValue(num int64, isRef bool) [8]byte {
	var buf [8]byte
	if isRef {
		binary.LittleEndian.PutUint32(buf[0:4], uint32(num))
		binary.LittleEndian.PutUint32(buf[4:8], nanHead)
		return buf
	}
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(float64(num)))
	return buf
}

// LoadValue decodes an 8-byte tagged slot (as read by memview.View.Raw8)
// back into a (value, isRef) pair. A slot whose double reads back as an
// exact integer is the integer branch; anything else is a handle in the
// low 32 bits, NaN-boxed handles included, since a NaN never equals its
// own integer cast.
func LoadValue(b [8]byte) (int64, bool) {
	bits := binary.LittleEndian.Uint64(b[:])
	f := math.Float64frombits(bits)
	if f == float64(int64(f)) {
		return int64(f), false
	}
	return int64(binary.LittleEndian.Uint32(b[0:4])), true
}
