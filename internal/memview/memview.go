// Package memview implements the typed, bounds-checked accessor over a
// guest module's linear memory.
package memview

import (
	"encoding/binary"
	"math"

	"github.com/nmxmxh/wasabi-host/internal/hosterrors"
)

// Provider yields the current raw bytes of the guest's linear memory. It
// is re-queried on every access rather than cached because the guest may
// grow its memory between host-import calls; wasmer-go's
// *wasmer.Memory.Data() satisfies this interface directly.
type Provider interface {
	Bytes() []byte
}

// View is the typed accessor over guest memory: little-endian integer
// reads/writes and the {ptr,len} descriptor reader used for strings and
// byte slices, all bounds-checked against the provider's current
// length.
type View struct {
	provider Provider
}

// New wraps a Provider in a View.
func New(p Provider) *View {
	return &View{provider: p}
}

func (v *View) slice(start, end uint32) ([]byte, error) {
	b := v.provider.Bytes()
	if end < start || uint64(end) > uint64(len(b)) {
		return nil, hosterrors.ErrInvalidAddress
	}
	return b[start:end], nil
}

// I32 reads a little-endian 4-byte signed integer at addr.
func (v *View) I32(addr int32) (int32, error) {
	b, err := v.slice(uint32(addr), uint32(addr)+4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// SetI32 writes val as a little-endian 4-byte signed integer at addr.
func (v *View) SetI32(addr int32, val int32) error {
	b, err := v.slice(uint32(addr), uint32(addr)+4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, uint32(val))
	return nil
}

// U32 reads a little-endian 4-byte unsigned integer at addr.
func (v *View) U32(addr int32) (uint32, error) {
	b, err := v.slice(uint32(addr), uint32(addr)+4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// SetU32 writes val as a little-endian 4-byte unsigned integer at addr.
func (v *View) SetU32(addr int32, val uint32) error {
	b, err := v.slice(uint32(addr), uint32(addr)+4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, val)
	return nil
}

// I64 reads a little-endian 8-byte signed integer at addr.
func (v *View) I64(addr int32) (int64, error) {
	b, err := v.slice(uint32(addr), uint32(addr)+8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// SetI64 writes val as a little-endian 8-byte signed integer at addr.
func (v *View) SetI64(addr int32, val int64) error {
	b, err := v.slice(uint32(addr), uint32(addr)+8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, uint64(val))
	return nil
}

// F64 reads a little-endian IEEE-754 double at addr.
func (v *View) F64(addr int32) (float64, error) {
	b, err := v.slice(uint32(addr), uint32(addr)+8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// SetF64 writes val as a little-endian IEEE-754 double at addr.
func (v *View) SetF64(addr int32, val float64) error {
	b, err := v.slice(uint32(addr), uint32(addr)+8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, math.Float64bits(val))
	return nil
}

// Bool reads a single byte at addr as a boolean (nonzero is true).
func (v *View) Bool(addr int32) (bool, error) {
	b, err := v.slice(uint32(addr), uint32(addr)+1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// SetBool writes a single 0x00/0x01 byte at addr.
func (v *View) SetBool(addr int32, val bool) error {
	b, err := v.slice(uint32(addr), uint32(addr)+1)
	if err != nil {
		return err
	}
	if val {
		b[0] = 0x01
	} else {
		b[0] = 0x00
	}
	return nil
}

// Raw8 reads the raw 8 bytes at addr, used by the tagged-slot codec.
func (v *View) Raw8(addr int32) ([8]byte, error) {
	var out [8]byte
	b, err := v.slice(uint32(addr), uint32(addr)+8)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// SetRaw8 writes 8 raw bytes at addr, used by the tagged-slot codec.
func (v *View) SetRaw8(addr int32, val [8]byte) error {
	b, err := v.slice(uint32(addr), uint32(addr)+8)
	if err != nil {
		return err
	}
	copy(b, val[:])
	return nil
}

// descriptor reads the {ptr:i32, _:i32, len:i64} pair at sp: pointer at
// sp, length at sp+8.
func (v *View) descriptor(sp int32) (ptr int32, length int64, err error) {
	ptr, err = v.I32(sp)
	if err != nil {
		return 0, 0, err
	}
	length, err = v.I64(sp + 8)
	if err != nil {
		return 0, 0, err
	}
	return ptr, length, nil
}

// String reads the UTF-8 string pointed to by the descriptor at sp.
func (v *View) String(sp int32) (string, error) {
	ptr, length, err := v.descriptor(sp)
	if err != nil {
		return "", err
	}
	b, err := v.slice(uint32(ptr), uint32(ptr)+uint32(length))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bytes copies out the byte slice pointed to by the descriptor at sp.
func (v *View) Bytes(sp int32) ([]byte, error) {
	ptr, length, err := v.descriptor(sp)
	if err != nil {
		return nil, err
	}
	b, err := v.slice(uint32(ptr), uint32(ptr)+uint32(length))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Slice returns a bounds-checked window directly into the guest's memory
// (no copy); used when writing host results into guest-owned buffers, e.g.
// readConn or fs.read destinations.
func (v *View) Slice(ptr int32, length int32) ([]byte, error) {
	if length < 0 {
		return nil, hosterrors.ErrInvalidAddress
	}
	return v.slice(uint32(ptr), uint32(ptr)+uint32(length))
}
