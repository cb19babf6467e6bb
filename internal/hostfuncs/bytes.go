package hostfuncs

import (
	"fmt"

	"github.com/nmxmxh/wasabi-host/internal/jsslab"
)

func (h *Host) bytesOf(ref int64) ([]byte, error) {
	v, ok := h.St.Slab.Get(ref)
	if !ok || v.Kind != jsslab.KindBytes {
		return nil, fmt.Errorf("hostfuncs: handle %d is not a Bytes value", ref)
	}
	return v.Data, nil
}

// prepareBytes exposes the byte length of a slab Bytes value at sp+16.
// The reference at sp+8 is a raw little-endian i32 slab index, not a
// tagged slot; the guest-side bytes shim passes indices directly.
func (h *Host) prepareBytes(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	ref, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	data, err := h.bytesOf(int64(ref))
	if err != nil {
		return err
	}
	return mv.SetI64(sp+16, int64(len(data)))
}

// loadBytes copies a slab Bytes value's contents into guest memory at ptr.
func (h *Host) loadBytes(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	ref, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	ptr, err := mv.I32(sp + 16)
	if err != nil {
		return err
	}
	length, err := mv.I32(sp + 24)
	if err != nil {
		return err
	}
	data, err := h.bytesOf(int64(ref))
	if err != nil {
		return err
	}
	dst, err := mv.Slice(ptr, length)
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}
