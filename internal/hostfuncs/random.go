package hostfuncs

import "crypto/rand"

// getRandomData fills length bytes of guest memory at ptr from a
// CSPRNG.
func (h *Host) getRandomData(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	ptr, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	length, err := mv.I32(sp + 16)
	if err != nil {
		return err
	}
	dst, err := mv.Slice(ptr, length)
	if err != nil {
		return err
	}
	_, err = rand.Read(dst)
	return err
}
