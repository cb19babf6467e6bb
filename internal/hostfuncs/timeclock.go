package hostfuncs

import "time"

// nanotime returns nanoseconds since epoch at sp+8 (no inputs, so the
// result takes the first slot).
func (h *Host) nanotime(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	return mv.SetI64(sp+8, time.Now().UnixNano())
}

// walltime returns (secs, nanos) at sp+8/sp+16.
func (h *Host) walltime(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	now := time.Now()
	if err := mv.SetI64(sp+8, now.Unix()); err != nil {
		return err
	}
	return mv.SetI32(sp+16, int32(now.Nanosecond()))
}
