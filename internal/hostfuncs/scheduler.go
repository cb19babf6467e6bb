package hostfuncs

import (
	"os"

	"github.com/nmxmxh/wasabi-host/internal/diag"
)

// debug prints a guest-supplied string descriptor at sp+8 to the host
// log.
func (h *Host) debug(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	msg, err := mv.String(sp + 8)
	if err != nil {
		return err
	}
	h.Log.Debug("guest debug", diag.String("msg", msg))
	return nil
}

// wasmExit marks the instance exited with the guest-requested code; the
// scheduler driver's next pass stops the loop and the process exits with
// that code.
func (h *Host) wasmExit(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	code, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	h.St.Exited = true
	h.St.ExitCode = code
	return nil
}

// wasmWrite prints synchronously to stdout/stderr, distinct from the
// fs.write route in jsops.go.
func (h *Host) wasmWrite(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	fd, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	ptr, err := mv.I32(sp + 16)
	if err != nil {
		return err
	}
	length, err := mv.I64(sp + 24)
	if err != nil {
		return err
	}
	buf, err := mv.Slice(ptr, int32(length))
	if err != nil {
		return err
	}
	out := os.Stdout
	if fd == 2 {
		out = os.Stderr
	}
	_, err = out.Write(buf)
	return err
}

// scheduleTimeoutEvent adds a deadline ms from now and returns its id.
func (h *Host) scheduleTimeoutEvent(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	ms, err := mv.I64(sp + 8)
	if err != nil {
		return err
	}
	id := h.St.Timeouts.Add(ms)
	return mv.SetI32(sp+16, id)
}

// clearTimeoutEvent cancels a previously scheduled timeout.
func (h *Host) clearTimeoutEvent(sp int32) error {
	mv, err := h.mem()
	if err != nil {
		return err
	}
	id, err := mv.I32(sp + 8)
	if err != nil {
		return err
	}
	h.St.Timeouts.Remove(id)
	return nil
}
