// Package hostfuncs implements the host-import dispatch table: every
// import has signature (sp: i32), reading its arguments from the guest's
// linear memory at sp+8, sp+16, ... and writing results back the same
// way. Slot offsets are fixed by the guest toolchain's js/wasm calling
// convention and documented inline per function.
package hostfuncs

import (
	"github.com/nmxmxh/wasabi-host/internal/diag"
	"github.com/nmxmxh/wasabi-host/internal/jsslab"
	"github.com/nmxmxh/wasabi-host/internal/memview"
	"github.com/nmxmxh/wasabi-host/internal/state"
)

// Fn is one host import: sp is the guest stack pointer argument slots are
// read from and results are written to.
type Fn func(sp int32) error

// Host binds the dispatch table to one instance's SharedState. It is the
// receiver for every import in this package.
type Host struct {
	St  *state.State
	Log *diag.Logger
}

// New constructs a Host bound to st.
func New(st *state.State, log *diag.Logger) *Host {
	return &Host{St: st, Log: log}
}

func (h *Host) mem() (*memview.View, error) {
	return h.St.RequireMemory()
}

// Table returns the full (name -> Fn) map registered verbatim at module
// instantiation; the guest links against these exact names.
func (h *Host) Table() map[string]Fn {
	t := map[string]Fn{
		"debug":                        h.debug,
		"runtime.wasmExit":             h.wasmExit,
		"runtime.wasmWrite":            h.wasmWrite,
		"runtime.nanotime":             h.nanotime,
		"runtime.walltime":             h.walltime,
		"runtime.scheduleTimeoutEvent": h.scheduleTimeoutEvent,
		"runtime.clearTimeoutEvent":    h.clearTimeoutEvent,
		"runtime.getRandomData":        h.getRandomData,

		"syscall/js.stringVal":        h.stringVal,
		"syscall/js.valueGet":         h.valueGet,
		"syscall/js.valueSet":         h.valueSet,
		"syscall/js.valueIndex":       h.valueIndex,
		"syscall/js.valueSetIndex":    h.valueSetIndex,
		"syscall/js.valueCall":        h.valueCall,
		"syscall/js.valueNew":         h.valueNew,
		"syscall/js.valueInvoke":      h.valueInvoke,
		"syscall/js.valueLength":      h.valueLength,
		"syscall/js.valueLoadString":  h.valueLoadString,
		"syscall/js.valuePrepareString": h.valuePrepareString,

		"wasm.prepareBytes": h.prepareBytes,
		"wasm.loadBytes":    h.loadBytes,

		"net.listenTCP":     h.listenTCP,
		"net.acceptTcp":     h.acceptTcp,
		"net.dialTcp":       h.dialTcp,
		"net.readConn":      h.readConn,
		"net.writeConn":     h.writeConn,
		"net.shutdownConn":  h.shutdownConn,
		"net.closeConn":     h.closeConn,
		"net.closeListener": h.closeListener,
		"net.localAddr":     h.localAddr,
		"net.remoteAddr":    h.remoteAddr,
		"net.getError":      h.getError,
		"net.lookupIP":      h.lookupIP,
	}
	return t
}

// writeResult stores a tagged value at resultSlot and the success
// boolean one slot later, the result convention of the syscall/js call
// group.
func (h *Host) writeResult(mv *memview.View, resultSlot int32, value jsslab.Prop, ok bool) error {
	if err := mv.SetRaw8(resultSlot, jsslab.StoreValue(value.Num, value.IsRef)); err != nil {
		return err
	}
	return mv.SetBool(resultSlot+8, ok)
}

