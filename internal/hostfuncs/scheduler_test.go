//go:build linux

package hostfuncs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/wasabi-host/internal/diag"
	"github.com/nmxmxh/wasabi-host/internal/jsslab"
	"github.com/nmxmxh/wasabi-host/internal/memview"
	"github.com/nmxmxh/wasabi-host/internal/state"
	"github.com/nmxmxh/wasabi-host/internal/timeoutheap"
)

func newTimeoutHost(t *testing.T) *Host {
	t.Helper()
	st := &state.State{Slab: jsslab.New(), Timeouts: timeoutheap.New()}
	st.SetMemory(memview.New(&fakeMem{buf: make([]byte, 256)}))
	return New(st, diag.New("test"))
}

// TestWasmExitRecordsCode pins the exit path at the import level:
// wasmExit(7) flips Exited and records the code the process exits with.
func TestWasmExitRecordsCode(t *testing.T) {
	h := newTimeoutHost(t)
	mv := h.St.Mem

	const sp = int32(0)
	require.NoError(t, mv.SetI32(sp+8, 7))
	require.NoError(t, h.wasmExit(sp))

	assert.True(t, h.St.Exited)
	assert.EqualValues(t, 7, h.St.ExitCode)
}

func TestScheduleAndClearTimeoutEvent(t *testing.T) {
	h := newTimeoutHost(t)
	mv := h.St.Mem

	const sp = int32(0)
	require.NoError(t, mv.SetI64(sp+8, 0))
	require.NoError(t, h.scheduleTimeoutEvent(sp))

	id, err := mv.I32(sp + 16)
	require.NoError(t, err)

	const sp2 = int32(64)
	require.NoError(t, mv.SetI32(sp2+8, id))
	require.NoError(t, h.clearTimeoutEvent(sp2))

	assert.True(t, h.St.Timeouts.IsEmpty(), "a cleared timeout never resurfaces")
}

func TestWasmWriteSelectsStream(t *testing.T) {
	h := newTimeoutHost(t)
	mv := h.St.Mem

	payload := "hi\n"
	const addr = int32(128)
	buf, err := mv.Slice(addr, int32(len(payload)))
	require.NoError(t, err)
	copy(buf, payload)

	const sp = int32(0)
	require.NoError(t, mv.SetI64(sp+8, 1))
	require.NoError(t, mv.SetI32(sp+16, addr))
	require.NoError(t, mv.SetI64(sp+24, int64(len(payload))))

	written := captureStdout(t, func() {
		require.NoError(t, h.wasmWrite(sp))
	})
	assert.Equal(t, payload, written)
}
