//go:build linux

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/wasabi-host/internal/diag"
	"github.com/nmxmxh/wasabi-host/internal/ioloop"
	"github.com/nmxmxh/wasabi-host/internal/jsslab"
	"github.com/nmxmxh/wasabi-host/internal/state"
	"github.com/nmxmxh/wasabi-host/internal/timeoutheap"
)

// TestEventLoopTerminatesWithSyntheticEvent pins the shutdown order:
// starting with no pending events, no timeouts, and no I/O, the driver
// enqueues exactly one synthetic pending_event{id=0}, delivers it on a
// final resume, and stops.
func TestEventLoopTerminatesWithSyntheticEvent(t *testing.T) {
	io, err := ioloop.New(t.TempDir())
	require.NoError(t, err)
	defer io.Close()

	st := state.New(jsslab.New(), timeoutheap.New(), io)

	var calls int
	var sawSyntheticEvent bool
	entry := func() error {
		calls++
		if calls > 1 {
			pending, ok := st.Slab.ReflectGet(jsslab.HandleThis, "_pendingEvent")
			if !ok || !pending.IsRef {
				return nil
			}
			evt, ok := st.Slab.Get(pending.Num)
			if !ok || evt.Kind != jsslab.KindObject || evt.Name != "pending_event" {
				return nil
			}
			id, ok := st.Slab.ReflectGet(pending.Num, "id")
			if !ok || id.IsRef || id.Num != 0 {
				return nil
			}
			result, ok := st.Slab.ReflectGet(pending.Num, "result")
			if !ok || result != (jsslab.Prop{Num: jsslab.HandleNull, IsRef: true}) {
				return nil
			}
			if _, ok := st.Slab.ReflectGet(pending.Num, "this"); !ok {
				return nil
			}
			argsHandle, ok := st.Slab.ReflectGet(pending.Num, "args")
			if !ok {
				return nil
			}
			n, ok := st.Slab.ValueLength(argsHandle.Num)
			if !ok || n != 0 {
				return nil
			}
			sawSyntheticEvent = true
		}
		return nil
	}

	d := New(st, entry, entry, diag.New("test"))
	require.NoError(t, d.Run())

	assert.Equal(t, 2, calls, "run then exactly one final resume carrying the synthetic event")
	assert.True(t, sawSyntheticEvent, "this._pendingEvent must be a pending_event Object{id:0, result:Null, this:{}, args:[]}")
	assert.True(t, st.Exited)
}

func TestGuestTrapPropagates(t *testing.T) {
	io, err := ioloop.New(t.TempDir())
	require.NoError(t, err)
	defer io.Close()

	st := state.New(jsslab.New(), timeoutheap.New(), io)
	boom := assertError("guest trapped")
	entry := func() error { return boom }

	d := New(st, entry, entry, diag.New("test"))
	err = d.Run()
	require.Error(t, err)
}

type assertError string

func (e assertError) Error() string { return string(e) }

// TestTimerWakesDriverAfterDeadline: the guest schedules a 50 ms timeout
// and yields; the driver sleeps until the deadline and resumes the
// guest, with at least that much wall time gone.
func TestTimerWakesDriverAfterDeadline(t *testing.T) {
	io, err := ioloop.New(t.TempDir())
	require.NoError(t, err)
	defer io.Close()

	st := state.New(jsslab.New(), timeoutheap.New(), io)

	var calls int
	var elapsed time.Duration
	start := time.Now()
	entry := func() error {
		calls++
		switch calls {
		case 1:
			st.Timeouts.Add(50)
		case 2:
			elapsed = time.Since(start)
			st.Exited = true
		}
		return nil
	}

	d := New(st, entry, entry, diag.New("test"))
	require.NoError(t, d.Run())

	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

// TestIOCompletionDeliveredAsPendingEvent pins the driver's blocking
// branch: with no timeouts armed and an operation in flight, the driver
// waits on the response channel instead of declaring the loop exhausted,
// then delivers the completion as this._pendingEvent.
func TestIOCompletionDeliveredAsPendingEvent(t *testing.T) {
	io, err := ioloop.New(t.TempDir())
	require.NoError(t, err)
	defer io.Close()

	st := state.New(jsslab.New(), timeoutheap.New(), io)

	cb := st.Slab.NewObject("wrappedFunc")
	require.NoError(t, st.Slab.AddObjectValue(cb, "id", jsslab.Prop{Num: 7, IsRef: false}))

	const oRdwr, oCreat = 2, 64
	var calls int
	var delivered bool
	var result jsslab.Prop
	entry := func() error {
		calls++
		switch calls {
		case 1:
			st.IO.SubmitOpen(cb, "out.txt", oRdwr|oCreat, 0o644)
		case 2:
			pending, ok := st.Slab.ReflectGet(jsslab.HandleThis, "_pendingEvent")
			if ok && pending.IsRef && pending.Num == cb {
				delivered = true
				result, _ = st.Slab.ReflectGet(cb, "result")
			}
			st.Exited = true
		}
		return nil
	}

	d := New(st, entry, entry, diag.New("test"))
	require.NoError(t, d.Run())

	assert.Equal(t, 2, calls)
	assert.True(t, delivered, "the wrapper object itself is the pending event")
	assert.False(t, result.IsRef, "an open completion carries the unboxed file slab index")
}
